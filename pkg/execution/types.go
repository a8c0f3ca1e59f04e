// Package execution implements the RoleOnboarding workflow's durable
// execution substrate: a Postgres-backed run/activity/queue model with a
// worker pool that claims work with FOR UPDATE SKIP LOCKED, alongside an
// in-process inline scheduler for local development without a database.
package execution

import (
	"context"
	"time"

	"github.com/draup/onboarding-pipeline/pkg/pipeline"
	"github.com/google/uuid"
)

// RunStatus is the durable-execution engine's internal run status. It
// tracks engine bookkeeping (pending/running/paused) in addition to the
// terminal states surfaced through pipeline.WorkflowState.
type RunStatus string

const (
	RunPending  RunStatus = "pending"
	RunRunning  RunStatus = "running"
	RunPaused   RunStatus = "paused"
	RunReady    RunStatus = "ready"
	RunFailed   RunStatus = "failed"
	RunDegraded RunStatus = "degraded"
	RunValidErr RunStatus = "validation_error"
	RunStale    RunStatus = "stale"
)

// ToWorkflowState maps the engine-internal status to the wire-level
// pipeline.WorkflowState.
func (s RunStatus) ToWorkflowState() pipeline.WorkflowState {
	switch s {
	case RunPending:
		return pipeline.StateQueued
	case RunRunning, RunPaused:
		return pipeline.StateProcessing
	case RunReady:
		return pipeline.StateReady
	case RunFailed:
		return pipeline.StateFailed
	case RunDegraded:
		return pipeline.StateDegraded
	case RunValidErr:
		return pipeline.StateValidationError
	case RunStale:
		return pipeline.StateStale
	default:
		return pipeline.StateProcessing
	}
}

// ActivityName identifies one of the three atomic activities in spec §4.3.
type ActivityName string

const (
	ActivityCreateCompanyRole  ActivityName = "create_company_role"
	ActivityLinkJobDescription ActivityName = "link_job_description"
	ActivityRunAIAssessment    ActivityName = "run_ai_assessment"
)

// StepName identifies one of the two composed steps exposed in
// progress.total: role_setup groups create_company_role and
// link_job_description; ai_assessment is a single activity.
type StepName string

const (
	StepRoleSetup    StepName = "role_setup"
	StepAIAssessment StepName = "ai_assessment"
)

// StepForActivity returns the composed step an activity belongs to.
func StepForActivity(a ActivityName) StepName {
	if a == ActivityRunAIAssessment {
		return StepAIAssessment
	}
	return StepRoleSetup
}

// ActivityStatus is the lifecycle of a single activity attempt record.
type ActivityStatus string

const (
	ActivityPending   ActivityStatus = "pending"
	ActivityRunning   ActivityStatus = "running"
	ActivityCompleted ActivityStatus = "completed"
	ActivityFailed    ActivityStatus = "failed"
	ActivitySkipped   ActivityStatus = "skipped"
)

// Run is the durable record of one RoleOnboarding workflow execution.
type Run struct {
	ID               uuid.UUID                    `json:"id" db:"id"`
	CompanyID        string                       `json:"company_id" db:"company_id"`
	RoleName         string                       `json:"role_name" db:"role_name"`
	Input            pipeline.RoleOnboardingInput `json:"input" db:"input"`
	Status           RunStatus                    `json:"status" db:"status"`
	RoleID           string                       `json:"role_id,omitempty" db:"role_id"`
	CreatedAt        time.Time                    `json:"created_at" db:"created_at"`
	StartedAt        *time.Time                   `json:"started_at,omitempty" db:"started_at"`
	CompletedAt      *time.Time                   `json:"completed_at,omitempty" db:"completed_at"`
	TimeoutSeconds   int                          `json:"timeout_seconds" db:"timeout_seconds"`
	ErrorCode        string                       `json:"error_code,omitempty" db:"error_code"`
	ErrorMessage     string                       `json:"error_message,omitempty" db:"error_message"`
	ErrorRecoverable bool                         `json:"error_recoverable" db:"error_recoverable"`
	AssignedWorkerID *string                      `json:"assigned_worker_id,omitempty" db:"assigned_worker_id"`
	WorkerHeartbeat  *time.Time                   `json:"worker_heartbeat,omitempty" db:"worker_heartbeat"`
}

// Activity is a single attempt-tracked execution of one ActivityName within a run.
type Activity struct {
	ID               uuid.UUID      `json:"id" db:"id"`
	RunID            uuid.UUID      `json:"run_id" db:"run_id"`
	Name             ActivityName   `json:"name" db:"name"`
	Sequence         int            `json:"sequence" db:"sequence"`
	Status           ActivityStatus `json:"status" db:"status"`
	AttemptCount     int            `json:"attempt_count" db:"attempt_count"`
	MaxAttempts      int            `json:"max_attempts" db:"max_attempts"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
	StartedAt        *time.Time     `json:"started_at,omitempty" db:"started_at"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty" db:"completed_at"`
	NextRetryAt      *time.Time     `json:"next_retry_at,omitempty" db:"next_retry_at"`
	Output           map[string]any `json:"output,omitempty" db:"output"`
	ErrorCode        string         `json:"error_code,omitempty" db:"error_code"`
	ErrorMessage     string         `json:"error_message,omitempty" db:"error_message"`
	ErrorRecoverable bool           `json:"error_recoverable" db:"error_recoverable"`
	AssignedWorkerID *string        `json:"assigned_worker_id,omitempty" db:"assigned_worker_id"`
}

// Worker is a registered worker-pool member, mirroring the claim/heartbeat
// bookkeeping the engine needs to detect and recover orphaned work.
type Worker struct {
	ID                      string    `json:"id" db:"id"`
	Hostname                string    `json:"hostname" db:"hostname"`
	Status                  string    `json:"status" db:"status"`
	LastHeartbeat           time.Time `json:"last_heartbeat" db:"last_heartbeat"`
	StartedAt               time.Time `json:"started_at" db:"started_at"`
	MaxConcurrentActivities int       `json:"max_concurrent_activities" db:"max_concurrent_activities"`
	CurrentActivityCount    int       `json:"current_activity_count" db:"current_activity_count"`
}

// RetryPolicy governs per-activity retry/backoff, per spec §4.3's table.
type RetryPolicy struct {
	MaxAttempts       int
	BackoffMultiplier float64
	InitialDelayMS    int64
	MaxDelayMS        int64
	OverallTimeout    time.Duration
}

// PolicyFor returns the retry policy mandated for the given activity. Every
// activity in this fixed pipeline has an explicit policy; any other name
// gets a single-attempt fallback policy.
func PolicyFor(name ActivityName) RetryPolicy {
	switch name {
	case ActivityCreateCompanyRole, ActivityLinkJobDescription:
		return RetryPolicy{
			MaxAttempts:       3,
			BackoffMultiplier: 2.0,
			InitialDelayMS:    2000,
			MaxDelayMS:        30000,
			OverallTimeout:    5 * time.Minute,
		}
	case ActivityRunAIAssessment:
		return RetryPolicy{
			MaxAttempts:       5,
			BackoffMultiplier: 2.0,
			InitialDelayMS:    5000,
			MaxDelayMS:        10 * 60 * 1000,
			OverallTimeout:    30 * time.Minute,
		}
	default:
		return RetryPolicy{MaxAttempts: 1, BackoffMultiplier: 2.0, InitialDelayMS: 1000, MaxDelayMS: 30000, OverallTimeout: 5 * time.Minute}
	}
}

// CalculateRetryDelay returns the exponential backoff delay before the
// attempt numbered attemptCount (0-based), capped at MaxDelayMS.
func (rp RetryPolicy) CalculateRetryDelay(attemptCount int) time.Duration {
	if attemptCount <= 0 {
		return time.Duration(rp.InitialDelayMS) * time.Millisecond
	}
	delayMS := float64(rp.InitialDelayMS)
	for i := 0; i < attemptCount; i++ {
		delayMS *= rp.BackoffMultiplier
	}
	if delayMS > float64(rp.MaxDelayMS) {
		delayMS = float64(rp.MaxDelayMS)
	}
	return time.Duration(delayMS) * time.Millisecond
}

// IsExhausted reports whether attemptCount has used up the policy's budget.
func (rp RetryPolicy) IsExhausted(attemptCount int) bool {
	return attemptCount >= rp.MaxAttempts
}

// Engine is the interface both the durable (Postgres) and inline
// (in-process) execution modes satisfy, so the HTTP layer and the workflow
// definition never branch on which is in effect (dual execution mode).
type Engine interface {
	StartRun(ctx context.Context, input pipeline.RoleOnboardingInput) (*Run, error)
	GetRun(ctx context.Context, runID uuid.UUID) (*Run, error)
	GetActivities(ctx context.Context, runID uuid.UUID) ([]*Activity, error)
	RetryFailedRun(ctx context.Context, companyID, roleName string) (*Run, error)
	Reachable(ctx context.Context) bool
}

// QueueType distinguishes the kinds of work items the durable engine's
// queue table carries.
type QueueType string

const (
	QueueStartRun    QueueType = "start_run"
	QueueExecuteAct  QueueType = "execute_activity"
	QueueRetryAct    QueueType = "retry_activity"
	QueueCompleteRun QueueType = "complete_run"
)

// QueueItem is one claimable row in the durable work queue.
type QueueItem struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	RunID        uuid.UUID  `json:"run_id" db:"run_id"`
	ActivityID   *uuid.UUID `json:"activity_id,omitempty" db:"activity_id"`
	QueueType    QueueType  `json:"queue_type" db:"queue_type"`
	AvailableAt  time.Time  `json:"available_at" db:"available_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	ClaimedAt    *time.Time `json:"claimed_at,omitempty" db:"claimed_at"`
	ClaimedBy    *string    `json:"claimed_by,omitempty" db:"claimed_by"`
	AttemptCount int        `json:"attempt_count" db:"attempt_count"`
}

// WorkResult is what a worker reports back after processing a QueueItem.
type WorkResult struct {
	Success     bool
	Err         *pipeline.PipelineError
	Output      map[string]any
	ShouldRetry bool
	RetryDelay  time.Duration
}
