package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/draup/onboarding-pipeline/pkg/activities"
	"github.com/draup/onboarding-pipeline/pkg/downstream"
	"github.com/draup/onboarding-pipeline/pkg/pipeline"
)

// InlineEngine is the dual-execution-mode fallback of spec §4.4: it drives
// the fixed activity sequence by direct, synchronous, in-process
// invocation, sharing the same Activities contract as the durable engine.
// It never retries and never survives a process restart — every run lives
// only in this engine's memory, and the first activity failure marks the
// whole run failed.
type InlineEngine struct {
	activities *activities.Activities

	mu   sync.RWMutex
	runs map[uuid.UUID]*inlineRun
}

type inlineRun struct {
	run  *Run
	acts []*Activity
}

// NewInlineEngine builds an InlineEngine around the shared Activities set.
func NewInlineEngine(acts *activities.Activities) *InlineEngine {
	return &InlineEngine{
		activities: acts,
		runs:       make(map[uuid.UUID]*inlineRun),
	}
}

// Reachable always reports true: the inline engine has no external
// dependency to be unreachable from, it only ever fails its own runs.
func (e *InlineEngine) Reachable(ctx context.Context) bool { return true }

// StartRun executes role_setup then ai_assessment synchronously, in the
// calling goroutine, and returns only once the run has reached a terminal
// state. There is no queue, no worker pool, and no suspension between
// activities.
func (e *InlineEngine) StartRun(ctx context.Context, input pipeline.RoleOnboardingInput) (*Run, error) {
	now := time.Now()
	run := &Run{
		ID:             uuid.New(),
		CompanyID:      input.CompanyID,
		RoleName:       input.RoleName,
		Input:          input,
		Status:         RunRunning,
		CreatedAt:      now,
		StartedAt:      &now,
		TimeoutSeconds: 7200,
	}
	acts := []*Activity{
		newInlineActivity(run.ID, ActivityCreateCompanyRole, 0),
		newInlineActivity(run.ID, ActivityLinkJobDescription, 1),
		newInlineActivity(run.ID, ActivityRunAIAssessment, 2),
	}

	// Validation failures are persisted as a terminal run, matching
	// DurableEngine.StartRun, rather than returned as a bare error: a run
	// record must exist for every workflow_id callers receive.
	if perr := pipeline.ValidateInput(input, ""); perr != nil {
		run.Status = RunValidErr
		run.ErrorCode = string(perr.Code)
		run.ErrorMessage = perr.Message
		run.ErrorRecoverable = perr.Recoverable
		run.CompletedAt = &now

		e.mu.Lock()
		e.runs[run.ID] = &inlineRun{run: run, acts: acts}
		e.mu.Unlock()
		return run, nil
	}

	e.mu.Lock()
	e.runs[run.ID] = &inlineRun{run: run, acts: acts}
	e.mu.Unlock()

	e.runActivity(ctx, run, acts[0], func(ctx context.Context) pipeline.StepResult {
		return e.activities.CreateCompanyRole(ctx, input)
	})
	if run.Status == RunFailed {
		return run, nil
	}

	content, uri, _ := pipeline.ResolveJobDescription(input, "")
	e.runActivity(ctx, run, acts[1], func(ctx context.Context) pipeline.StepResult {
		return e.activities.LinkJobDescription(ctx, activities.LinkJobDescriptionParams{
			CompanyRoleID: run.RoleID,
			JDContent:     content,
			JDURI:         uri,
			JDTitle:       input.RoleName,
			FormatWithLLM: true,
		})
	})
	if run.Status == RunFailed {
		return run, nil
	}

	e.runActivity(ctx, run, acts[2], func(ctx context.Context) pipeline.StepResult {
		return e.activities.RunAIAssessment(ctx, activities.RunAIAssessmentParams{
			CompanyName:    input.Context.CompanyID,
			RoleName:       input.RoleName,
			CompanyRoleID:  run.RoleID,
			DeleteExisting: input.Options.ForceRerun,
			StoreInNeo4j:   true,
		})
	})
	if run.Status != RunFailed {
		completed := time.Now()
		run.Status = RunReady
		run.CompletedAt = &completed
	}
	return run, nil
}

// runActivity invokes one activity to completion. Unlike the durable
// engine, a failure here is terminal: no retry, no backoff, the run is
// marked failed immediately (the ai_assessment-only degraded state does not
// apply to the inline mode, since per spec §4.4 it must fail outright).
func (e *InlineEngine) runActivity(ctx context.Context, run *Run, act *Activity, fn func(context.Context) pipeline.StepResult) {
	started := time.Now()
	act.Status = ActivityRunning
	act.StartedAt = &started
	act.AttemptCount = 1

	result := fn(ctx)
	completed := time.Now()
	act.CompletedAt = &completed

	if result.Status == pipeline.StepCompleted {
		act.Status = ActivityCompleted
		act.Output = toOutputMap(result.Output)
		if act.Name == ActivityCreateCompanyRole {
			if created, ok := result.Output.(*downstream.CreateCompanyRoleOutput); ok && created.CompanyRoleID != "" {
				run.RoleID = created.CompanyRoleID
			}
		}
		return
	}

	act.Status = ActivityFailed
	var perr *pipeline.PipelineError
	if result.Error != nil {
		perr = &pipeline.PipelineError{Code: pipeline.ErrorCode(result.Error.Code), Message: result.Error.Message, Recoverable: result.Error.Recoverable}
	} else {
		perr = pipeline.NewInternalError(fmt.Errorf("activity %s failed with no error detail", act.Name), "activity failed")
	}
	act.ErrorCode = string(perr.Code)
	act.ErrorMessage = perr.Message
	act.ErrorRecoverable = perr.Recoverable

	run.Status = RunFailed
	run.CompletedAt = &completed
	run.ErrorCode = perr.Detail().Code
	run.ErrorMessage = perr.Detail().Message
	run.ErrorRecoverable = perr.Detail().Recoverable
}

func newInlineActivity(runID uuid.UUID, name ActivityName, sequence int) *Activity {
	return &Activity{
		ID:          uuid.New(),
		RunID:       runID,
		Name:        name,
		Sequence:    sequence,
		Status:      ActivityPending,
		MaxAttempts: 1,
		CreatedAt:   time.Now(),
	}
}

// GetRun returns the in-memory run record.
func (e *InlineEngine) GetRun(ctx context.Context, runID uuid.UUID) (*Run, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.runs[runID]
	if !ok {
		return nil, pipeline.NewNotFoundError("run %s not found", runID)
	}
	return r.run, nil
}

// GetActivities returns the in-memory activity records for a run.
func (e *InlineEngine) GetActivities(ctx context.Context, runID uuid.UUID) ([]*Activity, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	r, ok := e.runs[runID]
	if !ok {
		return nil, pipeline.NewNotFoundError("run %s not found", runID)
	}
	return r.acts, nil
}

// RetryFailedRun re-executes the role synchronously as a brand-new run.
// There is no queue to re-enqueue onto in inline mode.
func (e *InlineEngine) RetryFailedRun(ctx context.Context, companyID, roleName string) (*Run, error) {
	return e.StartRun(ctx, pipeline.RoleOnboardingInput{
		CompanyID: companyID,
		RoleName:  roleName,
		Context:   pipeline.ExecutionContext{CompanyID: companyID},
	})
}
