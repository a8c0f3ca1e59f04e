package execution

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/draup/onboarding-pipeline/pkg/pipeline"
)

// DurableEngine implements durable execution of the RoleOnboarding workflow
// against Postgres: every activity attempt, queue claim, and state
// transition is persisted so the workflow survives process restarts.
type DurableEngine struct {
	db             *sql.DB
	workerID       string
	timeoutSeconds int
}

// NewDurableEngine builds a DurableEngine. workerID identifies this process
// in the workers table for heartbeat/claim bookkeeping.
func NewDurableEngine(db *sql.DB, workerID string, timeoutSeconds int) *DurableEngine {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 2 * 60 * 60 // 2h workflow-execution timeout, spec §4.4/§5.
	}
	return &DurableEngine{db: db, workerID: workerID, timeoutSeconds: timeoutSeconds}
}

// Reachable reports whether the backing Postgres connection currently
// answers a ping; the HTTP layer uses this to pick dual-execution mode.
func (e *DurableEngine) Reachable(ctx context.Context) bool {
	return e.db.PingContext(ctx) == nil
}

// StartRun validates input, persists a new Run row, and enqueues the
// start-run work item. Validation failures never reach the queue: the run
// is persisted directly in validation_error per spec §4.4.
func (e *DurableEngine) StartRun(ctx context.Context, input pipeline.RoleOnboardingInput) (*Run, error) {
	run := &Run{
		ID:             uuid.New(),
		CompanyID:      input.CompanyID,
		RoleName:       input.RoleName,
		Input:          input,
		Status:         RunPending,
		CreatedAt:      time.Now(),
		TimeoutSeconds: e.timeoutSeconds,
	}

	if perr := pipeline.ValidateInput(input, ""); perr != nil {
		run.Status = RunValidErr
		run.ErrorCode = string(perr.Code)
		run.ErrorMessage = perr.Message
		run.ErrorRecoverable = perr.Recoverable
		now := time.Now()
		run.CompletedAt = &now
	}

	inputJSON, err := json.Marshal(run.Input)
	if err != nil {
		return nil, fmt.Errorf("marshal run input: %w", err)
	}

	query := `
		INSERT INTO role_onboarding_runs (
			id, company_id, role_name, input, status, timeout_seconds,
			error_code, error_message, error_recoverable, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	if _, err := e.db.ExecContext(ctx, query,
		run.ID, run.CompanyID, run.RoleName, inputJSON, run.Status, run.TimeoutSeconds,
		run.ErrorCode, run.ErrorMessage, run.ErrorRecoverable, run.CompletedAt); err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}

	if run.Status == RunValidErr {
		return run, nil
	}

	// Activity rows and the start_run queue item must appear together: a
	// worker that claims start_run before the activities commit would find
	// nothing to execute.
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin start-run tx: %w", err)
	}
	defer tx.Rollback()

	if err := e.createActivities(ctx, tx, run.ID); err != nil {
		return nil, fmt.Errorf("create activities: %w", err)
	}

	item := &QueueItem{
		ID:          uuid.New(),
		RunID:       run.ID,
		QueueType:   QueueStartRun,
		AvailableAt: time.Now(),
	}
	if err := e.enqueueItemTx(ctx, tx, item); err != nil {
		return nil, fmt.Errorf("enqueue start_run: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit start-run tx: %w", err)
	}
	return run, nil
}

// GetRun loads a run's current state.
func (e *DurableEngine) GetRun(ctx context.Context, runID uuid.UUID) (*Run, error) {
	query := `
		SELECT id, company_id, role_name, input, status, role_id, created_at,
		       started_at, completed_at, timeout_seconds, error_code,
		       error_message, error_recoverable
		FROM role_onboarding_runs WHERE id = $1`

	var run Run
	var inputJSON []byte
	if err := e.db.QueryRowContext(ctx, query, runID).Scan(
		&run.ID, &run.CompanyID, &run.RoleName, &inputJSON, &run.Status, &run.RoleID,
		&run.CreatedAt, &run.StartedAt, &run.CompletedAt, &run.TimeoutSeconds,
		&run.ErrorCode, &run.ErrorMessage, &run.ErrorRecoverable); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load run: %w", err)
	}
	if len(inputJSON) > 0 {
		json.Unmarshal(inputJSON, &run.Input)
	}
	return &run, nil
}

// GetActivities loads every activity attempt record for a run, ordered by
// sequence, for status-aggregation and engine-history queries.
func (e *DurableEngine) GetActivities(ctx context.Context, runID uuid.UUID) ([]*Activity, error) {
	query := `
		SELECT id, run_id, name, sequence, status, attempt_count, max_attempts,
		       created_at, started_at, completed_at, output, error_code,
		       error_message, error_recoverable
		FROM role_onboarding_activities WHERE run_id = $1 ORDER BY sequence ASC`

	rows, err := e.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("load activities: %w", err)
	}
	defer rows.Close()

	var activities []*Activity
	for rows.Next() {
		var a Activity
		var outputJSON []byte
		if err := rows.Scan(&a.ID, &a.RunID, &a.Name, &a.Sequence, &a.Status, &a.AttemptCount,
			&a.MaxAttempts, &a.CreatedAt, &a.StartedAt, &a.CompletedAt, &outputJSON,
			&a.ErrorCode, &a.ErrorMessage, &a.ErrorRecoverable); err != nil {
			continue
		}
		if len(outputJSON) > 0 {
			json.Unmarshal(outputJSON, &a.Output)
		}
		activities = append(activities, &a)
	}
	return activities, rows.Err()
}

// RetryFailedRun implements /retry-failed: it creates a brand new run with
// the same company_id/role_name rather than resuming the old one, per the
// design note that engine-level retries only cover activity failures — a
// workflow-level failure usually needs fresh input.
func (e *DurableEngine) RetryFailedRun(ctx context.Context, companyID, roleName string) (*Run, error) {
	input := pipeline.RoleOnboardingInput{
		CompanyID: companyID,
		RoleName:  roleName,
		Options:   pipeline.DefaultOptions(),
		Context:   pipeline.ExecutionContext{CompanyID: companyID},
	}
	return e.StartRun(ctx, input)
}

// createActivities inserts the three pending activity rows for a new run in
// sequence order: create_company_role, link_job_description, run_ai_assessment.
func (e *DurableEngine) createActivities(ctx context.Context, tx *sql.Tx, runID uuid.UUID) error {
	names := []ActivityName{ActivityCreateCompanyRole, ActivityLinkJobDescription, ActivityRunAIAssessment}
	for i, name := range names {
		policy := PolicyFor(name)
		query := `
			INSERT INTO role_onboarding_activities (
				id, run_id, name, sequence, status, attempt_count, max_attempts, created_at
			) VALUES ($1, $2, $3, $4, $5, 0, $6, NOW())`
		if _, err := tx.ExecContext(ctx, query, uuid.New(), runID, name, i+1, ActivityPending, policy.MaxAttempts); err != nil {
			return fmt.Errorf("insert activity %s: %w", name, err)
		}
	}
	return nil
}

// ClaimWork claims up to maxItems available queue rows using FOR UPDATE SKIP
// LOCKED, so multiple worker processes never double-process the same item.
func (e *DurableEngine) ClaimWork(ctx context.Context, workerID string, maxItems int) ([]*QueueItem, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback()

	query := `
		SELECT id, run_id, activity_id, queue_type, available_at, created_at, attempt_count
		FROM role_onboarding_queue
		WHERE claimed_by IS NULL AND available_at <= NOW()
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`

	rows, err := tx.QueryContext(ctx, query, maxItems)
	if err != nil {
		return nil, fmt.Errorf("select claimable items: %w", err)
	}

	var items []*QueueItem
	for rows.Next() {
		var item QueueItem
		if err := rows.Scan(&item.ID, &item.RunID, &item.ActivityID, &item.QueueType,
			&item.AvailableAt, &item.CreatedAt, &item.AttemptCount); err != nil {
			continue
		}
		items = append(items, &item)
	}
	rows.Close()

	if len(items) == 0 {
		return items, tx.Commit()
	}

	ids := make([]uuid.UUID, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}

	if _, err := tx.ExecContext(ctx, `UPDATE role_onboarding_queue SET claimed_by = $1, claimed_at = NOW() WHERE id = ANY($2)`, workerID, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("claim items: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	for _, item := range items {
		wid := workerID
		item.ClaimedBy = &wid
	}
	return items, nil
}

// CompleteWork removes a claimed queue item. Callers (the worker pool) are
// responsible for persisting the activity/run state transitions and
// enqueueing follow-on items before calling this; it is the final step of
// processing one QueueItem.
func (e *DurableEngine) CompleteWork(ctx context.Context, workerID string, itemID uuid.UUID) error {
	_, err := e.db.ExecContext(ctx, `DELETE FROM role_onboarding_queue WHERE id = $1 AND claimed_by = $2`, itemID, workerID)
	return err
}

// EnqueueItem schedules a new queue row, e.g. the next activity in sequence
// or a complete_run item, outside of a transaction.
func (e *DurableEngine) EnqueueItem(ctx context.Context, item *QueueItem) error {
	return e.enqueueItem(ctx, item)
}

// GetActivityByName loads the attempt record for one named activity in a run.
func (e *DurableEngine) GetActivityByName(ctx context.Context, runID uuid.UUID, name ActivityName) (*Activity, error) {
	query := `
		SELECT id, run_id, name, sequence, status, attempt_count, max_attempts,
		       created_at, started_at, completed_at, output, error_code,
		       error_message, error_recoverable
		FROM role_onboarding_activities WHERE run_id = $1 AND name = $2`

	var a Activity
	var outputJSON []byte
	if err := e.db.QueryRowContext(ctx, query, runID, name).Scan(&a.ID, &a.RunID, &a.Name, &a.Sequence,
		&a.Status, &a.AttemptCount, &a.MaxAttempts, &a.CreatedAt, &a.StartedAt, &a.CompletedAt,
		&outputJSON, &a.ErrorCode, &a.ErrorMessage, &a.ErrorRecoverable); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("load activity %s: %w", name, err)
	}
	if len(outputJSON) > 0 {
		json.Unmarshal(outputJSON, &a.Output)
	}
	return &a, nil
}

// MarkActivityRunning transitions an activity to running and bumps its
// attempt count, recording the start time on the first attempt.
func (e *DurableEngine) MarkActivityRunning(ctx context.Context, activityID uuid.UUID) error {
	_, err := e.db.ExecContext(ctx, `
		UPDATE role_onboarding_activities
		SET status = $1, attempt_count = attempt_count + 1,
		    started_at = COALESCE(started_at, NOW())
		WHERE id = $2`, ActivityRunning, activityID)
	return err
}

// RecordActivitySuccess marks an activity completed and stores its output.
func (e *DurableEngine) RecordActivitySuccess(ctx context.Context, activityID uuid.UUID, output map[string]any) error {
	outputJSON, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("marshal activity output: %w", err)
	}
	_, err = e.db.ExecContext(ctx, `
		UPDATE role_onboarding_activities
		SET status = $1, completed_at = NOW(), output = $2,
		    error_code = '', error_message = '', error_recoverable = false
		WHERE id = $3`, ActivityCompleted, outputJSON, activityID)
	return err
}

// RecordActivityFailure marks an activity failed (terminally, if perr is
// unrecoverable or attempts are exhausted) and stores the error detail.
func (e *DurableEngine) RecordActivityFailure(ctx context.Context, activityID uuid.UUID, perr *pipeline.PipelineError) error {
	_, err := e.db.ExecContext(ctx, `
		UPDATE role_onboarding_activities
		SET status = $1, completed_at = NOW(),
		    error_code = $2, error_message = $3, error_recoverable = $4
		WHERE id = $5`, ActivityFailed, string(perr.Code), perr.Message, perr.Recoverable, activityID)
	return err
}

// ResetActivityForRetry returns a failed activity to pending so it can be
// reclaimed once its retry delay elapses.
func (e *DurableEngine) ResetActivityForRetry(ctx context.Context, activityID uuid.UUID) error {
	_, err := e.db.ExecContext(ctx, `UPDATE role_onboarding_activities SET status = $1 WHERE id = $2`, ActivityPending, activityID)
	return err
}

// MarkRunStarted records the run's started_at timestamp and transitions it
// to running, the first time any activity begins executing.
func (e *DurableEngine) MarkRunStarted(ctx context.Context, runID uuid.UUID) error {
	_, err := e.db.ExecContext(ctx, `
		UPDATE role_onboarding_runs SET status = $1, started_at = COALESCE(started_at, NOW())
		WHERE id = $2 AND status = $3`, RunRunning, runID, RunPending)
	return err
}

// SetRunRoleID stores the company_role_id produced by create_company_role.
func (e *DurableEngine) SetRunRoleID(ctx context.Context, runID uuid.UUID, roleID string) error {
	_, err := e.db.ExecContext(ctx, `UPDATE role_onboarding_runs SET role_id = $1 WHERE id = $2`, roleID, runID)
	return err
}

// FinishRun transitions a run to one of its terminal states (ready, failed,
// degraded) and records completed_at plus any terminal error detail.
func (e *DurableEngine) FinishRun(ctx context.Context, runID uuid.UUID, status RunStatus, perr *pipeline.PipelineError) error {
	var code, message string
	var recoverable bool
	if perr != nil {
		code, message, recoverable = string(perr.Code), perr.Message, perr.Recoverable
	}
	_, err := e.db.ExecContext(ctx, `
		UPDATE role_onboarding_runs
		SET status = $1, completed_at = NOW(), error_code = $2, error_message = $3, error_recoverable = $4
		WHERE id = $5`, status, code, message, recoverable, runID)
	return err
}

func (e *DurableEngine) enqueueItem(ctx context.Context, item *QueueItem) error {
	query := `
		INSERT INTO role_onboarding_queue (id, run_id, activity_id, queue_type, available_at, attempt_count)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := e.db.ExecContext(ctx, query, item.ID, item.RunID, item.ActivityID, item.QueueType, item.AvailableAt, item.AttemptCount)
	return err
}

func (e *DurableEngine) enqueueItemTx(ctx context.Context, tx *sql.Tx, item *QueueItem) error {
	query := `
		INSERT INTO role_onboarding_queue (id, run_id, activity_id, queue_type, available_at, attempt_count)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := tx.ExecContext(ctx, query, item.ID, item.RunID, item.ActivityID, item.QueueType, item.AvailableAt, item.AttemptCount)
	return err
}

// RecoverOrphanedWork releases queue items whose claimed_at is older than
// timeout, and resets to pending any running activity with an assigned
// worker whose started_at is older than timeout. Worker heartbeats are not
// consulted.
func (e *DurableEngine) RecoverOrphanedWork(ctx context.Context, timeout time.Duration) error {
	seconds := int(timeout.Seconds())

	if _, err := e.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE role_onboarding_queue
		SET claimed_by = NULL, claimed_at = NULL, attempt_count = attempt_count + 1
		WHERE claimed_by IS NOT NULL AND claimed_at < NOW() - INTERVAL '%d seconds'`, seconds)); err != nil {
		return fmt.Errorf("recover orphaned queue items: %w", err)
	}

	if _, err := e.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE role_onboarding_activities
		SET assigned_worker_id = NULL, status = 'pending'
		WHERE assigned_worker_id IS NOT NULL AND status = 'running'
		  AND started_at < NOW() - INTERVAL '%d seconds'`, seconds)); err != nil {
		return fmt.Errorf("recover orphaned activities: %w", err)
	}

	return nil
}

// RecoverFailedRuns requeues runs that were claimed running but whose
// worker heartbeat has gone stale, per spec §4.4's restart-survival guarantee.
func (e *DurableEngine) RecoverFailedRuns(ctx context.Context) error {
	rows, err := e.db.QueryContext(ctx, `
		UPDATE role_onboarding_runs
		SET status = $1, assigned_worker_id = NULL
		WHERE status = $2
		  AND (worker_heartbeat IS NULL OR worker_heartbeat < NOW() - INTERVAL '5 minutes')
		RETURNING id`, RunPending, RunRunning)
	if err != nil {
		return fmt.Errorf("find stuck runs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var runID uuid.UUID
		if err := rows.Scan(&runID); err != nil {
			continue
		}
		item := &QueueItem{ID: uuid.New(), RunID: runID, QueueType: QueueStartRun, AvailableAt: time.Now()}
		if err := e.enqueueItem(ctx, item); err != nil {
			log.Printf("execution: failed to requeue recovered run %s: %v", runID, err)
		}
	}
	return rows.Err()
}

// RegisterWorker upserts this process's worker-pool row.
func (e *DurableEngine) RegisterWorker(ctx context.Context, w *Worker) error {
	query := `
		INSERT INTO role_onboarding_workers (id, hostname, status, last_heartbeat, started_at, max_concurrent_activities)
		VALUES ($1, $2, $3, NOW(), $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			hostname = EXCLUDED.hostname, status = EXCLUDED.status, last_heartbeat = NOW()`
	_, err := e.db.ExecContext(ctx, query, w.ID, w.Hostname, w.Status, w.StartedAt, w.MaxConcurrentActivities)
	return err
}

// UnregisterWorker marks the worker row offline.
func (e *DurableEngine) UnregisterWorker(ctx context.Context, workerID string) error {
	_, err := e.db.ExecContext(ctx, `UPDATE role_onboarding_workers SET status = 'offline' WHERE id = $1`, workerID)
	return err
}

// UpdateWorkerHeartbeat refreshes this worker's last-seen timestamp.
func (e *DurableEngine) UpdateWorkerHeartbeat(ctx context.Context, workerID string) error {
	_, err := e.db.ExecContext(ctx, `UPDATE role_onboarding_workers SET last_heartbeat = NOW() WHERE id = $1`, workerID)
	return err
}
