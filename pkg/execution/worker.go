package execution

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/draup/onboarding-pipeline/internal/metrics"
	"github.com/draup/onboarding-pipeline/pkg/activities"
	"github.com/draup/onboarding-pipeline/pkg/downstream"
	"github.com/draup/onboarding-pipeline/pkg/pipeline"
	"github.com/draup/onboarding-pipeline/pkg/statusstore"
)

// WorkerConfig tunes a Pool's claim/heartbeat/recovery cadence.
type WorkerConfig struct {
	WorkerID                string
	Hostname                string
	MaxConcurrentActivities int
	ClaimInterval           time.Duration
	HeartbeatInterval       time.Duration
	RecoveryInterval        time.Duration
	OrphanTimeout           time.Duration
}

// DefaultWorkerConfig returns sane defaults for a single local worker.
func DefaultWorkerConfig(workerID, hostname string) WorkerConfig {
	return WorkerConfig{
		WorkerID:                workerID,
		Hostname:                hostname,
		MaxConcurrentActivities: 10,
		ClaimInterval:           1 * time.Second,
		HeartbeatInterval:       15 * time.Second,
		RecoveryInterval:        30 * time.Second,
		OrphanTimeout:           2 * time.Minute,
	}
}

// Pool claims queue items from a DurableEngine and drives each run's fixed
// activity sequence (create_company_role -> link_job_description ->
// run_ai_assessment) to completion, persisting attempt/result state and
// best-effort status snapshots as it goes.
type Pool struct {
	engine     *DurableEngine
	activities *activities.Activities
	status     *statusstore.Store
	cfg        WorkerConfig

	mu     sync.Mutex
	active int
	ctx    context.Context
	cancel context.CancelFunc
}

// NewWorkerPool builds a Pool bound to a durable engine and activity set.
// status may be nil: status-store writes are always best-effort.
func NewWorkerPool(engine *DurableEngine, acts *activities.Activities, status *statusstore.Store, cfg WorkerConfig) *Pool {
	return &Pool{engine: engine, activities: acts, status: status, cfg: cfg}
}

// Start registers the worker and runs its claim/heartbeat/recovery loops
// until ctx is cancelled.
func (p *Pool) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	record := &Worker{
		ID:                      p.cfg.WorkerID,
		Hostname:                p.cfg.Hostname,
		Status:                  "online",
		StartedAt:               time.Now(),
		MaxConcurrentActivities: p.cfg.MaxConcurrentActivities,
	}
	if err := p.engine.RegisterWorker(p.ctx, record); err != nil {
		return err
	}
	metrics.ActiveWorkers.Inc()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); p.claimLoop() }()
	go func() { defer wg.Done(); p.heartbeatLoop() }()
	go func() { defer wg.Done(); p.recoveryLoop() }()

	<-p.ctx.Done()
	wg.Wait()

	metrics.ActiveWorkers.Dec()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return p.engine.UnregisterWorker(shutdownCtx, p.cfg.WorkerID)
}

// Stop signals every loop to exit; Start returns once they drain.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
}

func (p *Pool) claimLoop() {
	ticker := time.NewTicker(p.cfg.ClaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.claimAndProcess()
		}
	}
}

func (p *Pool) heartbeatLoop() {
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if err := p.engine.UpdateWorkerHeartbeat(p.ctx, p.cfg.WorkerID); err != nil {
				log.Printf("execution: heartbeat failed for worker %s: %v", p.cfg.WorkerID, err)
			}
		}
	}
}

func (p *Pool) recoveryLoop() {
	ticker := time.NewTicker(p.cfg.RecoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			if err := p.engine.RecoverOrphanedWork(p.ctx, p.cfg.OrphanTimeout); err != nil {
				log.Printf("execution: orphan recovery failed: %v", err)
			}
			if err := p.engine.RecoverFailedRuns(p.ctx); err != nil {
				log.Printf("execution: stuck-run recovery failed: %v", err)
			}
		}
	}
}

func (p *Pool) claimAndProcess() {
	p.mu.Lock()
	capacity := p.cfg.MaxConcurrentActivities - p.active
	p.mu.Unlock()
	if capacity <= 0 {
		return
	}

	items, err := p.engine.ClaimWork(p.ctx, p.cfg.WorkerID, capacity)
	if err != nil {
		log.Printf("execution: claim failed: %v", err)
		return
	}
	metrics.QueueDepth.Set(float64(len(items)))
	for _, item := range items {
		p.mu.Lock()
		p.active++
		p.mu.Unlock()
		go func(item *QueueItem) {
			defer func() {
				p.mu.Lock()
				p.active--
				p.mu.Unlock()
			}()
			p.processQueueItem(item)
		}(item)
	}
}

func (p *Pool) processQueueItem(item *QueueItem) {
	ctx := p.ctx
	switch item.QueueType {
	case QueueStartRun, QueueRetryAct, QueueExecuteAct:
		p.processNextActivity(ctx, item.RunID)
	case QueueCompleteRun:
		// Terminal transitions are applied as soon as the final activity
		// resolves, in recordOutcome; this item type is never enqueued.
	}
	if err := p.engine.CompleteWork(ctx, p.cfg.WorkerID, item.ID); err != nil {
		log.Printf("execution: failed to complete queue item %s: %v", item.ID, err)
	}
}

// processNextActivity loads the run's current activity state and executes
// whichever of the three activities is next pending, in sequence. Each
// activity only ever runs after its predecessors have completed, since the
// sequence is fixed and run_ai_assessment refuses an empty company_role_id.
func (p *Pool) processNextActivity(ctx context.Context, runID uuid.UUID) {
	run, err := p.engine.GetRun(ctx, runID)
	if err != nil || run == nil {
		log.Printf("execution: failed to load run %s: %v", runID, err)
		return
	}
	if run.Status.ToWorkflowState().IsTerminal() {
		return
	}

	if err := p.engine.MarkRunStarted(ctx, runID); err != nil {
		log.Printf("execution: failed to mark run %s started: %v", runID, err)
	}

	createRole, err := p.engine.GetActivityByName(ctx, runID, ActivityCreateCompanyRole)
	if err != nil {
		log.Printf("execution: failed to load create_company_role for run %s: %v", runID, err)
		return
	}
	linkJD, err := p.engine.GetActivityByName(ctx, runID, ActivityLinkJobDescription)
	if err != nil {
		log.Printf("execution: failed to load link_job_description for run %s: %v", runID, err)
		return
	}
	assess, err := p.engine.GetActivityByName(ctx, runID, ActivityRunAIAssessment)
	if err != nil {
		log.Printf("execution: failed to load run_ai_assessment for run %s: %v", runID, err)
		return
	}

	switch {
	case createRole == nil || linkJD == nil || assess == nil:
		log.Printf("execution: run %s is missing an activity row", runID)
		return
	case createRole.Status != ActivityCompleted:
		p.runCreateCompanyRole(ctx, run, createRole)
	case linkJD.Status != ActivityCompleted:
		p.runLinkJobDescription(ctx, run, linkJD)
	case assess.Status != ActivityCompleted:
		p.runAIAssessment(ctx, run, assess)
	default:
		p.finishSuccessfully(ctx, run)
		return
	}

	p.publishStatus(ctx, runID)
}

func (p *Pool) runCreateCompanyRole(ctx context.Context, run *Run, act *Activity) {
	if err := p.engine.MarkActivityRunning(ctx, act.ID); err != nil {
		log.Printf("execution: mark running failed for %s: %v", act.ID, err)
	}
	started := time.Now()
	result := p.activities.CreateCompanyRole(ctx, run.Input)
	p.observeActivity(ActivityCreateCompanyRole, started, result)
	p.recordOutcome(ctx, run, act, ActivityCreateCompanyRole, result)
}

func (p *Pool) runLinkJobDescription(ctx context.Context, run *Run, act *Activity) {
	content, uri, _ := pipeline.ResolveJobDescription(run.Input, "")
	if err := p.engine.MarkActivityRunning(ctx, act.ID); err != nil {
		log.Printf("execution: mark running failed for %s: %v", act.ID, err)
	}
	started := time.Now()
	result := p.activities.LinkJobDescription(ctx, activities.LinkJobDescriptionParams{
		CompanyRoleID: run.RoleID,
		JDContent:     content,
		JDURI:         uri,
		JDTitle:       run.Input.RoleName,
		FormatWithLLM: true,
	})
	p.observeActivity(ActivityLinkJobDescription, started, result)
	p.recordOutcome(ctx, run, act, ActivityLinkJobDescription, result)
}

func (p *Pool) runAIAssessment(ctx context.Context, run *Run, act *Activity) {
	if err := p.engine.MarkActivityRunning(ctx, act.ID); err != nil {
		log.Printf("execution: mark running failed for %s: %v", act.ID, err)
	}
	started := time.Now()
	result := p.activities.RunAIAssessment(ctx, activities.RunAIAssessmentParams{
		CompanyName:    run.Input.Context.CompanyID,
		RoleName:       run.Input.RoleName,
		CompanyRoleID:  run.RoleID,
		DeleteExisting: run.Input.Options.ForceRerun,
		StoreInNeo4j:   true,
	})
	p.observeActivity(ActivityRunAIAssessment, started, result)
	p.recordOutcome(ctx, run, act, ActivityRunAIAssessment, result)
}

// observeActivity records the activity's duration and attempt outcome for
// Prometheus scraping, independent of the durable persistence recordOutcome
// performs.
func (p *Pool) observeActivity(name ActivityName, started time.Time, result pipeline.StepResult) {
	metrics.ActivityDuration.WithLabelValues(string(name)).Observe(time.Since(started).Seconds())
	outcome := "completed"
	if result.Status != pipeline.StepCompleted {
		outcome = "failed"
	}
	metrics.ActivityAttempts.WithLabelValues(string(name), outcome).Inc()
}

// recordOutcome persists an activity's result and decides the run's next
// move: on success it stores role_id (for create_company_role) and enqueues
// the next step; on failure it either requeues with backoff, per the
// activity's RetryPolicy, or fails the run terminally once attempts are
// exhausted or the error is unrecoverable.
func (p *Pool) recordOutcome(ctx context.Context, run *Run, act *Activity, name ActivityName, result pipeline.StepResult) {
	if result.Status == pipeline.StepCompleted {
		output := toOutputMap(result.Output)
		if err := p.engine.RecordActivitySuccess(ctx, act.ID, output); err != nil {
			log.Printf("execution: failed to record success for %s: %v", act.ID, err)
		}
		if created, ok := result.Output.(*downstream.CreateCompanyRoleOutput); ok && created.CompanyRoleID != "" {
			if err := p.engine.SetRunRoleID(ctx, run.ID, created.CompanyRoleID); err != nil {
				log.Printf("execution: failed to set role_id for run %s: %v", run.ID, err)
			}
		}
		p.enqueueContinuation(ctx, run.ID)
		return
	}

	var perr *pipeline.PipelineError
	if result.Error != nil {
		perr = &pipeline.PipelineError{
			Code:        pipeline.ErrorCode(result.Error.Code),
			Message:     result.Error.Message,
			Recoverable: result.Error.Recoverable,
		}
	} else {
		perr = pipeline.NewInternalError(nil, "activity %s failed with no error detail", name)
	}
	if err := p.engine.RecordActivityFailure(ctx, act.ID, perr); err != nil {
		log.Printf("execution: failed to record failure for %s: %v", act.ID, err)
	}

	policy := PolicyFor(name)
	// act was loaded before MarkActivityRunning incremented the stored
	// count, so the attempt that just finished is act.AttemptCount+1.
	if perr.Recoverable && !policy.IsExhausted(act.AttemptCount+1) {
		delay := policy.CalculateRetryDelay(act.AttemptCount)
		if err := p.engine.ResetActivityForRetry(ctx, act.ID); err != nil {
			log.Printf("execution: failed to reset %s for retry: %v", act.ID, err)
		}
		item := &QueueItem{ID: uuid.New(), RunID: run.ID, ActivityID: &act.ID, QueueType: QueueRetryAct, AvailableAt: time.Now().Add(delay)}
		if err := p.engine.EnqueueItem(ctx, item); err != nil {
			log.Printf("execution: failed to requeue %s: %v", act.ID, err)
		}
		return
	}

	// role_setup already succeeded if ai_assessment is what failed terminally,
	// so the role exists downstream even though assessment never finished.
	finalStatus := RunFailed
	if name == ActivityRunAIAssessment {
		finalStatus = RunDegraded
	}
	if err := p.engine.FinishRun(ctx, run.ID, finalStatus, perr); err != nil {
		log.Printf("execution: failed to finish run %s: %v", run.ID, err)
	}
	metrics.RunsCompleted.WithLabelValues(string(finalStatus)).Inc()
	p.publishStatus(ctx, run.ID)
}

func (p *Pool) enqueueContinuation(ctx context.Context, runID uuid.UUID) {
	item := &QueueItem{ID: uuid.New(), RunID: runID, QueueType: QueueExecuteAct, AvailableAt: time.Now()}
	if err := p.engine.EnqueueItem(ctx, item); err != nil {
		log.Printf("execution: failed to enqueue continuation for run %s: %v", runID, err)
	}
}

func (p *Pool) finishSuccessfully(ctx context.Context, run *Run) {
	if err := p.engine.FinishRun(ctx, run.ID, RunReady, nil); err != nil {
		log.Printf("execution: failed to finish run %s: %v", run.ID, err)
	}
	metrics.RunsCompleted.WithLabelValues(string(RunReady)).Inc()
	p.publishStatus(ctx, run.ID)
}

// toOutputMap round-trips an activity's typed output through JSON so it can
// be stored in the Activity.Output column, which persists arbitrary
// downstream response shapes without a schema per activity.
func toOutputMap(v any) map[string]any {
	if v == nil {
		return map[string]any{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{}
	}
	return m
}

// publishStatus writes the current WorkflowStatus to the status store,
// best-effort: the durable engine remains authoritative regardless of
// whether this write succeeds.
func (p *Pool) publishStatus(ctx context.Context, runID uuid.UUID) {
	if p.status == nil {
		return
	}
	run, err := p.engine.GetRun(ctx, runID)
	if err != nil || run == nil {
		return
	}
	acts, err := p.engine.GetActivities(ctx, runID)
	if err != nil {
		return
	}
	status := BuildWorkflowStatus(run, acts)
	if err := p.status.SetWorkflowStatus(ctx, status); err != nil {
		log.Printf("execution: best-effort status write failed for run %s: %v", runID, err)
	}
}
