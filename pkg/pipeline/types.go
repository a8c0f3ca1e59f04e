// Package pipeline holds the data model shared by the orchestration engine,
// the status store, and the HTTP control surface: workflow input, status,
// step progress, and batch bookkeeping for the role onboarding pipeline.
package pipeline

import "time"

// DocumentType enumerates the kinds of documents a role onboarding input
// may carry.
type DocumentType string

const (
	DocumentJobDescription DocumentType = "job_description"
	DocumentProcessMap     DocumentType = "process_map"
	DocumentSOP            DocumentType = "sop"
	DocumentOther          DocumentType = "other"
)

// DocumentRef references a document by inline content or a fetchable URI.
// Exactly one of Content or URI should be populated.
type DocumentRef struct {
	Type     DocumentType      `json:"type"`
	URI      string            `json:"uri,omitempty"`
	Content  string            `json:"content,omitempty"`
	Name     string            `json:"name,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// HasUsablePayload reports whether the document carries either inline
// content or a fetchable URI.
func (d DocumentRef) HasUsablePayload() bool {
	return d.Content != "" || d.URI != ""
}

// Options carries per-run behavior flags, defaulting per spec.md §3.
type Options struct {
	SkipEnhancementWorkflows bool `json:"skip_enhancement_workflows"`
	ForceRerun               bool `json:"force_rerun"`
	NotifyOnComplete         bool `json:"notify_on_complete"`
}

// DefaultOptions returns the spec-mandated defaults
// (false, false, true).
func DefaultOptions() Options {
	return Options{
		SkipEnhancementWorkflows: false,
		ForceRerun:               false,
		NotifyOnComplete:         true,
	}
}

// ExecutionContext is propagated to every activity for correlation, and
// mirrors the teacher's api.ExecutionContext shape.
type ExecutionContext struct {
	CompanyID string `json:"company_id"`
	UserID    string `json:"user_id,omitempty"`
	TraceID   string `json:"trace_id"`
}

// RoleOnboardingInput is the immutable input to a single workflow run.
type RoleOnboardingInput struct {
	CompanyID      string            `json:"company_id"`
	RoleName       string            `json:"role_name"`
	Documents      []DocumentRef     `json:"documents,omitempty"`
	DraupRoleID    string            `json:"draup_role_id,omitempty"`
	DraupRoleName  string            `json:"draup_role_name,omitempty"`
	Options        Options           `json:"options"`
	Context        ExecutionContext  `json:"context"`
}

// WorkflowState is the set of states a WorkflowStatus can be in.
type WorkflowState string

const (
	StateQueued          WorkflowState = "queued"
	StateProcessing      WorkflowState = "processing"
	StateReady           WorkflowState = "ready"
	StateFailed          WorkflowState = "failed"
	StateDegraded        WorkflowState = "degraded"
	StateValidationError WorkflowState = "validation_error"
	StateStale           WorkflowState = "stale"
)

// IsTerminal reports whether the state ends the workflow's lifecycle.
func (s WorkflowState) IsTerminal() bool {
	switch s {
	case StateReady, StateFailed, StateDegraded, StateValidationError:
		return true
	default:
		return false
	}
}

// StepStatusValue is the status of an individual step within progress tracking.
type StepStatusValue string

const (
	StepPending   StepStatusValue = "pending"
	StepRunning   StepStatusValue = "running"
	StepCompleted StepStatusValue = "completed"
	StepFailed    StepStatusValue = "failed"
	StepSkipped   StepStatusValue = "skipped"
)

// StepProgress tracks one named step's lifecycle within a workflow's progress.
type StepProgress struct {
	Name         string          `json:"name"`
	Status       StepStatusValue `json:"status"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	DurationMS   int64           `json:"duration_ms"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// Progress aggregates step-level progress for a workflow.
type Progress struct {
	Current int            `json:"current"`
	Total   int            `json:"total"`
	Steps   []StepProgress `json:"steps"`
}

// ErrorDetail is the terminal error carried by a failed/validation_error workflow.
type ErrorDetail struct {
	Code        string `json:"code"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// WorkflowStatus is the mutable, append-only-per-step status of a workflow run.
type WorkflowStatus struct {
	WorkflowID  string        `json:"workflow_id"`
	CompanyID   string        `json:"company_id"`
	RoleName    string        `json:"role_name"`
	State       WorkflowState `json:"state"`
	CurrentStep *string       `json:"current_step"`
	Progress    Progress      `json:"progress"`
	QueuedAt    time.Time     `json:"queued_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	RoleID      string        `json:"role_id,omitempty"`
	Error       *ErrorDetail  `json:"error,omitempty"`
}

// StepResult is the per-activity completion record produced by activities.
type StepResult struct {
	Name       string          `json:"name"`
	Status     StepStatusValue `json:"status"`
	DurationMS int64           `json:"duration_ms"`
	Output     any             `json:"output,omitempty"`
	Error      *ErrorDetail    `json:"error,omitempty"`
}

// BatchRecord is persisted bookkeeping for a batch push: a flat list of
// workflow IDs with no parent workflow (spec.md §9 Batch design note).
type BatchRecord struct {
	BatchID     string    `json:"batch_id"`
	WorkflowIDs []string  `json:"workflow_ids"`
	CompanyID   string    `json:"company_id"`
	CreatedAt   time.Time `json:"created_at"`
	CreatedBy   string    `json:"created_by,omitempty"`
	TotalRoles  int       `json:"total_roles"`
}

// RoleSummary is one role's entry in a computed BatchStatus.
type RoleSummary struct {
	RoleName    string  `json:"role_name"`
	WorkflowID  string  `json:"workflow_id"`
	Status      string  `json:"status"`
	Error       string  `json:"error,omitempty"`
	DashboardURL string `json:"dashboard_url,omitempty"`
}

// BatchState is the rolled-up state of a computed BatchStatus.
type BatchState string

const (
	BatchQueued     BatchState = "queued"
	BatchInProgress BatchState = "in_progress"
	BatchCompleted  BatchState = "completed"
)

// BatchStatus is computed on demand from the referenced WorkflowStatus
// records; it is never persisted.
type BatchStatus struct {
	BatchID         string        `json:"batch_id"`
	CompanyID       string        `json:"company_id"`
	Total           int           `json:"total"`
	Queued          int           `json:"queued"`
	InProgress      int           `json:"in_progress"`
	Completed       int           `json:"completed"`
	Failed          int           `json:"failed"`
	State           BatchState    `json:"state"`
	ProgressPercent float64       `json:"progress_percent"`
	SuccessRate     float64       `json:"success_rate"`
	CreatedAt       time.Time     `json:"created_at"`
	Roles           []RoleSummary `json:"roles"`
}
