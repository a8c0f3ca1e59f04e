package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/draup/onboarding-pipeline/pkg/batch"
	"github.com/draup/onboarding-pipeline/pkg/execution"
	"github.com/draup/onboarding-pipeline/pkg/pipeline"
)

// estimatedDurationSeconds is the spec §6 push-response estimate: the
// overall run timeout's rough median, not a guarantee.
const estimatedDurationSeconds = 600

type pushRequest struct {
	CompanyID     string                  `json:"company_id"`
	RoleName      string                  `json:"role_name"`
	Documents     []pipeline.DocumentRef  `json:"documents"`
	DraupRoleID   string                  `json:"draup_role_id"`
	DraupRoleName string                  `json:"draup_role_name"`
	Options       pipeline.Options        `json:"options"`
}

type pushResponse struct {
	WorkflowID               string `json:"workflow_id"`
	Status                   string `json:"status"`
	EstimatedDurationSeconds int    `json:"estimated_duration_seconds"`
	Message                  string `json:"message"`
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, pipeline.NewValidationError("malformed request body: %v", err))
		return
	}

	input := pipeline.RoleOnboardingInput{
		CompanyID:     req.CompanyID,
		RoleName:      req.RoleName,
		Documents:     req.Documents,
		DraupRoleID:   req.DraupRoleID,
		DraupRoleName: req.DraupRoleName,
		Options:       req.Options,
		Context:       pipeline.ExecutionContext{CompanyID: req.CompanyID, TraceID: uuid.New().String()},
	}

	if perr := s.resolveDocuments(r.Context(), &input); perr != nil {
		writeError(w, perr)
		return
	}
	if perr := pipeline.ValidateInput(input, ""); perr != nil {
		writeError(w, perr)
		return
	}
	engine, perr := s.activeEngine(r.Context())
	if perr != nil {
		writeError(w, perr)
		return
	}

	run, err := engine.StartRun(r.Context(), input)
	if err != nil {
		writeError(w, pipeline.AsPipelineError(err))
		return
	}

	writeJSON(w, http.StatusOK, pushResponse{
		WorkflowID:               run.ID.String(),
		Status:                   string(pipeline.StateQueued),
		EstimatedDurationSeconds: estimatedDurationSeconds,
		Message:                  "workflow queued",
	})
}

// activeEngine selects the durable engine when reachable and falls back to
// the in-process inline engine per spec §4.4's dual-execution mode when it
// isn't. With no inline engine configured, an unreachable durable engine is
// a hard failure.
func (s *Server) activeEngine(ctx context.Context) (execution.Engine, *pipeline.PipelineError) {
	if s.engine.Reachable(ctx) {
		return s.engine, nil
	}
	if s.inline != nil {
		return s.inline, nil
	}
	return nil, pipeline.NewEngineUnreachableError(nil, "orchestration engine is unreachable")
}

// engines lists the engines worth consulting for an existing run, durable
// first since it's authoritative whenever it has a record.
func (s *Server) engines() []execution.Engine {
	if s.inline != nil {
		return []execution.Engine{s.engine, s.inline}
	}
	return []execution.Engine{s.engine}
}

// resolveDocuments fills input.Documents via the document-listing service
// when the caller omitted them, per spec §4.5's auto-resolution contract.
func (s *Server) resolveDocuments(ctx context.Context, input *pipeline.RoleOnboardingInput) *pipeline.PipelineError {
	if pipeline.HasResolvableJobDescription(*input) {
		return nil
	}
	if s.resolver == nil {
		return pipeline.NewValidationError("no job description supplied and document auto-resolution is not configured")
	}
	ref, ok, perr := s.resolver.Resolve(ctx, input.RoleName)
	if perr != nil {
		return perr
	}
	if !ok {
		return pipeline.NewValidationError("no job description document found for role %q", input.RoleName)
	}
	input.Documents = append(input.Documents, ref)
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ws, perr := s.lookupStatus(r.Context(), chi.URLParam(r, "workflow_id"))
	if perr != nil {
		writeError(w, perr)
		return
	}
	writeJSON(w, http.StatusOK, ws)
}

// lookupStatus implements spec §4.5/§9: the engine is authoritative, and an
// engine's status is returned as is, without merging Status Store data into
// it. The Status Store is read only when no engine has a record (e.g. a
// restarted inline engine), and then substitutes. A workflow started inline while the durable
// engine was unreachable only ever exists in the inline engine's memory, so
// both engines are checked before falling back to the store.
func (s *Server) lookupStatus(ctx context.Context, workflowID string) (pipeline.WorkflowStatus, *pipeline.PipelineError) {
	runID, err := uuid.Parse(workflowID)
	if err == nil {
		for _, eng := range s.engines() {
			run, rerr := eng.GetRun(ctx, runID)
			if rerr != nil || run == nil {
				continue
			}
			acts, aerr := eng.GetActivities(ctx, runID)
			if aerr == nil {
				return execution.BuildWorkflowStatus(run, acts), nil
			}
		}
	}

	if s.status != nil {
		if ws, ok := s.status.GetWorkflowStatus(ctx, workflowID); ok {
			return ws, nil
		}
	}

	return pipeline.WorkflowStatus{}, pipeline.NewNotFoundError("workflow %s not found", workflowID)
}

type pushBatchRequest struct {
	CompanyID string                          `json:"company_id"`
	Roles     []pipeline.RoleOnboardingInput  `json:"roles"`
	Options   pipeline.Options                `json:"options"`
	CreatedBy string                          `json:"created_by"`
}

type pushBatchResponse struct {
	BatchID                  string   `json:"batch_id"`
	TotalRoles               int      `json:"total_roles"`
	WorkflowIDs              []string `json:"workflow_ids"`
	Status                   string   `json:"status"`
	EstimatedDurationSeconds int      `json:"estimated_duration_seconds"`
	Message                  string   `json:"message"`
}

func (s *Server) handlePushBatch(w http.ResponseWriter, r *http.Request) {
	var req pushBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, pipeline.NewValidationError("malformed request body: %v", err))
		return
	}
	if len(req.Roles) == 0 {
		writeError(w, pipeline.NewValidationError("%v", batch.ErrEmptyBatch))
		return
	}
	engine, perr := s.activeEngine(r.Context())
	if perr != nil {
		writeError(w, perr)
		return
	}

	var workflowIDs []string
	var failures []string
	for _, role := range req.Roles {
		input := role
		input.CompanyID = req.CompanyID
		if input.Options == (pipeline.Options{}) {
			input.Options = req.Options
		}
		input.Context = pipeline.ExecutionContext{CompanyID: req.CompanyID, TraceID: uuid.New().String()}

		if perr := s.resolveDocuments(r.Context(), &input); perr != nil {
			failures = append(failures, input.RoleName+": "+perr.Message)
			continue
		}
		if perr := pipeline.ValidateInput(input, ""); perr != nil {
			failures = append(failures, input.RoleName+": "+perr.Message)
			continue
		}
		run, err := engine.StartRun(r.Context(), input)
		if err != nil {
			failures = append(failures, input.RoleName+": "+pipeline.AsPipelineError(err).Message)
			continue
		}
		workflowIDs = append(workflowIDs, run.ID.String())
	}

	batchID := batch.NewBatchID()
	if s.status != nil {
		record := pipeline.BatchRecord{
			BatchID:     batchID,
			WorkflowIDs: workflowIDs,
			CompanyID:   req.CompanyID,
			CreatedAt:   time.Now(),
			CreatedBy:   req.CreatedBy,
			TotalRoles:  len(req.Roles),
		}
		if err := s.status.SetBatchRecord(r.Context(), record); err != nil {
			writeError(w, pipeline.NewInternalError(err, "failed to persist batch record"))
			return
		}
	}

	message := "batch queued"
	if len(failures) > 0 {
		message = "batch queued with validation failures: " + joinSemicolon(failures)
	}

	writeJSON(w, http.StatusOK, pushBatchResponse{
		BatchID:                  batchID,
		TotalRoles:               len(req.Roles),
		WorkflowIDs:              workflowIDs,
		Status:                   string(pipeline.StateQueued),
		EstimatedDurationSeconds: estimatedDurationSeconds,
		Message:                  message,
	})
}

func (s *Server) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeError(w, pipeline.NewNotFoundError("batch lookup requires the status store, which is not configured"))
		return
	}
	batchID := chi.URLParam(r, "batch_id")
	record, ok := s.status.GetBatchRecord(r.Context(), batchID)
	if !ok {
		writeError(w, pipeline.NewNotFoundError("batch %s not found", batchID))
		return
	}

	result := batch.Aggregate(r.Context(), record, s.workflowLookup)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) workflowLookup(ctx context.Context, workflowID string) (pipeline.WorkflowStatus, bool) {
	ws, perr := s.lookupStatus(ctx, workflowID)
	if perr != nil {
		return pipeline.WorkflowStatus{}, false
	}
	return ws, true
}

type retryFailedRequest struct {
	WorkflowIDs []string `json:"workflow_ids"`
}

type retryFailedResponse struct {
	WorkflowIDs []string `json:"workflow_ids"`
	Message     string   `json:"message"`
}

func (s *Server) handleRetryFailed(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeError(w, pipeline.NewNotFoundError("batch lookup requires the status store, which is not configured"))
		return
	}
	batchID := chi.URLParam(r, "batch_id")
	record, ok := s.status.GetBatchRecord(r.Context(), batchID)
	if !ok {
		writeError(w, pipeline.NewNotFoundError("batch %s not found", batchID))
		return
	}

	var req retryFailedRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	retryable := batch.FilterRetryable(r.Context(), record.WorkflowIDs, req.WorkflowIDs, s.workflowLookup)

	engine, perr := s.activeEngine(r.Context())
	if perr != nil {
		writeError(w, perr)
		return
	}

	var newIDs []string
	for _, oldID := range retryable {
		oldRunID, err := uuid.Parse(oldID)
		if err != nil {
			continue
		}
		var oldRun *execution.Run
		for _, eng := range s.engines() {
			if r2, rerr := eng.GetRun(r.Context(), oldRunID); rerr == nil && r2 != nil {
				oldRun = r2
				break
			}
		}
		if oldRun == nil {
			continue
		}
		newRun, err := engine.RetryFailedRun(r.Context(), oldRun.CompanyID, oldRun.RoleName)
		if err != nil {
			continue
		}
		newIDs = append(newIDs, newRun.ID.String())
	}

	writeJSON(w, http.StatusOK, retryFailedResponse{
		WorkflowIDs: newIDs,
		Message:     "retried workflows do not carry forward original documents; re-submit via /push when document context matters",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]string{}
	overall := "healthy"

	if s.engine.Reachable(r.Context()) {
		components["engine"] = "reachable"
	} else if s.inline != nil {
		components["engine"] = "unreachable, serving inline"
		overall = "degraded"
	} else {
		components["engine"] = "unreachable"
		overall = "degraded"
	}

	if s.status != nil {
		if err := s.status.Ping(r.Context()); err != nil {
			components["status_store"] = "unreachable"
			if overall == "healthy" {
				overall = "degraded"
			}
		} else {
			components["status_store"] = "reachable"
		}
	} else {
		components["status_store"] = "not_configured"
	}

	status := http.StatusOK
	if overall != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, healthResponse{Status: overall, Components: components, Timestamp: time.Now().UTC()})
}

func (s *Server) handleCompanies(w http.ResponseWriter, r *http.Request) {
	if s.taxonomy == nil {
		writeError(w, pipeline.NewNotFoundError("taxonomy lookup is not configured"))
		return
	}
	companies, perr := s.taxonomy.ListCompanies(r.Context())
	if perr != nil {
		writeError(w, perr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"companies": companies})
}

func (s *Server) handleRoles(w http.ResponseWriter, r *http.Request) {
	if s.taxonomy == nil {
		writeError(w, pipeline.NewNotFoundError("taxonomy lookup is not configured"))
		return
	}
	company := chi.URLParam(r, "company")
	roles, perr := s.taxonomy.ListRoles(r.Context(), company)
	if perr != nil {
		writeError(w, perr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func joinSemicolon(items []string) string {
	out := ""
	for i, item := range items {
		if i > 0 {
			out += "; "
		}
		out += item
	}
	return out
}

// writeError renders a *pipeline.PipelineError as the spec §4.5 envelope,
// choosing an HTTP status from its code.
func writeError(w http.ResponseWriter, perr *pipeline.PipelineError) {
	status := httpStatusFor(perr.Code)
	writeJSON(w, status, errorResponse{Detail: errorDetail{
		Error:       string(envelopeCode(perr.Code)),
		Message:     perr.Message,
		Recoverable: perr.Recoverable,
	}})
}

// envelopeCode narrows the internal error taxonomy to five wire codes:
// VALIDATION_ERROR, NOT_FOUND, ENGINE_UNREACHABLE and INTERNAL_ERROR pass
// through unchanged, and every other code (transient/permanent downstream
// failures included) surfaces to callers as EXECUTION_ERROR, since those
// distinctions only matter to the engine's own retry policy.
func envelopeCode(code pipeline.ErrorCode) pipeline.ErrorCode {
	switch code {
	case pipeline.CodeValidation, pipeline.CodeNotFound, pipeline.CodeEngineUnreach, pipeline.CodeInternal:
		return code
	default:
		return pipeline.CodeExecution
	}
}

func httpStatusFor(code pipeline.ErrorCode) int {
	switch code {
	case pipeline.CodeValidation:
		return http.StatusBadRequest
	case pipeline.CodeNotFound:
		return http.StatusNotFound
	case pipeline.CodeEngineUnreach:
		return http.StatusServiceUnavailable
	case pipeline.CodeTransient:
		return http.StatusServiceUnavailable
	case pipeline.CodePermanent:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
