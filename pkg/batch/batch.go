// Package batch implements the batch-push bookkeeping and on-demand
// aggregation of spec §4.5: a BatchRecord is written once at push time and
// never mutated; BatchStatus is always recomputed by fanning out reads over
// the batch's referenced workflows, and is never itself persisted.
package batch

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/draup/onboarding-pipeline/pkg/pipeline"
)

// WorkflowLookup resolves a single workflow's status for aggregation. The
// caller supplies this so batch stays independent of the execution engine
// and status store's concrete types.
type WorkflowLookup func(ctx context.Context, workflowID string) (pipeline.WorkflowStatus, bool)

// NewBatchID mints an opaque batch identifier.
func NewBatchID() string {
	return "batch_" + uuid.New().String()
}

// Aggregate computes a BatchStatus from a persisted BatchRecord by reading
// every referenced workflow's status through lookup. A workflow the lookup
// can't resolve is reported as queued with no error, since a just-pushed
// workflow may not yet have an engine-side or cached record.
func Aggregate(ctx context.Context, record pipeline.BatchRecord, lookup WorkflowLookup) pipeline.BatchStatus {
	status := pipeline.BatchStatus{
		BatchID:   record.BatchID,
		CompanyID: record.CompanyID,
		Total:     len(record.WorkflowIDs),
		CreatedAt: record.CreatedAt,
		Roles:     make([]pipeline.RoleSummary, 0, len(record.WorkflowIDs)),
	}

	for _, workflowID := range record.WorkflowIDs {
		ws, ok := lookup(ctx, workflowID)
		summary := pipeline.RoleSummary{WorkflowID: workflowID}
		if !ok {
			summary.Status = string(pipeline.StateQueued)
			status.Queued++
			status.Roles = append(status.Roles, summary)
			continue
		}

		summary.RoleName = ws.RoleName
		summary.Status = string(ws.State)
		if ws.Error != nil {
			summary.Error = ws.Error.Message
		}
		status.Roles = append(status.Roles, summary)

		switch {
		case ws.State == pipeline.StateReady:
			status.Completed++
		case ws.State == pipeline.StateFailed || ws.State == pipeline.StateDegraded || ws.State == pipeline.StateValidationError:
			status.Failed++
		case ws.State == pipeline.StateQueued:
			status.Queued++
		default:
			status.InProgress++
		}
	}

	status.State = rolledUpState(status)
	if status.Total > 0 {
		finished := status.Completed + status.Failed
		status.ProgressPercent = 100 * float64(finished) / float64(status.Total)
		if finished > 0 {
			status.SuccessRate = 100 * float64(status.Completed) / float64(finished)
		}
	}
	return status
}

func rolledUpState(status pipeline.BatchStatus) pipeline.BatchState {
	finished := status.Completed + status.Failed
	switch {
	case finished == status.Total && status.Total > 0:
		return pipeline.BatchCompleted
	case status.InProgress > 0 || status.Completed > 0 || status.Failed > 0:
		return pipeline.BatchInProgress
	default:
		return pipeline.BatchQueued
	}
}

// FilterRetryable returns the workflow IDs among workflowIDs (or, if
// restrictTo is non-empty, its intersection with workflowIDs) whose status
// resolves to failed or degraded -- the set /retry-failed re-enqueues.
func FilterRetryable(ctx context.Context, workflowIDs []string, restrictTo []string, lookup WorkflowLookup) []string {
	allow := map[string]struct{}{}
	for _, id := range restrictTo {
		allow[id] = struct{}{}
	}

	var retryable []string
	for _, id := range workflowIDs {
		if len(allow) > 0 {
			if _, ok := allow[id]; !ok {
				continue
			}
		}
		ws, ok := lookup(ctx, id)
		if !ok {
			continue
		}
		if ws.State == pipeline.StateFailed || ws.State == pipeline.StateDegraded {
			retryable = append(retryable, id)
		}
	}
	return retryable
}

// ErrEmptyBatch is returned by push-batch validation when no roles are supplied.
var ErrEmptyBatch = fmt.Errorf("batch must contain at least one role")
