package batch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draup/onboarding-pipeline/pkg/pipeline"
)

func lookupFromMap(statuses map[string]pipeline.WorkflowStatus) WorkflowLookup {
	return func(ctx context.Context, workflowID string) (pipeline.WorkflowStatus, bool) {
		ws, ok := statuses[workflowID]
		return ws, ok
	}
}

func TestNewBatchID_HasStablePrefix(t *testing.T) {
	id := NewBatchID()
	assert.Regexp(t, `^batch_[0-9a-f-]{36}$`, id)
	assert.NotEqual(t, id, NewBatchID())
}

func TestAggregate_MixedStates(t *testing.T) {
	record := pipeline.BatchRecord{
		BatchID:     "batch_1",
		CompanyID:   "acme",
		WorkflowIDs: []string{"wf-1", "wf-2", "wf-3", "wf-4", "wf-unknown"},
		CreatedAt:   time.Now(),
	}
	statuses := map[string]pipeline.WorkflowStatus{
		"wf-1": {RoleName: "Backend Engineer", State: pipeline.StateReady},
		"wf-2": {RoleName: "Data Scientist", State: pipeline.StateFailed, Error: &pipeline.ErrorDetail{Message: "downstream rejected"}},
		"wf-3": {RoleName: "SRE", State: pipeline.StateProcessing},
		"wf-4": {RoleName: "PM", State: pipeline.StateQueued},
	}

	status := Aggregate(context.Background(), record, lookupFromMap(statuses))

	assert.Equal(t, 5, status.Total)
	assert.Equal(t, 1, status.Completed)
	assert.Equal(t, 1, status.Failed)
	assert.Equal(t, 1, status.InProgress)
	assert.Equal(t, 2, status.Queued, "wf-4 is queued and wf-unknown defaults to queued")
	assert.Equal(t, pipeline.BatchInProgress, status.State)
	assert.InDelta(t, 40.0, status.ProgressPercent, 0.01) // 2 of 5 finished
	assert.InDelta(t, 50.0, status.SuccessRate, 0.01)     // 1 of 2 finished succeeded

	require.Len(t, status.Roles, 5)
	for _, r := range status.Roles {
		if r.WorkflowID == "wf-2" {
			assert.Equal(t, "downstream rejected", r.Error)
		}
	}
}

func TestAggregate_AllCompleted(t *testing.T) {
	record := pipeline.BatchRecord{
		BatchID:     "batch_done",
		WorkflowIDs: []string{"wf-1", "wf-2"},
	}
	statuses := map[string]pipeline.WorkflowStatus{
		"wf-1": {State: pipeline.StateReady},
		"wf-2": {State: pipeline.StateReady},
	}

	status := Aggregate(context.Background(), record, lookupFromMap(statuses))

	assert.Equal(t, pipeline.BatchCompleted, status.State)
	assert.Equal(t, 100.0, status.ProgressPercent)
	assert.Equal(t, 100.0, status.SuccessRate)
}

func TestAggregate_EmptyBatchIsQueued(t *testing.T) {
	status := Aggregate(context.Background(), pipeline.BatchRecord{BatchID: "batch_empty"}, lookupFromMap(nil))
	assert.Equal(t, pipeline.BatchQueued, status.State)
	assert.Equal(t, 0, status.Total)
	assert.Zero(t, status.ProgressPercent)
}

func TestAggregate_AllUnresolvedIsQueued(t *testing.T) {
	record := pipeline.BatchRecord{BatchID: "batch_fresh", WorkflowIDs: []string{"wf-a", "wf-b"}}
	status := Aggregate(context.Background(), record, lookupFromMap(nil))
	assert.Equal(t, pipeline.BatchQueued, status.State)
	assert.Equal(t, 2, status.Queued)
}

func TestFilterRetryable_OnlyFailedAndDegraded(t *testing.T) {
	statuses := map[string]pipeline.WorkflowStatus{
		"wf-1": {State: pipeline.StateFailed},
		"wf-2": {State: pipeline.StateReady},
		"wf-3": {State: pipeline.StateDegraded},
		"wf-4": {State: pipeline.StateProcessing},
	}
	ids := []string{"wf-1", "wf-2", "wf-3", "wf-4"}

	retryable := FilterRetryable(context.Background(), ids, nil, lookupFromMap(statuses))
	assert.ElementsMatch(t, []string{"wf-1", "wf-3"}, retryable)
}

func TestFilterRetryable_RestrictToIntersects(t *testing.T) {
	statuses := map[string]pipeline.WorkflowStatus{
		"wf-1": {State: pipeline.StateFailed},
		"wf-2": {State: pipeline.StateFailed},
	}
	ids := []string{"wf-1", "wf-2"}

	retryable := FilterRetryable(context.Background(), ids, []string{"wf-2"}, lookupFromMap(statuses))
	assert.Equal(t, []string{"wf-2"}, retryable)
}

func TestFilterRetryable_UnresolvableIDsAreSkipped(t *testing.T) {
	retryable := FilterRetryable(context.Background(), []string{"wf-missing"}, nil, lookupFromMap(nil))
	assert.Empty(t, retryable)
}
