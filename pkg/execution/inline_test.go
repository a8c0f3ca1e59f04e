package execution

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draup/onboarding-pipeline/pkg/activities"
	"github.com/draup/onboarding-pipeline/pkg/downstream"
	"github.com/draup/onboarding-pipeline/pkg/pipeline"
)

func newTestInlineEngine(t *testing.T, handler http.HandlerFunc) (*InlineEngine, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := downstream.New(downstream.Config{BaseURL: srv.URL, TimeoutSeconds: 5})
	return NewInlineEngine(activities.New(client)), srv
}

func validOnboardingInput() pipeline.RoleOnboardingInput {
	return pipeline.RoleOnboardingInput{
		CompanyID: "acme",
		RoleName:  "Backend Engineer",
		Documents: []pipeline.DocumentRef{{Type: pipeline.DocumentJobDescription, Content: "full jd text"}},
	}
}

func TestInlineEngine_StartRun_Success(t *testing.T) {
	engine, _ := newTestInlineEngine(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/create-company-role":
			json.NewEncoder(w).Encode(downstream.CreateCompanyRoleOutput{CompanyRoleID: "cr-1"})
		case "/link-job-description":
			json.NewEncoder(w).Encode(downstream.LinkJobDescriptionOutput{JDLinked: true, CompanyRoleID: "cr-1"})
		case "/run-ai-assessment":
			json.NewEncoder(w).Encode(downstream.RunAIAssessmentOutput{AIAutomationScore: 0.42})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	run, err := engine.StartRun(context.Background(), validOnboardingInput())
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, RunReady, run.Status)
	assert.Equal(t, "cr-1", run.RoleID)
	assert.NotNil(t, run.CompletedAt)

	acts, err := engine.GetActivities(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, acts, 3)
	for _, a := range acts {
		assert.Equal(t, ActivityCompleted, a.Status)
		assert.Equal(t, 1, a.AttemptCount)
	}
}

func TestInlineEngine_StartRun_FailsOutrightOnFirstActivity(t *testing.T) {
	engine, _ := newTestInlineEngine(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/create-company-role" {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"message":"downstream unavailable"}`))
			return
		}
		t.Fatalf("unexpected request to %s; inline engine must not proceed past a failed first activity", r.URL.Path)
	})

	run, err := engine.StartRun(context.Background(), validOnboardingInput())
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, RunFailed, run.Status)
	assert.NotEmpty(t, run.ErrorMessage)

	acts, err := engine.GetActivities(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, acts, 3)
	assert.Equal(t, ActivityFailed, acts[0].Status)
	assert.Equal(t, ActivityPending, acts[1].Status, "later activities never ran")
	assert.Equal(t, ActivityPending, acts[2].Status)
}

func TestInlineEngine_StartRun_ValidationErrorPersistsATerminalRun(t *testing.T) {
	engine, _ := newTestInlineEngine(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("no downstream request should be made for an input that fails validation")
	})

	run, err := engine.StartRun(context.Background(), pipeline.RoleOnboardingInput{CompanyID: "acme"})
	require.NoError(t, err, "validation failures are persisted as a terminal run, not returned as an error")
	require.NotNil(t, run)
	assert.Equal(t, RunValidErr, run.Status)
	assert.Equal(t, string(pipeline.CodeValidation), run.ErrorCode)

	stored, err := engine.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunValidErr, stored.Status)
}

func TestInlineEngine_GetRun_NotFound(t *testing.T) {
	engine, _ := newTestInlineEngine(t, func(w http.ResponseWriter, r *http.Request) {})

	_, err := engine.GetRun(context.Background(), uuid.New())
	require.Error(t, err)
	perr, ok := err.(*pipeline.PipelineError)
	require.True(t, ok)
	assert.Equal(t, pipeline.CodeNotFound, perr.Code)
}

func TestInlineEngine_Reachable_AlwaysTrue(t *testing.T) {
	engine, _ := newTestInlineEngine(t, func(w http.ResponseWriter, r *http.Request) {})
	assert.True(t, engine.Reachable(context.Background()))
}

func TestInlineEngine_RetryFailedRun_WithoutDocumentsEndsInValidationError(t *testing.T) {
	// RetryFailedRun deliberately never carries the original run's documents
	// forward (handlers.go's retry-failed response says as much), so a retry
	// against the inline engine always lands in validation_error -- the
	// caller is expected to re-submit via /push when document context matters.
	engine, _ := newTestInlineEngine(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("no downstream request should be made without a resolvable job description")
	})

	run, err := engine.RetryFailedRun(context.Background(), "acme", "Backend Engineer")
	require.NoError(t, err)
	assert.Equal(t, RunValidErr, run.Status)
}
