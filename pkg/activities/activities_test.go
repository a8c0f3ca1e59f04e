package activities

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draup/onboarding-pipeline/pkg/downstream"
	"github.com/draup/onboarding-pipeline/pkg/pipeline"
)

func newTestActivities(t *testing.T, handler http.HandlerFunc) *Activities {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(downstream.New(downstream.Config{BaseURL: srv.URL, TimeoutSeconds: 5}))
}

func TestCreateCompanyRole_ReturnsCompletedStepResult(t *testing.T) {
	acts := newTestActivities(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(downstream.CreateCompanyRoleOutput{CompanyRoleID: "cr-1"})
	})

	result := acts.CreateCompanyRole(context.Background(), pipeline.RoleOnboardingInput{CompanyID: "acme", RoleName: "Backend Engineer"})
	assert.Equal(t, pipeline.StepCompleted, result.Status)
	assert.Equal(t, string(CreateCompanyRole), result.Name)
	require.IsType(t, &downstream.CreateCompanyRoleOutput{}, result.Output)
	assert.Equal(t, "cr-1", result.Output.(*downstream.CreateCompanyRoleOutput).CompanyRoleID)
	assert.Nil(t, result.Error)
}

func TestCreateCompanyRole_DownstreamFailureReturnsFailedStepResult(t *testing.T) {
	acts := newTestActivities(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	result := acts.CreateCompanyRole(context.Background(), pipeline.RoleOnboardingInput{CompanyID: "acme", RoleName: "x"})
	assert.Equal(t, pipeline.StepFailed, result.Status)
	require.NotNil(t, result.Error)
	assert.Equal(t, string(pipeline.CodeTransient), result.Error.Code)
	assert.True(t, result.Error.Recoverable)
}

func TestLinkJobDescription_RejectsEmptyCompanyRoleIDWithoutCallingDownstream(t *testing.T) {
	acts := newTestActivities(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("downstream must not be called when company_role_id is empty")
	})

	result := acts.LinkJobDescription(context.Background(), LinkJobDescriptionParams{JDContent: "jd"})
	assert.Equal(t, pipeline.StepFailed, result.Status)
	require.NotNil(t, result.Error)
	assert.Equal(t, string(pipeline.CodeValidation), result.Error.Code)
}

func TestLinkJobDescription_Success(t *testing.T) {
	acts := newTestActivities(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(downstream.LinkJobDescriptionOutput{JDLinked: true, CompanyRoleID: "cr-1"})
	})

	result := acts.LinkJobDescription(context.Background(), LinkJobDescriptionParams{CompanyRoleID: "cr-1", JDContent: "jd text"})
	assert.Equal(t, pipeline.StepCompleted, result.Status)
}

func TestRunAIAssessment_RejectsMissingCompanyRoleID(t *testing.T) {
	acts := newTestActivities(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("downstream must not be called before role_setup completed")
	})

	result := acts.RunAIAssessment(context.Background(), RunAIAssessmentParams{RoleName: "Backend Engineer"})
	assert.Equal(t, pipeline.StepFailed, result.Status)
	require.NotNil(t, result.Error)
	assert.Equal(t, string(pipeline.CodeValidation), result.Error.Code)
}

func TestRunAIAssessment_Success(t *testing.T) {
	acts := newTestActivities(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(downstream.RunAIAssessmentOutput{AIAutomationScore: 0.55})
	})

	result := acts.RunAIAssessment(context.Background(), RunAIAssessmentParams{CompanyRoleID: "cr-1", RoleName: "Backend Engineer"})
	assert.Equal(t, pipeline.StepCompleted, result.Status)
	assert.Equal(t, string(RunAIAssessment), result.Name)
}
