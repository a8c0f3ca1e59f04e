package execution

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draup/onboarding-pipeline/pkg/pipeline"
)

func newActivity(name ActivityName, sequence int, status ActivityStatus) *Activity {
	return &Activity{
		ID:       uuid.New(),
		Name:     name,
		Sequence: sequence,
		Status:   status,
	}
}

func TestBuildWorkflowStatus_InProgress(t *testing.T) {
	run := &Run{
		ID:        uuid.New(),
		CompanyID: "acme",
		RoleName:  "Backend Engineer",
		Status:    RunRunning,
		CreatedAt: time.Now(),
	}
	started := time.Now()
	createRole := newActivity(ActivityCreateCompanyRole, 0, ActivityCompleted)
	createRole.StartedAt = &started
	createRole.CompletedAt = &started
	linkJD := newActivity(ActivityLinkJobDescription, 1, ActivityRunning)
	linkJD.StartedAt = &started
	assessment := newActivity(ActivityRunAIAssessment, 2, ActivityPending)

	status := BuildWorkflowStatus(run, []*Activity{createRole, linkJD, assessment})

	assert.Equal(t, pipeline.StateProcessing, status.State)
	assert.Equal(t, 2, status.Progress.Total)
	assert.Equal(t, 0, status.Progress.Current)
	require.NotNil(t, status.CurrentStep)
	assert.Equal(t, string(StepRoleSetup), *status.CurrentStep)
	assert.Equal(t, pipeline.StepRunning, status.Progress.Steps[0].Status)
	assert.Equal(t, pipeline.StepPending, status.Progress.Steps[1].Status)
}

func TestBuildWorkflowStatus_ReadyCountsBothSteps(t *testing.T) {
	run := &Run{ID: uuid.New(), Status: RunReady, CreatedAt: time.Now(), RoleID: "role-123"}
	now := time.Now()
	acts := []*Activity{
		{Name: ActivityCreateCompanyRole, Status: ActivityCompleted, StartedAt: &now, CompletedAt: &now},
		{Name: ActivityLinkJobDescription, Status: ActivityCompleted, StartedAt: &now, CompletedAt: &now},
		{Name: ActivityRunAIAssessment, Status: ActivityCompleted, StartedAt: &now, CompletedAt: &now},
	}

	status := BuildWorkflowStatus(run, acts)

	assert.Equal(t, pipeline.StateReady, status.State)
	assert.Equal(t, 2, status.Progress.Current)
	assert.Nil(t, status.CurrentStep, "terminal states report no current step")
	assert.Equal(t, "role-123", status.RoleID)
}

func TestBuildWorkflowStatus_FailedCarriesErrorDetail(t *testing.T) {
	run := &Run{
		ID:               uuid.New(),
		Status:           RunFailed,
		CreatedAt:        time.Now(),
		ErrorCode:        string(pipeline.CodePermanent),
		ErrorMessage:     "downstream rejected request",
		ErrorRecoverable: false,
	}
	now := time.Now()
	acts := []*Activity{
		{Name: ActivityCreateCompanyRole, Status: ActivityFailed, StartedAt: &now, CompletedAt: &now, ErrorMessage: "downstream rejected request"},
	}

	status := BuildWorkflowStatus(run, acts)

	assert.Equal(t, pipeline.StateFailed, status.State)
	require.NotNil(t, status.Error)
	assert.Equal(t, string(pipeline.CodePermanent), status.Error.Code)
	assert.Equal(t, pipeline.StepFailed, status.Progress.Steps[0].Status)
}

func TestBuildWorkflowStatus_NoActivitiesYet(t *testing.T) {
	run := &Run{ID: uuid.New(), Status: RunPending, CreatedAt: time.Now()}

	status := BuildWorkflowStatus(run, nil)

	assert.Equal(t, pipeline.StateQueued, status.State)
	assert.Equal(t, pipeline.StepPending, status.Progress.Steps[0].Status)
	assert.Equal(t, pipeline.StepPending, status.Progress.Steps[1].Status)
}
