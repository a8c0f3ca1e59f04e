package execution

import (
	"github.com/draup/onboarding-pipeline/pkg/pipeline"
)

// BuildWorkflowStatus aggregates a Run and its per-activity attempt records
// into the wire-level pipeline.WorkflowStatus, grouping the three activities
// into the two composed steps exposed in progress.total (spec §4.4):
// role_setup (create_company_role + link_job_description) and ai_assessment.
func BuildWorkflowStatus(run *Run, acts []*Activity) pipeline.WorkflowStatus {
	status := pipeline.WorkflowStatus{
		WorkflowID:  run.ID.String(),
		CompanyID:   run.CompanyID,
		RoleName:    run.RoleName,
		State:       run.Status.ToWorkflowState(),
		QueuedAt:    run.CreatedAt,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
		RoleID:      run.RoleID,
	}

	var roleSetupActs, aiAssessmentActs []*Activity
	for _, a := range acts {
		if StepForActivity(a.Name) == StepAIAssessment {
			aiAssessmentActs = append(aiAssessmentActs, a)
		} else {
			roleSetupActs = append(roleSetupActs, a)
		}
	}
	roleSetup := aggregateStep(StepRoleSetup, 2, roleSetupActs)
	aiAssessment := aggregateStep(StepAIAssessment, 1, aiAssessmentActs)

	status.Progress = pipeline.Progress{
		Current: countCompleted(roleSetup, aiAssessment),
		Total:   2,
		Steps:   []pipeline.StepProgress{roleSetup, aiAssessment},
	}

	if !status.State.IsTerminal() {
		switch {
		case roleSetup.Status == pipeline.StepRunning:
			name := string(StepRoleSetup)
			status.CurrentStep = &name
		case aiAssessment.Status == pipeline.StepRunning:
			name := string(StepAIAssessment)
			status.CurrentStep = &name
		}
	}

	if run.Status == RunFailed || run.Status == RunValidErr {
		status.Error = &pipeline.ErrorDetail{
			Code:        run.ErrorCode,
			Message:     run.ErrorMessage,
			Recoverable: run.ErrorRecoverable,
		}
	}

	return status
}

// aggregateStep folds a composed step's constituent activities into one
// pipeline.StepProgress: completed only once every one of expectedCount
// activities is completed, failed if any constituent failed terminally,
// running as soon as one is running or completed while siblings remain.
func aggregateStep(name StepName, expectedCount int, acts []*Activity) pipeline.StepProgress {
	step := pipeline.StepProgress{Name: string(name), Status: pipeline.StepPending}
	if len(acts) == 0 {
		return step
	}

	completedCount := 0
	anyStarted := false
	for _, a := range acts {
		if a.StartedAt != nil && (step.StartedAt == nil || a.StartedAt.Before(*step.StartedAt)) {
			step.StartedAt = a.StartedAt
		}
		switch a.Status {
		case ActivityCompleted:
			completedCount++
			anyStarted = true
			if a.StartedAt != nil && a.CompletedAt != nil {
				step.DurationMS += a.CompletedAt.Sub(*a.StartedAt).Milliseconds()
			}
			if step.CompletedAt == nil || (a.CompletedAt != nil && a.CompletedAt.After(*step.CompletedAt)) {
				step.CompletedAt = a.CompletedAt
			}
		case ActivityRunning:
			anyStarted = true
		case ActivityFailed:
			step.Status = pipeline.StepFailed
			step.CompletedAt = a.CompletedAt
			step.ErrorMessage = a.ErrorMessage
		}
	}

	if step.Status == pipeline.StepFailed {
		return step
	}
	switch {
	case completedCount == expectedCount:
		step.Status = pipeline.StepCompleted
	case anyStarted:
		step.Status = pipeline.StepRunning
	default:
		step.Status = pipeline.StepPending
	}
	return step
}

func countCompleted(steps ...pipeline.StepProgress) int {
	n := 0
	for _, s := range steps {
		if s.Status == pipeline.StepCompleted {
			n++
		}
	}
	return n
}
