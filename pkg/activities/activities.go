// Package activities implements the three atomic operations the workflow
// engine schedules (spec §4.3): create_company_role, link_job_description,
// and run_ai_assessment. Each wraps the downstream client and returns a
// uniform pipeline.StepResult, classifying failures recoverable/non-recoverable
// so the engine can decide whether to retry.
package activities

import (
	"context"
	"time"

	"github.com/draup/onboarding-pipeline/pkg/downstream"
	"github.com/draup/onboarding-pipeline/pkg/pipeline"
)

// Activities bundles the downstream client the three activities share.
type Activities struct {
	Downstream *downstream.Client
}

// New builds an Activities set.
func New(client *downstream.Client) *Activities {
	return &Activities{Downstream: client}
}

func timed(name string, start time.Time, output any, perr *pipeline.PipelineError) pipeline.StepResult {
	duration := time.Since(start).Milliseconds()
	if perr != nil {
		return pipeline.StepResult{
			Name:       name,
			Status:     pipeline.StepFailed,
			DurationMS: duration,
			Error:      perr.Detail(),
		}
	}
	return pipeline.StepResult{
		Name:       name,
		Status:     pipeline.StepCompleted,
		DurationMS: duration,
		Output:     output,
	}
}

// CreateCompanyRole runs the first sub-activity of role_setup. On success
// the caller (the workflow) is responsible for storing the returned role_id
// into the run's state.
func (a *Activities) CreateCompanyRole(ctx context.Context, input pipeline.RoleOnboardingInput) pipeline.StepResult {
	start := time.Now()
	out, perr := a.Downstream.CreateCompanyRole(ctx, downstream.CreateCompanyRoleInput{
		CompanyID:     input.CompanyID,
		RoleName:      input.RoleName,
		DraupRoleID:   input.DraupRoleID,
		DraupRoleName: input.DraupRoleName,
	})
	if perr != nil {
		return timed(string(CreateCompanyRole), start, nil, perr)
	}
	return timed(string(CreateCompanyRole), start, out, nil)
}

// LinkJobDescriptionParams carries the resolved JD payload plus the
// company_role_id produced by CreateCompanyRole. Per spec §4.3 this
// activity must never be invoked with an empty CompanyRoleID.
type LinkJobDescriptionParams struct {
	CompanyRoleID string
	JDContent     string
	JDURI         string
	JDTitle       string
	Metadata      map[string]string
	FormatWithLLM bool
}

// LinkJobDescription runs the second sub-activity of role_setup.
func (a *Activities) LinkJobDescription(ctx context.Context, p LinkJobDescriptionParams) pipeline.StepResult {
	start := time.Now()
	if p.CompanyRoleID == "" {
		return timed(string(LinkJobDescription), start, nil, pipeline.NewValidationError("link_job_description invoked with empty company_role_id"))
	}
	out, perr := a.Downstream.LinkJobDescription(ctx, downstream.LinkJobDescriptionInput{
		CompanyRoleID: p.CompanyRoleID,
		JDContent:     p.JDContent,
		JDURI:         p.JDURI,
		JDTitle:       p.JDTitle,
		Metadata:      p.Metadata,
		FormatWithLLM: p.FormatWithLLM,
	})
	if perr != nil {
		return timed(string(LinkJobDescription), start, nil, perr)
	}
	return timed(string(LinkJobDescription), start, out, nil)
}

// RunAIAssessmentParams carries the inputs for the final activity.
// Both engines set DeleteExisting from the workflow's force_rerun option
// and StoreInNeo4j to true, per spec §4.3; the struct's zero values are false.
type RunAIAssessmentParams struct {
	CompanyName    string
	RoleName       string
	CompanyRoleID  string
	DeleteExisting bool
	StoreInNeo4j   bool
}

// RunAIAssessment runs the ai_assessment step. It must only be invoked after
// role_setup has completed with a non-empty company_role_id.
func (a *Activities) RunAIAssessment(ctx context.Context, p RunAIAssessmentParams) pipeline.StepResult {
	start := time.Now()
	if p.CompanyRoleID == "" {
		return timed(string(RunAIAssessment), start, nil, pipeline.NewValidationError("run_ai_assessment invoked before role_setup completed"))
	}
	out, perr := a.Downstream.RunAIAssessment(ctx, downstream.RunAIAssessmentInput{
		CompanyName:    p.CompanyName,
		RoleName:       p.RoleName,
		CompanyRoleID:  p.CompanyRoleID,
		DeleteExisting: p.DeleteExisting,
		StoreInNeo4j:   p.StoreInNeo4j,
	})
	if perr != nil {
		return timed(string(RunAIAssessment), start, nil, perr)
	}
	return timed(string(RunAIAssessment), start, out, nil)
}

// Name identifies one of the three activities by its wire name.
type Name string

const (
	CreateCompanyRole  Name = "create_company_role"
	LinkJobDescription Name = "link_job_description"
	RunAIAssessment    Name = "run_ai_assessment"
)
