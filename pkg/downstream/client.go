// Package downstream implements the HTTP client for the external role
// processing service (spec §4.1). It never retries on its own — retry is
// the orchestration engine's job — but applies a per-request timeout and
// classifies failures as transient (retryable by the engine) or permanent.
package downstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/draup/onboarding-pipeline/pkg/pipeline"
)

// Client calls the three downstream processing endpoints.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// Config configures a Client.
type Config struct {
	BaseURL        string
	AuthToken      string
	TimeoutSeconds int
}

// New builds a Client. timeoutSeconds bounds every individual request; per
// spec §4.1 this must stay at or below the calling activity's timeout minus
// a small buffer, which callers enforce via ctx.
func New(cfg Config) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:   cfg.BaseURL,
		authToken: cfg.AuthToken,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// CreateCompanyRoleInput is the payload for POST /create-company-role.
type CreateCompanyRoleInput struct {
	CompanyID     string `json:"company_id"`
	CompanyName   string `json:"company_name,omitempty"`
	RoleName      string `json:"role_name"`
	DraupRoleID   string `json:"draup_role_id,omitempty"`
	DraupRoleName string `json:"draup_role_name,omitempty"`
}

// CreateCompanyRoleOutput is the success payload of create_company_role.
type CreateCompanyRoleOutput struct {
	CompanyRoleID string `json:"company_role_id"`
}

// LinkJobDescriptionInput is the payload for POST /link-job-description.
// Exactly one of JDContent / JDURI should be set; per spec §4.3 if both are
// present JDContent wins, and LinkJobDescription clears JDURI in that case.
type LinkJobDescriptionInput struct {
	CompanyRoleID string            `json:"company_role_id"`
	JDContent     string            `json:"jd_content,omitempty"`
	JDURI         string            `json:"jd_uri,omitempty"`
	JDTitle       string            `json:"jd_title,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	FormatWithLLM bool              `json:"format_with_llm"`
}

// LinkJobDescriptionOutput is the success payload of link_job_description.
type LinkJobDescriptionOutput struct {
	JDLinked        bool   `json:"jd_linked"`
	JDContentLength int    `json:"jd_content_length"`
	Formatted       bool   `json:"formatted"`
	CompanyRoleID   string `json:"company_role_id"`
}

// RunAIAssessmentInput is the payload for POST /run-ai-assessment.
type RunAIAssessmentInput struct {
	CompanyName     string `json:"company_name"`
	RoleName        string `json:"role_name"`
	CompanyRoleID   string `json:"company_role_id"`
	DeleteExisting  bool   `json:"delete_existing"`
	StoreInNeo4j    bool   `json:"store_in_neo4j"`
}

// RunAIAssessmentOutput is the success payload of run_ai_assessment.
type RunAIAssessmentOutput struct {
	AIAutomationScore float64          `json:"ai_automation_score"`
	TaskAnalysis      []TaskAnalysis   `json:"task_analysis"`
}

// TaskAnalysis is one per-task entry within an assessment's output.
type TaskAnalysis struct {
	Task              string  `json:"task"`
	AutomationScore   float64 `json:"automation_score"`
	Rationale         string  `json:"rationale,omitempty"`
}

// CreateCompanyRole calls POST /create-company-role. The downstream service
// is expected to be idempotent on (company_name, role_name).
func (c *Client) CreateCompanyRole(ctx context.Context, in CreateCompanyRoleInput) (*CreateCompanyRoleOutput, *pipeline.PipelineError) {
	var out CreateCompanyRoleOutput
	if err := c.do(ctx, "POST", "/create-company-role", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// LinkJobDescription calls POST /link-job-description. in must carry either
// JDContent or JDURI; when JDContent is set, JDURI is cleared before sending.
func (c *Client) LinkJobDescription(ctx context.Context, in LinkJobDescriptionInput) (*LinkJobDescriptionOutput, *pipeline.PipelineError) {
	if in.CompanyRoleID == "" {
		return nil, pipeline.NewValidationError("link_job_description requires a non-empty company_role_id")
	}
	if in.JDContent != "" {
		in.JDURI = ""
	}
	var out LinkJobDescriptionOutput
	if err := c.do(ctx, "POST", "/link-job-description", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RunAIAssessment calls POST /run-ai-assessment.
func (c *Client) RunAIAssessment(ctx context.Context, in RunAIAssessmentInput) (*RunAIAssessmentOutput, *pipeline.PipelineError) {
	var out RunAIAssessmentOutput
	if err := c.do(ctx, "POST", "/run-ai-assessment", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// do issues a single HTTP request with no retry, classifying the result per
// spec §4.1: network errors and 5xx are transient, 4xx is permanent.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) *pipeline.PipelineError {
	payload, err := json.Marshal(body)
	if err != nil {
		return pipeline.NewInternalError(err, "failed to marshal downstream request")
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return pipeline.NewInternalError(err, "failed to build downstream request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pipeline.NewTransientError(err, "downstream request to %s failed", path)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if len(respBody) == 0 {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return pipeline.NewInternalError(err, "failed to decode downstream response from %s", path)
		}
		return nil
	case resp.StatusCode >= 500:
		return pipeline.NewTransientError(
			fmt.Errorf("status %d", resp.StatusCode),
			"downstream %s returned %d: %s", path, resp.StatusCode, string(respBody),
		)
	default:
		return pipeline.NewPermanentError(
			fmt.Errorf("status %d", resp.StatusCode),
			"downstream %s returned %d: %s", path, resp.StatusCode, string(respBody),
		)
	}
}
