// Package taxonomy implements the trivial read-through lookups spec §4.5
// exposes at GET /companies and GET /roles/{company}: the onboarding
// pipeline has no taxonomy of its own, it proxies to the same downstream
// role-processing service's read-only catalog.
package taxonomy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/draup/onboarding-pipeline/pkg/pipeline"
)

// Company is one entry in the companies catalog.
type Company struct {
	CompanyID string `json:"company_id"`
	Name      string `json:"name"`
}

// Role is one entry in a company's role taxonomy.
type Role struct {
	RoleName    string `json:"role_name"`
	DraupRoleID string `json:"draup_role_id,omitempty"`
}

// Client is a thin, non-retrying HTTP client over the downstream taxonomy
// catalog. It classifies failures like pkg/downstream (5xx/network
// transient, 4xx permanent) except that 404 maps to NOT_FOUND.
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

// New builds a Client.
func New(cfg Config) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		authToken:  cfg.AuthToken,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ListCompanies fetches the full companies catalog.
func (c *Client) ListCompanies(ctx context.Context) ([]Company, *pipeline.PipelineError) {
	var out struct {
		Companies []Company `json:"companies"`
	}
	if perr := c.get(ctx, "/companies", &out); perr != nil {
		return nil, perr
	}
	return out.Companies, nil
}

// ListRoles fetches the role taxonomy for one company.
func (c *Client) ListRoles(ctx context.Context, companyID string) ([]Role, *pipeline.PipelineError) {
	var out struct {
		Roles []Role `json:"roles"`
	}
	path := "/roles/" + url.PathEscape(companyID)
	if perr := c.get(ctx, path, &out); perr != nil {
		return nil, perr
	}
	return out.Roles, nil
}

func (c *Client) get(ctx context.Context, path string, out any) *pipeline.PipelineError {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return pipeline.NewInternalError(err, "failed to build taxonomy request")
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pipeline.NewTransientError(err, "taxonomy request to %s failed", path)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if len(body) == 0 {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return pipeline.NewInternalError(err, "failed to decode taxonomy response from %s", path)
		}
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return pipeline.NewNotFoundError("%s not found", path)
	case resp.StatusCode >= 500:
		return pipeline.NewTransientError(fmt.Errorf("status %d", resp.StatusCode), "taxonomy %s returned %d", path, resp.StatusCode)
	default:
		return pipeline.NewPermanentError(fmt.Errorf("status %d", resp.StatusCode), "taxonomy %s returned %d", path, resp.StatusCode)
	}
}
