// Package docresolve implements the document auto-resolution contract of
// spec §4.5: when a /push caller omits documents, fetch candidates from the
// external document-listing service and rank them deterministically.
package docresolve

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/draup/onboarding-pipeline/pkg/pipeline"
)

// Document is one candidate returned by the document-listing endpoint.
type Document struct {
	DocumentID  string    `json:"document_id"`
	Roles       []string  `json:"roles"`
	ContentType string    `json:"content_type"`
	UpdatedAt   time.Time `json:"updated_at"`
	DownloadURL string    `json:"download_url"`
}

// Resolver calls the external document-listing service and ranks results.
type Resolver struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// Config configures a Resolver.
type Config struct {
	BaseURL        string
	AuthToken      string
	TimeoutSeconds int
}

// New builds a Resolver.
func New(cfg Config) *Resolver {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Resolver{
		baseURL:    cfg.BaseURL,
		authToken:  cfg.AuthToken,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// contentTypeRank implements the priority PDF > DOCX > image/* > other from
// spec §4.5. Lower is better.
func contentTypeRank(contentType string) int {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "pdf"):
		return 0
	case strings.Contains(ct, "docx") || strings.Contains(ct, "wordprocessingml"):
		return 1
	case strings.HasPrefix(ct, "image/"):
		return 2
	default:
		return 3
	}
}

func exactMatch(doc Document, roleName string) bool {
	return len(doc.Roles) == 1 && doc.Roles[0] == roleName
}

// Rank orders candidates per spec §4.5: exact role-match before partial,
// then content-type priority, then most recent updated_at.
func Rank(candidates []Document, roleName string) []Document {
	ranked := make([]Document, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		aExact, bExact := exactMatch(a, roleName), exactMatch(b, roleName)
		if aExact != bExact {
			return aExact
		}
		aRank, bRank := contentTypeRank(a.ContentType), contentTypeRank(b.ContentType)
		if aRank != bRank {
			return aRank < bRank
		}
		return a.UpdatedAt.After(b.UpdatedAt)
	})
	return ranked
}

// Resolve fetches the first page of documents filtered by role, ranks them,
// and returns a single DocumentRef for the best candidate. ok is false when
// no candidate exists, in which case the caller must respond 400 per §4.5.
func (r *Resolver) Resolve(ctx context.Context, roleName string) (ref pipeline.DocumentRef, ok bool, perr *pipeline.PipelineError) {
	candidates, perr := r.list(ctx, roleName)
	if perr != nil {
		return pipeline.DocumentRef{}, false, perr
	}
	if len(candidates) == 0 {
		return pipeline.DocumentRef{}, false, nil
	}
	best := Rank(candidates, roleName)[0]
	return pipeline.DocumentRef{
		Type: pipeline.DocumentJobDescription,
		URI:  best.DownloadURL,
		Metadata: map[string]string{
			"document_id":  best.DocumentID,
			"content_type": best.ContentType,
		},
	}, true, nil
}

func (r *Resolver) list(ctx context.Context, roleName string) ([]Document, *pipeline.PipelineError) {
	reqURL := fmt.Sprintf("%s/documents?roles=%s", r.baseURL, url.QueryEscape(roleName))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, bytes.NewReader(nil))
	if err != nil {
		return nil, pipeline.NewInternalError(err, "failed to build document-listing request")
	}
	if r.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.authToken)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, pipeline.NewTransientError(err, "document-listing request failed")
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 500 {
		return nil, pipeline.NewTransientError(fmt.Errorf("status %d", resp.StatusCode), "document-listing returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, pipeline.NewPermanentError(fmt.Errorf("status %d", resp.StatusCode), "document-listing returned %d", resp.StatusCode)
	}

	var page struct {
		Documents []Document `json:"documents"`
	}
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, pipeline.NewInternalError(err, "failed to decode document-listing response")
	}
	return page.Documents, nil
}
