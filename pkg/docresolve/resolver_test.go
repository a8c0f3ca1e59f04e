package docresolve

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draup/onboarding-pipeline/pkg/pipeline"
)

func TestRank_ExactRoleMatchBeatsPartial(t *testing.T) {
	older := time.Now().Add(-24 * time.Hour)
	newer := time.Now()
	candidates := []Document{
		{DocumentID: "partial", Roles: []string{"Backend Engineer", "SRE"}, ContentType: "application/pdf", UpdatedAt: newer},
		{DocumentID: "exact", Roles: []string{"Backend Engineer"}, ContentType: "application/pdf", UpdatedAt: older},
	}

	ranked := Rank(candidates, "Backend Engineer")
	require.Len(t, ranked, 2)
	assert.Equal(t, "exact", ranked[0].DocumentID)
}

func TestRank_ContentTypePriority(t *testing.T) {
	now := time.Now()
	candidates := []Document{
		{DocumentID: "image", Roles: []string{"Backend Engineer"}, ContentType: "image/png", UpdatedAt: now},
		{DocumentID: "other", Roles: []string{"Backend Engineer"}, ContentType: "text/plain", UpdatedAt: now},
		{DocumentID: "docx", Roles: []string{"Backend Engineer"}, ContentType: "application/vnd.openxmlformats-officedocument.wordprocessingml.document", UpdatedAt: now},
		{DocumentID: "pdf", Roles: []string{"Backend Engineer"}, ContentType: "application/pdf", UpdatedAt: now},
	}

	ranked := Rank(candidates, "Backend Engineer")
	ids := make([]string, len(ranked))
	for i, d := range ranked {
		ids[i] = d.DocumentID
	}
	assert.Equal(t, []string{"pdf", "docx", "image", "other"}, ids)
}

func TestRank_MostRecentWinsWithinSamePriority(t *testing.T) {
	older := time.Now().Add(-48 * time.Hour)
	newer := time.Now()
	candidates := []Document{
		{DocumentID: "old", Roles: []string{"x"}, ContentType: "application/pdf", UpdatedAt: older},
		{DocumentID: "new", Roles: []string{"x"}, ContentType: "application/pdf", UpdatedAt: newer},
	}

	ranked := Rank(candidates, "Backend Engineer")
	assert.Equal(t, "new", ranked[0].DocumentID)
}

func TestResolve_PicksBestCandidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/documents", r.URL.Path)
		assert.Equal(t, "Backend Engineer", r.URL.Query().Get("roles"))
		fmt.Fprint(w, `{"documents":[
			{"document_id":"d1","roles":["Backend Engineer","SRE"],"content_type":"application/pdf","download_url":"https://x/d1"},
			{"document_id":"d2","roles":["Backend Engineer"],"content_type":"application/pdf","download_url":"https://x/d2"}
		]}`)
	}))
	defer srv.Close()

	resolver := New(Config{BaseURL: srv.URL})
	ref, ok, perr := resolver.Resolve(context.Background(), "Backend Engineer")
	require.Nil(t, perr)
	require.True(t, ok)
	assert.Equal(t, pipeline.DocumentJobDescription, ref.Type)
	assert.Equal(t, "https://x/d2", ref.URI)
	assert.Equal(t, "d2", ref.Metadata["document_id"])
}

func TestResolve_EscapesRoleNamesWithSpaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotContains(t, r.URL.RequestURI(), " ", "an unescaped space in the request line is rejected by a real HTTP server")
		assert.Equal(t, "Claims Adjuster", r.URL.Query().Get("roles"))
		fmt.Fprint(w, `{"documents":[{"document_id":"d1","roles":["Claims Adjuster"],"content_type":"application/pdf","download_url":"https://x/d1"}]}`)
	}))
	defer srv.Close()

	resolver := New(Config{BaseURL: srv.URL})
	ref, ok, perr := resolver.Resolve(context.Background(), "Claims Adjuster")
	require.Nil(t, perr)
	require.True(t, ok)
	assert.Equal(t, "d1", ref.Metadata["document_id"])
}

func TestResolve_NoCandidatesReturnsNotOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"documents":[]}`)
	}))
	defer srv.Close()

	resolver := New(Config{BaseURL: srv.URL})
	_, ok, perr := resolver.Resolve(context.Background(), "Nonexistent Role")
	require.Nil(t, perr)
	assert.False(t, ok)
}

func TestResolve_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	resolver := New(Config{BaseURL: srv.URL})
	_, _, perr := resolver.Resolve(context.Background(), "Backend Engineer")
	require.NotNil(t, perr)
	assert.Equal(t, pipeline.CodeTransient, perr.Code)
}
