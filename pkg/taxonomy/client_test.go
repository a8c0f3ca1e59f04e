package taxonomy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draup/onboarding-pipeline/pkg/pipeline"
)

func TestListCompanies_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/companies", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"companies":[{"company_id":"acme","name":"Acme Corp"}]}`))
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, AuthToken: "test-token", TimeoutSeconds: 5})
	companies, perr := client.ListCompanies(context.Background())
	require.Nil(t, perr)
	require.Len(t, companies, 1)
	assert.Equal(t, Company{CompanyID: "acme", Name: "Acme Corp"}, companies[0])
}

func TestListRoles_EscapesCompanyIDInPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/roles/acme%2Finc", r.URL.EscapedPath())
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"roles":[{"role_name":"Backend Engineer","draup_role_id":"dr-1"}]}`))
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL})
	roles, perr := client.ListRoles(context.Background(), "acme/inc")
	require.Nil(t, perr)
	require.Len(t, roles, 1)
	assert.Equal(t, "Backend Engineer", roles[0].RoleName)
}

func TestListCompanies_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL})
	_, perr := client.ListCompanies(context.Background())
	require.NotNil(t, perr)
	assert.Equal(t, pipeline.CodeNotFound, perr.Code)
}

func TestListCompanies_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL})
	_, perr := client.ListCompanies(context.Background())
	require.NotNil(t, perr)
	assert.Equal(t, pipeline.CodeTransient, perr.Code)
	assert.True(t, perr.Recoverable)
}

func TestListCompanies_ClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL})
	_, perr := client.ListCompanies(context.Background())
	require.NotNil(t, perr)
	assert.Equal(t, pipeline.CodePermanent, perr.Code)
	assert.False(t, perr.Recoverable)
}
