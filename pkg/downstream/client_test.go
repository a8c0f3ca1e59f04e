package downstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draup/onboarding-pipeline/pkg/pipeline"
)

func TestCreateCompanyRole_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/create-company-role", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body CreateCompanyRoleInput
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "acme", body.CompanyID)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(CreateCompanyRoleOutput{CompanyRoleID: "cr-1"})
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, AuthToken: "secret", TimeoutSeconds: 5})
	out, perr := client.CreateCompanyRole(context.Background(), CreateCompanyRoleInput{CompanyID: "acme", RoleName: "Backend Engineer"})
	require.Nil(t, perr)
	require.NotNil(t, out)
	assert.Equal(t, "cr-1", out.CompanyRoleID)
}

func TestCreateCompanyRole_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"message":"downstream overloaded"}`))
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL})
	_, perr := client.CreateCompanyRole(context.Background(), CreateCompanyRoleInput{CompanyID: "acme", RoleName: "x"})
	require.NotNil(t, perr)
	assert.Equal(t, pipeline.CodeTransient, perr.Code)
	assert.True(t, perr.Recoverable)
}

func TestCreateCompanyRole_ClientErrorIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL})
	_, perr := client.CreateCompanyRole(context.Background(), CreateCompanyRoleInput{CompanyID: "acme", RoleName: "x"})
	require.NotNil(t, perr)
	assert.Equal(t, pipeline.CodePermanent, perr.Code)
	assert.False(t, perr.Recoverable)
}

func TestCreateCompanyRole_NetworkErrorIsTransient(t *testing.T) {
	client := New(Config{BaseURL: "http://127.0.0.1:1", TimeoutSeconds: 1})
	_, perr := client.CreateCompanyRole(context.Background(), CreateCompanyRoleInput{CompanyID: "acme", RoleName: "x"})
	require.NotNil(t, perr)
	assert.Equal(t, pipeline.CodeTransient, perr.Code)
}

func TestLinkJobDescription_RequiresCompanyRoleID(t *testing.T) {
	client := New(Config{BaseURL: "http://unused"})
	_, perr := client.LinkJobDescription(context.Background(), LinkJobDescriptionInput{JDContent: "jd text"})
	require.NotNil(t, perr)
	assert.Equal(t, pipeline.CodeValidation, perr.Code)
}

func TestLinkJobDescription_ContentWinsOverURI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body LinkJobDescriptionInput
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "inline jd", body.JDContent)
		assert.Empty(t, body.JDURI)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(LinkJobDescriptionOutput{JDLinked: true, CompanyRoleID: "cr-1"})
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL})
	out, perr := client.LinkJobDescription(context.Background(), LinkJobDescriptionInput{
		CompanyRoleID: "cr-1",
		JDContent:     "inline jd",
		JDURI:         "https://example.com/jd.pdf",
	})
	require.Nil(t, perr)
	assert.True(t, out.JDLinked)
}

func TestRunAIAssessment_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(RunAIAssessmentOutput{
			AIAutomationScore: 0.73,
			TaskAnalysis:      []TaskAnalysis{{Task: "write code", AutomationScore: 0.8}},
		})
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL})
	out, perr := client.RunAIAssessment(context.Background(), RunAIAssessmentInput{CompanyRoleID: "cr-1"})
	require.Nil(t, perr)
	require.Len(t, out.TaskAnalysis, 1)
	assert.Equal(t, 0.73, out.AIAutomationScore)
}
