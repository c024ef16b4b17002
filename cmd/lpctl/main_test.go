package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/launchpad/internal/humangate"
	"github.com/fyrsmithlabs/launchpad/internal/pipeline"
)

func TestParseRevisions(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		want    []humangate.RevisionRequest
		wantErr bool
	}{
		{name: "empty", input: nil, want: []humangate.RevisionRequest{}},
		{
			name:  "trims both sides",
			input: []string{" database = use postgres "},
			want:  []humangate.RevisionRequest{{Area: "database", Description: "use postgres"}},
		},
		{
			name:  "description may contain equals",
			input: []string{"flows=a=b"},
			want:  []humangate.RevisionRequest{{Area: "flows", Description: "a=b"}},
		},
		{name: "missing separator", input: []string{"database"}, wantErr: true},
		{name: "missing description", input: []string{"database="}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseRevisions(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTokenArg(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "eyJhbGciOi.abc.def", want: "eyJhbGciOi.abc.def"},
		{in: "https://lp.example.com/api/v1/approve/eyJhbGciOi.abc.def", want: "eyJhbGciOi.abc.def"},
		{in: "https://lp.example.com/api/v1/approve/eyJhbGciOi.abc.def/", want: "eyJhbGciOi.abc.def"},
		{in: "  tok  ", want: "tok"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tokenArg(tt.in), tt.in)
	}
}

func TestProgressBar(t *testing.T) {
	assert.Equal(t, "[..........]", progressBar(0, 10))
	assert.Equal(t, "[#####.....]", progressBar(50, 10))
	assert.Equal(t, "[##########]", progressBar(100, 10))
	assert.Equal(t, "[##########]", progressBar(250, 10))
}

func TestClient_SendsTenantAndDecodesErrors(t *testing.T) {
	var gotTenant string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTenant = r.Header.Get("X-Tenant-ID")
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/api/v1/pipelines/missing" {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "execution not found"})
			return
		}
		_ = json.NewEncoder(w).Encode(pipeline.Progress{ExecutionID: "e1", Status: pipeline.StatusRunning})
	}))
	defer srv.Close()

	c := &apiClient{base: srv.URL, tenant: "acme", http: srv.Client()}

	var p pipeline.Progress
	require.NoError(t, c.do(context.Background(), http.MethodGet, "/api/v1/pipelines/e1", true, nil, &p))
	assert.Equal(t, "acme", gotTenant)
	assert.Equal(t, "e1", p.ExecutionID)

	err := c.do(context.Background(), http.MethodGet, "/api/v1/pipelines/missing", true, nil, &p)
	var apiErr *apiError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "execution not found", apiErr.Message)

	c.tenant = ""
	assert.Error(t, c.do(context.Background(), http.MethodGet, "/api/v1/pipelines", true, nil, nil))
}

func TestPipelineStatusCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(pipeline.Progress{
			ExecutionID:     "exec-42",
			Stage:           pipeline.StageFounderApproval,
			Status:          pipeline.StatusWaitingApproval,
			OverallProgress: 20,
			WorkflowID:      "wf-7",
		})
	}))
	defer srv.Close()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--server", srv.URL, "--tenant", "acme", "pipeline", "status", "exec-42"})
	require.NoError(t, rootCmd.Execute())

	assert.Contains(t, out.String(), "exec-42")
	assert.Contains(t, out.String(), "founder_approval (waiting_approval)")
	assert.Contains(t, out.String(), "workflow wf-7")
}

func TestRenderProgress_ShowsPaused(t *testing.T) {
	var out bytes.Buffer
	renderProgress(&out, &pipeline.Progress{
		ExecutionID:     "exec-42",
		Stage:           pipeline.StageMVPGeneration,
		Status:          pipeline.StatusRunning,
		OverallProgress: 50,
		Paused:          true,
	})
	assert.Contains(t, out.String(), "mvp_generation (running, paused)")

	out.Reset()
	renderProgress(&out, &pipeline.Progress{ExecutionID: "exec-42", Stage: pipeline.StageMVPGeneration, Status: pipeline.StatusRunning})
	assert.NotContains(t, out.String(), "paused")
}
