package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fleetform/console/internal/domain"
)

func TestAnalyzeSendsRepositoryAndDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/analyze" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok-123" {
			t.Errorf("expected bearer token, got %q", got)
		}
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["repository_url"] != "https://github.com/acme/widgets" {
			t.Errorf("unexpected body: %v", body)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"project_type":"node","build_config":{"command":"npm run build"}}`))
	}))
	defer srv.Close()

	cli, err := New(srv.URL, WithToken("tok-123"))
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	analysis, err := cli.Analyze(context.Background(), "https://github.com/acme/widgets")
	if err != nil {
		t.Fatalf("analyze failed: %v", err)
	}
	if analysis.ProjectType != "node" || analysis.BuildConfig.Command != "npm run build" {
		t.Fatalf("unexpected analysis: %+v", analysis)
	}
}

func TestPipelineEndpointPaths(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	cli, err := New(srv.URL)
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	ctx := context.Background()
	if _, err := cli.Build(ctx, "sess-1", domain.BuildConfig{Command: "npm run build"}); err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if _, err := cli.Provision(ctx, "sess-1", "node", "widgets"); err != nil {
		t.Fatalf("provision failed: %v", err)
	}
	if _, err := cli.Deploy(ctx, "sess-1"); err != nil {
		t.Fatalf("deploy failed: %v", err)
	}
	if _, err := cli.Finalize(ctx, "sess-1"); err != nil {
		t.Fatalf("finalize failed: %v", err)
	}
	if _, err := cli.Status(ctx, "dep-1"); err != nil {
		t.Fatalf("status failed: %v", err)
	}
	want := []string{
		"POST /api/build",
		"POST /api/provision",
		"POST /api/deploy",
		"POST /api/finalize",
		"GET /api/deployments/dep-1",
	}
	if len(paths) != len(want) {
		t.Fatalf("expected paths %v, got %v", want, paths)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Fatalf("path %d: expected %s, got %s", i, want[i], paths[i])
		}
	}
}

func TestErrorBodyIsExtracted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"repository not found"}`))
	}))
	defer srv.Close()

	cli, err := New(srv.URL)
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	_, err = cli.Analyze(context.Background(), "https://github.com/acme/missing")
	var apiErr APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusBadRequest || apiErr.Message != "repository not found" {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
	if apiErr.Permanent() {
		t.Fatal("400 must not be permanent")
	}
}

func TestPermanentStatuses(t *testing.T) {
	cases := []struct {
		status    int
		permanent bool
	}{
		{http.StatusUnauthorized, true},
		{http.StatusNotFound, true},
		{http.StatusBadRequest, false},
		{http.StatusInternalServerError, false},
		{http.StatusBadGateway, false},
	}
	for _, tc := range cases {
		err := APIError{Status: tc.status}
		if err.Permanent() != tc.permanent {
			t.Fatalf("status %d: expected permanent=%v", tc.status, tc.permanent)
		}
	}
}

func TestNonJSONErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream exploded"))
	}))
	defer srv.Close()

	cli, err := New(srv.URL)
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	_, err = cli.Deploy(context.Background(), "sess-1")
	var apiErr APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Message != "upstream exploded" {
		t.Fatalf("expected raw body as message, got %q", apiErr.Message)
	}
}

func TestNewNormalizesBaseURL(t *testing.T) {
	cli, err := New("api.fleetform.dev/")
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	if cli.baseURL != "http://api.fleetform.dev" {
		t.Fatalf("unexpected base url: %q", cli.baseURL)
	}
	cli, err = New("")
	if err != nil {
		t.Fatalf("new client failed: %v", err)
	}
	if cli.baseURL != "http://localhost:4000" {
		t.Fatalf("expected default base url, got %q", cli.baseURL)
	}
}
