// Package client provides typed access to the FleetForm deployment API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/fleetform/console/internal/domain"
)

// Client issues the pipeline's backend requests. All endpoint paths are
// relative to one configured base URL.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option customises client instantiation.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithToken attaches a bearer token to every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// New constructs a Client pointing at the provided API base URL.
func New(base string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		trimmed = "http://localhost:4000"
	}
	if !strings.HasPrefix(trimmed, "http://") && !strings.HasPrefix(trimmed, "https://") {
		trimmed = "http://" + trimmed
	}
	if _, err := url.Parse(trimmed); err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	cli := &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(cli)
	}
	return cli, nil
}

// APIError represents an error response from the API.
type APIError struct {
	Status  int
	Message string
}

func (e APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api request failed with status %d", e.Status)
	}
	return fmt.Sprintf("api request failed (%d): %s", e.Status, e.Message)
}

// Permanent reports whether retrying the request can never succeed.
func (e APIError) Permanent() bool {
	return e.Status == http.StatusNotFound || e.Status == http.StatusUnauthorized
}

func (c *Client) do(ctx context.Context, method, path string, body, v any) error {
	if ctx == nil {
		ctx = context.Background()
	}
	endpoint := c.baseURL + path
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return APIError{Status: resp.StatusCode, Message: extractError(resp.Body)}
	}

	if v == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func extractError(body io.Reader) string {
	if body == nil {
		return ""
	}
	var payload struct {
		Error string `json:"error"`
	}
	data, err := io.ReadAll(body)
	if err != nil || len(data) == 0 {
		return ""
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strings.TrimSpace(string(data))
	}
	return strings.TrimSpace(payload.Error)
}

// Analyze inspects a repository and reports its project type and build
// configuration.
func (c *Client) Analyze(ctx context.Context, repositoryURL string) (domain.Analysis, error) {
	var analysis domain.Analysis
	err := c.do(ctx, http.MethodPost, "/api/analyze", map[string]string{
		"repository_url": repositoryURL,
	}, &analysis)
	return analysis, err
}

// Build runs the compile step for the session's project.
func (c *Client) Build(ctx context.Context, sessionID string, cfg domain.BuildConfig) (domain.BuildResult, error) {
	var result domain.BuildResult
	err := c.do(ctx, http.MethodPost, "/api/build", map[string]any{
		"session_id":   sessionID,
		"build_config": cfg,
	}, &result)
	return result, err
}

// Provision creates the infrastructure the deployment will run on.
func (c *Client) Provision(ctx context.Context, sessionID, projectType, projectName string) (domain.InfraResult, error) {
	var result domain.InfraResult
	err := c.do(ctx, http.MethodPost, "/api/provision", map[string]string{
		"session_id":   sessionID,
		"project_type": projectType,
		"project_name": projectName,
	}, &result)
	return result, err
}

// Deploy uploads the session's files to the provisioned infrastructure.
// The backend identifies deployments by the session id, so the returned
// DeploymentID echoes sessionID; cache keys and push-channel subscriptions
// rely on that.
func (c *Client) Deploy(ctx context.Context, sessionID string) (domain.DeployResult, error) {
	var result domain.DeployResult
	err := c.do(ctx, http.MethodPost, "/api/deploy", map[string]string{
		"session_id": sessionID,
	}, &result)
	return result, err
}

// Finalize completes the deployment and returns the live URL.
func (c *Client) Finalize(ctx context.Context, sessionID string) (domain.FinalizeResult, error) {
	var result domain.FinalizeResult
	err := c.do(ctx, http.MethodPost, "/api/finalize", map[string]string{
		"session_id": sessionID,
	}, &result)
	return result, err
}

// Status returns the server's view of a deployment.
func (c *Client) Status(ctx context.Context, deploymentID string) (domain.DeploymentRecord, error) {
	var record domain.DeploymentRecord
	err := c.do(ctx, http.MethodGet, "/api/deployments/"+url.PathEscape(deploymentID), nil, &record)
	return record, err
}

// ListDeployments returns recent deployments for the account.
func (c *Client) ListDeployments(ctx context.Context) ([]domain.DeploymentRecord, error) {
	var records []domain.DeploymentRecord
	err := c.do(ctx, http.MethodGet, "/api/deployments", nil, &records)
	return records, err
}

// LiveURL returns the public URL for a completed deployment.
func (c *Client) LiveURL(ctx context.Context, deploymentID string) (string, error) {
	var payload struct {
		URL string `json:"url"`
	}
	err := c.do(ctx, http.MethodGet, "/api/deployments/"+url.PathEscape(deploymentID)+"/url", nil, &payload)
	return payload.URL, err
}
