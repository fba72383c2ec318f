// Package client provides the hub API client for agents.
//
// # Operations
//
// - Register: Initial agent registration, returns the bearer token
// - Heartbeat: Periodic health reporting
// - PollPlans: Fetch dispatched plans for this agent's cluster
// - ReportOutcome: Return plan execution outcomes
package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fleetops/deployhub/pkg/types"
)

// Client communicates with the hub.
type Client struct {
	baseURL    string
	httpClient *http.Client
	agentID    string
	authToken  string
}

// Config for the client.
type Config struct {
	BaseURL            string
	AuthToken          string
	AgentID            string
	HTTPClient         *http.Client
	InsecureSkipVerify bool
}

// NewClient creates a new hub client.
func NewClient(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		transport := &http.Transport{}
		if cfg.InsecureSkipVerify {
			transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		}
		cfg.HTTPClient = &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		}
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: cfg.HTTPClient,
		agentID:    cfg.AgentID,
		authToken:  cfg.AuthToken,
	}
}

// AgentID returns the current agent ID.
func (c *Client) AgentID() string {
	return c.agentID
}

// RegisterRequest is sent to register a new agent.
type RegisterRequest struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	ClusterID   string `json:"cluster_id"`
	Environment string `json:"environment"`
	Version     string `json:"version"`
}

// RegisterResponse is returned from agent registration. The token is
// issued exactly once; the agent must persist it.
type RegisterResponse struct {
	Agent *types.Agent `json:"agent"`
	Token string       `json:"token"`
}

// Register registers the agent with the hub and adopts the issued
// identity and token for subsequent calls.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*RegisterResponse, error) {
	resp, err := c.doRequest(ctx, "POST", "/api/v1/agents/register", req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, c.readError(resp)
	}

	var result RegisterResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	if result.Agent != nil {
		c.agentID = result.Agent.ID
	}
	if result.Token != "" {
		c.authToken = result.Token
	}
	return &result, nil
}

// HeartbeatResponse carries the hub's hint about waiting work.
type HeartbeatResponse struct {
	Status       string `json:"status"`
	PlansWaiting int    `json:"plans_waiting"`
}

// Heartbeat sends a health report to the hub.
func (c *Client) Heartbeat(ctx context.Context, heartbeat types.Heartbeat) (*HeartbeatResponse, error) {
	path := fmt.Sprintf("/api/v1/agents/%s/heartbeat", c.agentID)
	resp, err := c.doRequest(ctx, "POST", path, heartbeat)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.readError(resp)
	}

	var result HeartbeatResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return &result, nil
}

// PollPlans fetches the dispatched plans for this agent's cluster.
func (c *Client) PollPlans(ctx context.Context) ([]types.DispatchedPlan, error) {
	path := fmt.Sprintf("/api/v1/agents/%s/plans", c.agentID)
	resp, err := c.doRequest(ctx, "GET", path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.readError(resp)
	}

	var result struct {
		Plans []types.DispatchedPlan `json:"plans"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return result.Plans, nil
}

// ReportOutcome sends the outcome of an executed plan.
func (c *Client) ReportOutcome(ctx context.Context, outcome types.Outcome) error {
	path := fmt.Sprintf("/api/v1/agents/%s/plans/%s/result", c.agentID, outcome.PlanID)
	resp, err := c.doRequest(ctx, "POST", path, outcome)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return c.readError(resp)
	}

	return nil
}

// Ping tests connectivity to the hub.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.doRequest(ctx, "GET", "/api/v1/health", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.readError(resp)
	}

	return nil
}

// doRequest performs an HTTP request with standard headers.
func (c *Client) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "deployhub-agent/1.0")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	return c.httpClient.Do(req)
}

// readError extracts an error message from a failed response.
func (c *Client) readError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
}
