package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fleetops/deployhub/pkg/types"
)

func TestRegisterAdoptsIdentity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/agents/register" || r.Method != "POST" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req RegisterRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Name != "test-agent" {
			t.Errorf("unexpected name: %q", req.Name)
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(RegisterResponse{
			Agent: &types.Agent{ID: "agent-123", ClusterID: req.ClusterID},
			Token: "issued-token",
		})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL})
	resp, err := c.Register(context.Background(), RegisterRequest{
		Name:      "test-agent",
		ClusterID: "cluster-1",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if resp.Token != "issued-token" {
		t.Errorf("unexpected token: %q", resp.Token)
	}
	if c.AgentID() != "agent-123" {
		t.Errorf("client did not adopt agent ID: %q", c.AgentID())
	}
}

func TestPollPlansSendsBearerToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("unexpected auth header: %q", got)
		}
		if r.URL.Path != "/api/v1/agents/agent-1/plans" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"plans": []types.DispatchedPlan{
				{PlanID: "p1", EntityID: "e1", Operation: types.OperationUpdate},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, AuthToken: "tok-1", AgentID: "agent-1"})
	plans, err := c.PollPlans(context.Background())
	if err != nil {
		t.Fatalf("PollPlans: %v", err)
	}
	if len(plans) != 1 || plans[0].PlanID != "p1" {
		t.Fatalf("unexpected plans: %+v", plans)
	}
}

func TestReportOutcomeErrorSurfacesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"plan is not executing"}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, AgentID: "agent-1"})
	err := c.ReportOutcome(context.Background(), types.Outcome{PlanID: "p1", Success: true})
	if err == nil {
		t.Fatal("expected error from 409 response")
	}
}

func TestHeartbeatRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var hb types.Heartbeat
		json.NewDecoder(r.Body).Decode(&hb)
		if hb.AgentID != "agent-1" {
			t.Errorf("unexpected heartbeat agent: %q", hb.AgentID)
		}
		json.NewEncoder(w).Encode(HeartbeatResponse{Status: "ok", PlansWaiting: 2})
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, AgentID: "agent-1"})
	resp, err := c.Heartbeat(context.Background(), types.Heartbeat{AgentID: "agent-1"})
	if err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if resp.PlansWaiting != 2 {
		t.Errorf("unexpected plans_waiting: %d", resp.PlansWaiting)
	}
}
