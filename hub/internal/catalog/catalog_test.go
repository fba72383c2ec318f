package catalog

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fleetops/deployhub/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMemoryFilter(t *testing.T) {
	m := NewMemory()
	m.Put(&types.Entity{ID: "a", Environment: "production", ClusterID: "c1", ProductID: "p1"})
	m.Put(&types.Entity{ID: "b", Environment: "staging", ClusterID: "c1", ProductID: "p1"})
	m.Put(&types.Entity{ID: "c", Environment: "production", ClusterID: "c2", ProductID: "p2"})

	all, err := m.ListEntities(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("ListEntities: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 entities, got %d", len(all))
	}

	prod, _ := m.ListEntities(context.Background(), Filter{Environment: "production"})
	if len(prod) != 2 {
		t.Errorf("expected 2 production entities, got %d", len(prod))
	}

	narrow, _ := m.ListEntities(context.Background(), Filter{Environment: "production", ClusterID: "c1"})
	if len(narrow) != 1 || narrow[0].ID != "a" {
		t.Errorf("expected [a], got %+v", narrow)
	}

	missing, err := m.GetEntity(context.Background(), "ghost")
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil for missing entity, got %+v, %v", missing, err)
	}
}

func TestClientGetEntity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/entities/app-1":
			w.Write([]byte(`{"data": {"id": "app-1", "product_id": "p1", "desired_version": "2.0.0"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, AuthToken: "token-1"}, testLogger())

	e, err := c.GetEntity(context.Background(), "app-1")
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	if e == nil || e.DesiredVersion != "2.0.0" {
		t.Errorf("unexpected entity: %+v", e)
	}

	// 404 maps to nil, nil.
	e, err = c.GetEntity(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("GetEntity missing: %v", err)
	}
	if e != nil {
		t.Errorf("expected nil for missing entity, got %+v", e)
	}
}

type mapCache struct {
	mu    sync.Mutex
	items map[string][]byte
}

func (c *mapCache) GetJSON(ctx context.Context, key string, v any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, ok := c.items[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, v)
}

func (c *mapCache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if c.items == nil {
		c.items = make(map[string][]byte)
	}
	c.items[key] = data
	return nil
}

func TestClientGetEntityServedFromCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/entities/app-1":
			w.Write([]byte(`{"data": {"id": "app-1", "product_id": "p1", "desired_version": "2.0.0"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL, Cache: &mapCache{}}, testLogger())

	first, err := c.GetEntity(context.Background(), "app-1")
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	second, err := c.GetEntity(context.Background(), "app-1")
	if err != nil {
		t.Fatalf("cached GetEntity: %v", err)
	}
	if hits.Load() != 1 {
		t.Errorf("expected 1 registry hit, got %d", hits.Load())
	}
	if second == nil || second.DesiredVersion != first.DesiredVersion {
		t.Errorf("cached entity diverged: %+v vs %+v", second, first)
	}

	// Misses are not cached; the registry is asked again.
	if _, err := c.GetEntity(context.Background(), "ghost"); err != nil {
		t.Fatalf("GetEntity missing: %v", err)
	}
	c.GetEntity(context.Background(), "ghost")
	if hits.Load() != 3 {
		t.Errorf("expected misses to reach the registry, got %d hits", hits.Load())
	}
}

func TestClientListEntitiesFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("environment") != "staging" {
			t.Errorf("expected environment query param, got %q", r.URL.RawQuery)
		}
		w.Write([]byte(`{"data": [{"id": "app-1"}, {"id": "app-2"}]}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL}, testLogger())
	entities, err := c.ListEntities(context.Background(), Filter{Environment: "staging"})
	if err != nil {
		t.Fatalf("ListEntities: %v", err)
	}
	if len(entities) != 2 {
		t.Errorf("expected 2 entities, got %d", len(entities))
	}
}

func TestClientErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error": "backend unavailable"}`))
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL}, testLogger())
	if _, err := c.ListEntities(context.Background(), Filter{}); err == nil {
		t.Error("expected error from error envelope")
	}
}
