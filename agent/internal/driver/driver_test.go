package driver

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/fleetops/deployhub/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNoopDriverEchoesTargetVersion(t *testing.T) {
	d := NewNoopDriver(testLogger())

	observed, err := d.Apply(context.Background(), types.DispatchedPlan{
		PlanID:        "p1",
		EntityID:      "e1",
		Operation:     types.OperationUpdate,
		TargetVersion: "2.0.0",
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if observed != "2.0.0" {
		t.Errorf("expected observed version 2.0.0, got %q", observed)
	}
}

func TestNoopDriverRemoveHasNoVersion(t *testing.T) {
	d := NewNoopDriver(testLogger())

	observed, err := d.Apply(context.Background(), types.DispatchedPlan{
		PlanID:    "p1",
		EntityID:  "e1",
		Operation: types.OperationRemove,
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if observed != "" {
		t.Errorf("expected empty observed version for remove, got %q", observed)
	}
}

func TestExecDriverRequiresCommand(t *testing.T) {
	d := NewExecDriver("", time.Minute, testLogger())

	_, err := d.Apply(context.Background(), types.DispatchedPlan{PlanID: "p1"})
	if err == nil {
		t.Fatal("expected error with no command configured")
	}
}

func TestExecDriverSuccess(t *testing.T) {
	d := NewExecDriver("true", time.Minute, testLogger())

	observed, err := d.Apply(context.Background(), types.DispatchedPlan{
		PlanID:        "p1",
		EntityID:      "e1",
		ProductID:     "prod-1",
		Operation:     types.OperationCreate,
		TargetVersion: "1.0.0",
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if observed != "1.0.0" {
		t.Errorf("expected observed version 1.0.0, got %q", observed)
	}
}

func TestExecDriverFailureIncludesOutput(t *testing.T) {
	d := NewExecDriver("/nonexistent/deployhub-op", time.Minute, testLogger())

	_, err := d.Apply(context.Background(), types.DispatchedPlan{
		PlanID:    "p1",
		EntityID:  "e1",
		Operation: types.OperationUpdate,
	})
	if err == nil {
		t.Fatal("expected error from missing command")
	}
	if !strings.Contains(err.Error(), "e1") {
		t.Errorf("error should name the entity: %v", err)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("unexpected: %q", got)
	}
	long := strings.Repeat("x", 600)
	got := truncate(long, 512)
	if len(got) != 515 || !strings.HasSuffix(got, "...") {
		t.Errorf("unexpected truncation: len=%d", len(got))
	}
}
