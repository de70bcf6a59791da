package appagent

import (
	"context"
	"testing"

	"github.com/pkg/errors"
)

func TestHealthCheckHealthy(t *testing.T) {
	session := &stubSessionRunner{results: []map[string]any{{"healthy": true}}}
	supervisor, err := NewHealthSupervisor(session, "com.example.app", 6, 2)
	if err != nil {
		t.Fatalf("NewHealthSupervisor returned error: %v", err)
	}

	report := supervisor.Check(context.Background())
	if !report.Healthy || report.NeedsRestart {
		t.Fatalf("unexpected report %#v", report)
	}
}

func TestHealthCheckUnhealthyResultDemandsRestart(t *testing.T) {
	session := &stubSessionRunner{results: []map[string]any{{"healthy": false, "reason": "login wall"}}}
	supervisor, _ := NewHealthSupervisor(session, "com.example.app", 6, 2)

	report := supervisor.Check(context.Background())
	if report.Healthy {
		t.Fatalf("expected unhealthy report")
	}
	if !report.NeedsRestart {
		t.Fatalf("unrecoverable screen state must demand restart")
	}
	if report.Reason != "login wall" {
		t.Fatalf("expected reason from session, got %q", report.Reason)
	}
}

func TestHealthCheckStepBudgetDemandsRestart(t *testing.T) {
	session := &stubSessionRunner{errs: []error{errors.Wrap(ErrStepBudgetExceeded, "recovery")}}
	supervisor, _ := NewHealthSupervisor(session, "com.example.app", 6, 2)

	report := supervisor.Check(context.Background())
	if report.Healthy || !report.NeedsRestart {
		t.Fatalf("budget exhaustion must be unhealthy and restart-worthy, got %#v", report)
	}
}

func TestHealthCheckTransportThreshold(t *testing.T) {
	transport := errors.Wrap(ErrTransport, "adb gone")
	session := &stubSessionRunner{errs: []error{transport, transport, nil}, results: []map[string]any{nil, nil, {"healthy": true}}}
	supervisor, _ := NewHealthSupervisor(session, "com.example.app", 6, 2)

	first := supervisor.Check(context.Background())
	if first.Healthy || first.NeedsRestart {
		t.Fatalf("single transport failure must not restart, got %#v", first)
	}

	second := supervisor.Check(context.Background())
	if !second.NeedsRestart {
		t.Fatalf("second consecutive transport failure must restart, got %#v", second)
	}
}

func TestHealthCheckSuccessResetsTransportCounter(t *testing.T) {
	transport := errors.Wrap(ErrTransport, "adb gone")
	session := &stubSessionRunner{
		errs:    []error{transport, nil, transport},
		results: []map[string]any{nil, {"healthy": true}, nil},
	}
	supervisor, _ := NewHealthSupervisor(session, "com.example.app", 6, 2)

	supervisor.Check(context.Background())
	if report := supervisor.Check(context.Background()); !report.Healthy {
		t.Fatalf("expected healthy report, got %#v", report)
	}
	// Counter was reset, so this transport failure is the first of a new run.
	if report := supervisor.Check(context.Background()); report.NeedsRestart {
		t.Fatalf("transport failure after reset must not restart, got %#v", report)
	}
}
