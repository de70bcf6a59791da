package appagent

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// HealthReport is produced fresh on every check and never cached beyond the
// check interval.
type HealthReport struct {
	Healthy      bool
	Reason       string
	NeedsRestart bool
}

// HealthChecker probes the on-screen state of a running engine. Satisfied by
// *HealthSupervisor and by test fakes.
type HealthChecker interface {
	Check(ctx context.Context) HealthReport
}

// HealthSupervisor runs a bounded recovery session against the device: confirm
// the normal content view, otherwise dismiss overlays / navigate back /
// relaunch within the step budget and report the final state.
type HealthSupervisor struct {
	session  SessionRunner
	app      string
	maxSteps int

	// transportThreshold gates needsRestart on consecutive transport
	// failures; a single transient one is unhealthy but not restart-worthy.
	transportThreshold   int
	consecutiveTransport int
}

// NewHealthSupervisor wires a supervisor to a session runner. transportThreshold
// values below one default to two consecutive failures.
func NewHealthSupervisor(session SessionRunner, app string, maxSteps, transportThreshold int) (*HealthSupervisor, error) {
	if session == nil {
		return nil, errors.New("health supervisor: session runner is required")
	}
	if maxSteps <= 0 {
		maxSteps = 6
	}
	if transportThreshold <= 0 {
		transportThreshold = 2
	}
	return &HealthSupervisor{
		session:            session,
		app:                app,
		maxSteps:           maxSteps,
		transportThreshold: transportThreshold,
	}, nil
}

// Check never propagates an error; every outcome resolves to a HealthReport.
func (h *HealthSupervisor) Check(ctx context.Context) HealthReport {
	result, err := h.session.Run(ctx, SessionRequest{
		Goal: "Confirm the app's normal content feed is showing. If an overlay, dialog or " +
			"unexpected screen is in the way, try to recover: dismiss it, navigate back, " +
			"or relaunch " + h.app + ". Then finish with the final state.",
		Tools:        recoveryCatalogue("Report whether the content feed is showing.", healthResultSchema()),
		ResultSchema: healthResultSchema(),
		MaxSteps:     h.maxSteps,
	})
	if err != nil {
		return h.reportFailure(err)
	}
	h.consecutiveTransport = 0

	healthy, _ := result["healthy"].(bool)
	reason, _ := result["reason"].(string)
	if healthy {
		return HealthReport{Healthy: true}
	}
	if reason == "" {
		reason = "content feed not showing after recovery attempts"
	}
	return HealthReport{Healthy: false, Reason: reason, NeedsRestart: true}
}

func (h *HealthSupervisor) reportFailure(err error) HealthReport {
	switch {
	case errors.Is(err, ErrStepBudgetExceeded):
		h.consecutiveTransport = 0
		return HealthReport{
			Healthy:      false,
			Reason:       "recovery session exhausted its step budget",
			NeedsRestart: true,
		}
	case errors.Is(err, ErrTransport):
		h.consecutiveTransport++
		restart := h.consecutiveTransport >= h.transportThreshold
		log.Debug().
			Err(err).
			Int("consecutive", h.consecutiveTransport).
			Bool("restart", restart).
			Msg("health check transport failure")
		return HealthReport{
			Healthy:      false,
			Reason:       "transport failure during health check",
			NeedsRestart: restart,
		}
	default:
		h.consecutiveTransport = 0
		return HealthReport{
			Healthy: false,
			Reason:  "health session failed: " + err.Error(),
		}
	}
}

func healthResultSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"healthy": map[string]any{"type": "boolean"},
			"reason":  map[string]any{"type": "string"},
		},
		"required": []any{"healthy"},
	}
}
