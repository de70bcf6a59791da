package appagent

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// runInitiate verifies device reachability, brings the target app to the
// foreground and confirms via a bounded session that the main interface is
// loaded. Bounded retries, then escalation to the pool.
func (e *StageEngine) runInitiate(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.InitiateAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = e.initiateOnce(ctx)
		if lastErr == nil {
			return nil
		}
		log.Warn().
			Err(lastErr).
			Str("serial", e.device.Serial).
			Int("attempt", attempt).
			Int("max_attempts", e.cfg.InitiateAttempts).
			Msg("initiate attempt failed")
		if attempt < e.cfg.InitiateAttempts {
			// Force-stop before the retry so the next launch starts clean.
			if err := e.surface.TerminateApp(ctx, e.cfg.App); err != nil {
				log.Debug().Err(err).Str("serial", e.device.Serial).Msg("force-stop before retry failed")
			}
			if err := e.sleep(ctx, e.cfg.RetryBackoff); err != nil {
				return err
			}
		}
	}
	return errors.Wrapf(lastErr, "after %d attempts", e.cfg.InitiateAttempts)
}

func (e *StageEngine) initiateOnce(ctx context.Context) error {
	// Screen-size query doubles as the reachability probe.
	size, err := e.surface.ScreenSize(ctx)
	if err != nil {
		return errors.Wrapf(ErrTransport, "device unreachable: %v", err)
	}
	e.screen = size

	if err := e.surface.LaunchApp(ctx, e.cfg.App, e.cfg.AppActivity); err != nil {
		return errors.Wrapf(ErrTransport, "launch %s: %v", e.cfg.App, err)
	}
	if err := e.sleep(ctx, e.cfg.LaunchSettle); err != nil {
		return err
	}

	result, err := e.session.Run(ctx, SessionRequest{
		Goal: "Confirm the main interface of " + e.cfg.App + " is loaded and showing its " +
			"content feed. Look at the screen first. Finish with success=true only when " +
			"the feed is visible.",
		Tools:        inspectionCatalogue("Report whether the main interface is loaded.", readinessResultSchema()),
		ResultSchema: readinessResultSchema(),
		MaxSteps:     e.cfg.SessionMaxSteps,
	})
	if err != nil {
		return errors.Wrap(err, "readiness session")
	}
	success, _ := result["success"].(bool)
	if !success {
		reason, _ := result["reason"].(string)
		if reason == "" {
			reason = "main interface not confirmed"
		}
		return errors.New("readiness check: " + reason)
	}
	log.Info().
		Str("serial", e.device.Serial).
		Int("width", size.Width).
		Int("height", size.Height).
		Msg("device initiated")
	return nil
}

func readinessResultSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"success": map[string]any{"type": "boolean"},
			"reason":  map[string]any{"type": "string"},
		},
		"required": []any{"success"},
	}
}
