package appagent

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// runLearn resolves all five UI roles via one tool-calling session and then
// rehearses the comment flow live. The engine only enters Work once every
// role is found and the rehearsal succeeds; otherwise Learn retries up to its
// bounded attempt count.
func (e *StageEngine) runLearn(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= e.cfg.LearnAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = e.learnOnce(ctx)
		if lastErr == nil {
			return nil
		}
		log.Warn().
			Err(lastErr).
			Str("serial", e.device.Serial).
			Int("attempt", attempt).
			Int("max_attempts", e.cfg.LearnAttempts).
			Msg("learn attempt failed")
		if attempt < e.cfg.LearnAttempts {
			if err := e.sleep(ctx, e.cfg.RetryBackoff); err != nil {
				return err
			}
		}
	}
	return errors.Wrapf(lastErr, "after %d attempts", e.cfg.LearnAttempts)
}

func (e *StageEngine) learnOnce(ctx context.Context) error {
	result, err := e.session.Run(ctx, SessionRequest{
		Goal: "Locate these controls on the current video screen of " + e.cfg.App + ": " +
			joinRoles(requiredUIRoles()) + ". The comment input, send and close controls " +
			"appear after opening the comment panel; open it, note their positions, then " +
			"close it again. Finish with the coordinates and a confidence per role; mark " +
			"found=false for anything you cannot locate.",
		Tools:        learnCatalogue("Report the located UI roles.", learnResultSchema()),
		ResultSchema: learnResultSchema(),
		MaxSteps:     e.cfg.SessionMaxSteps,
	})
	if err != nil {
		return errors.Wrap(err, "learn session")
	}

	learned, err := parseLearnedCoordinates(result)
	if err != nil {
		return errors.Wrapf(ErrSchemaViolation, "%v", err)
	}
	if missing := learned.Missing(); len(missing) > 0 {
		return errors.Errorf("learn incomplete, missing roles: %s", joinRoles(missing))
	}

	if err := e.rehearseCommentFlow(ctx, learned); err != nil {
		return errors.Wrap(err, "comment rehearsal")
	}

	e.storeLearned(learned)
	log.Info().Str("serial", e.device.Serial).Msg("ui roles learned")
	return nil
}

// rehearseCommentFlow exercises the learned comment coordinates end to end
// with a literal probe string, verifying the posted text actually appears
// before trusting the coordinates for real comments.
func (e *StageEngine) rehearseCommentFlow(ctx context.Context, learned LearnedCoordinates) error {
	steps := []actionStep{
		e.tapRoleStep(learned, RoleComment),
		e.settleStep(),
		e.tapRoleStep(learned, RoleCommentInput),
		e.settleStep(),
		{name: "type probe", run: func(ctx context.Context) error {
			return e.surface.TypeText(ctx, e.cfg.CommentProbe)
		}},
		e.settleStep(),
		e.tapRoleStep(learned, RoleCommentSend),
		e.settleStep(),
		{name: "verify probe", run: e.verifyProbeVisible},
		e.tapRoleStep(learned, RoleCommentClose),
	}
	return runSteps(ctx, steps)
}

func (e *StageEngine) verifyProbeVisible(ctx context.Context) error {
	result, err := e.session.Run(ctx, SessionRequest{
		Goal: "Look at the screen and confirm the text \"" + e.cfg.CommentProbe + "\" now " +
			"appears in the comment area.",
		Tools:        inspectionCatalogue("Report whether the probe text is visible.", readinessResultSchema()),
		ResultSchema: readinessResultSchema(),
		MaxSteps:     4,
	})
	if err != nil {
		return err
	}
	if success, _ := result["success"].(bool); !success {
		return errors.New("probe text not visible after send")
	}
	return nil
}
