package appagent

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	swipeDuration = 300 * time.Millisecond
	stepSettleMin = 300 * time.Millisecond
	stepSettleMax = 800 * time.Millisecond
)

// workTermination is the explicit terminal condition value of the Work loop.
type workTermination int

const (
	workContinue workTermination = iota
	workDailyLimitReached
	workErrorCeiling
)

// runWork iterates over content items until a terminal condition is produced:
// daily limit (normal completion), consecutive-error ceiling (abnormal), or
// cancellation. Per-action errors are counted and swallowed; only
// cancellation propagates as an error.
func (e *StageEngine) runWork(ctx context.Context) error {
	iteration := 0
	consecutiveErrors := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		termination, err := e.workIteration(ctx, iteration, &consecutiveErrors)
		if err != nil {
			return err
		}
		switch termination {
		case workDailyLimitReached:
			log.Info().
				Str("serial", e.device.Serial).
				Int("daily_limit", e.cfg.DailyLimit).
				Msg("daily action limit reached, work complete")
			return nil
		case workErrorCeiling:
			return errors.Errorf("halted after %d consecutive failures", e.cfg.MaxConsecutiveErrors)
		}
		iteration++
	}
}

// workIteration executes one content item strictly in order: watch,
// conditional health check, decide, act, advance. Later steps depend on
// state mutated by earlier ones, so no reordering.
func (e *StageEngine) workIteration(ctx context.Context, iteration int, consecutiveErrors *int) (workTermination, error) {
	// First item in a session is decided immediately, no watch wait.
	if iteration > 0 {
		if err := e.sleep(ctx, e.policy.WatchDuration()); err != nil {
			return workContinue, err
		}
	}

	if e.cfg.HealthCheckEvery > 0 && iteration > 0 && iteration%e.cfg.HealthCheckEvery == 0 {
		report := e.health.Check(ctx)
		e.storeHealth(report)
		if !report.Healthy {
			// Recovery already ran inside the check; the loop continues
			// regardless and the pool decides about restarts.
			log.Warn().
				Str("serial", e.device.Serial).
				Str("reason", report.Reason).
				Bool("needs_restart", report.NeedsRestart).
				Msg("health check reported unhealthy")
		}
	}

	action := e.policy.Decide()
	if err := e.performAction(ctx, action); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return workContinue, ctxErr
		}
		e.bumpErrors()
		*consecutiveErrors++
		log.Warn().
			Err(err).
			Str("serial", e.device.Serial).
			Str("action", action.String()).
			Int("consecutive_errors", *consecutiveErrors).
			Msg("work action failed")
	} else {
		*consecutiveErrors = 0
	}

	if err := e.advance(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return workContinue, ctxErr
		}
		e.bumpErrors()
		*consecutiveErrors++
		log.Warn().Err(err).Str("serial", e.device.Serial).Msg("advance to next item failed")
	}
	e.bumpVideos()

	stats := e.Stats()
	if stats.LikesGiven+stats.CommentsPosted >= int64(e.cfg.DailyLimit) {
		return workDailyLimitReached, nil
	}
	if *consecutiveErrors >= e.cfg.MaxConsecutiveErrors {
		return workErrorCeiling, nil
	}
	return workContinue, nil
}

// performAction executes the decided action using the learned coordinates. A
// missing coordinate is a precondition failure before any device call.
func (e *StageEngine) performAction(ctx context.Context, action Action) error {
	switch action {
	case ActionLike:
		return e.performLike(ctx)
	case ActionComment:
		return e.performComment(ctx)
	default:
		return nil
	}
}

func (e *StageEngine) performLike(ctx context.Context) error {
	learned := e.learnedUI()
	point, ok := learned.Point(RoleLike)
	if !ok {
		return errors.Wrapf(ErrPrecondition, "role %s not learned", RoleLike)
	}
	if err := e.surface.Tap(ctx, point.Point.X, point.Point.Y); err != nil {
		return errors.Wrap(err, "tap like")
	}
	e.bumpLikes()
	return nil
}

func (e *StageEngine) performComment(ctx context.Context) error {
	learned := e.learnedUI()
	required := []UIRole{RoleComment, RoleCommentInput, RoleCommentSend, RoleCommentClose}
	var missing []UIRole
	for _, role := range required {
		if _, ok := learned.Point(role); !ok {
			missing = append(missing, role)
		}
	}
	if len(missing) > 0 {
		return errors.Wrapf(ErrPrecondition, "roles not learned: %s", joinRoles(missing))
	}

	text := e.policy.CommentText(ctx, e.session)
	if text == "" {
		return errors.Wrap(ErrPrecondition, "empty comment text after sanitization")
	}

	steps := []actionStep{
		e.tapRoleStep(learned, RoleComment),
		e.settleStep(),
		e.tapRoleStep(learned, RoleCommentInput),
		e.settleStep(),
		{name: "type comment", run: func(ctx context.Context) error {
			return e.surface.TypeText(ctx, text)
		}},
		e.settleStep(),
		e.tapRoleStep(learned, RoleCommentSend),
		e.settleStep(),
		e.tapRoleStep(learned, RoleCommentClose),
	}
	if err := runSteps(ctx, steps); err != nil {
		return err
	}
	e.bumpComments()
	return nil
}

// advance scrolls to the next content item with a randomized settle delay.
func (e *StageEngine) advance(ctx context.Context) error {
	width, height := e.screen.Width, e.screen.Height
	if width <= 0 || height <= 0 {
		return errors.Wrap(ErrPrecondition, "screen size unknown")
	}
	x := width / 2
	fromY := height * 7 / 10
	toY := height / 4
	if err := e.surface.Swipe(ctx, x, fromY, x, toY, swipeDuration); err != nil {
		return errors.Wrap(err, "swipe to next item")
	}
	return e.sleep(ctx, e.policy.settleDuration(e.cfg.ScrollSettleMin, e.cfg.ScrollSettleMax))
}

// actionStep is one fallible step of a scripted device sequence. Sequences
// run through a small interpreter so failure injection can stop at any index.
type actionStep struct {
	name string
	run  func(ctx context.Context) error
}

func runSteps(ctx context.Context, steps []actionStep) error {
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := step.run(ctx); err != nil {
			return errors.Wrapf(err, "step %q", step.name)
		}
	}
	return nil
}

func (e *StageEngine) tapRoleStep(learned LearnedCoordinates, role UIRole) actionStep {
	return actionStep{
		name: "tap " + string(role),
		run: func(ctx context.Context) error {
			point, ok := learned.Point(role)
			if !ok {
				return errors.Wrapf(ErrPrecondition, "role %s not learned", role)
			}
			return e.surface.Tap(ctx, point.Point.X, point.Point.Y)
		},
	}
}

func (e *StageEngine) settleStep() actionStep {
	return actionStep{
		name: "settle",
		run: func(ctx context.Context) error {
			return e.sleep(ctx, e.policy.settleDuration(stepSettleMin, stepSettleMax))
		},
	}
}
