package appagent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"
)

// SafeGroup is an errgroup.Group hardened for long-running device workers:
// GoSafe restarts a goroutine that panics (with backoff) instead of taking
// the whole pool down, and WaitOrInterrupt bounds the shutdown drain.
type SafeGroup struct {
	*errgroup.Group
	ctx    context.Context
	parent context.Context
}

// NewSafeGroup creates a SafeGroup backed by errgroup.WithContext. The
// derived context cancels on parent cancellation or the first non-nil worker
// error.
func NewSafeGroup(ctx context.Context) *SafeGroup {
	if ctx == nil {
		ctx = context.Background()
	}
	group, groupCtx := errgroup.WithContext(ctx)
	return &SafeGroup{Group: group, ctx: groupCtx, parent: ctx}
}

// Context returns the group-derived context workers should run under.
func (sg *SafeGroup) Context() context.Context {
	if sg == nil || sg.ctx == nil {
		return context.Background()
	}
	return sg.ctx
}

// GoSafe runs fn in a group goroutine. A panic does not cancel siblings: it
// is logged to stderr and fn restarts with exponential backoff. A returned
// error keeps errgroup semantics and cancels the group.
//
// Stderr rather than the structured logger: a panic may originate inside the
// logger itself.
func (sg *SafeGroup) GoSafe(name string, fn func(context.Context) error) {
	if sg == nil || sg.Group == nil || fn == nil {
		return
	}
	sg.Group.Go(func() (err error) {
		backoff := 200 * time.Millisecond
		const maxBackoff = 30 * time.Second
		for {
			select {
			case <-sg.ctx.Done():
				return nil
			default:
			}

			panicked := false
			var recovered any
			func() {
				defer func() {
					if r := recover(); r != nil {
						panicked = true
						recovered = r
					}
				}()
				err = fn(sg.ctx)
			}()
			if !panicked {
				return err
			}

			_, _ = fmt.Fprintf(os.Stderr, "WARN: %s panicked: %v\n%s\n", name, recovered, debug.Stack())
			jitter := time.Duration(0)
			if jitterMax := backoff / 2; jitterMax > 0 {
				jitter = time.Duration(time.Now().UnixNano() % int64(jitterMax))
			}
			time.Sleep(backoff + jitter)
			if backoff *= 2; backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	})
}

// WaitOrInterrupt waits for all goroutines, but once the parent context is
// canceled it waits at most gracePeriod before returning the parent's error.
func (sg *SafeGroup) WaitOrInterrupt(gracePeriod time.Duration) error {
	if sg == nil || sg.Group == nil {
		return nil
	}
	if sg.parent == nil {
		return sg.Group.Wait()
	}

	waitCh := make(chan error, 1)
	go func() {
		waitCh <- sg.Group.Wait()
	}()

	select {
	case err := <-waitCh:
		return normalizeInterruptError(sg.parent, err)
	case <-sg.parent.Done():
		if gracePeriod <= 0 {
			return sg.parent.Err()
		}
		select {
		case err := <-waitCh:
			return normalizeInterruptError(sg.parent, err)
		case <-time.After(gracePeriod):
			return sg.parent.Err()
		}
	}
}

func normalizeInterruptError(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}
