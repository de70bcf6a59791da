package appagent

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Action is the per-item decision in the Work stage.
type Action int

const (
	ActionSkip Action = iota
	ActionLike
	ActionComment
)

func (a Action) String() string {
	switch a {
	case ActionLike:
		return "like"
	case ActionComment:
		return "comment"
	default:
		return "skip"
	}
}

// PolicyConfig is the injected policy table: probabilities, watch ranges and
// comment sources. Runtime configuration, never hard-coded by callers.
type PolicyConfig struct {
	LikeChance      float64
	CommentChance   float64
	QuickSkipChance float64
	QuickSkipWatch  time.Duration
	WatchMin        time.Duration
	WatchMax        time.Duration

	CommentTemplates []string
	AIComments       bool
	// CommentMaxSteps bounds the dedicated comment-generation session.
	CommentMaxSteps int
}

func (c *PolicyConfig) withDefaults() {
	if c.QuickSkipWatch <= 0 {
		c.QuickSkipWatch = 2 * time.Second
	}
	if c.WatchMin <= 0 {
		c.WatchMin = 5 * time.Second
	}
	if c.WatchMax < c.WatchMin {
		c.WatchMax = c.WatchMin
	}
	if len(c.CommentTemplates) == 0 {
		c.CommentTemplates = defaultCommentTemplates()
	}
	if c.CommentMaxSteps <= 0 {
		c.CommentMaxSteps = 4
	}
}

func defaultCommentTemplates() []string {
	return []string{
		"nice one",
		"love this",
		"so good",
		"great video",
		"this made my day",
	}
}

// ActionPolicy draws the stochastic per-item decisions for the Work stage.
// Safe for use by a single engine goroutine; the mutex only guards the shared
// rand source against the health poller reading watch durations concurrently.
type ActionPolicy struct {
	cfg PolicyConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewActionPolicy builds a policy seeded from the wall clock.
func NewActionPolicy(cfg PolicyConfig) *ActionPolicy {
	return newActionPolicy(cfg, rand.NewSource(time.Now().UnixNano()))
}

func newActionPolicy(cfg PolicyConfig, source rand.Source) *ActionPolicy {
	cfg.withDefaults()
	return &ActionPolicy{cfg: cfg, rng: rand.New(source)}
}

// Decide draws the action for one content item. The comment roll is evaluated
// before the like roll, so commentChance and likeChance are independent
// probabilities as long as their sum stays below one.
func (p *ActionPolicy) Decide() Action {
	p.mu.Lock()
	commentRoll := p.rng.Float64()
	likeRoll := p.rng.Float64()
	p.mu.Unlock()

	switch {
	case commentRoll < p.cfg.CommentChance:
		return ActionComment
	case likeRoll < p.cfg.LikeChance:
		return ActionLike
	default:
		return ActionSkip
	}
}

// WatchDuration draws how long to dwell on the current item: a quick skip
// with the configured probability, otherwise uniform in [WatchMin, WatchMax].
func (p *ActionPolicy) WatchDuration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rng.Float64() < p.cfg.QuickSkipChance {
		return p.cfg.QuickSkipWatch
	}
	spread := p.cfg.WatchMax - p.cfg.WatchMin
	if spread <= 0 {
		return p.cfg.WatchMin
	}
	return p.cfg.WatchMin + time.Duration(p.rng.Int63n(int64(spread)))
}

// settleDuration draws a small randomized delay within [min, max].
func (p *ActionPolicy) settleDuration(min, max time.Duration) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if max <= min {
		return min
	}
	return min + time.Duration(p.rng.Int63n(int64(max-min)))
}

// TemplateComment picks one canned comment uniformly.
func (p *ActionPolicy) TemplateComment() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.CommentTemplates[p.rng.Intn(len(p.cfg.CommentTemplates))]
}

// CommentText produces the text to post for the current item. When AI
// generation is enabled it runs a dedicated session that inspects the screen
// and returns a short phrase; any session failure falls back to the template
// path. The result is always sanitized for the device text input.
func (p *ActionPolicy) CommentText(ctx context.Context, session SessionRunner) string {
	if p.cfg.AIComments && session != nil {
		result, err := session.Run(ctx, SessionRequest{
			Goal: "Look at the current video and write one short, casual, positive comment " +
				"about it. Plain ASCII only, no emoji, at most eight words. " +
				"Finish with the comment text.",
			Tools:        inspectionCatalogue("Report the comment text.", commentResultSchema()),
			ResultSchema: commentResultSchema(),
			MaxSteps:     p.cfg.CommentMaxSteps,
		})
		if err == nil {
			if text, ok := result["text"].(string); ok {
				if sanitized := SanitizeComment(text); sanitized != "" {
					return sanitized
				}
			}
		} else {
			log.Debug().Err(err).Msg("ai comment generation failed, falling back to template")
		}
	}
	return SanitizeComment(p.TemplateComment())
}

func commentResultSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{"type": "string"},
		},
		"required": []any{"text"},
	}
}

// SanitizeComment reduces comment text to what the device text-input
// primitive handles reliably: lowercase ASCII letters, digits and single
// spaces. Idempotent on already-sanitized input.
func SanitizeComment(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	lastSpace := true
	for _, r := range strings.ToLower(text) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		case r == ' ' || r == '\t' || r == '\n':
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}
