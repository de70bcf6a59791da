package appagent

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Stage is one phase of the per-device state machine.
type Stage string

const (
	StageInitiate Stage = "initiate"
	StageLearn    Stage = "learn"
	StageWork     Stage = "work"
	StageStopped  Stage = "stopped"
)

// RunStats are the monotonically increasing counters owned by one engine.
// Never decremented; reset only on process restart.
type RunStats struct {
	VideosProcessed int64
	LikesGiven      int64
	CommentsPosted  int64
	ErrorCount      int64
}

// EngineConfig controls a single StageEngine.
type EngineConfig struct {
	// App is the package id of the application under automation.
	App         string
	AppActivity string

	// DailyLimit stops the Work loop once likes+comments reach it.
	DailyLimit int
	// HealthCheckEvery runs the health probe every Nth content item.
	HealthCheckEvery int
	// MaxConsecutiveErrors halts Work after that many failures without an
	// intervening success.
	MaxConsecutiveErrors int

	InitiateAttempts int
	LearnAttempts    int
	SessionMaxSteps  int
	HealthMaxSteps   int
	// HealthTransportThreshold is the consecutive transport-failure count
	// after which a health check demands a restart.
	HealthTransportThreshold int

	// CommentProbe is the literal string typed during the Learn practice run.
	CommentProbe string

	ScrollSettleMin time.Duration
	ScrollSettleMax time.Duration
	LaunchSettle    time.Duration
	RetryBackoff    time.Duration

	Policy PolicyConfig
}

func (c *EngineConfig) withDefaults() {
	if c.DailyLimit <= 0 {
		c.DailyLimit = 200
	}
	if c.HealthCheckEvery <= 0 {
		c.HealthCheckEvery = 20
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = 5
	}
	if c.InitiateAttempts <= 0 {
		c.InitiateAttempts = 3
	}
	if c.LearnAttempts <= 0 {
		c.LearnAttempts = 2
	}
	if c.SessionMaxSteps <= 0 {
		c.SessionMaxSteps = 12
	}
	if c.HealthMaxSteps <= 0 {
		c.HealthMaxSteps = 6
	}
	if c.HealthTransportThreshold <= 0 {
		c.HealthTransportThreshold = 2
	}
	if c.CommentProbe == "" {
		c.CommentProbe = "hello"
	}
	if c.ScrollSettleMin <= 0 {
		c.ScrollSettleMin = 500 * time.Millisecond
	}
	if c.ScrollSettleMax < c.ScrollSettleMin {
		c.ScrollSettleMax = c.ScrollSettleMin + time.Second
	}
	if c.LaunchSettle <= 0 {
		c.LaunchSettle = 3 * time.Second
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 5 * time.Second
	}
	c.Policy.withDefaults()
}

// EngineSnapshot is the immutable view the pool reads. The engine goroutine
// remains the only writer of the underlying state.
type EngineSnapshot struct {
	Device    Device
	Stage     Stage
	Stats     RunStats
	Health    HealthReport
	LastError string
}

// StageEngine drives one device through Initiate, Learn and Work. All state
// is owned by the engine's goroutine; outside readers get snapshots only.
type StageEngine struct {
	device  Device
	surface DeviceSurface
	session SessionRunner
	policy  *ActionPolicy
	health  HealthChecker
	cfg     EngineConfig

	// sleep is injectable so tests can compress deliberate delays.
	sleep func(ctx context.Context, d time.Duration) error

	mu         sync.Mutex
	stage      Stage
	stats      RunStats
	learned    LearnedCoordinates
	lastHealth HealthReport
	lastErr    error

	screen ScreenSize
}

// NewStageEngine wires an engine for one device: its own session loop, action
// policy and health supervisor on top of the two capability surfaces.
func NewStageEngine(device Device, surface DeviceSurface, model ModelSurface, cfg EngineConfig) (*StageEngine, error) {
	if surface == nil {
		return nil, errors.New("stage engine: device surface is required")
	}
	cfg.withDefaults()
	session, err := NewSession(model, surface)
	if err != nil {
		return nil, err
	}
	health, err := NewHealthSupervisor(session, cfg.App, cfg.HealthMaxSteps, cfg.HealthTransportThreshold)
	if err != nil {
		return nil, err
	}
	return &StageEngine{
		device:  device,
		surface: surface,
		session: session,
		policy:  NewActionPolicy(cfg.Policy),
		health:  health,
		cfg:     cfg,
		sleep:   sleepContext,
		stage:   StageInitiate,
	}, nil
}

// Run executes the stage machine until a terminal condition. The returned
// error is nil on normal completion (daily limit reached or cancellation),
// non-nil when a stage failed; either way the engine ends Stopped.
func (e *StageEngine) Run(ctx context.Context) error {
	defer e.setStage(StageStopped)

	e.setStage(StageInitiate)
	if err := e.runInitiate(ctx); err != nil {
		e.recordError(err)
		return errors.Wrapf(err, "device %s: initiate", e.device.Serial)
	}

	e.setStage(StageLearn)
	if err := e.runLearn(ctx); err != nil {
		e.recordError(err)
		return errors.Wrapf(err, "device %s: learn", e.device.Serial)
	}

	e.setStage(StageWork)
	if err := e.runWork(ctx); err != nil {
		e.recordError(err)
		return errors.Wrapf(err, "device %s: work", e.device.Serial)
	}
	return nil
}

// Snapshot returns a consistent copy of the engine state for outside readers.
func (e *StageEngine) Snapshot() EngineSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	snapshot := EngineSnapshot{
		Device: e.device,
		Stage:  e.stage,
		Stats:  e.stats,
		Health: e.lastHealth,
	}
	if e.lastErr != nil {
		snapshot.LastError = e.lastErr.Error()
	}
	return snapshot
}

// Stats returns a copy of the run counters.
func (e *StageEngine) Stats() RunStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

func (e *StageEngine) setStage(stage Stage) {
	e.mu.Lock()
	prev := e.stage
	e.stage = stage
	e.mu.Unlock()
	if prev != stage {
		log.Info().
			Str("serial", e.device.Serial).
			Str("from", string(prev)).
			Str("to", string(stage)).
			Msg("engine stage transition")
	}
}

func (e *StageEngine) recordError(err error) {
	e.mu.Lock()
	e.lastErr = err
	e.mu.Unlock()
}

func (e *StageEngine) storeLearned(learned LearnedCoordinates) {
	e.mu.Lock()
	e.learned = learned
	e.mu.Unlock()
}

func (e *StageEngine) learnedUI() LearnedCoordinates {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.learned
}

func (e *StageEngine) storeHealth(report HealthReport) {
	e.mu.Lock()
	e.lastHealth = report
	e.mu.Unlock()
}

func (e *StageEngine) bumpVideos() {
	e.mu.Lock()
	e.stats.VideosProcessed++
	e.mu.Unlock()
}

func (e *StageEngine) bumpLikes() {
	e.mu.Lock()
	e.stats.LikesGiven++
	e.mu.Unlock()
}

func (e *StageEngine) bumpComments() {
	e.mu.Lock()
	e.stats.CommentsPosted++
	e.mu.Unlock()
}

func (e *StageEngine) bumpErrors() {
	e.mu.Lock()
	e.stats.ErrorCount++
	e.mu.Unlock()
}

// sleepContext waits for the duration or the context, whichever ends first.
// Every deliberate delay in the engine goes through this so cancellation is
// observed mid-sleep.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
