package appagent

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// PoolConfig controls WorkerPool behavior.
type PoolConfig struct {
	Provider DeviceProvider
	Surfaces SurfaceFactory
	Model    ModelSurface
	Engine   EngineConfig
	Recorder RunRecorder

	MonitorInterval time.Duration
	ShutdownGrace   time.Duration
	RestartBackoff  time.Duration
	// MaxRestarts caps how often a single device engine is recreated after
	// failures; 0 means no cap.
	MaxRestarts int

	// DeviceFilter restricts the pool to a single serial when set.
	DeviceFilter string
	// MaxDevices caps how many discovered devices get an engine; 0 = all.
	MaxDevices int

	AgentVersion string
}

// metaProber is optionally implemented by providers that can fetch device
// facts (OS version, root) for the run recorder.
type metaProber interface {
	DeviceMeta(serial string) DeviceMeta
}

// WorkerPool owns one StageEngine per discovered device: it spawns them,
// monitors health snapshots, restarts failed engines and drives the shutdown
// protocol. Engines never share mutable state; the pool reads snapshots and
// sends commands (cancel/recreate) only.
type WorkerPool struct {
	cfg      PoolConfig
	recorder RunRecorder

	mu      sync.Mutex
	group   *SafeGroup
	workers map[string]*engineWorker
}

type engineWorker struct {
	device   Device
	engine   *StageEngine
	meta     DeviceMeta
	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once
	startAt  time.Time
	restarts int

	mu       sync.Mutex
	finished bool
	runErr   error
	retired  bool
}

func (w *engineWorker) finish(err error) {
	w.mu.Lock()
	w.finished = true
	w.runErr = err
	w.mu.Unlock()
	w.doneOnce.Do(func() { close(w.done) })
}

func (w *engineWorker) terminal() (finished bool, runErr error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.finished, w.runErr
}

func (w *engineWorker) retire() {
	w.mu.Lock()
	w.retired = true
	w.mu.Unlock()
}

func (w *engineWorker) isRetired() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.retired
}

// NewWorkerPool validates collaborators and applies defaults.
func NewWorkerPool(cfg PoolConfig) (*WorkerPool, error) {
	if cfg.Provider == nil {
		return nil, errors.New("worker pool: device provider is required")
	}
	if cfg.Surfaces == nil {
		return nil, errors.New("worker pool: surface factory is required")
	}
	if cfg.Model == nil {
		return nil, errors.New("worker pool: model surface is required")
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = 30 * time.Second
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 30 * time.Second
	}
	if cfg.RestartBackoff <= 0 {
		cfg.RestartBackoff = 10 * time.Second
	}
	cfg.Engine.withDefaults()

	recorder := cfg.Recorder
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &WorkerPool{
		cfg:      cfg,
		recorder: recorder,
		workers:  make(map[string]*engineWorker),
	}, nil
}

// Run discovers devices, spawns one engine per device and blocks until every
// engine reached a terminal state or the context is canceled. It returns a
// FatalStartupError when no device could ever be engaged; cancellation is a
// graceful shutdown, not an error.
func (p *WorkerPool) Run(ctx context.Context) error {
	devices, err := p.discoverDevices(ctx)
	if err != nil {
		return errors.Wrapf(ErrFatalStartup, "discover devices: %v", err)
	}
	if len(devices) == 0 {
		return errors.Wrap(ErrFatalStartup, "no connected devices discovered")
	}

	group := NewSafeGroup(ctx)
	p.mu.Lock()
	p.group = group
	p.mu.Unlock()

	started := 0
	for _, device := range devices {
		if err := p.spawn(device, 0); err != nil {
			log.Error().Err(err).Str("serial", device.Serial).Msg("spawn engine failed")
			continue
		}
		started++
	}
	if started == 0 {
		return errors.Wrap(ErrFatalStartup, "no engine could be started")
	}
	log.Info().Int("engines", started).Msg("worker pool started")

	group.GoSafe("pool-monitor", p.monitorLoop)

	err = group.WaitOrInterrupt(p.cfg.ShutdownGrace)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (p *WorkerPool) discoverDevices(ctx context.Context) ([]Device, error) {
	all, err := p.cfg.Provider.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	devices := make([]Device, 0, len(all))
	for _, device := range all {
		if p.cfg.DeviceFilter != "" && device.Serial != p.cfg.DeviceFilter {
			continue
		}
		if device.Status != DeviceStatusConnected {
			log.Warn().
				Str("serial", device.Serial).
				Str("status", string(device.Status)).
				Msg("skipping device that is not ready")
			continue
		}
		devices = append(devices, device)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Serial < devices[j].Serial })
	if p.cfg.MaxDevices > 0 && len(devices) > p.cfg.MaxDevices {
		devices = devices[:p.cfg.MaxDevices]
	}
	return devices, nil
}

// spawn binds a device to a fresh engine and starts it as an independently
// scheduled worker. One device failing to spawn never blocks the others.
func (p *WorkerPool) spawn(device Device, restarts int) error {
	surface, err := p.cfg.Surfaces.Surface(device)
	if err != nil {
		return errors.Wrap(err, "bind device surface")
	}
	engine, err := NewStageEngine(device, surface, p.cfg.Model, p.cfg.Engine)
	if err != nil {
		return errors.Wrap(err, "create engine")
	}

	p.mu.Lock()
	group := p.group
	p.mu.Unlock()
	workerCtx, cancel := context.WithCancel(group.Context())
	worker := &engineWorker{
		device:   device,
		engine:   engine,
		cancel:   cancel,
		done:     make(chan struct{}),
		startAt:  time.Now(),
		restarts: restarts,
	}
	if prober, ok := p.cfg.Provider.(metaProber); ok {
		worker.meta = prober.DeviceMeta(device.Serial)
	}

	p.mu.Lock()
	p.workers[device.Serial] = worker
	p.mu.Unlock()

	group.GoSafe("engine-"+device.Serial, func(context.Context) error {
		runErr := engine.Run(workerCtx)
		switch {
		case runErr == nil:
			log.Info().Str("serial", device.Serial).Msg("engine completed")
		case errors.Is(runErr, context.Canceled):
			log.Info().Str("serial", device.Serial).Msg("engine stopped by cancellation")
			runErr = nil
		default:
			log.Error().Err(runErr).Str("serial", device.Serial).Msg("engine failed")
		}
		worker.finish(runErr)
		return nil
	})
	log.Info().Str("serial", device.Serial).Int("restarts", restarts).Msg("engine started")
	return nil
}

func (p *WorkerPool) monitorLoop(ctx context.Context) error {
	// Fast-start: record and inspect immediately instead of waiting a tick.
	p.monitorCycle(ctx)

	ticker := time.NewTicker(p.cfg.MonitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.recordSnapshots(context.Background())
			return nil
		case <-ticker.C:
			if done := p.monitorCycle(ctx); done {
				log.Info().Msg("all engines terminal, worker pool draining")
				return nil
			}
		}
	}
}

// monitorCycle records snapshots and applies restart decisions. Returns true
// once every engine is terminal and nothing remains restartable.
func (p *WorkerPool) monitorCycle(ctx context.Context) bool {
	p.recordSnapshots(ctx)

	p.mu.Lock()
	workers := make([]*engineWorker, 0, len(p.workers))
	for _, worker := range p.workers {
		workers = append(workers, worker)
	}
	p.mu.Unlock()

	live := 0
	for _, worker := range workers {
		if worker.isRetired() {
			continue
		}
		finished, runErr := worker.terminal()
		snapshot := worker.engine.Snapshot()
		switch {
		case finished && runErr != nil:
			p.restartWorker(ctx, worker)
		case finished:
			// Normal completion (daily limit); leave it stopped.
			worker.retire()
		case snapshot.Health.NeedsRestart:
			log.Warn().
				Str("serial", worker.device.Serial).
				Str("reason", snapshot.Health.Reason).
				Msg("health snapshot demands engine restart")
			p.restartWorker(ctx, worker)
		default:
			live++
		}
	}

	p.logProgress(live)
	return live == 0 && p.pendingRestarts() == 0
}

func (p *WorkerPool) pendingRestarts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	pending := 0
	for _, worker := range p.workers {
		if worker.isRetired() {
			continue
		}
		if finished, _ := worker.terminal(); !finished {
			pending++
		}
	}
	return pending
}

// restartWorker stops one engine, drains it within the shutdown grace, then
// re-discovers the device and spawns a fresh engine. Other engines are
// unaffected.
func (p *WorkerPool) restartWorker(ctx context.Context, worker *engineWorker) {
	serial := worker.device.Serial
	if p.cfg.MaxRestarts > 0 && worker.restarts >= p.cfg.MaxRestarts {
		log.Error().
			Str("serial", serial).
			Int("restarts", worker.restarts).
			Msg("engine exceeded restart budget, giving up on device")
		worker.retire()
		return
	}

	worker.cancel()
	select {
	case <-worker.done:
	case <-time.After(p.cfg.ShutdownGrace):
		log.Warn().Str("serial", serial).Msg("engine did not drain within grace, abandoning")
	case <-ctx.Done():
		return
	}
	worker.retire()

	if err := sleepContext(ctx, p.cfg.RestartBackoff); err != nil {
		return
	}

	devices, err := p.discoverDevices(ctx)
	if err != nil {
		log.Error().Err(err).Str("serial", serial).Msg("re-discovery for restart failed")
		return
	}
	for _, device := range devices {
		if device.Serial != serial {
			continue
		}
		if err := p.spawn(device, worker.restarts+1); err != nil {
			log.Error().Err(err).Str("serial", serial).Msg("respawn engine failed")
		}
		return
	}
	log.Warn().Str("serial", serial).Msg("device no longer connected, dropping engine")
	p.mu.Lock()
	delete(p.workers, serial)
	p.mu.Unlock()
}

// Snapshots returns a consistent view of every engine, sorted by serial.
func (p *WorkerPool) Snapshots() []EngineSnapshot {
	p.mu.Lock()
	workers := make([]*engineWorker, 0, len(p.workers))
	for _, worker := range p.workers {
		workers = append(workers, worker)
	}
	p.mu.Unlock()

	snapshots := make([]EngineSnapshot, 0, len(workers))
	for _, worker := range workers {
		snapshots = append(snapshots, worker.engine.Snapshot())
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Device.Serial < snapshots[j].Device.Serial
	})
	return snapshots
}

// TotalStats aggregates the counters across all engines.
func (p *WorkerPool) TotalStats() RunStats {
	var total RunStats
	for _, snapshot := range p.Snapshots() {
		total.VideosProcessed += snapshot.Stats.VideosProcessed
		total.LikesGiven += snapshot.Stats.LikesGiven
		total.CommentsPosted += snapshot.Stats.CommentsPosted
		total.ErrorCount += snapshot.Stats.ErrorCount
	}
	return total
}

func (p *WorkerPool) logProgress(live int) {
	total := p.TotalStats()
	log.Info().
		Int("live_engines", live).
		Int64("videos", total.VideosProcessed).
		Int64("likes", total.LikesGiven).
		Int64("comments", total.CommentsPosted).
		Int64("errors", total.ErrorCount).
		Msg("pool progress")
}

func (p *WorkerPool) recordSnapshots(ctx context.Context) {
	p.mu.Lock()
	workers := make([]*engineWorker, 0, len(p.workers))
	for _, worker := range p.workers {
		workers = append(workers, worker)
	}
	p.mu.Unlock()

	now := time.Now()
	updates := make([]RunUpdate, 0, len(workers))
	for _, worker := range workers {
		snapshot := worker.engine.Snapshot()
		updates = append(updates, RunUpdate{
			DeviceSerial:    worker.device.Serial,
			DeviceName:      worker.device.Name,
			Stage:           string(snapshot.Stage),
			OSType:          worker.meta.OSType,
			OSVersion:       worker.meta.OSVersion,
			IsRoot:          worker.meta.IsRoot,
			VideosProcessed: snapshot.Stats.VideosProcessed,
			LikesGiven:      snapshot.Stats.LikesGiven,
			CommentsPosted:  snapshot.Stats.CommentsPosted,
			ErrorCount:      snapshot.Stats.ErrorCount,
			Restarts:        worker.restarts,
			LastError:       snapshot.LastError,
			AgentVersion:    p.cfg.AgentVersion,
			LastSeenAt:      now,
		})
	}
	if len(updates) == 0 {
		return
	}
	if err := p.recorder.UpsertRuns(ctx, updates); err != nil {
		log.Error().Err(err).Msg("run recorder upsert failed")
	}
}
