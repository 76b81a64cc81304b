package orchestrator

import (
	"context"
	stderrors "errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/booklore-runner/internal/appserver"
	"github.com/turtacn/booklore-runner/internal/database"
	"github.com/turtacn/booklore-runner/internal/events"
	"github.com/turtacn/booklore-runner/internal/jre"
	"github.com/turtacn/booklore-runner/internal/layout"
	"github.com/turtacn/booklore-runner/internal/locator"
	"github.com/turtacn/booklore-runner/internal/monitor"
	"github.com/turtacn/booklore-runner/internal/supervisor"
	"github.com/turtacn/booklore-runner/pkg/consts"
	"github.com/turtacn/booklore-runner/pkg/errors"
	"github.com/turtacn/booklore-runner/pkg/fsm"
	"github.com/turtacn/booklore-runner/pkg/logger"
	"github.com/turtacn/booklore-runner/pkg/protocol"
)

// Database is the database stage as seen by the engine.
type Database interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Handle() *supervisor.ProcessManager
	DSN() string
}

// Runtime provides a java launcher, acquiring one if needed.
type Runtime interface {
	Ensure(ctx context.Context, report jre.ProgressFunc) (string, error)
}

// Application is the application stage as seen by the engine.
type Application interface {
	Start(ctx context.Context, cfg appserver.LaunchConfig) (*supervisor.ProcessManager, error)
	Stop(ctx context.Context) error
	Handle() *supervisor.ProcessManager
	URL() string
	Import(ctx context.Context, paths []string) (int, error)
}

// Components are the stage implementations an Engine drives. OpenDatabase runs
// inside the Database stage, so a missing installation is reported as that
// stage's error and installing one reports that stage's progress.
type Components struct {
	OpenDatabase func(ctx context.Context, report jre.ProgressFunc) (Database, error)
	Runtime      Runtime
	Application  Application
}

// Event is re-exported for callers that only talk to the engine.
type Event = events.Event

// Run lifecycle.
const (
	runIdle     fsm.State = "IDLE"
	runStarting fsm.State = "STARTING"
	runRunning  fsm.State = "RUNNING"
	runFailed   fsm.State = "FAILED"
	runStopping fsm.State = "STOPPING"
	runStopped  fsm.State = "STOPPED"

	evStart    fsm.Event = "start"
	evReady    fsm.Event = "ready"
	evFail     fsm.Event = "fail"
	evShutdown fsm.Event = "shutdown"
	evStopped  fsm.Event = "stopped"
)

// Engine sequences the stages. All shared state is owned by the Engine and
// guarded by mu; supervisors and their process handles are never exposed.
type Engine struct {
	cfg     *protocol.Config
	root    layout.Root
	comps   Components
	fsm     *fsm.StateMachine
	tracker *events.Tracker
	bus     *events.Bus
	runID   string
	log     logger.Logger

	mu        sync.Mutex
	db        Database
	javaPath  string
	cancel    context.CancelFunc
	startDone chan struct{}
	stopDone  chan struct{}
}

// NewEngine wires the real locator, acquirer and supervisors from cfg.
func NewEngine(cfg *protocol.Config) *Engine {
	root := layout.New(cfg.DataDir)

	loc := locator.New(root.BundledDatabaseDir(), cfg.Runtime.JavaVersion)
	loc.BaseDir = cfg.Database.BaseDir
	bundle := database.NewBundle(root.BundledDatabaseDir(), cfg.Database)

	comps := Components{
		OpenDatabase: func(ctx context.Context, report jre.ProgressFunc) (Database, error) {
			inst, err := loc.Installation()
			if stderrors.Is(err, errors.ErrNotFound) && cfg.Database.BaseDir == "" {
				if err := bundle.Ensure(ctx, report); err != nil {
					return nil, err
				}
				inst, err = loc.Installation()
			}
			if err != nil {
				return nil, err
			}
			return database.New(database.Config{
				Installation: inst,
				DataDir:      root.DataDir(),
				SystemDir:    root.SystemTablesDir(),
				Socket:       root.DatabaseSocket(),
				LogPath:      root.DatabaseLog(),
				Schema:       cfg.Database.Schema,
				PollInterval: cfg.Database.PollInterval,
				MaxAttempts:  cfg.Database.MaxAttempts,
				StopGrace:    cfg.Database.StopGrace,
			}, database.NewSQLProber(cfg.Application.DatabaseUser))
		},
		Runtime: jre.New(root.RuntimeDir(), cfg.Runtime, loc),
		Application: appserver.New(appserver.Options{
			HealthPath:   cfg.Application.HealthPath,
			PollInterval: cfg.Application.PollInterval,
			MaxAttempts:  cfg.Application.MaxAttempts,
			StopGrace:    cfg.Application.StopGrace,
		}),
	}
	return NewEngineWith(cfg, comps)
}

// NewEngineWith builds an Engine over the given components.
func NewEngineWith(cfg *protocol.Config, comps Components) *Engine {
	e := &Engine{
		cfg:     cfg,
		root:    layout.New(cfg.DataDir),
		comps:   comps,
		fsm:     fsm.New(runIdle),
		tracker: events.NewTracker(),
		bus:     events.NewBus(),
		runID:   uuid.NewString(),
	}
	e.log = logger.Log.With("component", "orchestrator", "run_id", e.runID)
	e.setupFSM()
	return e
}

func (e *Engine) setupFSM() {
	e.fsm.AddTransition(runIdle, runStarting, evStart, nil)
	e.fsm.AddTransition(runStarting, runRunning, evReady, nil)
	e.fsm.AddTransition(runStarting, runFailed, evFail, nil)

	// Shutdown is accepted from anywhere before it has begun.
	for _, from := range []fsm.State{runIdle, runStarting, runRunning, runFailed} {
		e.fsm.AddTransition(from, runStopping, evShutdown, nil)
	}
	e.fsm.AddTransition(runStopping, runStopped, evStopped, nil)
	e.fsm.MarkTerminal(runStopped)

	e.fsm.Observe(func(from, to fsm.State, ev fsm.Event) {
		e.log.Debug("Run state changed", "from", from, "to", to, "event", ev)
	})
}

// RunID identifies this process lifetime in events and logs.
func (e *Engine) RunID() string { return e.runID }

// State returns the run lifecycle state.
func (e *Engine) State() string { return string(e.fsm.Current()) }

// Snapshot returns the per-stage status table of the current pass.
func (e *Engine) Snapshot() []events.StageState { return e.tracker.Snapshot() }

// Subscribe streams events; with replay the history comes first.
func (e *Engine) Subscribe(replay bool) (<-chan Event, func()) { return e.bus.Subscribe(replay) }

// History returns every event published so far.
func (e *Engine) History() []Event { return e.bus.History() }

// Close ends every event subscription.
func (e *Engine) Close() { e.bus.Close() }

// URL returns the application URL once the run is ready, or "".
func (e *Engine) URL() string {
	if e.fsm.Current() != runRunning {
		return ""
	}
	return e.comps.Application.URL()
}

// Start runs the startup sequence to completion. It may be called once per
// process lifetime; later calls fail with AlreadyStarted.
func (e *Engine) Start(ctx context.Context) error {
	runCtx, err := e.begin(ctx)
	if err != nil {
		return err
	}
	return e.run(runCtx)
}

// StartAsync starts the sequence in the background and returns immediately.
// Progress and failures are reported as events. The run is detached from ctx's
// cancellation; Shutdown cancels it.
func (e *Engine) StartAsync(ctx context.Context) error {
	runCtx, err := e.begin(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	go e.run(runCtx)
	return nil
}

func (e *Engine) begin(ctx context.Context) (context.Context, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.fsm.Can(evStart) {
		return nil, errors.New(errors.ErrCodeAlreadyStarted, "start",
			fmt.Sprintf("startup already requested (run is %s)", e.fsm.Current()), nil)
	}
	if err := e.fsm.Fire(evStart); err != nil {
		return nil, errors.New(errors.ErrCodeUnknown, "start", "illegal state transition", err)
	}
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.startDone = make(chan struct{})
	return runCtx, nil
}

func (e *Engine) run(ctx context.Context) error {
	e.mu.Lock()
	done := e.startDone
	e.mu.Unlock()
	defer close(done)

	e.log.Info("Starting BookLore", "data_dir", e.root.Dir)
	for _, stage := range consts.Stages {
		var err error
		if ctx.Err() != nil {
			// Stages after a cancellation stay Pending.
			err = errors.New(errors.ErrCodeTimeout, "start", "startup cancelled", ctx.Err())
		} else {
			err = e.runStage(ctx, stage)
		}
		if err != nil {
			e.fsm.Fire(evFail)
			return err
		}
	}

	if err := e.fsm.Fire(evReady); err != nil {
		// Shutdown began while the last stage was finishing.
		return errors.New(errors.ErrCodeTimeout, "start", "startup cancelled", err)
	}
	url := e.comps.Application.URL()
	e.publish(events.Ready(url))
	e.log.Info("BookLore is ready", "url", url)
	return nil
}

// runStage emits Active, does the stage's work and emits exactly one of
// Complete or Error.
func (e *Engine) runStage(ctx context.Context, stage consts.Stage) error {
	e.report(events.PhaseStartup, stage, consts.StatusActive, "Starting "+stage.Label(), -1)
	started := time.Now()

	msg, err := e.execute(ctx, stage)
	if err != nil {
		code := errors.CodeOf(err).Name()
		monitor.ObserveStage(stage.String(), time.Since(started), code)
		e.report(events.PhaseStartup, stage, consts.StatusError, errors.Describe(err), -1)
		e.log.Error("Stage failed", "stage", stage, "code", code, "err", err)
		return err
	}

	monitor.ObserveStage(stage.String(), time.Since(started), "")
	e.report(events.PhaseStartup, stage, consts.StatusComplete, msg, 100)
	e.log.Info("Stage complete", "stage", stage, "elapsed", time.Since(started).Round(time.Millisecond))
	return nil
}

// execute does one stage's work. A panic in a stage becomes that stage's
// error, so the run fails normally and its processes can still be stopped.
func (e *Engine) execute(ctx context.Context, stage consts.Stage) (msg string, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("Stage panicked", "stage", stage, "panic", r, "stack", string(debug.Stack()))
			err = errors.New(errors.ErrCodeUnknown, "start "+stage.String(), fmt.Sprintf("internal error: %v", r), nil)
		}
	}()

	switch stage {
	case consts.StageDatabase:
		return e.startDatabase(ctx)
	case consts.StageRuntime:
		return e.acquireRuntime(ctx)
	case consts.StageApplication:
		return e.startApplication(ctx)
	}
	return "", fmt.Errorf("unknown stage %d", int(stage))
}

func (e *Engine) startDatabase(ctx context.Context) (string, error) {
	if err := e.root.Ensure(); err != nil {
		return "", errors.New(errors.ErrCodeInitialization, "prepare data root", "cannot create app data root", err)
	}

	report := func(progress int, message string) {
		e.report(events.PhaseStartup, consts.StageDatabase, consts.StatusActive, message, progress)
	}
	db, err := e.comps.OpenDatabase(ctx, report)
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	e.db = db
	e.mu.Unlock()

	if err := db.Start(ctx); err != nil {
		return "", err
	}
	e.watch(consts.StageDatabase, db.Handle())
	return "Database ready", nil
}

func (e *Engine) acquireRuntime(ctx context.Context) (string, error) {
	report := func(progress int, message string) {
		e.report(events.PhaseStartup, consts.StageRuntime, consts.StatusActive, message, progress)
	}
	java, err := e.comps.Runtime.Ensure(ctx, report)
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	e.javaPath = java
	e.mu.Unlock()
	return "Java runtime ready", nil
}

func (e *Engine) startApplication(ctx context.Context) (string, error) {
	e.mu.Lock()
	java, db := e.javaPath, e.db
	e.mu.Unlock()

	app := e.cfg.Application
	launch := appserver.LaunchConfig{
		JavaPath:         java,
		JavaHome:         locator.JavaHome(java),
		Jar:              app.Jar,
		HeapMin:          app.HeapMin,
		HeapMax:          app.HeapMax,
		ConfigDir:        e.root.ConfigDir(),
		ImportDir:        e.root.ImportDir(),
		BooksDir:         e.root.BooksDir(),
		Port:             app.Port,
		DatabaseURL:      db.DSN(),
		DatabaseUser:     app.DatabaseUser,
		DatabasePassword: app.DatabasePassword,
		LogPath:          e.root.ApplicationLog(),
	}
	proc, err := e.comps.Application.Start(ctx, launch)
	if err != nil {
		return "", err
	}
	e.watch(consts.StageApplication, proc)
	return "BookLore server ready", nil
}

// watch logs an unexpected exit of a ready stage's process. Exits during
// shutdown are expected.
func (e *Engine) watch(stage consts.Stage, proc *supervisor.ProcessManager) {
	if proc == nil {
		return
	}
	go func() {
		err := proc.Wait(context.Background())
		monitor.ProcessExits.WithLabelValues(stage.String()).Inc()
		switch e.fsm.Current() {
		case runStopping, runStopped:
			return
		}
		e.log.Error("Process exited unexpectedly", "stage", stage, "pid", proc.Pid(),
			"err", err, "log", proc.LogPath())
	}()
}

// Shutdown cancels any in-flight startup and stops the stages in reverse
// order, forcing processes that outlive their grace period. Stages without a
// process are reported Complete without touching anything. Calling it again
// waits for the first call and returns nil.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	switch e.fsm.Current() {
	case runStopping, runStopped:
		done := e.stopDone
		e.mu.Unlock()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := e.fsm.Fire(evShutdown); err != nil {
		e.mu.Unlock()
		return errors.New(errors.ErrCodeUnknown, "shutdown", "illegal state transition", err)
	}
	stopDone := make(chan struct{})
	e.stopDone = stopDone
	cancel, startDone := e.cancel, e.startDone
	e.mu.Unlock()
	defer close(stopDone)

	if cancel != nil {
		cancel()
	}
	// Every stage observes cancellation, so this wait is short. It has no
	// deadline because a stage still unwinding could otherwise spawn a process
	// after its stage was stopped.
	if startDone != nil {
		select {
		case <-startDone:
		case <-ctx.Done():
			e.log.Warn("Shutdown deadline passed while startup unwinds, waiting for it")
			<-startDone
		}
	}

	e.log.Info("Shutting down")
	e.publish(events.ShutdownStart())
	e.tracker.Reset()

	var errs []error
	for _, stage := range consts.ShutdownOrder {
		if err := e.stopStage(ctx, stage); err != nil {
			errs = append(errs, err)
		}
	}

	e.fsm.Fire(evStopped)
	e.log.Info("Shutdown complete")
	return stderrors.Join(errs...)
}

func (e *Engine) stopStage(ctx context.Context, stage consts.Stage) error {
	var (
		proc *supervisor.ProcessManager
		stop func(context.Context) error
	)
	switch stage {
	case consts.StageApplication:
		if app := e.comps.Application; app != nil {
			proc, stop = app.Handle(), app.Stop
		}
	case consts.StageRuntime:
		e.report(events.PhaseShutdown, stage, consts.StatusComplete, "Nothing to stop", 100)
		return nil
	case consts.StageDatabase:
		e.mu.Lock()
		db := e.db
		e.mu.Unlock()
		if db != nil {
			proc, stop = db.Handle(), db.Stop
		}
	}

	if proc == nil {
		e.report(events.PhaseShutdown, stage, consts.StatusComplete, "Not running", 100)
		return nil
	}

	e.report(events.PhaseShutdown, stage, consts.StatusActive, "Stopping "+stage.Label(), -1)
	if err := stop(ctx); err != nil {
		e.report(events.PhaseShutdown, stage, consts.StatusError, err.Error(), -1)
		e.log.Error("Failed to stop stage", "stage", stage, "err", err)
		return fmt.Errorf("stop %s: %w", stage, err)
	}
	e.report(events.PhaseShutdown, stage, consts.StatusComplete, "Stopped", 100)
	return nil
}

// Import forwards paths to the application's drop folder. It is rejected
// until the Application stage is Complete.
func (e *Engine) Import(ctx context.Context, paths []string) (int, error) {
	if e.fsm.Current() != runRunning || e.tracker.Status(consts.StageApplication) != consts.StatusComplete {
		return 0, errors.New(errors.ErrCodeNotReady, "import", "BookLore server is not ready yet", nil)
	}
	return e.comps.Application.Import(ctx, paths)
}

// report records a status in the tracker and publishes it. Updates the tracker
// rejects are dropped so the stream never moves a stage backwards.
func (e *Engine) report(phase events.Phase, stage consts.Stage, status consts.Status, msg string, progress int) {
	if err := e.tracker.Apply(stage, status, msg, progress); err != nil {
		e.log.Warn("Dropped status update", "stage", stage, "status", status, "err", err)
		return
	}
	e.publish(events.Status(phase, stage, status, msg, progress))
}

func (e *Engine) publish(ev events.Event) {
	ev.RunID = e.runID
	e.bus.Publish(ev)
}

// Personal.AI order the ending
