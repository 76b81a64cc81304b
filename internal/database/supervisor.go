// Package database supervises the embedded MariaDB server: it initializes the
// data directory on first run, starts the server on a local socket only and
// waits until the socket answers a query.
package database

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/turtacn/booklore-runner/internal/locator"
	"github.com/turtacn/booklore-runner/internal/resource"
	"github.com/turtacn/booklore-runner/internal/supervisor"
	"github.com/turtacn/booklore-runner/pkg/consts"
	"github.com/turtacn/booklore-runner/pkg/errors"
	"github.com/turtacn/booklore-runner/pkg/fsm"
	"github.com/turtacn/booklore-runner/pkg/logger"
)

const (
	evInitialize fsm.Event = "initialize"
	evSpawn      fsm.Event = "spawn"
	evWait       fsm.Event = "wait"
	evReady      fsm.Event = "ready"
	evFail       fsm.Event = "fail"
)

var errSocketMissing = stderrors.New("socket not created yet")

// Config describes one database run.
type Config struct {
	// Installation is used for both the install step and the server, so the
	// data directory is always served by the base directory it was created with.
	Installation locator.Installation

	DataDir      string
	SystemDir    string
	Socket       string
	LogPath      string
	Schema       string
	PollInterval time.Duration
	MaxAttempts  int
	StopGrace    time.Duration
}

// Supervisor runs the database server for one run of the runner.
type Supervisor struct {
	cfg     Config
	prober  Prober
	socket  *resource.SocketFile
	machine *fsm.StateMachine
	log     logger.Logger

	// RunInstall executes the install tool and returns its combined output.
	RunInstall func(ctx context.Context, name string, args ...string) ([]byte, error)
	// Reap terminates leftover servers for the data directory.
	Reap func(ctx context.Context, dataDir string) (int, error)

	mu   sync.Mutex
	proc *supervisor.ProcessManager
}

// New validates cfg and returns a Supervisor in the Uninitialized state.
func New(cfg Config, prober Prober) (*Supervisor, error) {
	if err := cfg.Installation.Validate(); err != nil {
		return nil, errors.New(errors.ErrCodeNotFound, "database", "invalid MariaDB installation", err)
	}
	if cfg.MaxAttempts < 1 {
		return nil, errors.New(errors.ErrCodeConfigInvalid, "database", "max attempts must be at least 1", nil)
	}

	s := &Supervisor{
		cfg:        cfg,
		prober:     prober,
		socket:     resource.NewSocketFile(cfg.Socket),
		machine:    newMachine(),
		log:        logger.Log.With("component", "database"),
		RunInstall: runCombined,
		Reap:       ReapStale,
	}
	s.machine.Observe(func(from, to fsm.State, ev fsm.Event) {
		s.log.Debug("Database state changed", "from", from, "to", to, "event", ev)
	})
	return s, nil
}

func newMachine() *fsm.StateMachine {
	st := func(s consts.DatabaseState) fsm.State { return fsm.State(s) }

	m := fsm.New(st(consts.DBUninitialized))
	m.AddTransition(st(consts.DBUninitialized), st(consts.DBInitializing), evInitialize, nil)
	m.AddTransition(st(consts.DBUninitialized), st(consts.DBStarting), evSpawn, nil)
	m.AddTransition(st(consts.DBInitializing), st(consts.DBStarting), evSpawn, nil)
	m.AddTransition(st(consts.DBStarting), st(consts.DBWaitingForSocket), evWait, nil)
	m.AddTransition(st(consts.DBWaitingForSocket), st(consts.DBReady), evReady, nil)
	for _, from := range []consts.DatabaseState{
		consts.DBUninitialized, consts.DBInitializing, consts.DBStarting, consts.DBWaitingForSocket,
	} {
		m.AddTransition(st(from), st(consts.DBFailed), evFail, nil)
	}
	m.MarkTerminal(st(consts.DBReady), st(consts.DBFailed))
	return m
}

func runCombined(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// State returns the current lifecycle state.
func (s *Supervisor) State() consts.DatabaseState {
	return consts.DatabaseState(s.machine.Current())
}

// Initialized reports whether the data directory holds its system tables.
func (s *Supervisor) Initialized() bool {
	info, err := os.Stat(s.cfg.SystemDir)
	return err == nil && info.IsDir()
}

// Handle returns the server process, or nil if none was spawned.
func (s *Supervisor) Handle() *supervisor.ProcessManager {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc
}

// Socket returns the socket path the server listens on.
func (s *Supervisor) Socket() string {
	return s.cfg.Socket
}

// DSN returns the JDBC connection string the application uses to reach the
// server over its local socket.
func (s *Supervisor) DSN() string {
	return fmt.Sprintf("jdbc:mariadb://localhost/%s?localSocket=%s&createDatabaseIfNotExist=true",
		s.cfg.Schema, url.QueryEscape(s.cfg.Socket))
}

// Start brings the server to Ready. Every failure moves the supervisor to Failed
// and returns a coded error; nothing is retried beyond the configured poll bound.
func (s *Supervisor) Start(ctx context.Context) error {
	if !s.Initialized() {
		if err := s.transition(evInitialize); err != nil {
			return err
		}
		if err := s.initialize(ctx); err != nil {
			return s.fail(err)
		}
	} else {
		s.log.Info("Data directory already initialized, skipping install step", "datadir", s.cfg.DataDir)
	}

	if err := s.transition(evSpawn); err != nil {
		return err
	}
	if err := s.spawn(ctx); err != nil {
		return s.fail(err)
	}

	if err := s.transition(evWait); err != nil {
		return err
	}
	if err := s.waitReady(ctx); err != nil {
		return s.fail(err)
	}

	if err := s.transition(evReady); err != nil {
		return err
	}
	s.log.Info("Database ready", "socket", s.cfg.Socket)

	if err := s.prober.CreateSchema(ctx, s.cfg.Socket, s.cfg.Schema); err != nil {
		s.log.Warn("Failed to create schema, the application will try itself", "schema", s.cfg.Schema, "err", err)
	}
	return nil
}

func (s *Supervisor) transition(ev fsm.Event) error {
	if err := s.machine.Fire(ev); err != nil {
		return errors.New(errors.ErrCodeUnknown, "database", "illegal state transition", err)
	}
	return nil
}

func (s *Supervisor) fail(err error) error {
	if ferr := s.machine.Fire(evFail); ferr != nil {
		s.log.Warn("Failed to record failure", "err", ferr)
	}
	return err
}

func (s *Supervisor) initialize(ctx context.Context) error {
	inst := s.cfg.Installation
	if err := os.MkdirAll(s.cfg.DataDir, 0755); err != nil {
		return errors.New(errors.ErrCodeInitialization, "initialize database", "cannot create data directory", err)
	}

	s.log.Info("Initializing data directory", "datadir", s.cfg.DataDir, "basedir", inst.BaseDir)
	out, err := s.RunInstall(ctx, inst.InstallTool,
		"--basedir="+inst.BaseDir,
		"--datadir="+s.cfg.DataDir,
		"--auth-root-authentication-method=normal",
	)
	if err != nil {
		return errors.WithLogTail(errors.ErrCodeInitialization, "initialize database",
			"mariadb-install-db failed", err, lastLines(string(out), consts.LogTailLines))
	}
	if !s.Initialized() {
		return errors.WithLogTail(errors.ErrCodeInitialization, "initialize database",
			"install step did not create system tables", nil, lastLines(string(out), consts.LogTailLines))
	}
	return nil
}

func (s *Supervisor) spawn(ctx context.Context) error {
	if s.Reap != nil {
		if n, err := s.Reap(ctx, s.cfg.DataDir); err != nil {
			s.log.Warn("Stale process scan failed", "err", err)
		} else if n > 0 {
			s.log.Info("Terminated stale database servers", "count", n)
		}
	}

	// A leftover socket file would satisfy the existence check without a server.
	if _, err := s.socket.RemoveStale(); err != nil {
		return errors.New(errors.ErrCodeProcessStart, "start database", "socket already in use", err)
	}

	inst := s.cfg.Installation
	proc := supervisor.New("mariadb", s.cfg.LogPath)
	err := proc.Start([]string{
		inst.Server,
		"--no-defaults",
		"--basedir=" + inst.BaseDir,
		"--datadir=" + s.cfg.DataDir,
		"--socket=" + s.cfg.Socket,
		"--skip-networking",
		"--skip-grant-tables",
	}, nil)
	if err != nil {
		return errors.New(errors.ErrCodeProcessStart, "start database", "failed to spawn mariadbd", err)
	}

	s.mu.Lock()
	s.proc = proc
	s.mu.Unlock()
	return nil
}

// waitReady polls socket existence and a trivial query at a fixed interval, up
// to MaxAttempts times. A server exit ends the wait at once.
func (s *Supervisor) waitReady(ctx context.Context) error {
	proc := s.Handle()

	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-proc.Done():
			cancel()
		case <-pollCtx.Done():
		}
	}()

	attempts := 0
	op := func() error {
		attempts++
		if proc.Exited() {
			return backoff.Permanent(errProcessExited)
		}
		if !s.socket.Exists() {
			return errSocketMissing
		}
		if err := s.prober.Ping(pollCtx, s.cfg.Socket); err != nil {
			return err
		}
		if proc.Exited() {
			return backoff.Permanent(errProcessExited)
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.cfg.PollInterval), uint64(s.cfg.MaxAttempts-1)),
		pollCtx,
	)
	err := backoff.Retry(op, policy)
	if err == nil {
		s.log.Debug("Database answered", "attempts", attempts)
		return nil
	}

	tail := proc.LogTail(consts.LogTailLines)
	switch {
	case proc.Exited():
		return errors.WithLogTail(errors.ErrCodeProcessDied, "wait for database",
			"mariadbd exited before becoming ready", proc.ExitErr(), tail)
	case ctx.Err() != nil:
		return errors.New(errors.ErrCodeTimeout, "wait for database", "startup cancelled", ctx.Err())
	default:
		return errors.WithLogTail(errors.ErrCodeTimeout, "wait for database",
			fmt.Sprintf("database not ready after %d attempts", attempts), err, tail)
	}
}

var errProcessExited = stderrors.New("process exited")

// Stop terminates the server gracefully, forcing it after the grace period, and
// removes the socket file once the process is gone. Without a process it does
// nothing.
func (s *Supervisor) Stop(ctx context.Context) error {
	proc := s.Handle()
	if proc == nil {
		return nil
	}
	if err := proc.Stop(ctx, s.cfg.StopGrace); err != nil {
		return err
	}
	if err := s.socket.Remove(); err != nil {
		s.log.Warn("Failed to remove socket file", "path", s.cfg.Socket, "err", err)
	}
	return nil
}

func lastLines(out string, n int) []string {
	var lines []string
	for _, l := range strings.Split(out, "\n") {
		if l = strings.TrimRight(l, "\r"); l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

// Personal.AI order the ending
