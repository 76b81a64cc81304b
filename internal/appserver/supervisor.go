// Package appserver launches the BookLore server on the Java runtime and waits
// for its health endpoint.
package appserver

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/turtacn/booklore-runner/internal/supervisor"
	"github.com/turtacn/booklore-runner/pkg/consts"
	"github.com/turtacn/booklore-runner/pkg/errors"
	"github.com/turtacn/booklore-runner/pkg/logger"
)

var errProcessExited = stderrors.New("process exited")

// LaunchConfig is everything needed to start the server process.
type LaunchConfig struct {
	JavaPath string
	JavaHome string
	Jar      string

	HeapMin string
	HeapMax string

	ConfigDir string
	ImportDir string
	BooksDir  string
	Port      int

	// DatabaseURL comes from the ready database; credentials default to the
	// local-socket-only root account.
	DatabaseURL      string
	DatabaseUser     string
	DatabasePassword string

	LogPath string
}

// Command returns the server's argv.
func (c LaunchConfig) Command() []string {
	return []string{
		c.JavaPath,
		"-Xms" + c.HeapMin,
		"-Xmx" + c.HeapMax,
		"-Dapp.path-config=" + c.ConfigDir,
		"-Dapp.bookdrop-folder=" + c.ImportDir,
		"-Dserver.port=" + strconv.Itoa(c.Port),
		"-jar", c.Jar,
	}
}

// Env returns the variables added to the server's environment.
func (c LaunchConfig) Env() []string {
	env := []string{
		"DATABASE_URL=" + c.DatabaseURL,
		"DATABASE_USERNAME=" + c.DatabaseUser,
		"DATABASE_PASSWORD=" + c.DatabasePassword,
		"BOOKLORE_PORT=" + strconv.Itoa(c.Port),
		"BOOKLORE_BOOKS_DIR=" + c.BooksDir,
	}
	if c.JavaHome != "" {
		env = append(env, "JAVA_HOME="+c.JavaHome)
	}
	return env
}

// Options controls health polling and shutdown.
type Options struct {
	HealthPath   string
	PollInterval time.Duration
	MaxAttempts  int
	StopGrace    time.Duration
}

// Supervisor owns the server process for one run.
type Supervisor struct {
	opts   Options
	client *http.Client
	log    logger.Logger

	mu        sync.Mutex
	proc      *supervisor.ProcessManager
	port      int
	importDir string
}

// New returns a Supervisor for opts. Health requests time out after one poll
// interval, but never in under a second.
func New(opts Options) *Supervisor {
	timeout := opts.PollInterval
	if timeout < time.Second {
		timeout = time.Second
	}
	return &Supervisor{
		opts:   opts,
		client: &http.Client{Timeout: timeout},
		log:    logger.Log.With("component", "appserver"),
	}
}

// Start spawns the server and returns once its health endpoint answers 2xx.
// The health endpoint is polled at most MaxAttempts times; the wait ends early
// if the process exits.
func (s *Supervisor) Start(ctx context.Context, cfg LaunchConfig) (*supervisor.ProcessManager, error) {
	if _, err := os.Stat(cfg.Jar); err != nil {
		return nil, errors.New(errors.ErrCodeNotFound, "start application",
			fmt.Sprintf("server jar not found at %s", cfg.Jar), err)
	}

	proc := supervisor.New("backend", cfg.LogPath)
	if err := proc.Start(cfg.Command(), cfg.Env()); err != nil {
		return nil, errors.New(errors.ErrCodeProcessStart, "start application", "failed to spawn java", err)
	}

	s.mu.Lock()
	s.proc = proc
	s.port = cfg.Port
	s.importDir = cfg.ImportDir
	s.mu.Unlock()

	if err := s.waitHealthy(ctx, proc); err != nil {
		return proc, err
	}
	s.log.Info("Application healthy", "url", s.URL())
	return proc, nil
}

// URL returns the application's base URL.
func (s *Supervisor) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("http://127.0.0.1:%d", s.port)
}

// Handle returns the server process, or nil if none was spawned.
func (s *Supervisor) Handle() *supervisor.ProcessManager {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc
}

func (s *Supervisor) waitHealthy(ctx context.Context, proc *supervisor.ProcessManager) error {
	healthURL := s.URL() + s.opts.HealthPath

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
		if proc.Exited() {
			return backoff.Permanent(errProcessExited)
		}
		attempts++
		return s.check(pollCtx, healthURL)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.opts.PollInterval), uint64(s.opts.MaxAttempts-1)),
		pollCtx,
	)
	err := backoff.Retry(op, policy)
	if err == nil {
		return nil
	}

	tail := proc.LogTail(consts.LogTailLines)
	switch {
	case proc.Exited():
		return errors.WithLogTail(errors.ErrCodeProcessDied, "wait for application",
			"server exited before becoming healthy", proc.ExitErr(), tail)
	case ctx.Err() != nil:
		return errors.New(errors.ErrCodeTimeout, "wait for application", "startup cancelled", ctx.Err())
	default:
		return errors.WithLogTail(errors.ErrCodeTimeout, "wait for application",
			fmt.Sprintf("health check failed after %d attempts", attempts), err, tail)
	}
}

func (s *Supervisor) check(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("health check returned %s", resp.Status)
	}
	return nil
}

// Stop terminates the server gracefully, forcing it after the grace period.
// Without a process it does nothing.
func (s *Supervisor) Stop(ctx context.Context) error {
	proc := s.Handle()
	if proc == nil {
		return nil
	}
	return proc.Stop(ctx, s.opts.StopGrace)
}

// Personal.AI order the ending
