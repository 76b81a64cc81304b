package supervisor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/turtacn/booklore-runner/pkg/logger"
)

// tailWindow bounds how much of a log file LogTail reads.
const tailWindow = 64 * 1024

// ProcessManager owns one spawned child process: its pid, the per-run log file its
// output is redirected to, and its exit status. A ProcessManager is never shared
// between supervisors.
type ProcessManager struct {
	name    string
	logPath string

	mu      sync.Mutex
	cmd     *exec.Cmd
	logFile *os.File
	exitErr error
	done    chan struct{}
}

// New creates a ProcessManager that will write the child's output to logPath.
// The log file is truncated when the process is started.
func New(name, logPath string) *ProcessManager {
	return &ProcessManager{name: name, logPath: logPath}
}

// Start launches command with env appended to the runner's environment. The child
// runs in its own process group so signals reach any helpers it forks.
func (pm *ProcessManager) Start(command []string, env []string) error {
	if len(command) == 0 {
		return fmt.Errorf("%s: empty command", pm.name)
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.cmd != nil {
		return fmt.Errorf("%s: already started", pm.name)
	}

	if err := os.MkdirAll(filepath.Dir(pm.logPath), 0755); err != nil {
		return err
	}
	logFile, err := os.OpenFile(pm.logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("open log %s: %w", pm.logPath, err)
	}

	cmd := exec.Command(command[0], command[1:]...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	logger.Log.Info("Supervisor: Forking process", "name", pm.name, "cmd", command, "log", pm.logPath)
	if err := cmd.Start(); err != nil {
		logFile.Close()
		return err
	}

	pm.cmd = cmd
	pm.logFile = logFile
	pm.done = make(chan struct{})
	go pm.reap()
	return nil
}

func (pm *ProcessManager) reap() {
	err := pm.cmd.Wait()

	pm.mu.Lock()
	pm.exitErr = err
	pm.logFile.Close()
	pm.mu.Unlock()

	logger.Log.Info("Supervisor: Process exited", "name", pm.name, "pid", pm.cmd.Process.Pid, "err", err)
	close(pm.done)
}

// Pid returns the child's process id, or 0 before Start.
func (pm *ProcessManager) Pid() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if pm.cmd == nil || pm.cmd.Process == nil {
		return 0
	}
	return pm.cmd.Process.Pid
}

// Done is closed once the child has exited and been reaped. It is nil before Start.
func (pm *ProcessManager) Done() <-chan struct{} {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.done
}

// Exited reports whether the child has been reaped.
func (pm *ProcessManager) Exited() bool {
	done := pm.Done()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return true
	default:
		return false
	}
}

// ExitErr returns the error from the child's Wait once it has exited.
func (pm *ProcessManager) ExitErr() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.exitErr
}

// Wait blocks until the child exits or ctx is done.
func (pm *ProcessManager) Wait(ctx context.Context) error {
	done := pm.Done()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return pm.ExitErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop asks the child to exit with SIGTERM and waits up to grace. A child still
// alive after that is killed with SIGKILL. Stopping a process that was never
// started or has already exited is a no-op.
func (pm *ProcessManager) Stop(ctx context.Context, grace time.Duration) error {
	done := pm.Done()
	if done == nil || pm.Exited() {
		return nil
	}
	pid := pm.Pid()

	logger.Log.Info("Supervisor: Sending SIGTERM", "name", pm.name, "pid", pid)
	if err := signalGroup(pid, unix.SIGTERM); err != nil {
		logger.Log.Warn("Supervisor: SIGTERM failed", "name", pm.name, "pid", pid, "err", err)
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	return pm.Kill(context.WithoutCancel(ctx))
}

// Kill terminates the child with SIGKILL and waits for it to be reaped.
func (pm *ProcessManager) Kill(ctx context.Context) error {
	done := pm.Done()
	if done == nil || pm.Exited() {
		return nil
	}
	pid := pm.Pid()

	logger.Log.Warn("Supervisor: Sending SIGKILL", "name", pm.name, "pid", pid)
	if err := signalGroup(pid, unix.SIGKILL); err != nil {
		return fmt.Errorf("kill %s (pid %d): %w", pm.name, pid, err)
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogPath returns the file the child's output is written to.
func (pm *ProcessManager) LogPath() string {
	return pm.logPath
}

// LogTail returns up to n trailing non-empty lines of the child's log.
func (pm *ProcessManager) LogTail(n int) []string {
	return TailFile(pm.logPath, n)
}

// TailFile returns up to n trailing non-empty lines of the file at path, reading
// at most the last 64 KiB.
func TailFile(path string, n int) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil
	}
	offset := info.Size() - tailWindow
	if offset < 0 {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil
	}
	if offset > 0 {
		// Drop the partial first line.
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			data = data[i+1:]
		}
	}

	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 4096), tailWindow)
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

// signalGroup delivers sig to the child's process group, falling back to the
// child alone when the group is gone.
func signalGroup(pid int, sig unix.Signal) error {
	if pid <= 0 {
		return nil
	}
	if err := unix.Kill(-pid, sig); err == nil {
		return nil
	}
	err := unix.Kill(pid, sig)
	if err == unix.ESRCH {
		return nil
	}
	return err
}

// Personal.AI order the ending
