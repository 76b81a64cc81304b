package database

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/turtacn/booklore-runner/pkg/logger"
)

var serverNames = map[string]bool{"mariadbd": true, "mysqld": true}

// ReapStale terminates database servers left over from an unclean shutdown that
// still serve dataDir. It returns the number of processes signalled.
func ReapStale(ctx context.Context, dataDir string) (int, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return 0, err
	}

	var reaped []*process.Process
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil || !serverNames[filepath.Base(name)] {
			continue
		}
		args, err := p.CmdlineSliceWithContext(ctx)
		if err != nil || !servesDataDir(args, dataDir) {
			continue
		}
		logger.Log.Warn("Terminating stale database server", "pid", p.Pid, "datadir", dataDir)
		if err := p.TerminateWithContext(ctx); err != nil {
			logger.Log.Warn("Failed to terminate stale database server", "pid", p.Pid, "err", err)
			continue
		}
		reaped = append(reaped, p)
	}

	// Give them a moment to release the data directory lock.
	deadline := time.Now().Add(5 * time.Second)
	for _, p := range reaped {
		for time.Now().Before(deadline) {
			running, err := p.IsRunningWithContext(ctx)
			if err != nil || !running {
				break
			}
			select {
			case <-ctx.Done():
				return len(reaped), ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
		}
		if running, _ := p.IsRunningWithContext(ctx); running {
			if err := p.KillWithContext(ctx); err != nil {
				logger.Log.Warn("Failed to kill stale database server", "pid", p.Pid, "err", err)
			}
		}
	}
	return len(reaped), nil
}

// servesDataDir reports whether a server command line names dataDir as its
// data directory, in either the --datadir=DIR or the --datadir DIR form.
func servesDataDir(args []string, dataDir string) bool {
	want := filepath.Clean(dataDir)
	for i, a := range args {
		switch {
		case strings.HasPrefix(a, "--datadir="):
			if filepath.Clean(strings.TrimPrefix(a, "--datadir=")) == want {
				return true
			}
		case a == "--datadir" && i+1 < len(args):
			if filepath.Clean(args[i+1]) == want {
				return true
			}
		}
	}
	return false
}

// Personal.AI order the ending
