package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/turtacn/booklore-runner/internal/supervisor"
	"github.com/turtacn/booklore-runner/pkg/consts"
)

func newLogsCmd(opts *rootOptions) *cobra.Command {
	var (
		follow bool
		lines  int
	)

	cmd := &cobra.Command{
		Use:   "logs <mariadb|backend>",
		Short: "Show a supervised process's log",
		Long: `Show the per-run log of the database server (mariadb) or the BookLore
server (backend).

Examples:
  booklore-runner logs backend
  booklore-runner logs mariadb -n 50
  booklore-runner logs backend -f`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{consts.StageDatabase.String(), consts.StageApplication.String()},
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := opts.layout()
			if err != nil {
				return err
			}

			var path string
			switch args[0] {
			case consts.StageDatabase.String():
				path = root.DatabaseLog()
			case consts.StageApplication.String():
				path = root.ApplicationLog()
			default:
				return fmt.Errorf("unknown log %q (want %s or %s)", args[0],
					consts.StageDatabase, consts.StageApplication)
			}

			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("log file not found: %s", path)
			}

			out := cmd.OutOrStdout()
			for _, l := range supervisor.TailFile(path, lines) {
				fmt.Fprintln(out, l)
			}
			if !follow {
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			fmt.Fprintf(cmd.ErrOrStderr(), "Following %s (Ctrl+C to stop)...\n", path)
			return followFile(ctx, path, out)
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "follow log output")
	cmd.Flags().IntVarP(&lines, "lines", "n", 100, "number of lines to show")
	return cmd
}

// followFile copies data appended to path to w until ctx is done. A truncated
// file (a new run) is followed from its start.
func followFile(ctx context.Context, path string, w io.Writer) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("failed to watch log file: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	offset, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("failed to seek to end of log file: %w", err)
	}
	reader := bufio.NewReader(f)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) {
				continue
			}
			if info, err := f.Stat(); err == nil && info.Size() < offset {
				if offset, err = f.Seek(0, io.SeekStart); err != nil {
					return err
				}
				reader.Reset(f)
			}
			for {
				line, err := reader.ReadString('\n')
				offset += int64(len(line))
				if line != "" {
					fmt.Fprint(w, line)
				}
				if err != nil {
					break
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watcher error: %w", err)
		}
	}
}

// Personal.AI order the ending
