package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/booklore-runner/internal/control"
	"github.com/turtacn/booklore-runner/internal/events"
	"github.com/turtacn/booklore-runner/internal/layout"
	"github.com/turtacn/booklore-runner/internal/monitor"
	"github.com/turtacn/booklore-runner/internal/orchestrator"
	"github.com/turtacn/booklore-runner/pkg/consts"
	"github.com/turtacn/booklore-runner/pkg/logger"
)

func newStartCmd(opts *rootOptions) *cobra.Command {
	var deferStart bool

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start BookLore and supervise it until interrupted",
		Long: `Start brings up the database, the Java runtime and the BookLore server in
order, printing each stage's progress. It keeps running until SIGINT/SIGTERM
or a shutdown request on the control socket, then stops the stages in reverse
order.

With --defer-start the sequence waits until ` + "`booklore-runner boot`" + ` (or
POST /v1/start on the control socket) asks for it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd, opts, deferStart)
		},
	}
	cmd.Flags().BoolVar(&deferStart, "defer-start", false, "wait for a start request on the control socket")
	return cmd
}

func runStart(cmd *cobra.Command, opts *rootOptions, deferStart bool) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	if err := logger.Setup(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		return err
	}
	if deferStart && !cfg.Control.Enabled {
		return fmt.Errorf("--defer-start needs the control API (control.enabled)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		monitor.InitMetrics(ctx, cfg.Metrics.Addr)
	}

	engine := orchestrator.NewEngine(cfg)
	logger.Log.Info("Booting BookLore runner", "version", Version, "run_id", engine.RunID(), "data_dir", cfg.DataDir)

	printed := printEvents(engine, cmd.OutOrStdout())

	var shutdownRequested <-chan struct{}
	ctrlCtx, stopControl := context.WithCancel(context.Background())
	ctrlDone := make(chan struct{})
	if cfg.Control.Enabled {
		srv := control.NewServer(layout.New(cfg.DataDir).ControlSocket(), engine)
		shutdownRequested = srv.ShutdownRequested()
		go func() {
			defer close(ctrlDone)
			if err := srv.Serve(ctrlCtx); err != nil {
				logger.Log.Error("Control API unavailable", "err", err)
			}
		}()
	} else {
		close(ctrlDone)
	}

	var startErr chan error
	if !deferStart {
		startErr = make(chan error, 1)
		go func() { startErr <- engine.Start(ctx) }()
	}

	var runErr error
wait:
	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("Stop signal received")
			break wait
		case <-shutdownRequested:
			break wait
		case err := <-startErr:
			if err != nil {
				runErr = err
				break wait
			}
			startErr = nil
		}
	}

	grace := cfg.Application.StopGrace + cfg.Database.StopGrace + 30*time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := engine.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error("Shutdown finished with errors", "err", err)
		if runErr == nil {
			runErr = err
		}
	}

	stopControl()
	<-ctrlDone
	engine.Close()
	<-printed
	return runErr
}

// printEvents writes the engine's events, history first, to w. The returned
// channel closes after the last event is written, which happens once the
// engine is closed and every queued event has been delivered.
func printEvents(engine *orchestrator.Engine, w io.Writer) <-chan struct{} {
	ch, _ := engine.Subscribe(true)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			printEvent(w, ev)
		}
	}()
	return done
}

// printEvent renders one event as a progress line. Error messages keep their
// log tail, indented under the line.
func printEvent(w io.Writer, ev events.Event) {
	switch ev.Kind {
	case events.KindReady:
		fmt.Fprintf(w, "==> %s at %s\n", ev.Message, ev.URL)
		return
	case events.KindShutdownStart:
		fmt.Fprintf(w, "==> %s\n", ev.Message)
		return
	}

	first, rest, _ := strings.Cut(ev.Message, "\n")
	line := fmt.Sprintf("[%-15s] %-8s %s", ev.Stage.Label(), ev.Status, first)
	if ev.Progress != nil && ev.Status == consts.StatusActive {
		line += fmt.Sprintf(" (%d%%)", *ev.Progress)
	}
	fmt.Fprintln(w, line)
	if rest != "" {
		for _, l := range strings.Split(rest, "\n") {
			fmt.Fprintf(w, "    | %s\n", l)
		}
	}
}

// Personal.AI order the ending
