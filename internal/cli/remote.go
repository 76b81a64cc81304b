package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/booklore-runner/internal/control"
	"github.com/turtacn/booklore-runner/internal/events"
)

// stopTimeout bounds a remote shutdown. It outlasts the server side bound so
// the runner reports its own timeout first.
const stopTimeout = 3 * time.Minute

// connect returns a client for a runner that answers on its control socket.
func (o *rootOptions) connect(ctx context.Context) (*control.Client, error) {
	c, sock, err := o.client()
	if err != nil {
		return nil, err
	}
	hctx, cancel := context.WithTimeout(ctx, clientTimeout)
	defer cancel()
	if err := c.Health(hctx); err != nil {
		return nil, notRunning(sock, err)
	}
	return c, nil
}

func newBootCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "boot",
		Short: "Begin the startup sequence of a runner started with --defer-start",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), clientTimeout)
			defer cancel()
			if err := c.Start(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Startup requested; follow it with `booklore-runner events`")
			return nil
		},
	}
}

func newStopCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Shut the running runner down and wait until every stage has stopped",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), stopTimeout)
			defer cancel()
			if err := c.Shutdown(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "BookLore stopped")
			return nil
		},
	}
}

func newEventsCmd(opts *rootOptions) *cobra.Command {
	var replay bool

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Stream the runner's progress events",
		Long: `Stream startup and shutdown events from the running runner until it exits
or the command is interrupted.

Examples:
  booklore-runner events
  booklore-runner events --replay`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			return c.Events(ctx, replay, func(ev events.Event) error {
				printEvent(out, ev)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&replay, "replay", false, "print events published before connecting first")
	return cmd
}

// Personal.AI order the ending
