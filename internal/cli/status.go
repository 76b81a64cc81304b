package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/booklore-runner/internal/control"
)

const clientTimeout = 10 * time.Second

func (o *rootOptions) client() (*control.Client, string, error) {
	root, err := o.layout()
	if err != nil {
		return nil, "", err
	}
	sock := root.ControlSocket()
	return control.NewClient(sock), sock, nil
}

func notRunning(sock string, err error) error {
	return fmt.Errorf("no runner answering on %s (is `booklore-runner start` running with control enabled?): %w", sock, err)
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stage table of the running runner",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, sock, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), clientTimeout)
			defer cancel()
			if err := c.Health(ctx); err != nil {
				return notRunning(sock, err)
			}

			st, err := c.Status(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			pairs := [][2]string{{"Run", st.RunID}, {"State", st.State}}
			if st.URL != "" {
				pairs = append(pairs, [2]string{"URL", st.URL})
			}
			simpleTable(out, pairs)
			fmt.Fprintln(out)

			t := newTableData("STAGE", "STATUS", "PROGRESS", "MESSAGE")
			for _, s := range st.Stages {
				msg, _, _ := strings.Cut(s.Message, "\n")
				t.addRow(s.Stage.Label(), s.Status.String(), strconv.Itoa(s.Progress)+"%", msg)
			}
			printTable(out, t)
			return nil
		},
	}
}

func newImportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>...",
		Short: "Hand books to the running BookLore server",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := make([]string, 0, len(args))
			for _, a := range args {
				abs, err := filepath.Abs(a)
				if err != nil {
					return err
				}
				paths = append(paths, abs)
			}

			c, sock, err := opts.client()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()
			if err := c.Health(ctx); err != nil {
				return notRunning(sock, err)
			}

			n, err := c.Import(ctx, paths)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d of %d files\n", n, len(paths))
			return nil
		},
	}
}

// Personal.AI order the ending
