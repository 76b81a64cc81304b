package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/turtacn/booklore-runner/internal/jre"
	"github.com/turtacn/booklore-runner/internal/layout"
	"github.com/turtacn/booklore-runner/internal/locator"
	"github.com/turtacn/booklore-runner/pkg/errors"
)

func newDoctorCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Report which database and Java binaries would be used",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			root := layout.New(cfg.DataDir)
			out := cmd.OutOrStdout()

			loc := locator.New(root.BundledDatabaseDir(), cfg.Runtime.JavaVersion)
			loc.BaseDir = cfg.Database.BaseDir

			simpleTable(out, [][2]string{
				{"Config", opts.configPath()},
				{"Data dir", root.Dir},
				{"Server jar", cfg.Application.Jar},
			})
			fmt.Fprintln(out)

			t := newTableData("TOOL", "PATH", "STATUS")
			problems := 0
			for _, f := range loc.Report() {
				status := "ok"
				if f.Err != nil {
					status = errors.Describe(f.Err)
					problems++
				}
				t.addRow(f.Tool.String(), f.Path, status)
			}

			acq := jre.New(root.RuntimeDir(), cfg.Runtime, loc)
			if p, ok := acq.Installed(); ok {
				t.addRow("downloaded runtime", p, "ok")
			} else {
				t.addRow("downloaded runtime", root.RuntimeDir(), "absent (downloaded on first start if no system Java)")
			}

			if inst, err := loc.Installation(); err == nil {
				t.addRow("database prefix", inst.BaseDir, "ok")
			} else {
				t.addRow("database prefix", "", errors.Describe(err))
			}
			printTable(out, t)

			if problems > 0 {
				fmt.Fprintf(out, "\n%d problem(s) found\n", problems)
			}
			return nil
		},
	}
}

// Personal.AI order the ending
