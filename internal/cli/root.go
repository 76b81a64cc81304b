package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/turtacn/booklore-runner/internal/config"
	"github.com/turtacn/booklore-runner/internal/layout"
	"github.com/turtacn/booklore-runner/pkg/protocol"
)

// Version is set at build time with -ldflags "-X .../internal/cli.Version=...".
var Version = "dev"

type rootOptions struct {
	cfgFile string
	dataDir string
}

// NewRootCmd builds the command tree. A fresh tree per call keeps flag state
// out of package globals.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "booklore-runner",
		Short: "Run BookLore with its embedded database and Java runtime",
		Long: `booklore-runner brings up the embedded MariaDB server, makes sure a Java
runtime is available and starts the BookLore server, in that order, then keeps
supervising them until it is asked to shut down.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.cfgFile, "config", "c", "", "config file (default "+config.DefaultConfigPath()+")")
	cmd.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "app data root (overrides data_dir)")

	cmd.AddCommand(
		newStartCmd(opts),
		newBootCmd(opts),
		newStopCmd(opts),
		newEventsCmd(opts),
		newStatusCmd(opts),
		newImportCmd(opts),
		newDoctorCmd(opts),
		newLogsCmd(opts),
		newConfigCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// load reads the configuration and applies command-line overrides.
func (o *rootOptions) load() (*protocol.Config, error) {
	cfg, err := config.Load(o.cfgFile)
	if err != nil {
		return nil, err
	}
	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
	}
	return cfg, nil
}

func (o *rootOptions) configPath() string {
	if o.cfgFile != "" {
		return o.cfgFile
	}
	return config.DefaultConfigPath()
}

func (o *rootOptions) layout() (layout.Root, error) {
	cfg, err := o.load()
	if err != nil {
		return layout.Root{}, err
	}
	return layout.New(cfg.DataDir), nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "booklore-runner %s\n", Version)
		},
	}
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// Personal.AI order the ending
