// Package cli is the geoframe command tree.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"geoframe/internal/config"
	"geoframe/internal/logging"
)

type rootOptions struct {
	configPath string
	logLevel   string
	pretty     bool
}

// NewRootCmd builds the command tree. Output goes to the command's out and
// err writers so tests can capture it.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "geoframe",
		Short:         "Layered map renderer with viewport culling and crisis throttling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (.yaml, .toml or .json); defaults when empty")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level: trace|debug|info|warn|error")
	root.PersistentFlags().BoolVar(&opts.pretty, "pretty", false, "human readable console logs")

	root.AddCommand(newRunCmd(opts), newSimulateCmd(opts), newConfigCmd(opts))
	return root
}

// Execute runs the command tree against os.Args and returns the exit code.
func Execute() int {
	root := NewRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "geoframe: %v\n", err)
		return 1
	}
	return 0
}

func (o *rootOptions) load() (config.Config, error) {
	cfg := config.Default()
	if o.configPath != "" {
		loaded, err := config.Load(o.configPath)
		if err != nil {
			return cfg, err
		}
		cfg = *loaded
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.pretty {
		cfg.Logging.Pretty = true
	}
	return cfg, cfg.Validate()
}

func newLogger(cfg config.Config, w io.Writer) *zerolog.Logger {
	l := logging.New(cfg.Logging.Level, cfg.Logging.Pretty, w)
	return &l
}
