package cli

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

func newConfigCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the effective configuration",
	}

	var format string
	show := &cobra.Command{
		Use:     "show",
		Short:   "Print the effective configuration",
		Example: "  geoframe config show --format toml\n  geoframe -c geoframe.yaml config show",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch format {
			case "yaml", "toml", "json":
			default:
				return eris.Errorf("unknown format %q (yaml|toml|json)", format)
			}
			cfg, err := root.load()
			if err != nil {
				return err
			}
			return cfg.Encode(cmd.OutOrStdout(), format)
		},
	}
	show.Flags().StringVarP(&format, "format", "f", "yaml", "output format: yaml|toml|json")

	validate := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := root.load(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}

	cmd.AddCommand(show, validate)
	return cmd
}
