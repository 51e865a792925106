package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/outrider/internal/config"
)

func newConfigCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect sidecar manifests",
	}
	cmd.AddCommand(newConfigValidateCmd(ctx))
	return cmd
}

func newConfigValidateCmd(ctx *context) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a sidecar manifest",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := *ctx.manifestPath
			if len(args) == 1 {
				path = args[0]
			}
			manifest, err := config.Load(path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (sidecar %q, mode %s)\n", path, manifest.Sidecar.Name, manifest.Sidecar.Mode)
			return nil
		},
	}
}
