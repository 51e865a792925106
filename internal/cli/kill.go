package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newKillCmd(ctx *context) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "kill",
		Short: "Force-kill the supervised worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newControlClient(resolveControlAddr(ctx, addr))
			report, err := client.Kill(cmd.Context())
			if err != nil {
				return err
			}
			if report.Killed {
				fmt.Fprintln(cmd.OutOrStdout(), "worker killed")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "worker already gone")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Control API address (defaults to the manifest's control.addr)")
	return cmd
}
