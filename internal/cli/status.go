package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newStatusCmd(ctx *context) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the supervised worker's state",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newControlClient(resolveControlAddr(ctx, addr))
			report, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "SIDECAR\t%s\n", report.Sidecar)
			fmt.Fprintf(w, "RUNNING\t%t\n", report.Running)
			if report.PortReady {
				fmt.Fprintf(w, "PORT\t%d\n", report.Port)
			} else {
				fmt.Fprintf(w, "PORT\t(not announced)\n")
			}
			if report.InstanceID != "" {
				fmt.Fprintf(w, "INSTANCE\t%s\n", report.InstanceID)
			}
			if report.Generation != "" {
				fmt.Fprintf(w, "GENERATION\t%s\n", report.Generation)
			}
			if report.Running {
				fmt.Fprintf(w, "UPTIME\t%ds\n", report.UptimeSecs)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Control API address (defaults to the manifest's control.addr)")
	return cmd
}
