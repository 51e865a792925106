package cli

import (
	stdcontext "context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/outrider/internal/api"
)

func newPortCmd(ctx *context) *cobra.Command {
	var (
		addr string
		wait time.Duration
	)

	cmd := &cobra.Command{
		Use:   "port",
		Short: "Print the worker's announced port",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newControlClient(resolveControlAddr(ctx, addr))
			report, err := queryPort(cmd.Context(), client, wait)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), report.Port)
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Control API address (defaults to the manifest's control.addr)")
	cmd.Flags().DurationVar(&wait, "wait", 0, "Poll until the port is announced or the duration elapses")
	return cmd
}

// queryPort asks for the port once, or polls while the worker reports
// not-ready when a wait window was requested.
func queryPort(ctx stdcontext.Context, client *controlClient, wait time.Duration) (*api.PortReport, error) {
	report, err := client.Port(ctx)
	if err == nil || wait <= 0 || !errors.Is(err, api.ErrNotReady) {
		return report, err
	}

	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
		report, err = client.Port(ctx)
		if err == nil || !errors.Is(err, api.ErrNotReady) {
			return report, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("port not announced within %s: %w", wait, err)
		}
	}
}
