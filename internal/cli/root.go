package cli

import (
	stdcontext "context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Paintersrp/outrider/internal/config"
	"github.com/Paintersrp/outrider/internal/engine"
)

// NewRootCmd constructs the outrider command tree.
func NewRootCmd() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *context) {
	var manifestPath string

	root := &cobra.Command{
		Use:   "outrider",
		Short: "Local sidecar process supervisor",
	}

	root.PersistentFlags().
		StringVarP(&manifestPath, "file", "f", "sidecar.yaml", "Path to sidecar manifest")

	ctx := &context{manifestPath: &manifestPath}
	root.AddCommand(newRunCmd(ctx))
	root.AddCommand(newPortCmd(ctx))
	root.AddCommand(newKillCmd(ctx))
	root.AddCommand(newStatusCmd(ctx))
	root.AddCommand(newConfigCmd(ctx))

	root.SilenceUsage = true
	root.SilenceErrors = true

	return root, ctx
}

// Execute runs the CLI entrypoint.
func Execute() {
	ctx, stop := signal.NotifyContext(stdcontext.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCmd()
	root.SetContext(ctx)

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// context carries state shared between commands and the control API. The
// supervisor slot is lock-guarded because the HTTP control plane reads it
// concurrently with the run command's lifecycle.
type context struct {
	manifestPath *string

	mu         sync.RWMutex
	supervisor *engine.Supervisor
}

func (c *context) loadManifest() (*config.Manifest, error) {
	return config.Load(*c.manifestPath)
}

func (c *context) setSupervisor(sup *engine.Supervisor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.supervisor = sup
}

func (c *context) clearSupervisor(sup *engine.Supervisor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.supervisor == sup {
		c.supervisor = nil
	}
}

func (c *context) currentSupervisor() *engine.Supervisor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.supervisor
}
