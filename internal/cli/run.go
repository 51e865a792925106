package cli

import (
	stdcontext "context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"

	apihttp "github.com/Paintersrp/outrider/internal/api/http"
	"github.com/Paintersrp/outrider/internal/cliutil"
	"github.com/Paintersrp/outrider/internal/config"
	"github.com/Paintersrp/outrider/internal/engine"
	"github.com/Paintersrp/outrider/internal/launcher"
	"github.com/Paintersrp/outrider/internal/logmux"

	// Launcher adapters register themselves.
	_ "github.com/Paintersrp/outrider/internal/launcher/docker"
	_ "github.com/Paintersrp/outrider/internal/launcher/process"
)

const (
	eventBuffer  = 256
	killTimeout  = 10 * time.Second
	drainTimeout = 5 * time.Second
)

var newAPIServer = apihttp.NewServer

func newRunCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Spawn the sidecar worker and serve the control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			manifest, err := ctx.loadManifest()
			if err != nil {
				return err
			}
			return runSupervisor(cmd, ctx, manifest)
		},
	}
	return cmd
}

func runSupervisor(cmd *cobra.Command, ctx *context, manifest *config.Manifest) error {
	spec, err := engine.BuildLaunchSpec(manifest)
	if err != nil {
		return err
	}

	l, err := lookupLauncher(manifest.Sidecar.Mode)
	if err != nil {
		return err
	}

	events := make(chan engine.Event, eventBuffer)
	mux := logmux.New(eventBuffer, sinkOptions(manifest)...)
	mux.Add(events)

	var printer sync.WaitGroup
	printer.Add(1)
	go func() {
		defer printer.Done()
		enc := json.NewEncoder(cmd.OutOrStdout())
		printEvents(enc, cmd.ErrOrStderr(), mux.Output())
	}()
	closeLogs := func() {
		close(events)
		mux.Close()
		printer.Wait()
	}

	sup := engine.NewSupervisor(manifest.Sidecar.Name, spec, manifest.Discovery.Prefix, l, events)

	if err := sup.Spawn(cmd.Context()); err != nil {
		closeLogs()
		return err
	}
	ctx.setSupervisor(sup)
	defer ctx.clearSupervisor(sup)

	serverCtx, serverCancel := stdcontext.WithCancel(cmd.Context())
	defer serverCancel()
	serverErr, err := startControlServer(cmd, serverCtx, ctx, manifest.Control.Addr)
	if err != nil {
		killAbandoned(sup)
		closeLogs()
		return err
	}

	watchDone := make(chan struct{})
	var watchers sync.WaitGroup
	if timeout := manifest.Discovery.Timeout.Duration; timeout > 0 {
		watchers.Add(1)
		go func() {
			defer watchers.Done()
			watchDiscovery(sup, events, timeout, watchDone)
		}()
	}

	<-cmd.Context().Done()

	// Exit hook: terminate the worker before the parent goes away, bounded so
	// shutdown never hangs.
	killCtx, cancelKill := stdcontext.WithTimeout(stdcontext.WithoutCancel(cmd.Context()), killTimeout)
	_, killErr := sup.Kill(killCtx, engine.ReasonExitHook)
	cancelKill()

	drainCtx, cancelDrain := stdcontext.WithTimeout(stdcontext.Background(), drainTimeout)
	drainErr := sup.WaitDrained(drainCtx)
	cancelDrain()

	serverCancel()
	if err := <-serverErr; err != nil && !errors.Is(err, stdcontext.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(cmd.ErrOrStderr(), "control server error: %v\n", err)
	}

	close(watchDone)
	watchers.Wait()

	if drainErr != nil {
		// The drain goroutines are abandoned rather than blocking shutdown;
		// the event channel must stay open for them.
		fmt.Fprintf(cmd.ErrOrStderr(), "abandoning worker stream drain: %v\n", drainErr)
	} else {
		closeLogs()
	}

	return killErr
}

func lookupLauncher(mode string) (launcher.Launcher, error) {
	registry := launcher.NewRegistry()
	name := "process"
	if mode == config.ModeContainer {
		name = "container"
	}
	l, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("no launcher registered for mode %q", mode)
	}
	return l, nil
}

func sinkOptions(manifest *config.Manifest) []logmux.SinkOption {
	cfg := manifest.Logging
	if cfg == nil || cfg.Directory == "" {
		return nil
	}
	opts := []logmux.SinkOption{
		logmux.WithDirectory(cfg.Directory),
		logmux.WithSidecarName(manifest.Sidecar.Name),
	}
	if cfg.FileSizeBytes > 0 {
		opts = append(opts, logmux.WithMaxFileSize(cfg.FileSizeBytes))
	}
	if cfg.TotalSizeBytes > 0 {
		opts = append(opts, logmux.WithMaxTotalSize(cfg.TotalSizeBytes))
	}
	if cfg.MaxFileAge.Duration > 0 {
		opts = append(opts, logmux.WithMaxFileAge(cfg.MaxFileAge.Duration))
	}
	if cfg.MaxFileCount > 0 {
		opts = append(opts, logmux.WithMaxFileCount(cfg.MaxFileCount))
	}
	return opts
}

// startControlServer launches the HTTP control plane and reports early
// listen failures instead of letting them surface only at shutdown.
func startControlServer(cmd *cobra.Command, serverCtx stdcontext.Context, ctx *context, addr string) (<-chan error, error) {
	control := NewControlAPI(ctx)
	server, err := newAPIServer(apihttp.Config{Addr: addr, Controller: control})
	if err != nil {
		return nil, err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(serverCtx)
	}()

	readyTimer := time.NewTimer(200 * time.Millisecond)
	defer readyTimer.Stop()
	select {
	case err := <-errCh:
		if err == nil {
			err = errors.New("control server exited unexpectedly")
		}
		return nil, err
	case <-readyTimer.C:
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Control API listening on %s\n", server.Addr())
	return errCh, nil
}

// watchDiscovery emits a warning when the worker has not announced a port
// within the configured window. Discovery is never enforced beyond the log
// line; callers of the port query keep polling regardless.
func watchDiscovery(sup *engine.Supervisor, events chan<- engine.Event, timeout time.Duration, done <-chan struct{}) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return
	case <-timer.C:
	}
	if _, ok := sup.Port(); ok {
		return
	}
	events <- engine.Event{
		Timestamp: time.Now(),
		Sidecar:   sup.Status().Name,
		Type:      engine.EventTypeLog,
		Message:   fmt.Sprintf("worker has not announced a port after %s", timeout),
		Level:     "warn",
		Source:    launcher.LogSourceSystem,
	}
}

func printEvents(enc *json.Encoder, stderr io.Writer, events <-chan engine.Event) {
	for evt := range events {
		cliutil.EncodeLogEvent(enc, stderr, evt)
	}
}

func killAbandoned(sup *engine.Supervisor) {
	killCtx, cancel := stdcontext.WithTimeout(stdcontext.Background(), killTimeout)
	defer cancel()
	_, _ = sup.Kill(killCtx, engine.ReasonStartup)
}
