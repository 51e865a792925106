package cli

import (
	stdcontext "context"
	"fmt"
	"time"

	"github.com/Paintersrp/outrider/internal/api"
	"github.com/Paintersrp/outrider/internal/engine"
)

// ControlAPI exposes supervisor operations for the HTTP control plane.
type ControlAPI struct {
	ctx *context
}

// NewControlAPI constructs a ControlAPI wrapper around the shared CLI context.
func NewControlAPI(ctx *context) *ControlAPI {
	if ctx == nil {
		return nil
	}
	return &ControlAPI{ctx: ctx}
}

// Port returns the discovered worker port, or ErrNotReady while the worker has
// not announced one. It never blocks; callers poll until ready.
func (apiCtrl *ControlAPI) Port(ctx stdcontext.Context) (*api.PortReport, error) {
	sup, err := apiCtrl.supervisor(ctx)
	if err != nil {
		return nil, err
	}
	port, ok := sup.Port()
	if !ok {
		return nil, fmt.Errorf("%w: no port announced yet", api.ErrNotReady)
	}
	return &api.PortReport{
		Port:       port,
		Generation: sup.Registry().Generation(),
	}, nil
}

// Kill terminates the worker ahead of a shutdown or self-update. A worker
// that is already gone is reported as killed=false, not an error.
func (apiCtrl *ControlAPI) Kill(ctx stdcontext.Context) (*api.KillReport, error) {
	sup, err := apiCtrl.supervisor(ctx)
	if err != nil {
		return nil, err
	}
	killed, err := sup.Kill(ctx, engine.ReasonForceKill)
	if err != nil {
		return nil, err
	}
	return &api.KillReport{
		Killed:      killed,
		Generation:  sup.Status().Generation,
		CompletedAt: time.Now(),
	}, nil
}

// Status reports the supervised worker's current state.
func (apiCtrl *ControlAPI) Status(ctx stdcontext.Context) (*api.StatusReport, error) {
	sup, err := apiCtrl.supervisor(ctx)
	if err != nil {
		return nil, err
	}
	snap := sup.Status()
	report := &api.StatusReport{
		Sidecar:     snap.Name,
		Generation:  snap.Generation,
		InstanceID:  snap.InstanceID,
		Running:     snap.Running,
		PortReady:   snap.PortReady,
		StartedAt:   snap.StartedAt,
		GeneratedAt: time.Now(),
	}
	if snap.PortReady {
		report.Port = snap.Port
	}
	if snap.Running && !snap.StartedAt.IsZero() {
		report.UptimeSecs = int64(time.Since(snap.StartedAt).Seconds())
	}
	return report, nil
}

func (apiCtrl *ControlAPI) supervisor(ctx stdcontext.Context) (*engine.Supervisor, error) {
	if apiCtrl == nil || apiCtrl.ctx == nil {
		return nil, api.ErrNotRunning
	}
	if ctx != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
	sup := apiCtrl.ctx.currentSupervisor()
	if sup == nil {
		return nil, fmt.Errorf("%w: no supervised worker", api.ErrNotRunning)
	}
	return sup, nil
}

// Ensure interface compliance at compile time.
var _ api.Controller = (*ControlAPI)(nil)
