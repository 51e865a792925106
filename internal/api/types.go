package api

import (
	stdcontext "context"
	"errors"
	"time"
)

var (
	// ErrNotReady is returned when the worker has not announced a port yet.
	ErrNotReady = errors.New("sidecar not ready")
	// ErrNotRunning is returned when no worker has been spawned.
	ErrNotRunning = errors.New("sidecar not running")
)

// PortReport carries the discovered worker port.
type PortReport struct {
	Port       uint16 `json:"port"`
	Generation string `json:"generation"`
}

// KillReport captures the outcome of a kill operation.
type KillReport struct {
	Killed      bool      `json:"killed"`
	Generation  string    `json:"generation"`
	CompletedAt time.Time `json:"completed_at"`
}

// StatusReport describes the supervised worker's state.
type StatusReport struct {
	Sidecar     string    `json:"sidecar"`
	Generation  string    `json:"generation"`
	InstanceID  string    `json:"instance_id"`
	Running     bool      `json:"running"`
	Port        uint16    `json:"port,omitempty"`
	PortReady   bool      `json:"port_ready"`
	StartedAt   time.Time `json:"started_at"`
	UptimeSecs  int64     `json:"uptime_seconds"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Controller exposes supervisor operations required by control servers.
type Controller interface {
	Port(stdcontext.Context) (*PortReport, error)
	Kill(stdcontext.Context) (*KillReport, error)
	Status(stdcontext.Context) (*StatusReport, error)
}
