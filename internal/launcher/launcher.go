package launcher

import (
	"context"
	"time"
)

// Log sources attached to drained worker output lines.
const (
	LogSourceStdout = "stdout"
	LogSourceStderr = "stderr"
	LogSourceSystem = "system"
)

// LogEntry is a single line drained from one of the worker's output channels.
type LogEntry struct {
	Message   string
	Source    string
	Level     string
	Timestamp time.Time
}

// Spec describes the worker invocation a launcher should perform.
type Spec struct {
	Name    string
	Command []string
	Image   string
	Ports   []string
	Workdir string
	Env     map[string]string
}

// Instance is a handle to a single running worker.
type Instance interface {
	// ID identifies the underlying OS resource (pid or container id).
	ID() string

	// Lines returns the worker's drained output. Both output channels are
	// consumed concurrently so the worker can never block on a full pipe
	// buffer; the channel closes once both streams reach end-of-stream.
	Lines() <-chan LogEntry

	// Wait blocks until the worker exits and returns its termination status
	// as an error, or nil for a clean exit.
	Wait(ctx context.Context) error

	// Kill terminates the worker. Implementations must be idempotent and
	// tolerate the worker already being gone.
	Kill(ctx context.Context) error
}

// Launcher describes a backend capable of starting the sidecar worker.
type Launcher interface {
	// Start launches the worker described by spec and returns a live handle.
	// Failures are fatal startup errors; launchers do not retry.
	Start(ctx context.Context, spec Spec) (Instance, error)
}
