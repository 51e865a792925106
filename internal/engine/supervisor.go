package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Paintersrp/outrider/internal/discovery"
	"github.com/Paintersrp/outrider/internal/launcher"
	"github.com/Paintersrp/outrider/internal/metrics"
)

// ErrAlreadyRunning is returned by Spawn when a worker handle is still held.
var ErrAlreadyRunning = errors.New("sidecar already running")

// Supervisor owns the single sidecar worker: it spawns the worker, drains its
// output channels, publishes the discovered port and guarantees idempotent
// termination. The worker handle lives in a mutex-guarded slot with take-once
// semantics so concurrent kill triggers can never signal the process twice.
type Supervisor struct {
	name     string
	spec     launcher.Spec
	prefix   string
	launcher launcher.Launcher
	registry *discovery.Registry
	events   chan<- Event

	mu         sync.Mutex
	current    launcher.Instance
	generation string
	instanceID string
	startedAt  time.Time
	exited     bool
	done       chan struct{}
}

// NewSupervisor constructs a supervisor for the worker described by spec.
// Events are emitted on the provided channel; the supervisor never closes it.
func NewSupervisor(name string, spec launcher.Spec, prefix string, l launcher.Launcher, events chan<- Event) *Supervisor {
	if prefix == "" {
		prefix = "PORT:"
	}
	return &Supervisor{
		name:     name,
		spec:     spec,
		prefix:   prefix,
		launcher: l,
		registry: discovery.NewRegistry(),
		events:   events,
	}
}

// Registry exposes the port registry for callers that poll readiness directly.
func (s *Supervisor) Registry() *discovery.Registry {
	return s.registry
}

// Spawn launches the worker and wires up its drain and exit watchers. A
// failure to resolve or start the worker is a fatal startup error; the
// supervisor does not retry.
func (s *Supervisor) Spawn(ctx context.Context) error {
	s.mu.Lock()
	if s.current != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.mu.Unlock()

	generation := uuid.NewString()
	sendEvent(s.events, s.name, generation, EventTypeSpawning, "starting worker", ReasonStartup, nil)

	inst, err := s.launcher.Start(ctx, s.spec)
	if err != nil {
		sendEvent(s.events, s.name, generation, EventTypeError, "worker start failed", ReasonStartup, err)
		return fmt.Errorf("spawn sidecar %s: %w", s.name, err)
	}

	startedAt := time.Now()
	done := make(chan struct{})
	s.registry.Arm(generation)

	s.mu.Lock()
	s.current = inst
	s.generation = generation
	s.instanceID = inst.ID()
	s.startedAt = startedAt
	s.exited = false
	s.done = done
	s.mu.Unlock()

	metrics.SetSidecarUp(s.name, true)
	sendEvent(s.events, s.name, generation, EventTypeSpawned, fmt.Sprintf("worker started (id %s)", inst.ID()), ReasonStartup, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go s.drainLines(inst, generation, startedAt, &wg)
	go s.watchExit(inst, generation, &wg)
	go func() {
		wg.Wait()
		close(done)
	}()

	return nil
}

// drainLines consumes the worker's merged output until end-of-stream. Every
// line is forwarded to the event channel; only stdout lines are tested against
// the discovery protocol.
func (s *Supervisor) drainLines(inst launcher.Instance, generation string, startedAt time.Time, wg *sync.WaitGroup) {
	defer wg.Done()
	for entry := range inst.Lines() {
		metrics.IncLines(entry.Source)
		s.emitLine(generation, entry)

		if entry.Source != launcher.LogSourceStdout {
			continue
		}
		port, ok := discovery.ParseLine(s.prefix, entry.Message)
		if !ok {
			continue
		}
		if s.registry.Set(port) {
			metrics.SetDiscoveredPort(s.name, port)
			metrics.ObserveDiscoveryLatency(s.name, time.Since(startedAt))
			sendEvent(s.events, s.name, generation, EventTypeDiscovered,
				fmt.Sprintf("worker listening on port %d", port), "", nil)
		} else if current, _ := s.registry.Get(); current != port {
			sendEvent(s.events, s.name, generation, EventTypeError,
				fmt.Sprintf("ignoring conflicting port announcement %d (keeping %d)", port, current),
				ReasonDuplicateAnnouncement, nil)
		}
	}
}

func (s *Supervisor) emitLine(generation string, entry launcher.LogEntry) {
	if s.events == nil {
		return
	}
	level := entry.Level
	if level == "" {
		level = "info"
	}
	ts := entry.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	s.events <- Event{
		Timestamp:  ts,
		Sidecar:    s.name,
		Generation: generation,
		Type:       EventTypeLog,
		Message:    entry.Message,
		Level:      level,
		Source:     entry.Source,
	}
}

// watchExit logs the worker's termination status. An exit while the handle is
// still held is unexpected; it never alters the port registry and never
// triggers a restart.
func (s *Supervisor) watchExit(inst launcher.Instance, generation string, wg *sync.WaitGroup) {
	defer wg.Done()
	err := inst.Wait(context.Background())

	s.mu.Lock()
	unexpected := s.current == inst
	if unexpected {
		s.exited = true
	}
	s.mu.Unlock()

	if !unexpected {
		return
	}
	metrics.SetSidecarUp(s.name, false)
	if err != nil {
		sendEvent(s.events, s.name, generation, EventTypeExited, "worker exited unexpectedly", ReasonWorkerExit, err)
	} else {
		sendEvent(s.events, s.name, generation, EventTypeExited, "worker exited", ReasonWorkerExit, nil)
	}
}

// Kill terminates the worker and reports whether this call performed the
// termination. It is idempotent and race-safe: the handle is removed from the
// shared slot before any signal is sent, so exactly one of several concurrent
// kill triggers performs the OS-level termination and the rest observe the
// handle already gone and no-op.
func (s *Supervisor) Kill(ctx context.Context, reason string) (bool, error) {
	s.mu.Lock()
	inst := s.current
	generation := s.generation
	s.current = nil
	s.mu.Unlock()

	if inst == nil {
		sendEvent(s.events, s.name, generation, EventTypeLog, "kill requested but worker already gone", reason, nil)
		metrics.IncKills("noop")
		return false, nil
	}

	if err := inst.Kill(ctx); err != nil {
		metrics.IncKills("error")
		sendEvent(s.events, s.name, generation, EventTypeError, "worker kill failed", reason, err)
		return false, fmt.Errorf("kill sidecar %s: %w", s.name, err)
	}

	metrics.IncKills("killed")
	metrics.SetSidecarUp(s.name, false)
	sendEvent(s.events, s.name, generation, EventTypeKilled, "worker killed", reason, nil)
	return true, nil
}

// Port returns the discovered worker port, or false while the worker has not
// announced one yet. It never blocks; callers poll until ready.
func (s *Supervisor) Port() (uint16, bool) {
	return s.registry.Get()
}

// Snapshot describes the supervisor state at a point in time.
type Snapshot struct {
	Name       string
	Generation string
	InstanceID string
	Running    bool
	Port       uint16
	PortReady  bool
	StartedAt  time.Time
}

// Status reports the current worker state.
func (s *Supervisor) Status() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Name:       s.name,
		Generation: s.generation,
		InstanceID: s.instanceID,
		Running:    s.current != nil && !s.exited,
		StartedAt:  s.startedAt,
	}
	s.mu.Unlock()
	snap.Port, snap.PortReady = s.registry.Get()
	return snap
}

// WaitDrained blocks until both drain goroutines of the current generation
// have observed end-of-stream, or the context expires. Callers bound the wait
// after a kill so shutdown never hangs on an abandoned stream.
func (s *Supervisor) WaitDrained(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
