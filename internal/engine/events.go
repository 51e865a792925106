package engine

import (
	"time"

	"github.com/Paintersrp/outrider/internal/launcher"
)

// EventType captures high level lifecycle notifications emitted by the
// supervisor.
type EventType string

const (
	EventTypeSpawning   EventType = "spawning"
	EventTypeSpawned    EventType = "spawned"
	EventTypeDiscovered EventType = "discovered"
	EventTypeLog        EventType = "log"
	EventTypeExited     EventType = "exited"
	EventTypeKilled     EventType = "killed"
	EventTypeError      EventType = "error"
)

// Event represents a single lifecycle or log notification.
type Event struct {
	Timestamp  time.Time
	Sidecar    string
	Generation string
	Type       EventType
	Message    string
	Level      string
	Source     string
	Err        error
	Reason     string
}

const (
	ReasonStartup               = "startup"
	ReasonExitHook              = "exit_hook"
	ReasonForceKill             = "force_kill"
	ReasonWorkerExit            = "worker_exit"
	ReasonDuplicateAnnouncement = "duplicate_announcement"
)

func sendEvent(events chan<- Event, sidecar, generation string, t EventType, message, reason string, err error) {
	if events == nil {
		return
	}
	level := "info"
	if err != nil || t == EventTypeError {
		level = "error"
	}
	events <- Event{
		Timestamp:  time.Now(),
		Sidecar:    sidecar,
		Generation: generation,
		Type:       t,
		Message:    message,
		Level:      level,
		Source:     launcher.LogSourceSystem,
		Err:        err,
		Reason:     reason,
	}
}
