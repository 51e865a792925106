// Package logmux fans in lifecycle and log events and delivers them via a
// bounded channel. When downstream consumers cannot keep up and the output
// buffer would overflow, the mux drops log records and emits a synthesized
// warning event to surface the number of discarded entries.
package logmux

import (
	"fmt"
	"sync"
	"time"

	"github.com/Paintersrp/outrider/internal/engine"
	"github.com/Paintersrp/outrider/internal/launcher"
)

// Mux multiplexes event sources into one bounded output channel.
type Mux struct {
	out  chan engine.Event
	sink *fileSink

	mu     sync.Mutex
	drops  map[string]int
	inputs sync.WaitGroup
}

// New constructs a mux backed by a channel of the provided size. A size of
// zero results in a minimally buffered channel.
func New(size int, opts ...SinkOption) *Mux {
	if size <= 0 {
		size = 1
	}
	m := &Mux{
		out:   make(chan engine.Event, size),
		drops: make(map[string]int),
	}
	cfg := sinkConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.directory != "" {
		m.sink = newFileSink(cfg)
	}
	return m
}

// Output exposes the muxed event channel.
func (m *Mux) Output() <-chan engine.Event {
	return m.out
}

// Add registers a new source channel. The mux consumes events until the
// source channel is closed.
func (m *Mux) Add(source <-chan engine.Event) {
	if source == nil {
		return
	}
	m.inputs.Add(1)
	go func() {
		defer m.inputs.Done()
		for evt := range source {
			evt = normalize(evt)
			if m.sink != nil {
				m.sink.Write(evt)
			}
			m.deliver(evt)
		}
	}()
}

// Close waits for all sources to be drained, emits any pending drop metadata,
// and closes the output channel.
func (m *Mux) Close() {
	m.inputs.Wait()
	m.flushDrops()
	if m.sink != nil {
		m.sink.Close()
	}
	close(m.out)
}

func (m *Mux) deliver(evt engine.Event) {
	if !m.flushPending(evt.Source) {
		m.recordDrop(evt.Source, 1)
		return
	}
	if m.trySend(evt) {
		return
	}
	m.recordDrop(evt.Source, 1)
}

func (m *Mux) flushPending(source string) bool {
	for {
		count := m.takeDrops(source)
		if count == 0 {
			return true
		}
		meta := synthesizeDropEvent(source, count)
		if m.trySend(meta) {
			continue
		}
		m.recordDrop(source, count)
		return false
	}
}

func (m *Mux) takeDrops(source string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := m.drops[source]
	if count != 0 {
		delete(m.drops, source)
	}
	return count
}

func (m *Mux) recordDrop(source string, count int) {
	if count <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drops[source] += count
}

func (m *Mux) flushDrops() {
	m.mu.Lock()
	pending := m.drops
	m.drops = make(map[string]int)
	m.mu.Unlock()

	for source, count := range pending {
		if count == 0 {
			continue
		}
		m.out <- synthesizeDropEvent(source, count)
	}
}

func (m *Mux) trySend(evt engine.Event) bool {
	select {
	case m.out <- evt:
		return true
	default:
		return false
	}
}

func normalize(evt engine.Event) engine.Event {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	if evt.Source == "" {
		evt.Source = launcher.LogSourceSystem
	}
	if evt.Level == "" {
		if evt.Source == launcher.LogSourceStderr {
			evt.Level = "warn"
		} else {
			evt.Level = "info"
		}
	}
	return evt
}

func synthesizeDropEvent(source string, count int) engine.Event {
	return engine.Event{
		Timestamp: time.Now(),
		Type:      engine.EventTypeLog,
		Message:   fmt.Sprintf("dropped=%d", count),
		Level:     "warn",
		Source:    source,
	}
}
