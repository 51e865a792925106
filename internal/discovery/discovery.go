// Package discovery implements the line-based port announcement protocol and
// the shared registry the discovered port is published through.
package discovery

import (
	"strconv"
	"strings"
	"sync"
)

// ParseLine reports whether line is a valid port announcement for the given
// prefix and, if so, the announced port. Lines without the prefix, with a
// non-numeric remainder or with a value outside the unsigned 16-bit range are
// not announcements.
func ParseLine(prefix, line string) (uint16, bool) {
	rest, ok := strings.CutPrefix(strings.TrimRight(line, "\r\n"), prefix)
	if !ok {
		return 0, false
	}
	port, err := strconv.ParseUint(rest, 10, 16)
	if err != nil {
		return 0, false
	}
	return uint16(port), true
}

// Registry holds the single discovered worker port. It is written at most
// once per spawn generation by the stdout drainer and read any number of
// times by the surrounding application. The lock is held only for the memory
// mutation, never across I/O.
type Registry struct {
	mu         sync.Mutex
	port       uint16
	set        bool
	generation string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Arm resets the registry for a new spawn generation.
func (r *Registry) Arm(generation string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generation = generation
	r.port = 0
	r.set = false
}

// Set latches the announced port. The first valid announcement per generation
// wins; Set reports whether this call stored the value. Later announcements
// leave the registry unchanged and return false.
func (r *Registry) Set(port uint16) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.set {
		return false
	}
	r.port = port
	r.set = true
	return true
}

// Get returns the discovered port. It never blocks waiting for a value;
// callers poll until the worker has announced.
func (r *Registry) Get() (uint16, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.port, r.set
}

// Generation returns the spawn generation the registry is armed for.
func (r *Registry) Generation() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generation
}
