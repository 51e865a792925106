package config

import (
	"fmt"
	"regexp"
	"time"

	"github.com/docker/go-connections/nat"
	units "github.com/docker/go-units"
)

// Mode selects how the sidecar worker is launched.
const (
	ModeBinary    = "binary"
	ModeScript    = "script"
	ModeContainer = "container"
)

// DefaultDiscoveryPrefix is the stdout line prefix announcing the worker port.
const DefaultDiscoveryPrefix = "PORT:"

// DefaultControlAddr is the loopback address of the control API.
const DefaultControlAddr = "127.0.0.1:7673"

// Duration wraps time.Duration for YAML unmarshalling.
type Duration struct {
	time.Duration
	explicit bool
}

// UnmarshalText parses a textual duration, accepting empty strings.
func (d *Duration) UnmarshalText(text []byte) error {
	d.explicit = true
	if len(text) == 0 {
		d.Duration = 0
		return nil
	}
	dur, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = dur
	return nil
}

// MarshalText renders the duration using time.Duration formatting.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// IsSet reports whether the duration was explicitly provided or non-zero.
func (d Duration) IsSet() bool {
	return d.explicit || d.Duration != 0
}

// Manifest mirrors the sidecar.yaml document structure.
type Manifest struct {
	Version   string        `yaml:"version"`
	Sidecar   SidecarSpec   `yaml:"sidecar"`
	Discovery DiscoverySpec `yaml:"discovery"`
	Control   ControlSpec   `yaml:"control"`
	Logging   *LoggingSpec  `yaml:"logging"`
}

// SidecarSpec describes the single worker process the supervisor owns.
type SidecarSpec struct {
	Name        string            `yaml:"name"`
	Mode        string            `yaml:"mode"`
	Binary      string            `yaml:"binary"`
	Interpreter []string          `yaml:"interpreter"`
	Script      string            `yaml:"script"`
	Image       string            `yaml:"image"`
	Ports       []string          `yaml:"ports"`
	Args        []string          `yaml:"args"`
	Workdir     string            `yaml:"workdir"`
	Env         map[string]string `yaml:"env"`
	EnvFromFile string            `yaml:"envFromFile"`

	// ResolvedWorkdir is the absolute working directory derived from the
	// manifest location. Populated by Load, never read from YAML.
	ResolvedWorkdir string `yaml:"-"`
}

// DiscoverySpec configures the port announcement protocol.
type DiscoverySpec struct {
	Prefix  string   `yaml:"prefix"`
	Timeout Duration `yaml:"timeout"`
}

// ControlSpec configures the local control API.
type ControlSpec struct {
	Addr string `yaml:"addr"`
}

// LoggingSpec configures log persistence for drained worker output.
type LoggingSpec struct {
	Directory    string   `yaml:"directory"`
	MaxFileSize  string   `yaml:"maxFileSize"`
	MaxTotalSize string   `yaml:"maxTotalSize"`
	MaxFileAge   Duration `yaml:"maxFileAge"`
	MaxFileCount int      `yaml:"maxFileCount"`

	// Parsed byte limits derived from the textual fields above.
	FileSizeBytes  int64 `yaml:"-"`
	TotalSizeBytes int64 `yaml:"-"`
}

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// ApplyDefaults fills optional fields with their documented defaults.
func (m *Manifest) ApplyDefaults() error {
	if m.Discovery.Prefix == "" {
		m.Discovery.Prefix = DefaultDiscoveryPrefix
	}
	if m.Control.Addr == "" {
		m.Control.Addr = DefaultControlAddr
	}
	if m.Sidecar.Mode == ModeScript && len(m.Sidecar.Interpreter) == 0 {
		// -u keeps the announcement line from stalling in a stdio buffer.
		m.Sidecar.Interpreter = []string{"python3", "-u"}
	}
	if m.Logging != nil {
		if err := m.Logging.parseSizes(); err != nil {
			return err
		}
	}
	return nil
}

func (l *LoggingSpec) parseSizes() error {
	if l.MaxFileSize != "" {
		size, err := units.RAMInBytes(l.MaxFileSize)
		if err != nil {
			return fmt.Errorf("logging.maxFileSize: invalid size %q: %w", l.MaxFileSize, err)
		}
		l.FileSizeBytes = size
	}
	if l.MaxTotalSize != "" {
		size, err := units.RAMInBytes(l.MaxTotalSize)
		if err != nil {
			return fmt.Errorf("logging.maxTotalSize: invalid size %q: %w", l.MaxTotalSize, err)
		}
		l.TotalSizeBytes = size
	}
	return nil
}

// Validate enforces manifest invariants.
func (m *Manifest) Validate() error {
	if m.Version == "" {
		return fmt.Errorf("version is required")
	}
	if m.Version != "1" {
		return fmt.Errorf("unsupported manifest version %q", m.Version)
	}
	if m.Sidecar.Name == "" {
		return fmt.Errorf("sidecar.name is required")
	}
	if !namePattern.MatchString(m.Sidecar.Name) {
		return fmt.Errorf("sidecar.name %q contains unsupported characters", m.Sidecar.Name)
	}

	switch m.Sidecar.Mode {
	case ModeBinary:
		if m.Sidecar.Binary == "" {
			return fmt.Errorf("sidecar.binary is required in binary mode")
		}
		if m.Sidecar.Script != "" || m.Sidecar.Image != "" {
			return fmt.Errorf("sidecar.script and sidecar.image are not valid in binary mode")
		}
	case ModeScript:
		if m.Sidecar.Script == "" {
			return fmt.Errorf("sidecar.script is required in script mode")
		}
		if m.Sidecar.Binary != "" || m.Sidecar.Image != "" {
			return fmt.Errorf("sidecar.binary and sidecar.image are not valid in script mode")
		}
		if len(m.Sidecar.Interpreter) == 0 {
			return fmt.Errorf("sidecar.interpreter is required in script mode")
		}
	case ModeContainer:
		if m.Sidecar.Image == "" {
			return fmt.Errorf("sidecar.image is required in container mode")
		}
		if m.Sidecar.Binary != "" || m.Sidecar.Script != "" {
			return fmt.Errorf("sidecar.binary and sidecar.script are not valid in container mode")
		}
	case "":
		return fmt.Errorf("sidecar.mode is required")
	default:
		return fmt.Errorf("sidecar.mode %q is not supported (expected binary, script or container)", m.Sidecar.Mode)
	}

	if len(m.Sidecar.Ports) > 0 {
		if m.Sidecar.Mode != ModeContainer {
			return fmt.Errorf("sidecar.ports is only valid in container mode")
		}
		for _, spec := range m.Sidecar.Ports {
			if _, err := nat.ParsePortSpec(spec); err != nil {
				return fmt.Errorf("sidecar.ports: invalid port %q: %w", spec, err)
			}
		}
	}

	if m.Discovery.Timeout.Duration < 0 {
		return fmt.Errorf("discovery.timeout must not be negative")
	}
	if m.Logging != nil {
		if m.Logging.Directory == "" {
			return fmt.Errorf("logging.directory is required when logging is configured")
		}
		if m.Logging.MaxFileCount < 0 {
			return fmt.Errorf("logging.maxFileCount must not be negative")
		}
	}
	return nil
}
