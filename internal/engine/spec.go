package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Paintersrp/outrider/internal/config"
	"github.com/Paintersrp/outrider/internal/launcher"
)

// BuildLaunchSpec resolves the manifest's deployment mode into a concrete
// worker invocation.
//
// Binary mode resolves the packaged worker relative to the running
// executable's directory, so the invocation works regardless of the working
// directory the application was launched from, including app bundles. Script
// mode resolves the interpreter and entry script against the manifest's
// resolved working directory.
func BuildLaunchSpec(m *config.Manifest) (launcher.Spec, error) {
	spec := launcher.Spec{
		Name:    m.Sidecar.Name,
		Workdir: m.Sidecar.ResolvedWorkdir,
		Env:     m.Sidecar.Env,
	}

	switch m.Sidecar.Mode {
	case config.ModeBinary:
		path := m.Sidecar.Binary
		if !filepath.IsAbs(path) {
			exe, err := os.Executable()
			if err != nil {
				return launcher.Spec{}, fmt.Errorf("locate executable: %w", err)
			}
			path = filepath.Join(filepath.Dir(exe), path)
		}
		if _, err := os.Stat(path); err != nil {
			return launcher.Spec{}, fmt.Errorf("resolve sidecar binary: %w", err)
		}
		spec.Command = append([]string{path}, m.Sidecar.Args...)

	case config.ModeScript:
		argv := append([]string(nil), m.Sidecar.Interpreter...)
		if strings.ContainsRune(argv[0], os.PathSeparator) && !filepath.IsAbs(argv[0]) {
			argv[0] = filepath.Join(m.Sidecar.ResolvedWorkdir, argv[0])
		}
		argv = append(argv, m.Sidecar.Script)
		argv = append(argv, m.Sidecar.Args...)
		spec.Command = argv

	case config.ModeContainer:
		spec.Image = m.Sidecar.Image
		spec.Ports = append([]string(nil), m.Sidecar.Ports...)
		spec.Command = append([]string(nil), m.Sidecar.Args...)

	default:
		return launcher.Spec{}, fmt.Errorf("unsupported sidecar mode %q", m.Sidecar.Mode)
	}

	return spec, nil
}
