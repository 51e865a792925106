package docker

import (
	"context"
	"errors"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"

	"github.com/Paintersrp/outrider/internal/launcher"
)

func TestBuildConfigsMapsSpec(t *testing.T) {
	spec := launcher.Spec{
		Name:    "worker",
		Image:   "ghcr.io/acme/worker:1",
		Command: []string{"--serve"},
		Ports:   []string{"127.0.0.1:8000:8000/tcp"},
		Env:     map[string]string{"B": "2", "A": "1"},
	}

	cfg, host, err := buildConfigs(spec)
	if err != nil {
		t.Fatalf("build configs: %v", err)
	}
	if cfg.Image != spec.Image {
		t.Fatalf("image = %q", cfg.Image)
	}
	if len(cfg.Cmd) != 1 || cfg.Cmd[0] != "--serve" {
		t.Fatalf("cmd = %v", cfg.Cmd)
	}
	if len(cfg.Env) != 2 || cfg.Env[0] != "A=1" || cfg.Env[1] != "B=2" {
		t.Fatalf("env = %v, want sorted", cfg.Env)
	}

	port := nat.Port("8000/tcp")
	if _, ok := cfg.ExposedPorts[port]; !ok {
		t.Fatalf("exposed ports = %v", cfg.ExposedPorts)
	}
	bindings := host.PortBindings[port]
	if len(bindings) != 1 || bindings[0].HostIP != "127.0.0.1" || bindings[0].HostPort != "8000" {
		t.Fatalf("bindings = %v", bindings)
	}
}

func TestBuildConfigsRejectsInvalidPort(t *testing.T) {
	spec := launcher.Spec{Image: "img", Ports: []string{"not-a-port"}}
	if _, _, err := buildConfigs(spec); err == nil {
		t.Fatal("expected error for invalid port spec")
	}
}

func TestLogWriterSplitsLines(t *testing.T) {
	ch := make(chan launcher.LogEntry, 16)
	w := newLogWriter(context.Background(), ch, launcher.LogSourceStdout, "")

	if _, err := w.Write([]byte("first\nsec")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := w.Write([]byte("ond\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	w.Close()
	close(ch)

	var lines []string
	for entry := range ch {
		if entry.Source != launcher.LogSourceStdout {
			t.Fatalf("source = %q", entry.Source)
		}
		lines = append(lines, entry.Message)
	}
	if len(lines) != 2 || lines[0] != "first" || lines[1] != "second" {
		t.Fatalf("lines = %v", lines)
	}
}

func TestLogWriterFlushesPartialLineOnClose(t *testing.T) {
	ch := make(chan launcher.LogEntry, 4)
	w := newLogWriter(context.Background(), ch, launcher.LogSourceStderr, "warn")

	if _, err := w.Write([]byte("no newline")); err != nil {
		t.Fatalf("write: %v", err)
	}
	w.Close()
	close(ch)

	entry := <-ch
	if entry.Message != "no newline" || entry.Level != "warn" {
		t.Fatalf("entry = %+v", entry)
	}
}

func TestWaitOutcomeError(t *testing.T) {
	if err := waitOutcomeError(waitOutcome{}); err != nil {
		t.Fatalf("clean exit = %v, want nil", err)
	}
	if err := waitOutcomeError(waitOutcome{status: container.WaitResponse{StatusCode: 137}}); err == nil {
		t.Fatal("expected error for non-zero status")
	}
	cause := errors.New("daemon gone")
	if err := waitOutcomeError(waitOutcome{err: cause}); !errors.Is(err, cause) {
		t.Fatalf("wait error = %v, want wrapped cause", err)
	}
}
