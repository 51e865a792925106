package cli

import (
	"bytes"
	stdcontext "context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Paintersrp/outrider/internal/api"
	"github.com/Paintersrp/outrider/internal/config"
)

func writeManifest(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sidecar.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return path
}

const validManifest = `
version: "1"
sidecar:
  name: worker
  mode: script
  script: app/main.py
`

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestConfigValidateAcceptsValidManifest(t *testing.T) {
	path := writeManifest(t, validManifest)

	out, err := runCommand(t, "config", "validate", path)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "valid") || !strings.Contains(out, "worker") {
		t.Fatalf("output = %q", out)
	}
}

func TestConfigValidateRejectsInvalidManifest(t *testing.T) {
	path := writeManifest(t, `
version: "1"
sidecar:
  name: worker
  mode: binary
`)

	if _, err := runCommand(t, "config", "validate", path); err == nil {
		t.Fatal("expected validation error for binary mode without binary")
	}
}

func TestConfigValidateUsesFileFlag(t *testing.T) {
	path := writeManifest(t, validManifest)

	out, err := runCommand(t, "-f", path, "config", "validate")
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, "valid") {
		t.Fatalf("output = %q", out)
	}
}

func newFakeControlServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestControlClientPort(t *testing.T) {
	ts := newFakeControlServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/port" || r.Method != http.MethodGet {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(api.PortReport{Port: 8000, Generation: "gen-1"})
	})

	client := newControlClient(ts.URL)
	report, err := client.Port(stdcontext.Background())
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	if report.Port != 8000 {
		t.Fatalf("port = %d, want 8000", report.Port)
	}
}

func TestControlClientMapsErrorCodes(t *testing.T) {
	ts := newFakeControlServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{
			"code":    "not_ready",
			"message": "sidecar not ready: no port announced yet",
		})
	})

	client := newControlClient(ts.URL)
	_, err := client.Port(stdcontext.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, api.ErrNotReady) {
		t.Fatalf("error %v does not map to ErrNotReady", err)
	}
	if !strings.Contains(err.Error(), "no port announced") {
		t.Fatalf("error message lost: %v", err)
	}
}

func TestControlClientKill(t *testing.T) {
	ts := newFakeControlServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("kill used method %s", r.Method)
		}
		json.NewEncoder(w).Encode(api.KillReport{Killed: true, CompletedAt: time.Now()})
	})

	client := newControlClient(ts.URL)
	report, err := client.Kill(stdcontext.Background())
	if err != nil {
		t.Fatalf("kill: %v", err)
	}
	if !report.Killed {
		t.Fatal("killed = false")
	}
}

func TestControlClientConnectionRefused(t *testing.T) {
	client := newControlClient("127.0.0.1:1")
	if _, err := client.Port(stdcontext.Background()); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestPortCommandPrintsPort(t *testing.T) {
	ts := newFakeControlServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.PortReport{Port: 54321})
	})

	out, err := runCommand(t, "port", "--addr", ts.URL)
	if err != nil {
		t.Fatalf("port command: %v", err)
	}
	if strings.TrimSpace(out) != "54321" {
		t.Fatalf("output = %q, want 54321", out)
	}
}

func TestPortCommandWaitPollsUntilReady(t *testing.T) {
	var calls int
	ts := newFakeControlServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(map[string]string{"code": "not_ready", "message": "not ready"})
			return
		}
		json.NewEncoder(w).Encode(api.PortReport{Port: 8000})
	})

	out, err := runCommand(t, "port", "--addr", ts.URL, "--wait", "5s")
	if err != nil {
		t.Fatalf("port --wait: %v", err)
	}
	if strings.TrimSpace(out) != "8000" {
		t.Fatalf("output = %q, want 8000", out)
	}
	if calls < 3 {
		t.Fatalf("server saw %d calls, want at least 3", calls)
	}
}

func TestKillCommandReportsOutcome(t *testing.T) {
	ts := newFakeControlServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.KillReport{Killed: false})
	})

	out, err := runCommand(t, "kill", "--addr", ts.URL)
	if err != nil {
		t.Fatalf("kill command: %v", err)
	}
	if !strings.Contains(out, "already gone") {
		t.Fatalf("output = %q", out)
	}
}

func TestStatusCommandRendersReport(t *testing.T) {
	ts := newFakeControlServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.StatusReport{
			Sidecar:   "worker",
			Running:   true,
			Port:      8000,
			PortReady: true,
		})
	})

	out, err := runCommand(t, "status", "--addr", ts.URL)
	if err != nil {
		t.Fatalf("status command: %v", err)
	}
	if !strings.Contains(out, "worker") || !strings.Contains(out, "8000") {
		t.Fatalf("output = %q", out)
	}
}

func TestResolveControlAddr(t *testing.T) {
	manifestPath := writeManifest(t, `
version: "1"
sidecar:
  name: worker
  mode: script
  script: app/main.py
control:
  addr: "127.0.0.1:9222"
`)

	ctx := &context{manifestPath: &manifestPath}
	if got := resolveControlAddr(ctx, "127.0.0.1:1111"); got != "127.0.0.1:1111" {
		t.Fatalf("explicit addr = %q", got)
	}
	if got := resolveControlAddr(ctx, ""); got != "127.0.0.1:9222" {
		t.Fatalf("manifest addr = %q", got)
	}

	missing := filepath.Join(t.TempDir(), "missing.yaml")
	ctx = &context{manifestPath: &missing}
	if got := resolveControlAddr(ctx, ""); got != config.DefaultControlAddr {
		t.Fatalf("fallback addr = %q, want default", got)
	}
}
