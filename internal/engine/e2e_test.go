package engine_test

import (
	"context"
	stdruntime "runtime"
	"testing"
	"time"

	"github.com/Paintersrp/outrider/internal/engine"
	"github.com/Paintersrp/outrider/internal/launcher"
	"github.com/Paintersrp/outrider/internal/launcher/process"
)

func startRealSupervisor(t *testing.T, script string) *engine.Supervisor {
	t.Helper()
	if stdruntime.GOOS == "windows" {
		t.Skip("end-to-end tests use /bin/sh")
	}

	events := make(chan engine.Event, 256)
	go func() {
		for range events {
		}
	}()

	spec := launcher.Spec{Name: "worker", Command: []string{"/bin/sh", "-c", script}}
	sup := engine.NewSupervisor("worker", spec, "PORT:", process.New(), events)
	if err := sup.Spawn(context.Background()); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = sup.Kill(ctx, engine.ReasonExitHook)
	})
	return sup
}

func TestEndToEndDiscoveryThenKill(t *testing.T) {
	sup := startRealSupervisor(t, "echo PORT:54321; sleep 30")

	deadline := time.Now().Add(5 * time.Second)
	for {
		if port, ok := sup.Port(); ok {
			if port != 54321 {
				t.Fatalf("discovered port = %d, want 54321", port)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for port discovery")
		}
		time.Sleep(10 * time.Millisecond)
	}

	killCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	killed, err := sup.Kill(killCtx, engine.ReasonForceKill)
	if err != nil {
		t.Fatalf("kill: %v", err)
	}
	if !killed {
		t.Fatal("kill must report it terminated the worker")
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer drainCancel()
	if err := sup.WaitDrained(drainCtx); err != nil {
		t.Fatalf("streams not drained after kill: %v", err)
	}

	// The discovered value survives the kill.
	if port, ok := sup.Port(); !ok || port != 54321 {
		t.Fatalf("port after kill = (%d, %v), want (54321, true)", port, ok)
	}
}

func TestEndToEndWorkerExitsWithoutAnnouncement(t *testing.T) {
	sup := startRealSupervisor(t, "echo no announcement here; exit 0")

	drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sup.WaitDrained(drainCtx); err != nil {
		t.Fatalf("streams not drained after worker exit: %v", err)
	}

	if _, ok := sup.Port(); ok {
		t.Fatal("port must stay not-ready when the worker never announces")
	}

	killCtx, killCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer killCancel()
	if _, err := sup.Kill(killCtx, engine.ReasonForceKill); err != nil {
		t.Fatalf("kill on exited worker must be tolerated: %v", err)
	}
}
