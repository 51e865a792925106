package process

import (
	"context"
	stdruntime "runtime"
	"strings"
	"testing"
	"time"

	"github.com/Paintersrp/outrider/internal/launcher"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if stdruntime.GOOS == "windows" {
		t.Skip("process launcher tests use /bin/sh")
	}
}

func shellSpec(name, script string) launcher.Spec {
	return launcher.Spec{
		Name:    name,
		Command: []string{"/bin/sh", "-c", script},
	}
}

func TestStartTagsStdoutAndStderr(t *testing.T) {
	skipOnWindows(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	inst, err := New().Start(ctx, shellSpec("echoer", "echo out-line; echo err-line 1>&2"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	bySource := map[string][]string{}
	for entry := range inst.Lines() {
		bySource[entry.Source] = append(bySource[entry.Source], entry.Message)
		if entry.Source == launcher.LogSourceStderr && entry.Level != "warn" {
			t.Fatalf("stderr line level = %q, want warn", entry.Level)
		}
	}
	if err := inst.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}

	if got := bySource[launcher.LogSourceStdout]; len(got) != 1 || got[0] != "out-line" {
		t.Fatalf("stdout lines = %v", got)
	}
	if got := bySource[launcher.LogSourceStderr]; len(got) != 1 || got[0] != "err-line" {
		t.Fatalf("stderr lines = %v", got)
	}
}

func TestKillTerminatesLongRunningWorker(t *testing.T) {
	skipOnWindows(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	inst, err := New().Start(ctx, shellSpec("sleeper", "echo PORT:54321; sleep 30"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	var announcement string
	timeout := time.After(5 * time.Second)
	for announcement == "" {
		select {
		case entry, ok := <-inst.Lines():
			if !ok {
				t.Fatal("stream ended before announcement")
			}
			if entry.Source == launcher.LogSourceStdout && strings.HasPrefix(entry.Message, "PORT:") {
				announcement = entry.Message
			}
		case <-timeout:
			t.Fatal("timed out waiting for announcement")
		}
	}

	// Keep draining so the worker cannot block on a full channel.
	go func() {
		for range inst.Lines() {
		}
	}()

	start := time.Now()
	if err := inst.Kill(ctx); err != nil {
		t.Fatalf("kill: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("kill took %v, expected prompt termination", elapsed)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer waitCancel()
	// A signalled worker reports a non-nil exit; only hanging is a failure.
	_ = inst.Wait(waitCtx)
	if waitCtx.Err() != nil {
		t.Fatal("worker still running after kill")
	}
}

func TestKillAfterExitIsTolerated(t *testing.T) {
	skipOnWindows(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	inst, err := New().Start(ctx, shellSpec("quick", "exit 0"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	for range inst.Lines() {
	}
	if err := inst.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}

	if err := inst.Kill(ctx); err != nil {
		t.Fatalf("kill after exit: %v", err)
	}
}

func TestWaitReportsExitFailure(t *testing.T) {
	skipOnWindows(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	inst, err := New().Start(ctx, shellSpec("failing", "exit 3"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	for range inst.Lines() {
	}
	if err := inst.Wait(ctx); err == nil {
		t.Fatal("expected non-nil error for exit status 3")
	}
}

func TestStartRequiresCommand(t *testing.T) {
	ctx := context.Background()
	if _, err := New().Start(ctx, launcher.Spec{Name: "empty"}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestStartReportsMissingBinary(t *testing.T) {
	skipOnWindows(t)
	ctx := context.Background()
	spec := launcher.Spec{Name: "missing", Command: []string{"/does/not/exist"}}
	if _, err := New().Start(ctx, spec); err == nil {
		t.Fatal("expected error for missing binary")
	}
}

func TestAnnouncementSurvivesStderrFlood(t *testing.T) {
	skipOnWindows(t)
	if testing.Short() {
		t.Skip("stress test skipped in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	script := "seq 1 100000 1>&2; echo PORT:4242"
	inst, err := New().Start(ctx, shellSpec("flooder", script))
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	var sawAnnouncement bool
	var stderrLines int
	for entry := range inst.Lines() {
		switch entry.Source {
		case launcher.LogSourceStdout:
			if entry.Message == "PORT:4242" {
				sawAnnouncement = true
			}
		case launcher.LogSourceStderr:
			stderrLines++
		}
	}
	if err := inst.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}

	if !sawAnnouncement {
		t.Fatal("announcement lost amid stderr flood")
	}
	if stderrLines != 100000 {
		t.Fatalf("drained %d stderr lines, want 100000", stderrLines)
	}
}

func TestEnvAndWorkdirPropagate(t *testing.T) {
	skipOnWindows(t)

	dir := t.TempDir()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	spec := launcher.Spec{
		Name:    "env-check",
		Command: []string{"/bin/sh", "-c", "echo $OUTRIDER_TEST_VALUE; pwd"},
		Workdir: dir,
		Env:     map[string]string{"OUTRIDER_TEST_VALUE": "propagated"},
	}
	inst, err := New().Start(ctx, spec)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	var lines []string
	for entry := range inst.Lines() {
		if entry.Source == launcher.LogSourceStdout {
			lines = append(lines, entry.Message)
		}
	}
	if err := inst.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}

	if len(lines) != 2 {
		t.Fatalf("stdout lines = %v, want value and cwd", lines)
	}
	if lines[0] != "propagated" {
		t.Fatalf("env value = %q, want propagated", lines[0])
	}
	if lines[1] != dir {
		// Some systems resolve temp dirs through symlinks.
		if !strings.HasSuffix(lines[1], dir) && !strings.HasSuffix(dir, lines[1]) {
			t.Fatalf("cwd = %q, want %q", lines[1], dir)
		}
	}
}
