package logmux

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Paintersrp/outrider/internal/engine"
	"github.com/Paintersrp/outrider/internal/launcher"
)

func logEvent(msg string) engine.Event {
	return engine.Event{
		Timestamp: time.Now(),
		Sidecar:   "worker",
		Type:      engine.EventTypeLog,
		Message:   msg,
		Level:     "info",
		Source:    launcher.LogSourceStdout,
	}
}

func listLogs(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

func TestSinkWritesJSONLines(t *testing.T) {
	dir := t.TempDir()
	sink := newFileSink(sinkConfig{directory: dir, name: "worker"})

	sink.Write(logEvent("hello"))
	sink.Write(logEvent("world"))
	sink.Close()

	f, err := os.Open(filepath.Join(dir, "worker.log"))
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()

	var messages []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var record map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			t.Fatalf("decode line %q: %v", scanner.Text(), err)
		}
		messages = append(messages, record["msg"].(string))
		if record["sidecar"] != "worker" {
			t.Fatalf("sidecar field = %v", record["sidecar"])
		}
	}
	if len(messages) != 2 || messages[0] != "hello" || messages[1] != "world" {
		t.Fatalf("messages = %v", messages)
	}
}

func TestSinkRotatesBySize(t *testing.T) {
	dir := t.TempDir()
	sink := newFileSink(sinkConfig{directory: dir, name: "worker", maxFileSize: 200})

	for i := 0; i < 10; i++ {
		sink.Write(logEvent(strings.Repeat("x", 100)))
	}
	sink.Close()

	var rotated int
	for _, name := range listLogs(t, dir) {
		if strings.HasPrefix(name, "worker-") && strings.HasSuffix(name, ".log") {
			rotated++
		}
	}
	if rotated == 0 {
		t.Fatal("expected at least one rotated file")
	}
}

func TestSinkPrunesByCount(t *testing.T) {
	dir := t.TempDir()
	// Rotate on every write so each event lands in its own rotated file.
	sink := newFileSink(sinkConfig{directory: dir, name: "worker", maxFileSize: 1, maxFileCount: 2})

	for i := 0; i < 6; i++ {
		sink.Write(logEvent("entry"))
	}
	sink.Close()

	var rotated int
	for _, name := range listLogs(t, dir) {
		if strings.HasPrefix(name, "worker-") {
			rotated++
		}
	}
	if rotated > 2 {
		t.Fatalf("retained %d rotated files, want at most 2", rotated)
	}
}

func TestSinkPrunesByTotalSize(t *testing.T) {
	dir := t.TempDir()
	sink := newFileSink(sinkConfig{directory: dir, name: "worker", maxFileSize: 1, maxTotalSize: 400})

	for i := 0; i < 10; i++ {
		sink.Write(logEvent(strings.Repeat("y", 50)))
	}
	sink.Close()

	var total int64
	for _, name := range listLogs(t, dir) {
		if !strings.HasPrefix(name, "worker-") {
			continue
		}
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("stat: %v", err)
		}
		total += info.Size()
	}
	if total > 400 {
		t.Fatalf("rotated files total %d bytes, want at most 400", total)
	}
}

func TestSinkFailureDoesNotPanic(t *testing.T) {
	// Using a regular file as the target directory forces MkdirAll to fail.
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatalf("write blocker: %v", err)
	}
	sink := newFileSink(sinkConfig{directory: filepath.Join(blocker, "logs")})
	sink.Write(logEvent("first"))
	sink.Write(logEvent("second"))
	sink.Close()
}
