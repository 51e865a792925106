package logmux

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Paintersrp/outrider/internal/cliutil"
	"github.com/Paintersrp/outrider/internal/engine"
)

type sinkConfig struct {
	directory    string
	name         string
	maxFileSize  int64
	maxTotalSize int64
	maxFileAge   time.Duration
	maxFileCount int
}

// SinkOption configures the optional persistent log sink.
type SinkOption func(*sinkConfig)

// WithDirectory enables the file sink writing into dir.
func WithDirectory(dir string) SinkOption {
	return func(c *sinkConfig) { c.directory = dir }
}

// WithSidecarName sets the base name of the log files.
func WithSidecarName(name string) SinkOption {
	return func(c *sinkConfig) { c.name = name }
}

// WithMaxFileSize rotates the active log file once it exceeds size bytes.
func WithMaxFileSize(size int64) SinkOption {
	return func(c *sinkConfig) { c.maxFileSize = size }
}

// WithMaxTotalSize prunes rotated files once their combined size exceeds size bytes.
func WithMaxTotalSize(size int64) SinkOption {
	return func(c *sinkConfig) { c.maxTotalSize = size }
}

// WithMaxFileAge rotates the active log file once it is older than age.
func WithMaxFileAge(age time.Duration) SinkOption {
	return func(c *sinkConfig) { c.maxFileAge = age }
}

// WithMaxFileCount limits how many rotated files are retained.
func WithMaxFileCount(count int) SinkOption {
	return func(c *sinkConfig) { c.maxFileCount = count }
}

// fileSink persists events as JSON lines with size and age based rotation.
// Write failures are reported once to stderr and otherwise ignored; log
// persistence must never stall the drain path.
type fileSink struct {
	cfg      sinkConfig
	file     *os.File
	enc      *json.Encoder
	written  int64
	openedAt time.Time
	failed   bool
}

func newFileSink(cfg sinkConfig) *fileSink {
	if cfg.name == "" {
		cfg.name = "sidecar"
	}
	return &fileSink{cfg: cfg}
}

func (s *fileSink) Write(evt engine.Event) {
	if s.failed {
		return
	}
	if err := s.ensureFile(); err != nil {
		s.fail(err)
		return
	}

	record := cliutil.NewLogRecord(evt)
	payload, err := json.Marshal(&record)
	if err != nil {
		s.fail(err)
		return
	}
	payload = append(payload, '\n')
	n, err := s.file.Write(payload)
	if err != nil {
		s.fail(err)
		return
	}
	s.written += int64(n)

	if s.rotateDue() {
		if err := s.rotate(); err != nil {
			s.fail(err)
		}
	}
}

func (s *fileSink) Close() {
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
}

func (s *fileSink) fail(err error) {
	s.failed = true
	fmt.Fprintf(os.Stderr, "error: log sink: %v\n", err)
	s.Close()
}

func (s *fileSink) activePath() string {
	return filepath.Join(s.cfg.directory, s.cfg.name+".log")
}

func (s *fileSink) ensureFile() error {
	if s.file != nil {
		return nil
	}
	if err := os.MkdirAll(s.cfg.directory, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(s.activePath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return err
	}
	s.file = f
	s.written = info.Size()
	s.openedAt = time.Now()
	return nil
}

func (s *fileSink) rotateDue() bool {
	if s.cfg.maxFileSize > 0 && s.written >= s.cfg.maxFileSize {
		return true
	}
	if s.cfg.maxFileAge > 0 && time.Since(s.openedAt) >= s.cfg.maxFileAge {
		return true
	}
	return false
}

func (s *fileSink) rotate() error {
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	rotated := filepath.Join(s.cfg.directory,
		fmt.Sprintf("%s-%s.log", s.cfg.name, time.Now().UTC().Format("20060102T150405.000")))
	if err := os.Rename(s.activePath(), rotated); err != nil {
		return err
	}
	s.prune()
	return nil
}

// prune enforces the count and total-size retention limits over rotated files,
// oldest first. The active file is never pruned.
func (s *fileSink) prune() {
	entries, err := os.ReadDir(s.cfg.directory)
	if err != nil {
		return
	}
	type rotatedFile struct {
		path string
		size int64
	}
	var rotated []rotatedFile
	prefix := s.cfg.name + "-"
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".log") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		rotated = append(rotated, rotatedFile{
			path: filepath.Join(s.cfg.directory, name),
			size: info.Size(),
		})
	}
	// Timestamped names sort chronologically.
	sort.Slice(rotated, func(i, j int) bool { return rotated[i].path < rotated[j].path })

	remove := 0
	if s.cfg.maxFileCount > 0 && len(rotated) > s.cfg.maxFileCount {
		remove = len(rotated) - s.cfg.maxFileCount
	}
	if s.cfg.maxTotalSize > 0 {
		var total int64
		for _, f := range rotated {
			total += f.size
		}
		for i := remove; i < len(rotated) && total > s.cfg.maxTotalSize; i++ {
			total -= rotated[i].size
			remove = i + 1
		}
	}
	for i := 0; i < remove; i++ {
		_ = os.Remove(rotated[i].path)
	}
}
