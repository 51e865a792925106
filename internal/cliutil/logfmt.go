package cliutil

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/Paintersrp/outrider/internal/engine"
	"github.com/Paintersrp/outrider/internal/launcher"
)

// LogRecord represents a structured log event ready for JSON encoding.
type LogRecord struct {
	Timestamp  time.Time `json:"ts"`
	Sidecar    string    `json:"sidecar"`
	Generation string    `json:"generation,omitempty"`
	Level      string    `json:"level"`
	Message    string    `json:"msg"`
	Source     string    `json:"source"`
	Reason     string    `json:"reason,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// NewLogRecord converts an engine event into a structured log record.
func NewLogRecord(event engine.Event) LogRecord {
	level := event.Level
	if level == "" {
		if inferred := inferLogLevel(event.Message); inferred != "" {
			level = inferred
		} else {
			level = "info"
		}
	}
	source := event.Source
	if source == "" {
		source = launcher.LogSourceSystem
	}
	record := LogRecord{
		Timestamp:  event.Timestamp,
		Sidecar:    event.Sidecar,
		Generation: event.Generation,
		Level:      level,
		Message:    event.Message,
		Source:     source,
		Reason:     event.Reason,
	}
	if event.Err != nil {
		record.Error = event.Err.Error()
	}
	return record
}

var levelTokenPattern = regexp.MustCompile(`(?i)\b(error|warn|info)\b`)

func inferLogLevel(message string) string {
	matches := levelTokenPattern.FindStringSubmatch(message)
	if len(matches) < 2 {
		return ""
	}
	switch strings.ToLower(matches[1]) {
	case "error":
		return "error"
	case "warn":
		return "warn"
	case "info":
		return "info"
	default:
		return ""
	}
}

// EncodeLogEvent encodes a log event to JSON, reporting errors to stderr if needed.
func EncodeLogEvent(enc *json.Encoder, stderr io.Writer, event engine.Event) {
	if enc == nil {
		return
	}
	record := NewLogRecord(event)
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now()
	}
	if err := enc.Encode(&record); err != nil {
		fmt.Fprintf(stderr, "error: encode log: %v\n", err)
	}
}
