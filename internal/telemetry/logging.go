// Package telemetry builds the process logger.
package telemetry

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/basket/taskchat/internal/shared"
)

// NewLogger builds the JSON logger. Records go to logs/system.jsonl under
// homeDir and, unless quiet, to stdout as well. lvl is consulted on every
// record, so a config reload can change it in place.
func NewLogger(homeDir string, lvl *slog.LevelVar, quiet bool) (*slog.Logger, io.Closer, error) {
	f, err := openLogFile(homeDir, "system.jsonl")
	if err != nil {
		return nil, nil, err
	}
	if lvl == nil {
		lvl = new(slog.LevelVar)
	}

	var w io.Writer = f
	if !quiet {
		w = io.MultiWriter(os.Stdout, f)
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl, ReplaceAttr: scrub})
	return slog.New(h).With("component", "server", "trace_id", "-"), f, nil
}

func openLogFile(homeDir, name string) (*os.File, error) {
	dir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

// scrub renames the time key and keeps credentials out of the log.
func scrub(_ []string, a slog.Attr) slog.Attr {
	switch {
	case a.Key == slog.TimeKey:
		a.Key = "timestamp"
		return a
	case shared.SensitiveKey(a.Key):
		return slog.String(a.Key, shared.Redacted)
	case a.Value.Kind() != slog.KindString:
		return a
	}
	v := a.Value.String()
	lower := strings.ToLower(v)
	if strings.Contains(lower, "bearer ") || strings.Contains(lower, "authorization:") {
		return slog.String(a.Key, shared.Redacted)
	}
	if r := shared.Redact(v); r != v {
		return slog.String(a.Key, r)
	}
	return a
}

// NewLevel returns a LevelVar set from a config string.
func NewLevel(level string) *slog.LevelVar {
	lv := new(slog.LevelVar)
	lv.Set(ParseLevel(level))
	return lv
}

// ParseLevel maps a config string to a slog level. Unknown values mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
