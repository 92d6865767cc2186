// Package logging builds the process-wide slog handler chain: a text
// handler on the given writer, plus the systemd journal when the
// process runs as a unit.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
	slogjournal "github.com/systemd/slog-journal"
)

// ParseLevel maps a config string to a slog level
func ParseLevel(input string) (slog.Level, error) {
	level := strings.ToLower(strings.TrimSpace(input))
	switch level {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", input)
	}
}

// NewLogger constructs a logger writing text records to w. When the
// process is attached to the systemd journal (JOURNAL_STREAM is set),
// records are additionally fanned out to the journal so `journalctl -u`
// shows structured fields.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	var handlers []slog.Handler

	handlers = append(handlers, slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	}))

	if os.Getenv("JOURNAL_STREAM") != "" {
		journalHandler, err := slogjournal.NewHandler(&slogjournal.Options{})
		if err == nil {
			handlers = append(handlers, journalHandler)
		}
		// A journal connection failure is not fatal; the text handler
		// still receives everything.
	}

	if len(handlers) == 1 {
		return slog.New(handlers[0])
	}
	return slog.New(slogmulti.Fanout(handlers...))
}
