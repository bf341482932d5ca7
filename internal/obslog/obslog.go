// Package obslog is the zerolog-backed logging.Logger used by every cmd
// entrypoint and long-lived component of the runtime.
package obslog

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lokutor-ai/lokutor-orchestrator/pkg/logging"
)

// Logger adapts zerolog.Logger to logging.Logger, treating args as
// alternating key/value pairs ("sessionID", id, "error", err, ...).
type Logger struct {
	z zerolog.Logger
}

var _ logging.Logger = (*Logger)(nil)

// New builds a Logger writing to logPath in append mode, falling back to
// stdout if the file can't be opened. An empty logPath always writes to
// stdout. level parses as a zerolog level name ("debug", "info", ...),
// defaulting to info on empty or unrecognized input.
func New(logPath, level string) *Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var w io.Writer = os.Stdout
	if logPath != "" {
		if f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			w = f
		} else {
			fmt.Fprintf(os.Stderr, "obslog: open %q: %v, falling back to stdout\n", logPath, err)
		}
	}

	lvl := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level))); err == nil {
		lvl = l
	}

	z := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	stdlog.SetFlags(0)
	stdlog.SetOutput(z)
	return &Logger{z: z}
}

func (l *Logger) Debug(msg string, args ...interface{}) { l.log(l.z.Debug(), msg, args) }
func (l *Logger) Info(msg string, args ...interface{})  { l.log(l.z.Info(), msg, args) }
func (l *Logger) Warn(msg string, args ...interface{})  { l.log(l.z.Warn(), msg, args) }
func (l *Logger) Error(msg string, args ...interface{}) { l.log(l.z.Error(), msg, args) }

// With returns a child Logger carrying an extra persistent field, for
// per-session/per-agent log enrichment (e.g. "sessionID").
func (l *Logger) With(key string, value interface{}) *Logger {
	return &Logger{z: l.z.With().Interface(key, value).Logger()}
}

func (l *Logger) log(ev *zerolog.Event, msg string, args []interface{}) {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", args[i])
		}
		ev = ev.Interface(key, args[i+1])
	}
	ev.Msg(msg)
}
