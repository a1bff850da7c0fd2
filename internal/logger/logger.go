// Package logger configures the global zerolog logger and carries request
// ids through contexts.
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type contextKey string

const requestIDKey contextKey = "request_id"

const (
	milliTimeFormat = "2006-01-02T15:04:05.000Z07:00"
	callerWidth     = 30

	// MaxLoggedBody caps how much of a request or response body is logged.
	MaxLoggedBody = 1000
	maxRequestID  = 64
)

// Options control the global logger. Level defaults to info; File, when
// set, receives a copy of every line; Dev turns on colour output.
type Options struct {
	Level string
	File  string
	Dev   bool
}

// Init installs the global logger. An unopenable log file is reported and
// skipped.
func Init(opts Options) {
	zerolog.TimeFieldFormat = milliTimeFormat
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
	zerolog.CallerMarshalFunc = padCaller

	level := ParseLevel(opts.Level)
	zerolog.SetGlobalLevel(level)

	var output io.Writer = zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: milliTimeFormat,
		NoColor:    !opts.Dev,
	}
	var fileErr error
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fileErr = err
		} else {
			output = io.MultiWriter(output, f)
		}
	}

	log.Logger = log.Output(output).With().Caller().Logger()
	if fileErr != nil {
		log.Warn().Err(fileErr).Str("file", opts.File).Msg("Log file unavailable, logging to stdout only")
	}
	log.Info().Str("level", level.String()).Bool("dev", opts.Dev).Msg("Logger initialized")
}

// padCaller renders file:line in a fixed-width column.
func padCaller(_ uintptr, file string, line int) string {
	path := fmt.Sprintf("%s:%d", filepath.Base(file), line)
	if len(path) >= callerWidth {
		return path[len(path)-callerWidth:]
	}
	return path + strings.Repeat(" ", callerWidth-len(path))
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(s))
	if s == "" || err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// Get returns the global logger.
func Get() zerolog.Logger {
	return log.Logger
}

// NewRequestID returns a short random id for correlating log lines.
func NewRequestID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// RequestIDFrom reuses a caller supplied id when it is printable and short,
// otherwise it mints a new one.
func RequestIDFrom(header string) string {
	if header == "" || len(header) > maxRequestID {
		return NewRequestID()
	}
	for _, c := range header {
		if c <= ' ' || c > '~' {
			return NewRequestID()
		}
	}
	return header
}

// WithRequestID stores the request id in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the request id, or "" outside a request.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// ForRequest returns the global logger tagged with the request id, if any.
func ForRequest(ctx context.Context) zerolog.Logger {
	id := RequestIDFromContext(ctx)
	if id == "" {
		return log.Logger
	}
	return log.Logger.With().Str("requestId", id).Logger()
}

// ForGame returns a request logger also tagged with a game id.
func ForGame(ctx context.Context, gameID string) zerolog.Logger {
	l := ForRequest(ctx)
	return l.With().Str("gameId", gameID).Logger()
}

// LogBody writes body at debug level under field, truncated to MaxLoggedBody.
func LogBody(l zerolog.Logger, field string, body []byte) {
	if len(body) == 0 {
		return
	}
	ev := l.Debug()
	if len(body) > MaxLoggedBody {
		body = body[:MaxLoggedBody]
		ev = ev.Bool("truncated", true)
	}
	ev.Str(field, string(body)).Msg("Body")
}
