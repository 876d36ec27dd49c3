// Package logger provides the structured logger handed to every component.
// There is no package-level logger; callers construct one and pass it down.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the logging surface components depend on.
type Logger interface {
	Debug() *zerolog.Event
	Info() *zerolog.Event
	Warn() *zerolog.Event
	Error() *zerolog.Event
	WithComponent(component string) Logger
}

// Config controls level and output of a Logger built by New.
type Config struct {
	Level  string
	Output string // "stdout" or "stderr"
}

type zlogger struct {
	zl zerolog.Logger
}

// New builds a JSON logger writing to the configured output and, when extra writers are given
// (e.g. the OTel bridge), to those as well.
func New(cfg Config, extra ...io.Writer) (Logger, error) {
	var out io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}
	if len(extra) > 0 {
		out = zerolog.MultiLevelWriter(append([]io.Writer{out}, extra...)...)
	}

	level := zerolog.InfoLevel
	if cfg.Level != "" {
		l, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return nil, fmt.Errorf("logger: invalid level %q: %w", cfg.Level, err)
		}
		level = l
	}
	zerolog.TimeFieldFormat = time.RFC3339

	return &zlogger{zl: zerolog.New(out).Level(level).With().Timestamp().Logger()}, nil
}

// NewWithWriter returns a logger at debug level writing to w. Intended for tests that inspect output.
func NewWithWriter(w io.Writer) Logger {
	return &zlogger{zl: zerolog.New(w).Level(zerolog.DebugLevel)}
}

// NewTestLogger returns a logger that discards everything.
func NewTestLogger() Logger {
	return &zlogger{zl: zerolog.New(io.Discard).Level(zerolog.Disabled)}
}

func (l *zlogger) Debug() *zerolog.Event { return l.zl.Debug() }
func (l *zlogger) Info() *zerolog.Event  { return l.zl.Info() }
func (l *zlogger) Warn() *zerolog.Event  { return l.zl.Warn() }
func (l *zlogger) Error() *zerolog.Event { return l.zl.Error() }

func (l *zlogger) WithComponent(component string) Logger {
	return &zlogger{zl: l.zl.With().Str("component", component).Logger()}
}
