// Package logger provides the logging abstraction used across PolyORM.
//
// The engine logs very little: skipped has-conditions, driver diagnostics
// and the occasional slow-path note. Callers who want output install a
// zerolog-backed logger; the default is a no-op.
package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Logger is the minimal logging surface the engine needs.
type Logger interface {
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(err error, msg string, fields map[string]any)
}

type zeroLogger struct {
	log zerolog.Logger
}

// New returns a zerolog-backed Logger writing to w (os.Stderr if nil).
func New(w io.Writer, level zerolog.Level) Logger {
	if w == nil {
		w = os.Stderr
	}
	return &zeroLogger{
		log: zerolog.New(w).Level(level).With().Timestamp().Logger(),
	}
}

func (z *zeroLogger) Debug(msg string, fields map[string]any) {
	z.log.Debug().Fields(fields).Msg(msg)
}

func (z *zeroLogger) Info(msg string, fields map[string]any) {
	z.log.Info().Fields(fields).Msg(msg)
}

func (z *zeroLogger) Warn(msg string, fields map[string]any) {
	z.log.Warn().Fields(fields).Msg(msg)
}

func (z *zeroLogger) Error(err error, msg string, fields map[string]any) {
	z.log.Error().Err(err).Fields(fields).Msg(msg)
}

type nopLogger struct{}

// Nop returns a Logger that discards everything.
func Nop() Logger { return nopLogger{} }

func (nopLogger) Debug(string, map[string]any)        {}
func (nopLogger) Info(string, map[string]any)         {}
func (nopLogger) Warn(string, map[string]any)         {}
func (nopLogger) Error(error, string, map[string]any) {}
