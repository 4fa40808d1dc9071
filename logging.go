package rcgc

import (
	"log/slog"
	"os"

	"github.com/joeycumines/logiface"
	islog "github.com/joeycumines/logiface-slog"
)

// Logger is the structured-logging surface the engine logs through. It is
// the logiface generic Logger instanced for the logiface-slog Event type,
// following the teacher's own default-backend story (logiface + logiface-slog)
// rather than a bespoke logging abstraction.
type Logger = logiface.Logger[*islog.Event]

// defaultLogger builds the engine's default logger: a logiface.Logger backed
// by logiface-slog wrapping an slog.JSONHandler over os.Stderr at Info level,
// so Debug-level records are dropped by this default logger.
func defaultLogger() *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	return islog.L.New(islog.L.WithSlogHandler(handler))
}

// logDebug emits a Debug-level record; nothing in this package calls it, so
// no per-epoch bookkeeping is logged. Gated by engineOptions.verbose,
// mirroring eventloop/logging.go's level-gated emission, but instanced per
// Engine rather than a package-level global, since one process may host
// multiple engines concurrently (e.g. under test).
func (e *Engine) logDebug(msg string, fields func(b *logiface.Builder[*islog.Event]) *logiface.Builder[*islog.Event]) {
	if !e.opts.verbose {
		return
	}
	b := e.opts.logger.Debug()
	if fields != nil {
		b = fields(b)
	}
	b.Log(msg)
}

// logInfo emits lifecycle events: engine start, and the statistics dump at
// shutdown.
func (e *Engine) logInfo(msg string, fields func(b *logiface.Builder[*islog.Event]) *logiface.Builder[*islog.Event]) {
	b := e.opts.logger.Info()
	if fields != nil {
		b = fields(b)
	}
	b.Log(msg)
}

// logWarning emits a transient, non-fatal condition when verbose. Its one
// caller is Collect, when it gives up before reaching quiescence; queue
// overload, allocator growth and finalizer backlog are not logged.
// Rate-limited per category via go-catrate so a repeated condition cannot
// produce a log storm.
func (e *Engine) logWarning(category any, msg string, fields func(b *logiface.Builder[*islog.Event]) *logiface.Builder[*islog.Event]) {
	if !e.opts.verbose {
		return
	}
	if _, ok := e.warnLimiter.Allow(category); !ok {
		return
	}
	b := e.opts.logger.Warning()
	if fields != nil {
		b = fields(b)
	}
	b.Log(msg)
}
