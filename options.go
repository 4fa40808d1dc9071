package rcgc

import "time"

// engineOptions holds configuration resolved from EngineOption values,
// following eventloop/options.go's loopOptions/resolveLoopOptions shape.
type engineOptions struct {
	verbose              bool
	collectorThreshold   int
	logger               *Logger
	debugChecks          bool
	finalizerConcurrency int
	finalizerFlush       time.Duration
	warnRates            map[time.Duration]int
}

// EngineOption configures an Engine at construction, mirroring §6's
// "Engine options: { verbose, collector_threshold }", expanded per
// SPEC_FULL.md's Configuration section with logger/debug/finalizer knobs.
type EngineOption interface {
	applyEngine(*engineOptions) error
}

// engineOptionFunc implements EngineOption, following eventloop's
// loopOptionImpl wrapper-struct pattern.
type engineOptionFunc struct {
	fn func(*engineOptions) error
}

func (o *engineOptionFunc) applyEngine(opts *engineOptions) error {
	return o.fn(opts)
}

// WithVerbose toggles Warning-level records (see logWarning) and the
// Engine.Statistics() dump emitted on Shutdown. Default false.
func WithVerbose(enabled bool) EngineOption {
	return &engineOptionFunc{func(opts *engineOptions) error {
		opts.verbose = enabled
		return nil
	}}
}

// WithCollectorThreshold sets the live-object growth threshold that triggers
// Bacon-Rajan cycle detection (§4.6's "Trigger"). Must be >= 0; zero runs
// detection on every collector epoch.
func WithCollectorThreshold(threshold int) EngineOption {
	return &engineOptionFunc{func(opts *engineOptions) error {
		if threshold < 0 {
			return ErrInvalidThreshold
		}
		opts.collectorThreshold = threshold
		return nil
	}}
}

// WithLogger supplies a logiface.Logger[*islog.Event], replacing the default
// logiface-slog/stderr logger. Only loggers over logiface-slog's Event type
// fit the *Logger alias; other logiface backends (zerolog, logrus, stumpy)
// use their own event types and are not accepted.
func WithLogger(logger *Logger) EngineOption {
	return &engineOptionFunc{func(opts *engineOptions) error {
		if logger == nil {
			return ErrNilLogger
		}
		opts.logger = logger
		return nil
	}}
}

// WithDebugChecks toggles the count-underflow assertion from §7 and the
// shutdown live-count check. Default true; Go has no separate NDEBUG build,
// so this option models the original's debug/release split. There is no
// scan-after-free check.
func WithDebugChecks(enabled bool) EngineOption {
	return &engineOptionFunc{func(opts *engineOptions) error {
		opts.debugChecks = enabled
		return nil
	}}
}

// WithFinalizerConcurrency sets the microbatch.Batcher's MaxConcurrency for
// finalizer dispatch. Must be > 0.
func WithFinalizerConcurrency(n int) EngineOption {
	return &engineOptionFunc{func(opts *engineOptions) error {
		if n <= 0 {
			return ErrInvalidConcurrency
		}
		opts.finalizerConcurrency = n
		return nil
	}}
}

// WithFinalizerFlushInterval sets the microbatch.Batcher's FlushInterval for
// finalizer dispatch: the maximum time a finalizee waits for a batch to
// fill before it is processed anyway.
func WithFinalizerFlushInterval(d time.Duration) EngineOption {
	return &engineOptionFunc{func(opts *engineOptions) error {
		opts.finalizerFlush = d
		return nil
	}}
}

// resolveEngineOptions applies opts over the documented defaults, following
// eventloop's resolveLoopOptions.
func resolveEngineOptions(opts []EngineOption) (*engineOptions, error) {
	cfg := &engineOptions{
		collectorThreshold:   256,
		debugChecks:          true,
		finalizerConcurrency: 1,
		finalizerFlush:       50 * time.Millisecond,
		warnRates: map[time.Duration]int{
			time.Second: 1,
			time.Minute: 20,
		},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyEngine(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.logger == nil {
		cfg.logger = defaultLogger()
	}
	return cfg, nil
}
