package httppool

import (
	"errors"
	"log/slog"
)

// poolConfig holds mutable state during Pool construction.
type poolConfig struct {
	capacity    int
	factory     ConnectionFactory
	sinkFactory SinkFactory
	logger      *slog.Logger
	strict      bool
	callbacks   []func(Result)
}

// Option is a function that configures a [Pool] during construction.
//
// Option implements the functional options pattern. Options return an error
// if validation fails, which [New] passes back to the caller.
//
// Built-in options: [WithCapacity], [WithConnectionFactory],
// [WithSinkFactory], [WithLogger], [WithStrictInvariants],
// [WithCompletionCallback].
type Option func(*poolConfig) error

// WithCapacity sets the maximum number of slots the pool creates.
//
// Defaults to 5. The capacity can be changed later with [Pool.SetCapacity].
//
// Returns an error if n is less than 1.
func WithCapacity(n int) Option {
	return func(cfg *poolConfig) error {
		if n < 1 {
			return errors.New("capacity must be at least 1")
		}
		cfg.capacity = n
		return nil
	}
}

// WithConnectionFactory sets how new slots obtain their [Connection].
//
// Defaults to [NetConnectionFactory] with zero [DialOptions].
func WithConnectionFactory(f ConnectionFactory) Option {
	return func(cfg *poolConfig) error {
		if f == nil {
			return errors.New("connection factory cannot be nil")
		}
		cfg.factory = f
		return nil
	}
}

// WithSinkFactory sets how output paths are opened.
//
// Defaults to [FileSinkFactory].
func WithSinkFactory(f SinkFactory) Option {
	return func(cfg *poolConfig) error {
		if f == nil {
			return errors.New("sink factory cannot be nil")
		}
		cfg.sinkFactory = f
		return nil
	}
}

// WithLogger sets the structured logger for pool events.
//
// Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *poolConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithStrictInvariants makes invariant violations (double release, double
// resolve, foreign slot) panic instead of only being logged and returned.
// Intended for tests and debug builds.
func WithStrictInvariants() Option {
	return func(cfg *poolConfig) error {
		cfg.strict = true
		return nil
	}
}

// WithCompletionCallback registers a function called once for every request
// that reaches a terminal phase.
//
// Callbacks run synchronously on the goroutine that finished the request,
// usually the driver's, after all locks are released. A panicking callback
// is recovered and logged. Can be called multiple times.
func WithCompletionCallback(cb func(Result)) Option {
	return func(cfg *poolConfig) error {
		if cb == nil {
			return errors.New("callback cannot be nil")
		}
		cfg.callbacks = append(cfg.callbacks, cb)
		return nil
	}
}
