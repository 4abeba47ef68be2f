package graph

import (
	"time"

	"github.com/dshills/coachgraph/graph/emit"
	"go.uber.org/zap"
)

// DefaultLockTTL bounds how long a distributed thread lock outlives a
// crashed holder.
const DefaultLockTTL = 2 * time.Minute

// Options configures Engine execution behavior.
//
// Zero values are valid. New fills in a LocalLocker, a no-op logger and a
// null emitter when those are unset.
type Options struct {
	// MaxSteps limits node executions per Step call. It guards against
	// graphs that route in a circle without ever suspending.
	// If 0, no limit is enforced.
	MaxSteps int

	// LockTTL is passed to the Locker on every Step.
	LockTTL time.Duration

	// Locker serializes Step calls per thread.
	Locker Locker

	// Logger receives engine diagnostics.
	Logger *zap.Logger

	// Emitter receives per-node events.
	Emitter emit.Emitter

	// Metrics, if set, records stage latency and suspensions.
	Metrics *PrometheusMetrics
}

// Option is a functional option for configuring Engine behavior.
//
// Example:
//
//	engine, err := graph.New(
//	    coach.Reduce, st,
//	    graph.WithMaxSteps(32),
//	    graph.WithLogger(logger),
//	)
type Option func(*engineConfig) error

type engineConfig struct {
	opts Options
}

// WithMaxSteps bounds node executions per Step call.
func WithMaxSteps(n int) Option {
	return func(cfg *engineConfig) error {
		if n < 0 {
			return &EngineError{Message: "max steps cannot be negative", Code: "INVALID_OPTION"}
		}
		cfg.opts.MaxSteps = n
		return nil
	}
}

// WithLockTTL sets the TTL handed to the Locker.
func WithLockTTL(d time.Duration) Option {
	return func(cfg *engineConfig) error {
		if d <= 0 {
			return &EngineError{Message: "lock TTL must be positive", Code: "INVALID_OPTION"}
		}
		cfg.opts.LockTTL = d
		return nil
	}
}

// WithLocker replaces the in-process LocalLocker, typically with a
// store.RedisLocker when several replicas share a store.
func WithLocker(l Locker) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Locker = l
		return nil
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Logger = logger
		return nil
	}
}

// WithEmitter sets the event emitter.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Emitter = e
		return nil
	}
}

// WithMetrics enables Prometheus metrics collection.
func WithMetrics(metrics *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.opts.Metrics = metrics
		return nil
	}
}
