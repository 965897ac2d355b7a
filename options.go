package arbiter

import (
	"log/slog"
	"time"

	"github.com/bluefunda/model-arbiter/breaker"
	"github.com/bluefunda/model-arbiter/ratelimit"
)

// Option configures the Engine.
type Option func(*Engine)

// WithAdapter registers a provider adapter at construction time. Adapters
// registered here are wrapped by the middleware chain like any other.
func WithAdapter(a Adapter) Option {
	return func(e *Engine) {
		e.RegisterAdapter(a)
	}
}

// WithMiddleware adds middleware to the adapter chain. The first middleware
// listed becomes the outermost wrapper. Adapters registered before this
// option are not rewrapped, so list middleware before adapters:
//
//	engine, err := arbiter.New(catalog,
//	    arbiter.WithMiddleware(middleware.NewTimeout(60*time.Second)),
//	    arbiter.WithAdapter(openaiAdapter),
//	)
func WithMiddleware(m ...Middleware) Option {
	return func(e *Engine) {
		e.middleware = append(e.middleware, m...)
	}
}

// WithBreakerRegistry replaces the default circuit breaker registry. The
// caller owns the registry's configuration, including fault classification
// and state-change hooks; the engine's metrics and logging are not attached.
func WithBreakerRegistry(r *breaker.Registry) Option {
	return func(e *Engine) { e.breakers = r }
}

// WithBreakerSettings tunes the registry the engine builds itself. Unlike
// WithBreakerRegistry, the engine's metrics and transition logging stay
// attached; a hook set here is called after them.
func WithBreakerSettings(cfg breaker.Config) Option {
	return func(e *Engine) { e.breakerCfg = cfg }
}

// WithRateLimiter replaces the default (unlimited) rate limiter.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(e *Engine) { e.limiter = l }
}

// WithScorer replaces the default scorer.
func WithScorer(s *Scorer) Option {
	return func(e *Engine) { e.scorer = s }
}

// WithCostEstimator replaces token-based cost estimation.
func WithCostEstimator(est CostEstimator) Option {
	return func(e *Engine) { e.estimator = est }
}

// WithBudgetChecker enables tenant budget enforcement during candidate
// filtering. Without one, only the per-request ceiling applies.
func WithBudgetChecker(b BudgetChecker) Option {
	return func(e *Engine) { e.budget = b }
}

// WithComplianceChecker replaces the default standards-carried compliance
// check.
func WithComplianceChecker(c ComplianceChecker) Option {
	return func(e *Engine) { e.compliance = c }
}

// WithRecorder sets the decision/usage recorder. Recorder calls run
// asynchronously and never affect the decision path.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics attaches Prometheus instrumentation. Without it the engine
// records nothing.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithMaxFallbackAttempts sets the default execution attempt budget per
// request. A request context override still wins.
func WithMaxFallbackAttempts(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxFallbackAttempts = n
		}
	}
}

// WithFallbackBackoff tunes the exponential backoff between fallback
// attempts. A zero base disables the delay entirely.
func WithFallbackBackoff(base, max time.Duration) Option {
	return func(e *Engine) {
		e.fallbackBaseDelay = base
		e.fallbackMaxDelay = max
	}
}

// WithBatchConcurrency bounds concurrent executions in ExecuteBatch.
func WithBatchConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchConcurrency = n
		}
	}
}

// WithClock overrides the engine's time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}
