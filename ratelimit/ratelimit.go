// Package ratelimit implements admission control keyed by
// (identifier, dimension) with selectable algorithms: fixed window, sliding
// window, token bucket and leaky bucket.
//
// Check is a single atomic test-and-consume: two concurrent checks against
// the same key can never both pass on the last unit of quota. Contention is
// scoped per key; there is no global lock across identifiers.
package ratelimit

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Dimension is the quota axis being limited.
type Dimension string

const (
	DimensionRequests Dimension = "requests"
	DimensionTokens   Dimension = "tokens"
	DimensionCost     Dimension = "cost"
)

// Algorithm selects the limiting strategy for a key.
type Algorithm string

const (
	// FixedWindow resets the count at fixed boundaries (e.g. top of the
	// minute), detected lazily on the first check after the boundary.
	FixedWindow Algorithm = "fixed_window"
	// SlidingWindow keeps a timestamped event log and discards entries
	// older than the window, avoiding the fixed-window boundary burst.
	SlidingWindow Algorithm = "sliding_window"
	// TokenBucket refills at a steady rate up to a capacity; a request
	// either consumes its whole weight or nothing.
	TokenBucket Algorithm = "token_bucket"
	// LeakyBucket drains at a fixed rate and rejects once full, smoothing
	// bursts rather than hard-capping a window.
	LeakyBucket Algorithm = "leaky_bucket"
)

// Limit configures one (identifier, dimension) key.
type Limit struct {
	Algorithm Algorithm

	// Limit is the window capacity (fixed/sliding) or bucket capacity
	// (token/leaky).
	Limit float64

	// Window applies to FixedWindow and SlidingWindow.
	Window time.Duration

	// RefillRate is tokens per second (TokenBucket).
	RefillRate float64

	// DrainRate is units drained per second (LeakyBucket).
	DrainRate float64
}

// Decision is the outcome of one Check. ResetAt is the earliest time at
// which capacity is expected to be available and is always set on denial.
type Decision struct {
	Allowed   bool
	Remaining float64
	ResetAt   time.Time
}

// Violation is the auditable record of a denied check. Dispatch never
// blocks the allow/deny decision.
type Violation struct {
	ID         string
	Identifier string
	Dimension  Dimension
	Weight     float64
	At         time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the limiter's time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithViolationHook registers a hook receiving every denial. The hook runs
// on its own goroutine so a slow consumer cannot stall admission.
func WithViolationHook(hook func(Violation)) Option {
	return func(l *Limiter) { l.onViolation = hook }
}

// WithOverride sets a per-key limit that wins over the dimension default.
func WithOverride(identifier string, dim Dimension, limit Limit) Option {
	return func(l *Limiter) { l.overrides[overrideKey(identifier, dim)] = limit }
}

// Limiter is an arena of rate-limit state keyed by (identifier, dimension).
// Keys without a configured limit are unlimited.
type Limiter struct {
	defaults  map[Dimension]Limit
	overrides map[string]Limit

	mu   sync.RWMutex
	keys map[string]*window

	now         func() time.Time
	onViolation func(Violation)
}

// New creates a Limiter with per-dimension default limits. A nil or empty
// defaults map (with no overrides) allows everything.
func New(defaults map[Dimension]Limit, opts ...Option) *Limiter {
	l := &Limiter{
		defaults:  make(map[Dimension]Limit, len(defaults)),
		overrides: make(map[string]Limit),
		keys:      make(map[string]*window),
		now:       time.Now,
	}
	for d, lim := range defaults {
		l.defaults[d] = lim
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func overrideKey(identifier string, dim Dimension) string {
	return identifier + "/" + string(dim)
}

func (l *Limiter) limitFor(identifier string, dim Dimension) (Limit, bool) {
	if lim, ok := l.overrides[overrideKey(identifier, dim)]; ok {
		return lim, true
	}
	lim, ok := l.defaults[dim]
	return lim, ok
}

func (l *Limiter) windowFor(key string, lim Limit) *window {
	l.mu.RLock()
	w, ok := l.keys[key]
	l.mu.RUnlock()
	if ok {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok = l.keys[key]; ok {
		return w
	}
	w = &window{limit: lim}
	l.keys[key] = w
	return w
}

// Check atomically tests and, if allowed, consumes weight units of quota
// for the key. Denials consume nothing.
func (l *Limiter) Check(identifier string, dim Dimension, weight float64) Decision {
	lim, ok := l.limitFor(identifier, dim)
	if !ok || lim.Limit <= 0 {
		return Decision{Allowed: true, Remaining: math.Inf(1)}
	}

	w := l.windowFor(overrideKey(identifier, dim), lim)
	now := l.now()

	w.mu.Lock()
	d := w.check(now, weight)
	w.mu.Unlock()

	if !d.Allowed && l.onViolation != nil {
		v := Violation{
			ID:         uuid.NewString(),
			Identifier: identifier,
			Dimension:  dim,
			Weight:     weight,
			At:         now,
		}
		go l.onViolation(v)
	}
	return d
}

// window holds the mutable per-key state. Access is serialized by its own
// mutex so concurrent checks against the same key cannot both observe stale
// state, while distinct keys never contend.
type window struct {
	mu    sync.Mutex
	limit Limit

	// fixed window
	windowStart time.Time
	count       float64

	// sliding window log
	log []logEntry

	// token bucket
	tokens      float64
	lastRefill  time.Time
	initialized bool

	// leaky bucket
	level     float64
	lastDrain time.Time
}

type logEntry struct {
	at     time.Time
	weight float64
}

func (w *window) check(now time.Time, weight float64) Decision {
	switch w.limit.Algorithm {
	case SlidingWindow:
		return w.checkSliding(now, weight)
	case TokenBucket:
		return w.checkTokenBucket(now, weight)
	case LeakyBucket:
		return w.checkLeakyBucket(now, weight)
	default:
		return w.checkFixed(now, weight)
	}
}

func (w *window) checkFixed(now time.Time, weight float64) Decision {
	boundary := now.Truncate(w.limit.Window)
	if !w.windowStart.Equal(boundary) {
		w.windowStart = boundary
		w.count = 0
	}
	resetAt := boundary.Add(w.limit.Window)

	if w.count+weight > w.limit.Limit {
		return Decision{Allowed: false, Remaining: w.limit.Limit - w.count, ResetAt: resetAt}
	}
	w.count += weight
	return Decision{Allowed: true, Remaining: w.limit.Limit - w.count, ResetAt: resetAt}
}

func (w *window) checkSliding(now time.Time, weight float64) Decision {
	cutoff := now.Add(-w.limit.Window)
	keep := 0
	for _, e := range w.log {
		if e.at.After(cutoff) {
			w.log[keep] = e
			keep++
		}
	}
	w.log = w.log[:keep]

	var used float64
	for _, e := range w.log {
		used += e.weight
	}

	if used+weight > w.limit.Limit {
		resetAt := now.Add(w.limit.Window)
		if len(w.log) > 0 {
			// Earliest time any capacity frees: the oldest entry ages out.
			resetAt = w.log[0].at.Add(w.limit.Window)
		}
		return Decision{Allowed: false, Remaining: w.limit.Limit - used, ResetAt: resetAt}
	}

	w.log = append(w.log, logEntry{at: now, weight: weight})
	return Decision{Allowed: true, Remaining: w.limit.Limit - used - weight, ResetAt: now.Add(w.limit.Window)}
}

func (w *window) checkTokenBucket(now time.Time, weight float64) Decision {
	if !w.initialized {
		w.tokens = w.limit.Limit
		w.lastRefill = now
		w.initialized = true
	}
	if elapsed := now.Sub(w.lastRefill).Seconds(); elapsed > 0 && w.limit.RefillRate > 0 {
		w.tokens = math.Min(w.limit.Limit, w.tokens+elapsed*w.limit.RefillRate)
	}
	w.lastRefill = now

	if w.tokens < weight {
		// No partial consumption: the bucket is left untouched.
		resetAt := now
		if w.limit.RefillRate > 0 {
			wait := (weight - w.tokens) / w.limit.RefillRate
			resetAt = now.Add(time.Duration(wait * float64(time.Second)))
		}
		return Decision{Allowed: false, Remaining: w.tokens, ResetAt: resetAt}
	}
	w.tokens -= weight
	return Decision{Allowed: true, Remaining: w.tokens}
}

func (w *window) checkLeakyBucket(now time.Time, weight float64) Decision {
	if !w.lastDrain.IsZero() && w.limit.DrainRate > 0 {
		elapsed := now.Sub(w.lastDrain).Seconds()
		w.level = math.Max(0, w.level-elapsed*w.limit.DrainRate)
	}
	w.lastDrain = now

	if w.level+weight > w.limit.Limit {
		resetAt := now
		if w.limit.DrainRate > 0 {
			wait := (w.level + weight - w.limit.Limit) / w.limit.DrainRate
			resetAt = now.Add(time.Duration(wait * float64(time.Second)))
		}
		return Decision{Allowed: false, Remaining: w.limit.Limit - w.level, ResetAt: resetAt}
	}
	w.level += weight
	return Decision{Allowed: true, Remaining: w.limit.Limit - w.level}
}
