// Package breaker provides per-provider circuit breaking for the arbiter.
//
// Each provider id gets its own state machine (Closed, Open, HalfOpen)
// backed by sony/gobreaker. Allow returns a done-callback so the caller can
// close the check-act-record sequence atomically around a provider call:
//
//	done, err := reg.Allow("openai")
//	if err != nil {
//	    // circuit open, fail fast
//	}
//	resp, callErr := adapter.Complete(ctx, req)
//	done(callErr)
//
// Failure classification is injected: only errors the classifier reports as
// provider faults count toward the trip threshold.
package breaker

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrOpen is returned by Allow while a provider's circuit rejects requests.
var ErrOpen = errors.New("breaker: circuit open")

// State is the circuit state exposed to callers.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return Open
	case gobreaker.StateHalfOpen:
		return HalfOpen
	default:
		return Closed
	}
}

// Done closes one Allow with the outcome of the guarded call.
type Done func(callErr error)

// Event records one state transition for a provider.
type Event struct {
	ProviderID string
	From, To   State
	At         time.Time
}

// Config controls every breaker created by a Registry.
type Config struct {
	// FailureThreshold is the number of consecutive provider faults that
	// trips Closed -> Open. Default 5.
	FailureThreshold uint32

	// OpenDuration is how long an open circuit rejects before allowing a
	// half-open probe. Default 30s.
	OpenDuration time.Duration

	// Window is the rolling interval after which the closed-state failure
	// counters reset. Default 60s.
	Window time.Duration

	// IsFault classifies errors; only faults count toward the threshold.
	// Nil treats every non-nil error as a fault.
	IsFault func(error) bool

	// OnStateChange is invoked after every transition. Must not block.
	OnStateChange func(ev Event)

	// HistorySize bounds the per-provider transition history. Default 32.
	HistorySize int

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.OpenDuration == 0 {
		c.OpenDuration = 30 * time.Second
	}
	if c.Window == 0 {
		c.Window = time.Minute
	}
	if c.HistorySize == 0 {
		c.HistorySize = 32
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return c
}

// Snapshot is a read-only view of one provider's breaker, safe to expose on
// health endpoints without touching the hot path.
type Snapshot struct {
	ProviderID          string
	State               State
	ConsecutiveFailures uint32
	TotalSuccesses      uint64
	TotalFailures       uint64
	RecentFailureRate   float64
	LastTransition      time.Time
	ForcedOpen          bool
}

// Registry is an arena of circuit breakers keyed by provider id. State is
// exclusively owned here and mutated only through Allow/Done, Trip and
// Reset; contention is per provider, never global.
type Registry struct {
	cfg Config

	mu      sync.RWMutex
	entries map[string]*entry
}

type entry struct {
	mu sync.Mutex
	cb *gobreaker.TwoStepCircuitBreaker

	forced      bool
	forcedUntil time.Time // zero = until Reset

	consecutiveFailures uint32
	totalSuccesses      uint64
	totalFailures       uint64
	recentSuccesses     uint64
	recentFailures      uint64
	lastTransition      time.Time
	events              []Event
}

// New creates a Registry. The zero Config is usable; see Config for
// defaults.
func New(cfg Config) *Registry {
	return &Registry{
		cfg:     cfg.withDefaults(),
		entries: make(map[string]*entry),
	}
}

func (r *Registry) entryFor(providerID string) *entry {
	r.mu.RLock()
	e, ok := r.entries[providerID]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok = r.entries[providerID]; ok {
		return e
	}
	e = &entry{}
	e.cb = r.newBreaker(providerID, e)
	r.entries[providerID] = e
	return e
}

func (r *Registry) newBreaker(providerID string, e *entry) *gobreaker.TwoStepCircuitBreaker {
	threshold := r.cfg.FailureThreshold
	return gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name:        providerID,
		MaxRequests: 1, // single half-open probe
		Interval:    r.cfg.Window,
		Timeout:     r.cfg.OpenDuration,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.transition(name, e, fromGobreaker(from), fromGobreaker(to))
		},
	})
}

func (r *Registry) transition(providerID string, e *entry, from, to State) {
	ev := Event{ProviderID: providerID, From: from, To: to, At: r.cfg.Clock()}

	e.mu.Lock()
	e.lastTransition = ev.At
	// The recent failure rate tracks the current state's era only.
	e.recentSuccesses = 0
	e.recentFailures = 0
	e.events = append(e.events, ev)
	if len(e.events) > r.cfg.HistorySize {
		e.events = e.events[len(e.events)-r.cfg.HistorySize:]
	}
	e.mu.Unlock()

	if r.cfg.OnStateChange != nil {
		r.cfg.OnStateChange(ev)
	}
}

func (r *Registry) isFault(err error) bool {
	if err == nil {
		return false
	}
	if r.cfg.IsFault == nil {
		return true
	}
	return r.cfg.IsFault(err)
}

// Allow checks whether a request to the provider may proceed. On success
// the returned Done must be called exactly once with the call's error;
// non-fault errors (per the classifier) are recorded as successes so caller
// mistakes never trip a provider's circuit.
func (r *Registry) Allow(providerID string) (Done, error) {
	e := r.entryFor(providerID)

	e.mu.Lock()
	if e.forced {
		if e.forcedUntil.IsZero() || r.cfg.Clock().Before(e.forcedUntil) {
			e.mu.Unlock()
			return nil, ErrOpen
		}
		e.forced = false
	}
	// Reset swaps e.cb under the same mutex; the pointer must be read here.
	cb := e.cb
	e.mu.Unlock()

	done, err := cb.Allow()
	if err != nil {
		// gobreaker.ErrOpenState or ErrTooManyRequests (half-open probe
		// already in flight); both reject fast.
		return nil, ErrOpen
	}

	return func(callErr error) {
		fault := r.isFault(callErr)
		done(!fault)

		e.mu.Lock()
		if fault {
			e.totalFailures++
			e.recentFailures++
			e.consecutiveFailures++
		} else {
			e.totalSuccesses++
			e.recentSuccesses++
			e.consecutiveFailures = 0
		}
		e.mu.Unlock()
	}, nil
}

// State returns the provider's current circuit state.
func (r *Registry) State(providerID string) State {
	e := r.entryFor(providerID)

	e.mu.Lock()
	if e.forced && (e.forcedUntil.IsZero() || r.cfg.Clock().Before(e.forcedUntil)) {
		e.mu.Unlock()
		return Open
	}
	cb := e.cb
	e.mu.Unlock()

	return fromGobreaker(cb.State())
}

// Trip forces a provider's circuit open for the given duration, overriding
// the state machine. A non-positive duration keeps it open until Reset.
func (r *Registry) Trip(providerID string, d time.Duration) {
	e := r.entryFor(providerID)

	e.mu.Lock()
	from := fromGobreaker(e.cb.State())
	e.forced = true
	if d > 0 {
		e.forcedUntil = r.cfg.Clock().Add(d)
	} else {
		e.forcedUntil = time.Time{}
	}
	e.mu.Unlock()

	r.transition(providerID, e, from, Open)
}

// Reset clears a provider's circuit back to Closed with zeroed counters,
// discarding any manual trip.
func (r *Registry) Reset(providerID string) {
	e := r.entryFor(providerID)

	e.mu.Lock()
	from := Open
	if !e.forced {
		from = fromGobreaker(e.cb.State())
	}
	e.forced = false
	e.forcedUntil = time.Time{}
	e.cb = r.newBreaker(providerID, e)
	e.consecutiveFailures = 0
	e.mu.Unlock()

	r.transition(providerID, e, from, Closed)
}

// FailureRate returns the provider's failure rate since its last state
// transition, used as the recent-failure reliability signal.
func (r *Registry) FailureRate(providerID string) float64 {
	e := r.entryFor(providerID)

	e.mu.Lock()
	defer e.mu.Unlock()
	total := e.recentSuccesses + e.recentFailures
	if total == 0 {
		return 0
	}
	return float64(e.recentFailures) / float64(total)
}

// Snapshot returns a read-only view of one provider's breaker.
func (r *Registry) Snapshot(providerID string) Snapshot {
	state := r.State(providerID)
	e := r.entryFor(providerID)

	e.mu.Lock()
	defer e.mu.Unlock()
	snap := Snapshot{
		ProviderID:          providerID,
		State:               state,
		ConsecutiveFailures: e.consecutiveFailures,
		TotalSuccesses:      e.totalSuccesses,
		TotalFailures:       e.totalFailures,
		LastTransition:      e.lastTransition,
		ForcedOpen:          e.forced,
	}
	if total := e.recentSuccesses + e.recentFailures; total > 0 {
		snap.RecentFailureRate = float64(e.recentFailures) / float64(total)
	}
	return snap
}

// Events returns up to n most recent transitions for a provider, oldest
// first.
func (r *Registry) Events(providerID string, n int) []Event {
	e := r.entryFor(providerID)

	e.mu.Lock()
	defer e.mu.Unlock()
	events := e.events
	if n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	out := make([]Event, len(events))
	copy(out, events)
	return out
}

// Providers returns the ids of all providers with breaker state.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}
