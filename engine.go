package arbiter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bluefunda/model-arbiter/breaker"
	"github.com/bluefunda/model-arbiter/ratelimit"
)

// Engine arbitrates completion requests across providers: it filters and
// ranks catalog models for a request context, then executes against the
// ranked list with circuit breaking, quota enforcement and bounded fallback.
//
// An Engine is safe for concurrent use. Catalog, budget and compliance
// collaborators are consulted per call; the engine owns no model state of
// its own beyond breaker and limiter bookkeeping.
type Engine struct {
	catalog Catalog

	adaptersMu sync.RWMutex
	adapters   map[string]Adapter
	middleware []Middleware

	breakers   *breaker.Registry
	breakerCfg breaker.Config
	limiter    *ratelimit.Limiter
	scorer     *Scorer

	estimator  CostEstimator
	budget     BudgetChecker
	compliance ComplianceChecker
	recorder   Recorder

	logger  *slog.Logger
	metrics *Metrics

	fallback            *Fallback
	maxFallbackAttempts int
	fallbackBaseDelay   time.Duration
	fallbackMaxDelay    time.Duration
	batchConcurrency    int

	now func() time.Time
}

// New creates an Engine backed by the given catalog. Options override the
// defaults: no rate limits, a breaker registry classifying with
// IsProviderFault, token-based cost estimation, standards-carried compliance
// checking and a discard recorder.
func New(catalog Catalog, opts ...Option) (*Engine, error) {
	if catalog == nil {
		return nil, errors.New("arbiter: catalog is required")
	}

	e := &Engine{
		catalog:             catalog,
		adapters:            make(map[string]Adapter),
		maxFallbackAttempts: DefaultMaxFallbackAttempts,
		fallbackBaseDelay:   100 * time.Millisecond,
		fallbackMaxDelay:    2 * time.Second,
		batchConcurrency:    4,
		now:                 time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.estimator == nil {
		e.estimator = tokenCostEstimator{}
	}
	if e.compliance == nil {
		e.compliance = standardCompliance{}
	}
	if e.recorder == nil {
		e.recorder = NopRecorder{}
	}
	if e.scorer == nil {
		e.scorer = NewScorer(WeightPolicy{Default: DefaultWeights()})
	}
	if err := e.scorer.policy.Validate(); err != nil {
		return nil, fmt.Errorf("arbiter: weight policy: %w", err)
	}
	if e.breakers == nil {
		cfg := e.breakerCfg
		if cfg.IsFault == nil {
			cfg.IsFault = IsProviderFault
		}
		user := cfg.OnStateChange
		cfg.OnStateChange = func(ev breaker.Event) {
			e.metrics.BreakerTransition(ev.ProviderID, ev.To.String())
			e.logger.Warn("circuit state change",
				"provider", ev.ProviderID,
				"from", ev.From.String(),
				"to", ev.To.String())
			if user != nil {
				user(ev)
			}
		}
		e.breakers = breaker.New(cfg)
	}
	if e.limiter == nil {
		e.limiter = ratelimit.New(nil, ratelimit.WithViolationHook(func(v ratelimit.Violation) {
			e.metrics.RateLimitViolation(string(v.Dimension))
			e.logger.Warn("rate limit violation",
				"violation_id", v.ID,
				"identifier", v.Identifier,
				"dimension", v.Dimension,
				"weight", v.Weight)
		}))
	}

	e.fallback = &Fallback{
		breakers:    e.breakers,
		limiter:     e.limiter,
		adapter:     e.adapterFor,
		maxAttempts: e.maxFallbackAttempts,
		baseDelay:   e.fallbackBaseDelay,
		maxDelay:    e.fallbackMaxDelay,
		logger:      e.logger,
		now:         e.now,
	}

	return e, nil
}

// RegisterAdapter makes a provider adapter available for execution, wrapped
// in the engine's middleware chain. The first middleware registered becomes
// the outermost wrapper. Safe to call while the engine is serving.
func (e *Engine) RegisterAdapter(a Adapter) {
	for i := len(e.middleware) - 1; i >= 0; i-- {
		a = e.middleware[i].Wrap(a)
	}
	e.adaptersMu.Lock()
	e.adapters[a.Name()] = a
	e.adaptersMu.Unlock()
}

func (e *Engine) adapterFor(providerID string) (Adapter, bool) {
	e.adaptersMu.RLock()
	a, ok := e.adapters[providerID]
	e.adaptersMu.RUnlock()
	return a, ok
}

// Breakers exposes the circuit breaker registry for manual Trip/Reset and
// health inspection.
func (e *Engine) Breakers() *breaker.Registry { return e.breakers }

// Metrics returns the current metrics snapshot.
func (e *Engine) Metrics() MetricsSnapshot { return e.metrics.Snapshot() }

// SelectModel runs arbitration without executing: admission control, candidate
// filtering, scoring and ranking. The returned Result carries the full ranked
// list and every rejection with its reason.
//
// The request-dimension quota is consumed exactly once per call, here.
func (e *Engine) SelectModel(ctx context.Context, rc *RequestContext) (*Result, error) {
	start := e.now()
	res := &Result{ID: uuid.NewString()}

	if d := e.limiter.Check(rc.Identifier(), ratelimit.DimensionRequests, 1); !d.Allowed {
		res.FailureReason = ReasonRateLimited
		res.Duration = e.now().Sub(start)
		err := &RateLimitError{
			Identifier: rc.Identifier(),
			Dimension:  string(ratelimit.DimensionRequests),
			ResetAt:    d.ResetAt,
		}
		e.metrics.ObserveDecision(string(ReasonRateLimited), res.Duration)
		e.record(func() { e.recorder.RecordFailure(res, rc, err) })
		return res, err
	}

	candidates, rejections, err := e.buildCandidates(ctx, rc)
	if err != nil {
		return nil, fmt.Errorf("arbiter: catalog lookup: %w", err)
	}
	res.Rejected = rejections

	if len(candidates) == 0 {
		err := error(ErrNoEligibleCandidates)
		res.FailureReason = ReasonNoCandidates
		if onlyBudgetStoodBetween(rejections) {
			err = ErrBudgetExceeded
			res.FailureReason = ReasonOverBudget
		}
		res.Duration = e.now().Sub(start)
		e.metrics.ObserveDecision(string(res.FailureReason), res.Duration)
		e.record(func() { e.recorder.RecordFailure(res, rc, err) })
		return res, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidateLess(candidates[i], candidates[j])
	})
	res.Ranked = candidates
	res.Selected = &candidates[0]
	res.Duration = e.now().Sub(start)

	e.metrics.ObserveDecision("selected", res.Duration)
	e.logger.Debug("model selected",
		"result_id", res.ID,
		"tenant", rc.TenantID,
		"model", res.Selected.Model.ID,
		"provider", res.Selected.Provider.ID,
		"score", res.Selected.Score,
		"candidates", len(candidates),
		"rejected", len(rejections))
	e.record(func() { e.recorder.RecordDecision(res, rc) })
	return res, nil
}

// onlyBudgetStoodBetween reports whether at least one model cleared every
// filter except budget, which turns an empty candidate set into a budget
// failure instead of a generic no-candidates one.
func onlyBudgetStoodBetween(rejections []Rejection) bool {
	for _, r := range rejections {
		if r.Reason == RejectOverBudget {
			return true
		}
	}
	return false
}

func (e *Engine) buildCandidates(ctx context.Context, rc *RequestContext) ([]Candidate, []Rejection, error) {
	models, err := e.catalog.ActiveModels(ctx, rc.Criteria())
	if err != nil {
		return nil, nil, err
	}

	var candidates []Candidate
	var rejections []Rejection
	reject := func(m AIModel, reason string) {
		rejections = append(rejections, Rejection{
			ModelID:    m.ID,
			ProviderID: m.ProviderID,
			Reason:     reason,
		})
	}

	for _, m := range models {
		provider, ok := e.catalog.Provider(m.ProviderID)
		if !ok || !provider.Active {
			reject(m, RejectProviderInactive)
			continue
		}

		rep := e.compliance.Check(m, rc)
		if !rep.Pass {
			reject(m, RejectCompliance)
			continue
		}

		if e.breakers.State(provider.ID) == breaker.Open {
			reject(m, RejectCircuitOpen)
			continue
		}

		est := e.estimator.Estimate(m, rc)
		if rc.BudgetCeilingUSD > 0 && est.TotalUSD > rc.BudgetCeilingUSD {
			reject(m, RejectOverBudget)
			continue
		}
		if e.budget != nil {
			ok, err := e.budget.CheckBudget(ctx, rc.TenantID, est.TotalUSD)
			if err != nil {
				// Budget backend trouble must not take arbitration down
				// with it; fail open and let usage recording reconcile.
				e.logger.Warn("budget check failed, allowing",
					"tenant", rc.TenantID, "error", err)
			} else if !ok {
				reject(m, RejectOverBudget)
				continue
			}
		}

		sig := signalsFor(m, provider, est, e.breakers.FailureRate(provider.ID), rep)
		score, breakdown := e.scorer.Score(m, rc, sig)

		candidates = append(candidates, Candidate{
			Model:            m,
			Provider:         provider,
			Score:            score,
			Breakdown:        breakdown,
			EstimatedCostUSD: est.TotalUSD,
			EstimatedLatency: estimatedLatency(m, provider),
		})
	}

	return candidates, rejections, nil
}

// Execute arbitrates and runs the request, falling back down the ranked list
// on retryable failures. On success the Result's Selected reflects the
// candidate that actually answered, not merely the top-ranked one.
func (e *Engine) Execute(ctx context.Context, req *Request, rc *RequestContext) (*Response, *Result, error) {
	res, err := e.SelectModel(ctx, rc)
	if err != nil {
		return nil, res, err
	}
	start := e.now()

	resp, attempts, err := e.fallback.Run(ctx, req, rc, res.Ranked)
	res.Attempts = attempts
	res.Duration += e.now().Sub(start)
	e.metrics.ObserveFallback(len(attempts))

	if err != nil {
		e.failExecution(res, rc, err)
		return nil, res, err
	}

	e.markSucceeded(res)
	cost := e.actualCost(res.Selected, resp.Usage)
	e.record(func() { e.recorder.RecordUsage(res, rc, resp.Usage, cost) })
	return resp, res, nil
}

// ExecuteStreaming is Execute for streaming responses. Fallback covers
// stream establishment only.
func (e *Engine) ExecuteStreaming(ctx context.Context, req *Request, rc *RequestContext) (<-chan Event, *Result, error) {
	res, err := e.SelectModel(ctx, rc)
	if err != nil {
		return nil, res, err
	}
	start := e.now()

	ch, attempts, err := e.fallback.RunStream(ctx, req, rc, res.Ranked)
	res.Attempts = attempts
	res.Duration += e.now().Sub(start)
	e.metrics.ObserveFallback(len(attempts))

	if err != nil {
		e.failExecution(res, rc, err)
		return nil, res, err
	}

	// SelectModel already recorded the decision; token usage is unknown
	// until the stream completes, so there is nothing further to record.
	e.markSucceeded(res)
	return ch, res, nil
}

func (e *Engine) failExecution(res *Result, rc *RequestContext, err error) {
	res.Selected = nil
	switch {
	case IsRateLimited(err):
		res.FailureReason = ReasonRateLimited
	case errors.Is(err, ErrAllCandidatesExhausted):
		res.FailureReason = ReasonExhausted
	case errors.Is(err, ErrNoEligibleCandidates):
		res.FailureReason = ReasonNoCandidates
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		res.FailureReason = ReasonExhausted
	default:
		res.FailureReason = ReasonValidation
	}
	e.logger.Warn("execution failed",
		"result_id", res.ID,
		"tenant", rc.TenantID,
		"reason", res.FailureReason,
		"attempts", len(res.Attempts),
		"error", err)
	e.record(func() { e.recorder.RecordFailure(res, rc, err) })
}

// markSucceeded points Selected at the candidate whose attempt succeeded,
// which is always the last entry in the attempt chain.
func (e *Engine) markSucceeded(res *Result) {
	if len(res.Attempts) == 0 {
		return
	}
	last := res.Attempts[len(res.Attempts)-1]
	for i := range res.Ranked {
		if res.Ranked[i].Provider.ID == last.ProviderID && res.Ranked[i].Model.ID == last.ModelID {
			res.Selected = &res.Ranked[i]
			return
		}
	}
}

// actualCost prices the response from real token usage; the estimate is only
// for pre-flight decisions.
func (e *Engine) actualCost(cand *Candidate, usage *Usage) float64 {
	if cand == nil || usage == nil {
		return 0
	}
	in := float64(usage.PromptTokens) / 1000 * cand.Model.InputCostPer1K
	out := float64(usage.CompletionTokens) / 1000 * cand.Model.OutputCostPer1K
	return in + out
}

// record runs a recorder call on its own goroutine with panic isolation, so
// recording can never block or fail the decision path.
func (e *Engine) record(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("recorder panic", "panic", r)
			}
		}()
		fn()
	}()
}

// BatchItem pairs one request with its arbitration context.
type BatchItem struct {
	Request *Request
	Context *RequestContext
}

// BatchResult is the outcome of one batch item, positionally aligned with
// the input slice.
type BatchResult struct {
	Response *Response
	Result   *Result
	Err      error
}

// SelectModelBatch runs arbitration for each context sequentially in input
// order, so quota consumption is deterministic. Nothing is executed; each
// BatchResult carries only the Result and any selection error.
func (e *Engine) SelectModelBatch(ctx context.Context, rcs []*RequestContext) []BatchResult {
	out := make([]BatchResult, len(rcs))
	for i, rc := range rcs {
		res, err := e.SelectModel(ctx, rc)
		out[i] = BatchResult{Result: res, Err: err}
	}
	return out
}

// ExecuteBatch arbitrates a batch. Selection runs sequentially in input
// order so quota consumption is deterministic; execution of the selected
// candidates runs concurrently, bounded by the engine's batch concurrency.
func (e *Engine) ExecuteBatch(ctx context.Context, items []BatchItem) []BatchResult {
	out := make([]BatchResult, len(items))

	for i, item := range items {
		res, err := e.SelectModel(ctx, item.Context)
		out[i] = BatchResult{Result: res, Err: err}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.batchConcurrency)
	for i := range items {
		if out[i].Err != nil {
			continue
		}
		i := i
		g.Go(func() error {
			item := items[i]
			res := out[i].Result
			start := e.now()

			resp, attempts, err := e.fallback.Run(ctx, item.Request, item.Context, res.Ranked)
			res.Attempts = attempts
			res.Duration += e.now().Sub(start)
			e.metrics.ObserveFallback(len(attempts))

			if err != nil {
				e.failExecution(res, item.Context, err)
				out[i].Err = err
				return nil // one failed item never cancels its siblings
			}

			e.markSucceeded(res)
			cost := e.actualCost(res.Selected, resp.Usage)
			e.record(func() { e.recorder.RecordUsage(res, item.Context, resp.Usage, cost) })
			out[i].Response = resp
			return nil
		})
	}
	g.Wait()

	return out
}

// ProviderHealth is one provider's combined health view for inspection
// endpoints: catalog snapshot plus live circuit state.
type ProviderHealth struct {
	ProviderID string
	Circuit    breaker.Snapshot
	Catalog    HealthSnapshot
	Registered bool
}

// HealthStatus reports the passive health view for every provider the
// engine has touched, without probing anything.
func (e *Engine) HealthStatus() []ProviderHealth {
	ids := e.breakers.Providers()
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		seen[id] = true
	}
	e.adaptersMu.RLock()
	for id := range e.adapters {
		if !seen[id] {
			ids = append(ids, id)
			seen[id] = true
		}
	}
	e.adaptersMu.RUnlock()
	sort.Strings(ids)

	out := make([]ProviderHealth, 0, len(ids))
	for _, id := range ids {
		h := ProviderHealth{
			ProviderID: id,
			Circuit:    e.breakers.Snapshot(id),
		}
		if p, ok := e.catalog.Provider(id); ok {
			h.Catalog = p.Health
		}
		_, h.Registered = e.adapterFor(id)
		out = append(out, h)
	}
	return out
}

// ProbeHealth actively checks every registered adapter. Probe outcomes are
// recorded on the provider's circuit like any other call.
func (e *Engine) ProbeHealth(ctx context.Context) map[string]error {
	e.adaptersMu.RLock()
	adapters := make(map[string]Adapter, len(e.adapters))
	for id, a := range e.adapters {
		adapters[id] = a
	}
	e.adaptersMu.RUnlock()

	results := make(map[string]error, len(adapters))
	g, ctx := errgroup.WithContext(ctx)
	var mu sync.Mutex

	for id, a := range adapters {
		id, a := id, a
		g.Go(func() error {
			var probeErr error
			done, err := e.breakers.Allow(id)
			if err != nil {
				probeErr = ErrCircuitOpen
			} else {
				probeErr = a.CheckHealth(ctx)
				done(probeErr)
			}
			mu.Lock()
			results[id] = probeErr
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	return results
}
