package arbiter

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/bluefunda/model-arbiter/breaker"
	"github.com/bluefunda/model-arbiter/ratelimit"
)

// DefaultMaxFallbackAttempts bounds execution attempts per request unless
// the context overrides it.
const DefaultMaxFallbackAttempts = 3

// Fallback walks a ranked candidate list, executing at most maxAttempts
// candidates sequentially. One provider call is in flight per request at a
// time; there is no speculative parallel execution, which bounds outbound
// load during provider incidents.
type Fallback struct {
	breakers *breaker.Registry
	limiter  *ratelimit.Limiter
	adapter  func(providerID string) (Adapter, bool)

	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration

	logger *slog.Logger
	now    func() time.Time
}

func (f *Fallback) attemptBudget(rc *RequestContext) int {
	if rc.MaxFallbackAttempts > 0 {
		return rc.MaxFallbackAttempts
	}
	if f.maxAttempts > 0 {
		return f.maxAttempts
	}
	return DefaultMaxFallbackAttempts
}

// Run executes the request against ranked candidates until one succeeds or
// the attempt budget is spent. Every attempt re-checks the provider's
// circuit and consumes token/cost quota; a candidate whose circuit opened
// since selection is skipped without spending an attempt.
func (f *Fallback) Run(ctx context.Context, req *Request, rc *RequestContext, ranked []Candidate) (*Response, []Attempt, error) {
	max := f.attemptBudget(rc)

	var attempts []Attempt
	var lastErr error

	for i := range ranked {
		if len(attempts) >= max {
			break
		}
		cand := ranked[i]

		adapter, ok := f.adapter(cand.Provider.ID)
		if !ok {
			f.logger.Debug("skipping candidate without adapter", "provider", cand.Provider.ID)
			continue
		}

		// Quota re-check at execution time. Token/cost dimensions are
		// identifier-scoped, so a denial here is terminal: no other
		// candidate can satisfy it.
		if d, dim := f.consumeQuota(rc, cand); !d.Allowed {
			return nil, attempts, &RateLimitError{
				Identifier: rc.Identifier(),
				Dimension:  string(dim),
				ResetAt:    d.ResetAt,
			}
		}

		done, err := f.breakers.Allow(cand.Provider.ID)
		if err != nil {
			f.logger.Debug("skipping candidate with open circuit", "provider", cand.Provider.ID)
			continue
		}

		if len(attempts) > 0 && f.baseDelay > 0 {
			if err := f.sleep(ctx, len(attempts)); err != nil {
				// No call was made; release the breaker slot as a non-event.
				done(nil)
				return nil, attempts, err
			}
		}

		start := f.now()
		execReq := withModel(req, cand.Model.ID)
		resp, execErr := adapter.Complete(ctx, execReq)
		done(execErr)

		attempts = append(attempts, Attempt{
			ProviderID: cand.Provider.ID,
			ModelID:    cand.Model.ID,
			Err:        execErr,
			Duration:   f.now().Sub(start),
		})

		if execErr == nil {
			return resp, attempts, nil
		}

		lastErr = execErr
		f.logger.Warn("provider execution failed",
			"provider", cand.Provider.ID,
			"model", cand.Model.ID,
			"attempt", len(attempts),
			"error", execErr)

		if !IsRetryable(execErr) {
			return nil, attempts, execErr
		}
	}

	if len(attempts) == 0 {
		if lastErr != nil {
			return nil, nil, lastErr
		}
		return nil, nil, fmt.Errorf("%w: every candidate was skipped before execution", ErrNoEligibleCandidates)
	}
	return nil, attempts, &ExhaustionError{Attempts: attempts, Last: lastErr}
}

// RunStream is Run for streaming execution. Fallback applies to stream
// establishment only; once events flow, a mid-stream failure surfaces as an
// EventError on the channel.
func (f *Fallback) RunStream(ctx context.Context, req *Request, rc *RequestContext, ranked []Candidate) (<-chan Event, []Attempt, error) {
	max := f.attemptBudget(rc)

	var attempts []Attempt
	var lastErr error

	for i := range ranked {
		if len(attempts) >= max {
			break
		}
		cand := ranked[i]

		adapter, ok := f.adapter(cand.Provider.ID)
		if !ok {
			f.logger.Debug("skipping candidate without adapter", "provider", cand.Provider.ID)
			continue
		}

		if d, dim := f.consumeQuota(rc, cand); !d.Allowed {
			return nil, attempts, &RateLimitError{
				Identifier: rc.Identifier(),
				Dimension:  string(dim),
				ResetAt:    d.ResetAt,
			}
		}

		done, err := f.breakers.Allow(cand.Provider.ID)
		if err != nil {
			f.logger.Debug("skipping candidate with open circuit", "provider", cand.Provider.ID)
			continue
		}

		if len(attempts) > 0 && f.baseDelay > 0 {
			if err := f.sleep(ctx, len(attempts)); err != nil {
				// No call was made; release the breaker slot as a non-event.
				done(nil)
				return nil, attempts, err
			}
		}

		start := f.now()
		execReq := withModel(req, cand.Model.ID)
		ch, execErr := adapter.Stream(ctx, execReq)
		done(execErr)

		attempts = append(attempts, Attempt{
			ProviderID: cand.Provider.ID,
			ModelID:    cand.Model.ID,
			Err:        execErr,
			Duration:   f.now().Sub(start),
		})

		if execErr == nil {
			return ch, attempts, nil
		}

		lastErr = execErr
		f.logger.Warn("provider stream failed",
			"provider", cand.Provider.ID,
			"model", cand.Model.ID,
			"attempt", len(attempts),
			"error", execErr)

		if !IsRetryable(execErr) {
			return nil, attempts, execErr
		}
	}

	if len(attempts) == 0 {
		if lastErr != nil {
			return nil, nil, lastErr
		}
		return nil, nil, fmt.Errorf("%w: every candidate was skipped before execution", ErrNoEligibleCandidates)
	}
	return nil, attempts, &ExhaustionError{Attempts: attempts, Last: lastErr}
}

// consumeQuota charges the token and cost dimensions for one attempt. Each
// executed attempt spends real tokens, so a retry is charged again.
func (f *Fallback) consumeQuota(rc *RequestContext, cand Candidate) (ratelimit.Decision, ratelimit.Dimension) {
	if w := float64(rc.ExpectedTokens()); w > 0 {
		if d := f.limiter.Check(rc.Identifier(), ratelimit.DimensionTokens, w); !d.Allowed {
			return d, ratelimit.DimensionTokens
		}
	}
	if cand.EstimatedCostUSD > 0 {
		if d := f.limiter.Check(rc.Identifier(), ratelimit.DimensionCost, cand.EstimatedCostUSD); !d.Allowed {
			return d, ratelimit.DimensionCost
		}
	}
	return ratelimit.Decision{Allowed: true}, ""
}

func (f *Fallback) sleep(ctx context.Context, attempt int) error {
	delay := time.Duration(float64(f.baseDelay) * math.Pow(2, float64(attempt-1)))
	if f.maxDelay > 0 && delay > f.maxDelay {
		delay = f.maxDelay
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// withModel returns a shallow copy of the request with the candidate's
// model filled in. The caller's request is never mutated.
func withModel(req *Request, modelID string) *Request {
	if req == nil {
		return &Request{Model: modelID}
	}
	out := *req
	out.Model = modelID
	return &out
}
