package arbiter

import (
	"context"
	"time"
)

// Catalog is the model-lookup collaborator. Persistence and sync of the
// catalog are external concerns; arbitration only reads snapshots.
type Catalog interface {
	// ActiveModels returns active models matching the hard constraints.
	ActiveModels(ctx context.Context, c Criteria) ([]AIModel, error)

	// Provider resolves a provider id to its identity and current health
	// snapshot.
	Provider(id string) (ModelProvider, bool)
}

// CostEstimate is the projected cost of running a request on a model.
type CostEstimate struct {
	InputUSD  float64
	OutputUSD float64
	TotalUSD  float64
}

// CostEstimator projects request cost before execution.
type CostEstimator interface {
	Estimate(m AIModel, rc *RequestContext) CostEstimate
}

// BudgetChecker is the tenant budget collaborator. CheckBudget reports
// whether the tenant can spend the estimated amount; implementations own
// the remaining-balance bookkeeping.
type BudgetChecker interface {
	CheckBudget(ctx context.Context, tenantID string, estimatedUSD float64) (bool, error)
}

// ComplianceReport is the outcome of a compliance check for one model.
type ComplianceReport struct {
	Pass       bool
	Violations []ComplianceStandard

	// Preferred-standard satisfaction feeding the graded compliance score.
	PreferredMet   int
	PreferredTotal int
}

// ComplianceChecker gates models on required standards and grades optional
// preferences.
type ComplianceChecker interface {
	Check(m AIModel, rc *RequestContext) ComplianceReport
}

// Recorder receives arbitration outcomes. All calls are fire-and-forget
// from the engine's perspective and must never block or fail the decision
// path; the engine isolates panics and runs them asynchronously.
type Recorder interface {
	RecordDecision(res *Result, rc *RequestContext)
	RecordFailure(res *Result, rc *RequestContext, err error)
	RecordUsage(res *Result, rc *RequestContext, usage *Usage, costUSD float64)
}

// tokenCostEstimator prices a request from the model's per-1K token rates
// and the context's expected volume.
type tokenCostEstimator struct{}

func (tokenCostEstimator) Estimate(m AIModel, rc *RequestContext) CostEstimate {
	in := float64(rc.ExpectedPromptTokens) / 1000 * m.InputCostPer1K
	out := float64(rc.ExpectedCompletionTokens) / 1000 * m.OutputCostPer1K
	return CostEstimate{
		InputUSD:  in,
		OutputUSD: out,
		TotalUSD:  in + out,
	}
}

// standardCompliance gates on required standards carried by the model and
// grades preferred ones.
type standardCompliance struct{}

func (standardCompliance) Check(m AIModel, rc *RequestContext) ComplianceReport {
	rep := ComplianceReport{Pass: true, PreferredTotal: len(rc.PreferredCompliance)}
	for _, std := range rc.RequiredCompliance {
		if !m.HasCompliance(std) {
			rep.Pass = false
			rep.Violations = append(rep.Violations, std)
		}
	}
	for _, std := range rc.PreferredCompliance {
		if m.HasCompliance(std) {
			rep.PreferredMet++
		}
	}
	return rep
}

// NopRecorder discards all records.
type NopRecorder struct{}

func (NopRecorder) RecordDecision(*Result, *RequestContext)               {}
func (NopRecorder) RecordFailure(*Result, *RequestContext, error)         {}
func (NopRecorder) RecordUsage(*Result, *RequestContext, *Usage, float64) {}

// signalsFor assembles the pre-fetched live inputs for scoring one model so
// the scoring step itself stays pure.
func signalsFor(m AIModel, p ModelProvider, est CostEstimate, recentFailureRate float64, rep ComplianceReport) Signals {
	latency := p.Health.LatencyP95
	if latency == 0 {
		latency = m.LatencyHint
	}
	successRate := p.Health.SuccessRate
	if p.Health.Status == StatusUnknown || p.Health.CheckedAt.IsZero() {
		// No live data yet: assume nominal health rather than punishing
		// new providers.
		successRate = 1.0
	}
	return Signals{
		SuccessRate:       successRate,
		LatencyP95:        latency,
		RecentFailureRate: recentFailureRate,
		IncidentCount:     p.Health.IncidentCount,
		EstimatedCostUSD:  est.TotalUSD,
		CompliancePass:    rep.Pass,
		PreferredMet:      rep.PreferredMet,
		PreferredTotal:    rep.PreferredTotal,
	}
}

// estimatedLatency picks the latency figure carried on the candidate.
func estimatedLatency(m AIModel, p ModelProvider) time.Duration {
	if p.Health.LatencyP95 > 0 {
		return p.Health.LatencyP95
	}
	return m.LatencyHint
}
