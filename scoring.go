package arbiter

import (
	"fmt"
	"math"
	"time"
)

// Weights controls how the four sub-scores combine. Weights must sum to 1.0.
type Weights struct {
	Performance float64 `yaml:"performance"`
	Cost        float64 `yaml:"cost"`
	Compliance  float64 `yaml:"compliance"`
	Reliability float64 `yaml:"reliability"`
}

// DefaultWeights balances the four concerns with a slight performance bias.
func DefaultWeights() Weights {
	return Weights{Performance: 0.35, Cost: 0.25, Compliance: 0.2, Reliability: 0.2}
}

// Validate checks that the weights are non-negative and sum to 1.0.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"performance": w.Performance,
		"cost":        w.Cost,
		"compliance":  w.Compliance,
		"reliability": w.Reliability,
	} {
		if v < 0 {
			return fmt.Errorf("weight %s is negative", name)
		}
	}
	sum := w.Performance + w.Cost + w.Compliance + w.Reliability
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("weights must sum to 1.0, got %v", sum)
	}
	return nil
}

// WeightPolicy resolves weights per request: tenant override wins over
// task-type override, which wins over the default.
type WeightPolicy struct {
	Default    Weights
	ByTenant   map[string]Weights
	ByTaskType map[TaskType]Weights
}

// Resolve returns the effective weights for a tenant and task type.
func (p WeightPolicy) Resolve(tenantID string, task TaskType) Weights {
	if w, ok := p.ByTenant[tenantID]; ok {
		return w
	}
	if w, ok := p.ByTaskType[task]; ok {
		return w
	}
	return p.Default
}

// Validate checks the default and every override.
func (p WeightPolicy) Validate() error {
	if err := p.Default.Validate(); err != nil {
		return fmt.Errorf("default: %w", err)
	}
	for tenant, w := range p.ByTenant {
		if err := w.Validate(); err != nil {
			return fmt.Errorf("tenant %s: %w", tenant, err)
		}
	}
	for task, w := range p.ByTaskType {
		if err := w.Validate(); err != nil {
			return fmt.Errorf("task %s: %w", task, err)
		}
	}
	return nil
}

// Signals are the pre-fetched live inputs to scoring. The engine assembles
// them before the scoring step so Score stays a pure function with no
// network or storage access.
type Signals struct {
	SuccessRate       float64 // [0,1], historical for the task type
	LatencyP95        time.Duration
	RecentFailureRate float64 // [0,1], from circuit breaker statistics
	IncidentCount     int
	EstimatedCostUSD  float64

	CompliancePass bool
	PreferredMet   int
	PreferredTotal int
}

// ScoreBreakdown carries the per-criterion sub-scores behind a total, so a
// decision can be explained after the fact.
type ScoreBreakdown struct {
	Performance float64 `json:"performance"`
	Cost        float64 `json:"cost"`
	Compliance  float64 `json:"compliance"`
	Reliability float64 `json:"reliability"`
	Total       float64 `json:"total"`
}

// SubScoreFunc maps signals to a sub-score in [0,100]. The default formulas
// can be replaced per scorer since coefficients are deployment-specific.
type SubScoreFunc func(sig Signals) float64

// Scorer computes weighted candidate scores. Score is a pure function of
// its inputs; two calls with identical inputs return identical results.
type Scorer struct {
	policy WeightPolicy

	performance SubScoreFunc
	cost        SubScoreFunc
	compliance  SubScoreFunc
	reliability SubScoreFunc
}

// ScorerOption customizes a Scorer.
type ScorerOption func(*Scorer)

// WithPerformanceScore replaces the performance formula.
func WithPerformanceScore(f SubScoreFunc) ScorerOption {
	return func(s *Scorer) { s.performance = f }
}

// WithCostScore replaces the cost formula.
func WithCostScore(f SubScoreFunc) ScorerOption {
	return func(s *Scorer) { s.cost = f }
}

// WithComplianceScore replaces the compliance formula.
func WithComplianceScore(f SubScoreFunc) ScorerOption {
	return func(s *Scorer) { s.compliance = f }
}

// WithReliabilityScore replaces the reliability formula.
func WithReliabilityScore(f SubScoreFunc) ScorerOption {
	return func(s *Scorer) { s.reliability = f }
}

// NewScorer creates a Scorer with the given weight policy and default
// sub-score formulas.
func NewScorer(policy WeightPolicy, opts ...ScorerOption) *Scorer {
	s := &Scorer{
		policy:      policy,
		performance: defaultPerformanceScore,
		cost:        defaultCostScore,
		compliance:  defaultComplianceScore,
		reliability: defaultReliabilityScore,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Score computes the weighted total and its breakdown for one model.
func (s *Scorer) Score(m AIModel, rc *RequestContext, sig Signals) (float64, ScoreBreakdown) {
	w := s.policy.Resolve(rc.TenantID, rc.TaskType)
	b := ScoreBreakdown{
		Performance: clampScore(s.performance(sig)),
		Cost:        clampScore(s.cost(sig)),
		Compliance:  clampScore(s.compliance(sig)),
		Reliability: clampScore(s.reliability(sig)),
	}
	b.Total = w.Performance*b.Performance +
		w.Cost*b.Cost +
		w.Compliance*b.Compliance +
		w.Reliability*b.Reliability
	return b.Total, b
}

// referenceLatency anchors the latency half of the performance score: a p95
// at the reference maps to 50 out of the latency component's 100.
const referenceLatency = 500 * time.Millisecond

// referenceCostUSD anchors the cost score the same way.
const referenceCostUSD = 0.01

// defaultPerformanceScore blends historical success rate (70%) with a
// latency score that decays hyperbolically past the reference p95 (30%).
func defaultPerformanceScore(sig Signals) float64 {
	success := sig.SuccessRate * 100
	latency := 100.0
	if sig.LatencyP95 > 0 {
		latency = 100 * float64(referenceLatency) / float64(referenceLatency+sig.LatencyP95)
	}
	return 0.7*success + 0.3*latency
}

// defaultCostScore is a decreasing function of estimated cost. Zero cost is
// the maximal score, so free/local models rank above anything billed.
func defaultCostScore(sig Signals) float64 {
	if sig.EstimatedCostUSD <= 0 {
		return 100
	}
	return 100 * referenceCostUSD / (referenceCostUSD + sig.EstimatedCostUSD)
}

// defaultComplianceScore is binary-gated: a required-standard miss is 0
// (the engine excludes such models before scoring), otherwise the score
// grades how many preferred standards are satisfied.
func defaultComplianceScore(sig Signals) float64 {
	if !sig.CompliancePass {
		return 0
	}
	if sig.PreferredTotal == 0 {
		return 100
	}
	return 100 * float64(sig.PreferredMet) / float64(sig.PreferredTotal)
}

// defaultReliabilityScore starts from the inverse recent failure rate and
// decays 15% per recorded incident.
func defaultReliabilityScore(sig Signals) float64 {
	score := 100 * (1 - sig.RecentFailureRate)
	for i := 0; i < sig.IncidentCount; i++ {
		score *= 0.85
	}
	return score
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// candidateLess is the ranking order: descending total score, then the
// deterministic tie-break of lower estimated cost, lower estimated latency,
// and finally provider id, so equal inputs always rank identically.
func candidateLess(a, b Candidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.EstimatedCostUSD != b.EstimatedCostUSD {
		return a.EstimatedCostUSD < b.EstimatedCostUSD
	}
	if a.EstimatedLatency != b.EstimatedLatency {
		return a.EstimatedLatency < b.EstimatedLatency
	}
	if a.Provider.ID != b.Provider.ID {
		return a.Provider.ID < b.Provider.ID
	}
	return a.Model.ID < b.Model.ID
}
