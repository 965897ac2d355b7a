package arbiter

import (
	"time"
)

// ModelTier groups models by rough capability/cost class.
type ModelTier string

const (
	TierEconomy  ModelTier = "economy"
	TierStandard ModelTier = "standard"
	TierPremium  ModelTier = "premium"
)

// AIModel is a catalog entry. The owning provider is referenced by id, not
// embedded; arbitration treats models as read-only snapshots and only
// catalog sync mutates them.
type AIModel struct {
	ID         string
	Name       string
	ProviderID string
	Tier       ModelTier

	// USD per 1K tokens.
	InputCostPer1K  float64
	OutputCostPer1K float64

	// Capability scores in [0,100].
	Capabilities map[Capability]int

	Regions    []string
	Compliance []ComplianceStandard

	// LatencyHint is a static latency estimate used when no live health
	// snapshot is available for the provider.
	LatencyHint time.Duration

	Active bool
}

// HasCompliance reports whether the model carries the given standard.
func (m AIModel) HasCompliance(std ComplianceStandard) bool {
	for _, s := range m.Compliance {
		if s == std {
			return true
		}
	}
	return false
}

// ProviderStatus is the coarse health classification of a provider.
type ProviderStatus string

const (
	StatusHealthy  ProviderStatus = "healthy"
	StatusDegraded ProviderStatus = "degraded"
	StatusDown     ProviderStatus = "down"
	StatusUnknown  ProviderStatus = "unknown"
)

// HealthSnapshot is a point-in-time view of provider health, refreshed
// out-of-band by whatever monitors the provider. Arbitration only reads it.
type HealthSnapshot struct {
	Status        ProviderStatus
	SuccessRate   float64 // [0,1]
	LatencyP95    time.Duration
	IncidentCount int
	CheckedAt     time.Time
}

// ModelProvider identifies an upstream provider.
type ModelProvider struct {
	ID      string
	Name    string
	BaseURL string
	Active  bool
	Health  HealthSnapshot
}

// Criteria describes the hard constraints a catalog lookup must apply.
type Criteria struct {
	TaskType     TaskType
	Capabilities []CapabilityRequirement
	Regions      []string
	Allow        []string
	Deny         []string
}

// Match reports whether a model satisfies the criteria's model-level
// constraints (capability minimums, region, allow/deny by provider id).
func (c Criteria) Match(m AIModel) bool {
	if !m.Active {
		return false
	}
	for _, req := range c.Capabilities {
		if m.Capabilities[req.Capability] < req.MinScore {
			return false
		}
	}
	if len(c.Regions) > 0 && !regionsOverlap(c.Regions, m.Regions) {
		return false
	}
	if len(c.Allow) > 0 && !containsString(c.Allow, m.ProviderID) {
		return false
	}
	if containsString(c.Deny, m.ProviderID) {
		return false
	}
	return true
}

func regionsOverlap(want, have []string) bool {
	for _, w := range want {
		if containsString(have, w) {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Candidate is an ephemeral (model, provider) pairing evaluated for one
// request. Candidates are created fresh per arbitration call and never
// persisted; only the selected candidate's outcome is recorded.
type Candidate struct {
	Model    AIModel
	Provider ModelProvider

	Score     float64
	Breakdown ScoreBreakdown

	EstimatedCostUSD float64
	EstimatedLatency time.Duration
}

// Attempt records one execution attempt during fallback.
type Attempt struct {
	ProviderID string
	ModelID    string
	Err        error
	Duration   time.Duration
}

// Rejection explains why a model was filtered out before ranking.
type Rejection struct {
	ModelID    string
	ProviderID string
	Reason     string
}

// Filter-stage rejection reasons.
const (
	RejectProviderInactive = "provider inactive"
	RejectCompliance       = "required compliance unmet"
	RejectCircuitOpen      = "circuit open"
	RejectOverBudget       = "estimated cost over budget"
)

// FailureReason classifies a terminal arbitration failure.
type FailureReason string

const (
	ReasonNone         FailureReason = ""
	ReasonNoCandidates FailureReason = "no_eligible_candidates"
	ReasonRateLimited  FailureReason = "rate_limited"
	ReasonOverBudget   FailureReason = "budget_exceeded"
	ReasonExhausted    FailureReason = "all_candidates_exhausted"
	ReasonValidation   FailureReason = "validation_fault"
)

// Result is the immutable outcome of one arbitration call.
type Result struct {
	ID string

	// Selected is nil on total failure. After Execute it is the candidate
	// whose execution actually succeeded, which by construction holds the
	// highest score among candidates that were eligible and succeeded.
	Selected *Candidate

	Ranked   []Candidate
	Rejected []Rejection
	Attempts []Attempt

	Duration      time.Duration
	FailureReason FailureReason
}
