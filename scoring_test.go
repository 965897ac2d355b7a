package arbiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeightsValidate(t *testing.T) {
	tests := []struct {
		name    string
		weights Weights
		wantErr bool
	}{
		{name: "defaults", weights: DefaultWeights()},
		{name: "custom sum to one", weights: Weights{Performance: 0.5, Cost: 0.5}},
		{name: "sum too low", weights: Weights{Performance: 0.5, Cost: 0.3}, wantErr: true},
		{name: "sum too high", weights: Weights{Performance: 0.6, Cost: 0.6}, wantErr: true},
		{name: "negative weight", weights: Weights{Performance: 1.2, Cost: -0.2}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.weights.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestWeightPolicyResolvePrecedence(t *testing.T) {
	tenantW := Weights{Performance: 1}
	taskW := Weights{Cost: 1}
	defaultW := DefaultWeights()

	p := WeightPolicy{
		Default:    defaultW,
		ByTenant:   map[string]Weights{"acme": tenantW},
		ByTaskType: map[TaskType]Weights{TaskCode: taskW},
	}

	assert.Equal(t, tenantW, p.Resolve("acme", TaskCode), "tenant override wins over task")
	assert.Equal(t, taskW, p.Resolve("other", TaskCode))
	assert.Equal(t, defaultW, p.Resolve("other", TaskChat))
}

func TestScoreIsPure(t *testing.T) {
	s := NewScorer(WeightPolicy{Default: DefaultWeights()})
	m := AIModel{ID: "m1", ProviderID: "p1"}
	rc := &RequestContext{TenantID: "t1", TaskType: TaskChat}
	sig := Signals{
		SuccessRate:      0.98,
		LatencyP95:       300 * time.Millisecond,
		EstimatedCostUSD: 0.004,
		CompliancePass:   true,
	}

	total1, b1 := s.Score(m, rc, sig)
	total2, b2 := s.Score(m, rc, sig)

	assert.Equal(t, total1, total2)
	assert.Equal(t, b1, b2)
}

func TestScoreBreakdownMatchesWeights(t *testing.T) {
	w := Weights{Performance: 0.35, Cost: 0.25, Compliance: 0.2, Reliability: 0.2}
	s := NewScorer(WeightPolicy{Default: w})
	rc := &RequestContext{TenantID: "t1"}

	total, b := s.Score(AIModel{}, rc, Signals{SuccessRate: 1, CompliancePass: true})

	want := w.Performance*b.Performance + w.Cost*b.Cost + w.Compliance*b.Compliance + w.Reliability*b.Reliability
	assert.InDelta(t, want, total, 1e-9)
	assert.Equal(t, b.Total, total)
}

func TestSubScoresStayInRange(t *testing.T) {
	s := NewScorer(WeightPolicy{Default: DefaultWeights()},
		WithPerformanceScore(func(Signals) float64 { return 250 }),
		WithCostScore(func(Signals) float64 { return -10 }),
	)
	rc := &RequestContext{}

	_, b := s.Score(AIModel{}, rc, Signals{})

	assert.Equal(t, 100.0, b.Performance)
	assert.Equal(t, 0.0, b.Cost)
}

func TestZeroCostScoresMaximal(t *testing.T) {
	assert.Equal(t, 100.0, defaultCostScore(Signals{EstimatedCostUSD: 0}))
	assert.Less(t, defaultCostScore(Signals{EstimatedCostUSD: 0.05}), 100.0)

	// Strictly decreasing in cost.
	cheap := defaultCostScore(Signals{EstimatedCostUSD: 0.001})
	pricey := defaultCostScore(Signals{EstimatedCostUSD: 0.1})
	assert.Greater(t, cheap, pricey)
}

func TestComplianceScoreGatesOnRequired(t *testing.T) {
	assert.Equal(t, 0.0, defaultComplianceScore(Signals{CompliancePass: false, PreferredMet: 3, PreferredTotal: 3}))
	assert.Equal(t, 100.0, defaultComplianceScore(Signals{CompliancePass: true}))
	assert.InDelta(t, 50.0, defaultComplianceScore(Signals{CompliancePass: true, PreferredMet: 1, PreferredTotal: 2}), 1e-9)
}

func TestReliabilityScoreDecaysPerIncident(t *testing.T) {
	clean := defaultReliabilityScore(Signals{})
	require.Equal(t, 100.0, clean)

	one := defaultReliabilityScore(Signals{IncidentCount: 1})
	assert.InDelta(t, 85.0, one, 1e-9)

	two := defaultReliabilityScore(Signals{IncidentCount: 2})
	assert.InDelta(t, 72.25, two, 1e-9)

	failing := defaultReliabilityScore(Signals{RecentFailureRate: 0.5})
	assert.InDelta(t, 50.0, failing, 1e-9)
}

func TestPerformanceScoreBlendsSuccessAndLatency(t *testing.T) {
	// Perfect success, reference latency: 70 + 0.3*50.
	got := defaultPerformanceScore(Signals{SuccessRate: 1, LatencyP95: referenceLatency})
	assert.InDelta(t, 85.0, got, 1e-9)

	// Latency score degrades as p95 grows.
	slow := defaultPerformanceScore(Signals{SuccessRate: 1, LatencyP95: 5 * time.Second})
	assert.Less(t, slow, got)
}

func TestCandidateRankingIsDeterministic(t *testing.T) {
	a := Candidate{
		Model:            AIModel{ID: "m-a"},
		Provider:         ModelProvider{ID: "p-a"},
		Score:            90,
		EstimatedCostUSD: 0.02,
	}
	b := Candidate{
		Model:            AIModel{ID: "m-b"},
		Provider:         ModelProvider{ID: "p-b"},
		Score:            90,
		EstimatedCostUSD: 0.01,
	}
	c := Candidate{
		Model:    AIModel{ID: "m-c"},
		Provider: ModelProvider{ID: "p-c"},
		Score:    95,
	}

	assert.True(t, candidateLess(c, a), "higher score first")
	assert.True(t, candidateLess(b, a), "equal score: cheaper first")

	tieA := Candidate{Provider: ModelProvider{ID: "p-a"}, Score: 90, EstimatedLatency: time.Second}
	tieB := Candidate{Provider: ModelProvider{ID: "p-a"}, Score: 90, EstimatedLatency: 2 * time.Second}
	assert.True(t, candidateLess(tieA, tieB), "equal score and cost: lower latency first")

	idA := Candidate{Provider: ModelProvider{ID: "p-a"}, Score: 90}
	idB := Candidate{Provider: ModelProvider{ID: "p-b"}, Score: 90}
	assert.True(t, candidateLess(idA, idB), "full tie: provider id order")
}
