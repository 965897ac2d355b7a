package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	arbiter "github.com/bluefunda/model-arbiter"
)

func seeded() *Static {
	return NewStatic().
		AddProvider(arbiter.ModelProvider{ID: "openai", Active: true}).
		AddProvider(arbiter.ModelProvider{ID: "anthropic", Active: true}).
		AddModel(arbiter.AIModel{
			ID:         "gpt-4o",
			ProviderID: "openai",
			Capabilities: map[arbiter.Capability]int{
				arbiter.CapabilityChat:   90,
				arbiter.CapabilityVision: 85,
			},
			Regions: []string{"us-east", "eu-west"},
			Active:  true,
		}).
		AddModel(arbiter.AIModel{
			ID:         "claude-sonnet-4-20250514",
			ProviderID: "anthropic",
			Capabilities: map[arbiter.Capability]int{
				arbiter.CapabilityChat:   92,
				arbiter.CapabilityVision: 60,
			},
			Regions: []string{"us-east"},
			Active:  true,
		}).
		AddModel(arbiter.AIModel{
			ID:         "legacy-model",
			ProviderID: "openai",
			Active:     false,
		})
}

func TestActiveModelsFiltersAndSorts(t *testing.T) {
	models, err := seeded().ActiveModels(context.Background(), arbiter.Criteria{})
	require.NoError(t, err)

	require.Len(t, models, 2, "inactive models are excluded")
	assert.Equal(t, "claude-sonnet-4-20250514", models[0].ID, "deterministic id order")
	assert.Equal(t, "gpt-4o", models[1].ID)
}

func TestActiveModelsCapabilityMinimum(t *testing.T) {
	models, err := seeded().ActiveModels(context.Background(), arbiter.Criteria{
		Capabilities: []arbiter.CapabilityRequirement{
			{Capability: arbiter.CapabilityVision, MinScore: 70},
		},
	})
	require.NoError(t, err)

	require.Len(t, models, 1)
	assert.Equal(t, "gpt-4o", models[0].ID)
}

func TestActiveModelsRegionAndProviderFilters(t *testing.T) {
	cat := seeded()

	models, err := cat.ActiveModels(context.Background(), arbiter.Criteria{Regions: []string{"eu-west"}})
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "gpt-4o", models[0].ID)

	models, err = cat.ActiveModels(context.Background(), arbiter.Criteria{Deny: []string{"openai"}})
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "anthropic", models[0].ProviderID)

	models, err = cat.ActiveModels(context.Background(), arbiter.Criteria{Allow: []string{"openai"}})
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "openai", models[0].ProviderID)
}

func TestProviderLookup(t *testing.T) {
	cat := seeded()

	p, ok := cat.Provider("openai")
	require.True(t, ok)
	assert.Equal(t, "openai", p.ID)

	_, ok = cat.Provider("mystery")
	assert.False(t, ok)
}

func TestSetHealth(t *testing.T) {
	cat := seeded()
	h := arbiter.HealthSnapshot{
		Status:      arbiter.StatusDegraded,
		SuccessRate: 0.8,
		LatencyP95:  2 * time.Second,
		CheckedAt:   time.Now(),
	}

	cat.SetHealth("openai", h)
	p, _ := cat.Provider("openai")
	assert.Equal(t, arbiter.StatusDegraded, p.Health.Status)
	assert.Equal(t, 0.8, p.Health.SuccessRate)

	// Unknown provider is a no-op.
	cat.SetHealth("mystery", h)
}

func TestSetActive(t *testing.T) {
	cat := seeded()

	cat.SetActive("gpt-4o", false)
	models, err := cat.ActiveModels(context.Background(), arbiter.Criteria{})
	require.NoError(t, err)
	require.Len(t, models, 1)

	cat.SetActive("gpt-4o", true)
	models, err = cat.ActiveModels(context.Background(), arbiter.Criteria{})
	require.NoError(t, err)
	assert.Len(t, models, 2)
}
