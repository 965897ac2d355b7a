package arbiter

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bluefunda/model-arbiter/ratelimit"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arbiter.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
weights:
  default:
    performance: 0.4
    cost: 0.3
    compliance: 0.2
    reliability: 0.1
  by_tenant:
    acme:
      performance: 0.1
      cost: 0.7
      compliance: 0.1
      reliability: 0.1
breaker:
  failure_threshold: 3
  open_duration: 15s
  window: 2m
rate_limits:
  requests:
    algorithm: fixed_window
    limit: 100
    window: 1m
  tokens:
    algorithm: token_bucket
    limit: 50000
    refill_rate: 1000
fallback:
  max_attempts: 4
  base_delay: 250ms
  max_delay: 5s
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.InDelta(t, 0.4, cfg.Weights.Default.Performance, 1e-9)
	assert.InDelta(t, 0.7, cfg.Weights.ByTenant["acme"].Cost, 1e-9)
	assert.Equal(t, uint32(3), cfg.Breaker.FailureThreshold)
	assert.Equal(t, 15*time.Second, cfg.Breaker.OpenDuration.Std())
	assert.Equal(t, 2*time.Minute, cfg.Breaker.Window.Std())

	rl := cfg.RateLimits[ratelimit.DimensionRequests]
	assert.Equal(t, ratelimit.FixedWindow, rl.Algorithm)
	assert.Equal(t, 100.0, rl.Limit)
	assert.Equal(t, time.Minute, rl.Window.Std())

	assert.Equal(t, 4, cfg.Fallback.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Fallback.BaseDelay.Std())

	opts := cfg.Options()
	assert.Len(t, opts, 5)
}

func TestLoadConfigRejectsBadWeights(t *testing.T) {
	path := writeConfig(t, `
weights:
  default:
    performance: 0.9
    cost: 0.9
`)

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "sum to 1.0")
}

func TestLoadConfigRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
breaker:
  open_duration: soon
`)

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "invalid duration")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestConfigValidateRateLimits(t *testing.T) {
	tests := []struct {
		name string
		dim  ratelimit.Dimension
		rl   RateLimitConfig
		want string
	}{
		{
			name: "unknown dimension",
			dim:  ratelimit.Dimension("bandwidth"),
			rl:   RateLimitConfig{Algorithm: ratelimit.FixedWindow, Limit: 1, Window: Duration(time.Minute)},
			want: "unknown",
		},
		{
			name: "unknown algorithm",
			dim:  ratelimit.DimensionRequests,
			rl:   RateLimitConfig{Algorithm: "guess", Limit: 1},
			want: "unknown",
		},
		{
			name: "fixed window needs a window",
			dim:  ratelimit.DimensionRequests,
			rl:   RateLimitConfig{Algorithm: ratelimit.FixedWindow, Limit: 1},
			want: "window",
		},
		{
			name: "token bucket needs refill",
			dim:  ratelimit.DimensionTokens,
			rl:   RateLimitConfig{Algorithm: ratelimit.TokenBucket, Limit: 1},
			want: "refill",
		},
		{
			name: "leaky bucket needs drain",
			dim:  ratelimit.DimensionRequests,
			rl:   RateLimitConfig{Algorithm: ratelimit.LeakyBucket, Limit: 1},
			want: "drain",
		},
		{
			name: "limit must be positive",
			dim:  ratelimit.DimensionRequests,
			rl:   RateLimitConfig{Algorithm: ratelimit.SlidingWindow, Limit: 0, Window: Duration(time.Minute)},
			want: "positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{RateLimits: map[ratelimit.Dimension]RateLimitConfig{tt.dim: tt.rl}}
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestConfigBreakerKeepsTransitionHook(t *testing.T) {
	cfg := &Config{}
	cfg.Breaker.FailureThreshold = 2
	require.NoError(t, cfg.Validate())

	metrics := NewMetrics(prometheus.NewRegistry())
	engine, err := New(threeProviderCatalog(),
		append(cfg.Options(), WithMetrics(metrics))...)
	require.NoError(t, err)

	engine.Breakers().Trip("openai", 0)

	got := testutil.ToFloat64(metrics.breakerChanges.WithLabelValues("openai", "open"))
	assert.Equal(t, 1.0, got, "config-built registry must keep the engine's transition hook")
}

func TestConfigOptionsEmptyConfig(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.Validate())

	// Only the scorer option is always produced.
	assert.Len(t, cfg.Options(), 1)
}
