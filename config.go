package arbiter

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bluefunda/model-arbiter/breaker"
	"github.com/bluefunda/model-arbiter/ratelimit"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the YAML-loadable engine configuration. Everything is optional;
// zero values fall back to the engine defaults.
type Config struct {
	Weights struct {
		Default  *Weights             `yaml:"default"`
		ByTenant map[string]Weights   `yaml:"by_tenant"`
		ByTask   map[TaskType]Weights `yaml:"by_task"`
	} `yaml:"weights"`

	Breaker struct {
		FailureThreshold uint32   `yaml:"failure_threshold"`
		OpenDuration     Duration `yaml:"open_duration"`
		Window           Duration `yaml:"window"`
	} `yaml:"breaker"`

	RateLimits map[ratelimit.Dimension]RateLimitConfig `yaml:"rate_limits"`

	Fallback struct {
		MaxAttempts int      `yaml:"max_attempts"`
		BaseDelay   Duration `yaml:"base_delay"`
		MaxDelay    Duration `yaml:"max_delay"`
	} `yaml:"fallback"`
}

// RateLimitConfig configures one quota dimension.
type RateLimitConfig struct {
	Algorithm  ratelimit.Algorithm `yaml:"algorithm"`
	Limit      float64             `yaml:"limit"`
	Window     Duration            `yaml:"window"`
	RefillRate float64             `yaml:"refill_rate"`
	DrainRate  float64             `yaml:"drain_rate"`
}

func (c RateLimitConfig) limit() ratelimit.Limit {
	return ratelimit.Limit{
		Algorithm:  c.Algorithm,
		Limit:      c.Limit,
		Window:     c.Window.Std(),
		RefillRate: c.RefillRate,
		DrainRate:  c.DrainRate,
	}
}

// LoadConfig reads and validates a YAML config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks weights and rate limit configurations.
func (c *Config) Validate() error {
	if c.Weights.Default != nil {
		if err := c.Weights.Default.Validate(); err != nil {
			return fmt.Errorf("weights default: %w", err)
		}
	}
	for tenant, w := range c.Weights.ByTenant {
		if err := w.Validate(); err != nil {
			return fmt.Errorf("weights tenant %s: %w", tenant, err)
		}
	}
	for task, w := range c.Weights.ByTask {
		if err := w.Validate(); err != nil {
			return fmt.Errorf("weights task %s: %w", task, err)
		}
	}
	for dim, rl := range c.RateLimits {
		switch dim {
		case ratelimit.DimensionRequests, ratelimit.DimensionTokens, ratelimit.DimensionCost:
		default:
			return fmt.Errorf("rate limit dimension %q unknown", dim)
		}
		switch rl.Algorithm {
		case ratelimit.FixedWindow, ratelimit.SlidingWindow:
			if rl.Window <= 0 {
				return fmt.Errorf("rate limit %s: %s requires a window", dim, rl.Algorithm)
			}
		case ratelimit.TokenBucket:
			if rl.RefillRate <= 0 {
				return fmt.Errorf("rate limit %s: token bucket requires a refill rate", dim)
			}
		case ratelimit.LeakyBucket:
			if rl.DrainRate <= 0 {
				return fmt.Errorf("rate limit %s: leaky bucket requires a drain rate", dim)
			}
		default:
			return fmt.Errorf("rate limit %s: algorithm %q unknown", dim, rl.Algorithm)
		}
		if rl.Limit <= 0 {
			return fmt.Errorf("rate limit %s: limit must be positive", dim)
		}
	}
	return nil
}

// Options translates the config into engine options.
func (c *Config) Options() []Option {
	var opts []Option

	policy := WeightPolicy{Default: DefaultWeights()}
	if c.Weights.Default != nil {
		policy.Default = *c.Weights.Default
	}
	if len(c.Weights.ByTenant) > 0 {
		policy.ByTenant = c.Weights.ByTenant
	}
	if len(c.Weights.ByTask) > 0 {
		policy.ByTaskType = c.Weights.ByTask
	}
	opts = append(opts, WithScorer(NewScorer(policy)))

	// WithBreakerSettings rather than a prebuilt registry, so the engine's
	// metrics and transition logging stay wired.
	if c.Breaker.FailureThreshold > 0 || c.Breaker.OpenDuration > 0 || c.Breaker.Window > 0 {
		opts = append(opts, WithBreakerSettings(breaker.Config{
			FailureThreshold: c.Breaker.FailureThreshold,
			OpenDuration:     c.Breaker.OpenDuration.Std(),
			Window:           c.Breaker.Window.Std(),
		}))
	}

	if len(c.RateLimits) > 0 {
		defaults := make(map[ratelimit.Dimension]ratelimit.Limit, len(c.RateLimits))
		for dim, rl := range c.RateLimits {
			defaults[dim] = rl.limit()
		}
		opts = append(opts, WithRateLimiter(ratelimit.New(defaults)))
	}

	if c.Fallback.MaxAttempts > 0 {
		opts = append(opts, WithMaxFallbackAttempts(c.Fallback.MaxAttempts))
	}
	if c.Fallback.BaseDelay > 0 {
		opts = append(opts, WithFallbackBackoff(c.Fallback.BaseDelay.Std(), c.Fallback.MaxDelay.Std()))
	}

	return opts
}
