package middleware

import (
	"context"
	"log/slog"
	"time"

	arbiter "github.com/bluefunda/model-arbiter"
)

// Logging logs every adapter call with its duration and outcome.
type Logging struct {
	logger *slog.Logger
}

// NewLogging creates a logging middleware. A nil logger uses slog.Default.
func NewLogging(logger *slog.Logger) *Logging {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logging{logger: logger}
}

// Wrap implements arbiter.Middleware.
func (m *Logging) Wrap(next arbiter.Adapter) arbiter.Adapter {
	return &loggingAdapter{
		Adapter: next,
		logger:  m.logger.With("provider", next.Name()),
	}
}

type loggingAdapter struct {
	arbiter.Adapter
	logger *slog.Logger
}

func (a *loggingAdapter) Complete(ctx context.Context, req *arbiter.Request) (*arbiter.Response, error) {
	start := time.Now()
	resp, err := a.Adapter.Complete(ctx, req)
	if err != nil {
		a.logger.Warn("completion failed",
			"model", req.Model,
			"duration", time.Since(start),
			"error", err)
		return nil, err
	}

	attrs := []any{"model", req.Model, "duration", time.Since(start)}
	if resp.Usage != nil {
		attrs = append(attrs, "tokens", resp.Usage.TotalTokens)
	}
	a.logger.Debug("completion ok", attrs...)
	return resp, nil
}

func (a *loggingAdapter) Stream(ctx context.Context, req *arbiter.Request) (<-chan arbiter.Event, error) {
	start := time.Now()
	ch, err := a.Adapter.Stream(ctx, req)
	if err != nil {
		a.logger.Warn("stream failed",
			"model", req.Model,
			"duration", time.Since(start),
			"error", err)
		return nil, err
	}
	a.logger.Debug("stream established", "model", req.Model, "duration", time.Since(start))
	return ch, nil
}
