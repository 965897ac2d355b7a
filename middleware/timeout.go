// Package middleware provides adapter wrappers applied by the engine's
// middleware chain: per-call timeouts and structured request logging.
// Retry and circuit breaking are not middleware concerns here; the engine's
// fallback loop and breaker registry own them so their state stays visible
// to arbitration.
package middleware

import (
	"context"
	"time"

	arbiter "github.com/bluefunda/model-arbiter"
)

// Timeout bounds every adapter call. For streams the timeout covers the
// whole stream lifetime, not just establishment.
type Timeout struct {
	timeout time.Duration
}

// NewTimeout creates a timeout middleware.
func NewTimeout(timeout time.Duration) *Timeout {
	return &Timeout{timeout: timeout}
}

// Wrap implements arbiter.Middleware.
func (m *Timeout) Wrap(next arbiter.Adapter) arbiter.Adapter {
	return &timeoutAdapter{
		Adapter: next,
		timeout: m.timeout,
	}
}

type timeoutAdapter struct {
	arbiter.Adapter
	timeout time.Duration
}

func (a *timeoutAdapter) Complete(ctx context.Context, req *arbiter.Request) (*arbiter.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	return a.Adapter.Complete(ctx, req)
}

func (a *timeoutAdapter) CheckHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	return a.Adapter.CheckHealth(ctx)
}

func (a *timeoutAdapter) Stream(ctx context.Context, req *arbiter.Request) (<-chan arbiter.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)

	ch, err := a.Adapter.Stream(ctx, req)
	if err != nil {
		cancel()
		return nil, err
	}

	// Forward events until the stream closes or the deadline fires; a
	// deadline mid-stream surfaces as an error event, not a dropped channel.
	// The buffer holds the final error event so a consumer that walked away
	// never strands this goroutine on the send.
	outCh := make(chan arbiter.Event, 1)
	emitErr := func() {
		select {
		case outCh <- arbiter.Event{Type: arbiter.EventError, Error: ctx.Err()}:
		default:
		}
	}
	go func() {
		defer close(outCh)
		defer cancel()

		for {
			select {
			case <-ctx.Done():
				emitErr()
				return
			case event, ok := <-ch:
				if !ok {
					return
				}
				select {
				case outCh <- event:
				case <-ctx.Done():
					emitErr()
					return
				}
			}
		}
	}()

	return outCh, nil
}
