package middleware

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	arbiter "github.com/bluefunda/model-arbiter"
)

type fakeAdapter struct {
	delay  time.Duration
	events []arbiter.Event
}

func (a *fakeAdapter) Name() string        { return "fake" }
func (a *fakeAdapter) Models() []string    { return nil }
func (a *fakeAdapter) SupportsTools() bool { return false }

func (a *fakeAdapter) Complete(ctx context.Context, req *arbiter.Request) (*arbiter.Response, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(a.delay):
	}
	return &arbiter.Response{Provider: "fake", Model: req.Model}, nil
}

func (a *fakeAdapter) Stream(ctx context.Context, _ *arbiter.Request) (<-chan arbiter.Event, error) {
	ch := make(chan arbiter.Event)
	go func() {
		defer close(ch)
		for _, ev := range a.events {
			time.Sleep(a.delay)
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (a *fakeAdapter) CheckHealth(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(a.delay):
		return nil
	}
}

func TestTimeoutPassesFastCalls(t *testing.T) {
	a := NewTimeout(time.Second).Wrap(&fakeAdapter{})

	resp, err := a.Complete(context.Background(), &arbiter.Request{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "m", resp.Model)
	assert.NoError(t, a.CheckHealth(context.Background()))
}

func TestTimeoutCancelsSlowCompletion(t *testing.T) {
	a := NewTimeout(20 * time.Millisecond).Wrap(&fakeAdapter{delay: 500 * time.Millisecond})

	_, err := a.Complete(context.Background(), &arbiter.Request{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTimeoutSurfacesMidStreamDeadline(t *testing.T) {
	inner := &fakeAdapter{
		delay: 30 * time.Millisecond,
		events: []arbiter.Event{
			{Type: arbiter.EventContentDelta, Content: "a"},
			{Type: arbiter.EventContentDelta, Content: "b"},
			{Type: arbiter.EventContentDelta, Content: "c"},
		},
	}
	a := NewTimeout(50 * time.Millisecond).Wrap(inner)

	ch, err := a.Stream(context.Background(), &arbiter.Request{})
	require.NoError(t, err)

	var last arbiter.Event
	for ev := range ch {
		last = ev
	}
	require.Equal(t, arbiter.EventError, last.Type)
	assert.ErrorIs(t, last.Error, context.DeadlineExceeded)
}

func TestTimeoutStreamReleasesAbandonedConsumer(t *testing.T) {
	defer goleak.VerifyNone(t)

	inner := &fakeAdapter{
		delay: 10 * time.Millisecond,
		events: []arbiter.Event{
			{Type: arbiter.EventContentDelta, Content: "a"},
			{Type: arbiter.EventContentDelta, Content: "b"},
			{Type: arbiter.EventContentDelta, Content: "c"},
			{Type: arbiter.EventContentDelta, Content: "d"},
		},
	}
	a := NewTimeout(30 * time.Millisecond).Wrap(inner)

	ch, err := a.Stream(context.Background(), &arbiter.Request{})
	require.NoError(t, err)

	// Read one event, then walk away without draining the channel. The
	// forwarder and the inner stream must both unwind on the deadline.
	<-ch
	time.Sleep(100 * time.Millisecond)
}

func TestTimeoutForwardsWholeStream(t *testing.T) {
	inner := &fakeAdapter{
		events: []arbiter.Event{
			{Type: arbiter.EventContentDelta, Content: "hi"},
			{Type: arbiter.EventDone},
		},
	}
	a := NewTimeout(time.Second).Wrap(inner)

	ch, err := a.Stream(context.Background(), &arbiter.Request{})
	require.NoError(t, err)

	var got []arbiter.Event
	for ev := range ch {
		got = append(got, ev)
	}
	require.Len(t, got, 2)
	assert.Equal(t, arbiter.EventDone, got[1].Type)
}

func TestLoggingPassesThrough(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := NewLogging(logger).Wrap(&fakeAdapter{})

	resp, err := a.Complete(context.Background(), &arbiter.Request{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "fake", resp.Provider)

	ch, err := a.Stream(context.Background(), &arbiter.Request{})
	require.NoError(t, err)
	for range ch {
	}
}
