package ratelimit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScriptReply(t *testing.T) {
	tests := []struct {
		name      string
		reply     []interface{}
		allowed   bool
		remaining float64
		wantErr   bool
	}{
		{name: "allowed with string remaining", reply: []interface{}{int64(1), "42.5"}, allowed: true, remaining: 42.5},
		{name: "denied with integer remaining", reply: []interface{}{int64(0), int64(3)}, allowed: false, remaining: 3},
		{name: "wrong length", reply: []interface{}{int64(1)}, wantErr: true},
		{name: "bad flag type", reply: []interface{}{"yes", "1"}, wantErr: true},
		{name: "bad remaining", reply: []interface{}{int64(1), "not-a-number"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			allowed, remaining, err := parseScriptReply(tt.reply)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, allowed)
			assert.InDelta(t, tt.remaining, remaining, 1e-9)
		})
	}
}

func TestRedisLimiterUnlimitedWithoutConfig(t *testing.T) {
	l := NewRedis(nil, nil)

	d, err := l.Check(context.Background(), "tenant:t1", DimensionRequests, 1)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestRedisLimiterRejectsLogAlgorithms(t *testing.T) {
	l := NewRedis(nil, map[Dimension]Limit{
		DimensionRequests: {Algorithm: SlidingWindow, Limit: 10},
	})

	_, err := l.Check(context.Background(), "tenant:t1", DimensionRequests, 1)
	assert.Error(t, err)
}
