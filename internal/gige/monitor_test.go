package gige

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestThrottle_EmitSchedule(t *testing.T) {
	th := NewThrottle(0, 0)

	var emitted []uint64
	var suppressed []uint64
	for i := 0; i < 2500; i++ {
		n, emit, s := th.Hit()
		if emit {
			emitted = append(emitted, n)
			if n > 10 {
				suppressed = append(suppressed, s)
			}
		}
	}

	assert.Equal(t, []uint64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 1010, 2010}, emitted)
	assert.Equal(t, []uint64{999, 999}, suppressed)
	assert.EqualValues(t, 2500, th.Streak())
}

func TestThrottle_ResetRestartsStreak(t *testing.T) {
	th := NewThrottle(10, 1000)
	for i := 0; i < 1500; i++ {
		th.Hit()
	}

	assert.EqualValues(t, 1500, th.Reset())
	assert.EqualValues(t, 0, th.Streak())

	// First occurrence of a new streak is logged again
	n, emit, _ := th.Hit()
	assert.EqualValues(t, 1, n)
	assert.True(t, emit)

	// Summary baseline restarted with the streak
	for i := 0; i < 1008; i++ {
		th.Hit()
	}
	n, emit, s := th.Hit()
	assert.EqualValues(t, 1010, n)
	assert.True(t, emit)
	assert.EqualValues(t, 999, s)
}

func TestCalculateBackoff(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 5, RetryDelay: 1, MaxRetryDelay: 8}
	tests := []struct {
		attempt int
		want    int64
	}{
		{1, 1},
		{2, 2},
		{3, 4},
		{4, 8},
		{5, 8},
	}
	for _, tt := range tests {
		assert.EqualValues(t, tt.want, calculateBackoff(tt.attempt, cfg), "attempt %d", tt.attempt)
	}

	fixed := DefaultStreamRetry()
	assert.Equal(t, fixed.RetryDelay, calculateBackoff(1, fixed))
}

func TestRunWithRetry_CountsRetries(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 2, RetryDelay: 1, MaxRetryDelay: 1}
	boom := errors.New("boom")

	tests := []struct {
		name        string
		failures    int
		wantErr     bool
		wantCalls   int
		wantRetries uint32
	}{
		{"first try succeeds", 0, false, 1, 0},
		{"succeeds on last retry", 2, false, 3, 2},
		{"gives up", 5, true, 3, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var retries atomic.Uint32
			state := &RetryState{Retries: &retries}
			calls := 0

			err := RunWithRetry(context.Background(), func(context.Context, int) error {
				calls++
				if calls <= tt.failures {
					return boom
				}
				return nil
			}, cfg, state, zerolog.Nop())

			if tt.wantErr {
				assert.ErrorIs(t, err, boom)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, calls)
			assert.Equal(t, tt.wantRetries, retries.Load())
		})
	}
}
