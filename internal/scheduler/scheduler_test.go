package scheduler

import (
	"context"
	"math"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/graphbench/internal/bench"
)

func TestOffsetMsMatchesFormula(t *testing.T) {
	for _, rate := range []int{1, 3, 7, 10, 250, 1000, 4999} {
		var prev uint64
		for i := uint64(0); i < 500; i++ {
			got := OffsetMs(i, rate)
			want := uint64(math.Floor(float64(i) * float64(1_000_000_000/uint64(rate)) / 1e6))
			require.Equal(t, want, got, "rate=%d i=%d", rate, i)
			require.GreaterOrEqual(t, got, prev)
			prev = got
		}
	}
	assert.Equal(t, uint64(400), OffsetMs(4, 10))
}

func TestComputeOffsetMsSign(t *testing.T) {
	start := time.Now()
	m := Message[int]{StartTime: start, OffsetMs: 100}

	early := ComputeOffsetMs(m, start.Add(40*time.Millisecond))
	assert.Equal(t, int64(60), early)

	onTime := ComputeOffsetMs(m, start.Add(100*time.Millisecond))
	assert.Equal(t, int64(0), onTime)

	late := ComputeOffsetMs(m, start.Add(350*time.Millisecond))
	assert.Equal(t, int64(-250), late)
}

func TestScheduleDeliversInOrder(t *testing.T) {
	out := make(chan Message[string], 16)
	items := []string{"a", "b", "c", "d", "e"}

	n, err := Schedule(context.Background(), 10, out, slices.Values(items))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	var got []string
	var prev uint64
	var anchor time.Time
	for m := range out {
		got = append(got, m.Payload)
		require.GreaterOrEqual(t, m.OffsetMs, prev)
		prev = m.OffsetMs
		if anchor.IsZero() {
			anchor = m.StartTime
		}
		require.Equal(t, anchor, m.StartTime)
	}
	assert.Equal(t, items, got)
	assert.Equal(t, uint64(400), prev)
}

func TestScheduleRejectsInvalidRate(t *testing.T) {
	out := make(chan Message[int], 1)
	_, err := Schedule(context.Background(), 0, out, slices.Values([]int{1}))
	require.ErrorIs(t, err, bench.ErrInvalidRate)
	_, open := <-out
	assert.False(t, open, "channel must be closed")
}

func TestScheduleStopsWhenReceiverGone(t *testing.T) {
	out := make(chan Message[int])
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var sent int
	var err error
	go func() {
		sent, err = Schedule(ctx, 100, out, slices.Values([]int{1, 2, 3}))
		close(done)
	}()
	<-out
	cancel()
	<-done
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, sent)
}
