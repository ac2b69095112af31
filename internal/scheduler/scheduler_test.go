package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJitterPick(t *testing.T) {
	j := Jitter{Min: 7 * time.Second, Max: 19 * time.Second}
	for i := 0; i < 1000; i++ {
		d := j.pick()
		assert.GreaterOrEqual(t, d, 7*time.Second)
		assert.LessOrEqual(t, d, 19*time.Second)
	}

	assert.Equal(t, time.Duration(0), Jitter{}.pick())
	assert.Equal(t, 3*time.Second, Jitter{Min: 3 * time.Second, Max: time.Second}.pick())
	assert.Equal(t, time.Duration(0), Jitter{Min: -time.Second}.pick())
}

func TestStart_InvalidSpec(t *testing.T) {
	_, err := Start(context.Background(), "not a cron spec", Jitter{}, func(context.Context) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a cron spec")

	_, err = Start(context.Background(), "@every 1h", Jitter{}, nil)
	assert.Error(t, err)
}

func TestStart_RunsAndStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	s, err := Start(ctx, "@every 1s", Jitter{}, func(context.Context) {
		runs.Add(1)
	}, WithRunAtStart(), WithLocation(time.UTC))
	require.NoError(t, err)
	assert.False(t, s.Next().IsZero())

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestStart_SkipsOverlappingRuns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var active, maxActive, runs atomic.Int32
	release := make(chan struct{})
	_, err := Start(ctx, "@every 1s", Jitter{}, func(context.Context) {
		n := active.Add(1)
		if n > maxActive.Load() {
			maxActive.Store(n)
		}
		runs.Add(1)
		<-release
		active.Add(-1)
	}, WithRunAtStart())
	require.NoError(t, err)

	// Let at least two cron triggers pass while the first run blocks.
	time.Sleep(2500 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
	close(release)

	assert.Equal(t, int32(1), maxActive.Load())
}

func TestStart_CancelDuringJitter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var runs atomic.Int32
	s, err := Start(ctx, "@every 1h", Jitter{Min: time.Hour, Max: time.Hour}, func(context.Context) {
		runs.Add(1)
	}, WithRunAtStart())
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	cancel()
	<-s.Done()
	assert.Equal(t, int32(0), runs.Load())
}

func TestStart_DoneWaitsForStartupRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{})
	var finished atomic.Bool
	s, err := Start(ctx, "@every 1h", Jitter{}, func(context.Context) {
		close(started)
		time.Sleep(300 * time.Millisecond)
		finished.Store(true)
	}, WithRunAtStart())
	require.NoError(t, err)

	<-started
	cancel()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.True(t, finished.Load(), "Done closed before the startup run returned")
}
