package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextWake_AlignsToIntervalPlusOffset(t *testing.T) {
	s := NewAlignedScheduler(context.Background(), "test", 5*time.Minute, 10*time.Second, 0)

	now := time.Date(2026, 8, 29, 10, 2, 30, 0, time.UTC)
	wakeAt, wait := s.nextWake(now)

	assert.Equal(t, time.Date(2026, 8, 29, 10, 5, 10, 0, time.UTC), wakeAt)
	assert.Equal(t, 2*time.Minute+40*time.Second, wait)
}

func TestNextWake_JustPastBoundaryWaitsFullInterval(t *testing.T) {
	s := NewAlignedScheduler(context.Background(), "test", 5*time.Minute, 10*time.Second, 0)

	// 10:05:11 刚过上一个唤醒点, 下一次是 10:10:10。
	now := time.Date(2026, 8, 29, 10, 5, 11, 0, time.UTC)
	wakeAt, _ := s.nextWake(now)
	assert.Equal(t, time.Date(2026, 8, 29, 10, 10, 10, 0, time.UTC), wakeAt)
}

func TestRunOnce_AppliesBudget(t *testing.T) {
	s := NewAlignedScheduler(context.Background(), "test", time.Minute, 0, 50*time.Millisecond)

	done := make(chan struct{})
	s.runOnce(func(ctx context.Context) {
		defer close(done)
		deadline, ok := ctx.Deadline()
		require.True(t, ok, "budgeted runs carry a deadline")
		assert.WithinDuration(t, time.Now().Add(50*time.Millisecond), deadline, 25*time.Millisecond)
	})
	<-done
}

func TestStart_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewAlignedScheduler(ctx, "test", time.Hour, 0, 0)

	stopped := make(chan struct{})
	go func() {
		s.Start(func(context.Context) {})
		close(stopped)
	}()

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}

func TestStart_RunImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewAlignedScheduler(ctx, "test", time.Hour, 0, 0)
	s.RunImmediately = true

	ran := make(chan struct{}, 1)
	go s.Start(func(context.Context) {
		select {
		case ran <- struct{}{}:
		default:
		}
		cancel()
	})

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("immediate run did not fire")
	}
}
