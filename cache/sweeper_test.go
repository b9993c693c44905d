package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSweeperRunOnce(t *testing.T) {
	c, now := newTestCache(t, 0)
	s := NewSweeper(c, Config{SweepInterval: time.Minute})
	s.now = c.now

	c.Set("short", "v", time.Minute)
	c.Set("long", "v", time.Hour)

	result := s.RunOnce()
	require.Equal(t, 0, result.Expired)

	*now = now.Add(5 * time.Minute)

	result = s.RunOnce()
	require.Equal(t, 1, result.Expired)
	require.Equal(t, estimateSize("v"), result.BytesFreed)
	require.Equal(t, 1, c.Len())
}

func TestSweeperStartStop(t *testing.T) {
	c, _ := newTestCache(t, 0)
	s := NewSweeper(c, Config{SweepInterval: time.Hour})

	s.Start(context.Background())
	s.Start(context.Background()) // second Start is a no-op

	s.Stop()
	s.Stop() // second Stop is a no-op

	// run loop has exited
	select {
	case <-s.doneCh:
	case <-time.After(time.Second):
		t.Fatal("sweeper loop did not exit after Stop")
	}
}

func TestSweeperStopWithoutStart(t *testing.T) {
	c, _ := newTestCache(t, 0)
	s := NewSweeper(c, Config{SweepInterval: time.Hour})

	// must not block waiting for a loop that never ran
	s.Stop()
}

func TestSweeperContextCancel(t *testing.T) {
	c, _ := newTestCache(t, 0)
	s := NewSweeper(c, Config{SweepInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	cancel()

	select {
	case <-s.doneCh:
	case <-time.After(time.Second):
		t.Fatal("sweeper loop did not exit on context cancellation")
	}
}
