package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAddJobRejectsBadSpec(t *testing.T) {
	s := New()
	err := s.AddJob("not a spec", "broken", func(ctx context.Context) error { return nil })
	require.Error(t, err)
	require.False(t, s.IsRunning())
}

func TestJobRuns(t *testing.T) {
	s := New()
	var runs atomic.Int32
	require.NoError(t, s.AddJob("@every 1s", "tick", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))
	require.False(t, s.IsRunning(), "registered but not started")
	require.Error(t, s.Check(context.Background()))

	s.Start()
	defer s.Stop()
	require.True(t, s.IsRunning())
	require.NoError(t, s.Check(context.Background()))
	require.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
}

func TestStopMarksNotRunning(t *testing.T) {
	s := New()
	s.Start()
	require.NoError(t, s.Check(context.Background()))
	s.Stop()
	require.False(t, s.IsRunning())
	require.Error(t, s.Check(context.Background()))
}
