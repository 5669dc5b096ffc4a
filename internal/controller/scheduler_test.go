package controller

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickSchedulerWaitsForTheClock(t *testing.T) {
	mock := clock.NewMock()
	s := NewTickScheduler(mock, RefreshInterval(30))
	defer s.Stop()

	errc := make(chan error, 1)
	go func() { errc <- s.Wait(context.Background()) }()

	select {
	case <-errc:
		t.Fatal("wait returned before a tick")
	case <-time.After(10 * time.Millisecond):
	}

	mock.Add(RefreshInterval(30))
	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("wait did not return after a tick")
	}
}

func TestTickSchedulerHonoursContext(t *testing.T) {
	s := NewTickScheduler(clock.NewMock(), time.Second)
	defer s.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Wait(ctx), context.Canceled)
}

func TestRefreshInterval(t *testing.T) {
	assert.Equal(t, time.Second/30, RefreshInterval(30))
	assert.Equal(t, time.Second/30, RefreshInterval(0))
	assert.Equal(t, 100*time.Millisecond, RefreshInterval(10))
}
