package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestDoSkipsWorkForDoneContext(t *testing.T) {
	defer goleak.VerifyNone(t)
	l := NewLoop()
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	err := l.Do(ctx, func() { ran = true })
	require.True(t, errors.Is(err, context.Canceled))

	require.NoError(t, l.Do(context.Background(), func() {}))
	require.False(t, ran)
}

func TestDoAbandonsQueuedWork(t *testing.T) {
	defer goleak.VerifyNone(t)
	l := NewLoop()
	defer l.Close()

	release := make(chan struct{})
	require.True(t, l.Post(func() { <-release }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	ran := false
	err := l.Do(ctx, func() { ran = true })
	require.True(t, errors.Is(err, context.DeadlineExceeded))

	close(release)
	require.NoError(t, l.Do(context.Background(), func() {}))
	require.False(t, ran)
}

func TestCallWaitsForStartedWork(t *testing.T) {
	defer goleak.VerifyNone(t)
	l := NewLoop()
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	v, err := call(ctx, l, func() (int, error) {
		close(started)
		cancel()
		return 7, nil
	})
	<-started
	require.NoError(t, err)
	require.Equal(t, 7, v)
}

func TestCallReturnsErrorsAndPanics(t *testing.T) {
	defer goleak.VerifyNone(t)
	l := NewLoop()
	defer l.Close()

	boom := errors.New("boom")
	_, err := call(context.Background(), l, func() (string, error) { return "", boom })
	require.Same(t, boom, err)

	require.PanicsWithValue(t, "bad state", func() {
		_ = l.Do(context.Background(), func() { panic("bad state") })
	})
	require.NoError(t, l.Do(context.Background(), func() {}), "loop survives a panicking call")
}

func TestDoAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t)
	l := NewLoop()
	l.Close()
	require.True(t, errors.Is(l.Do(context.Background(), func() {}), ErrLoopClosed))
}
