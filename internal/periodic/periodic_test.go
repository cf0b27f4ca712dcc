package periodic

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunInvokesTaskUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32

	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, 5*time.Millisecond, func(context.Context) {
			calls.Add(1)
		})
	}()

	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestRunRejectsNonPositiveInterval(t *testing.T) {
	err := Run(context.Background(), 0, func(context.Context) {})
	assert.Error(t, err)
}

func TestRunWithCancelledContextNeverCallsTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := Run(ctx, time.Hour, func(context.Context) { called = true })

	assert.NoError(t, err)
	assert.False(t, called)
}
