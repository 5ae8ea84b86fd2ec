package orchestrator_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windseeker5/minipass-env-sub001/internal/orchestrator"
)

func TestWorker_RunsSubmittedJobs(t *testing.T) {
	// Arrange
	w := orchestrator.NewWorker(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	done := make(chan struct{})

	// Act
	err := w.Submit("provision acme", func(_ context.Context) error {
		close(done)
		return nil
	})

	// Assert
	require.NoError(t, err)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not executed")
	}
}

func TestWorker_RejectsWhenQueueFull(t *testing.T) {
	// Arrange: queue of one, nothing draining it
	w := orchestrator.NewWorker(1)
	block := func(_ context.Context) error { return nil }

	// Act
	first := w.Submit("a", block)
	second := w.Submit("b", block)

	// Assert
	require.NoError(t, first)
	require.ErrorIs(t, second, orchestrator.ErrQueueFull)
	assert.Equal(t, 1, w.Depth())
	assert.Equal(t, 1, w.Capacity())
}

func TestWorker_ProcessesJobsInOrder(t *testing.T) {
	// Arrange
	w := orchestrator.NewWorker(8)
	var order atomic.Int32
	results := make(chan int32, 3)
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Submit("job", func(_ context.Context) error {
			results <- order.Add(1)
			return nil
		}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Act
	go w.Start(ctx)

	// Assert: all three ran, sequentially
	for want := int32(1); want <= 3; want++ {
		select {
		case got := <-results:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatal("jobs did not drain")
		}
	}
}

func TestWorker_JobErrorDoesNotStopProcessing(t *testing.T) {
	// Arrange
	w := orchestrator.NewWorker(4)
	done := make(chan struct{})
	require.NoError(t, w.Submit("failing", func(_ context.Context) error {
		return errors.New("build exploded")
	}))
	require.NoError(t, w.Submit("following", func(_ context.Context) error {
		close(done)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Act
	go w.Start(ctx)

	// Assert
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker stopped after a failing job")
	}
}

func TestWorker_StopsOnContextCancel(t *testing.T) {
	// Arrange
	w := orchestrator.NewWorker(4)
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(stopped)
	}()

	// Act
	cancel()

	// Assert
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop on cancel")
	}
}
