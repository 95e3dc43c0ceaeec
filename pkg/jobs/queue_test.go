package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingHandler struct {
	mu       sync.Mutex
	failures int
	handled  []Job
}

func (h *countingHandler) handle(ctx context.Context, job Job) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled = append(h.handled, job)
	if h.failures > 0 {
		h.failures--
		return errors.New("transient failure")
	}
	return nil
}

func (h *countingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handled)
}

func TestQueueProcessesJobs(t *testing.T) {
	handler := &countingHandler{}
	q := NewQueue("test", handler.handle, QueueConfig{Workers: 2, BufferSize: 4})
	q.Start(context.Background())
	defer q.Stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(Job{ID: "job", Type: "noop"}))
	}

	require.Eventually(t, func() bool { return handler.count() == 5 }, time.Second, 5*time.Millisecond)
}

func TestQueueRetriesFailedJobs(t *testing.T) {
	handler := &countingHandler{failures: 2}
	q := NewQueue("test", handler.handle, QueueConfig{Workers: 1, MaxRetries: 3, RetryDelay: 5 * time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "flaky", Type: "mail"}))

	// Two failures plus the final successful attempt.
	require.Eventually(t, func() bool { return handler.count() == 3 }, time.Second, 5*time.Millisecond)
	handler.mu.Lock()
	defer handler.mu.Unlock()
	assert.Equal(t, 2, handler.handled[2].Attempt)
}

func TestQueueDropsJobAfterMaxRetries(t *testing.T) {
	handler := &countingHandler{failures: 10}
	q := NewQueue("test", handler.handle, QueueConfig{Workers: 1, MaxRetries: 2, RetryDelay: 5 * time.Millisecond})
	q.Start(context.Background())
	defer q.Stop()

	require.NoError(t, q.Enqueue(Job{ID: "doomed", Type: "mail"}))

	// Initial attempt plus MaxRetries requeues, then the job is dropped.
	require.Eventually(t, func() bool { return handler.count() == 3 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 3, handler.count())
}

func TestQueueEnqueueBeforeStart(t *testing.T) {
	q := NewQueue("test", func(ctx context.Context, job Job) error { return nil }, QueueConfig{})
	err := q.Enqueue(Job{ID: "early"})
	require.Error(t, err)
}

func TestQueueStopIsIdempotent(t *testing.T) {
	q := NewQueue("test", func(ctx context.Context, job Job) error { return nil }, QueueConfig{})
	q.Start(context.Background())
	q.Stop()
	q.Stop()
}
