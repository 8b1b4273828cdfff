package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codepromptu/codepromptu/internal/config"
	"github.com/codepromptu/codepromptu/internal/monitoring"
)

// stubIngestor fails the first failN calls, then succeeds.
type stubIngestor struct {
	mu    sync.Mutex
	calls int
	failN int
}

func (s *stubIngestor) Ingest(_ context.Context, _ *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failN {
		return errors.New("store unavailable")
	}
	return nil
}

func (s *stubIngestor) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestPipeline(ingestor Ingestor) (*Pipeline, *MemoryQueue) {
	q := NewMemoryQueue(100, time.Hour, nil)
	cfg := config.CaptureConfig{
		PrimaryTimeout: time.Second,
		DrainInterval:  time.Hour, // drains are driven by hand in tests
	}
	return NewPipeline(ingestor, q, monitoring.NewMetrics(), cfg), q
}

func TestSubmitPrimaryPath(t *testing.T) {
	ing := &stubIngestor{}
	p, q := newTestPipeline(ing)

	p.Submit(&Record{RequestID: "req-1"})
	require.NoError(t, p.Shutdown(context.Background()))

	assert.Equal(t, 1, ing.callCount())
	n, err := q.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "successful captures never touch the fallback queue")
}

func TestSubmitParksOnPrimaryFailure(t *testing.T) {
	ing := &stubIngestor{failN: 1}
	p, q := newTestPipeline(ing)

	p.Submit(&Record{RequestID: "req-1"})
	require.NoError(t, p.Shutdown(context.Background()))

	n, err := q.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rec, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "req-1", rec.RequestID)
	assert.False(t, rec.EnqueuedAt.IsZero())
}

func TestDrainOnceRecovers(t *testing.T) {
	ing := &stubIngestor{failN: 1}
	p, _ := newTestPipeline(ing)
	ctx := context.Background()

	p.Submit(&Record{RequestID: "req-1"})
	waitInFlight(t, p)

	p.DrainOnce(ctx)

	assert.Equal(t, 2, ing.callCount())
	assert.Zero(t, p.QueueDepth(ctx))
}

func TestDrainOnceBacksOffFailedRecord(t *testing.T) {
	ing := &stubIngestor{failN: 100}
	p, q := newTestPipeline(ing)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, &Record{RequestID: "req-1", EnqueuedAt: time.Now()}))
	p.DrainOnce(ctx)

	// The record went back with a future NextAttempt; the next pass skips it.
	assert.Equal(t, 1, p.QueueDepth(ctx))
	p.DrainOnce(ctx)
	assert.Equal(t, 1, ing.callCount(), "record under backoff is not retried")

	rec, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Attempts)
	assert.True(t, rec.NextAttempt.After(time.Now()))
}

func TestDrainDropsAfterAttemptCap(t *testing.T) {
	ing := &stubIngestor{failN: 100}
	p, q := newTestPipeline(ing)
	ctx := context.Background()

	require.NoError(t, q.Push(ctx, &Record{
		RequestID:  "req-1",
		EnqueuedAt: time.Now(),
		Attempts:   maxDrainAttempts - 1,
	}))
	p.DrainOnce(ctx)

	assert.Zero(t, p.QueueDepth(ctx), "record past the retry cap is dropped")
}

func TestDrainOnceBoundedByInitialLength(t *testing.T) {
	ing := &stubIngestor{failN: 100}
	p, q := newTestPipeline(ing)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Push(ctx, &Record{RequestID: id, EnqueuedAt: time.Now()}))
	}
	p.DrainOnce(ctx)

	// One attempt each, never a second attempt within the same pass.
	assert.Equal(t, 3, ing.callCount())
	assert.Equal(t, 3, p.QueueDepth(ctx))
}

func TestBackoffSchedule(t *testing.T) {
	assert.Equal(t, time.Second, backoff(1))
	assert.Equal(t, 2*time.Second, backoff(2))
	assert.Equal(t, 16*time.Second, backoff(5))
	assert.Equal(t, 60*time.Second, backoff(10))
}

// waitInFlight blocks until submitted goroutines finish, without closing
// the pipeline.
func waitInFlight(t *testing.T, p *Pipeline) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("in-flight submissions did not settle")
	}
}
