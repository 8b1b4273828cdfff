package capture

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/codepromptu/codepromptu/internal/config"
	"github.com/codepromptu/codepromptu/internal/monitoring"
)

const (
	// maxDrainAttempts caps retries per parked record before it is dropped.
	maxDrainAttempts = 6

	// retryBase/retryCap shape the per-record backoff: 1s doubling to 60s.
	retryBase = time.Second
	retryCap  = 60 * time.Second
)

// Pipeline is the asynchronous hand-off between the gateway and storage.
type Pipeline struct {
	ingestor       Ingestor
	queue          Queue
	metrics        *monitoring.Metrics
	primaryTimeout time.Duration
	drainInterval  time.Duration

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewPipeline builds a Pipeline from configuration. queue must be non-nil.
func NewPipeline(ingestor Ingestor, queue Queue, metrics *monitoring.Metrics, cfg config.CaptureConfig) *Pipeline {
	return &Pipeline{
		ingestor:       ingestor,
		queue:          queue,
		metrics:        metrics,
		primaryTimeout: cfg.PrimaryTimeout,
		drainInterval:  cfg.DrainInterval,
		stopChan:       make(chan struct{}),
	}
}

// Submit accepts a record and returns immediately; ingestion happens off
// the caller's goroutine. Never returns an error: capture failures degrade
// to the fallback queue, and queue failures are logged and counted.
func (p *Pipeline) Submit(rec *Record) {
	p.metrics.CapturesSubmitted.Inc()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), p.primaryTimeout)
		defer cancel()

		err := p.ingestor.Ingest(ctx, rec)
		if err == nil {
			p.metrics.CapturesPrimaryOK.Inc()
			return
		}
		log.Warn().Err(err).
			Str("request_id", rec.RequestID).
			Msg("primary capture failed, parking in fallback queue")

		rec.EnqueuedAt = time.Now().UTC()
		if err := p.queue.Push(context.Background(), rec); err != nil {
			p.metrics.CapturesDropped.Inc()
			log.Error().Err(err).
				Str("request_id", rec.RequestID).
				Msg("fallback enqueue failed, capture lost")
			return
		}
		p.metrics.CapturesFallback.Inc()
	}()
}

// StartDrainWorker retries parked records on the configured interval.
func (p *Pipeline) StartDrainWorker() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.drainInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopChan:
				return
			case <-ticker.C:
				p.DrainOnce(context.Background())
			}
		}
	}()
}

// DrainOnce processes at most the queue's current length, so records pushed
// back for a later attempt are not retried within the same pass.
func (p *Pipeline) DrainOnce(ctx context.Context) {
	n, err := p.queue.Len(ctx)
	if err != nil {
		log.Error().Err(err).Msg("fallback queue length check failed")
		return
	}

	now := time.Now().UTC()
	for i := 0; i < n; i++ {
		rec, err := p.queue.Pop(ctx)
		if err != nil {
			log.Error().Err(err).Msg("fallback queue pop failed")
			return
		}
		if rec == nil {
			return
		}

		if !rec.NextAttempt.IsZero() && rec.NextAttempt.After(now) {
			p.requeue(ctx, rec)
			continue
		}

		ingestCtx, cancel := context.WithTimeout(ctx, p.primaryTimeout)
		err = p.ingestor.Ingest(ingestCtx, rec)
		cancel()
		if err == nil {
			p.metrics.CapturesPrimaryOK.Inc()
			continue
		}

		rec.Attempts++
		if rec.Attempts >= maxDrainAttempts {
			p.metrics.CapturesDropped.Inc()
			log.Error().Err(err).
				Str("request_id", rec.RequestID).
				Int("attempts", rec.Attempts).
				Msg("capture dropped after retry cap")
			continue
		}

		rec.NextAttempt = now.Add(backoff(rec.Attempts))
		log.Warn().Err(err).
			Str("request_id", rec.RequestID).
			Int("attempts", rec.Attempts).
			Time("next_attempt", rec.NextAttempt).
			Msg("capture retry failed, backing off")
		p.requeue(ctx, rec)
	}
}

func (p *Pipeline) requeue(ctx context.Context, rec *Record) {
	if err := p.queue.Push(ctx, rec); err != nil {
		p.metrics.CapturesDropped.Inc()
		log.Error().Err(err).
			Str("request_id", rec.RequestID).
			Msg("fallback requeue failed, capture lost")
	}
}

// backoff returns 1s * 2^(attempts-1) capped at 60s.
func backoff(attempts int) time.Duration {
	d := retryBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= retryCap {
			return retryCap
		}
	}
	return d
}

// QueueDepth reports the fallback backlog.
func (p *Pipeline) QueueDepth(ctx context.Context) int {
	n, err := p.queue.Len(ctx)
	if err != nil {
		return -1
	}
	return n
}

// Shutdown stops the drain worker and waits for in-flight submissions.
func (p *Pipeline) Shutdown(ctx context.Context) error {
	p.stopOnce.Do(func() { close(p.stopChan) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return p.queue.Close()
	case <-ctx.Done():
		return ctx.Err()
	}
}
