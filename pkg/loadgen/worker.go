package loadgen

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/illmade-knight/eventgen/pkg/events"
	"github.com/illmade-knight/eventgen/pkg/publisher"
	"github.com/rs/zerolog"
)

// WorkerSpec describes one publisher. EventCount 0 means publish until
// stopped.
type WorkerSpec struct {
	ID            int
	ServerAddress string
	EventCount    int
}

// Worker owns one connection and one sampler and publishes sampled events
// back to back, without pacing.
type Worker struct {
	spec      WorkerSpec
	conn      *publisher.Connection
	sampler   *events.Sampler
	logger    zerolog.Logger
	published int64 // events handed to the connection
}

// NewWorker creates a new Worker.
func NewWorker(spec WorkerSpec, conn *publisher.Connection, sampler *events.Sampler, logger zerolog.Logger) *Worker {
	return &Worker{
		spec:    spec,
		conn:    conn,
		sampler: sampler,
		logger:  logger.With().Int("worker_id", spec.ID).Logger(),
	}
}

// Run connects, publishes EventCount events (or until ctx is cancelled when
// unbounded) and closes the connection. The only errors returned are a
// rejected initial connect and a connection closed underneath the worker.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().
		Str("address", w.spec.ServerAddress).
		Int("event_count", w.spec.EventCount).
		Msg("Worker starting")

	// A transport may hold a client even when the handshake fails.
	defer w.conn.Close()
	if err := w.conn.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			w.logger.Info().Msg("Worker stopped before connecting")
			return nil
		}
		return fmt.Errorf("worker %d: %w", w.spec.ID, err)
	}

	for i := 0; w.spec.EventCount == 0 || i < w.spec.EventCount; i++ {
		if ctx.Err() != nil {
			w.logger.Info().Int64("published", w.Published()).Msg("Worker stopping")
			return nil
		}
		if err := w.conn.Publish(ctx, w.sampler.Sample()); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				w.logger.Info().Int64("published", w.Published()).Msg("Worker stopping")
				return nil
			}
			return fmt.Errorf("worker %d: %w", w.spec.ID, err)
		}
		atomic.AddInt64(&w.published, 1)
	}

	w.logger.Info().Int64("published", w.Published()).Msg("Worker finished")
	return nil
}

// Published is the number of events handed to the connection so far,
// whatever their delivery outcome.
func (w *Worker) Published() int64 {
	return atomic.LoadInt64(&w.published)
}
