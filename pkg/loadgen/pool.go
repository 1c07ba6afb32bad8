package loadgen

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/illmade-knight/eventgen/pkg/events"
	"github.com/illmade-knight/eventgen/pkg/publisher"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// TransportFactory creates the transport for one worker. It is called once
// per worker so workers never share a client.
type TransportFactory func(workerID int) (publisher.Transport, error)

// PoolConfig holds configuration for a Pool.
type PoolConfig struct {
	Workers    int
	EventCount int
	// ExitWhenDone makes Run return once every worker has finished instead
	// of idling until ctx is cancelled.
	ExitWhenDone bool
	Connection   publisher.ConnectionConfig
	// Catalog defaults to the built-in message catalog.
	Catalog *events.Catalog
}

// Pool runs independent workers concurrently.
type Pool struct {
	cfg      PoolConfig
	factory  TransportFactory
	recorder publisher.Recorder
	// base carries the caller's fields without a component, so workers and
	// connections can name their own.
	base   zerolog.Logger
	logger zerolog.Logger

	mu      sync.Mutex
	workers []*Worker
}

// NewPool validates cfg and creates a Pool. recorder may be nil.
func NewPool(cfg PoolConfig, factory TransportFactory, recorder publisher.Recorder, logger zerolog.Logger) (*Pool, error) {
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("worker count must be at least 1, got %d", cfg.Workers)
	}
	if cfg.EventCount < 0 {
		return nil, fmt.Errorf("event count must not be negative, got %d", cfg.EventCount)
	}
	if factory == nil {
		return nil, errors.New("transport factory is required")
	}
	if cfg.Catalog == nil {
		cfg.Catalog = events.MustDefaultCatalog()
	}
	return &Pool{
		cfg:      cfg,
		factory:  factory,
		recorder: recorder,
		base:     logger,
		logger:   logger.With().Str("component", "pool").Logger(),
	}, nil
}

// Run starts every worker and waits for them. A fatal connect failure in any
// worker stops the others and is returned. Unless ExitWhenDone is set, Run
// then blocks until ctx is cancelled. Cancellation is a normal shutdown and
// returns nil.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info().
		Int("workers", p.cfg.Workers).
		Int("event_count", p.cfg.EventCount).
		Str("address", p.cfg.Connection.Address).
		Msg("Starting worker pool")

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		id := i
		g.Go(func() error {
			w, err := p.newWorker(id)
			if err != nil {
				return err
			}
			return w.Run(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		p.logger.Error().Err(err).Msg("Worker pool stopped")
		return err
	}

	p.logger.Info().Int64("published", p.Published()).Msg("All workers finished")
	if !p.cfg.ExitWhenDone && ctx.Err() == nil {
		p.logger.Info().Msg("Idling until stopped")
		<-ctx.Done()
	}
	return nil
}

func (p *Pool) newWorker(id int) (*Worker, error) {
	transport, err := p.factory(id)
	if err != nil {
		return nil, fmt.Errorf("worker %d: creating transport: %w", id, err)
	}
	connLogger := p.base.With().Str("component", "connection").Int("worker_id", id).Logger()
	conn := publisher.NewConnection(transport, p.cfg.Connection, p.recorder, connLogger)
	sampler := events.NewSampler(p.cfg.Catalog, events.NewSource(id))
	w := NewWorker(WorkerSpec{
		ID:            id,
		ServerAddress: p.cfg.Connection.Address,
		EventCount:    p.cfg.EventCount,
	}, conn, sampler, p.base.With().Str("component", "worker").Logger())

	p.mu.Lock()
	p.workers = append(p.workers, w)
	p.mu.Unlock()
	return w, nil
}

// Published is the total number of events handed to connections by all
// workers started so far.
func (p *Pool) Published() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var total int64
	for _, w := range p.workers {
		total += w.Published()
	}
	return total
}
