// Package metrics exposes publish outcomes and connection transitions as
// Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/illmade-knight/eventgen/pkg/publisher"
	"github.com/illmade-knight/eventgen/pkg/reasoncode"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Recorder implements publisher.Recorder. It is safe for concurrent use by
// every worker.
type Recorder struct {
	publishes   *prometheus.CounterVec
	transitions *prometheus.CounterVec
	connected   prometheus.Gauge
	lost        prometheus.Gauge
}

// NewRecorder creates the collectors and registers them with reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		publishes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventgen_publish_total",
			Help: "Publish attempts by reason code",
		}, []string{"code"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "eventgen_connection_transitions_total",
			Help: "Connection state transitions",
		}, []string{"from", "to"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eventgen_connections_connected",
			Help: "Number of connections currently connected",
		}),
		lost: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "eventgen_connections_lost",
			Help: "Number of connections waiting for a reconnect",
		}),
	}
	for _, c := range []prometheus.Collector{r.publishes, r.transitions, r.connected, r.lost} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Recorder) PublishObserved(code reasoncode.Code) {
	r.publishes.WithLabelValues(code.String()).Inc()
}

func (r *Recorder) StateChanged(from, to publisher.State) {
	r.transitions.WithLabelValues(from.String(), to.String()).Inc()
	r.gaugeFor(from, -1)
	r.gaugeFor(to, 1)
}

func (r *Recorder) gaugeFor(s publisher.State, delta float64) {
	switch s {
	case publisher.Connected:
		r.connected.Add(delta)
	case publisher.Lost:
		r.lost.Add(delta)
	}
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, gatherer prometheus.Gatherer, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Metrics server shutdown failed")
		}
	}()

	logger.Info().Str("addr", addr).Msg("Starting metrics server")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
