package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/illmade-knight/eventgen/pkg/config"
	"github.com/illmade-knight/eventgen/pkg/loadgen"
	"github.com/illmade-knight/eventgen/pkg/metrics"
	"github.com/illmade-knight/eventgen/pkg/publisher"
	"github.com/illmade-knight/eventgen/pkg/transport"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type options struct {
	configPath     string
	transport      string
	nEvents        string
	nThreads       int
	metricsAddr    string
	logLevel       string
	exitWhenDone   bool
	asyncConnect   bool
	publishTimeout time.Duration
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(runGenerator).ExecuteContext(ctx); err != nil {
		var connectErr *publisher.ConnectError
		if errors.As(err, &connectErr) {
			log.Fatal().Err(err).Int("code", int(connectErr.Code)).Str("reason", connectErr.Code.Reason()).Msg("Initial connect rejected")
		}
		log.Fatal().Err(err).Msg("Event generator failed")
	}
	log.Info().Msg("Event generator stopped")
}

func newRootCmd(run func(ctx context.Context, opts *options, address string, changed func(string) bool) error) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "eventgen <server_address>",
		Short: "Synthetic pub/sub load generator",
		Long: `Publishes randomly weighted synthetic events to the "events" topic from
many independent connections, then keeps running until stopped.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, args[0], cmd.Flags().Changed)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.nEvents, "n_events", "", "Events per worker; absent, unparsable or 0 publishes until stopped")
	flags.IntVar(&opts.nThreads, "n_threads", 1, "Number of concurrent workers")
	flags.StringVar(&opts.configPath, "config", "", "Path to a YAML configuration file")
	flags.StringVar(&opts.transport, "transport", string(transport.KindMQTT), "Broker protocol: mqtt, pubsub, redis or kafka")
	flags.StringVar(&opts.metricsAddr, "metrics_addr", "", "Address for the Prometheus /metrics endpoint, empty disables it")
	flags.StringVar(&opts.logLevel, "log_level", "info", "Log level")
	flags.BoolVar(&opts.exitWhenDone, "exit_when_done", false, "Exit once every worker has finished instead of idling")
	flags.BoolVar(&opts.asyncConnect, "async_connect", false, "Return from connect without waiting for the acknowledgment")
	flags.DurationVar(&opts.publishTimeout, "publish_timeout", 10*time.Second, "Time to wait for each delivery acknowledgment")
	return cmd
}

// parseEventCount treats anything that is not a positive integer as
// unbounded.
func parseEventCount(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// buildConfig layers the config file, the environment and explicitly set
// flags, in that order.
func buildConfig(opts *options, changed func(string) bool, lookup func(string) (string, bool)) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		loaded, err := config.LoadFromFile(opts.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, err
	}
	if changed("transport") {
		cfg.Transport = opts.transport
	}
	if changed("async_connect") {
		cfg.AsyncConnect = opts.asyncConnect
	}
	if changed("publish_timeout") {
		cfg.PublishTimeout = opts.publishTimeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runGenerator(ctx context.Context, opts *options, address string, changed func(string) bool) error {
	level, err := zerolog.ParseLevel(opts.logLevel)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)

	cfg, err := buildConfig(opts, changed, os.LookupEnv)
	if err != nil {
		return err
	}
	kind, err := cfg.TransportKind()
	if err != nil {
		return err
	}
	catalog, err := cfg.Catalog()
	if err != nil {
		return err
	}

	var recorder publisher.Recorder
	if opts.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		rec, err := metrics.NewRecorder(reg)
		if err != nil {
			return err
		}
		recorder = rec
		go func() {
			if err := metrics.Serve(ctx, opts.metricsAddr, reg, log.Logger); err != nil {
				log.Error().Err(err).Msg("Metrics server failed")
			}
		}()
	}

	address = transport.NormalizeAddress(kind, address)
	transportOpts := cfg.TransportOptions()
	logger := log.Logger.With().Str("transport", string(kind)).Logger()
	pool, err := loadgen.NewPool(loadgen.PoolConfig{
		Workers:      opts.nThreads,
		EventCount:   parseEventCount(opts.nEvents),
		ExitWhenDone: opts.exitWhenDone,
		Connection:   cfg.ConnectionConfig(address),
		Catalog:      catalog,
	}, func(int) (publisher.Transport, error) {
		return transport.New(kind, transportOpts, log.Logger)
	}, recorder, logger)
	if err != nil {
		return err
	}

	log.Info().
		Str("address", address).
		Str("transport", string(kind)).
		Int("n_threads", opts.nThreads).
		Int("n_events", parseEventCount(opts.nEvents)).
		Msg("Starting event generator")
	return pool.Run(ctx)
}
