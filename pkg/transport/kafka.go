package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/illmade-knight/eventgen/pkg/publisher"
	"github.com/illmade-knight/eventgen/pkg/reasoncode"
	"github.com/rs/zerolog"
)

// KafkaConfig holds configuration for the Kafka transport.
type KafkaConfig struct {
	ClientIDPrefix  string
	KeepAlive       time.Duration
	DialTimeout     time.Duration
	ProducerTimeout time.Duration
	MaxMessageBytes int
}

// DefaultKafkaConfig provides sensible defaults.
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		ClientIDPrefix:  "eventgen-",
		KeepAlive:       5 * time.Second,
		DialTimeout:     10 * time.Second,
		ProducerTimeout: 10 * time.Second,
	}
}

// Kafka implements publisher.Transport with a sarama SyncProducer. The
// address may list several bootstrap brokers separated by commas.
type Kafka struct {
	cfg         KafkaConfig
	logger      zerolog.Logger
	newProducer func(addrs []string, cfg *sarama.Config) (sarama.SyncProducer, error)

	mu       sync.Mutex
	producer sarama.SyncProducer
}

// NewKafka creates a new Kafka transport.
func NewKafka(cfg KafkaConfig, logger zerolog.Logger) *Kafka {
	defaults := DefaultKafkaConfig()
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = defaults.KeepAlive
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ProducerTimeout <= 0 {
		cfg.ProducerTimeout = defaults.ProducerTimeout
	}
	return &Kafka{
		cfg:         cfg,
		logger:      logger.With().Str("transport", "kafka").Logger(),
		newProducer: sarama.NewSyncProducer,
	}
}

func (t *Kafka) saramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = t.cfg.ClientIDPrefix + uuid.New().String()
	cfg.Net.KeepAlive = t.cfg.KeepAlive
	cfg.Net.DialTimeout = t.cfg.DialTimeout
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Timeout = t.cfg.ProducerTimeout
	// Failed events are dropped, never replayed.
	cfg.Producer.Retry.Max = 0
	if t.cfg.MaxMessageBytes > 0 {
		cfg.Producer.MaxMessageBytes = t.cfg.MaxMessageBytes
	}
	return cfg
}

// Connect creates the producer, which fetches cluster metadata from the
// bootstrap brokers. The acknowledgment is reported before Connect returns.
// sarama takes no context, so creation runs in its own goroutine and a
// producer that arrives after ctx is done is closed.
func (t *Kafka) Connect(ctx context.Context, address string, hooks publisher.Hooks) error {
	var addrs []string
	for _, a := range strings.Split(address, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	if len(addrs) == 0 {
		return errors.New("kafka transport needs at least one broker address")
	}

	created := make(chan producerResult, 1)
	go func() {
		producer, err := t.newProducer(addrs, t.saramaConfig())
		created <- producerResult{producer: producer, err: err}
	}()

	var res producerResult
	select {
	case res = <-created:
	case <-ctx.Done():
		t.logger.Warn().Err(ctx.Err()).Strs("brokers", addrs).Msg("Abandoning Kafka producer creation")
		go t.discardLateProducer(created)
		return fmt.Errorf("creating kafka producer: %w", ctx.Err())
	}

	if res.err != nil {
		t.logger.Error().Err(res.err).Strs("brokers", addrs).Msg("Failed to create Kafka producer")
		hooks.OnConnectAck(ClassifyKafkaError(res.err))
		return nil
	}

	t.mu.Lock()
	t.producer = res.producer
	t.mu.Unlock()
	t.logger.Info().Strs("brokers", addrs).Msg("Kafka producer created")
	hooks.OnConnectAck(reasoncode.Success)
	return nil
}

type producerResult struct {
	producer sarama.SyncProducer
	err      error
}

func (t *Kafka) discardLateProducer(created <-chan producerResult) {
	res := <-created
	if res.producer == nil {
		return
	}
	if err := res.producer.Close(); err != nil {
		t.logger.Error().Err(err).Msg("Error closing abandoned Kafka producer")
	}
}

type kafkaResult struct {
	partition int32
	offset    int64
	err       error
}

// Publish sends payload to topic. SyncProducer has no context support, so
// the send runs in its own goroutine and ctx bounds the wait.
func (t *Kafka) Publish(ctx context.Context, topic string, payload []byte) (publisher.Outcome, error) {
	t.mu.Lock()
	producer := t.producer
	t.mu.Unlock()
	if producer == nil {
		return publisher.Rejected(reasoncode.NoConn, ""), sarama.ErrNotConnected
	}

	done := make(chan kafkaResult, 1)
	go func() {
		partition, offset, err := producer.SendMessage(&sarama.ProducerMessage{
			Topic: topic,
			Value: sarama.ByteEncoder(payload),
		})
		done <- kafkaResult{partition: partition, offset: offset, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return publisher.Rejected(ClassifyKafkaError(res.err), ""), res.err
		}
		return publisher.Delivered(fmt.Sprintf("%d-%d", res.partition, res.offset)), nil
	case <-ctx.Done():
		return publisher.Outcome{}, ctx.Err()
	}
}

// Close closes the producer.
func (t *Kafka) Close() {
	t.mu.Lock()
	producer := t.producer
	t.producer = nil
	t.mu.Unlock()
	if producer != nil {
		if err := producer.Close(); err != nil {
			t.logger.Error().Err(err).Msg("Error closing Kafka producer")
		}
	}
}

// ClassifyKafkaError maps a sarama error to a reason code.
func ClassifyKafkaError(err error) reasoncode.Code {
	var cfgErr sarama.ConfigurationError
	switch {
	case err == nil:
		return reasoncode.Success
	case errors.Is(err, sarama.ErrOutOfBrokers):
		return reasoncode.ConnRefused
	case errors.Is(err, sarama.ErrNotConnected):
		return reasoncode.NoConn
	case errors.Is(err, sarama.ErrClosedClient), errors.Is(err, sarama.ErrShuttingDown):
		return reasoncode.ConnLost
	case errors.Is(err, sarama.ErrMessageSizeTooLarge):
		return reasoncode.PayloadSize
	case errors.Is(err, sarama.ErrTopicAuthorizationFailed), errors.Is(err, sarama.ErrClusterAuthorizationFailed):
		return reasoncode.ACLDenied
	case errors.Is(err, sarama.ErrSASLAuthenticationFailed):
		return reasoncode.Auth
	case errors.Is(err, sarama.ErrUnknownTopicOrPartition):
		return reasoncode.NotFound
	case errors.Is(err, sarama.ErrRequestTimedOut), errors.Is(err, sarama.ErrNotEnoughReplicas):
		return reasoncode.Again
	case errors.Is(err, sarama.ErrInvalidMessage):
		return reasoncode.Inval
	case errors.Is(err, sarama.ErrUnsupportedVersion):
		return reasoncode.NotSupported
	case errors.As(err, &cfgErr):
		return reasoncode.Inval
	}
	return classifyNetError(err)
}
