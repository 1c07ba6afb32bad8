package transport

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/illmade-knight/eventgen/pkg/publisher"
	"github.com/illmade-knight/eventgen/pkg/reasoncode"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestKafka(producer sarama.SyncProducer, createErr error) (*Kafka, *[]string) {
	var brokers []string
	tr := NewKafka(DefaultKafkaConfig(), zerolog.Nop())
	tr.newProducer = func(addrs []string, cfg *sarama.Config) (sarama.SyncProducer, error) {
		brokers = addrs
		if createErr != nil {
			return nil, createErr
		}
		return producer, nil
	}
	return tr, &brokers
}

func TestKafka_Connect(t *testing.T) {
	t.Run("Producer created", func(t *testing.T) {
		producer := mocks.NewSyncProducer(t, nil)
		tr, brokers := newTestKafka(producer, nil)
		defer tr.Close()

		hooks := newRecordingHooks()
		require.NoError(t, tr.Connect(context.Background(), "kafka-1:9092, kafka-2:9092", hooks))
		assert.Equal(t, []reasoncode.Code{reasoncode.Success}, hooks.Acks())
		assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, *brokers)
	})

	t.Run("No brokers reachable", func(t *testing.T) {
		tr, _ := newTestKafka(nil, sarama.ErrOutOfBrokers)
		hooks := newRecordingHooks()
		require.NoError(t, tr.Connect(context.Background(), "kafka-1:9092", hooks))
		assert.Equal(t, []reasoncode.Code{reasoncode.ConnRefused}, hooks.Acks())
	})

	t.Run("Empty address", func(t *testing.T) {
		tr, _ := newTestKafka(nil, nil)
		assert.Error(t, tr.Connect(context.Background(), " , ", newRecordingHooks()))
	})
}

// closeRecordingProducer records whether it was closed.
type closeRecordingProducer struct {
	sarama.SyncProducer
	closed atomic.Bool
}

func (p *closeRecordingProducer) Close() error {
	p.closed.Store(true)
	return nil
}

// newSlowKafka returns a transport whose producer creation blocks until
// release is closed.
func newSlowKafka(producer sarama.SyncProducer) (*Kafka, chan struct{}) {
	release := make(chan struct{})
	tr := NewKafka(DefaultKafkaConfig(), zerolog.Nop())
	tr.newProducer = func([]string, *sarama.Config) (sarama.SyncProducer, error) {
		<-release
		return producer, nil
	}
	return tr, release
}

func TestKafka_ConnectHonoursContext(t *testing.T) {
	producer := &closeRecordingProducer{}
	tr, release := newSlowKafka(producer)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	hooks := newRecordingHooks()
	start := time.Now()
	err := tr.Connect(ctx, "kafka-1:9092", hooks)
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, hooks.Acks())

	// The producer that turns up after the caller gave up is not leaked.
	close(release)
	assert.Eventually(t, producer.closed.Load, time.Second, 10*time.Millisecond)

	_, err = tr.Publish(context.Background(), publisher.DefaultTopic, []byte("Message5"))
	assert.ErrorIs(t, err, sarama.ErrNotConnected)
}

func TestKafka_ConnectBoundedByConnectTimeout(t *testing.T) {
	producer := &closeRecordingProducer{}
	tr, release := newSlowKafka(producer)
	defer close(release)

	cfg := publisher.DefaultConnectionConfig("kafka-1:9092")
	cfg.ConnectTimeout = 100 * time.Millisecond
	conn := publisher.NewConnection(tr, cfg, nil, zerolog.Nop())

	start := time.Now()
	err := conn.Connect(context.Background())
	assert.Less(t, time.Since(start), time.Second)
	assert.ErrorIs(t, err, publisher.ErrConnectRejected)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, publisher.Disconnected, conn.State())
}

func TestKafka_Publish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != "Message1" {
			return fmt.Errorf("unexpected payload %q", val)
		}
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrMessageSizeTooLarge)

	tr, _ := newTestKafka(producer, nil)
	hooks := newRecordingHooks()
	require.NoError(t, tr.Connect(context.Background(), "kafka-1:9092", hooks))

	outcome, err := tr.Publish(context.Background(), publisher.DefaultTopic, []byte("Message1"))
	require.NoError(t, err)
	assert.True(t, outcome.Delivered)
	assert.NotEmpty(t, outcome.MessageID)

	outcome, err = tr.Publish(context.Background(), publisher.DefaultTopic, []byte("Message2"))
	require.Error(t, err)
	assert.False(t, outcome.Delivered)
	assert.Equal(t, reasoncode.PayloadSize, *outcome.ReasonCode)

	// Close verifies that every expectation was consumed.
	tr.Close()
}

// blockingProducer never completes a send until released.
type blockingProducer struct {
	sarama.SyncProducer
	release chan struct{}
}

func (p *blockingProducer) SendMessage(*sarama.ProducerMessage) (int32, int64, error) {
	<-p.release
	return 0, 0, nil
}

func (p *blockingProducer) Close() error { return nil }

func TestKafka_PublishHonoursContext(t *testing.T) {
	producer := &blockingProducer{release: make(chan struct{})}
	defer close(producer.release)

	tr, _ := newTestKafka(producer, nil)
	require.NoError(t, tr.Connect(context.Background(), "kafka-1:9092", newRecordingHooks()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := tr.Publish(ctx, publisher.DefaultTopic, []byte("Message3"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKafka_PublishBeforeConnect(t *testing.T) {
	tr := NewKafka(DefaultKafkaConfig(), zerolog.Nop())
	outcome, err := tr.Publish(context.Background(), publisher.DefaultTopic, []byte("Message4"))
	assert.ErrorIs(t, err, sarama.ErrNotConnected)
	assert.Equal(t, reasoncode.NoConn, *outcome.ReasonCode)
}

func TestClassifyKafkaError(t *testing.T) {
	testCases := []struct {
		err  error
		want reasoncode.Code
	}{
		{err: nil, want: reasoncode.Success},
		{err: sarama.ErrOutOfBrokers, want: reasoncode.ConnRefused},
		{err: sarama.ErrNotConnected, want: reasoncode.NoConn},
		{err: sarama.ErrClosedClient, want: reasoncode.ConnLost},
		{err: sarama.ErrMessageSizeTooLarge, want: reasoncode.PayloadSize},
		{err: sarama.ErrTopicAuthorizationFailed, want: reasoncode.ACLDenied},
		{err: sarama.ErrSASLAuthenticationFailed, want: reasoncode.Auth},
		{err: sarama.ErrUnknownTopicOrPartition, want: reasoncode.NotFound},
		{err: sarama.ErrRequestTimedOut, want: reasoncode.Again},
		{err: sarama.ErrInvalidMessage, want: reasoncode.Inval},
		{err: sarama.ErrUnsupportedVersion, want: reasoncode.NotSupported},
		{err: sarama.ConfigurationError("bad"), want: reasoncode.Inval},
		{err: fmt.Errorf("send: %w", sarama.ErrOutOfBrokers), want: reasoncode.ConnRefused},
		{err: errors.New("something odd"), want: reasoncode.Unknown},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, ClassifyKafkaError(tc.err), "%v", tc.err)
	}
}
