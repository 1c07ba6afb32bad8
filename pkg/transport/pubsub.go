package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/eventgen/pkg/publisher"
	"github.com/illmade-knight/eventgen/pkg/reasoncode"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// PubSubConfig holds configuration for the Google Cloud Pub/Sub transport.
type PubSubConfig struct {
	ProjectID string
	TopicID   string
	// CreateTopic creates TopicID on connect when it does not exist.
	CreateTopic bool
	// ClientOptions replace the options derived from the address.
	ClientOptions []option.ClientOption
	Timeout       time.Duration
}

// DefaultPubSubConfig provides sensible defaults.
func DefaultPubSubConfig(projectID string) PubSubConfig {
	return PubSubConfig{
		ProjectID: projectID,
		TopicID:   publisher.DefaultTopic,
		Timeout:   60 * time.Second,
	}
}

// PubSub implements publisher.Transport for Google Cloud Pub/Sub. The address
// passed to Connect is an emulator host; "default" or an empty address uses
// the production endpoint with application default credentials.
type PubSub struct {
	cfg    PubSubConfig
	logger zerolog.Logger

	mu     sync.Mutex
	client *pubsub.Client
	topics map[string]*pubsub.Topic
}

// NewPubSub creates a new Pub/Sub transport.
func NewPubSub(cfg PubSubConfig, logger zerolog.Logger) *PubSub {
	if cfg.TopicID == "" {
		cfg.TopicID = publisher.DefaultTopic
	}
	return &PubSub{
		cfg:    cfg,
		logger: logger.With().Str("transport", "pubsub").Str("project_id", cfg.ProjectID).Logger(),
		topics: make(map[string]*pubsub.Topic),
	}
}

// Connect creates the client and checks that the topic exists. Pub/Sub has
// no session, so the acknowledgment is reported before Connect returns.
func (t *PubSub) Connect(ctx context.Context, address string, hooks publisher.Hooks) error {
	if t.cfg.ProjectID == "" {
		return errors.New("pubsub project ID is required")
	}

	opts := t.cfg.ClientOptions
	if len(opts) == 0 && address != "" && address != "default" {
		opts = []option.ClientOption{
			option.WithEndpoint(address),
			option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
			option.WithoutAuthentication(),
		}
	}

	client, err := pubsub.NewClient(ctx, t.cfg.ProjectID, opts...)
	if err != nil {
		return fmt.Errorf("pubsub.NewClient: %w", err)
	}
	t.mu.Lock()
	t.client = client
	t.mu.Unlock()

	topic := client.Topic(t.cfg.TopicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		t.logger.Error().Err(err).Str("topic_id", t.cfg.TopicID).Msg("Failed to check topic existence")
		hooks.OnConnectAck(ClassifyGRPCError(err))
		return nil
	}
	if !exists {
		if !t.cfg.CreateTopic {
			t.logger.Error().Str("topic_id", t.cfg.TopicID).Msg("Pub/Sub topic does not exist")
			hooks.OnConnectAck(reasoncode.NotFound)
			return nil
		}
		if _, err := client.CreateTopic(ctx, t.cfg.TopicID); err != nil {
			t.logger.Error().Err(err).Str("topic_id", t.cfg.TopicID).Msg("Failed to create Pub/Sub topic")
			hooks.OnConnectAck(ClassifyGRPCError(err))
			return nil
		}
		t.logger.Info().Str("topic_id", t.cfg.TopicID).Msg("Created Pub/Sub topic")
	}

	t.logger.Info().Str("topic_id", t.cfg.TopicID).Msg("Pub/Sub transport initialized")
	hooks.OnConnectAck(reasoncode.Success)
	return nil
}

// Publish sends payload and blocks until the server returns a message ID.
func (t *PubSub) Publish(ctx context.Context, topicID string, payload []byte) (publisher.Outcome, error) {
	topic, err := t.topic(topicID)
	if err != nil {
		return publisher.Rejected(reasoncode.NoConn, ""), err
	}

	result := topic.Publish(ctx, &pubsub.Message{Data: payload})
	msgID, err := result.Get(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return publisher.Outcome{}, ctx.Err()
		}
		return publisher.Rejected(ClassifyGRPCError(err), ""), err
	}
	return publisher.Delivered(msgID), nil
}

// Close flushes pending messages and closes the Pub/Sub client.
func (t *PubSub) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, topic := range t.topics {
		topic.Stop()
	}
	t.topics = make(map[string]*pubsub.Topic)
	if t.client != nil {
		if err := t.client.Close(); err != nil {
			t.logger.Error().Err(err).Msg("Error closing Pub/Sub client")
		}
		t.client = nil
	}
}

func (t *PubSub) topic(topicID string) (*pubsub.Topic, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil, errors.New("pubsub client is not connected")
	}
	if topic, ok := t.topics[topicID]; ok {
		return topic, nil
	}
	topic := t.client.Topic(topicID)
	// Every publish waits for its own acknowledgment, so batching only adds latency.
	topic.PublishSettings.CountThreshold = 1
	topic.PublishSettings.DelayThreshold = time.Millisecond
	if t.cfg.Timeout > 0 {
		topic.PublishSettings.Timeout = t.cfg.Timeout
	}
	t.topics[topicID] = topic
	return topic, nil
}

// ClassifyGRPCError maps a gRPC status to a reason code.
func ClassifyGRPCError(err error) reasoncode.Code {
	if err == nil {
		return reasoncode.Success
	}
	st, ok := status.FromError(err)
	if !ok {
		return classifyNetError(err)
	}
	switch st.Code() {
	case codes.OK:
		return reasoncode.Success
	case codes.Canceled, codes.DeadlineExceeded, codes.Aborted:
		return reasoncode.Again
	case codes.InvalidArgument, codes.OutOfRange, codes.FailedPrecondition, codes.AlreadyExists:
		return reasoncode.Inval
	case codes.NotFound:
		return reasoncode.NotFound
	case codes.PermissionDenied:
		return reasoncode.ACLDenied
	case codes.Unauthenticated:
		return reasoncode.Auth
	case codes.ResourceExhausted:
		return reasoncode.QueueSize
	case codes.Unimplemented:
		return reasoncode.NotSupported
	case codes.Unavailable:
		return reasoncode.ConnLost
	case codes.Internal, codes.DataLoss:
		return reasoncode.Protocol
	default:
		return reasoncode.Unknown
	}
}
