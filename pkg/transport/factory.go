package transport

import (
	"fmt"
	"strings"

	"github.com/illmade-knight/eventgen/pkg/publisher"
	"github.com/rs/zerolog"
)

// Kind names a broker protocol.
type Kind string

const (
	KindMQTT   Kind = "mqtt"
	KindPubSub Kind = "pubsub"
	KindRedis  Kind = "redis"
	KindKafka  Kind = "kafka"
)

// Kinds lists the supported transports, MQTT first.
func Kinds() []Kind {
	return []Kind{KindMQTT, KindPubSub, KindRedis, KindKafka}
}

// ParseKind accepts a transport name in any case.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Kinds() {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown transport %q", s)
}

// Options carries the settings for every transport kind; New reads only the
// section matching the requested kind.
type Options struct {
	MQTT   MQTTConfig
	PubSub PubSubConfig
	Redis  RedisConfig
	Kafka  KafkaConfig
}

// DefaultOptions returns default settings for every transport.
func DefaultOptions() Options {
	return Options{
		MQTT:   DefaultMQTTConfig(),
		PubSub: DefaultPubSubConfig(""),
		Redis:  DefaultRedisConfig(),
		Kafka:  DefaultKafkaConfig(),
	}
}

// New creates an unconnected transport of the given kind. Each call returns
// a fresh client, so workers never share one.
func New(kind Kind, opts Options, logger zerolog.Logger) (publisher.Transport, error) {
	switch kind {
	case KindMQTT:
		return NewMQTT(opts.MQTT, logger), nil
	case KindPubSub:
		return NewPubSub(opts.PubSub, logger), nil
	case KindRedis:
		return NewRedis(opts.Redis, logger), nil
	case KindKafka:
		return NewKafka(opts.Kafka, logger), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", kind)
	}
}

// NormalizeAddress applies the address conventions of kind. Only MQTT has
// any: a bare host or host:port gets a scheme and default port.
func NormalizeAddress(kind Kind, address string) string {
	if kind == KindMQTT {
		return NormalizeMQTTAddress(address)
	}
	return address
}
