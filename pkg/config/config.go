// Package config loads generator settings from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/illmade-knight/eventgen/pkg/events"
	"github.com/illmade-knight/eventgen/pkg/publisher"
	"github.com/illmade-knight/eventgen/pkg/transport"
	"google.golang.org/api/option"
	"gopkg.in/yaml.v3"
)

// MQTTSection holds MQTT credentials and TLS files.
type MQTTSection struct {
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	CACertFile         string `yaml:"ca_cert_file"`
	ClientCertFile     string `yaml:"client_cert_file"`
	ClientKeyFile      string `yaml:"client_key_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// PubSubSection holds Google Cloud Pub/Sub settings.
type PubSubSection struct {
	ProjectID       string `yaml:"project_id"`
	CreateTopic     bool   `yaml:"create_topic"`
	CredentialsFile string `yaml:"credentials_file"`
}

// RedisSection holds Redis settings.
type RedisSection struct {
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// KafkaSection holds Kafka settings.
type KafkaSection struct {
	MaxMessageBytes int `yaml:"max_message_bytes"`
}

// Config is the full generator configuration. Durations are written as Go
// duration strings ("5s").
type Config struct {
	Transport        string         `yaml:"transport"`
	Topic            string         `yaml:"topic"`
	KeepAlive        time.Duration  `yaml:"keep_alive"`
	ConnectTimeout   time.Duration  `yaml:"connect_timeout"`
	PublishTimeout   time.Duration  `yaml:"publish_timeout"`
	AsyncConnect     bool           `yaml:"async_connect"`
	TrackDisconnects bool           `yaml:"track_disconnects"`
	QoS              byte           `yaml:"qos"`
	ClientIDPrefix   string         `yaml:"client_id_prefix"`
	Messages         map[string]int `yaml:"messages"`

	MQTT   MQTTSection   `yaml:"mqtt"`
	PubSub PubSubSection `yaml:"pubsub"`
	Redis  RedisSection  `yaml:"redis"`
	Kafka  KafkaSection  `yaml:"kafka"`
}

// Default returns the built-in configuration. An empty Messages map selects
// the default catalog.
func Default() *Config {
	return &Config{
		Transport:        string(transport.KindMQTT),
		Topic:            publisher.DefaultTopic,
		KeepAlive:        5 * time.Second,
		ConnectTimeout:   10 * time.Second,
		PublishTimeout:   10 * time.Second,
		TrackDisconnects: true,
		ClientIDPrefix:   "eventgen-",
	}
}

// LoadFromFile reads a YAML file over the defaults. Keys missing from the
// file keep their default value.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML from '%s': %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables read through lookup,
// usually os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = d
		return nil
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		*dst = b
		return nil
	}

	str("EVENTGEN_TRANSPORT", &c.Transport)
	str("EVENTGEN_TOPIC", &c.Topic)
	str("EVENTGEN_CLIENT_ID_PREFIX", &c.ClientIDPrefix)
	str("MQTT_USERNAME", &c.MQTT.Username)
	str("MQTT_PASSWORD", &c.MQTT.Password)
	str("GCP_PROJECT_ID", &c.PubSub.ProjectID)
	str("PUBSUB_PROJECT_ID", &c.PubSub.ProjectID)
	str("GCP_PUBSUB_CREDENTIALS_FILE", &c.PubSub.CredentialsFile)
	str("REDIS_PASSWORD", &c.Redis.Password)

	for key, dst := range map[string]*time.Duration{
		"EVENTGEN_KEEP_ALIVE":      &c.KeepAlive,
		"EVENTGEN_CONNECT_TIMEOUT": &c.ConnectTimeout,
		"EVENTGEN_PUBLISH_TIMEOUT": &c.PublishTimeout,
	} {
		if err := dur(key, dst); err != nil {
			return err
		}
	}
	for key, dst := range map[string]*bool{
		"EVENTGEN_ASYNC_CONNECT":     &c.AsyncConnect,
		"EVENTGEN_TRACK_DISCONNECTS": &c.TrackDisconnects,
	} {
		if err := boolean(key, dst); err != nil {
			return err
		}
	}
	if v, ok := lookup("EVENTGEN_QOS"); ok && v != "" {
		q, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return fmt.Errorf("invalid EVENTGEN_QOS %q: %w", v, err)
		}
		c.QoS = byte(q)
	}
	return nil
}

// Validate checks the configuration for the selected transport.
func (c *Config) Validate() error {
	kind, err := transport.ParseKind(c.Transport)
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	if c.Topic == "" {
		return errors.New("validation error: topic must not be empty")
	}
	if c.KeepAlive <= 0 || c.ConnectTimeout <= 0 || c.PublishTimeout <= 0 {
		return errors.New("validation error: keep_alive, connect_timeout and publish_timeout must be positive")
	}
	if c.QoS > 2 {
		return fmt.Errorf("validation error: qos must be 0, 1 or 2, got %d", c.QoS)
	}
	if _, err := c.Catalog(); err != nil {
		return fmt.Errorf("validation error: messages: %w", err)
	}
	if kind == transport.KindPubSub && c.PubSub.ProjectID == "" {
		return errors.New("validation error: pubsub.project_id is required for the pubsub transport")
	}
	return nil
}

// Catalog builds the message catalog, falling back to the default weights.
func (c *Config) Catalog() (*events.Catalog, error) {
	if len(c.Messages) == 0 {
		return events.NewCatalog(events.DefaultWeights())
	}
	return events.NewCatalog(c.Messages)
}

// TransportKind returns the parsed transport name.
func (c *Config) TransportKind() (transport.Kind, error) {
	return transport.ParseKind(c.Transport)
}

// TransportOptions maps the configuration onto every transport's settings.
func (c *Config) TransportOptions() transport.Options {
	opts := transport.DefaultOptions()

	opts.MQTT.ClientIDPrefix = c.ClientIDPrefix
	opts.MQTT.QoS = c.QoS
	opts.MQTT.KeepAlive = c.KeepAlive
	opts.MQTT.ConnectTimeout = c.ConnectTimeout
	opts.MQTT.Username = c.MQTT.Username
	opts.MQTT.Password = c.MQTT.Password
	opts.MQTT.CACertFile = c.MQTT.CACertFile
	opts.MQTT.ClientCertFile = c.MQTT.ClientCertFile
	opts.MQTT.ClientKeyFile = c.MQTT.ClientKeyFile
	opts.MQTT.InsecureSkipVerify = c.MQTT.InsecureSkipVerify

	opts.PubSub.ProjectID = c.PubSub.ProjectID
	opts.PubSub.TopicID = c.Topic
	opts.PubSub.CreateTopic = c.PubSub.CreateTopic
	if c.PubSub.CredentialsFile != "" {
		opts.PubSub.ClientOptions = []option.ClientOption{option.WithCredentialsFile(c.PubSub.CredentialsFile)}
	}

	opts.Redis.Password = c.Redis.Password
	opts.Redis.DB = c.Redis.DB
	opts.Redis.KeepAlive = c.KeepAlive
	opts.Redis.DialTimeout = c.ConnectTimeout

	opts.Kafka.ClientIDPrefix = c.ClientIDPrefix
	opts.Kafka.KeepAlive = c.KeepAlive
	opts.Kafka.DialTimeout = c.ConnectTimeout
	opts.Kafka.ProducerTimeout = c.PublishTimeout
	opts.Kafka.MaxMessageBytes = c.Kafka.MaxMessageBytes
	return opts
}

// ConnectionConfig returns the per-connection settings for address.
func (c *Config) ConnectionConfig(address string) publisher.ConnectionConfig {
	return publisher.ConnectionConfig{
		Address:          address,
		Topic:            c.Topic,
		ConnectTimeout:   c.ConnectTimeout,
		PublishTimeout:   c.PublishTimeout,
		AsyncConnect:     c.AsyncConnect,
		TrackDisconnects: c.TrackDisconnects,
	}
}
