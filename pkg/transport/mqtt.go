package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/google/uuid"
	"github.com/illmade-knight/eventgen/pkg/publisher"
	"github.com/illmade-knight/eventgen/pkg/reasoncode"
	"github.com/rs/zerolog"
)

const defaultMQTTPort = "1883"

// MQTTConfig holds configuration for the MQTT transport.
type MQTTConfig struct {
	ClientIDPrefix       string
	Username             string
	Password             string
	QoS                  byte
	KeepAlive            time.Duration
	ConnectTimeout       time.Duration
	MaxReconnectInterval time.Duration

	CACertFile         string
	ClientCertFile     string
	ClientKeyFile      string
	InsecureSkipVerify bool
}

// DefaultMQTTConfig uses the short keepalive the generator is tuned for.
func DefaultMQTTConfig() MQTTConfig {
	return MQTTConfig{
		ClientIDPrefix:       "eventgen-",
		QoS:                  0,
		KeepAlive:            5 * time.Second,
		ConnectTimeout:       10 * time.Second,
		MaxReconnectInterval: 30 * time.Second,
	}
}

// MQTT implements publisher.Transport with the Paho MQTT client. Reconnects
// after a lost connection are handled by Paho itself.
type MQTT struct {
	cfg       MQTTConfig
	logger    zerolog.Logger
	newClient func(*mqtt.ClientOptions) mqtt.Client

	mu     sync.Mutex
	client mqtt.Client
}

// NewMQTT creates a new MQTT transport.
func NewMQTT(cfg MQTTConfig, logger zerolog.Logger) *MQTT {
	defaults := DefaultMQTTConfig()
	if cfg.KeepAlive == 0 {
		logger.Warn().Dur("default", defaults.KeepAlive).Msg("mqtt config had a zero KeepAlive value, applying default")
		cfg.KeepAlive = defaults.KeepAlive
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.MaxReconnectInterval == 0 {
		cfg.MaxReconnectInterval = defaults.MaxReconnectInterval
	}
	return &MQTT{
		cfg:       cfg,
		logger:    logger.With().Str("transport", "mqtt").Logger(),
		newClient: mqtt.NewClient,
	}
}

// Connect builds the Paho client and fires the connect request. The
// handshake result reaches hooks from Paho's callbacks.
func (t *MQTT) Connect(ctx context.Context, address string, hooks publisher.Hooks) error {
	broker := NormalizeMQTTAddress(address)
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(fmt.Sprintf("%s%s", t.cfg.ClientIDPrefix, uuid.New().String())).
		SetKeepAlive(t.cfg.KeepAlive).
		SetConnectTimeout(t.cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetMaxReconnectInterval(t.cfg.MaxReconnectInterval).
		SetOrderMatters(false)
	if t.cfg.Username != "" {
		opts.SetUsername(t.cfg.Username)
		opts.SetPassword(t.cfg.Password)
	}

	if strings.HasPrefix(broker, "tls://") || strings.HasPrefix(broker, "ssl://") {
		tlsConfig, err := newTLSConfig(&t.cfg)
		if err != nil {
			return fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		hooks.OnConnectAck(reasoncode.Success)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		t.logger.Error().Err(err).Msg("MQTT connection lost. Auto-reconnect will be attempted.")
		hooks.OnDisconnect(ClassifyMQTTError(err))
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		t.logger.Debug().Str("broker", broker).Msg("Reconnecting to MQTT broker")
	})

	client := t.newClient(opts)
	t.mu.Lock()
	t.client = client
	t.mu.Unlock()

	t.logger.Debug().Str("broker", broker).Str("client_id", opts.ClientID).Msg("Connecting to MQTT broker")
	token := client.Connect()
	go func() {
		select {
		case <-token.Done():
		case <-ctx.Done():
			return
		}
		if err := token.Error(); err != nil {
			hooks.OnConnectAck(classifyConnectToken(token, err))
		}
	}()
	return nil
}

// Publish sends payload and waits for Paho to complete the token.
func (t *MQTT) Publish(ctx context.Context, topic string, payload []byte) (publisher.Outcome, error) {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	if client == nil {
		return publisher.Rejected(reasoncode.NoConn, ""), mqtt.ErrNotConnected
	}

	token := client.Publish(topic, t.cfg.QoS, false, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return publisher.Outcome{}, ctx.Err()
	}

	messageID := ""
	if pt, ok := token.(*mqtt.PublishToken); ok {
		messageID = strconv.Itoa(int(pt.MessageID()))
	}
	if err := token.Error(); err != nil {
		return publisher.Rejected(ClassifyMQTTError(err), messageID), err
	}
	return publisher.Delivered(messageID), nil
}

// Close disconnects the client, giving Paho a moment to quiesce.
func (t *MQTT) Close() {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.mu.Unlock()
	if client != nil {
		client.Disconnect(250)
		t.logger.Debug().Msg("MQTT client disconnected")
	}
}

// NormalizeMQTTAddress turns "host" or "host:port" into a broker URL.
func NormalizeMQTTAddress(address string) string {
	if strings.Contains(address, "://") {
		return address
	}
	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, defaultMQTTPort)
	}
	return "tcp://" + address
}

// ClassifyConnackCode maps an MQTT CONNACK return code to a reason code.
func ClassifyConnackCode(rc byte) reasoncode.Code {
	switch rc {
	case packets.Accepted:
		return reasoncode.Success
	case packets.ErrRefusedBadProtocolVersion, packets.ErrProtocolViolation:
		return reasoncode.Protocol
	case packets.ErrRefusedIDRejected, packets.ErrRefusedServerUnavailable:
		return reasoncode.ConnRefused
	case packets.ErrRefusedBadUsernameOrPassword:
		return reasoncode.Auth
	case packets.ErrRefusedNotAuthorised:
		return reasoncode.ACLDenied
	case packets.ErrNetworkError:
		return reasoncode.Errno
	default:
		return reasoncode.Unknown
	}
}

// ClassifyMQTTError maps a Paho error to a reason code.
func ClassifyMQTTError(err error) reasoncode.Code {
	switch {
	case err == nil:
		return reasoncode.Success
	case errors.Is(err, mqtt.ErrNotConnected):
		return reasoncode.NoConn
	case errors.Is(err, packets.ErrorRefusedBadProtocolVersion), errors.Is(err, packets.ErrorProtocolViolation):
		return reasoncode.Protocol
	case errors.Is(err, packets.ErrorRefusedIDRejected), errors.Is(err, packets.ErrorRefusedServerUnavailable):
		return reasoncode.ConnRefused
	case errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword):
		return reasoncode.Auth
	case errors.Is(err, packets.ErrorRefusedNotAuthorised):
		return reasoncode.ACLDenied
	}
	return classifyNetError(err)
}

func classifyConnectToken(token mqtt.Token, err error) reasoncode.Code {
	if ct, ok := token.(*mqtt.ConnectToken); ok {
		rc := ct.ReturnCode()
		if rc != packets.Accepted && rc != packets.ErrNetworkError {
			return ClassifyConnackCode(rc)
		}
	}
	code := ClassifyMQTTError(err)
	if code == reasoncode.Success {
		return reasoncode.Unknown
	}
	return code
}

// newTLSConfig creates a TLS configuration for the MQTT client.
func newTLSConfig(cfg *MQTTConfig) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	if cfg.CACertFile != "" {
		caCert, err := os.ReadFile(cfg.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate file %s: %w", cfg.CACertFile, err)
		}
		caCertPool := x509.NewCertPool()
		if !caCertPool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to append CA certificate from %s to pool", cfg.CACertFile)
		}
		tlsConfig.RootCAs = caCertPool
	}

	if cfg.ClientCertFile != "" && cfg.ClientKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.ClientCertFile, cfg.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate/key pair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	return tlsConfig, nil
}
