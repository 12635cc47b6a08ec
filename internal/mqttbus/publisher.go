// Package mqttbus publishes observation batches to an MQTT broker.
package mqttbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// ErrNotConnected is returned while the client has no broker session
var ErrNotConnected = errors.New("mqtt client not connected")

// Config holds broker settings
type Config struct {
	Broker         string
	Port           int
	ClientID       string
	Topic          string
	PublishTimeout time.Duration
}

// Publisher sends each batch as one QoS 1 message
type Publisher struct {
	client  mqtt.Client
	topic   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewPublisher creates a publisher with auto-reconnect enabled. Call Connect
// before publishing.
func NewPublisher(cfg Config, logger *zap.Logger) *Publisher {
	logger = logger.Named("mqtt")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID(cfg.ClientID)

	// Session settings
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	// Keepalive / timeouts
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Info("mqtt connected", zap.String("broker", cfg.Broker), zap.Int("port", cfg.Port))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	})

	return newPublisher(mqtt.NewClient(opts), cfg.Topic, cfg.PublishTimeout, logger)
}

func newPublisher(client mqtt.Client, topic string, timeout time.Duration, logger *zap.Logger) *Publisher {
	return &Publisher{client: client, topic: topic, timeout: timeout, logger: logger}
}

// Connect waits for the initial broker session
func (p *Publisher) Connect(ctx context.Context) error {
	if p.client.IsConnected() {
		return nil
	}

	if err := wait(ctx, p.client.Connect(), 0); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// Publish sends one serialized batch and waits for the broker PUBACK
func (p *Publisher) Publish(ctx context.Context, body []byte) error {
	if !p.client.IsConnectionOpen() {
		return ErrNotConnected
	}

	if err := wait(ctx, p.client.Publish(p.topic, 1, false, body), p.timeout); err != nil {
		return fmt.Errorf("publish to %s: %w", p.topic, err)
	}

	p.logger.Debug("published observation batch", zap.String("topic", p.topic), zap.Int("body_size", len(body)))
	return nil
}

// Disconnect closes the broker session, letting in-flight work finish for 250ms
func (p *Publisher) Disconnect() {
	p.client.Disconnect(250)
	p.logger.Info("mqtt disconnected")
}

func wait(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-expired:
		return fmt.Errorf("timed out after %s", timeout)
	}
}
