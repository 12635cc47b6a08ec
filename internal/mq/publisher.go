package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrNotConfirmed is returned when the broker nacks a batch
var ErrNotConfirmed = errors.New("broker did not confirm publish")

// Publisher sends observation batches to a topic exchange. Every publish waits
// for the broker confirm, so a nil error means the batch is durable.
type Publisher struct {
	conn           *Connection
	mu             sync.Mutex
	channel        *amqp.Channel
	exchange       string
	routingKey     string
	confirmTimeout time.Duration
	logger         *zap.Logger
}

// PublisherConfig holds publisher configuration
type PublisherConfig struct {
	Connection     *Connection
	Exchange       string
	RoutingKey     string
	ConfirmTimeout time.Duration
	Logger         *zap.Logger
}

// NewPublisher creates a new RabbitMQ publisher
func NewPublisher(cfg PublisherConfig) (*Publisher, error) {
	p := &Publisher{
		conn:           cfg.Connection,
		exchange:       cfg.Exchange,
		routingKey:     cfg.RoutingKey,
		confirmTimeout: cfg.ConfirmTimeout,
		logger:         cfg.Logger,
	}

	if _, err := p.ensureChannel(); err != nil {
		return nil, err
	}

	return p, nil
}

// ensureChannel returns the confirm-mode channel, reopening it after a
// channel-level exception closed the previous one.
func (p *Publisher) ensureChannel() (*amqp.Channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil && !p.channel.IsClosed() {
		return p.channel, nil
	}

	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if err := declareExchange(ch, p.exchange); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	p.channel = ch
	return ch, nil
}

// Publish sends one serialized batch and waits for the broker confirm
func (p *Publisher) Publish(ctx context.Context, body []byte) error {
	ch, err := p.ensureChannel()
	if err != nil {
		return err
	}

	messageID := uuid.NewString()

	confirmation, err := ch.PublishWithDeferredConfirmWithContext(
		ctx,
		p.exchange,
		p.routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			MessageId:    messageID,
			Timestamp:    time.Now().UTC(),
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish batch: %w", err)
	}

	waitCtx := ctx
	if p.confirmTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, p.confirmTimeout)
		defer cancel()
	}

	acked, err := confirmation.WaitContext(waitCtx)
	if err != nil {
		return fmt.Errorf("failed to wait for publish confirm: %w", err)
	}
	if !acked {
		return fmt.Errorf("message %s: %w", messageID, ErrNotConfirmed)
	}

	p.logger.Debug("published observation batch",
		zap.String("routing_key", p.routingKey),
		zap.String("message_id", messageID),
		zap.Int("body_size", len(body)),
	)

	return nil
}

// Close closes the publisher channel
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil && !p.channel.IsClosed() {
		return p.channel.Close()
	}
	return nil
}
