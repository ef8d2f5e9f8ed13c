// Package rabbitmq forwards fragments from a subscribed stream to a
// RabbitMQ exchange.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"

	"github.com/rabbitmq/amqp091-go"

	"aeron/internal/logbuffer"
)

// Source is the subscribed stream being bridged, typically a client
// Subscription.
type Source interface {
	Poll(handler logbuffer.FragmentHandler, fragmentLimit int) int
}

// Config for the bridge.
type Config struct {
	URL           string
	Exchange      string
	RoutingKey    string
	FragmentLimit int
}

func (c *Config) withDefaults() {
	if c.FragmentLimit <= 0 {
		c.FragmentLimit = 10
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("rabbitmq bridge: url is required")
	}
	if c.Exchange == "" {
		return errors.New("rabbitmq bridge: exchange is required")
	}
	return nil
}

// Bridge publishes one message per fragment, with session and stream ids in
// the headers.
type Bridge struct {
	cfg     Config
	conn    *amqp091.Connection
	channel *amqp091.Channel
	publish func(ctx context.Context, payload []byte, sessionID, streamID int32) error
}

// New dials the broker and declares the exchange.
func New(cfg Config) (*Bridge, error) {
	cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	conn, err := amqp091.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq bridge dial: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq bridge channel: %w", err)
	}
	if err := channel.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq bridge exchange: %w", err)
	}

	b := &Bridge{cfg: cfg, conn: conn, channel: channel}
	b.publish = b.publishAMQP
	return b, nil
}

func (b *Bridge) publishAMQP(ctx context.Context, payload []byte, sessionID, streamID int32) error {
	return b.channel.PublishWithContext(ctx, b.cfg.Exchange, b.cfg.RoutingKey, false, false,
		amqp091.Publishing{
			Body: append([]byte(nil), payload...),
			Headers: amqp091.Table{
				"aeron-session-id": int64(sessionID),
				"aeron-stream-id":  int64(streamID),
			},
		})
}

// Run polls source and forwards until ctx is cancelled. idle is invoked with
// the fragment count of each pass.
func (b *Bridge) Run(ctx context.Context, source Source, idle func(workCount int)) error {
	var publishErr error
	for ctx.Err() == nil && publishErr == nil {
		fragments := source.Poll(func(payload []byte, sessionID, streamID int32) {
			if err := b.publish(ctx, payload, sessionID, streamID); err != nil {
				publishErr = fmt.Errorf("publish stream %d: %w", streamID, err)
			}
		}, b.cfg.FragmentLimit)
		idle(fragments)
	}
	if publishErr != nil {
		return publishErr
	}
	return ctx.Err()
}

// Close releases the channel and connection.
func (b *Bridge) Close() error {
	if b.channel != nil {
		b.channel.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
