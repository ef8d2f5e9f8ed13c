// Package kafka forwards fragments from a subscribed stream into a Kafka
// topic, so systems outside the shared-memory domain can follow a stream.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/twmb/franz-go/pkg/kgo"

	"aeron/internal/logbuffer"
)

// Source is the subscribed stream being bridged, typically a client
// Subscription.
type Source interface {
	Poll(handler logbuffer.FragmentHandler, fragmentLimit int) int
}

// Config for the bridge.
type Config struct {
	Brokers       []string
	Topic         string
	ClientID      string
	FragmentLimit int
}

func (c *Config) withDefaults() {
	if c.FragmentLimit <= 0 {
		c.FragmentLimit = 10
	}
	if c.ClientID == "" {
		c.ClientID = "aeron-kafka-bridge"
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka bridge: brokers are required")
	}
	if c.Topic == "" {
		return errors.New("kafka bridge: topic is required")
	}
	return nil
}

// Bridge produces one Kafka record per fragment, keyed by stream id and
// carrying the session id as a header.
type Bridge struct {
	cfg     Config
	client  *kgo.Client
	produce func(ctx context.Context, record *kgo.Record) error
}

// New connects the bridge to the brokers.
func New(cfg Config, opts ...kgo.Opt) (*Bridge, error) {
	cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	kopts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.DefaultProduceTopic(cfg.Topic),
	}
	client, err := kgo.NewClient(append(kopts, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("kafka bridge: %w", err)
	}

	b := &Bridge{cfg: cfg, client: client}
	b.produce = func(ctx context.Context, record *kgo.Record) error {
		return b.client.ProduceSync(ctx, record).FirstErr()
	}
	return b, nil
}

func record(payload []byte, sessionID, streamID int32) *kgo.Record {
	return &kgo.Record{
		Key:   []byte(strconv.FormatInt(int64(streamID), 10)),
		Value: append([]byte(nil), payload...),
		Headers: []kgo.RecordHeader{
			{Key: "aeron-session-id", Value: []byte(strconv.FormatInt(int64(sessionID), 10))},
		},
	}
}

// Run polls source and forwards until ctx is cancelled. idle is invoked with
// the fragment count of each pass.
func (b *Bridge) Run(ctx context.Context, source Source, idle func(workCount int)) error {
	var produceErr error
	for ctx.Err() == nil && produceErr == nil {
		fragments := source.Poll(func(payload []byte, sessionID, streamID int32) {
			if err := b.produce(ctx, record(payload, sessionID, streamID)); err != nil {
				produceErr = fmt.Errorf("produce stream %d: %w", streamID, err)
			}
		}, b.cfg.FragmentLimit)
		idle(fragments)
	}
	if produceErr != nil {
		return produceErr
	}
	return ctx.Err()
}

// Close releases the Kafka client. Run produces each record synchronously,
// so no records are left buffered.
func (b *Bridge) Close() {
	if b.client != nil {
		b.client.Close()
	}
}
