package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"crono/pkg/platform/circuit"
)

// flushTimeout bounds the final flush when the process shuts down mid-event.
const flushTimeout = 5 * time.Second

// probeInterval limits how often an event is let through while the breaker
// is open, so delivery can be retested without flooding the produce buffer.
const probeInterval = 5 * time.Second

// KafkaPublisher fans events out through a kafka topic. The audience key is
// the record key, so per-stage ordering holds within a partition and the
// push gateway can subscribe selectively.
type KafkaPublisher struct {
	client  *kgo.Client
	topic   string
	logger  *slog.Logger
	breaker *circuit.Breaker

	lastProbe atomic.Int64 // unix nano of the last probe sent while open
}

// NewKafkaPublisher connects to the brokers and ensures the topic exists.
func NewKafkaPublisher(ctx context.Context, brokers []string, topic string, logger *slog.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka publisher requires at least one broker")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerLinger(0),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	if err := ensureTopic(ctx, client, topic); err != nil {
		client.Close()
		return nil, err
	}

	return &KafkaPublisher{
		client: client,
		topic:  topic,
		logger: logger,
		breaker: circuit.New("kafka-publish",
			circuit.WithFailureThreshold(10),
			circuit.WithSuccessThreshold(3),
		),
	}, nil
}

// ensureTopic creates the event topic when it is missing; an existing topic
// is not an error.
func ensureTopic(ctx context.Context, client *kgo.Client, topic string) error {
	adm := kadm.NewClient(client)
	resp, err := adm.CreateTopics(ctx, 3, 1, nil, topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	for _, res := range resp.Sorted() {
		if res.Err != nil && !errors.Is(res.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", res.Topic, res.Err)
		}
	}
	return nil
}

// Publish produces the event asynchronously. Delivery failures are logged,
// never surfaced to the write path that triggered the event. While the
// breaker is open events are dropped immediately so a dead broker cannot
// pile up an unbounded produce buffer behind the timing loop.
func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	if p.breaker.IsOpen() && !p.allowProbe() {
		p.logger.Warn("kafka circuit open, dropping event",
			"kind", string(event.Kind),
			"audience", event.Audience(),
		)
		return nil
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.Audience()),
		Value: value,
	}
	p.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil {
			if _, change := p.breaker.RecordFailure(); change.Opened {
				p.logger.Error("kafka circuit opened", "breaker", p.breaker.Name())
			}
			p.logger.Error("kafka publish failed",
				"kind", string(event.Kind),
				"audience", event.Audience(),
				"error", err.Error(),
			)
			return
		}
		if _, change := p.breaker.RecordSuccess(); change.Closed {
			p.logger.Info("kafka circuit closed", "breaker", p.breaker.Name())
		}
	})
	return nil
}

// allowProbe lets one record through per probeInterval while the breaker is
// open; its delivery callback is what walks the breaker back to closed.
func (p *KafkaPublisher) allowProbe() bool {
	now := time.Now().UnixNano()
	last := p.lastProbe.Load()
	if now-last < int64(probeInterval) {
		return false
	}
	return p.lastProbe.CompareAndSwap(last, now)
}

// Close flushes buffered records and closes the client.
func (p *KafkaPublisher) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn("kafka flush on close failed", "error", err.Error())
	}
	p.client.Close()
	return nil
}
