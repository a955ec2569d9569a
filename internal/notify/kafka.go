package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaOptions configure the Kafka sink.
type KafkaOptions struct {
	Brokers      []string
	Topic        string
	RequiredAcks int
	WriteTimeout time.Duration
}

// KafkaNotifier publishes events as JSON keyed by local date.
type KafkaNotifier struct {
	writer kafkaMessageWriter
	topic  string
	logger zerolog.Logger
}

type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// NewKafkaNotifier constructs a sink backed by a kafka-go writer.
func NewKafkaNotifier(opts KafkaOptions, logger zerolog.Logger) (*KafkaNotifier, error) {
	if len(opts.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}
	if strings.TrimSpace(opts.Topic) == "" {
		return nil, fmt.Errorf("kafka topic is required")
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(opts.Brokers...),
		Topic:                  opts.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequiredAcks(opts.RequiredAcks),
		WriteTimeout:           opts.WriteTimeout,
		AllowAutoTopicCreation: false,
	}
	return newKafkaNotifierWithWriter(w, opts.Topic, logger), nil
}

func newKafkaNotifierWithWriter(w kafkaMessageWriter, topic string, logger zerolog.Logger) *KafkaNotifier {
	return &KafkaNotifier{
		writer: w,
		topic:  topic,
		logger: logger.With().Str("component", "notify_kafka").Str("topic", topic).Logger(),
	}
}

// NotifyChange publishes a rates.changed event.
func (n *KafkaNotifier) NotifyChange(ctx context.Context, c Change) error {
	return n.publish(ctx, c.Date, "rates.changed", c)
}

// NotifyProblem publishes a rates.problem event.
func (n *KafkaNotifier) NotifyProblem(ctx context.Context, p Problem) error {
	return n.publish(ctx, p.Date, "rates.problem", p)
}

func (n *KafkaNotifier) publish(ctx context.Context, date time.Time, kind string, payload any) error {
	value, err := json.Marshal(envelope{Type: kind, Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", kind, err)
	}
	msg := kafka.Message{
		Key:   []byte(date.Format(time.DateOnly)),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(kind)},
		},
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", kind, err)
	}
	n.logger.Debug().Str("type", kind).Str("key", string(msg.Key)).Msg("event published")
	return nil
}

// Close flushes and closes the writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

var _ Notifier = (*KafkaNotifier)(nil)
