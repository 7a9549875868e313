package eventstream

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// DefaultTopic receives turn events when no topic is configured.
const DefaultTopic = "keepsake.turns"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes events to a Kafka topic, keyed by thread so a thread's
// events stay ordered within one partition.
type Kafka struct {
	writer  messageWriter
	timeout time.Duration
}

// NewKafka creates a publisher for the comma-separated broker list.
func NewKafka(brokers, topic string) (*Kafka, error) {
	var addrs []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			addrs = append(addrs, b)
		}
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(addrs...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	return &Kafka{writer: w, timeout: 10 * time.Second}, nil
}

func (k *Kafka) Publish(ctx context.Context, ev *TurnPersisted) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.Thread),
		Value: value,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
			{Key: "schema_version", Value: []byte(strconv.Itoa(ev.SchemaVersion))},
		},
		Time: ev.At,
	}
	writeCtx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	if err := k.writer.WriteMessages(writeCtx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}
