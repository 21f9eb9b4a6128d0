// Package ingest publishes committed trip changes to the trip event stream.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/trip-recorder/internal/models"
)

const (
	DefaultTopic   = "trip-events"
	publishTimeout = 2 * time.Second
	// Notify runs on the request path with one message per write, so the
	// writer's default one second linger would stall every response.
	batchTimeout = 10 * time.Millisecond
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer writes trip events keyed by trip id, so all changes of one
// trip land on the same partition in commit order.
type KafkaProducer struct {
	writer messageWriter
}

func NewKafkaProducer(brokers []string, topic string) *KafkaProducer {
	if topic == "" {
		topic = DefaultTopic
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           batchTimeout,
		AllowAutoTopicCreation: true,
	}
	return &KafkaProducer{writer: w}
}

// Notify implements trips.Notifier.
func (k *KafkaProducer) Notify(ctx context.Context, ev models.TripEvent) error {
	msg, err := EncodeEvent(ev)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	return k.writer.WriteMessages(ctx, msg)
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// EncodeEvent builds the stream message for ev.
func EncodeEvent(ev models.TripEvent) (kafka.Message, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode trip event: %w", err)
	}
	return kafka.Message{
		Key:     []byte(strconv.FormatInt(ev.TripID, 10)),
		Value:   b,
		Headers: []kafka.Header{{Key: "kind", Value: []byte(ev.Kind)}},
	}, nil
}

// DecodeEvent parses a stream message written by EncodeEvent.
func DecodeEvent(m kafka.Message) (models.TripEvent, error) {
	var ev models.TripEvent
	if err := json.Unmarshal(m.Value, &ev); err != nil {
		return ev, fmt.Errorf("decode trip event: %w", err)
	}
	if ev.TripID == 0 || ev.Kind == "" {
		return ev, fmt.Errorf("decode trip event: missing trip_id or kind")
	}
	return ev, nil
}
