package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Bus routes domain events to the producer registered for their topic.
type Bus struct {
	service   string
	producers map[string]*Producer
}

func NewBus(service string, producers map[string]*Producer) *Bus {
	return &Bus{service: service, producers: producers}
}

// PublishEvent wraps payload in an Envelope keyed by key so all events of one aggregate
// land on the same partition.
func (b *Bus) PublishEvent(ctx context.Context, topic, eventType, key string, payload any) (string, error) {
	p, ok := b.producers[topic]
	if !ok {
		return "", fmt.Errorf("kafka: no producer for topic %s", topic)
	}
	env := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      b.service,
		TraceID:       traceID(ctx),
		CorrelationID: key,
		Payload:       MustMarshal(payload),
	}
	err := p.Publish([]byte(key), MustMarshal(env),
		kafka.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafka.Header{Key: "x-event-version", Value: []byte("1")},
	)
	if err != nil {
		return "", err
	}
	return env.EventID, nil
}

type traceKey struct{}

// WithTraceID records the inbound request id so published envelopes carry it.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func traceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}
