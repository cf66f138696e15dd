// Package events publishes platform activity to Kafka. The consumer binary
// turns the stream into metrics and daily rollups; nothing in the request
// path ever depends on a publish succeeding.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/fareshare/internal/observability"
)

const (
	TypeBookingCreated   = "booking.created"
	TypeBookingStatus    = "booking.status"
	TypeRideCreated      = "ride.created"
	TypeIncidentReported = "incident.reported"
)

// Event is the wire shape shared with the consumer.
type Event struct {
	Type       string    `json:"type"`
	RideID     string    `json:"ride_id,omitempty"`
	BookingID  string    `json:"booking_id,omitempty"`
	IncidentID string    `json:"incident_id,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	Status     string    `json:"status,omitempty"`
	Amount     float64   `json:"amount,omitempty"`
	At         time.Time `json:"at"`
}

// Publisher is what the API handlers call. NopPublisher stands in when no
// brokers are configured.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &KafkaPublisher{writer: w}
}

func (k *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(e)
	if err := k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(e.Type), Value: b}); err != nil {
		return err
	}
	observability.EventsPublished.WithLabelValues(e.Type).Inc()
	return nil
}

func (k *KafkaPublisher) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }
