// Package events publishes trigger notifications to a message broker.
// Delivery to people is out of scope; consumers of the topic handle it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/tbourn/perfmon-backend/internal/domain"
)

// TriggerEvent is the payload of a notifiable trigger.
type TriggerEvent struct {
	TriggerID      uint      `json:"trigger_id"`
	Day            string    `json:"date_shamsi"`
	ServiceCode    string    `json:"service_code"`
	UnitID         uint      `json:"unit_id"`
	DeviationPct   *float64  `json:"deviation_pct"`
	Severity       string    `json:"severity"`
	Streak         int       `json:"streak"`
	AssignedHeadID *uint     `json:"assigned_head_id"`
	DueAt          time.Time `json:"due_at"`
}

// FromTrigger builds the event of t.
func FromTrigger(t domain.Trigger) TriggerEvent {
	return TriggerEvent{
		TriggerID:      t.ID,
		Day:            t.Day,
		ServiceCode:    t.ServiceCode,
		UnitID:         t.UnitID,
		DeviationPct:   t.DeviationPct,
		Severity:       t.Severity,
		Streak:         t.Streak,
		AssignedHeadID: t.AssignedHeadID,
		DueAt:          t.DueAt,
	}
}

// Publisher sends trigger events.
type Publisher interface {
	Publish(ctx context.Context, events ...TriggerEvent) error
	Close() error
}

// Nop drops every event. It is used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, ...TriggerEvent) error { return nil }
func (Nop) Close() error                                   { return nil }

// messageWriter is the part of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes events as JSON messages keyed by service and unit so all
// events of a pair land on one partition in order.
type Kafka struct {
	w     messageWriter
	topic string
}

// NewKafka returns a publisher writing to topic on brokers.
func NewKafka(brokers []string, topic string) *Kafka {
	return &Kafka{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 50 * time.Millisecond,
		},
		topic: topic,
	}
}

// Publish writes events synchronously.
func (k *Kafka) Publish(ctx context.Context, events ...TriggerEvent) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		b, err := json.Marshal(e)
		if err != nil {
			return err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(fmt.Sprintf("%s/%d", e.ServiceCode, e.UnitID)),
			Value: b,
			Headers: []kafka.Header{
				{Key: "type", Value: []byte("trigger.notify")},
			},
		})
	}
	if err := k.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d event(s) to %s: %w", len(msgs), k.topic, err)
	}
	log.Debug().Str("topic", k.topic).Int("events", len(msgs)).Msg("trigger events published")
	return nil
}

// Close flushes and closes the writer.
func (k *Kafka) Close() error { return k.w.Close() }
