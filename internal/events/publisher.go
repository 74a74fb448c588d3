// Package events publishes reconciliation effects (activate, suspend, cancel,
// refund) to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/oklog/ulid/v2"
	obsmetrics "github.com/smallbiznis/paysync/internal/observability/metrics"
	"github.com/smallbiznis/paysync/internal/reconcile/engine"
	"go.uber.org/zap"
)

// Publisher delivers effects after the state that produced them is stored.
type Publisher interface {
	Publish(ctx context.Context, effects []engine.Effect) error
}

// Message is the wire shape of an effect.
type Message struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	SubscriptionID string    `json:"subscription_id"`
	OwnerID        string    `json:"owner_id"`
	PaymentID      string    `json:"payment_id,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func NewMessage(effect engine.Effect) Message {
	return Message{
		ID:             ulid.Make().String(),
		Type:           string(effect.Type),
		SubscriptionID: effect.SubscriptionID,
		OwnerID:        effect.OwnerID,
		PaymentID:      effect.PaymentID,
		Reason:         effect.Reason,
		OccurredAt:     effect.OccurredAt.UTC(),
	}
}

type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	log      *zap.Logger
	metrics  *obsmetrics.Metrics
}

func NewKafkaPublisher(producer sarama.SyncProducer, topic string, log *zap.Logger, metrics *obsmetrics.Metrics) *KafkaPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &KafkaPublisher{
		producer: producer,
		topic:    topic,
		log:      log.Named("events.kafka"),
		metrics:  metrics,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, effects []engine.Effect) error {
	if len(effects) == 0 {
		return nil
	}

	msgs := make([]*sarama.ProducerMessage, 0, len(effects))
	for _, effect := range effects {
		msg := NewMessage(effect)
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("encode effect: %w", err)
		}
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic: p.topic,
			Key:   sarama.StringEncoder(msg.SubscriptionID),
			Value: sarama.ByteEncoder(data),
			Headers: []sarama.RecordHeader{
				{Key: []byte("message_id"), Value: []byte(msg.ID)},
				{Key: []byte("effect_type"), Value: []byte(msg.Type)},
			},
			Timestamp: msg.OccurredAt,
		})
	}

	if err := p.producer.SendMessages(msgs); err != nil {
		for _, effect := range effects {
			p.metrics.RecordEffectPublished(ctx, string(effect.Type), "error")
		}
		return fmt.Errorf("publish effects: %w", err)
	}
	for _, effect := range effects {
		p.metrics.RecordEffectPublished(ctx, string(effect.Type), "ok")
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// LogPublisher writes effects to the log when no broker is configured.
type LogPublisher struct {
	log     *zap.Logger
	metrics *obsmetrics.Metrics
}

func NewLogPublisher(log *zap.Logger, metrics *obsmetrics.Metrics) *LogPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogPublisher{log: log.Named("events.log"), metrics: metrics}
}

func (p *LogPublisher) Publish(ctx context.Context, effects []engine.Effect) error {
	for _, effect := range effects {
		msg := NewMessage(effect)
		p.log.Info("effect",
			zap.String("message_id", msg.ID),
			zap.String("type", msg.Type),
			zap.String("subscription_id", msg.SubscriptionID),
			zap.String("owner_id", msg.OwnerID),
			zap.String("payment_id", msg.PaymentID),
			zap.String("reason", msg.Reason),
		)
		p.metrics.RecordEffectPublished(ctx, msg.Type, "logged")
	}
	return nil
}

var (
	_ Publisher = (*KafkaPublisher)(nil)
	_ Publisher = (*LogPublisher)(nil)
)
