package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/paysync/internal/config"
	"github.com/smallbiznis/paysync/internal/reconcile/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testEffect() engine.Effect {
	return engine.Effect{
		Type:           engine.EffectActivate,
		SubscriptionID: "sub_1",
		OwnerID:        "owner_1",
		PaymentID:      "pay_1",
		OccurredAt:     time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestKafkaPublisherSendsKeyedMessages(t *testing.T) {
	producer := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "paysync.effects" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "sub_1" {
			return errors.New("unexpected key " + string(key))
		}
		raw, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var decoded Message
		if err := json.Unmarshal(raw, &decoded); err != nil {
			return err
		}
		if decoded.Type != "activate" || decoded.OwnerID != "owner_1" {
			return errors.New("unexpected payload")
		}
		if _, err := ulid.Parse(decoded.ID); err != nil {
			return err
		}
		return nil
	})

	publisher := NewKafkaPublisher(producer, "paysync.effects", zap.NewNop(), nil)
	require.NoError(t, publisher.Publish(context.Background(), []engine.Effect{testEffect()}))
	require.NoError(t, publisher.Close())
}

func TestKafkaPublisherReportsFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewKafkaPublisher(producer, "paysync.effects", zap.NewNop(), nil)
	err := publisher.Publish(context.Background(), []engine.Effect{testEffect()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publish effects")
	require.NoError(t, publisher.Close())
}

func TestKafkaPublisherSkipsEmptyBatch(t *testing.T) {
	producer := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	publisher := NewKafkaPublisher(producer, "paysync.effects", nil, nil)
	require.NoError(t, publisher.Publish(context.Background(), nil))
	require.NoError(t, publisher.Close())
}

func TestMessageIDsAreUnique(t *testing.T) {
	seen := map[string]struct{}{}
	for i := 0; i < 100; i++ {
		msg := NewMessage(testEffect())
		_, dup := seen[msg.ID]
		require.False(t, dup)
		seen[msg.ID] = struct{}{}
	}
}

func TestLogPublisher(t *testing.T) {
	publisher := NewLogPublisher(nil, nil)
	assert.NoError(t, publisher.Publish(context.Background(), []engine.Effect{testEffect()}))
}

func TestProducerConfig(t *testing.T) {
	cfg := producerConfig(config.Config{AppName: "paysync"})
	assert.Equal(t, "paysync", cfg.ClientID)
	assert.Equal(t, sarama.WaitForAll, cfg.Producer.RequiredAcks)
	assert.True(t, cfg.Producer.Return.Successes)
	assert.NoError(t, cfg.Validate())
}
