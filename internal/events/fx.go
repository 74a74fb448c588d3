package events

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/smallbiznis/paysync/internal/config"
	obsmetrics "github.com/smallbiznis/paysync/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("events",
	fx.Provide(NewPublisher),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Log       *zap.Logger
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

func NewPublisher(p Params) (Publisher, error) {
	if len(p.Config.Kafka.Brokers) == 0 {
		p.Log.Info("kafka brokers not configured, effects will be logged")
		return NewLogPublisher(p.Log, p.Metrics), nil
	}

	producer, err := sarama.NewSyncProducer(p.Config.Kafka.Brokers, producerConfig(p.Config))
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	publisher := NewKafkaPublisher(producer, p.Config.Kafka.Topic, p.Log, p.Metrics)
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return publisher.Close()
		},
	})
	return publisher, nil
}

func producerConfig(cfg config.Config) *sarama.Config {
	sc := sarama.NewConfig()
	sc.ClientID = cfg.AppName
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 5
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Compression = sarama.CompressionSnappy
	sc.Version = sarama.V3_3_1_0
	return sc
}
