// Package kafka broadcasts through a Kafka topic. Each process joins its own
// consumer group and starts at the newest offset, so every API instance sees
// comments persisted after it started.
package kafka

import (
	"context"
	"errors"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/commentflow/transport"
)

const TransportName = "kafka"

var errBrokersRequired = errors.New("at least one kafka broker is required")

// Factories are swapped in tests.
var (
	PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
		return kafka.NewPublisher(cfg, logger)
	}
	SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
		return kafka.NewSubscriber(cfg, logger)
	}
	InstanceID = watermill.NewShortUUID
)

func init() {
	transport.Register(TransportName, Build, transport.KafkaCapabilities)
}

// ConsumerGroup is the per-process group derived from the configured prefix.
func ConsumerGroup(prefix, instance string) string {
	if prefix == "" {
		prefix = "commentflow-viewers"
	}
	return prefix + "-" + instance
}

func subscriberSaramaConfig() *sarama.Config {
	cfg := kafka.DefaultSaramaSubscriberConfig()
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	return cfg
}

func Build(_ context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	brokers := cfg.GetKafkaBrokers()
	if len(brokers) == 0 {
		return transport.Transport{}, errBrokersRequired
	}

	publisher, err := PublisherFactory(kafka.PublisherConfig{
		Brokers:   brokers,
		Marshaler: kafka.DefaultMarshaler{},
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(kafka.SubscriberConfig{
		Brokers:               brokers,
		Unmarshaler:           kafka.DefaultMarshaler{},
		ConsumerGroup:         ConsumerGroup(cfg.GetKafkaConsumerGroup(), InstanceID()),
		OverwriteSaramaConfig: subscriberSaramaConfig(),
	}, logger)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}
	return transport.Transport{Publisher: publisher, Subscriber: subscriber}, nil
}
