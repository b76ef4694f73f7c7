package output

import (
	"context"
	"errors"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog/log"

	"github.com/Kellysabi/Sentry-IoT/internal/domain"
)

// KafkaConfig is decoded from the output.kafka settings map.
type KafkaConfig struct {
	Brokers  string `mapstructure:"brokers"`
	Topic    string `mapstructure:"topic"`
	ClientID string `mapstructure:"client_id"`
	Acks     string `mapstructure:"acks"`
}

// ParseKafkaSettings decodes and validates raw settings.
func ParseKafkaSettings(settings map[string]interface{}) (KafkaConfig, error) {
	var conf KafkaConfig
	if err := mapstructure.Decode(settings, &conf); err != nil {
		return conf, fmt.Errorf("invalid kafka config: %w", err)
	}
	if conf.Brokers == "" {
		return conf, errors.New("kafka brokers are required")
	}
	if conf.Topic == "" {
		return conf, errors.New("kafka topic is required")
	}
	if conf.ClientID == "" {
		conf.ClientID = "sentry-iot"
	}
	if conf.Acks == "" {
		conf.Acks = "all"
	}
	return conf, nil
}

// KafkaNotifier produces every alert to a topic, keyed by source address.
type KafkaNotifier struct {
	cfg      KafkaConfig
	producer *kafka.Producer
}

func NewKafkaNotifier(settings map[string]interface{}) (*KafkaNotifier, error) {
	conf, err := ParseKafkaSettings(settings)
	if err != nil {
		return nil, err
	}
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": conf.Brokers,
		"client.id":         conf.ClientID,
		"acks":              conf.Acks,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	log.Info().Str("brokers", conf.Brokers).Str("topic", conf.Topic).Msg("Kafka alert notifier ready")
	return &KafkaNotifier{cfg: conf, producer: producer}, nil
}

func (k *KafkaNotifier) Name() string {
	return "kafka"
}

// Send waits for the delivery report or ctx.
func (k *KafkaNotifier) Send(ctx context.Context, alert *domain.Alert) error {
	if k.producer == nil {
		return errors.New("kafka producer is not initialized")
	}
	data, err := alert.ToJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	deliveryChan := make(chan kafka.Event, 1)
	err = k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &k.cfg.Topic, Partition: kafka.PartitionAny},
		Key:            []byte(alert.SourceIP),
		Value:          data,
		Headers:        []kafka.Header{{Key: "origin", Value: []byte(alert.Origin)}},
	}, deliveryChan)
	if err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	select {
	case e := <-deliveryChan:
		m, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected delivery event %T", e)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("delivery failed: %w", m.TopicPartition.Error)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (k *KafkaNotifier) Flush() error {
	if k.producer == nil {
		return nil
	}
	if remaining := k.producer.Flush(5000); remaining > 0 {
		return fmt.Errorf("%d kafka messages not delivered", remaining)
	}
	return nil
}

func (k *KafkaNotifier) Close() error {
	if k.producer == nil {
		return nil
	}
	err := k.Flush()
	k.producer.Close()
	return err
}
