package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/weiawesome/peace-chat/pkg/log"
)

// TopicName converts an event type into a Kafka topic.
//
//	("chat", "message.stored") → "chat-message.stored"
func TopicName(prefix, eventType string) string {
	return prefix + "-" + eventType
}

// KafkaPublisher produces events to one topic per event type, keyed by
// Event.Key so a user's activity stays ordered within a partition.
type KafkaPublisher struct {
	producer *kafka.Producer
	config   KafkaConfig
	prefix   string
	doneCh   chan struct{}
}

// NewKafkaPublisher creates a new Kafka-based Publisher.
func NewKafkaPublisher(cfg KafkaConfig, prefix string) (*KafkaPublisher, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": cfg.Brokers,
		"acks":              "1",
		"linger.ms":         5,
		"compression.type":  "snappy",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	kp := &KafkaPublisher{
		producer: p,
		config:   cfg,
		prefix:   prefix,
		doneCh:   make(chan struct{}),
	}

	go kp.deliveryReportHandler()

	return kp, nil
}

// EnsureTopics creates the topics for the given event types if missing.
func (k *KafkaPublisher) EnsureTopics(ctx context.Context, eventTypes ...string) error {
	admin, err := kafka.NewAdminClientFromProducer(k.producer)
	if err != nil {
		return fmt.Errorf("failed to create admin client: %w", err)
	}
	defer admin.Close()

	partitions := k.config.Partitions
	if partitions <= 0 {
		partitions = 4
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	specs := make([]kafka.TopicSpecification, 0, len(eventTypes))
	for _, t := range eventTypes {
		specs = append(specs, kafka.TopicSpecification{
			Topic:             TopicName(k.prefix, t),
			NumPartitions:     partitions,
			ReplicationFactor: 1,
		})
	}

	results, err := admin.CreateTopics(ctx, specs)
	if err != nil {
		return fmt.Errorf("failed to create topics: %w", err)
	}

	for _, r := range results {
		if r.Error.Code() != kafka.ErrNoError && r.Error.Code() != kafka.ErrTopicAlreadyExists {
			log.L().Warn().Str("topic", r.Topic).Err(r.Error).Msg("failed to create kafka topic")
		}
	}

	return nil
}

func (k *KafkaPublisher) deliveryReportHandler() {
	for e := range k.producer.Events() {
		if ev, ok := e.(*kafka.Message); ok && ev.TopicPartition.Error != nil {
			log.L().Warn().Err(ev.TopicPartition.Error).Msg("kafka delivery failed")
		}
	}
	close(k.doneCh)
}

// Publish produces an event to its type topic.
func (k *KafkaPublisher) Publish(ctx context.Context, event *Event) error {
	topic := TopicName(k.prefix, event.Type)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	err = k.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{
			Topic:     &topic,
			Partition: kafka.PartitionAny,
		},
		Key:   []byte(event.Key),
		Value: data,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	return nil
}

// Close flushes pending messages and closes the producer.
func (k *KafkaPublisher) Close() error {
	k.producer.Flush(5000)
	k.producer.Close()
	<-k.doneCh
	return nil
}
