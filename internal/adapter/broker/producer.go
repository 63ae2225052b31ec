package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dontpanicw/ProductImages/config"
	"github.com/dontpanicw/ProductImages/internal/domain"
	"github.com/dontpanicw/ProductImages/internal/port"
	"github.com/segmentio/kafka-go"
)

var (
	_ port.Producer = (*Producer)(nil)
	_ port.Producer = NoopProducer{}
)

// messageWriter is the subset of *kafka.Writer the producer needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	writer messageWriter
}

func NewProducer(cfg *config.Config) *Producer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.KafkaBrokers...),
		Topic:                  cfg.KafkaEventsTopic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		Async:                  false,
		WriteTimeout:           10 * time.Second,
		ReadTimeout:            10 * time.Second,
		AllowAutoTopicCreation: true,
	}

	go ensureTopic(cfg.KafkaBrokers[0], cfg.KafkaEventsTopic)

	return &Producer{writer: writer}
}

// ensureTopic creates the events topic through the cluster controller. An
// existing topic is reported and otherwise ignored.
func ensureTopic(broker, topic string) {
	log := slog.With("op", "broker.ensureTopic", "topic", topic)

	conn, err := kafka.Dial("tcp", broker)
	if err != nil {
		log.Warn("failed to dial Kafka for topic creation", "err", err)
		return
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		log.Warn("failed to get Kafka controller", "err", err)
		return
	}

	controllerConn, err := kafka.Dial("tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	if err != nil {
		log.Warn("failed to dial Kafka controller", "err", err)
		return
	}
	defer controllerConn.Close()

	err = controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     3,
		ReplicationFactor: 1,
	})
	if err != nil {
		log.Info("topic creation skipped", "reason", err)
		return
	}
	log.Info("topic created")
}

// SendImagesAppended publishes the event keyed by product name so events for
// one product stay ordered within a partition.
func (p *Producer) SendImagesAppended(ctx context.Context, event domain.ImagesAppendedEvent) error {
	const op = "Producer.SendImagesAppended"
	log := slog.With("op", op, "productName", event.ProductName)

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("%s: failed to marshal event: %w", op, err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	err = p.writer.WriteMessages(sendCtx, kafka.Message{
		Key:   []byte(event.ProductName),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("%s: failed to write message: %w", op, err)
	}

	log.Debug("event published", "images", len(event.Images))
	return nil
}

func (p *Producer) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}

// NoopProducer is used when no brokers are configured.
type NoopProducer struct{}

func (NoopProducer) SendImagesAppended(context.Context, domain.ImagesAppendedEvent) error {
	return nil
}
