package queue

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"net"
	"strconv"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/smukkama/mobility-server/internal/protocol"
)

// Producer publishes trip messages to one topic. Messages are keyed by trip
// id, so every message about a trip lands on the same partition.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer creates a producer for topic
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     tripBalancer{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

// PublishMessages encodes and writes msgs in one request
func (p *Producer) PublishMessages(ctx context.Context, msgs []*protocol.TripMessage) error {
	records, err := encodeMessages(msgs)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, records...); err != nil {
		return fmt.Errorf("failed to publish %d messages to %s: %w", len(records), p.writer.Topic, err)
	}
	return nil
}

// Close flushes pending writes and closes the producer
func (p *Producer) Close() error {
	return p.writer.Close()
}

func encodeMessages(msgs []*protocol.TripMessage) ([]kafka.Message, error) {
	records := make([]kafka.Message, len(msgs))
	for i, msg := range msgs {
		data, err := protocol.EncodeTripMessage(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to encode message for %s: %w", msg.Key(), err)
		}
		records[i] = kafka.Message{Key: []byte(msg.Key()), Value: data}
	}
	return records, nil
}

// PartitionFor maps a trip id onto one of numPartitions partitions
func PartitionFor(tripID string, numPartitions int) int {
	if numPartitions <= 0 {
		return 0
	}
	return int(crc32.ChecksumIEEE([]byte(tripID)) % uint32(numPartitions))
}

// tripBalancer places messages with PartitionFor on their key
type tripBalancer struct{}

func (tripBalancer) Balance(msg kafka.Message, partitions ...int) int {
	if len(partitions) == 0 {
		return 0
	}
	return partitions[PartitionFor(string(msg.Key), len(partitions))]
}

// Consumer reads a topic as part of a consumer group. Offsets are committed
// explicitly once a batch has been stored.
type Consumer struct {
	reader *kafka.Reader
}

// NewConsumer creates a consumer that starts from the oldest offset when the
// group has none committed
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          topic,
			GroupID:        groupID,
			MinBytes:       1,
			MaxBytes:       10e6,
			CommitInterval: 0,
			StartOffset:    kafka.FirstOffset,
		}),
	}
}

// Consume fetches the next message without committing it
func (c *Consumer) Consume(ctx context.Context) (kafka.Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to fetch message: %w", err)
	}
	return msg, nil
}

// Commit acknowledges msgs for the group
func (c *Consumer) Commit(ctx context.Context, msgs ...kafka.Message) error {
	if err := c.reader.CommitMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to commit %d offsets: %w", len(msgs), err)
	}
	return nil
}

// Close leaves the group and closes the consumer
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// Stats returns the reader statistics since the last call
func (c *Consumer) Stats() kafka.ReaderStats {
	return c.reader.Stats()
}

// EnsureTopics creates the trip topics on the cluster controller. Topics that
// already exist are left as they are.
func EnsureTopics(ctx context.Context, brokers []string, partitions, replicationFactor int, logger *zap.Logger, topics ...string) error {
	if len(brokers) == 0 {
		return errors.New("failed to create topics: no brokers configured")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := kafka.DialContext(ctx, "tcp", brokers[0])
	if err != nil {
		return fmt.Errorf("failed to dial broker: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to get controller: %w", err)
	}

	addr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	controllerConn, err := kafka.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to dial controller %s: %w", addr, err)
	}
	defer controllerConn.Close()

	for _, topic := range topics {
		err := controllerConn.CreateTopics(kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     partitions,
			ReplicationFactor: replicationFactor,
		})
		switch {
		case errors.Is(err, kafka.TopicAlreadyExists):
			logger.Debug("topic exists", zap.String("topic", topic))
		case err != nil:
			return fmt.Errorf("failed to create topic %s: %w", topic, err)
		default:
			logger.Info("created topic", zap.String("topic", topic), zap.Int("partitions", partitions))
		}
	}
	return nil
}
