package kafka

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/kafka-go"
)

// Consumer reads a topic as part of a consumer group. Offsets are
// committed explicitly, after the message has been handled.
type Consumer struct {
	reader *kafka.Reader
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          topic,
			GroupID:        groupID,
			MinBytes:       1,
			MaxBytes:       10e6,
			StartOffset:    kafka.FirstOffset,
			CommitInterval: 0,
		}),
	}
}

func (c *Consumer) Fetch(ctx context.Context) (kafka.Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return kafka.Message{}, errors.Wrap(err, "fetch")
	}
	return msg, nil
}

func (c *Consumer) Commit(ctx context.Context, msg kafka.Message) error {
	return errors.Wrap(c.reader.CommitMessages(ctx, msg), "commit")
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
