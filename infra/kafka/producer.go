// Package kafka wraps the kafka-go reader and writer the engine uses for
// command ingest and acknowledgments.
package kafka

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/kafka-go"
)

// ContentType marks payloads as protobuf wire format.
const ContentType = "application/x-protobuf"

// Producer is a synchronous keyed writer for one topic. Acks reuse the key
// of the command they answer, so the hash balancer keeps a caller's
// replies on one partition and in order.
type Producer struct {
	topic  string
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		topic: topic,
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			BatchTimeout:           5 * time.Millisecond,
			AllowAutoTopicCreation: false,
		},
	}
}

// Send blocks until every in-sync replica has the message.
func (p *Producer) Send(ctx context.Context, key, value []byte) error {
	msg := kafka.Message{
		Key:     key,
		Value:   value,
		Headers: []kafka.Header{{Key: "content-type", Value: []byte(ContentType)}},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "write to %s", p.topic)
	}
	return nil
}

func (p *Producer) Close() error {
	return errors.Wrapf(p.writer.Close(), "close writer for %s", p.topic)
}
