// Package broadcaster relays the outbox to Kafka. It is the only reader of
// NEW and SENT outbox entries and the only writer of their delivery state.
package broadcaster

import (
	"context"
	"strconv"
	"time"

	"github.com/IBM/sarama"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	exitwal "clob/infra/wal/exit"
	"clob/infra/metrics"
)

// Store is the part of the outbox the relay needs.
type Store interface {
	ScanByState(fn func(exitwal.Entry) error, states ...exitwal.ExitState) error
	UpdateState(k exitwal.Key, state exitwal.ExitState, retries uint32) error
	Counts() (map[exitwal.ExitState]int, error)
}

type Config struct {
	Topic      string
	Interval   time.Duration
	MaxRetries uint32 // attempts before an entry is parked as FAILED
}

type Broadcaster struct {
	store    Store
	producer sarama.SyncProducer
	cfg      Config
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// ------------------------------------------------
// CONSTRUCTOR
// ------------------------------------------------

// NewProducer builds the synchronous producer the relay publishes with.
func NewProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "kafka producer")
	}
	return p, nil
}

func New(store Store, producer sarama.SyncProducer, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Broadcaster {
	if cfg.Interval <= 0 {
		cfg.Interval = 250 * time.Millisecond
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		store:    store,
		producer: producer,
		cfg:      cfg,
		metrics:  m,
		logger:   logger.With(zap.String("component", "broadcaster")),
	}
}

// ------------------------------------------------
// START LOOP
// ------------------------------------------------

func (b *Broadcaster) Start(ctx context.Context) {
	b.logger.Info("broadcaster started", zap.String("topic", b.cfg.Topic))

	go func() {
		ticker := time.NewTicker(b.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return

			case <-ticker.C:
				if _, err := b.RelayOnce(); err != nil {
					b.logger.Error("relay pass failed", zap.Error(err))
				}
			}
		}
	}()
}

// ------------------------------------------------
// RELAY
// ------------------------------------------------

// RelayOnce publishes every undelivered entry once, in outbox key order,
// and returns how many were acknowledged. Entries are keyed by symbol so
// one symbol's events land on one partition in sequence order. After a
// failed send the rest of that symbol waits for the next pass.
func (b *Broadcaster) RelayOnce() (int, error) {
	blocked := make(map[string]bool)
	acked := 0

	err := b.store.ScanByState(func(e exitwal.Entry) error {
		if blocked[e.Key.Symbol] {
			return nil
		}

		// 1️⃣ Mark SENT before the attempt so a crash leaves evidence
		if e.Record.State == exitwal.StateNew {
			if err := b.store.UpdateState(e.Key, exitwal.StateSent, e.Record.Retries); err != nil {
				return err
			}
		}

		// 2️⃣ Publish
		_, _, err := b.producer.SendMessage(b.message(e))
		if err != nil {
			blocked[e.Key.Symbol] = true
			return b.failed(e, err)
		}

		// 3️⃣ Mark ACKED
		if err := b.store.UpdateState(e.Key, exitwal.StateAcked, e.Record.Retries); err != nil {
			return err
		}
		b.metrics.Relayed.WithLabelValues("ok").Inc()
		acked++
		return nil
	}, exitwal.StateNew, exitwal.StateSent)

	b.updateBacklog()
	return acked, err
}

func (b *Broadcaster) message(e exitwal.Entry) *sarama.ProducerMessage {
	return &sarama.ProducerMessage{
		Topic: b.cfg.Topic,
		Key:   sarama.StringEncoder(e.Key.Symbol),
		Value: sarama.ByteEncoder(e.Payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("seq"), Value: []byte(strconv.FormatUint(e.Key.Seq, 10))},
			{Key: []byte("index"), Value: []byte(strconv.FormatUint(uint64(e.Key.Index), 10))},
		},
	}
}

func (b *Broadcaster) failed(e exitwal.Entry, sendErr error) error {
	retries := e.Record.Retries + 1
	if retries >= b.cfg.MaxRetries {
		b.metrics.Relayed.WithLabelValues("failed").Inc()
		b.logger.Error("event parked after repeated send failures",
			zap.Stringer("key", e.Key),
			zap.Uint32("retries", retries),
			zap.Error(sendErr),
		)
		return b.store.UpdateState(e.Key, exitwal.StateFailed, retries)
	}
	b.metrics.Relayed.WithLabelValues("retry").Inc()
	b.logger.Warn("event send failed", zap.Stringer("key", e.Key), zap.Uint32("retries", retries), zap.Error(sendErr))
	return b.store.UpdateState(e.Key, exitwal.StateSent, retries)
}

func (b *Broadcaster) updateBacklog() {
	counts, err := b.store.Counts()
	if err != nil {
		b.logger.Warn("outbox count failed", zap.Error(err))
		return
	}
	for _, st := range []exitwal.ExitState{exitwal.StateNew, exitwal.StateSent, exitwal.StateAcked, exitwal.StateFailed} {
		b.metrics.OutboxBacklog.WithLabelValues(st.String()).Set(float64(counts[st]))
	}
}

// ------------------------------------------------
// SHUTDOWN
// ------------------------------------------------

func (b *Broadcaster) Close() error {
	return b.producer.Close()
}
