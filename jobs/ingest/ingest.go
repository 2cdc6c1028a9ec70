// Package ingest feeds commands from a Kafka topic into the order service
// and writes one ack per command to the reply topic, keyed like the
// command so callers can correlate.
package ingest

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"clob/domain/events"
	"clob/domain/orderbook"
	"clob/infra/codec"
	"clob/infra/metrics"
	"clob/service"
)

type Source interface {
	Fetch(ctx context.Context) (kafka.Message, error)
	Commit(ctx context.Context, msg kafka.Message) error
}

type Sink interface {
	Send(ctx context.Context, key, value []byte) error
}

// Engine is the write side of the order service.
type Engine interface {
	SubmitOrder(ctx context.Context, req service.SubmitRequest) (service.Ack, error)
	CancelOrder(ctx context.Context, req service.CancelRequest) (service.Ack, error)
	AmendOrder(ctx context.Context, req service.AmendRequest) (service.Ack, error)
}

type Ingestor struct {
	src     Source
	acks    Sink
	engine  Engine
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func New(src Source, acks Sink, engine Engine, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Ingestor {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		src:     src,
		acks:    acks,
		engine:  engine,
		timeout: timeout,
		metrics: m,
		logger:  logger.With(zap.String("component", "ingest")),
	}
}

// Run consumes until ctx is done. Offsets are committed after the ack is
// written, so a crash redelivers. Submits must carry their own order id:
// a redelivered submit then comes back as duplicate_order_id instead of
// placing a second order.
func (in *Ingestor) Run(ctx context.Context) error {
	for {
		msg, err := in.src.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			in.logger.Warn("fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if err := in.Handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Handle processes one message and commits it.
func (in *Ingestor) Handle(ctx context.Context, msg kafka.Message) error {
	reply := in.dispatch(ctx, msg)
	if err := in.acks.Send(ctx, msg.Key, reply); err != nil {
		return errors.Wrapf(err, "ack for offset %d", msg.Offset)
	}
	return in.src.Commit(ctx, msg)
}

func (in *Ingestor) dispatch(ctx context.Context, msg kafka.Message) []byte {
	cmd, err := codec.UnmarshalCommand(msg.Value)
	if err != nil {
		in.metrics.IngestMessages.WithLabelValues("malformed").Inc()
		in.logger.Warn("dropping malformed command",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err),
		)
		return MarshalAck(service.Ack{}, err)
	}

	if cmd.Kind == codec.CmdSubmit && cmd.OrderID == "" {
		in.metrics.IngestMessages.WithLabelValues("rejected").Inc()
		in.logger.Debug("submit without order id",
			zap.String("symbol", cmd.Symbol),
			zap.Int64("offset", msg.Offset),
		)
		return MarshalAck(service.Ack{Status: orderbook.StatusRejected, Reason: events.ReasonMissingOrderID}, nil)
	}

	cctx, cancel := context.WithTimeout(ctx, in.timeout)
	defer cancel()

	var ack service.Ack
	switch cmd.Kind {
	case codec.CmdSubmit:
		ack, err = in.engine.SubmitOrder(cctx, service.SubmitRequest{
			Symbol:        cmd.Symbol,
			OrderID:       cmd.OrderID,
			ClientOrderID: cmd.ClientOrderID,
			OwnerID:       cmd.OwnerID,
			Side:          cmd.Side,
			Type:          cmd.Type,
			TIF:           cmd.TIF,
			Price:         cmd.Price,
			StopPrice:     cmd.StopPrice,
			Qty:           cmd.Qty,
		})
	case codec.CmdCancel:
		ack, err = in.engine.CancelOrder(cctx, service.CancelRequest{
			Symbol:  cmd.Symbol,
			OrderID: cmd.OrderID,
			OwnerID: cmd.OwnerID,
		})
	case codec.CmdAmend:
		ack, err = in.engine.AmendOrder(cctx, service.AmendRequest{
			Symbol:  cmd.Symbol,
			OrderID: cmd.OrderID,
			OwnerID: cmd.OwnerID,
			Price:   cmd.Price,
			Qty:     cmd.Qty,
		})
	}

	switch {
	case err != nil:
		in.metrics.IngestMessages.WithLabelValues("error").Inc()
		in.logger.Warn("command failed", zap.Stringer("kind", cmd.Kind), zap.String("symbol", cmd.Symbol), zap.Error(err))
	case ack.Accepted:
		in.metrics.IngestMessages.WithLabelValues("accepted").Inc()
	default:
		in.metrics.IngestMessages.WithLabelValues("rejected").Inc()
	}
	return MarshalAck(ack, err)
}
