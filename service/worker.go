package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"clob/domain/events"
	"clob/domain/ledger"
	"clob/domain/matching"
	"clob/domain/orderbook"
	"clob/domain/symbol"
	"clob/domain/validate"
	"clob/infra/codec"
	"clob/infra/memory"
	"clob/infra/metrics"
	"clob/infra/sequence"
	"clob/infra/wal/entry"
	"clob/infra/wal/exit"
	"clob/snapshot"
)

// CommandLog is the durable, sequenced record of accepted commands.
type CommandLog interface {
	Append(*entry.Record) error
	Replay(from uint64, fn entry.ReplayHandler) (uint64, error)
	TruncateBefore(seq uint64) (int, error)
	Close() error
}

// Outbox stores sequenced events until the relay has delivered them.
type Outbox interface {
	PutNew([]exit.Entry) error
	PutNewIfAbsent([]exit.Entry) (int, error)
	DeleteAckedUpTo(symbol string, seq uint64) (int, error)
}

type job struct {
	ctx  context.Context
	run  func()
	done chan struct{}
}

// worker owns one symbol. Every field below is touched only from run,
// except halted, seq and the channels.
type worker struct {
	sym       *symbol.Symbol
	cfg       Config
	engine    *matching.Engine
	validator *validate.Validator
	seq       *sequence.Sequencer
	log       CommandLog
	outbox    Outbox
	live      events.Publisher
	ledger    ledger.Ledger
	pool      *memory.Pool[orderbook.Order]
	audit     *auditIndex
	metrics   *metrics.Metrics
	logger    *zap.Logger

	jobs    chan job
	quit    chan struct{}
	stopped chan struct{}

	halted    atomic.Bool
	haltErr   error
	replaying bool
}

func (w *worker) run() {
	defer close(w.stopped)

	var depth <-chan time.Time
	if w.cfg.DepthInterval > 0 {
		t := time.NewTicker(w.cfg.DepthInterval)
		defer t.Stop()
		depth = t.C
	}

	for {
		select {
		case <-w.quit:
			return
		case j := <-w.jobs:
			if j.ctx.Err() == nil {
				j.run()
			}
			close(j.done)
		case <-depth:
			w.publishDepth()
		}
	}
}

// do runs fn on the worker and waits for it.
func (w *worker) do(ctx context.Context, fn func()) error {
	j := job{ctx: ctx, run: fn, done: make(chan struct{})}
	select {
	case w.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-w.stopped:
		return ErrClosed
	}
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-w.stopped:
		select {
		case <-j.done:
			return nil
		default:
			return ErrClosed
		}
	}
}

// call runs fn on w and returns its result.
func call[T any](ctx context.Context, w *worker, fn func() (T, error)) (T, error) {
	var (
		out  T
		ferr error
	)
	if err := w.do(ctx, func() { out, ferr = fn() }); err != nil {
		var zero T
		return zero, err
	}
	return out, ferr
}

// ─── Commands ───

func (w *worker) submit(ctx context.Context, req SubmitRequest) (Ack, error) {
	if w.halted.Load() {
		return Ack{}, w.haltedErr()
	}
	cmd := codec.Command{
		Kind:          codec.CmdSubmit,
		Symbol:        w.sym.Name,
		OrderID:       req.OrderID,
		ClientOrderID: req.ClientOrderID,
		OwnerID:       req.OwnerID,
		Side:          req.Side,
		Type:          req.Type,
		TIF:           req.TIF,
		Price:         req.Price,
		StopPrice:     req.StopPrice,
		Qty:           req.Qty,
	}
	if _, live := w.engine.Lookup(cmd.OrderID); live {
		return w.reject(ctx, cmd, events.ReasonDuplicateOrderID), nil
	}
	if _, done := w.audit.get(cmd.OrderID); done {
		return w.reject(ctx, cmd, events.ReasonDuplicateOrderID), nil
	}

	candidate := cmd.Order()
	if reason := w.validator.Submit(ctx, w.sym, w.engine.Book(), &candidate); reason != events.ReasonNone {
		return w.reject(ctx, cmd, reason), nil
	}
	return w.commit(ctx, cmd)
}

func (w *worker) cancel(ctx context.Context, req CancelRequest) (Ack, error) {
	if w.halted.Load() {
		return Ack{}, w.haltedErr()
	}
	cmd := codec.Command{Kind: codec.CmdCancel, Symbol: w.sym.Name, OrderID: req.OrderID, OwnerID: req.OwnerID}

	live, ok := w.engine.Lookup(req.OrderID)
	if !ok {
		f, done := w.audit.get(req.OrderID)
		if !done {
			return w.reject(ctx, cmd, events.ReasonUnknownOrder), nil
		}
		if req.OwnerID != "" && f.owner != req.OwnerID {
			return w.reject(ctx, cmd, events.ReasonNotOwner), nil
		}
		// sequenced as a no-op so the answer is ordered with everything else
		return w.commit(ctx, cmd)
	}
	if reason := w.validator.Cancel(w.sym, live, req.OwnerID); reason != events.ReasonNone {
		return w.reject(ctx, cmd, reason), nil
	}
	return w.commit(ctx, cmd)
}

func (w *worker) amend(ctx context.Context, req AmendRequest) (Ack, error) {
	if w.halted.Load() {
		return Ack{}, w.haltedErr()
	}
	cmd := codec.Command{
		Kind:    codec.CmdAmend,
		Symbol:  w.sym.Name,
		OrderID: req.OrderID,
		OwnerID: req.OwnerID,
		Price:   req.Price,
		Qty:     req.Qty,
	}

	live, ok := w.engine.Lookup(req.OrderID)
	if !ok {
		if _, done := w.audit.get(req.OrderID); done {
			return w.reject(ctx, cmd, events.ReasonNotAmendable), nil
		}
		return w.reject(ctx, cmd, events.ReasonUnknownOrder), nil
	}
	if reason := w.validator.Amend(ctx, w.sym, w.engine.Book(), live, req.OwnerID, req.Price, req.Qty); reason != events.ReasonNone {
		return w.reject(ctx, cmd, reason), nil
	}
	return w.commit(ctx, cmd)
}

// commit sequences, logs, applies and stores a validated command.
func (w *worker) commit(ctx context.Context, cmd codec.Command) (Ack, error) {
	seq := w.seq.Next()
	rec := entry.NewRecord(recordType(cmd.Kind), seq, codec.MarshalCommand(cmd))
	if err := w.appendWithRetry(rec); err != nil {
		if rerr := w.seq.Rollback(seq); rerr != nil {
			w.halt(rerr)
		}
		w.logger.Error("command log append failed", zap.Uint64("seq", seq), zap.Error(err))
		return Ack{}, errors.WithSecondaryError(errors.Wrapf(ErrPersistence, "%s seq %d: %v", w.sym.Name, seq, err), err)
	}

	evs, err := w.apply(cmd, seq, rec.Time)
	if err != nil {
		return Ack{}, err
	}
	if err := w.outbox.PutNew(outboxEntries(w.sym.Key(), evs)); err != nil {
		w.halt(errors.Wrapf(err, "outbox write for seq %d", seq))
		return Ack{}, w.haltedErr()
	}

	w.publish(ctx, evs)
	w.settle(ctx, evs)
	return w.ack(cmd, seq, evs), nil
}

func recordType(k codec.CommandKind) entry.RecordType {
	switch k {
	case codec.CmdCancel:
		return entry.RecordCancel
	case codec.CmdAmend:
		return entry.RecordAmend
	default:
		return entry.RecordSubmit
	}
}

func (w *worker) appendWithRetry(rec *entry.Record) error {
	backoff := w.cfg.WALBackoff
	for attempt := 0; ; attempt++ {
		err := w.log.Append(rec)
		if err == nil {
			return nil
		}
		if errors.Is(err, entry.ErrOutOfOrder) || attempt >= w.cfg.WALRetries {
			return err
		}
		w.metrics.WALRetries.WithLabelValues(w.sym.Name).Inc()
		w.logger.Warn("command log append failed, retrying",
			zap.Uint64("seq", rec.Seq),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		time.Sleep(backoff)
		backoff *= 2
	}
}

// apply runs a sequenced command through the matching core. It is the only
// path that mutates the book, live and during replay alike.
func (w *worker) apply(cmd codec.Command, seq uint64, ts int64) ([]events.Event, error) {
	var (
		evs []events.Event
		err error
	)
	switch cmd.Kind {
	case codec.CmdSubmit:
		o := w.pool.Get()
		*o = cmd.Order()
		evs, err = w.engine.Submit(o, seq, ts)
	case codec.CmdCancel:
		evs, err = w.engine.Cancel(cmd.OrderID, seq, ts)
	case codec.CmdAmend:
		evs, err = w.engine.Amend(cmd.OrderID, cmd.Price, cmd.Qty, seq, ts)
	default:
		err = errors.Wrapf(matching.ErrInvariant, "command kind %d at seq %d", cmd.Kind, seq)
	}
	if err != nil {
		w.halt(err)
		return nil, w.haltedErr()
	}
	w.track(evs)
	return evs, nil
}

func (w *worker) track(evs []events.Event) {
	for _, ev := range evs {
		w.metrics.Events.WithLabelValues(w.sym.Name, ev.Kind.String()).Inc()
		if ev.Kind == events.TradeExecuted {
			w.metrics.Trades.WithLabelValues(w.sym.Name).Inc()
		}
		if ev.Order != nil && ev.Order.Status.Terminal() {
			w.audit.add(ev.Order.ID, finished{
				owner:  ev.Order.OwnerID,
				status: ev.Order.Status,
				qty:    ev.Order.Qty,
				filled: ev.Order.Filled,
			})
		}
	}
	w.metrics.Sequence.WithLabelValues(w.sym.Name).Set(float64(w.seq.Current()))
	w.metrics.RestingOrders.WithLabelValues(w.sym.Name).Set(float64(w.engine.Book().Len()))
}

func (w *worker) ack(cmd codec.Command, seq uint64, evs []events.Event) Ack {
	ack := Ack{Accepted: true, Seq: seq, OrderID: cmd.OrderID, Events: evs}
	found := false
	for _, ev := range evs {
		if ev.Order == nil || ev.Order.ID != cmd.OrderID {
			continue
		}
		found = true
		ack.Status = ev.Order.Status
		if ev.Kind == events.OrderCanceled {
			ack.Reason = ev.Reason
		}
	}
	if !found {
		if f, ok := w.audit.get(cmd.OrderID); ok {
			ack.Status = f.status
		} else if o, ok := w.engine.Lookup(cmd.OrderID); ok {
			ack.Status = o.Status
		}
	}
	return ack
}

func (w *worker) reject(ctx context.Context, cmd codec.Command, reason events.Reason) Ack {
	st := events.OrderState{
		ID:            cmd.OrderID,
		ClientOrderID: cmd.ClientOrderID,
		OwnerID:       cmd.OwnerID,
		Side:          cmd.Side,
		Type:          cmd.Type,
		TIF:           cmd.TIF,
		Status:        orderbook.StatusRejected,
		Price:         cmd.Price,
		StopPrice:     cmd.StopPrice,
		Qty:           cmd.Qty,
	}
	w.publish(ctx, []events.Event{{
		Kind:      events.OrderRejected,
		Symbol:    w.sym.Name,
		Timestamp: time.Now().UnixNano(),
		Order:     &st,
		Reason:    reason,
	}})
	w.logger.Debug("command rejected",
		zap.Stringer("kind", cmd.Kind),
		zap.String("order_id", cmd.OrderID),
		zap.String("reason", string(reason)),
	)
	return rejected(cmd.OrderID, reason)
}

// ─── Side effects ───

func (w *worker) publish(ctx context.Context, evs []events.Event) {
	if w.live == nil || w.replaying || len(evs) == 0 {
		return
	}
	if err := w.live.Publish(context.WithoutCancel(ctx), evs); err != nil {
		w.logger.Warn("live publish failed", zap.Error(err))
	}
}

// settle reports executions to the ledger. Failures are logged; the trade
// itself is already final.
func (w *worker) settle(ctx context.Context, evs []events.Event) {
	for _, ev := range evs {
		if ev.Kind != events.TradeExecuted {
			continue
		}
		t := ev.Trade
		buyer, seller := t.TakerOwnerID, t.MakerOwnerID
		if t.TakerSide == orderbook.Sell {
			buyer, seller = seller, buyer
		}
		err := w.ledger.Settle(context.WithoutCancel(ctx), ledger.Settlement{
			TradeID:  t.ID,
			Symbol:   w.sym.Name,
			Buyer:    buyer,
			Seller:   seller,
			Base:     w.sym.Base,
			Quote:    w.sym.Quote,
			BaseQty:  w.sym.Qty(t.Qty),
			QuoteQty: w.sym.Notional(t.Price, t.Qty),
		})
		if err != nil {
			w.logger.Warn("settlement failed", zap.Uint64("trade_id", t.ID), zap.Error(err))
		}
	}
}

func (w *worker) publishDepth() {
	if w.live == nil {
		return
	}
	d := w.engine.Book().Depth(w.cfg.DepthLevels)
	ev := events.Event{
		Kind:      events.BookDepthSnapshot,
		Symbol:    w.sym.Name,
		Seq:       w.seq.Current(),
		Timestamp: time.Now().UnixNano(),
		Depth:     &d,
	}
	if err := w.live.Publish(context.Background(), []events.Event{ev}); err != nil {
		w.logger.Debug("depth publish failed", zap.Error(err))
	}
}

// halt stops the symbol for good. It is idempotent.
func (w *worker) halt(err error) {
	if w.halted.Load() {
		return
	}
	w.haltErr = err
	w.halted.Store(true)
	w.sym.SetStatus(symbol.Halted)
	w.metrics.Halted.WithLabelValues(w.sym.Name).Set(1)
	w.logger.Error("symbol halted", zap.Uint64("seq", w.seq.Current()), zap.Error(err))
}

func (w *worker) haltedErr() error {
	return errors.Wrapf(ErrSymbolHalted, "%s: %v", w.sym.Name, w.haltErr)
}

// ─── Queries ───

func (w *worker) order(id string) (events.OrderState, bool) {
	if o, ok := w.engine.Lookup(id); ok {
		return events.Snapshot(o), true
	}
	if f, ok := w.audit.get(id); ok {
		return events.OrderState{ID: id, OwnerID: f.owner, Status: f.status, Qty: f.qty, Filled: f.filled}, true
	}
	return events.OrderState{}, false
}

// capture copies the state for a snapshot. The copy shares nothing with
// the live book.
func (w *worker) capture() (*snapshot.Snapshot, error) {
	if w.halted.Load() {
		return nil, w.haltedErr()
	}
	return &snapshot.Snapshot{
		Symbol:   w.sym.Name,
		Seq:      w.seq.Current(),
		Created:  time.Now().UTC(),
		State:    w.engine.Export(),
		Finished: w.audit.export(),
	}, nil
}

func outboxEntries(symbolKey string, evs []events.Event) []exit.Entry {
	out := make([]exit.Entry, 0, len(evs))
	for _, ev := range evs {
		if !ev.Kind.Sequenced() {
			continue
		}
		out = append(out, exit.Entry{
			Key:     exit.Key{Symbol: symbolKey, Seq: ev.Seq, Index: ev.Index},
			Payload: codec.MarshalEvent(ev),
		})
	}
	return out
}
