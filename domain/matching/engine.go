package matching

import (
	"strings"

	"github.com/cockroachdb/errors"

	"clob/domain/events"
	"clob/domain/orderbook"
)

var (
	// ErrInvariant marks a broken book invariant. It is fatal for the symbol.
	ErrInvariant = errors.New("matching: invariant violated")
	// ErrHalted is returned for every command after an invariant violation.
	ErrHalted = errors.New("matching: symbol halted")
)

// STPPolicy decides what happens when a taker meets a resting order of
// the same owner.
type STPPolicy uint8

const (
	// STPReject refuses the incoming order before it is sequenced.
	STPReject STPPolicy = iota
	// STPCancelResting cancels the resting order and keeps matching.
	STPCancelResting
)

func (p STPPolicy) String() string {
	if p == STPCancelResting {
		return "cancel_resting"
	}
	return "reject"
}

func ParseSTP(s string) (STPPolicy, error) {
	switch strings.ToLower(s) {
	case "", "reject":
		return STPReject, nil
	case "cancel_resting", "cancel-resting":
		return STPCancelResting, nil
	}
	return STPReject, errors.Newf("unknown self-trade policy %q", s)
}

type Option func(*Engine)

// WithRecycler hands every order that leaves the engine for good to fn,
// after the events describing it have been built.
func WithRecycler(fn func(*orderbook.Order)) Option {
	return func(e *Engine) { e.recycle = fn }
}

// WithAudit runs the full book audit after every command instead of the
// cheap crossed-book check.
func WithAudit() Option {
	return func(e *Engine) { e.audit = true }
}

// Engine is the matching core of one symbol. It is not safe for concurrent
// use; the owning worker serializes every call.
type Engine struct {
	symbol string
	book   *orderbook.Book
	stops  *stopBook
	stp    STPPolicy

	lastPrice   int64
	nextTradeID uint64
	halted      error

	recycle func(*orderbook.Order)
	audit   bool

	// per-command scratch
	seq     uint64
	ts      int64
	out     []events.Event
	retired []*orderbook.Order
}

func New(symbol string, stp STPPolicy, opts ...Option) *Engine {
	e := &Engine{
		symbol:      symbol,
		book:        orderbook.NewBook(symbol),
		stops:       newStopBook(),
		stp:         stp,
		nextTradeID: 1,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Symbol() string { return e.symbol }
func (e *Engine) Book() *orderbook.Book { return e.book }
func (e *Engine) Policy() STPPolicy { return e.stp }
func (e *Engine) LastPrice() int64 { return e.lastPrice }
func (e *Engine) Halted() error { return e.halted }
func (e *Engine) PendingStops() int { return e.stops.len() }
func (e *Engine) NextTradeID() uint64 { return e.nextTradeID }

// Lookup finds a live order, resting or pending.
func (e *Engine) Lookup(id string) (*orderbook.Order, bool) {
	if o, ok := e.book.Get(id); ok {
		return o, true
	}
	return e.stops.get(id)
}

// ─── Commands ───

// Submit processes an accepted order under sequence number seq.
func (e *Engine) Submit(o *orderbook.Order, seq uint64, ts int64) ([]events.Event, error) {
	if err := e.begin(seq, ts); err != nil {
		return nil, err
	}
	if _, dup := e.Lookup(o.ID); dup {
		return e.fail(errors.Wrapf(ErrInvariant, "order %s already live", o.ID))
	}

	o.Seq = seq
	o.Timestamp = ts
	o.Filled = 0

	if o.Type == orderbook.Stop {
		o.Status = orderbook.StatusPending
		e.emitOrder(events.OrderAccepted, o, events.ReasonNone)
		e.stops.add(o)
	} else {
		o.Status = orderbook.StatusNew
		e.emitOrder(events.OrderAccepted, o, events.ReasonNone)
		if err := e.execute(o); err != nil {
			return e.fail(err)
		}
	}
	return e.finish()
}

// Cancel removes the unfilled remainder of a live order.
func (e *Engine) Cancel(id string, seq uint64, ts int64) ([]events.Event, error) {
	if err := e.begin(seq, ts); err != nil {
		return nil, err
	}
	o, ok := e.book.Remove(id)
	if !ok {
		o, ok = e.stops.remove(id)
	}
	if ok {
		e.cancel(o, events.ReasonUserCanceled)
	}
	return e.finish()
}

// Amend changes price and/or total quantity of a resting order; zero means
// unchanged. A pure size reduction keeps queue priority, anything else
// re-queues the order under seq and lets it trade.
func (e *Engine) Amend(id string, price, qty int64, seq uint64, ts int64) ([]events.Event, error) {
	if err := e.begin(seq, ts); err != nil {
		return nil, err
	}
	o, ok := e.book.Get(id)
	if !ok {
		return e.finish()
	}
	if price == 0 {
		price = o.Price
	}
	if qty == 0 {
		qty = o.Qty
	}

	if price == o.Price && qty < o.Qty {
		if err := e.book.Reduce(o, qty); err != nil {
			return e.fail(violation(err))
		}
		e.emitOrder(events.OrderAmended, o, events.ReasonNone)
		return e.finish()
	}

	e.book.Remove(id)
	o.Price = price
	o.Qty = qty
	o.Seq = seq
	o.Timestamp = ts
	e.emitOrder(events.OrderAmended, o, events.ReasonNone)
	if err := e.execute(o); err != nil {
		return e.fail(err)
	}
	return e.finish()
}

// ─── Matching ───

// execute crosses taker against the book and disposes of its remainder.
func (e *Engine) execute(taker *orderbook.Order) error {
	skipOwn := e.stp == STPCancelResting

	switch {
	case taker.TIF == orderbook.FOK:
		if p := e.book.Preview(taker, skipOwn); p.Fillable < taker.Remaining() || p.SelfTrade {
			e.cancel(taker, events.ReasonFOKUnfillable)
			return nil
		}
	case taker.TIF == orderbook.PostOnly:
		if e.book.WouldCross(taker) {
			e.cancel(taker, events.ReasonPostOnlyWouldCross)
			return nil
		}
	}

	opp := taker.Side.Opposite()
	for taker.Remaining() > 0 {
		lvl := e.book.BestLevel(opp)
		if lvl == nil || !taker.Crosses(lvl.Price) {
			break
		}
		maker := lvl.Head()

		if maker.OwnerID == taker.OwnerID && taker.OwnerID != "" {
			if !skipOwn {
				e.cancel(taker, events.ReasonSelfTradePrevented)
				return nil
			}
			e.book.Remove(maker.ID)
			e.cancel(maker, events.ReasonSelfTradePrevented)
			continue
		}

		qty := min(taker.Remaining(), maker.Remaining())
		price := maker.Price
		if err := e.book.Fill(maker, qty); err != nil {
			return violation(err)
		}
		taker.Filled += qty
		if taker.Remaining() == 0 {
			taker.Status = orderbook.StatusFilled
		} else {
			taker.Status = orderbook.StatusPartiallyFilled
		}
		if taker.Remaining() < 0 || maker.Remaining() < 0 {
			return errors.Wrapf(ErrInvariant, "negative remaining taker=%d maker=%d", taker.Remaining(), maker.Remaining())
		}

		e.trade(maker, taker, price, qty)
		if maker.Status == orderbook.StatusFilled {
			e.retired = append(e.retired, maker)
		}
	}

	switch {
	case taker.Remaining() == 0:
		e.retired = append(e.retired, taker)
	case taker.IsMarket():
		e.cancel(taker, events.ReasonNoLiquidity)
	case taker.TIF == orderbook.IOC || taker.TIF == orderbook.FOK:
		e.cancel(taker, events.ReasonIOCRemainder)
	default:
		if err := e.book.Insert(taker); err != nil {
			return violation(err)
		}
	}
	return nil
}

func (e *Engine) trade(maker, taker *orderbook.Order, price, qty int64) {
	t := &events.Trade{
		ID:           e.nextTradeID,
		Symbol:       e.symbol,
		MakerOrderID: maker.ID,
		TakerOrderID: taker.ID,
		MakerOwnerID: maker.OwnerID,
		TakerOwnerID: taker.OwnerID,
		TakerSide:    taker.Side,
		Price:        price,
		Qty:          qty,
		Timestamp:    e.ts,
		Seq:          e.seq,
	}
	e.nextTradeID++
	e.lastPrice = price

	e.emit(events.Event{Kind: events.TradeExecuted, Trade: t})
	e.emitFill(maker, price, qty)
	e.emitFill(taker, price, qty)
}

// fireStops converts every stop the last trade price has reached into a
// taker, cascading until no more trigger.
func (e *Engine) fireStops() error {
	for {
		o := e.stops.popTriggered(e.lastPrice)
		if o == nil {
			return nil
		}
		o.Status = orderbook.StatusNew
		o.Seq = e.seq
		e.emitOrder(events.StopTriggered, o, events.ReasonNone)
		if err := e.execute(o); err != nil {
			return err
		}
	}
}

func (e *Engine) cancel(o *orderbook.Order, reason events.Reason) {
	o.Status = orderbook.StatusCanceled
	e.emitOrder(events.OrderCanceled, o, reason)
	e.retired = append(e.retired, o)
}

// ─── Command bookkeeping ───

func (e *Engine) begin(seq uint64, ts int64) error {
	if e.halted != nil {
		return errors.Wrapf(ErrHalted, "%s: %v", e.symbol, e.halted)
	}
	e.seq = seq
	e.ts = ts
	e.out = nil
	e.retired = e.retired[:0]
	return nil
}

func (e *Engine) finish() ([]events.Event, error) {
	if err := e.fireStops(); err != nil {
		return e.fail(err)
	}
	check := e.book.CheckCrossed
	if e.audit {
		check = e.book.Audit
	}
	if err := check(); err != nil {
		return e.fail(violation(err))
	}

	out := e.out
	e.out = nil
	if e.recycle != nil {
		for _, o := range e.retired {
			e.recycle(o)
		}
	}
	e.retired = e.retired[:0]
	return out, nil
}

// violation puts ErrInvariant in the chain of err and keeps err as detail.
func violation(err error) error {
	return errors.WithSecondaryError(errors.Wrapf(ErrInvariant, "%v", err), err)
}

// fail halts the symbol. The events built so far are returned so the
// caller can record what happened before the violation.
func (e *Engine) fail(err error) ([]events.Event, error) {
	if !errors.Is(err, ErrInvariant) {
		err = violation(err)
	}
	e.halted = err
	out := e.out
	e.out = nil
	e.retired = e.retired[:0]
	return out, err
}

func (e *Engine) emit(ev events.Event) {
	ev.Symbol = e.symbol
	ev.Seq = e.seq
	ev.Index = uint32(len(e.out))
	ev.Timestamp = e.ts
	e.out = append(e.out, ev)
}

func (e *Engine) emitOrder(kind events.Kind, o *orderbook.Order, reason events.Reason) {
	st := events.Snapshot(o)
	e.emit(events.Event{Kind: kind, Order: &st, Reason: reason})
}

func (e *Engine) emitFill(o *orderbook.Order, price, qty int64) {
	st := events.Snapshot(o)
	e.emit(events.Event{
		Kind:      events.OrderFilled,
		Order:     &st,
		FullFill:  o.Remaining() == 0,
		FillPrice: price,
		FillQty:   qty,
	})
}
