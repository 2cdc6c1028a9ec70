package matching

import (
	"github.com/cockroachdb/errors"

	"clob/domain/events"
	"clob/domain/orderbook"
)

// State is everything needed to rebuild an Engine exactly: resting orders
// in book order, pending stops in trigger order, and the trade counters.
type State struct {
	Symbol      string
	LastPrice   int64
	NextTradeID uint64
	Orders      []events.OrderState
	Stops       []events.OrderState
}

// Export copies the engine state. It must run on the owning worker.
func (e *Engine) Export() State {
	st := State{
		Symbol:      e.symbol,
		LastPrice:   e.lastPrice,
		NextTradeID: e.nextTradeID,
	}
	for _, o := range e.book.Orders() {
		st.Orders = append(st.Orders, events.Snapshot(o))
	}
	for _, o := range e.stops.all() {
		st.Stops = append(st.Stops, events.Snapshot(o))
	}
	return st
}

// Restore replaces the engine contents with st. alloc supplies order
// objects; nil means plain allocation.
func (e *Engine) Restore(st State, alloc func() *orderbook.Order) error {
	if st.Symbol != e.symbol {
		return errors.Newf("restore %s into engine for %s", st.Symbol, e.symbol)
	}
	if alloc == nil {
		alloc = func() *orderbook.Order { return &orderbook.Order{} }
	}

	e.book = orderbook.NewBook(e.symbol)
	e.stops = newStopBook()
	e.lastPrice = st.LastPrice
	e.nextTradeID = st.NextTradeID
	e.halted = nil

	for _, s := range st.Orders {
		if err := e.book.Insert(fromState(alloc(), e.symbol, s)); err != nil {
			return errors.Wrap(err, "restore resting order")
		}
	}
	for _, s := range st.Stops {
		e.stops.add(fromState(alloc(), e.symbol, s))
	}
	return e.book.Audit()
}

func fromState(o *orderbook.Order, symbol string, s events.OrderState) *orderbook.Order {
	*o = orderbook.Order{
		ID:            s.ID,
		ClientOrderID: s.ClientOrderID,
		Symbol:        symbol,
		OwnerID:       s.OwnerID,
		Side:          s.Side,
		Type:          s.Type,
		TIF:           s.TIF,
		Status:        s.Status,
		Price:         s.Price,
		StopPrice:     s.StopPrice,
		Qty:           s.Qty,
		Filled:        s.Filled,
		Seq:           s.Seq,
		Timestamp:     s.Timestamp,
	}
	return o
}
