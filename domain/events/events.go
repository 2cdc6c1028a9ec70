// Package events is the outbound vocabulary of the engine: order lifecycle
// events, trades and depth snapshots, all tagged with symbol and sequence
// number, plus the Publisher contract downstream sinks implement.
package events

import (
	"context"

	"clob/domain/orderbook"
)

type Kind uint8

const (
	OrderAccepted Kind = iota + 1
	OrderRejected
	OrderFilled
	OrderCanceled
	OrderAmended
	StopTriggered
	TradeExecuted
	BookDepthSnapshot
)

func (k Kind) String() string {
	switch k {
	case OrderAccepted:
		return "OrderAccepted"
	case OrderRejected:
		return "OrderRejected"
	case OrderFilled:
		return "OrderFilled"
	case OrderCanceled:
		return "OrderCanceled"
	case OrderAmended:
		return "OrderAmended"
	case StopTriggered:
		return "StopTriggered"
	case TradeExecuted:
		return "Trade"
	case BookDepthSnapshot:
		return "BookDepthSnapshot"
	default:
		return "Unknown"
	}
}

// Sequenced reports whether events of this kind are produced by a
// sequenced command and therefore belong in the durable stream.
func (k Kind) Sequenced() bool {
	return k != OrderRejected && k != BookDepthSnapshot
}

// OrderState is an immutable copy of an order at the moment of an event.
type OrderState struct {
	ID            string
	ClientOrderID string
	OwnerID       string
	Side          orderbook.Side
	Type          orderbook.OrderType
	TIF           orderbook.TimeInForce
	Status        orderbook.Status
	Price         int64
	StopPrice     int64
	Qty           int64
	Filled        int64
	Seq           uint64
	Timestamp     int64
}

func Snapshot(o *orderbook.Order) OrderState {
	return OrderState{
		ID:            o.ID,
		ClientOrderID: o.ClientOrderID,
		OwnerID:       o.OwnerID,
		Side:          o.Side,
		Type:          o.Type,
		TIF:           o.TIF,
		Status:        o.Status,
		Price:         o.Price,
		StopPrice:     o.StopPrice,
		Qty:           o.Qty,
		Filled:        o.Filled,
		Seq:           o.Seq,
		Timestamp:     o.Timestamp,
	}
}

func (s OrderState) Remaining() int64 {
	return s.Qty - s.Filled
}

// Trade is one execution between a resting maker and an incoming taker,
// always at the maker's price.
type Trade struct {
	ID           uint64
	Symbol       string
	MakerOrderID string
	TakerOrderID string
	MakerOwnerID string
	TakerOwnerID string
	TakerSide    orderbook.Side
	Price        int64
	Qty          int64
	Timestamp    int64
	Seq          uint64
}

// Event is a tagged union; exactly one of Order, Trade or Depth is set.
type Event struct {
	Kind      Kind
	Symbol    string
	Seq       uint64
	Index     uint32 // position among the events of one command
	Timestamp int64

	Order  *OrderState
	Trade  *Trade
	Depth  *orderbook.Depth
	Reason Reason
	// FullFill distinguishes a complete OrderFilled from a partial one.
	FullFill bool
	// FillQty and FillPrice are the execution that produced an OrderFilled.
	FillQty   int64
	FillPrice int64
}

// Publisher receives events in sequence order.
type Publisher interface {
	Publish(ctx context.Context, evs []Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, evs []Event) error

func (f PublisherFunc) Publish(ctx context.Context, evs []Event) error {
	return f(ctx, evs)
}

// Fanout delivers to every publisher and returns the first error.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, evs []Event) error {
	var first error
	for _, p := range f {
		if err := p.Publish(ctx, evs); err != nil && first == nil {
			first = err
		}
	}
	return first
}
