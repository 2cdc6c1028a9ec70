package service

import (
	"github.com/cockroachdb/errors"

	"clob/domain/events"
	"clob/domain/orderbook"
)

var (
	ErrUnknownSymbol = errors.New("service: unknown symbol")
	ErrUnknownOrder  = errors.New("service: unknown order")
	// ErrSymbolHalted is returned for every command on a symbol whose
	// matching state can no longer be trusted. An operator restart replays
	// the log.
	ErrSymbolHalted = errors.New("service: symbol halted")
	// ErrPersistence means the command could not be logged. Nothing was
	// applied and the request may be retried as is.
	ErrPersistence = errors.New("service: command log unavailable")
	ErrClosed      = errors.New("service: closed")
)

// IsRetryable reports whether a failed request may be sent again unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrPersistence)
}

// SubmitRequest places a new order. Prices and quantities are in the
// symbol's engine units. OrderID is assigned when empty.
type SubmitRequest struct {
	Symbol        string
	OrderID       string
	ClientOrderID string
	OwnerID       string
	Side          orderbook.Side
	Type          orderbook.OrderType
	TIF           orderbook.TimeInForce
	Price         int64
	StopPrice     int64
	Qty           int64
}

// CancelRequest cancels the remainder of an order. An empty OwnerID skips
// the ownership check.
type CancelRequest struct {
	Symbol  string
	OrderID string
	OwnerID string
}

// AmendRequest changes the price and/or total quantity of a resting
// order; zero keeps the current value.
type AmendRequest struct {
	Symbol  string
	OrderID string
	OwnerID string
	Price   int64
	Qty     int64
}

// Ack is the synchronous outcome of a command. A rejected command has
// Accepted false, a Reason and no sequence number. An accepted command
// carries the events it produced, in order.
type Ack struct {
	Accepted bool
	Seq      uint64
	OrderID  string
	Status   orderbook.Status
	Reason   events.Reason
	Events   []events.Event
}

func rejected(orderID string, reason events.Reason) Ack {
	return Ack{OrderID: orderID, Status: orderbook.StatusRejected, Reason: reason}
}
