package orderbook

type Side uint8
type OrderType uint8
type TimeInForce uint8
type Status uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Sell {
		return "sell"
	}
	return "buy"
}

// Opposite returns the side a taker on s matches against.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

const (
	Limit OrderType = iota
	Market
	// Stop waits off-book until the last trade price reaches StopPrice.
	// With a Price it triggers into a limit order, without one into a market order.
	Stop
)

func (t OrderType) String() string {
	switch t {
	case Limit:
		return "limit"
	case Market:
		return "market"
	case Stop:
		return "stop"
	default:
		return "unknown"
	}
}

const (
	GTC TimeInForce = iota
	IOC
	FOK
	PostOnly
)

func (t TimeInForce) String() string {
	switch t {
	case GTC:
		return "GTC"
	case IOC:
		return "IOC"
	case FOK:
		return "FOK"
	case PostOnly:
		return "POST_ONLY"
	default:
		return "UNKNOWN"
	}
}

const (
	StatusNew Status = iota
	StatusPartiallyFilled
	StatusFilled
	StatusCanceled
	StatusRejected
	StatusPending
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusPartiallyFilled:
		return "partially_filled"
	case StatusFilled:
		return "filled"
	case StatusCanceled:
		return "canceled"
	case StatusRejected:
		return "rejected"
	case StatusPending:
		return "pending"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusFilled || s == StatusCanceled || s == StatusRejected
}

// Order is a pure domain entity. Price, StopPrice are in ticks of the
// symbol's price scale, Qty and Filled in units of its quantity scale.
type Order struct {
	ID            string
	ClientOrderID string
	Symbol        string
	OwnerID       string

	Side      Side
	Type      OrderType
	TIF       TimeInForce
	Status    Status
	Price     int64
	StopPrice int64
	Qty       int64
	Filled    int64

	// Seq is the sequence number of the command that last queued the order.
	// It orders the FIFO inside a level.
	Seq       uint64
	Timestamp int64

	level *PriceLevel
	next  *Order
	prev  *Order
}

func (o *Order) Remaining() int64 {
	return o.Qty - o.Filled
}

// IsMarket reports whether the order trades without a limit price.
func (o *Order) IsMarket() bool {
	return o.Type == Market || (o.Type == Stop && o.Price == 0)
}

// Crosses reports whether a resting price is acceptable to o.
func (o *Order) Crosses(price int64) bool {
	if o.IsMarket() {
		return true
	}
	if o.Side == Buy {
		return price <= o.Price
	}
	return price >= o.Price
}

// Resting reports whether o is currently linked into a book level.
func (o *Order) Resting() bool {
	return o.level != nil
}

// Next is a read-only traversal helper.
func (o *Order) Next() *Order {
	return o.next
}

// Reset clears o for reuse from a pool.
func (o *Order) Reset() {
	*o = Order{}
}
