package grpcserver

import (
	"clob/infra/codec"
)

// Messages of the clob.v1 package (api/proto/clob.proto), encoded with
// the engine's wire codec. Field numbers must follow the .proto file.

type Side int32

const (
	SideUnspecified Side = iota
	SideBuy
	SideSell
)

type OrderType int32

const (
	OrderTypeUnspecified OrderType = iota
	OrderTypeLimit
	OrderTypeMarket
	OrderTypeStop
)

type TimeInForce int32

const (
	TIFUnspecified TimeInForce = iota
	TIFGTC
	TIFIOC
	TIFFOK
	TIFPostOnly
)

type wireMessage interface {
	MarshalWire() []byte
	UnmarshalWire([]byte) error
}

// -------------------- Requests --------------------

type SubmitOrderRequest struct {
	Symbol        string
	OrderID       string
	ClientOrderID string
	OwnerID       string
	Side          Side
	Type          OrderType
	TIF           TimeInForce
	Price         string
	StopPrice     string
	Qty           string
}

func (m *SubmitOrderRequest) MarshalWire() []byte {
	var e codec.Encoder
	e.String(1, m.Symbol)
	e.String(2, m.OrderID)
	e.String(3, m.ClientOrderID)
	e.String(4, m.OwnerID)
	e.Uint(5, uint64(m.Side))
	e.Uint(6, uint64(m.Type))
	e.Uint(7, uint64(m.TIF))
	e.String(8, m.Price)
	e.String(9, m.StopPrice)
	e.String(10, m.Qty)
	return e.Bytes()
}

func (m *SubmitOrderRequest) UnmarshalWire(b []byte) error {
	*m = SubmitOrderRequest{}
	return codec.Walk(b, func(f codec.Field) error {
		switch f.Num {
		case 1:
			m.Symbol = f.String()
		case 2:
			m.OrderID = f.String()
		case 3:
			m.ClientOrderID = f.String()
		case 4:
			m.OwnerID = f.String()
		case 5:
			m.Side = Side(f.U)
		case 6:
			m.Type = OrderType(f.U)
		case 7:
			m.TIF = TimeInForce(f.U)
		case 8:
			m.Price = f.String()
		case 9:
			m.StopPrice = f.String()
		case 10:
			m.Qty = f.String()
		}
		return nil
	})
}

type CancelOrderRequest struct {
	Symbol  string
	OrderID string
	OwnerID string
}

func (m *CancelOrderRequest) MarshalWire() []byte {
	var e codec.Encoder
	e.String(1, m.Symbol)
	e.String(2, m.OrderID)
	e.String(3, m.OwnerID)
	return e.Bytes()
}

func (m *CancelOrderRequest) UnmarshalWire(b []byte) error {
	*m = CancelOrderRequest{}
	return codec.Walk(b, func(f codec.Field) error {
		switch f.Num {
		case 1:
			m.Symbol = f.String()
		case 2:
			m.OrderID = f.String()
		case 3:
			m.OwnerID = f.String()
		}
		return nil
	})
}

type AmendOrderRequest struct {
	Symbol  string
	OrderID string
	OwnerID string
	Price   string
	Qty     string
}

func (m *AmendOrderRequest) MarshalWire() []byte {
	var e codec.Encoder
	e.String(1, m.Symbol)
	e.String(2, m.OrderID)
	e.String(3, m.OwnerID)
	e.String(4, m.Price)
	e.String(5, m.Qty)
	return e.Bytes()
}

func (m *AmendOrderRequest) UnmarshalWire(b []byte) error {
	*m = AmendOrderRequest{}
	return codec.Walk(b, func(f codec.Field) error {
		switch f.Num {
		case 1:
			m.Symbol = f.String()
		case 2:
			m.OrderID = f.String()
		case 3:
			m.OwnerID = f.String()
		case 4:
			m.Price = f.String()
		case 5:
			m.Qty = f.String()
		}
		return nil
	})
}

type GetDepthRequest struct {
	Symbol string
	Levels uint32
}

func (m *GetDepthRequest) MarshalWire() []byte {
	var e codec.Encoder
	e.String(1, m.Symbol)
	e.Uint(2, uint64(m.Levels))
	return e.Bytes()
}

func (m *GetDepthRequest) UnmarshalWire(b []byte) error {
	*m = GetDepthRequest{}
	return codec.Walk(b, func(f codec.Field) error {
		switch f.Num {
		case 1:
			m.Symbol = f.String()
		case 2:
			m.Levels = uint32(f.U)
		}
		return nil
	})
}

type GetOrderRequest struct {
	Symbol  string
	OrderID string
}

func (m *GetOrderRequest) MarshalWire() []byte {
	var e codec.Encoder
	e.String(1, m.Symbol)
	e.String(2, m.OrderID)
	return e.Bytes()
}

func (m *GetOrderRequest) UnmarshalWire(b []byte) error {
	*m = GetOrderRequest{}
	return codec.Walk(b, func(f codec.Field) error {
		switch f.Num {
		case 1:
			m.Symbol = f.String()
		case 2:
			m.OrderID = f.String()
		}
		return nil
	})
}

// -------------------- Responses --------------------

type Trade struct {
	ID           uint64
	Price        string
	Qty          string
	MakerOrderID string
	TakerOrderID string
	TakerSide    Side
}

func (m *Trade) append(e *codec.Encoder) {
	e.Uint(1, m.ID)
	e.String(2, m.Price)
	e.String(3, m.Qty)
	e.String(4, m.MakerOrderID)
	e.String(5, m.TakerOrderID)
	e.Uint(6, uint64(m.TakerSide))
}

func (m *Trade) UnmarshalWire(b []byte) error {
	*m = Trade{}
	return codec.Walk(b, func(f codec.Field) error {
		switch f.Num {
		case 1:
			m.ID = f.U
		case 2:
			m.Price = f.String()
		case 3:
			m.Qty = f.String()
		case 4:
			m.MakerOrderID = f.String()
		case 5:
			m.TakerOrderID = f.String()
		case 6:
			m.TakerSide = Side(f.U)
		}
		return nil
	})
}

type OrderAck struct {
	Accepted bool
	Seq      uint64
	OrderID  string
	Status   string
	Reason   string
	Trades   []Trade
}

func (m *OrderAck) MarshalWire() []byte {
	var e codec.Encoder
	e.Bool(1, m.Accepted)
	e.Uint(2, m.Seq)
	e.String(3, m.OrderID)
	e.String(4, m.Status)
	e.String(5, m.Reason)
	for i := range m.Trades {
		e.Message(6, m.Trades[i].append)
	}
	return e.Bytes()
}

func (m *OrderAck) UnmarshalWire(b []byte) error {
	*m = OrderAck{}
	return codec.Walk(b, func(f codec.Field) error {
		switch f.Num {
		case 1:
			m.Accepted = f.Bool()
		case 2:
			m.Seq = f.U
		case 3:
			m.OrderID = f.String()
		case 4:
			m.Status = f.String()
		case 5:
			m.Reason = f.String()
		case 6:
			var t Trade
			if err := t.UnmarshalWire(f.B); err != nil {
				return err
			}
			m.Trades = append(m.Trades, t)
		}
		return nil
	})
}

type Level struct {
	Price  string
	Qty    string
	Orders uint32
}

func (m *Level) append(e *codec.Encoder) {
	e.String(1, m.Price)
	e.String(2, m.Qty)
	e.Uint(3, uint64(m.Orders))
}

func (m *Level) UnmarshalWire(b []byte) error {
	*m = Level{}
	return codec.Walk(b, func(f codec.Field) error {
		switch f.Num {
		case 1:
			m.Price = f.String()
		case 2:
			m.Qty = f.String()
		case 3:
			m.Orders = uint32(f.U)
		}
		return nil
	})
}

type DepthResponse struct {
	Symbol string
	Seq    uint64
	Bids   []Level
	Asks   []Level
}

func (m *DepthResponse) MarshalWire() []byte {
	var e codec.Encoder
	e.String(1, m.Symbol)
	e.Uint(2, m.Seq)
	for i := range m.Bids {
		e.Message(3, m.Bids[i].append)
	}
	for i := range m.Asks {
		e.Message(4, m.Asks[i].append)
	}
	return e.Bytes()
}

func (m *DepthResponse) UnmarshalWire(b []byte) error {
	*m = DepthResponse{}
	return codec.Walk(b, func(f codec.Field) error {
		switch f.Num {
		case 1:
			m.Symbol = f.String()
		case 2:
			m.Seq = f.U
		case 3, 4:
			var l Level
			if err := l.UnmarshalWire(f.B); err != nil {
				return err
			}
			if f.Num == 3 {
				m.Bids = append(m.Bids, l)
			} else {
				m.Asks = append(m.Asks, l)
			}
		}
		return nil
	})
}

type OrderResponse struct {
	OrderID       string
	ClientOrderID string
	OwnerID       string
	Side          Side
	Type          OrderType
	TIF           TimeInForce
	Status        string
	Price         string
	StopPrice     string
	Qty           string
	Filled        string
}

func (m *OrderResponse) MarshalWire() []byte {
	var e codec.Encoder
	e.String(1, m.OrderID)
	e.String(2, m.ClientOrderID)
	e.String(3, m.OwnerID)
	e.Uint(4, uint64(m.Side))
	e.Uint(5, uint64(m.Type))
	e.Uint(6, uint64(m.TIF))
	e.String(7, m.Status)
	e.String(8, m.Price)
	e.String(9, m.StopPrice)
	e.String(10, m.Qty)
	e.String(11, m.Filled)
	return e.Bytes()
}

func (m *OrderResponse) UnmarshalWire(b []byte) error {
	*m = OrderResponse{}
	return codec.Walk(b, func(f codec.Field) error {
		switch f.Num {
		case 1:
			m.OrderID = f.String()
		case 2:
			m.ClientOrderID = f.String()
		case 3:
			m.OwnerID = f.String()
		case 4:
			m.Side = Side(f.U)
		case 5:
			m.Type = OrderType(f.U)
		case 6:
			m.TIF = TimeInForce(f.U)
		case 7:
			m.Status = f.String()
		case 8:
			m.Price = f.String()
		case 9:
			m.StopPrice = f.String()
		case 10:
			m.Qty = f.String()
		case 11:
			m.Filled = f.String()
		}
		return nil
	})
}
