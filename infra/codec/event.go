package codec

import (
	"github.com/cockroachdb/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"clob/domain/events"
	"clob/domain/orderbook"
)

func MarshalEvent(ev events.Event) []byte {
	var e Encoder
	AppendEvent(&e, ev)
	return e.Bytes()
}

// AppendEvent writes the fields of ev into e.
func AppendEvent(e *Encoder, ev events.Event) {
	e.Uint(1, uint64(ev.Kind))
	e.String(2, ev.Symbol)
	e.Uint(3, ev.Seq)
	e.Uint(4, uint64(ev.Index))
	e.Int(5, ev.Timestamp)
	if ev.Order != nil {
		e.Message(6, func(m *Encoder) { AppendOrderState(m, *ev.Order) })
	}
	if ev.Trade != nil {
		e.Message(7, func(m *Encoder) { appendTrade(m, *ev.Trade) })
	}
	if ev.Depth != nil {
		e.Message(8, func(m *Encoder) { appendDepth(m, *ev.Depth) })
	}
	e.String(9, string(ev.Reason))
	e.Bool(10, ev.FullFill)
	e.Int(11, ev.FillQty)
	e.Int(12, ev.FillPrice)
}

func UnmarshalEvent(b []byte) (events.Event, error) {
	var ev events.Event
	err := Walk(b, func(f Field) error {
		switch f.Num {
		case 1:
			ev.Kind = events.Kind(f.U)
		case 2:
			ev.Symbol = f.String()
		case 3:
			ev.Seq = f.U
		case 4:
			ev.Index = uint32(f.U)
		case 5:
			ev.Timestamp = f.Int()
		case 6:
			st, err := UnmarshalOrderState(f.B)
			if err != nil {
				return err
			}
			ev.Order = &st
		case 7:
			tr, err := unmarshalTrade(f.B)
			if err != nil {
				return err
			}
			ev.Trade = &tr
		case 8:
			d, err := unmarshalDepth(f.B)
			if err != nil {
				return err
			}
			ev.Depth = &d
		case 9:
			ev.Reason = events.Reason(f.String())
		case 10:
			ev.FullFill = f.Bool()
		case 11:
			ev.FillQty = f.Int()
		case 12:
			ev.FillPrice = f.Int()
		}
		return nil
	})
	if err != nil {
		return events.Event{}, errors.Wrap(err, "decode event")
	}
	return ev, nil
}

func AppendOrderState(e *Encoder, s events.OrderState) {
	e.String(1, s.ID)
	e.String(2, s.ClientOrderID)
	e.String(3, s.OwnerID)
	e.Uint(4, uint64(s.Side))
	e.Uint(5, uint64(s.Type))
	e.Uint(6, uint64(s.TIF))
	e.Uint(7, uint64(s.Status))
	e.Int(8, s.Price)
	e.Int(9, s.StopPrice)
	e.Int(10, s.Qty)
	e.Int(11, s.Filled)
	e.Uint(12, s.Seq)
	e.Int(13, s.Timestamp)
}

func UnmarshalOrderState(b []byte) (events.OrderState, error) {
	var s events.OrderState
	err := Walk(b, func(f Field) error {
		switch f.Num {
		case 1:
			s.ID = f.String()
		case 2:
			s.ClientOrderID = f.String()
		case 3:
			s.OwnerID = f.String()
		case 4:
			s.Side = orderbook.Side(f.U)
		case 5:
			s.Type = orderbook.OrderType(f.U)
		case 6:
			s.TIF = orderbook.TimeInForce(f.U)
		case 7:
			s.Status = orderbook.Status(f.U)
		case 8:
			s.Price = f.Int()
		case 9:
			s.StopPrice = f.Int()
		case 10:
			s.Qty = f.Int()
		case 11:
			s.Filled = f.Int()
		case 12:
			s.Seq = f.U
		case 13:
			s.Timestamp = f.Int()
		}
		return nil
	})
	return s, err
}

func appendTrade(e *Encoder, t events.Trade) {
	e.Uint(1, t.ID)
	e.String(2, t.Symbol)
	e.String(3, t.MakerOrderID)
	e.String(4, t.TakerOrderID)
	e.String(5, t.MakerOwnerID)
	e.String(6, t.TakerOwnerID)
	e.Uint(7, uint64(t.TakerSide))
	e.Int(8, t.Price)
	e.Int(9, t.Qty)
	e.Int(10, t.Timestamp)
	e.Uint(11, t.Seq)
}

func unmarshalTrade(b []byte) (events.Trade, error) {
	var t events.Trade
	err := Walk(b, func(f Field) error {
		switch f.Num {
		case 1:
			t.ID = f.U
		case 2:
			t.Symbol = f.String()
		case 3:
			t.MakerOrderID = f.String()
		case 4:
			t.TakerOrderID = f.String()
		case 5:
			t.MakerOwnerID = f.String()
		case 6:
			t.TakerOwnerID = f.String()
		case 7:
			t.TakerSide = orderbook.Side(f.U)
		case 8:
			t.Price = f.Int()
		case 9:
			t.Qty = f.Int()
		case 10:
			t.Timestamp = f.Int()
		case 11:
			t.Seq = f.U
		}
		return nil
	})
	return t, err
}

func appendDepth(e *Encoder, d orderbook.Depth) {
	level := func(num protowire.Number, lv orderbook.LevelView) {
		e.Message(num, func(m *Encoder) {
			m.Int(1, lv.Price)
			m.Int(2, lv.Qty)
			m.Uint(3, uint64(lv.Orders))
		})
	}
	for _, lv := range d.Bids {
		level(1, lv)
	}
	for _, lv := range d.Asks {
		level(2, lv)
	}
}

func unmarshalDepth(b []byte) (orderbook.Depth, error) {
	var d orderbook.Depth
	err := Walk(b, func(f Field) error {
		if f.Num != 1 && f.Num != 2 {
			return nil
		}
		var lv orderbook.LevelView
		err := Walk(f.B, func(g Field) error {
			switch g.Num {
			case 1:
				lv.Price = g.Int()
			case 2:
				lv.Qty = g.Int()
			case 3:
				lv.Orders = int(g.U)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if f.Num == 1 {
			d.Bids = append(d.Bids, lv)
		} else {
			d.Asks = append(d.Asks, lv)
		}
		return nil
	})
	return d, err
}
