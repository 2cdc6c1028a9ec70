package httpserver

import (
	"github.com/shopspring/decimal"

	"clob/domain/events"
	"clob/domain/orderbook"
	"clob/domain/symbol"
	"clob/service"
)

// JSON shapes of the HTTP and WebSocket surfaces. Prices and quantities
// are decimal strings in the symbol's precision.

type SymbolView struct {
	Symbol      string          `json:"symbol"`
	Base        string          `json:"base"`
	Quote       string          `json:"quote"`
	Status      string          `json:"status"`
	TickSize    decimal.Decimal `json:"tick_size"`
	LotSize     decimal.Decimal `json:"lot_size"`
	MinQty      decimal.Decimal `json:"min_qty"`
	MaxQty      decimal.Decimal `json:"max_qty"`
	MinNotional decimal.Decimal `json:"min_notional"`
	Seq         uint64          `json:"seq"`
	Halted      bool            `json:"halted"`
}

type LevelView struct {
	Price  decimal.Decimal `json:"price"`
	Qty    decimal.Decimal `json:"qty"`
	Orders int             `json:"orders"`
}

type DepthView struct {
	Symbol string      `json:"symbol"`
	Seq    uint64      `json:"seq"`
	Bids   []LevelView `json:"bids"`
	Asks   []LevelView `json:"asks"`
}

type OrderView struct {
	ID            string           `json:"id"`
	ClientOrderID string           `json:"client_order_id,omitempty"`
	OwnerID       string           `json:"owner_id"`
	Side          string           `json:"side"`
	Type          string           `json:"type"`
	TIF           string           `json:"tif"`
	Status        string           `json:"status"`
	Price         *decimal.Decimal `json:"price,omitempty"`
	StopPrice     *decimal.Decimal `json:"stop_price,omitempty"`
	Qty           decimal.Decimal  `json:"qty"`
	Filled        decimal.Decimal  `json:"filled"`
	Seq           uint64           `json:"seq"`
	Timestamp     int64            `json:"ts"`
}

type TradeView struct {
	ID           uint64          `json:"id"`
	MakerOrderID string          `json:"maker_order_id"`
	TakerOrderID string          `json:"taker_order_id"`
	TakerSide    string          `json:"taker_side"`
	Price        decimal.Decimal `json:"price"`
	Qty          decimal.Decimal `json:"qty"`
}

// EventView is one message on the /ws stream.
type EventView struct {
	Type      string     `json:"type"`
	Symbol    string     `json:"symbol"`
	Seq       uint64     `json:"seq"`
	Index     uint32     `json:"index"`
	Timestamp int64      `json:"ts"`
	Reason    string     `json:"reason,omitempty"`
	Full      bool       `json:"full,omitempty"`
	Order     *OrderView `json:"order,omitempty"`
	Trade     *TradeView `json:"trade,omitempty"`
	Depth     *DepthView `json:"depth,omitempty"`
}

type errorView struct {
	Error string `json:"error"`
}

func symbolView(info service.SymbolInfo) SymbolView {
	s := info.Symbol
	v := SymbolView{
		Symbol:      s.Name,
		Base:        s.Base,
		Quote:       s.Quote,
		Status:      s.Status().String(),
		TickSize:    s.Price(s.TickSize),
		LotSize:     s.Qty(s.LotSize),
		MinQty:      s.Qty(s.MinQty),
		MinNotional: s.MinNotional,
		Seq:         info.Seq,
		Halted:      info.Halted,
	}
	if s.MaxQty > 0 {
		v.MaxQty = s.Qty(s.MaxQty)
	}
	return v
}

func levelViews(sym *symbol.Symbol, in []orderbook.LevelView) []LevelView {
	out := make([]LevelView, 0, len(in))
	for _, l := range in {
		out = append(out, LevelView{Price: sym.Price(l.Price), Qty: sym.Qty(l.Qty), Orders: l.Orders})
	}
	return out
}

func depthView(sym *symbol.Symbol, seq uint64, d orderbook.Depth) *DepthView {
	return &DepthView{Symbol: sym.Name, Seq: seq, Bids: levelViews(sym, d.Bids), Asks: levelViews(sym, d.Asks)}
}

func orderView(sym *symbol.Symbol, o events.OrderState) *OrderView {
	v := &OrderView{
		ID:            o.ID,
		ClientOrderID: o.ClientOrderID,
		OwnerID:       o.OwnerID,
		Side:          o.Side.String(),
		Type:          o.Type.String(),
		TIF:           o.TIF.String(),
		Status:        o.Status.String(),
		Qty:           sym.Qty(o.Qty),
		Filled:        sym.Qty(o.Filled),
		Seq:           o.Seq,
		Timestamp:     o.Timestamp,
	}
	if o.Price != 0 {
		p := sym.Price(o.Price)
		v.Price = &p
	}
	if o.StopPrice != 0 {
		p := sym.Price(o.StopPrice)
		v.StopPrice = &p
	}
	return v
}

func eventView(sym *symbol.Symbol, ev events.Event) EventView {
	v := EventView{
		Type:      ev.Kind.String(),
		Symbol:    ev.Symbol,
		Seq:       ev.Seq,
		Index:     ev.Index,
		Timestamp: ev.Timestamp,
		Reason:    string(ev.Reason),
		Full:      ev.FullFill,
	}
	if ev.Order != nil {
		v.Order = orderView(sym, *ev.Order)
	}
	if t := ev.Trade; t != nil {
		v.Trade = &TradeView{
			ID:           t.ID,
			MakerOrderID: t.MakerOrderID,
			TakerOrderID: t.TakerOrderID,
			TakerSide:    t.TakerSide.String(),
			Price:        sym.Price(t.Price),
			Qty:          sym.Qty(t.Qty),
		}
	}
	if ev.Depth != nil {
		v.Depth = depthView(sym, ev.Seq, *ev.Depth)
	}
	return v
}
