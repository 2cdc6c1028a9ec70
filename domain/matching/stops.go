package matching

import (
	"github.com/tidwall/btree"

	"clob/domain/orderbook"
)

// stopBook holds pending stop orders off the price ladders. Buy stops are
// ordered by ascending stop price, sell stops by descending stop price, so
// the first item of either tree is always the next to trigger. Ties break
// on sequence number.
type stopBook struct {
	buys  *btree.BTreeG[*orderbook.Order]
	sells *btree.BTreeG[*orderbook.Order]
	byID  map[string]*orderbook.Order
}

func newStopBook() *stopBook {
	return &stopBook{
		buys: btree.NewBTreeG(func(a, b *orderbook.Order) bool {
			if a.StopPrice != b.StopPrice {
				return a.StopPrice < b.StopPrice
			}
			return seqLess(a, b)
		}),
		sells: btree.NewBTreeG(func(a, b *orderbook.Order) bool {
			if a.StopPrice != b.StopPrice {
				return a.StopPrice > b.StopPrice
			}
			return seqLess(a, b)
		}),
		byID: make(map[string]*orderbook.Order),
	}
}

func seqLess(a, b *orderbook.Order) bool {
	if a.Seq != b.Seq {
		return a.Seq < b.Seq
	}
	return a.ID < b.ID
}

func (s *stopBook) tree(side orderbook.Side) *btree.BTreeG[*orderbook.Order] {
	if side == orderbook.Buy {
		return s.buys
	}
	return s.sells
}

func (s *stopBook) add(o *orderbook.Order) {
	s.tree(o.Side).Set(o)
	s.byID[o.ID] = o
}

func (s *stopBook) get(id string) (*orderbook.Order, bool) {
	o, ok := s.byID[id]
	return o, ok
}

func (s *stopBook) remove(id string) (*orderbook.Order, bool) {
	o, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	s.tree(o.Side).Delete(o)
	delete(s.byID, id)
	return o, true
}

func (s *stopBook) len() int {
	return len(s.byID)
}

// popTriggered removes and returns the next stop whose trigger the last
// trade price has reached: buys when last >= stop, sells when last <= stop.
func (s *stopBook) popTriggered(last int64) *orderbook.Order {
	if last <= 0 {
		return nil
	}
	if o, ok := s.buys.Min(); ok && last >= o.StopPrice {
		s.remove(o.ID)
		return o
	}
	if o, ok := s.sells.Min(); ok && last <= o.StopPrice {
		s.remove(o.ID)
		return o
	}
	return nil
}

// all lists pending stops, buys then sells, in trigger order.
func (s *stopBook) all() []*orderbook.Order {
	out := make([]*orderbook.Order, 0, len(s.byID))
	collect := func(o *orderbook.Order) bool {
		out = append(out, o)
		return true
	}
	s.buys.Scan(collect)
	s.sells.Scan(collect)
	return out
}
