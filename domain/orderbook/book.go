package orderbook

import (
	"github.com/cockroachdb/errors"
)

var (
	ErrDuplicateOrder = errors.New("orderbook: duplicate order id")
	ErrNotRestable    = errors.New("orderbook: order cannot rest")
	ErrUnknownOrder   = errors.New("orderbook: unknown order")
	ErrOverfill       = errors.New("orderbook: fill exceeds remaining quantity")
	ErrCrossed        = errors.New("orderbook: book is crossed")
	ErrCorrupt        = errors.New("orderbook: level accounting mismatch")
)

// Book is the resting-order state of one symbol.
type Book struct {
	Symbol string

	bids   *RBTree
	asks   *RBTree
	orders map[string]*Order
}

func NewBook(symbol string) *Book {
	return &Book{
		Symbol: symbol,
		bids:   NewRBTree(),
		asks:   NewRBTree(),
		orders: make(map[string]*Order),
	}
}

func (b *Book) ladder(s Side) *RBTree {
	if s == Buy {
		return b.bids
	}
	return b.asks
}

// ─── Mutations ───

// Insert queues o at the tail of its price level.
func (b *Book) Insert(o *Order) error {
	if _, ok := b.orders[o.ID]; ok {
		return errors.Wrapf(ErrDuplicateOrder, "order %s", o.ID)
	}
	if o.Remaining() <= 0 || o.Status.Terminal() || o.IsMarket() || o.Price <= 0 {
		return errors.Wrapf(ErrNotRestable, "order %s status=%s remaining=%d", o.ID, o.Status, o.Remaining())
	}
	b.ladder(o.Side).UpsertLevel(o.Price).enqueue(o)
	b.orders[o.ID] = o
	return nil
}

// Remove unlinks the order and drops its level when it empties.
func (b *Book) Remove(id string) (*Order, bool) {
	o, ok := b.orders[id]
	if !ok {
		return nil, false
	}
	b.detach(o)
	return o, true
}

func (b *Book) detach(o *Order) {
	lvl := o.level
	lvl.unlink(o)
	if lvl.Empty() {
		b.ladder(o.Side).DeleteLevel(lvl.Price)
	}
	delete(b.orders, o.ID)
}

// Fill applies qty to a resting order, keeping its level total exact. A
// maker whose remaining quantity reaches zero leaves the book as filled.
func (b *Book) Fill(o *Order, qty int64) error {
	if qty <= 0 || qty > o.Remaining() {
		return errors.Wrapf(ErrOverfill, "order %s fill=%d remaining=%d", o.ID, qty, o.Remaining())
	}
	if !o.Resting() {
		return errors.Wrapf(ErrUnknownOrder, "order %s is not resting", o.ID)
	}
	o.level.TotalQty -= qty
	o.Filled += qty
	if o.Remaining() == 0 {
		o.Status = StatusFilled
		b.detach(o)
		return nil
	}
	o.Status = StatusPartiallyFilled
	return nil
}

// Reduce lowers the total quantity of a resting order in place, keeping
// its queue position.
func (b *Book) Reduce(o *Order, qty int64) error {
	if qty <= o.Filled || qty >= o.Qty {
		return errors.Wrapf(ErrOverfill, "order %s reduce to %d (qty=%d filled=%d)", o.ID, qty, o.Qty, o.Filled)
	}
	if !o.Resting() {
		return errors.Wrapf(ErrUnknownOrder, "order %s is not resting", o.ID)
	}
	o.level.TotalQty -= o.Qty - qty
	o.Qty = qty
	return nil
}

// ─── Queries ───

func (b *Book) Get(id string) (*Order, bool) {
	o, ok := b.orders[id]
	return o, ok
}

func (b *Book) Len() int {
	return len(b.orders)
}

// BestLevel is the highest bid or the lowest ask level.
func (b *Book) BestLevel(s Side) *PriceLevel {
	if s == Buy {
		return b.bids.MaxLevel()
	}
	return b.asks.MinLevel()
}

// PeekBest returns the front-of-queue order at the best level of s.
func (b *Book) PeekBest(s Side) *Order {
	lvl := b.BestLevel(s)
	if lvl == nil {
		return nil
	}
	return lvl.Head()
}

// Walk visits levels of s from best to worst until fn returns false.
func (b *Book) Walk(s Side, fn func(*PriceLevel) bool) {
	if s == Buy {
		b.bids.ForEachDescending(fn)
		return
	}
	b.asks.ForEachAscending(fn)
}

// Orders lists every resting order, bids then asks, best level first and
// FIFO inside a level. The order is deterministic for a given book state.
func (b *Book) Orders() []*Order {
	out := make([]*Order, 0, len(b.orders))
	collect := func(lvl *PriceLevel) bool {
		lvl.Each(func(o *Order) bool {
			out = append(out, o)
			return true
		})
		return true
	}
	b.Walk(Buy, collect)
	b.Walk(Sell, collect)
	return out
}

// WouldCross reports whether o would take liquidity on arrival.
func (b *Book) WouldCross(o *Order) bool {
	lvl := b.BestLevel(o.Side.Opposite())
	return lvl != nil && o.Crosses(lvl.Price)
}

type LevelView struct {
	Price  int64
	Qty    int64
	Orders int
}

type Depth struct {
	Bids []LevelView
	Asks []LevelView
}

// Depth aggregates up to levels price levels per side; levels <= 0 means all.
func (b *Book) Depth(levels int) Depth {
	view := func(s Side) []LevelView {
		var out []LevelView
		b.Walk(s, func(lvl *PriceLevel) bool {
			out = append(out, LevelView{Price: lvl.Price, Qty: lvl.TotalQty, Orders: lvl.OrderCount})
			return levels <= 0 || len(out) < levels
		})
		return out
	}
	return Depth{Bids: view(Buy), Asks: view(Sell)}
}

// LevelFill is the quantity a sweep would take at one price.
type LevelFill struct {
	Price int64
	Qty   int64
}

// Preview is the read-only outcome of sweeping the opposite side for a taker.
type Preview struct {
	Fillable  int64
	SelfTrade bool
	Levels    []LevelFill
}

// Preview sweeps the opposite ladder for taker without mutating anything.
// Resting orders of the taker's owner stop the sweep with SelfTrade set,
// unless skipOwn is true, in which case they are stepped over.
func (b *Book) Preview(taker *Order, skipOwn bool) Preview {
	var p Preview
	want := taker.Remaining()
	b.Walk(taker.Side.Opposite(), func(lvl *PriceLevel) bool {
		if !taker.Crosses(lvl.Price) {
			return false
		}
		var took int64
		lvl.Each(func(o *Order) bool {
			if o.OwnerID == taker.OwnerID && taker.OwnerID != "" {
				if skipOwn {
					return true
				}
				p.SelfTrade = true
				return false
			}
			q := min(want-p.Fillable, o.Remaining())
			p.Fillable += q
			took += q
			return p.Fillable < want
		})
		if took > 0 {
			p.Levels = append(p.Levels, LevelFill{Price: lvl.Price, Qty: took})
		}
		return !p.SelfTrade && p.Fillable < want
	})
	return p
}

// ─── Integrity ───

// CheckCrossed is the cheap per-command invariant.
func (b *Book) CheckCrossed() error {
	bid, ask := b.bids.MaxLevel(), b.asks.MinLevel()
	if bid != nil && ask != nil && bid.Price >= ask.Price {
		return errors.Wrapf(ErrCrossed, "%s bid=%d ask=%d", b.Symbol, bid.Price, ask.Price)
	}
	return nil
}

// Audit walks the whole book and verifies level totals, order counts,
// queue ordering and the id index.
func (b *Book) Audit() error {
	if err := b.CheckCrossed(); err != nil {
		return err
	}
	seen := 0
	var err error
	check := func(lvl *PriceLevel) bool {
		var total int64
		count := 0
		var lastSeq uint64
		lvl.Each(func(o *Order) bool {
			switch {
			case o.Remaining() <= 0 || o.Filled < 0:
				err = errors.Wrapf(ErrCorrupt, "order %s remaining=%d filled=%d", o.ID, o.Remaining(), o.Filled)
			case o.Status.Terminal():
				err = errors.Wrapf(ErrCorrupt, "terminal order %s resting", o.ID)
			case o.level != lvl || o.Price != lvl.Price:
				err = errors.Wrapf(ErrCorrupt, "order %s linked to wrong level", o.ID)
			case o.Seq < lastSeq:
				err = errors.Wrapf(ErrCorrupt, "order %s out of FIFO order", o.ID)
			case b.orders[o.ID] != o:
				err = errors.Wrapf(ErrCorrupt, "order %s missing from index", o.ID)
			}
			lastSeq = o.Seq
			total += o.Remaining()
			count++
			return err == nil
		})
		if err == nil && (total != lvl.TotalQty || count != lvl.OrderCount) {
			err = errors.Wrapf(ErrCorrupt, "level %d total=%d/%d count=%d/%d", lvl.Price, lvl.TotalQty, total, lvl.OrderCount, count)
		}
		seen += count
		return err == nil
	}
	b.Walk(Buy, check)
	if err == nil {
		b.Walk(Sell, check)
	}
	if err == nil && seen != len(b.orders) {
		err = errors.Wrapf(ErrCorrupt, "index has %d orders, levels hold %d", len(b.orders), seen)
	}
	return err
}
