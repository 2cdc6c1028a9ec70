package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clob/domain/events"
	"clob/domain/orderbook"
)

type harness struct {
	t   *testing.T
	e   *Engine
	seq uint64
}

func newHarness(t *testing.T, stp STPPolicy) *harness {
	return &harness{t: t, e: New("BTC/USDT", stp, WithAudit())}
}

func (h *harness) submit(o *orderbook.Order) []events.Event {
	h.t.Helper()
	h.seq++
	evs, err := h.e.Submit(o, h.seq, int64(h.seq)*1000)
	require.NoError(h.t, err)
	return evs
}

func (h *harness) cancel(id string) []events.Event {
	h.t.Helper()
	h.seq++
	evs, err := h.e.Cancel(id, h.seq, int64(h.seq)*1000)
	require.NoError(h.t, err)
	return evs
}

func (h *harness) amend(id string, price, qty int64) []events.Event {
	h.t.Helper()
	h.seq++
	evs, err := h.e.Amend(id, price, qty, h.seq, int64(h.seq)*1000)
	require.NoError(h.t, err)
	return evs
}

func order(id, owner string, side orderbook.Side, typ orderbook.OrderType, tif orderbook.TimeInForce, price, qty int64) *orderbook.Order {
	return &orderbook.Order{
		ID:      id,
		OwnerID: owner,
		Symbol:  "BTC/USDT",
		Side:    side,
		Type:    typ,
		TIF:     tif,
		Price:   price,
		Qty:     qty,
	}
}

func gtc(id, owner string, side orderbook.Side, price, qty int64) *orderbook.Order {
	return order(id, owner, side, orderbook.Limit, orderbook.GTC, price, qty)
}

func trades(evs []events.Event) []events.Trade {
	var out []events.Trade
	for _, ev := range evs {
		if ev.Kind == events.TradeExecuted {
			out = append(out, *ev.Trade)
		}
	}
	return out
}

func kinds(evs []events.Event) []events.Kind {
	out := make([]events.Kind, len(evs))
	for i, ev := range evs {
		out[i] = ev.Kind
	}
	return out
}

func TestScenarios(t *testing.T) {
	h := newHarness(t, STPReject)
	book := h.e.Book()

	// 1. resting buy
	evs := h.submit(gtc("b1", "alice", orderbook.Buy, 5000, 10))
	assert.Equal(t, []events.Kind{events.OrderAccepted}, kinds(evs))
	require.NotNil(t, book.BestLevel(orderbook.Buy))
	assert.Equal(t, int64(5000), book.BestLevel(orderbook.Buy).Price)
	assert.Equal(t, int64(10), book.BestLevel(orderbook.Buy).TotalQty)

	// 2. partial cross at maker price
	evs = h.submit(gtc("s1", "bob", orderbook.Sell, 5000, 4))
	tr := trades(evs)
	require.Len(t, tr, 1)
	assert.Equal(t, int64(5000), tr[0].Price)
	assert.Equal(t, int64(4), tr[0].Qty)
	assert.Equal(t, "b1", tr[0].MakerOrderID)
	assert.Equal(t, "s1", tr[0].TakerOrderID)
	assert.Equal(t, int64(6), book.BestLevel(orderbook.Buy).TotalQty)
	assert.Nil(t, book.BestLevel(orderbook.Sell))

	// 3. FOK larger than available liquidity
	before := h.e.Export()
	evs = h.submit(order("s2", "carol", orderbook.Sell, orderbook.Limit, orderbook.FOK, 5000, 20))
	assert.Empty(t, trades(evs))
	assert.Equal(t, []events.Kind{events.OrderAccepted, events.OrderCanceled}, kinds(evs))
	assert.Equal(t, events.ReasonFOKUnfillable, evs[1].Reason)
	assert.Equal(t, before.Orders, h.e.Export().Orders)

	// 4. IOC market buy against an empty ask side
	evs = h.submit(order("m1", "dave", orderbook.Buy, orderbook.Market, orderbook.IOC, 0, 6))
	assert.Empty(t, trades(evs))
	require.Len(t, evs, 2)
	assert.Equal(t, events.OrderCanceled, evs[1].Kind)
	_, resting := book.Get("m1")
	assert.False(t, resting)

	// 5. arrival order at the same price
	h2 := newHarness(t, STPReject)
	h2.submit(gtc("A", "u1", orderbook.Buy, 5000, 5))
	h2.submit(gtc("B", "u2", orderbook.Buy, 5000, 5))
	evs = h2.submit(gtc("S", "u3", orderbook.Sell, 5000, 5))
	tr = trades(evs)
	require.Len(t, tr, 1)
	assert.Equal(t, "A", tr[0].MakerOrderID)
	b, ok := h2.e.Book().Get("B")
	require.True(t, ok)
	assert.Equal(t, int64(5), b.Remaining())
}

func TestSweepMultipleLevels(t *testing.T) {
	h := newHarness(t, STPReject)
	h.submit(gtc("a1", "m", orderbook.Sell, 101, 2))
	h.submit(gtc("a2", "m", orderbook.Sell, 102, 2))
	h.submit(gtc("a3", "m", orderbook.Sell, 103, 2))

	evs := h.submit(gtc("b", "t", orderbook.Buy, 102, 5))
	tr := trades(evs)
	require.Len(t, tr, 2)
	assert.Equal(t, int64(101), tr[0].Price)
	assert.Equal(t, int64(102), tr[1].Price)
	assert.Equal(t, uint64(1), tr[0].ID)
	assert.Equal(t, uint64(2), tr[1].ID)

	// remainder rests at the limit
	b, ok := h.e.Book().Get("b")
	require.True(t, ok)
	assert.Equal(t, int64(1), b.Remaining())
	assert.Equal(t, orderbook.StatusPartiallyFilled, b.Status)
	assert.Equal(t, int64(103), h.e.Book().BestLevel(orderbook.Sell).Price)
	assert.Equal(t, int64(102), h.e.LastPrice())
}

func TestFillEvents(t *testing.T) {
	h := newHarness(t, STPReject)
	h.submit(gtc("a", "m", orderbook.Sell, 100, 3))
	evs := h.submit(gtc("b", "t", orderbook.Buy, 100, 3))

	require.Equal(t, []events.Kind{
		events.OrderAccepted, events.TradeExecuted, events.OrderFilled, events.OrderFilled,
	}, kinds(evs))
	for i, ev := range evs {
		assert.Equal(t, uint32(i), ev.Index)
		assert.Equal(t, uint64(2), ev.Seq)
		assert.Equal(t, "BTC/USDT", ev.Symbol)
	}
	assert.Equal(t, "a", evs[2].Order.ID)
	assert.True(t, evs[2].FullFill)
	assert.Equal(t, "b", evs[3].Order.ID)
	assert.True(t, evs[3].FullFill)
	assert.Equal(t, orderbook.StatusFilled, evs[3].Order.Status)
}

func TestMarketRemainderCanceled(t *testing.T) {
	h := newHarness(t, STPReject)
	h.submit(gtc("a", "m", orderbook.Sell, 100, 3))
	evs := h.submit(order("mk", "t", orderbook.Buy, orderbook.Market, orderbook.IOC, 0, 5))

	last := evs[len(evs)-1]
	assert.Equal(t, events.OrderCanceled, last.Kind)
	assert.Equal(t, events.ReasonNoLiquidity, last.Reason)
	assert.Equal(t, int64(3), last.Order.Filled)
	assert.Zero(t, h.e.Book().Len())
}

func TestIOCRemainderCanceled(t *testing.T) {
	h := newHarness(t, STPReject)
	h.submit(gtc("a", "m", orderbook.Sell, 100, 3))
	evs := h.submit(order("i", "t", orderbook.Buy, orderbook.Limit, orderbook.IOC, 100, 5))

	assert.Len(t, trades(evs), 1)
	last := evs[len(evs)-1]
	assert.Equal(t, events.ReasonIOCRemainder, last.Reason)
	_, ok := h.e.Book().Get("i")
	assert.False(t, ok)
}

func TestFOKFullFill(t *testing.T) {
	h := newHarness(t, STPReject)
	h.submit(gtc("a", "m", orderbook.Sell, 100, 3))
	h.submit(gtc("b", "m", orderbook.Sell, 101, 3))
	evs := h.submit(order("f", "t", orderbook.Buy, orderbook.Limit, orderbook.FOK, 101, 6))
	assert.Len(t, trades(evs), 2)
	assert.Zero(t, h.e.Book().Len())
}

func TestPostOnly(t *testing.T) {
	h := newHarness(t, STPReject)
	h.submit(gtc("a", "m", orderbook.Sell, 100, 3))

	evs := h.submit(order("p1", "t", orderbook.Buy, orderbook.Limit, orderbook.PostOnly, 100, 1))
	assert.Equal(t, events.ReasonPostOnlyWouldCross, evs[len(evs)-1].Reason)
	assert.Empty(t, trades(evs))

	h.submit(order("p2", "t", orderbook.Buy, orderbook.Limit, orderbook.PostOnly, 99, 1))
	_, ok := h.e.Book().Get("p2")
	assert.True(t, ok)
}

func TestSelfTradePrevention(t *testing.T) {
	t.Run("cancel resting", func(t *testing.T) {
		h := newHarness(t, STPCancelResting)
		h.submit(gtc("own", "alice", orderbook.Sell, 100, 2))
		h.submit(gtc("other", "bob", orderbook.Sell, 100, 2))

		evs := h.submit(gtc("t", "alice", orderbook.Buy, 100, 2))
		require.Equal(t, events.OrderCanceled, evs[1].Kind)
		assert.Equal(t, "own", evs[1].Order.ID)
		assert.Equal(t, events.ReasonSelfTradePrevented, evs[1].Reason)
		tr := trades(evs)
		require.Len(t, tr, 1)
		assert.Equal(t, "other", tr[0].MakerOrderID)
	})

	t.Run("reject policy cancels the taker remainder", func(t *testing.T) {
		h := newHarness(t, STPReject)
		h.submit(gtc("own", "alice", orderbook.Sell, 100, 2))
		evs := h.submit(gtc("t", "alice", orderbook.Buy, 100, 2))
		assert.Equal(t, events.ReasonSelfTradePrevented, evs[len(evs)-1].Reason)
		assert.Equal(t, "t", evs[len(evs)-1].Order.ID)
		_, ok := h.e.Book().Get("own")
		assert.True(t, ok)
	})
}

func TestCancel(t *testing.T) {
	h := newHarness(t, STPReject)
	h.submit(gtc("a", "m", orderbook.Sell, 100, 3))
	h.submit(gtc("b", "t", orderbook.Buy, 100, 1))

	evs := h.cancel("a")
	require.Len(t, evs, 1)
	assert.Equal(t, events.OrderCanceled, evs[0].Kind)
	assert.Equal(t, events.ReasonUserCanceled, evs[0].Reason)
	assert.Equal(t, int64(1), evs[0].Order.Filled)
	assert.Zero(t, h.e.Book().Len())

	// already gone: accepted, no effect
	assert.Empty(t, h.cancel("a"))
	assert.Empty(t, h.cancel("never"))
}

func TestAmend(t *testing.T) {
	t.Run("reduce keeps priority", func(t *testing.T) {
		h := newHarness(t, STPReject)
		h.submit(gtc("a", "m1", orderbook.Buy, 100, 5))
		h.submit(gtc("b", "m2", orderbook.Buy, 100, 5))
		evs := h.amend("a", 0, 2)
		require.Len(t, evs, 1)
		assert.Equal(t, events.OrderAmended, evs[0].Kind)

		evs = h.submit(gtc("s", "t", orderbook.Sell, 100, 2))
		assert.Equal(t, "a", trades(evs)[0].MakerOrderID)
	})

	t.Run("increase loses priority", func(t *testing.T) {
		h := newHarness(t, STPReject)
		h.submit(gtc("a", "m1", orderbook.Buy, 100, 5))
		h.submit(gtc("b", "m2", orderbook.Buy, 100, 5))
		h.amend("a", 0, 6)

		evs := h.submit(gtc("s", "t", orderbook.Sell, 100, 2))
		assert.Equal(t, "b", trades(evs)[0].MakerOrderID)
	})

	t.Run("reprice into the spread trades", func(t *testing.T) {
		h := newHarness(t, STPReject)
		h.submit(gtc("ask", "m1", orderbook.Sell, 105, 5))
		h.submit(gtc("bid", "m2", orderbook.Buy, 100, 5))
		evs := h.amend("bid", 105, 0)
		tr := trades(evs)
		require.Len(t, tr, 1)
		assert.Equal(t, "bid", tr[0].TakerOrderID)
		assert.Equal(t, int64(105), tr[0].Price)
	})
}

func TestStopOrders(t *testing.T) {
	h := newHarness(t, STPReject)
	h.submit(gtc("a1", "m", orderbook.Sell, 100, 1))
	h.submit(gtc("a2", "m", orderbook.Sell, 110, 5))

	stop := order("stop", "s", orderbook.Buy, orderbook.Stop, orderbook.IOC, 0, 2)
	stop.StopPrice = 100
	evs := h.submit(stop)
	require.Len(t, evs, 1)
	assert.Equal(t, orderbook.StatusPending, evs[0].Order.Status)
	assert.Equal(t, 1, h.e.PendingStops())

	// trade at 100 triggers the buy stop, which sweeps into 110
	evs = h.submit(gtc("b", "t", orderbook.Buy, 100, 1))
	assert.Contains(t, kinds(evs), events.StopTriggered)
	tr := trades(evs)
	require.Len(t, tr, 2)
	assert.Equal(t, "stop", tr[1].TakerOrderID)
	assert.Equal(t, int64(110), tr[1].Price)
	assert.Zero(t, h.e.PendingStops())

	t.Run("pending stop can be canceled", func(t *testing.T) {
		sell := order("ss", "s", orderbook.Sell, orderbook.Stop, orderbook.GTC, 90, 1)
		sell.StopPrice = 95
		h.submit(sell)
		assert.Equal(t, 1, h.e.PendingStops())
		evs := h.cancel("ss")
		require.Len(t, evs, 1)
		assert.Equal(t, events.OrderCanceled, evs[0].Kind)
		assert.Zero(t, h.e.PendingStops())
	})
}

func TestHaltOnInvariant(t *testing.T) {
	h := newHarness(t, STPReject)
	h.submit(gtc("a", "m", orderbook.Sell, 100, 1))

	h.seq++
	_, err := h.e.Submit(gtc("a", "m", orderbook.Sell, 101, 1), h.seq, 0)
	require.ErrorIs(t, err, ErrInvariant)
	require.ErrorIs(t, h.e.Halted(), ErrInvariant)
	assert.Contains(t, err.Error(), "duplicate")

	_, err = h.e.Cancel("a", h.seq+1, 0)
	assert.ErrorIs(t, err, ErrHalted)
}

func TestExportRestore(t *testing.T) {
	h := newHarness(t, STPReject)
	h.submit(gtc("a", "m", orderbook.Sell, 100, 3))
	h.submit(gtc("b", "m", orderbook.Sell, 100, 2))
	h.submit(gtc("c", "t", orderbook.Buy, 99, 4))
	h.submit(gtc("d", "t", orderbook.Buy, 100, 1))
	stop := order("st", "s", orderbook.Sell, orderbook.Stop, orderbook.IOC, 0, 1)
	stop.StopPrice = 90
	h.submit(stop)

	st := h.e.Export()
	fresh := New("BTC/USDT", STPReject)
	require.NoError(t, fresh.Restore(st, nil))
	assert.Equal(t, st, fresh.Export())

	a, ok := fresh.Book().Get("a")
	require.True(t, ok)
	assert.Equal(t, int64(1), a.Filled)
	assert.Equal(t, 1, fresh.PendingStops())

	assert.Error(t, New("ETH/USDT", STPReject).Restore(st, nil))
}

func TestParseSTP(t *testing.T) {
	p, err := ParseSTP("cancel_resting")
	require.NoError(t, err)
	assert.Equal(t, STPCancelResting, p)
	p, err = ParseSTP("")
	require.NoError(t, err)
	assert.Equal(t, STPReject, p)
	_, err = ParseSTP("cancel_both")
	assert.Error(t, err)
}
