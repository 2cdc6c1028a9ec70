package httpserver

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clob/domain/events"
	"clob/domain/orderbook"
)

func trade(sym string, seq uint64) events.Event {
	return events.Event{
		Kind: events.TradeExecuted, Symbol: sym, Seq: seq, Index: 1,
		Trade: &events.Trade{ID: seq, Symbol: sym, MakerOrderID: "m", TakerOrderID: "t", TakerSide: orderbook.Sell, Price: 3_000_025, Qty: 1_500},
	}
}

func dialHub(t *testing.T, h *Hub, query string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+query, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) EventView {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var v EventView
	require.NoError(t, json.Unmarshal(data, &v))
	return v
}

// subscribers counts clients that receive sym.
func subscribers(h *Hub, sym string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for c := range h.clients {
		if c.wants(sym) {
			n++
		}
	}
	return n
}

func TestHubFiltersBySymbol(t *testing.T) {
	h := NewHub(newFakeService(t), 16, nil, nil)
	conn := dialHub(t, h, "?symbol=ETH%2FUSDT")
	require.Eventually(t, func() bool { return h.Clients() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.Publish(context.Background(), []events.Event{trade("BTC/USDT", 1), trade("ETH/USDT", 2)}))
	v := readEvent(t, conn)
	assert.Equal(t, "Trade", v.Type)
	assert.Equal(t, "ETH/USDT", v.Symbol)
	assert.Equal(t, uint64(2), v.Seq)
	require.NotNil(t, v.Trade)
	assert.Equal(t, "sell", v.Trade.TakerSide)

	require.NoError(t, conn.WriteJSON(subscribeRequest{Op: "subscribe", Symbols: []string{"BTC/USDT"}}))
	require.Eventually(t, func() bool { return subscribers(h, "BTC/USDT") == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.Publish(context.Background(), []events.Event{trade("BTC/USDT", 3)}))
	v = readEvent(t, conn)
	assert.Equal(t, "BTC/USDT", v.Symbol)
	assert.Equal(t, "30000.25", v.Trade.Price.String())
	assert.Equal(t, "0.015", v.Trade.Qty.String())
}

func TestHubUnsubscribeLastSymbolStopsDelivery(t *testing.T) {
	h := NewHub(newFakeService(t), 16, nil, nil)
	conn := dialHub(t, h, "?symbol=BTC%2FUSDT")
	require.Eventually(t, func() bool { return subscribers(h, "BTC/USDT") == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, subscribers(h, "ETH/USDT"))

	require.NoError(t, conn.WriteJSON(subscribeRequest{Op: "unsubscribe", Symbols: []string{"BTC/USDT"}}))
	require.Eventually(t, func() bool { return subscribers(h, "BTC/USDT") == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, subscribers(h, "ETH/USDT"), "an empty set is not every symbol")

	require.NoError(t, h.Publish(context.Background(), []events.Event{trade("BTC/USDT", 1), trade("ETH/USDT", 2)}))

	require.NoError(t, conn.WriteJSON(subscribeRequest{Op: "subscribe", Symbols: []string{"ETH/USDT"}}))
	require.Eventually(t, func() bool { return subscribers(h, "ETH/USDT") == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, h.Publish(context.Background(), []events.Event{trade("BTC/USDT", 3), trade("ETH/USDT", 4)}))

	v := readEvent(t, conn)
	assert.Equal(t, "ETH/USDT", v.Symbol)
	assert.Equal(t, uint64(4), v.Seq)
}

func TestHubUnsubscribeFromEverySymbol(t *testing.T) {
	h := NewHub(newFakeService(t), 16, nil, nil)
	conn := dialHub(t, h, "")
	require.Eventually(t, func() bool { return subscribers(h, "BTC/USDT") == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.WriteJSON(subscribeRequest{Op: "unsubscribe", Symbols: []string{"BTC/USDT"}}))
	require.Eventually(t, func() bool { return subscribers(h, "BTC/USDT") == 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, subscribers(h, "ETH/USDT"))

	require.NoError(t, h.Publish(context.Background(), []events.Event{trade("BTC/USDT", 1), trade("ETH/USDT", 2)}))
	v := readEvent(t, conn)
	assert.Equal(t, "ETH/USDT", v.Symbol)
}

func TestHubRendersDepthAndSkipsUnknownSymbols(t *testing.T) {
	h := NewHub(newFakeService(t), 16, nil, nil)
	conn := dialHub(t, h, "")
	require.Eventually(t, func() bool { return h.Clients() == 1 }, time.Second, 5*time.Millisecond)

	depth := events.Event{Kind: events.BookDepthSnapshot, Symbol: "BTC/USDT", Seq: 9,
		Depth: &orderbook.Depth{Bids: []orderbook.LevelView{{Price: 100, Qty: 100_000, Orders: 1}}}}
	require.NoError(t, h.Publish(context.Background(), []events.Event{trade("DOGE/USDT", 1), depth}))

	v := readEvent(t, conn)
	assert.Equal(t, "BookDepthSnapshot", v.Type)
	require.NotNil(t, v.Depth)
	require.Len(t, v.Depth.Bids, 1)
	assert.Equal(t, "1", v.Depth.Bids[0].Price.String())
	assert.Empty(t, v.Depth.Asks)
}

func TestHubDropsSlowClient(t *testing.T) {
	h := NewHub(newFakeService(t), 1, nil, nil)
	c := &client{send: make(chan []byte, 1), all: true, subs: map[string]bool{}}
	h.clients[c] = struct{}{}
	h.metrics.WSClients.Inc()

	require.NoError(t, h.Publish(context.Background(), []events.Event{trade("BTC/USDT", 1), trade("BTC/USDT", 2)}))
	assert.Equal(t, 0, h.Clients())

	_, ok := <-c.send
	assert.True(t, ok, "the buffered message is still delivered")
	_, ok = <-c.send
	assert.False(t, ok)
}

func TestHubCloseDisconnects(t *testing.T) {
	h := NewHub(newFakeService(t), 16, nil, nil)
	conn := dialHub(t, h, "")
	require.Eventually(t, func() bool { return h.Clients() == 1 }, time.Second, 5*time.Millisecond)

	h.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	assert.Equal(t, 0, h.Clients())
}
