package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCheckAndSettle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Deposit("alice", "USDT", decimal.NewFromInt(1000))
	m.Deposit("bob", "BTC", decimal.NewFromInt(2))

	require.NoError(t, m.Check(ctx, "alice", "USDT", decimal.NewFromInt(500)))
	assert.ErrorIs(t, m.Check(ctx, "alice", "USDT", decimal.NewFromInt(1001)), ErrInsufficient)
	assert.ErrorIs(t, m.Check(ctx, "carol", "BTC", decimal.NewFromInt(1)), ErrInsufficient)

	require.NoError(t, m.Settle(ctx, Settlement{
		TradeID:  1,
		Symbol:   "BTC/USDT",
		Buyer:    "alice",
		Seller:   "bob",
		Base:     "BTC",
		Quote:    "USDT",
		BaseQty:  decimal.RequireFromString("0.5"),
		QuoteQty: decimal.NewFromInt(300),
	}))

	assert.True(t, m.Balance("alice", "BTC").Equal(decimal.RequireFromString("0.5")))
	assert.True(t, m.Balance("alice", "USDT").Equal(decimal.NewFromInt(700)))
	assert.True(t, m.Balance("bob", "BTC").Equal(decimal.RequireFromString("1.5")))
	assert.True(t, m.Balance("bob", "USDT").Equal(decimal.NewFromInt(300)))
}

func TestNoop(t *testing.T) {
	var l Ledger = Noop{}
	assert.NoError(t, l.Check(context.Background(), "x", "BTC", decimal.NewFromInt(1e9)))
	assert.NoError(t, l.Settle(context.Background(), Settlement{}))
}

func TestMemoryLimits(t *testing.T) {
	ctx := context.Background()
	day := time.Date(2024, 3, 1, 23, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return day }
	m.SetLimits(Limits{MaxPosition: decimal.NewFromInt(2), MaxDailyNotional: decimal.NewFromInt(1000)})

	exp := func(qty, notional int64) Exposure {
		return Exposure{Owner: "alice", Base: "BTC", BaseQty: decimal.NewFromInt(qty), Notional: decimal.NewFromInt(notional)}
	}
	require.NoError(t, m.CheckLimits(ctx, exp(2, 1000)))
	assert.ErrorIs(t, m.CheckLimits(ctx, exp(3, 10)), ErrPositionLimit)
	assert.ErrorIs(t, m.CheckLimits(ctx, exp(1, 1001)), ErrDailyLimit)

	require.NoError(t, m.Settle(ctx, Settlement{
		Buyer: "alice", Seller: "bob", Base: "BTC", Quote: "USDT",
		BaseQty: decimal.NewFromInt(1), QuoteQty: decimal.NewFromInt(600),
	}))
	assert.ErrorIs(t, m.CheckLimits(ctx, exp(2, 100)), ErrPositionLimit)
	assert.ErrorIs(t, m.CheckLimits(ctx, exp(1, 500)), ErrDailyLimit)
	require.NoError(t, m.CheckLimits(ctx, exp(1, 400)))

	// a short position counts the same as a long one
	bob := Exposure{Owner: "bob", Base: "BTC", BaseQty: decimal.NewFromInt(2)}
	assert.ErrorIs(t, m.CheckLimits(ctx, bob), ErrPositionLimit)

	day = day.Add(2 * time.Hour)
	require.NoError(t, m.CheckLimits(ctx, exp(1, 1000)), "volume resets on the next UTC day")
}

func TestMemoryWithoutLimits(t *testing.T) {
	m := NewMemory()
	e := Exposure{Owner: "alice", Base: "BTC", BaseQty: decimal.NewFromInt(1e9), Notional: decimal.NewFromInt(1e12)}
	assert.NoError(t, m.CheckLimits(context.Background(), e))
}
