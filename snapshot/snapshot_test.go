package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clob/domain/events"
	"clob/domain/matching"
	"clob/domain/orderbook"
)

func sample(seq uint64) *Snapshot {
	return &Snapshot{
		Symbol:  "BTC/USDT",
		Seq:     seq,
		Created: time.Unix(1_700_000_000, 0).UTC(),
		State: matching.State{
			Symbol:      "BTC/USDT",
			LastPrice:   100,
			NextTradeID: seq,
			Orders: []events.OrderState{
				{ID: "b1", OwnerID: "u", Side: orderbook.Buy, Status: orderbook.StatusNew, Price: 99, Qty: 2, Seq: 1},
			},
		},
		Finished: []events.OrderState{
			{ID: "f1", OwnerID: "u", Status: orderbook.StatusFilled, Qty: 3, Filled: 3},
			{ID: "f2", OwnerID: "v", Status: orderbook.StatusCanceled, Qty: 4, Filled: 1},
		},
	}
}

func TestMarshalKeepsFinishedOrder(t *testing.T) {
	got, err := Unmarshal(Marshal(sample(7)))
	require.NoError(t, err)
	require.Len(t, got.Finished, 2)
	assert.Equal(t, "f1", got.Finished[0].ID)
	assert.Equal(t, "f2", got.Finished[1].ID)
	assert.Equal(t, int64(1), got.Finished[1].Filled)
	assert.Equal(t, sample(7), got)
}

func TestMarshalRejectsMismatchedSymbol(t *testing.T) {
	s := sample(1)
	s.State.Symbol = "ETH/USDT"
	_, err := Unmarshal(Marshal(s))
	assert.Error(t, err)
}

func TestFileStoreSaveLatestPrune(t *testing.T) {
	ctx := context.Background()
	store := &FileStore{Dir: t.TempDir(), Keep: 2}

	_, err := store.Latest(ctx, "BTC/USDT")
	require.ErrorIs(t, err, ErrNotFound)

	for seq := uint64(1); seq <= 3; seq++ {
		require.NoError(t, store.Save(ctx, sample(seq*10)))
	}

	got, err := store.Latest(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, sample(30), got)

	files, err := listSnapshots(filepath.Join(store.Dir, "BTC-USDT"))
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestFileStoreFallsBackPastCorruptFile(t *testing.T) {
	ctx := context.Background()
	store := &FileStore{Dir: t.TempDir(), Keep: 3}
	require.NoError(t, store.Save(ctx, sample(1)))
	require.NoError(t, store.Save(ctx, sample(2)))

	files, err := listSnapshots(filepath.Join(store.Dir, "BTC-USDT"))
	require.NoError(t, err)
	newest := files[len(files)-1]
	data, err := os.ReadFile(newest)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	require.NoError(t, os.WriteFile(newest, data, 0o644))

	got, err := store.Latest(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Seq)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	defer client.Close()

	prefix := "clobtest:" + t.Name() + ":"
	store := NewRedisStore(client, prefix, 2)
	t.Cleanup(func() {
		keys, _ := client.Keys(ctx, prefix+"*").Result()
		if len(keys) > 0 {
			client.Del(ctx, keys...)
		}
	})

	_, err := store.Latest(ctx, "BTC/USDT")
	require.ErrorIs(t, err, ErrNotFound)

	for seq := uint64(1); seq <= 3; seq++ {
		require.NoError(t, store.Save(ctx, sample(seq)))
	}
	got, err := store.Latest(ctx, "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, sample(3), got)

	n, err := client.ZCard(ctx, prefix+"BTC-USDT:index").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}
