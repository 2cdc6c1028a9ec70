package exit

import (
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMem(t *testing.T) *ExitWAL {
	t.Helper()
	w, err := OpenWithOptions("outbox", &pebble.Options{FS: vfs.NewMem()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func entries(symbol string, seq uint64, n int) []Entry {
	out := make([]Entry, n)
	for i := range out {
		out[i] = Entry{Key: Key{Symbol: symbol, Seq: seq, Index: uint32(i)}, Payload: []byte{byte(seq), byte(i)}}
	}
	return out
}

func keys(t *testing.T, w *ExitWAL, states ...ExitState) []Key {
	t.Helper()
	var out []Key
	require.NoError(t, w.ScanByState(func(e Entry) error {
		out = append(out, e.Key)
		return nil
	}, states...))
	return out
}

func TestPutNewAndScanInOrder(t *testing.T) {
	w := openMem(t)
	require.NoError(t, w.PutNew(entries("ETH-USDT", 1, 1)))
	require.NoError(t, w.PutNew(entries("BTC-USDT", 10, 2)))
	require.NoError(t, w.PutNew(entries("BTC-USDT", 9, 1)))

	got := keys(t, w, StateNew)
	assert.Equal(t, []Key{
		{Symbol: "BTC-USDT", Seq: 9, Index: 0},
		{Symbol: "BTC-USDT", Seq: 10, Index: 0},
		{Symbol: "BTC-USDT", Seq: 10, Index: 1},
		{Symbol: "ETH-USDT", Seq: 1, Index: 0},
	}, got)

	rec, payload, err := w.Get(Key{Symbol: "BTC-USDT", Seq: 10, Index: 1})
	require.NoError(t, err)
	assert.Equal(t, StateNew, rec.State)
	assert.Equal(t, []byte{10, 1}, payload)
}

func TestUpdateStateKeepsPayload(t *testing.T) {
	w := openMem(t)
	require.NoError(t, w.PutNew(entries("BTC-USDT", 1, 1)))
	k := Key{Symbol: "BTC-USDT", Seq: 1}

	require.NoError(t, w.UpdateState(k, StateFailed, 3))
	rec, payload, err := w.Get(k)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, rec.State)
	assert.Equal(t, uint32(3), rec.Retries)
	assert.NotZero(t, rec.LastAttempt)
	assert.Equal(t, []byte{1, 0}, payload)

	assert.Empty(t, keys(t, w, StateNew, StateSent))
	assert.Len(t, keys(t, w, StateFailed), 1)

	err = w.UpdateState(Key{Symbol: "BTC-USDT", Seq: 2}, StateAcked, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutNewIfAbsentKeepsExistingState(t *testing.T) {
	w := openMem(t)
	require.NoError(t, w.PutNew(entries("BTC-USDT", 1, 2)))
	require.NoError(t, w.UpdateState(Key{Symbol: "BTC-USDT", Seq: 1, Index: 0}, StateAcked, 0))

	n, err := w.PutNewIfAbsent(append(entries("BTC-USDT", 1, 2), entries("BTC-USDT", 2, 1)...))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	counts, err := w.Counts()
	require.NoError(t, err)
	assert.Equal(t, 1, counts[StateAcked])
	assert.Equal(t, 2, counts[StateNew])
}

func TestDeleteAckedUpTo(t *testing.T) {
	w := openMem(t)
	for seq := uint64(1); seq <= 4; seq++ {
		require.NoError(t, w.PutNew(entries("BTC-USDT", seq, 1)))
		require.NoError(t, w.UpdateState(Key{Symbol: "BTC-USDT", Seq: seq}, StateAcked, 0))
	}
	require.NoError(t, w.PutNew(entries("BTC-USDT", 5, 1)))
	require.NoError(t, w.PutNew(entries("BTC-USDTX", 1, 1)))
	require.NoError(t, w.UpdateState(Key{Symbol: "BTC-USDTX", Seq: 1}, StateAcked, 0))
	// acked but beyond the snapshot
	require.NoError(t, w.UpdateState(Key{Symbol: "BTC-USDT", Seq: 5}, StateAcked, 0))

	n, err := w.DeleteAckedUpTo("BTC-USDT", 3)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	got := keys(t, w, StateAcked)
	assert.Equal(t, []Key{
		{Symbol: "BTC-USDT", Seq: 4},
		{Symbol: "BTC-USDT", Seq: 5},
		{Symbol: "BTC-USDTX", Seq: 1},
	}, got)
}

func TestParseKeyWithSlashInSymbol(t *testing.T) {
	k := Key{Symbol: "BTC/USDT", Seq: 42, Index: 7}
	got, err := parseKey(keyFor(k))
	require.NoError(t, err)
	assert.Equal(t, k, got)

	_, err = parseKey([]byte("evt/garbage"))
	assert.Error(t, err)
}
