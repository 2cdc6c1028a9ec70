package broadcaster

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/IBM/sarama/mocks"
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	exitwal "clob/infra/wal/exit"
	"clob/infra/metrics"
)

func outbox(t *testing.T) *exitwal.ExitWAL {
	t.Helper()
	w, err := exitwal.OpenWithOptions("outbox", &pebble.Options{FS: vfs.NewMem()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func put(t *testing.T, w *exitwal.ExitWAL, symbol string, seq uint64) {
	t.Helper()
	require.NoError(t, w.PutNew([]exitwal.Entry{{
		Key:     exitwal.Key{Symbol: symbol, Seq: seq},
		Payload: []byte(fmt.Sprintf("%s-%d", symbol, seq)),
	}}))
}

func payload(want string) mocks.ValueChecker {
	return func(val []byte) error {
		if !bytes.Equal(val, []byte(want)) {
			return errors.Newf("got %q, want %q", val, want)
		}
		return nil
	}
}

func stateOf(t *testing.T, w *exitwal.ExitWAL, symbol string, seq uint64) exitwal.ExitRecord {
	t.Helper()
	rec, _, err := w.Get(exitwal.Key{Symbol: symbol, Seq: seq})
	require.NoError(t, err)
	return rec
}

func TestRelayDeliversInOrderAndRetries(t *testing.T) {
	w := outbox(t)
	put(t, w, "BTC-USDT", 1)
	put(t, w, "BTC-USDT", 2)
	put(t, w, "ETH-USDT", 1)

	p := mocks.NewSyncProducer(t, nil)
	p.ExpectSendMessageWithCheckerFunctionAndSucceed(payload("BTC-USDT-1"))
	p.ExpectSendMessageAndFail(errors.New("broker down"))
	p.ExpectSendMessageWithCheckerFunctionAndSucceed(payload("ETH-USDT-1"))

	b := New(w, p, Config{Topic: "events", MaxRetries: 3}, metrics.New(), nil)
	n, err := b.RelayOnce()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, exitwal.StateAcked, stateOf(t, w, "BTC-USDT", 1).State)
	failed := stateOf(t, w, "BTC-USDT", 2)
	assert.Equal(t, exitwal.StateSent, failed.State)
	assert.Equal(t, uint32(1), failed.Retries)
	assert.Equal(t, exitwal.StateAcked, stateOf(t, w, "ETH-USDT", 1).State)

	p.ExpectSendMessageWithCheckerFunctionAndSucceed(payload("BTC-USDT-2"))
	n, err = b.RelayOnce()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, exitwal.StateAcked, stateOf(t, w, "BTC-USDT", 2).State)

	require.NoError(t, b.Close())
}

func TestRelayHoldsBackLaterEventsOfFailedSymbol(t *testing.T) {
	w := outbox(t)
	put(t, w, "BTC-USDT", 1)
	put(t, w, "BTC-USDT", 2)

	p := mocks.NewSyncProducer(t, nil)
	p.ExpectSendMessageAndFail(errors.New("broker down"))

	b := New(w, p, Config{Topic: "events", MaxRetries: 3}, nil, nil)
	n, err := b.RelayOnce()
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, exitwal.StateNew, stateOf(t, w, "BTC-USDT", 2).State)

	require.NoError(t, b.Close())
}

func TestRelayParksAfterMaxRetries(t *testing.T) {
	w := outbox(t)
	put(t, w, "BTC-USDT", 1)

	p := mocks.NewSyncProducer(t, nil)
	p.ExpectSendMessageAndFail(errors.New("too large"))
	p.ExpectSendMessageAndFail(errors.New("too large"))

	b := New(w, p, Config{Topic: "events", MaxRetries: 2}, nil, nil)
	for range 3 {
		_, err := b.RelayOnce()
		require.NoError(t, err)
	}

	rec := stateOf(t, w, "BTC-USDT", 1)
	assert.Equal(t, exitwal.StateFailed, rec.State)
	assert.Equal(t, uint32(2), rec.Retries)

	counts, err := w.Counts()
	require.NoError(t, err)
	assert.Equal(t, 1, counts[exitwal.StateFailed])

	require.NoError(t, b.Close())
}
