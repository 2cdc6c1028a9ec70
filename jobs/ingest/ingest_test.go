package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clob/domain/events"
	"clob/domain/orderbook"
	"clob/infra/codec"
	"clob/service"
)

type fakeSource struct {
	mu        sync.Mutex
	msgs      chan kafka.Message
	committed []int64
}

func (s *fakeSource) Fetch(ctx context.Context) (kafka.Message, error) {
	select {
	case m := <-s.msgs:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (s *fakeSource) Commit(_ context.Context, m kafka.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.committed = append(s.committed, m.Offset)
	return nil
}

func (s *fakeSource) offsets() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.committed...)
}

type fakeSink struct {
	mu   sync.Mutex
	err  error
	keys []string
	acks []Reply
}

func (s *fakeSink) Send(_ context.Context, key, value []byte) error {
	if s.err != nil {
		return s.err
	}
	r, err := UnmarshalAck(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, string(key))
	s.acks = append(s.acks, r)
	return nil
}

func (s *fakeSink) replies() []Reply {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Reply(nil), s.acks...)
}

type fakeEngine struct {
	submits []service.SubmitRequest
	cancels []service.CancelRequest
	err     error
}

func (e *fakeEngine) SubmitOrder(_ context.Context, req service.SubmitRequest) (service.Ack, error) {
	e.submits = append(e.submits, req)
	if e.err != nil {
		return service.Ack{}, e.err
	}
	return service.Ack{
		Accepted: true, Seq: 7, OrderID: req.OrderID, Status: orderbook.StatusNew,
		Events: []events.Event{{Kind: events.OrderAccepted, Symbol: req.Symbol, Seq: 7, Order: &events.OrderState{ID: req.OrderID}}},
	}, nil
}

func (e *fakeEngine) CancelOrder(_ context.Context, req service.CancelRequest) (service.Ack, error) {
	e.cancels = append(e.cancels, req)
	return service.Ack{OrderID: req.OrderID, Status: orderbook.StatusRejected, Reason: events.ReasonUnknownOrder}, nil
}

func (e *fakeEngine) AmendOrder(context.Context, service.AmendRequest) (service.Ack, error) {
	return service.Ack{}, nil
}

func message(offset int64, key string, c codec.Command) kafka.Message {
	return kafka.Message{Offset: offset, Key: []byte(key), Value: codec.MarshalCommand(c)}
}

func TestHandleSubmitAndCancel(t *testing.T) {
	src, sink, eng := &fakeSource{}, &fakeSink{}, &fakeEngine{}
	in := New(src, sink, eng, time.Second, nil, nil)
	ctx := context.Background()

	require.NoError(t, in.Handle(ctx, message(1, "req-1", codec.Command{
		Kind: codec.CmdSubmit, Symbol: "BTC/USDT", OrderID: "o1", OwnerID: "alice",
		Side: orderbook.Buy, Type: orderbook.Limit, TIF: orderbook.GTC, Price: 100, Qty: 3,
	})))
	require.NoError(t, in.Handle(ctx, message(2, "req-2", codec.Command{Kind: codec.CmdCancel, Symbol: "BTC/USDT", OrderID: "nope"})))

	require.Len(t, eng.submits, 1)
	assert.Equal(t, int64(100), eng.submits[0].Price)
	assert.Equal(t, "alice", eng.submits[0].OwnerID)

	replies := sink.replies()
	require.Len(t, replies, 2)
	assert.Equal(t, []string{"req-1", "req-2"}, sink.keys)
	assert.True(t, replies[0].Accepted)
	assert.Equal(t, uint64(7), replies[0].Seq)
	require.Len(t, replies[0].Events, 1)
	assert.Equal(t, events.OrderAccepted, replies[0].Events[0].Kind)
	assert.False(t, replies[1].Accepted)
	assert.Equal(t, events.ReasonUnknownOrder, replies[1].Reason)

	assert.Equal(t, []int64{1, 2}, src.offsets())
}

func TestHandleReportsErrors(t *testing.T) {
	src, sink := &fakeSource{}, &fakeSink{}
	eng := &fakeEngine{err: errors.Wrap(service.ErrPersistence, "disk")}
	in := New(src, sink, eng, time.Second, nil, nil)
	ctx := context.Background()

	require.NoError(t, in.Handle(ctx, kafka.Message{Offset: 1, Value: []byte{0xff}}))
	require.NoError(t, in.Handle(ctx, message(2, "k", codec.Command{Kind: codec.CmdSubmit, Symbol: "BTC/USDT"})))

	replies := sink.replies()
	require.Len(t, replies, 2)
	assert.NotEmpty(t, replies[0].Error)
	assert.False(t, replies[0].Retryable)
	assert.NotEmpty(t, replies[1].Error)
	assert.True(t, replies[1].Retryable)
	assert.Equal(t, []int64{1, 2}, src.offsets(), "malformed input is not redelivered")
}

func TestAckFailureSkipsCommit(t *testing.T) {
	src := &fakeSource{}
	sink := &fakeSink{err: errors.New("broker down")}
	in := New(src, sink, &fakeEngine{}, time.Second, nil, nil)

	err := in.Handle(context.Background(), message(5, "k", codec.Command{Kind: codec.CmdCancel, Symbol: "BTC/USDT", OrderID: "x"}))
	require.Error(t, err)
	assert.Empty(t, src.offsets())
}

func TestRunStopsWithContext(t *testing.T) {
	src := &fakeSource{msgs: make(chan kafka.Message, 1)}
	sink := &fakeSink{}
	in := New(src, sink, &fakeEngine{}, time.Second, nil, nil)
	src.msgs <- message(1, "k", codec.Command{Kind: codec.CmdCancel, Symbol: "BTC/USDT", OrderID: "x"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- in.Run(ctx) }()

	require.Eventually(t, func() bool { return len(src.offsets()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestRedeliveredSubmitKeepsItsOrderID(t *testing.T) {
	src, sink, eng := &fakeSource{}, &fakeSink{}, &fakeEngine{}
	in := New(src, sink, eng, time.Second, nil, nil)
	ctx := context.Background()

	msg := message(5, "req-5", codec.Command{
		Kind: codec.CmdSubmit, Symbol: "BTC/USDT", OrderID: "o5", OwnerID: "alice",
		Side: orderbook.Buy, Type: orderbook.Limit, TIF: orderbook.GTC, Price: 100, Qty: 3,
	})
	require.NoError(t, in.Handle(ctx, msg))
	require.NoError(t, in.Handle(ctx, msg))

	require.Len(t, eng.submits, 2)
	assert.Equal(t, "o5", eng.submits[0].OrderID)
	assert.Equal(t, eng.submits[0].OrderID, eng.submits[1].OrderID)
}

func TestSubmitWithoutOrderIDIsRejected(t *testing.T) {
	src, sink, eng := &fakeSource{}, &fakeSink{}, &fakeEngine{}
	in := New(src, sink, eng, time.Second, nil, nil)
	ctx := context.Background()

	msg := message(9, "req-9", codec.Command{
		Kind: codec.CmdSubmit, Symbol: "BTC/USDT", OwnerID: "alice",
		Side: orderbook.Buy, Type: orderbook.Limit, TIF: orderbook.GTC, Price: 100, Qty: 3,
	})
	require.NoError(t, in.Handle(ctx, msg))
	require.NoError(t, in.Handle(ctx, msg))

	assert.Empty(t, eng.submits)
	replies := sink.replies()
	require.Len(t, replies, 2)
	for _, r := range replies {
		assert.False(t, r.Accepted)
		assert.Equal(t, orderbook.StatusRejected, r.Status)
		assert.Equal(t, events.ReasonMissingOrderID, r.Reason)
		assert.Empty(t, r.Error)
	}
	assert.Equal(t, []int64{9, 9}, src.offsets())
}
