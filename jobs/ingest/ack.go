package ingest

import (
	"clob/domain/events"
	"clob/domain/orderbook"
	"clob/infra/codec"
	"clob/service"
)

// MarshalAck encodes the reply to one ingested command.
//
//	1 accepted  2 seq  3 order_id  4 status  5 reason
//	6 error  7 retryable  8 events (repeated)
func MarshalAck(ack service.Ack, err error) []byte {
	var e codec.Encoder
	e.Bool(1, ack.Accepted)
	e.Uint(2, ack.Seq)
	e.String(3, ack.OrderID)
	e.Uint(4, uint64(ack.Status))
	e.String(5, string(ack.Reason))
	if err != nil {
		e.String(6, err.Error())
		e.Bool(7, service.IsRetryable(err))
	}
	for _, ev := range ack.Events {
		e.Message(8, func(m *codec.Encoder) { codec.AppendEvent(m, ev) })
	}
	return e.Bytes()
}

// Reply is a decoded ack.
type Reply struct {
	service.Ack
	Error     string
	Retryable bool
}

func UnmarshalAck(b []byte) (Reply, error) {
	var r Reply
	err := codec.Walk(b, func(f codec.Field) error {
		switch f.Num {
		case 1:
			r.Accepted = f.Bool()
		case 2:
			r.Seq = f.U
		case 3:
			r.OrderID = f.String()
		case 4:
			r.Status = orderbook.Status(f.U)
		case 5:
			r.Reason = events.Reason(f.String())
		case 6:
			r.Error = f.String()
		case 7:
			r.Retryable = f.Bool()
		case 8:
			ev, err := codec.UnmarshalEvent(f.B)
			if err != nil {
				return err
			}
			r.Events = append(r.Events, ev)
		}
		return nil
	})
	return r, err
}
