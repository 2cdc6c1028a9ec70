package snapshot

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"clob/domain/events"
	"clob/domain/matching"
	"clob/infra/codec"
)

var ErrNotFound = errors.New("snapshot: none stored")

type Snapshot struct {
	Symbol  string
	Seq     uint64
	Created time.Time
	State   matching.State
	// Finished holds the outcome of recently closed orders, oldest first.
	// Only ID, OwnerID, Status, Qty and Filled are meaningful.
	Finished []events.OrderState
}

// Store keeps snapshots per symbol. Latest returns ErrNotFound when the
// symbol has none.
type Store interface {
	Save(ctx context.Context, s *Snapshot) error
	Latest(ctx context.Context, symbol string) (*Snapshot, error)
}

func Marshal(s *Snapshot) []byte {
	var e codec.Encoder
	e.String(1, s.Symbol)
	e.Uint(2, s.Seq)
	e.Int(3, s.Created.UnixNano())
	e.Message(4, func(m *codec.Encoder) { codec.AppendState(m, s.State) })
	for _, o := range s.Finished {
		e.Message(5, func(m *codec.Encoder) { codec.AppendOrderState(m, o) })
	}
	return e.Bytes()
}

func Unmarshal(b []byte) (*Snapshot, error) {
	s := &Snapshot{}
	err := codec.Walk(b, func(f codec.Field) error {
		switch f.Num {
		case 1:
			s.Symbol = f.String()
		case 2:
			s.Seq = f.U
		case 3:
			s.Created = time.Unix(0, f.Int()).UTC()
		case 4:
			st, err := codec.UnmarshalState(f.B)
			if err != nil {
				return err
			}
			s.State = st
		case 5:
			o, err := codec.UnmarshalOrderState(f.B)
			if err != nil {
				return err
			}
			s.Finished = append(s.Finished, o)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode snapshot")
	}
	if s.Symbol == "" || s.State.Symbol != s.Symbol {
		return nil, errors.Wrapf(codec.ErrMalformed, "snapshot symbol %q, state symbol %q", s.Symbol, s.State.Symbol)
	}
	return s, nil
}
