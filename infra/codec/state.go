package codec

import (
	"github.com/cockroachdb/errors"

	"clob/domain/matching"
)

// AppendState writes an engine state. Orders keep their book order, which
// is the order they are restored in.
func AppendState(e *Encoder, st matching.State) {
	e.String(1, st.Symbol)
	e.Int(2, st.LastPrice)
	e.Uint(3, st.NextTradeID)
	for _, o := range st.Orders {
		e.Message(4, func(m *Encoder) { AppendOrderState(m, o) })
	}
	for _, o := range st.Stops {
		e.Message(5, func(m *Encoder) { AppendOrderState(m, o) })
	}
}

func MarshalState(st matching.State) []byte {
	var e Encoder
	AppendState(&e, st)
	return e.Bytes()
}

func UnmarshalState(b []byte) (matching.State, error) {
	var st matching.State
	err := Walk(b, func(f Field) error {
		switch f.Num {
		case 1:
			st.Symbol = f.String()
		case 2:
			st.LastPrice = f.Int()
		case 3:
			st.NextTradeID = f.U
		case 4, 5:
			o, err := UnmarshalOrderState(f.B)
			if err != nil {
				return err
			}
			if f.Num == 4 {
				st.Orders = append(st.Orders, o)
			} else {
				st.Stops = append(st.Stops, o)
			}
		}
		return nil
	})
	if err != nil {
		return matching.State{}, errors.Wrap(err, "decode state")
	}
	return st, nil
}
