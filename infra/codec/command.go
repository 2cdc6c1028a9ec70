package codec

import (
	"github.com/cockroachdb/errors"

	"clob/domain/orderbook"
)

type CommandKind uint8

const (
	CmdSubmit CommandKind = iota + 1
	CmdCancel
	CmdAmend
)

func (k CommandKind) String() string {
	switch k {
	case CmdSubmit:
		return "submit"
	case CmdCancel:
		return "cancel"
	case CmdAmend:
		return "amend"
	default:
		return "unknown"
	}
}

// Command is an accepted request as it is logged and replayed. For amends
// Price and Qty carry the new values, zero meaning unchanged.
type Command struct {
	Kind          CommandKind
	Symbol        string
	OrderID       string
	ClientOrderID string
	OwnerID       string
	Side          orderbook.Side
	Type          orderbook.OrderType
	TIF           orderbook.TimeInForce
	Price         int64
	StopPrice     int64
	Qty           int64
}

// Order builds the order a submit command describes.
func (c Command) Order() orderbook.Order {
	return orderbook.Order{
		ID:            c.OrderID,
		ClientOrderID: c.ClientOrderID,
		Symbol:        c.Symbol,
		OwnerID:       c.OwnerID,
		Side:          c.Side,
		Type:          c.Type,
		TIF:           c.TIF,
		Price:         c.Price,
		StopPrice:     c.StopPrice,
		Qty:           c.Qty,
	}
}

func MarshalCommand(c Command) []byte {
	var e Encoder
	e.Uint(1, uint64(c.Kind))
	e.String(2, c.Symbol)
	e.String(3, c.OrderID)
	e.String(4, c.ClientOrderID)
	e.String(5, c.OwnerID)
	e.Uint(6, uint64(c.Side))
	e.Uint(7, uint64(c.Type))
	e.Uint(8, uint64(c.TIF))
	e.Int(9, c.Price)
	e.Int(10, c.StopPrice)
	e.Int(11, c.Qty)
	return e.Bytes()
}

func UnmarshalCommand(b []byte) (Command, error) {
	var c Command
	err := Walk(b, func(f Field) error {
		switch f.Num {
		case 1:
			c.Kind = CommandKind(f.U)
		case 2:
			c.Symbol = f.String()
		case 3:
			c.OrderID = f.String()
		case 4:
			c.ClientOrderID = f.String()
		case 5:
			c.OwnerID = f.String()
		case 6:
			c.Side = orderbook.Side(f.U)
		case 7:
			c.Type = orderbook.OrderType(f.U)
		case 8:
			c.TIF = orderbook.TimeInForce(f.U)
		case 9:
			c.Price = f.Int()
		case 10:
			c.StopPrice = f.Int()
		case 11:
			c.Qty = f.Int()
		}
		return nil
	})
	if err != nil {
		return Command{}, errors.Wrap(err, "decode command")
	}
	if c.Kind < CmdSubmit || c.Kind > CmdAmend {
		return Command{}, errors.Wrapf(ErrMalformed, "command kind %d", c.Kind)
	}
	return c, nil
}
