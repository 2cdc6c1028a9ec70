// Package symbol describes tradeable instruments: their "BASE/QUOTE" name,
// tick and lot rules, trading status, and the exact conversion between
// decimal prices/quantities and the integer units the engine works in.
package symbol

import (
	"strings"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

var (
	ErrBadName   = errors.New("symbol: name must be BASE/QUOTE")
	ErrPrecision = errors.New("symbol: value is finer than the symbol precision")
	ErrRange     = errors.New("symbol: value out of range")
)

type Status uint32

const (
	Active Status = iota
	// CancelOnly accepts cancels and quantity reductions but no new orders.
	CancelOnly
	Halted
	Closed
)

func (s Status) String() string {
	switch s {
	case Active:
		return "active"
	case CancelOnly:
		return "cancel_only"
	case Halted:
		return "halted"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Rules are the static trading parameters of one symbol. Integer fields are
// in engine units: prices in 10^-PriceScale, quantities in 10^-QtyScale.
type Rules struct {
	Name        string
	Base        string
	Quote       string
	PriceScale  int32
	QtyScale    int32
	TickSize    int64
	LotSize     int64
	MinQty      int64
	MaxQty      int64 // 0 means unbounded
	MinNotional decimal.Decimal
}

// Symbol is a registered instrument. Rules never change after
// registration; the status may be flipped by an operator at any time.
type Symbol struct {
	Rules
	status atomic.Uint32
}

func New(r Rules) *Symbol {
	s := &Symbol{Rules: r}
	s.status.Store(uint32(Active))
	return s
}

func (s *Symbol) Status() Status {
	return Status(s.status.Load())
}

func (s *Symbol) SetStatus(st Status) {
	s.status.Store(uint32(st))
}

// Tradeable reports whether new orders are admitted.
func (s *Symbol) Tradeable() bool {
	return s.Status() == Active
}

// Key is the filesystem and storage friendly form of the name.
func (s *Symbol) Key() string {
	return Key(s.Name)
}

func Key(name string) string {
	return strings.ReplaceAll(name, "/", "-")
}

// Split parses "BASE/QUOTE".
func Split(name string) (base, quote string, err error) {
	base, quote, ok := strings.Cut(name, "/")
	if !ok || base == "" || quote == "" || strings.Contains(quote, "/") {
		return "", "", errors.Wrapf(ErrBadName, "%q", name)
	}
	return base, quote, nil
}

// ─── Conversions ───

func toUnits(d decimal.Decimal, scale int32) (int64, error) {
	shifted := d.Shift(scale)
	if !shifted.IsInteger() {
		return 0, errors.Wrapf(ErrPrecision, "%s at scale %d", d, scale)
	}
	if !shifted.BigInt().IsInt64() {
		return 0, errors.Wrapf(ErrRange, "%s", d)
	}
	return shifted.IntPart(), nil
}

// PriceTicks converts a decimal price to engine units without rounding.
func (r Rules) PriceTicks(d decimal.Decimal) (int64, error) {
	return toUnits(d, r.PriceScale)
}

// QtyUnits converts a decimal quantity to engine units without rounding.
func (r Rules) QtyUnits(d decimal.Decimal) (int64, error) {
	return toUnits(d, r.QtyScale)
}

func (r Rules) Price(ticks int64) decimal.Decimal {
	return decimal.New(ticks, -r.PriceScale)
}

func (r Rules) Qty(units int64) decimal.Decimal {
	return decimal.New(units, -r.QtyScale)
}

// Notional is price × quantity in quote currency.
func (r Rules) Notional(priceTicks, qtyUnits int64) decimal.Decimal {
	return r.Price(priceTicks).Mul(r.Qty(qtyUnits))
}

// Validate checks that the rules are internally consistent.
func (r Rules) Validate() error {
	if _, _, err := Split(r.Name); err != nil {
		return err
	}
	switch {
	case r.TickSize <= 0:
		return errors.Newf("symbol %s: tick size must be positive", r.Name)
	case r.LotSize <= 0:
		return errors.Newf("symbol %s: lot size must be positive", r.Name)
	case r.MinQty < 0 || (r.MaxQty != 0 && r.MaxQty < r.MinQty):
		return errors.Newf("symbol %s: invalid quantity bounds %d..%d", r.Name, r.MinQty, r.MaxQty)
	case r.MinNotional.IsNegative():
		return errors.Newf("symbol %s: negative min notional", r.Name)
	case r.PriceScale < 0 || r.QtyScale < 0 || r.PriceScale > 18 || r.QtyScale > 18:
		return errors.Newf("symbol %s: scale out of range", r.Name)
	}
	return nil
}
