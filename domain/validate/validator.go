// Package validate decides whether a command may be sequenced. Every check
// runs on the symbol's worker against the live book, so a command that
// passes here is guaranteed to be processable by the matching core.
package validate

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"

	"clob/domain/events"
	"clob/domain/ledger"
	"clob/domain/matching"
	"clob/domain/orderbook"
	"clob/domain/symbol"
)

type Validator struct {
	ledger ledger.Ledger
	stp    matching.STPPolicy
}

func New(l ledger.Ledger, stp matching.STPPolicy) *Validator {
	if l == nil {
		l = ledger.Noop{}
	}
	return &Validator{ledger: l, stp: stp}
}

// Submit checks a new order. The checks run in a fixed order and the first
// failure is reported.
func (v *Validator) Submit(ctx context.Context, sym *symbol.Symbol, book *orderbook.Book, o *orderbook.Order) events.Reason {
	if sym == nil {
		return events.ReasonUnknownSymbol
	}
	if !sym.Tradeable() {
		return events.ReasonSymbolNotTradeable
	}
	if r := checkRules(sym.Rules, o); r != events.ReasonNone {
		return r
	}
	if r := checkTIF(o); r != events.ReasonNone {
		return r
	}
	if o.Type == orderbook.Stop {
		// stops are checked against the book when they trigger
		return v.checkBalance(ctx, sym.Rules, o, nil)
	}

	skipOwn := v.stp == matching.STPCancelResting
	preview := book.Preview(o, skipOwn)
	if v.stp == matching.STPReject && preview.SelfTrade {
		return events.ReasonSelfTrade
	}
	switch o.TIF {
	case orderbook.FOK:
		if preview.Fillable < o.Remaining() {
			return events.ReasonFOKUnfillable
		}
	case orderbook.PostOnly:
		if book.WouldCross(o) {
			return events.ReasonPostOnlyWouldCross
		}
	}
	return v.checkBalance(ctx, sym.Rules, o, preview.Levels)
}

// Cancel checks a cancel against the live order it targets, if any.
func (v *Validator) Cancel(sym *symbol.Symbol, live *orderbook.Order, owner string) events.Reason {
	if sym == nil {
		return events.ReasonUnknownSymbol
	}
	if live != nil && owner != "" && live.OwnerID != owner {
		return events.ReasonNotOwner
	}
	return events.ReasonNone
}

// Amend checks a price and/or quantity change of a resting order; zero
// means unchanged.
func (v *Validator) Amend(ctx context.Context, sym *symbol.Symbol, book *orderbook.Book, live *orderbook.Order, owner string, price, qty int64) events.Reason {
	if sym == nil {
		return events.ReasonUnknownSymbol
	}
	if live == nil {
		return events.ReasonUnknownOrder
	}
	if owner != "" && live.OwnerID != owner {
		return events.ReasonNotOwner
	}
	if !live.Resting() {
		return events.ReasonNotAmendable
	}
	if price == 0 {
		price = live.Price
	}
	if qty == 0 {
		qty = live.Qty
	}
	if price == live.Price && qty == live.Qty {
		return events.ReasonNotAmendable
	}
	reduceOnly := price == live.Price && qty < live.Qty
	if !reduceOnly && !sym.Tradeable() {
		return events.ReasonSymbolNotTradeable
	}
	if qty <= live.Filled {
		return events.ReasonInvalidQuantity
	}

	next := *live
	next.Price = price
	next.Qty = qty
	if r := checkRules(sym.Rules, &next); r != events.ReasonNone {
		return r
	}
	if reduceOnly {
		return events.ReasonNone
	}

	// only the opposite side is consulted, so the live order does not interfere
	if next.TIF == orderbook.PostOnly && book.WouldCross(&next) {
		return events.ReasonPostOnlyWouldCross
	}
	if v.stp == matching.STPReject && book.Preview(&next, false).SelfTrade {
		return events.ReasonSelfTrade
	}
	return v.checkBalance(ctx, sym.Rules, &next, nil)
}

func checkRules(r symbol.Rules, o *orderbook.Order) events.Reason {
	switch {
	case o.Qty <= 0:
		return events.ReasonInvalidQuantity
	case o.Qty%r.LotSize != 0:
		return events.ReasonLotSize
	case o.Qty < r.MinQty || (r.MaxQty > 0 && o.Qty > r.MaxQty):
		return events.ReasonInvalidQuantity
	}

	switch o.Type {
	case orderbook.Market:
		if o.Price != 0 || o.StopPrice != 0 {
			return events.ReasonInvalidPrice
		}
		return events.ReasonNone
	case orderbook.Stop:
		if o.StopPrice <= 0 {
			return events.ReasonInvalidPrice
		}
		if o.StopPrice%r.TickSize != 0 {
			return events.ReasonTickSize
		}
		if o.Price == 0 {
			return events.ReasonNone
		}
	case orderbook.Limit:
		if o.StopPrice != 0 {
			return events.ReasonInvalidPrice
		}
	default:
		return events.ReasonInvalidPrice
	}

	if o.Price <= 0 {
		return events.ReasonInvalidPrice
	}
	if o.Price%r.TickSize != 0 {
		return events.ReasonTickSize
	}
	if r.Notional(o.Price, o.Qty).LessThan(r.MinNotional) {
		return events.ReasonMinNotional
	}
	return events.ReasonNone
}

func checkTIF(o *orderbook.Order) events.Reason {
	switch o.TIF {
	case orderbook.GTC, orderbook.IOC, orderbook.FOK, orderbook.PostOnly:
	default:
		return events.ReasonInvalidTIF
	}
	switch {
	case o.Type == orderbook.Market && (o.TIF == orderbook.GTC || o.TIF == orderbook.PostOnly):
		return events.ReasonInvalidTIF
	case o.Type == orderbook.Stop && o.TIF == orderbook.PostOnly:
		return events.ReasonInvalidTIF
	case o.Type == orderbook.Stop && o.Price == 0 && o.TIF != orderbook.IOC && o.TIF != orderbook.FOK:
		return events.ReasonInvalidTIF
	}
	return events.ReasonNone
}

// checkBalance asks the ledger whether the owner can pay for the order.
// Buys need quote currency for the notional, sells need the base quantity.
// Market orders are priced off the levels the sweep would take. Ledgers
// that enforce risk limits are then asked about the order's exposure.
func (v *Validator) checkBalance(ctx context.Context, r symbol.Rules, o *orderbook.Order, sweep []orderbook.LevelFill) events.Reason {
	qty := r.Qty(o.Remaining())
	notional := decimal.Zero
	switch {
	case o.Type == orderbook.Market:
		for _, l := range sweep {
			notional = notional.Add(r.Notional(l.Price, l.Qty))
		}
	case o.Type == orderbook.Stop && o.Price == 0:
		notional = r.Notional(o.StopPrice, o.Remaining())
	default:
		notional = r.Notional(o.Price, o.Remaining())
	}

	asset, amount := r.Base, qty
	if o.Side == orderbook.Buy {
		asset, amount = r.Quote, notional
	}
	if reason := ledgerReason(v.ledger.Check(ctx, o.OwnerID, asset, amount)); reason != events.ReasonNone {
		return reason
	}
	lim, ok := v.ledger.(ledger.Limiter)
	if !ok {
		return events.ReasonNone
	}
	return ledgerReason(lim.CheckLimits(ctx, ledger.Exposure{Owner: o.OwnerID, Base: r.Base, BaseQty: qty, Notional: notional}))
}

func ledgerReason(err error) events.Reason {
	switch {
	case err == nil:
		return events.ReasonNone
	case errors.Is(err, ledger.ErrInsufficient):
		return events.ReasonInsufficientBalance
	case errors.Is(err, ledger.ErrPositionLimit):
		return events.ReasonPositionLimit
	case errors.Is(err, ledger.ErrDailyLimit):
		return events.ReasonDailyLimit
	default:
		return events.ReasonLedgerUnavailable
	}
}
