package events

// Reason is the machine-readable cause attached to rejections and
// cancellations.
type Reason string

const (
	ReasonNone Reason = ""

	// validation
	ReasonUnknownSymbol       Reason = "unknown_symbol"
	ReasonSymbolNotTradeable  Reason = "symbol_not_tradeable"
	ReasonInvalidQuantity     Reason = "invalid_quantity"
	ReasonLotSize             Reason = "lot_size"
	ReasonInvalidPrice        Reason = "invalid_price"
	ReasonTickSize            Reason = "tick_size"
	ReasonMinNotional         Reason = "min_notional"
	ReasonInvalidTIF          Reason = "invalid_tif"
	ReasonSelfTrade           Reason = "self_trade"
	ReasonFOKUnfillable       Reason = "fok_unfillable"
	ReasonPostOnlyWouldCross  Reason = "post_only_would_cross"
	ReasonInsufficientBalance Reason = "insufficient_balance"
	ReasonDuplicateOrderID    Reason = "duplicate_order_id"
	ReasonMissingOrderID      Reason = "missing_order_id"
	ReasonUnknownOrder        Reason = "unknown_order"
	ReasonNotOwner            Reason = "not_owner"
	ReasonNotAmendable        Reason = "not_amendable"
	ReasonLedgerUnavailable   Reason = "ledger_unavailable"
	ReasonPositionLimit       Reason = "position_limit"
	ReasonDailyLimit          Reason = "daily_limit"

	// cancellation causes
	ReasonUserCanceled       Reason = "user_canceled"
	ReasonIOCRemainder       Reason = "ioc_remainder"
	ReasonNoLiquidity        Reason = "no_liquidity"
	ReasonSelfTradePrevented Reason = "self_trade_prevented"
)
