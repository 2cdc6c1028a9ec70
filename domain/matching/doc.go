// Package matching is the per-symbol matching core.
//
// An Engine crosses incoming orders against its orderbook.Book under
// price-time priority and reports every state change as an ordered list of
// events for the command that caused it. Trades always execute at the
// resting order's price. IOC and market remainders are canceled, FOK orders
// are checked with a dry run before any fill is committed, and stop orders
// wait in a separate book until the last trade price reaches them.
//
// All arithmetic is on int64 engine units. Any broken invariant halts the
// engine for good; the owning worker must be rebuilt from a snapshot.
package matching
