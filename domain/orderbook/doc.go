// Package orderbook holds the per-symbol price-time priority book.
//
// Each side is a red-black tree of price levels with the best level
// cached, and every level is an intrusive FIFO of orders keyed by the
// sequence number that queued them. The book is single-writer: it is only
// ever touched by the matching worker that owns its symbol, so nothing in
// here locks.
package orderbook
