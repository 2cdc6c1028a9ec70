package service

import (
	"clob/domain/events"
	"clob/domain/orderbook"
)

type finished struct {
	owner  string
	status orderbook.Status
	qty    int64
	filled int64
}

// auditIndex remembers the terminal outcome of the most recent finished
// orders so late cancels can be answered and ids are not reused. The
// oldest entry is evicted once the index is full.
type auditIndex struct {
	limit int
	byID  map[string]finished
	ring  []string
	next  int
}

func newAuditIndex(limit int) *auditIndex {
	if limit <= 0 {
		limit = 1
	}
	return &auditIndex{limit: limit, byID: make(map[string]finished, limit)}
}

func (a *auditIndex) add(id string, f finished) {
	if _, ok := a.byID[id]; ok {
		a.byID[id] = f
		return
	}
	if len(a.ring) < a.limit {
		a.ring = append(a.ring, id)
	} else {
		delete(a.byID, a.ring[a.next])
		a.ring[a.next] = id
		a.next = (a.next + 1) % a.limit
	}
	a.byID[id] = f
}

func (a *auditIndex) get(id string) (finished, bool) {
	f, ok := a.byID[id]
	return f, ok
}

func (a *auditIndex) len() int { return len(a.byID) }

// export returns the entries oldest first.
func (a *auditIndex) export() []events.OrderState {
	if len(a.ring) == 0 {
		return nil
	}
	out := make([]events.OrderState, 0, len(a.ring))
	for i := range a.ring {
		id := a.ring[(a.next+i)%len(a.ring)]
		f := a.byID[id]
		out = append(out, events.OrderState{ID: id, OwnerID: f.owner, Status: f.status, Qty: f.qty, Filled: f.filled})
	}
	return out
}

// restore replaces the contents with entries in export order. When there
// are more entries than the limit the oldest are dropped.
func (a *auditIndex) restore(entries []events.OrderState) {
	a.byID = make(map[string]finished, a.limit)
	a.ring = a.ring[:0]
	a.next = 0
	for _, o := range entries {
		a.add(o.ID, finished{owner: o.OwnerID, status: o.Status, qty: o.Qty, filled: o.Filled})
	}
}
