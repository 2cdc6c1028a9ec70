// Package ledger is the balance collaborator contract. The engine never
// owns balances: it asks the ledger whether an owner can afford an order
// and tells it about executions for settlement.
package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

var (
	ErrInsufficient  = errors.New("ledger: insufficient balance")
	ErrPositionLimit = errors.New("ledger: position limit exceeded")
	ErrDailyLimit    = errors.New("ledger: daily volume limit exceeded")
)

// Settlement moves Base from seller to buyer and Quote the other way.
type Settlement struct {
	TradeID  uint64
	Symbol   string
	Buyer    string
	Seller   string
	Base     string
	Quote    string
	BaseQty  decimal.Decimal
	QuoteQty decimal.Decimal
}

type Ledger interface {
	// Check returns ErrInsufficient when owner holds less than amount of asset.
	Check(ctx context.Context, owner, asset string, amount decimal.Decimal) error
	Settle(ctx context.Context, s Settlement) error
}

// Exposure is what an order adds to its owner's risk if it fills completely.
type Exposure struct {
	Owner    string
	Base     string
	BaseQty  decimal.Decimal
	Notional decimal.Decimal
}

// Limiter is implemented by ledgers that also enforce per-owner risk
// limits. CheckLimits returns ErrPositionLimit or ErrDailyLimit.
type Limiter interface {
	CheckLimits(ctx context.Context, e Exposure) error
}

// Limits caps the absolute net position an owner has settled per base
// asset and the quote notional settled per UTC day. Zero disables a limit.
type Limits struct {
	MaxPosition      decimal.Decimal
	MaxDailyNotional decimal.Decimal
}

// Noop approves everything and records nothing.
type Noop struct{}

func (Noop) Check(context.Context, string, string, decimal.Decimal) error { return nil }
func (Noop) Settle(context.Context, Settlement) error                    { return nil }

// Memory is an in-process ledger for development and tests.
type Memory struct {
	mu        sync.Mutex
	balances  map[string]map[string]decimal.Decimal
	positions map[string]map[string]decimal.Decimal
	volume    map[string]dailyVolume
	limits    Limits
	now       func() time.Time
}

type dailyVolume struct {
	day      string
	notional decimal.Decimal
}

func NewMemory() *Memory {
	return &Memory{
		balances:  make(map[string]map[string]decimal.Decimal),
		positions: make(map[string]map[string]decimal.Decimal),
		volume:    make(map[string]dailyVolume),
		now:       time.Now,
	}
}

var _ Limiter = (*Memory)(nil)

func (m *Memory) SetLimits(l Limits) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits = l
}

func (m *Memory) Deposit(owner, asset string, amount decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.add(owner, asset, amount)
}

func (m *Memory) Balance(owner, asset string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[owner][asset]
}

func (m *Memory) Check(_ context.Context, owner, asset string, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if have := m.balances[owner][asset]; have.LessThan(amount) {
		return errors.Wrapf(ErrInsufficient, "%s has %s %s, needs %s", owner, have, asset, amount)
	}
	return nil
}

func (m *Memory) Settle(_ context.Context, s Settlement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.add(s.Buyer, s.Base, s.BaseQty)
	m.add(s.Buyer, s.Quote, s.QuoteQty.Neg())
	m.add(s.Seller, s.Base, s.BaseQty.Neg())
	m.add(s.Seller, s.Quote, s.QuoteQty)

	addTo(m.positions, s.Buyer, s.Base, s.BaseQty)
	addTo(m.positions, s.Seller, s.Base, s.BaseQty.Neg())
	m.addVolume(s.Buyer, s.QuoteQty)
	m.addVolume(s.Seller, s.QuoteQty)
	return nil
}

// CheckLimits applies the configured limits to e. The position check
// assumes the worst case: the order grows the position whatever its side.
func (m *Memory) CheckLimits(_ context.Context, e Exposure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit := m.limits.MaxPosition; limit.IsPositive() {
		next := m.positions[e.Owner][e.Base].Abs().Add(e.BaseQty)
		if next.GreaterThan(limit) {
			return errors.Wrapf(ErrPositionLimit, "%s %s position would reach %s, max %s", e.Owner, e.Base, next, limit)
		}
	}
	if limit := m.limits.MaxDailyNotional; limit.IsPositive() {
		next := m.volumeToday(e.Owner).Add(e.Notional)
		if next.GreaterThan(limit) {
			return errors.Wrapf(ErrDailyLimit, "%s volume today would reach %s, max %s", e.Owner, next, limit)
		}
	}
	return nil
}

func (m *Memory) today() string {
	return m.now().UTC().Format(time.DateOnly)
}

func (m *Memory) volumeToday(owner string) decimal.Decimal {
	v := m.volume[owner]
	if v.day != m.today() {
		return decimal.Zero
	}
	return v.notional
}

func (m *Memory) addVolume(owner string, notional decimal.Decimal) {
	m.volume[owner] = dailyVolume{day: m.today(), notional: m.volumeToday(owner).Add(notional)}
}

func (m *Memory) add(owner, asset string, amount decimal.Decimal) {
	addTo(m.balances, owner, asset, amount)
}

func addTo(accounts map[string]map[string]decimal.Decimal, owner, asset string, amount decimal.Decimal) {
	acct, ok := accounts[owner]
	if !ok {
		acct = make(map[string]decimal.Decimal)
		accounts[owner] = acct
	}
	acct[asset] = acct[asset].Add(amount)
}
