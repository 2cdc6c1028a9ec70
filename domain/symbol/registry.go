package symbol

import (
	"encoding/json"
	"os"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

var ErrDuplicate = errors.New("symbol: already registered")

// Registry is the set of symbols the engine serves.
type Registry struct {
	mu      sync.RWMutex
	symbols map[string]*Symbol
}

func NewRegistry() *Registry {
	return &Registry{symbols: make(map[string]*Symbol)}
}

func (r *Registry) Register(rules Rules) (*Symbol, error) {
	if err := rules.Validate(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.symbols[rules.Name]; ok {
		return nil, errors.Wrapf(ErrDuplicate, "%s", rules.Name)
	}
	s := New(rules)
	r.symbols[rules.Name] = s
	return s, nil
}

func (r *Registry) Get(name string) (*Symbol, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.symbols[name]
	return s, ok
}

// List returns the symbols sorted by name.
func (r *Registry) List() []*Symbol {
	r.mu.RLock()
	out := make([]*Symbol, 0, len(r.symbols))
	for _, s := range r.symbols {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Spec is the human-written form of a symbol, with decimal strings.
type Spec struct {
	Symbol      string          `json:"symbol"`
	TickSize    decimal.Decimal `json:"tick_size"`
	LotSize     decimal.Decimal `json:"lot_size"`
	MinQty      decimal.Decimal `json:"min_qty"`
	MaxQty      decimal.Decimal `json:"max_qty"`
	MinNotional decimal.Decimal `json:"min_notional"`
}

// Rules derives engine rules. The price and quantity scales are the number
// of decimals in the tick and lot sizes.
func (s Spec) Rules() (Rules, error) {
	base, quote, err := Split(s.Symbol)
	if err != nil {
		return Rules{}, err
	}
	r := Rules{
		Name:        s.Symbol,
		Base:        base,
		Quote:       quote,
		PriceScale:  scaleOf(s.TickSize),
		QtyScale:    scaleOf(s.LotSize),
		MinNotional: s.MinNotional,
	}
	if r.TickSize, err = r.PriceTicks(s.TickSize); err != nil {
		return Rules{}, err
	}
	if r.LotSize, err = r.QtyUnits(s.LotSize); err != nil {
		return Rules{}, err
	}
	if r.MinQty, err = r.QtyUnits(s.MinQty); err != nil {
		return Rules{}, errors.Wrapf(err, "symbol %s min_qty", s.Symbol)
	}
	if r.MaxQty, err = r.QtyUnits(s.MaxQty); err != nil {
		return Rules{}, errors.Wrapf(err, "symbol %s max_qty", s.Symbol)
	}
	return r, r.Validate()
}

func scaleOf(d decimal.Decimal) int32 {
	if exp := d.Exponent(); exp < 0 {
		return -exp
	}
	return 0
}

// Defaults are served when no symbols file is configured.
var Defaults = []Spec{
	{Symbol: "BTC/USDT", TickSize: decimal.RequireFromString("0.01"), LotSize: decimal.RequireFromString("0.00001"),
		MinQty: decimal.RequireFromString("0.00001"), MaxQty: decimal.RequireFromString("1000"), MinNotional: decimal.RequireFromString("5")},
	{Symbol: "ETH/USDT", TickSize: decimal.RequireFromString("0.01"), LotSize: decimal.RequireFromString("0.0001"),
		MinQty: decimal.RequireFromString("0.0001"), MaxQty: decimal.RequireFromString("10000"), MinNotional: decimal.RequireFromString("5")},
	{Symbol: "SOL/USDT", TickSize: decimal.RequireFromString("0.001"), LotSize: decimal.RequireFromString("0.01"),
		MinQty: decimal.RequireFromString("0.01"), MaxQty: decimal.RequireFromString("100000"), MinNotional: decimal.RequireFromString("1")},
}

// LoadFile reads a JSON array of Spec. An empty path yields Defaults.
func LoadFile(path string) ([]Spec, error) {
	if path == "" {
		return Defaults, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read symbols file")
	}
	var specs []Spec
	if err := json.Unmarshal(raw, &specs); err != nil {
		return nil, errors.Wrapf(err, "decode symbols file %s", path)
	}
	return specs, nil
}

// NewRegistryFromSpecs builds a registry, failing on the first bad spec.
func NewRegistryFromSpecs(specs []Spec) (*Registry, error) {
	reg := NewRegistry()
	for _, sp := range specs {
		rules, err := sp.Rules()
		if err != nil {
			return nil, err
		}
		if _, err := reg.Register(rules); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
