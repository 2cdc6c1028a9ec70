package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"clob/domain/events"
	"clob/domain/ledger"
	"clob/domain/matching"
	"clob/domain/orderbook"
	"clob/domain/symbol"
	"clob/domain/validate"
	"clob/infra/memory"
	"clob/infra/metrics"
	"clob/infra/sequence"
	"clob/snapshot"
)

// Config tunes the per-symbol workers.
type Config struct {
	STP            matching.STPPolicy
	QueueSize      int
	DepthInterval  time.Duration // 0 disables periodic depth events
	DepthLevels    int
	AuditIndexSize int
	FullAudit      bool
	WALRetries     int
	WALBackoff     time.Duration
}

// Deps are the collaborators of the service. Registry, OpenLog, Outbox and
// Snapshots are required.
type Deps struct {
	Registry  *symbol.Registry
	OpenLog   func(*symbol.Symbol) (CommandLog, error)
	Outbox    Outbox
	Snapshots snapshot.Store
	Ledger    ledger.Ledger
	Live      events.Publisher
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

/*
OrderService is the ONLY write entry point into the system.

All coordination between:
- domain (book, validator, matching core)
- infra (command log, outbox, sequencer)
- snapshot
happens here, one worker per symbol.
*/
type OrderService struct {
	cfg     Config
	deps    Deps
	metrics *metrics.Metrics
	logger  *zap.Logger

	// written by Start only
	workers map[string]*worker
	names   []string

	closeOnce sync.Once
}

func NewOrderService(cfg Config, deps Deps) (*OrderService, error) {
	switch {
	case deps.Registry == nil:
		return nil, errors.New("service: registry is required")
	case deps.OpenLog == nil:
		return nil, errors.New("service: command log opener is required")
	case deps.Outbox == nil:
		return nil, errors.New("service: outbox is required")
	case deps.Snapshots == nil:
		return nil, errors.New("service: snapshot store is required")
	}
	if deps.Ledger == nil {
		deps.Ledger = ledger.Noop{}
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.DepthLevels <= 0 {
		cfg.DepthLevels = 20
	}
	if cfg.WALBackoff <= 0 {
		cfg.WALBackoff = time.Millisecond
	}
	return &OrderService{
		cfg:     cfg,
		deps:    deps,
		metrics: deps.Metrics,
		logger:  deps.Logger.With(zap.String("component", "order_service")),
		workers: make(map[string]*worker),
	}, nil
}

// Start recovers every registered symbol and starts its worker. A symbol
// whose log cannot be replayed comes up halted; the others trade.
func (s *OrderService) Start(ctx context.Context) error {
	for _, sym := range s.deps.Registry.List() {
		w, err := s.newWorker(sym)
		if err != nil {
			s.Close()
			return err
		}
		if err := w.recover(ctx, s.deps.Snapshots); err != nil {
			_ = w.log.Close()
			s.Close()
			return err
		}
		s.workers[sym.Name] = w
		s.names = append(s.names, sym.Name)
		go w.run()
	}
	sort.Strings(s.names)
	s.logger.Info("order service started", zap.Strings("symbols", s.names))
	return nil
}

func (s *OrderService) newWorker(sym *symbol.Symbol) (*worker, error) {
	log, err := s.deps.OpenLog(sym)
	if err != nil {
		return nil, errors.Wrapf(err, "open command log for %s", sym.Name)
	}

	pool := memory.NewPool(func() *orderbook.Order { return &orderbook.Order{} }, (*orderbook.Order).Reset)
	opts := []matching.Option{matching.WithRecycler(pool.Put)}
	if s.cfg.FullAudit {
		opts = append(opts, matching.WithAudit())
	}

	s.metrics.Halted.WithLabelValues(sym.Name).Set(0)
	return &worker{
		sym:       sym,
		cfg:       s.cfg,
		engine:    matching.New(sym.Name, s.cfg.STP, opts...),
		validator: validate.New(s.deps.Ledger, s.cfg.STP),
		seq:       sequence.New(0),
		log:       log,
		outbox:    s.deps.Outbox,
		live:      s.deps.Live,
		ledger:    s.deps.Ledger,
		pool:      pool,
		audit:     newAuditIndex(s.cfg.AuditIndexSize),
		metrics:   s.metrics,
		logger:    s.deps.Logger.With(zap.String("component", "worker"), zap.String("symbol", sym.Name)),
		jobs:      make(chan job, s.cfg.QueueSize),
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}, nil
}

// Close stops the workers after their current command and closes the
// command logs. Queued commands fail with ErrClosed.
func (s *OrderService) Close() {
	s.closeOnce.Do(func() {
		for _, name := range s.names {
			w := s.workers[name]
			close(w.quit)
			<-w.stopped
			if err := w.log.Close(); err != nil {
				s.logger.Warn("command log close failed", zap.String("symbol", name), zap.Error(err))
			}
		}
	})
}

func (s *OrderService) worker(name string) (*worker, error) {
	w, ok := s.workers[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownSymbol, "%q", name)
	}
	return w, nil
}

//
// ──────────────────────────────────────────────────────────
// Commands
// ──────────────────────────────────────────────────────────
//

// SubmitOrder validates and, if accepted, sequences and matches a new
// order. A rejection is an Ack with Accepted false, not an error; errors
// mean the outcome is unknown or the symbol is halted.
func (s *OrderService) SubmitOrder(ctx context.Context, req SubmitRequest) (Ack, error) {
	started := time.Now()
	if req.OrderID == "" {
		req.OrderID = newOrderID()
	}
	w, ok := s.workers[req.Symbol]
	if !ok {
		return rejected(req.OrderID, events.ReasonUnknownSymbol), nil
	}
	ack, err := call(ctx, w, func() (Ack, error) { return w.submit(ctx, req) })
	s.observe(req.Symbol, "submit", started, ack, err)
	return ack, err
}

func (s *OrderService) CancelOrder(ctx context.Context, req CancelRequest) (Ack, error) {
	started := time.Now()
	w, ok := s.workers[req.Symbol]
	if !ok {
		return rejected(req.OrderID, events.ReasonUnknownSymbol), nil
	}
	ack, err := call(ctx, w, func() (Ack, error) { return w.cancel(ctx, req) })
	s.observe(req.Symbol, "cancel", started, ack, err)
	return ack, err
}

func (s *OrderService) AmendOrder(ctx context.Context, req AmendRequest) (Ack, error) {
	started := time.Now()
	w, ok := s.workers[req.Symbol]
	if !ok {
		return rejected(req.OrderID, events.ReasonUnknownSymbol), nil
	}
	ack, err := call(ctx, w, func() (Ack, error) { return w.amend(ctx, req) })
	s.observe(req.Symbol, "amend", started, ack, err)
	return ack, err
}

func (s *OrderService) observe(sym, kind string, started time.Time, ack Ack, err error) {
	result := "accepted"
	switch {
	case err != nil:
		result = "error"
	case !ack.Accepted:
		result = "rejected"
	}
	s.metrics.ObserveCommand(sym, kind, result, started)
}

func newOrderID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

//
// ──────────────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────────────
//

// DepthView is aggregated depth as of sequence number Seq.
type DepthView struct {
	Symbol string
	Seq    uint64
	orderbook.Depth
}

// Depth returns the best levels of each side. levels <= 0 means all.
func (s *OrderService) Depth(ctx context.Context, name string, levels int) (DepthView, error) {
	w, err := s.worker(name)
	if err != nil {
		return DepthView{}, err
	}
	return call(ctx, w, func() (DepthView, error) {
		return DepthView{Symbol: name, Seq: w.seq.Current(), Depth: w.engine.Book().Depth(levels)}, nil
	})
}

// Order returns a live order, or the outcome of a recently finished one.
func (s *OrderService) Order(ctx context.Context, name, id string) (events.OrderState, error) {
	w, err := s.worker(name)
	if err != nil {
		return events.OrderState{}, err
	}
	return call(ctx, w, func() (events.OrderState, error) {
		st, ok := w.order(id)
		if !ok {
			return events.OrderState{}, errors.Wrapf(ErrUnknownOrder, "%s %s", name, id)
		}
		return st, nil
	})
}

// SymbolInfo describes one served symbol.
type SymbolInfo struct {
	Symbol *symbol.Symbol
	Seq    uint64
	Halted bool
}

func (s *OrderService) Symbols() []SymbolInfo {
	out := make([]SymbolInfo, 0, len(s.names))
	for _, name := range s.names {
		w := s.workers[name]
		out = append(out, SymbolInfo{Symbol: w.sym, Seq: w.seq.Current(), Halted: w.halted.Load()})
	}
	return out
}

// Sequence returns the last sequence number assigned for a symbol.
func (s *OrderService) Sequence(name string) (uint64, error) {
	w, err := s.worker(name)
	if err != nil {
		return 0, err
	}
	return w.seq.Current(), nil
}

// Symbol returns the registered symbol.
func (s *OrderService) Symbol(name string) (*symbol.Symbol, error) {
	w, err := s.worker(name)
	if err != nil {
		return nil, err
	}
	return w.sym, nil
}

// SetSymbolStatus is the operator switch between active, cancel-only and
// closed. A halted symbol stays halted until restart.
func (s *OrderService) SetSymbolStatus(name string, st symbol.Status) error {
	w, err := s.worker(name)
	if err != nil {
		return err
	}
	if w.halted.Load() {
		return errors.Wrapf(ErrSymbolHalted, "%s", name)
	}
	if st == symbol.Halted {
		return errors.Newf("service: %s cannot be halted by hand", name)
	}
	w.sym.SetStatus(st)
	s.logger.Info("symbol status changed", zap.String("symbol", name), zap.Stringer("status", st))
	return nil
}
