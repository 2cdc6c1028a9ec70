// Package httpserver serves market data over HTTP: symbol listing, depth
// and order lookups as JSON, the live event stream on /ws, health and
// prometheus metrics. Orders are entered over gRPC or Kafka, not here.
package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"clob/domain/events"
	"clob/domain/symbol"
	"clob/infra/metrics"
	"clob/service"
)

// Service is the read side of the order service plus the operator switch.
type Service interface {
	Symbols() []service.SymbolInfo
	Symbol(name string) (*symbol.Symbol, error)
	Depth(ctx context.Context, name string, levels int) (service.DepthView, error)
	Order(ctx context.Context, name, id string) (events.OrderState, error)
	SetSymbolStatus(name string, st symbol.Status) error
}

type Config struct {
	Addr           string
	CORSOrigins    []string
	RequestTimeout time.Duration
}

type Server struct {
	cfg     Config
	svc     Service
	hub     *Hub
	metrics *metrics.Metrics
	logger  *zap.Logger
	router  *mux.Router
}

func New(cfg Config, svc Service, hub *Hub, m *metrics.Metrics, logger *zap.Logger) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:     cfg,
		svc:     svc,
		hub:     hub,
		metrics: m,
		logger:  logger.With(zap.String("component", "http")),
		router:  mux.NewRouter(),
	}
	s.routes()
	return s
}

// Symbols appear in paths in their key form, e.g. BTC-USDT.
func (s *Server) routes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	if s.hub != nil {
		s.router.Handle("/ws", s.hub)
	}

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/symbols", s.handleSymbols).Methods(http.MethodGet)
	v1.HandleFunc("/symbols/{symbol}/status", s.handleSetStatus).Methods(http.MethodPut)
	v1.HandleFunc("/depth/{symbol}", s.handleDepth).Methods(http.MethodGet)
	v1.HandleFunc("/orders/{symbol}/{id}", s.handleOrder).Methods(http.MethodGet)
}

// Handler is the router wrapped in CORS.
func (s *Server) Handler() http.Handler {
	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(s.router)
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info("http listening", zap.String("addr", s.cfg.Addr))

	select {
	case err := <-errc:
		return errors.Wrap(err, "http serve")
	case <-ctx.Done():
	}
	if s.hub != nil {
		s.hub.Close()
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "http shutdown")
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	halted := 0
	for _, info := range s.svc.Symbols() {
		if info.Halted {
			halted++
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "halted_symbols": halted})
}

func (s *Server) handleSymbols(w http.ResponseWriter, _ *http.Request) {
	infos := s.svc.Symbols()
	out := make([]SymbolView, 0, len(infos))
	for _, info := range infos {
		out = append(out, symbolView(info))
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	sym, ok := s.resolve(w, r)
	if !ok {
		return
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid body")
		return
	}
	st, ok := parseStatus(body.Status)
	if !ok {
		respondError(w, http.StatusBadRequest, "status must be active, cancel_only or closed")
		return
	}
	if err := s.svc.SetSymbolStatus(sym.Name, st); err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"symbol": sym.Name, "status": st.String()})
}

func (s *Server) handleDepth(w http.ResponseWriter, r *http.Request) {
	sym, ok := s.resolve(w, r)
	if !ok {
		return
	}
	levels := 0
	if q := r.URL.Query().Get("levels"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "levels must be a non-negative integer")
			return
		}
		levels = n
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()
	d, err := s.svc.Depth(ctx, sym.Name, levels)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, depthView(sym, d.Seq, d.Depth))
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	sym, ok := s.resolve(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
	defer cancel()
	o, err := s.svc.Order(ctx, sym.Name, mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, orderView(sym, o))
}

// resolve maps the {symbol} path variable, name or key form, to a symbol.
func (s *Server) resolve(w http.ResponseWriter, r *http.Request) (*symbol.Symbol, bool) {
	v := mux.Vars(r)["symbol"]
	for _, info := range s.svc.Symbols() {
		if info.Symbol.Key() == v || info.Symbol.Name == v {
			return info.Symbol, true
		}
	}
	respondError(w, http.StatusNotFound, "unknown symbol "+v)
	return nil, false
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrUnknownSymbol), errors.Is(err, service.ErrUnknownOrder):
		code = http.StatusNotFound
	case errors.Is(err, service.ErrSymbolHalted):
		code = http.StatusConflict
	case errors.Is(err, service.ErrClosed), errors.Is(err, service.ErrPersistence):
		code = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	}
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	respondError(w, code, err.Error())
}

func parseStatus(s string) (symbol.Status, bool) {
	switch s {
	case "active":
		return symbol.Active, true
	case "cancel_only":
		return symbol.CancelOnly, true
	case "closed":
		return symbol.Closed, true
	}
	return 0, false
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, errorView{Error: msg})
}
