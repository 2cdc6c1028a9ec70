package grpcserver

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"clob/domain/events"
	"clob/domain/orderbook"
	"clob/domain/symbol"
	"clob/service"
)

// Engine is what the gRPC surface needs from the order service.
type Engine interface {
	SubmitOrder(ctx context.Context, req service.SubmitRequest) (service.Ack, error)
	CancelOrder(ctx context.Context, req service.CancelRequest) (service.Ack, error)
	AmendOrder(ctx context.Context, req service.AmendRequest) (service.Ack, error)
	Depth(ctx context.Context, name string, levels int) (service.DepthView, error)
	Order(ctx context.Context, name, id string) (events.OrderState, error)
	Symbol(name string) (*symbol.Symbol, error)
}

// Server adapts OrderService to gRPC. Decimal strings are converted to
// engine units here, with the symbol's rules.
type Server struct {
	svc    Engine
	logger *zap.Logger
}

func NewServer(svc Engine, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{svc: svc, logger: logger.With(zap.String("component", "grpc"))}
}

// NewGRPCServer builds a grpc.Server serving s and the standard health
// service.
func NewGRPCServer(s *Server, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	opts = append([]grpc.ServerOption{
		grpc.ForceServerCodec(Codec{}),
		grpc.ChainUnaryInterceptor(s.logCalls),
	}, opts...)
	g := grpc.NewServer(opts...)
	g.RegisterService(&ServiceDesc, s)

	hs := health.NewServer()
	hs.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(g, hs)
	return g, hs
}

func (s *Server) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	started := time.Now()
	resp, err := handler(ctx, req)
	fields := []zap.Field{
		zap.String("method", info.FullMethod),
		zap.Duration("took", time.Since(started)),
	}
	if err != nil {
		s.logger.Warn("rpc failed", append(fields, zap.Error(err))...)
	} else {
		s.logger.Debug("rpc", fields...)
	}
	return resp, err
}

// -------------------- Commands --------------------

func (s *Server) SubmitOrder(ctx context.Context, req *SubmitOrderRequest) (*OrderAck, error) {
	sym, err := s.svc.Symbol(req.Symbol)
	if err != nil {
		return &OrderAck{OrderID: req.OrderID, Status: orderbook.StatusRejected.String(), Reason: string(events.ReasonUnknownSymbol)}, nil
	}

	sr, reason, err := toSubmit(sym, req)
	if err != nil {
		return nil, err
	}
	if reason != events.ReasonNone {
		return &OrderAck{OrderID: req.OrderID, Status: orderbook.StatusRejected.String(), Reason: string(reason)}, nil
	}
	ack, err := s.svc.SubmitOrder(ctx, sr)
	if err != nil {
		return nil, toStatus(err)
	}
	return toAck(sym, ack), nil
}

// toSubmit converts a request to engine units. Malformed enums are a
// caller bug and fail the rpc; bad numbers are ordinary rejections.
func toSubmit(sym *symbol.Symbol, req *SubmitOrderRequest) (service.SubmitRequest, events.Reason, error) {
	out := service.SubmitRequest{
		Symbol:        req.Symbol,
		OrderID:       req.OrderID,
		ClientOrderID: req.ClientOrderID,
		OwnerID:       req.OwnerID,
	}
	var ok bool
	if out.Side, ok = toSide(req.Side); !ok {
		return out, events.ReasonNone, status.Error(codes.InvalidArgument, "side is required")
	}
	if out.Type, ok = toType(req.Type); !ok {
		return out, events.ReasonNone, status.Error(codes.InvalidArgument, "type is required")
	}

	var reason events.Reason
	if out.Price, reason = priceTicks(sym, req.Price); reason != events.ReasonNone {
		return out, reason, nil
	}
	if out.StopPrice, reason = priceTicks(sym, req.StopPrice); reason != events.ReasonNone {
		return out, reason, nil
	}
	if out.Qty, reason = qtyUnits(sym, req.Qty); reason != events.ReasonNone {
		return out, reason, nil
	}

	if out.TIF, ok = toTIF(req.TIF, out.Type, out.Price); !ok {
		return out, events.ReasonNone, status.Errorf(codes.InvalidArgument, "unknown time in force %d", req.TIF)
	}
	return out, events.ReasonNone, nil
}

func (s *Server) CancelOrder(ctx context.Context, req *CancelOrderRequest) (*OrderAck, error) {
	sym, err := s.svc.Symbol(req.Symbol)
	if err != nil {
		return &OrderAck{OrderID: req.OrderID, Status: orderbook.StatusRejected.String(), Reason: string(events.ReasonUnknownSymbol)}, nil
	}
	ack, err := s.svc.CancelOrder(ctx, service.CancelRequest{Symbol: req.Symbol, OrderID: req.OrderID, OwnerID: req.OwnerID})
	if err != nil {
		return nil, toStatus(err)
	}
	return toAck(sym, ack), nil
}

func (s *Server) AmendOrder(ctx context.Context, req *AmendOrderRequest) (*OrderAck, error) {
	sym, err := s.svc.Symbol(req.Symbol)
	if err != nil {
		return &OrderAck{OrderID: req.OrderID, Status: orderbook.StatusRejected.String(), Reason: string(events.ReasonUnknownSymbol)}, nil
	}
	price, reason := priceTicks(sym, req.Price)
	var qty int64
	if reason == events.ReasonNone {
		qty, reason = qtyUnits(sym, req.Qty)
	}
	if reason != events.ReasonNone {
		return &OrderAck{OrderID: req.OrderID, Status: orderbook.StatusRejected.String(), Reason: string(reason)}, nil
	}
	ack, err := s.svc.AmendOrder(ctx, service.AmendRequest{Symbol: req.Symbol, OrderID: req.OrderID, OwnerID: req.OwnerID, Price: price, Qty: qty})
	if err != nil {
		return nil, toStatus(err)
	}
	return toAck(sym, ack), nil
}

// -------------------- Queries --------------------

func (s *Server) GetDepth(ctx context.Context, req *GetDepthRequest) (*DepthResponse, error) {
	sym, err := s.svc.Symbol(req.Symbol)
	if err != nil {
		return nil, toStatus(err)
	}
	d, err := s.svc.Depth(ctx, req.Symbol, int(req.Levels))
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &DepthResponse{Symbol: d.Symbol, Seq: d.Seq, Bids: levels(sym, d.Bids), Asks: levels(sym, d.Asks)}
	return resp, nil
}

func (s *Server) GetOrder(ctx context.Context, req *GetOrderRequest) (*OrderResponse, error) {
	sym, err := s.svc.Symbol(req.Symbol)
	if err != nil {
		return nil, toStatus(err)
	}
	o, err := s.svc.Order(ctx, req.Symbol, req.OrderID)
	if err != nil {
		return nil, toStatus(err)
	}
	resp := &OrderResponse{
		OrderID:       o.ID,
		ClientOrderID: o.ClientOrderID,
		OwnerID:       o.OwnerID,
		Side:          fromSide(o.Side),
		Type:          fromType(o.Type),
		TIF:           fromTIF(o.TIF),
		Status:        o.Status.String(),
		Qty:           sym.Qty(o.Qty).String(),
		Filled:        sym.Qty(o.Filled).String(),
	}
	if o.Price != 0 {
		resp.Price = sym.Price(o.Price).String()
	}
	if o.StopPrice != 0 {
		resp.StopPrice = sym.Price(o.StopPrice).String()
	}
	return resp, nil
}

// -------------------- Converters --------------------

func toStatus(err error) error {
	switch {
	case errors.Is(err, service.ErrPersistence), errors.Is(err, service.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, service.ErrSymbolHalted):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, service.ErrUnknownSymbol), errors.Is(err, service.ErrUnknownOrder):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func toAck(sym *symbol.Symbol, ack service.Ack) *OrderAck {
	out := &OrderAck{
		Accepted: ack.Accepted,
		Seq:      ack.Seq,
		OrderID:  ack.OrderID,
		Status:   ack.Status.String(),
		Reason:   string(ack.Reason),
	}
	for _, ev := range ack.Events {
		if ev.Kind != events.TradeExecuted {
			continue
		}
		out.Trades = append(out.Trades, Trade{
			ID:           ev.Trade.ID,
			Price:        sym.Price(ev.Trade.Price).String(),
			Qty:          sym.Qty(ev.Trade.Qty).String(),
			MakerOrderID: ev.Trade.MakerOrderID,
			TakerOrderID: ev.Trade.TakerOrderID,
			TakerSide:    fromSide(ev.Trade.TakerSide),
		})
	}
	return out
}

func levels(sym *symbol.Symbol, in []orderbook.LevelView) []Level {
	out := make([]Level, 0, len(in))
	for _, l := range in {
		out = append(out, Level{Price: sym.Price(l.Price).String(), Qty: sym.Qty(l.Qty).String(), Orders: uint32(l.Orders)})
	}
	return out
}

// priceTicks parses a decimal price; empty means none.
func priceTicks(sym *symbol.Symbol, s string) (int64, events.Reason) {
	if s == "" {
		return 0, events.ReasonNone
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, events.ReasonInvalidPrice
	}
	v, err := sym.PriceTicks(d)
	switch {
	case errors.Is(err, symbol.ErrPrecision):
		return 0, events.ReasonTickSize
	case err != nil:
		return 0, events.ReasonInvalidPrice
	}
	return v, events.ReasonNone
}

func qtyUnits(sym *symbol.Symbol, s string) (int64, events.Reason) {
	if s == "" {
		return 0, events.ReasonNone
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, events.ReasonInvalidQuantity
	}
	v, err := sym.QtyUnits(d)
	switch {
	case errors.Is(err, symbol.ErrPrecision):
		return 0, events.ReasonLotSize
	case err != nil:
		return 0, events.ReasonInvalidQuantity
	}
	return v, events.ReasonNone
}

func toSide(s Side) (orderbook.Side, bool) {
	switch s {
	case SideBuy:
		return orderbook.Buy, true
	case SideSell:
		return orderbook.Sell, true
	default:
		return 0, false
	}
}

func toType(t OrderType) (orderbook.OrderType, bool) {
	switch t {
	case OrderTypeLimit:
		return orderbook.Limit, true
	case OrderTypeMarket:
		return orderbook.Market, true
	case OrderTypeStop:
		return orderbook.Stop, true
	default:
		return 0, false
	}
}

func toTIF(t TimeInForce, typ orderbook.OrderType, price int64) (orderbook.TimeInForce, bool) {
	switch t {
	case TIFUnspecified:
		if typ != orderbook.Market && price != 0 {
			return orderbook.GTC, true
		}
		return orderbook.IOC, true
	case TIFGTC:
		return orderbook.GTC, true
	case TIFIOC:
		return orderbook.IOC, true
	case TIFFOK:
		return orderbook.FOK, true
	case TIFPostOnly:
		return orderbook.PostOnly, true
	default:
		return 0, false
	}
}

func fromSide(s orderbook.Side) Side {
	if s == orderbook.Sell {
		return SideSell
	}
	return SideBuy
}

func fromType(t orderbook.OrderType) OrderType {
	switch t {
	case orderbook.Market:
		return OrderTypeMarket
	case orderbook.Stop:
		return OrderTypeStop
	default:
		return OrderTypeLimit
	}
}

func fromTIF(t orderbook.TimeInForce) TimeInForce {
	switch t {
	case orderbook.IOC:
		return TIFIOC
	case orderbook.FOK:
		return TIFFOK
	case orderbook.PostOnly:
		return TIFPostOnly
	default:
		return TIFGTC
	}
}
