package grpcserver

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "clob.v1.MatchingEngine"

// MatchingEngineServer is the server API of clob.v1.MatchingEngine.
type MatchingEngineServer interface {
	SubmitOrder(context.Context, *SubmitOrderRequest) (*OrderAck, error)
	CancelOrder(context.Context, *CancelOrderRequest) (*OrderAck, error)
	AmendOrder(context.Context, *AmendOrderRequest) (*OrderAck, error)
	GetDepth(context.Context, *GetDepthRequest) (*DepthResponse, error)
	GetOrder(context.Context, *GetOrderRequest) (*OrderResponse, error)
}

// unary adapts one typed method to the grpc handler signature.
func unary[Req any, PReq interface {
	*Req
	wireMessage
}, Resp any](method string, call func(MatchingEngineServer, context.Context, PReq) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := PReq(new(Req))
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(MatchingEngineServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(MatchingEngineServer), ctx, req.(PReq))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*MatchingEngineServer)(nil),
	Methods: []grpc.MethodDesc{
		unary[SubmitOrderRequest]("SubmitOrder", MatchingEngineServer.SubmitOrder),
		unary[CancelOrderRequest]("CancelOrder", MatchingEngineServer.CancelOrder),
		unary[AmendOrderRequest]("AmendOrder", MatchingEngineServer.AmendOrder),
		unary[GetDepthRequest]("GetDepth", MatchingEngineServer.GetDepth),
		unary[GetOrderRequest]("GetOrder", MatchingEngineServer.GetOrder),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "api/proto/clob.proto",
}

// Client is a thin client of clob.v1.MatchingEngine. The connection must
// use Codec, e.g. grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec{})).
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, in, out wireMessage, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...)
}

func (c *Client) SubmitOrder(ctx context.Context, in *SubmitOrderRequest, opts ...grpc.CallOption) (*OrderAck, error) {
	out := new(OrderAck)
	return out, c.invoke(ctx, "SubmitOrder", in, out, opts...)
}

func (c *Client) CancelOrder(ctx context.Context, in *CancelOrderRequest, opts ...grpc.CallOption) (*OrderAck, error) {
	out := new(OrderAck)
	return out, c.invoke(ctx, "CancelOrder", in, out, opts...)
}

func (c *Client) AmendOrder(ctx context.Context, in *AmendOrderRequest, opts ...grpc.CallOption) (*OrderAck, error) {
	out := new(OrderAck)
	return out, c.invoke(ctx, "AmendOrder", in, out, opts...)
}

func (c *Client) GetDepth(ctx context.Context, in *GetDepthRequest, opts ...grpc.CallOption) (*DepthResponse, error) {
	out := new(DepthResponse)
	return out, c.invoke(ctx, "GetDepth", in, out, opts...)
}

func (c *Client) GetOrder(ctx context.Context, in *GetOrderRequest, opts ...grpc.CallOption) (*OrderResponse, error) {
	out := new(OrderResponse)
	return out, c.invoke(ctx, "GetOrder", in, out, opts...)
}
