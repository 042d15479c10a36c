package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"papertrade/internal/domain"
)

// Trading service method names. Messages are google.protobuf.Struct values
// carrying the same JSON documents as the REST API.
const (
	TradingServiceName      = "papertrade.v1.Trading"
	methodSubmitOrder       = "/" + TradingServiceName + "/SubmitOrder"
	methodGetPDTStatus      = "/" + TradingServiceName + "/GetPDTStatus"
	methodGetAccountSummary = "/" + TradingServiceName + "/GetAccountSummary"
)

// TradingServer is the server side of papertrade.v1.Trading.
type TradingServer interface {
	SubmitOrder(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetPDTStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetAccountSummary(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// TradingServiceDesc describes papertrade.v1.Trading for grpc.Server.
var TradingServiceDesc = grpc.ServiceDesc{
	ServiceName: TradingServiceName,
	HandlerType: (*TradingServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitOrder", Handler: unaryHandler(methodSubmitOrder, TradingServer.SubmitOrder)},
		{MethodName: "GetPDTStatus", Handler: unaryHandler(methodGetPDTStatus, TradingServer.GetPDTStatus)},
		{MethodName: "GetAccountSummary", Handler: unaryHandler(methodGetAccountSummary, TradingServer.GetAccountSummary)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "papertrade/v1/trading.proto",
}

type unaryMethod func(TradingServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(TradingServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(TradingServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// toStruct converts a JSON-tagged Go value into a Struct.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, err
	}
	return out, nil
}

// fromStruct decodes a Struct into a JSON-tagged Go value.
func fromStruct(s *structpb.Struct, v any) error {
	b, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// grpcError maps engine errors to gRPC status codes.
func grpcError(err error) error {
	switch {
	case errors.Is(err, domain.ErrInvalidOrder), errors.Is(err, domain.ErrInvalidQuote):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// tradingService implements TradingServer on top of a Server.
type tradingService struct {
	s *Server
}

var _ TradingServer = (*tradingService)(nil)

type accountRef struct {
	AccountID string `json:"account_id"`
}

func (t *tradingService) accountID(in *structpb.Struct) (string, error) {
	var ref accountRef
	if err := fromStruct(in, &ref); err != nil {
		return "", status.Errorf(codes.InvalidArgument, "decoding request: %v", err)
	}
	if ref.AccountID == "" {
		return "", status.Error(codes.InvalidArgument, "account_id is required")
	}
	return ref.AccountID, nil
}

func (t *tradingService) SubmitOrder(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req SubmitOrderRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decoding request: %v", err)
	}
	res, err := t.s.submit(ctx, &req.OrderRequest, req.Quote)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(res)
}

func (t *tradingService) GetPDTStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := t.accountID(in)
	if err != nil {
		return nil, err
	}
	st, err := t.s.engine.PDTStatus(ctx, id)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(st)
}

func (t *tradingService) GetAccountSummary(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := t.accountID(in)
	if err != nil {
		return nil, err
	}
	sum, err := t.s.engine.AccountSummary(ctx, id)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(sum)
}

// TradingClient calls papertrade.v1.Trading.
type TradingClient struct {
	cc grpc.ClientConnInterface
}

// NewTradingClient wraps an established connection.
func NewTradingClient(cc grpc.ClientConnInterface) *TradingClient {
	return &TradingClient{cc: cc}
}

func (c *TradingClient) invoke(ctx context.Context, method string, in, out any) error {
	req, err := toStruct(in)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", method, err)
	}
	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, req, resp); err != nil {
		return err
	}
	return fromStruct(resp, out)
}

// SubmitOrder submits an order. Business rejections come back as a Result
// with status rejected and a nil error.
func (c *TradingClient) SubmitOrder(ctx context.Context, req *SubmitOrderRequest) (*domain.Result, error) {
	var res domain.Result
	if err := c.invoke(ctx, methodSubmitOrder, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetPDTStatus returns the account's day-trade window.
func (c *TradingClient) GetPDTStatus(ctx context.Context, accountID string) (*domain.PDTStatus, error) {
	var st domain.PDTStatus
	if err := c.invoke(ctx, methodGetPDTStatus, accountRef{AccountID: accountID}, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// GetAccountSummary returns equity and positions for an account.
func (c *TradingClient) GetAccountSummary(ctx context.Context, accountID string) (*domain.AccountSummary, error) {
	var sum domain.AccountSummary
	if err := c.invoke(ctx, methodGetAccountSummary, accountRef{AccountID: accountID}, &sum); err != nil {
		return nil, err
	}
	return &sum, nil
}
