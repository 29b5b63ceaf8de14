package grpcserver

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "commission.v1.CommissionService"

// Full method names.
const (
	MethodReleaseSingle       = "/" + serviceName + "/ReleaseSingle"
	MethodUpdateReleaseDate   = "/" + serviceName + "/UpdateReleaseDate"
	MethodCancel              = "/" + serviceName + "/Cancel"
	MethodClaim               = "/" + serviceName + "/Claim"
	MethodFixBalance          = "/" + serviceName + "/FixBalance"
	MethodResetAllCommissions = "/" + serviceName + "/ResetAllCommissions"
	MethodQueryCommissions    = "/" + serviceName + "/QueryCommissions"
	MethodListUnsettled       = "/" + serviceName + "/ListUnsettled"
)

// CommissionServiceServer is the server API for commission.v1.CommissionService.
type CommissionServiceServer interface {
	ReleaseSingle(context.Context, *OrderRequest) (*OrderResponse, error)
	UpdateReleaseDate(context.Context, *UpdateReleaseDateRequest) (*OrderResponse, error)
	Cancel(context.Context, *CancelRequest) (*OrderResponse, error)
	Claim(context.Context, *OrderRequest) (*OrderResponse, error)
	FixBalance(context.Context, *OrderRequest) (*FixBalanceResponse, error)
	ResetAllCommissions(context.Context, *ResetRequest) (*ResetResponse, error)
	QueryCommissions(context.Context, *QueryRequest) (*QueryResponse, error)
	ListUnsettled(context.Context, *ListUnsettledRequest) (*ListUnsettledResponse, error)
}

// RegisterCommissionServiceServer attaches the implementation to a gRPC server.
func RegisterCommissionServiceServer(registrar grpc.ServiceRegistrar, server CommissionServiceServer) {
	registrar.RegisterService(&commissionServiceDesc, server)
}

var commissionServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*CommissionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ReleaseSingle", Handler: unaryHandler(MethodReleaseSingle, CommissionServiceServer.ReleaseSingle)},
		{MethodName: "UpdateReleaseDate", Handler: unaryHandler(MethodUpdateReleaseDate, CommissionServiceServer.UpdateReleaseDate)},
		{MethodName: "Cancel", Handler: unaryHandler(MethodCancel, CommissionServiceServer.Cancel)},
		{MethodName: "Claim", Handler: unaryHandler(MethodClaim, CommissionServiceServer.Claim)},
		{MethodName: "FixBalance", Handler: unaryHandler(MethodFixBalance, CommissionServiceServer.FixBalance)},
		{MethodName: "ResetAllCommissions", Handler: unaryHandler(MethodResetAllCommissions, CommissionServiceServer.ResetAllCommissions)},
		{MethodName: "QueryCommissions", Handler: unaryHandler(MethodQueryCommissions, CommissionServiceServer.QueryCommissions)},
		{MethodName: "ListUnsettled", Handler: unaryHandler(MethodListUnsettled, CommissionServiceServer.ListUnsettled)},
	},
	Streams: []grpc.StreamDesc{},
}

func unaryHandler[Request any, Response any](
	fullMethod string,
	call func(CommissionServiceServer, context.Context, *Request) (*Response, error),
) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(server any, ctx context.Context, decode func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		request := new(Request)
		if err := decode(request); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(server.(CommissionServiceServer), ctx, request)
		}
		info := &grpc.UnaryServerInfo{Server: server, FullMethod: fullMethod}
		handler := func(ctx context.Context, request any) (any, error) {
			return call(server.(CommissionServiceServer), ctx, request.(*Request))
		}
		return interceptor(ctx, request, info, handler)
	}
}
