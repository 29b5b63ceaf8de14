package grpcserver

import (
	"context"

	"google.golang.org/grpc"
)

// CommissionClient is the typed client for commission.v1.CommissionService.
type CommissionClient struct {
	conn grpc.ClientConnInterface
}

// NewCommissionClient wraps a client connection.
func NewCommissionClient(conn grpc.ClientConnInterface) *CommissionClient {
	return &CommissionClient{conn: conn}
}

func (client *CommissionClient) ReleaseSingle(ctx context.Context, request *OrderRequest, options ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, client.conn, MethodReleaseSingle, request, options)
}

func (client *CommissionClient) UpdateReleaseDate(ctx context.Context, request *UpdateReleaseDateRequest, options ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, client.conn, MethodUpdateReleaseDate, request, options)
}

func (client *CommissionClient) Cancel(ctx context.Context, request *CancelRequest, options ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, client.conn, MethodCancel, request, options)
}

func (client *CommissionClient) Claim(ctx context.Context, request *OrderRequest, options ...grpc.CallOption) (*OrderResponse, error) {
	return invoke[OrderResponse](ctx, client.conn, MethodClaim, request, options)
}

func (client *CommissionClient) FixBalance(ctx context.Context, request *OrderRequest, options ...grpc.CallOption) (*FixBalanceResponse, error) {
	return invoke[FixBalanceResponse](ctx, client.conn, MethodFixBalance, request, options)
}

func (client *CommissionClient) ResetAllCommissions(ctx context.Context, request *ResetRequest, options ...grpc.CallOption) (*ResetResponse, error) {
	return invoke[ResetResponse](ctx, client.conn, MethodResetAllCommissions, request, options)
}

func (client *CommissionClient) QueryCommissions(ctx context.Context, request *QueryRequest, options ...grpc.CallOption) (*QueryResponse, error) {
	return invoke[QueryResponse](ctx, client.conn, MethodQueryCommissions, request, options)
}

func (client *CommissionClient) ListUnsettled(ctx context.Context, request *ListUnsettledRequest, options ...grpc.CallOption) (*ListUnsettledResponse, error) {
	return invoke[ListUnsettledResponse](ctx, client.conn, MethodListUnsettled, request, options)
}

func invoke[Response any](ctx context.Context, conn grpc.ClientConnInterface, method string, request any, options []grpc.CallOption) (*Response, error) {
	response := new(Response)
	callOptions := append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, options...)
	if err := conn.Invoke(ctx, method, request, response, callOptions...); err != nil {
		return nil, err
	}
	return response, nil
}
