// Package grpcserver exposes the commission ledger to internal services over gRPC.
package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/commissions/internal/wire"
	"github.com/MarkoPoloResearchLab/commissions/pkg/commission"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// CommissionServer implements CommissionServiceServer on top of commission.Service.
type CommissionServer struct {
	service   *commission.Service
	validator *validator.Validate
}

// NewCommissionServer constructs the gRPC service implementation.
func NewCommissionServer(service *commission.Service) *CommissionServer {
	return &CommissionServer{service: service, validator: validator.New()}
}

// NewServer builds a gRPC server with logging and authentication interceptors
// and the commission service registered.
func NewServer(service *commission.Service, authenticator *Authenticator, logger *zap.Logger, options ...grpc.ServerOption) *grpc.Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	interceptors := []grpc.UnaryServerInterceptor{loggingInterceptor(logger)}
	if authenticator != nil {
		interceptors = append(interceptors, authenticator.UnaryInterceptor())
	}
	options = append(options, grpc.ChainUnaryInterceptor(interceptors...))
	server := grpc.NewServer(options...)
	RegisterCommissionServiceServer(server, NewCommissionServer(service))
	return server
}

func (server *CommissionServer) ReleaseSingle(ctx context.Context, request *OrderRequest) (*OrderResponse, error) {
	orderID, err := server.orderID(request, request.OrderID)
	if err != nil {
		return nil, err
	}
	order, err := server.service.ReleaseSingle(ctx, actorFromContext(ctx), orderID)
	return server.orderResponse(order, err)
}

func (server *CommissionServer) UpdateReleaseDate(ctx context.Context, request *UpdateReleaseDateRequest) (*OrderResponse, error) {
	orderID, err := server.orderID(request, request.OrderID)
	if err != nil {
		return nil, err
	}
	releaseDate, err := wire.ParseTime(request.ReleaseDate, false)
	if err != nil {
		return nil, mapToGRPCError(fmt.Errorf("%w: %v", commission.ErrInvalidReleaseDate, err))
	}
	order, err := server.service.UpdateReleaseDate(ctx, actorFromContext(ctx), orderID, releaseDate)
	return server.orderResponse(order, err)
}

func (server *CommissionServer) Cancel(ctx context.Context, request *CancelRequest) (*OrderResponse, error) {
	orderID, err := server.orderID(request, request.OrderID)
	if err != nil {
		return nil, err
	}
	reason, err := commission.NewReason(request.Reason)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	order, err := server.service.Cancel(ctx, actorFromContext(ctx), orderID, reason)
	return server.orderResponse(order, err)
}

func (server *CommissionServer) Claim(ctx context.Context, request *OrderRequest) (*OrderResponse, error) {
	orderID, err := server.orderID(request, request.OrderID)
	if err != nil {
		return nil, err
	}
	order, err := server.service.Claim(ctx, actorFromContext(ctx), orderID)
	return server.orderResponse(order, err)
}

func (server *CommissionServer) FixBalance(ctx context.Context, request *OrderRequest) (*FixBalanceResponse, error) {
	orderID, err := server.orderID(request, request.OrderID)
	if err != nil {
		return nil, err
	}
	reconciliation, err := server.service.FixBalance(ctx, actorFromContext(ctx), orderID)
	if err != nil && !(reconciliation.AlreadySettled && errors.Is(err, commission.ErrAlreadySettled)) {
		return nil, mapToGRPCError(err)
	}
	return &FixBalanceResponse{Reconciliation: wire.FromReconciliation(reconciliation, server.service.Now())}, nil
}

func (server *CommissionServer) ResetAllCommissions(ctx context.Context, request *ResetRequest) (*ResetResponse, error) {
	result, err := server.service.ResetAllCommissions(ctx, actorFromContext(ctx), request.Confirmation)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return &ResetResponse{ResetResult: wire.FromResetResult(result)}, nil
}

func (server *CommissionServer) QueryCommissions(ctx context.Context, request *QueryRequest) (*QueryResponse, error) {
	if err := server.validate(request); err != nil {
		return nil, err
	}
	query, err := request.toQuery()
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	report, err := server.service.QueryCommissions(ctx, query)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return &QueryResponse{Report: wire.FromReport(report, server.service.Now())}, nil
}

func (server *CommissionServer) ListUnsettled(ctx context.Context, request *ListUnsettledRequest) (*ListUnsettledResponse, error) {
	if err := server.validate(request); err != nil {
		return nil, err
	}
	rows, err := server.service.ListUnsettled(ctx, request.Limit)
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return &ListUnsettledResponse{Rows: wire.FromRows(rows, server.service.Now())}, nil
}

func (request *QueryRequest) toQuery() (commission.CommissionQuery, error) {
	query := commission.CommissionQuery{Page: commission.Page{Number: request.Page, Size: request.PageSize}}
	if strings.TrimSpace(request.AgentID) != "" {
		agentID, err := commission.NewAgentID(request.AgentID)
		if err != nil {
			return commission.CommissionQuery{}, err
		}
		query.Filter.AgentID = agentID
	}
	if request.Status != "" {
		status, err := commission.ParseCommissionStatus(request.Status)
		if err != nil {
			return commission.CommissionQuery{}, err
		}
		query.Filter.Status = status
	}
	if strings.TrimSpace(request.From) != "" {
		from, err := wire.ParseTime(request.From, false)
		if err != nil {
			return commission.CommissionQuery{}, fmt.Errorf("%w: from: %v", commission.ErrInvalidDateRange, err)
		}
		query.Filter.From = from
	}
	if strings.TrimSpace(request.To) != "" {
		to, err := wire.ParseTime(request.To, true)
		if err != nil {
			return commission.CommissionQuery{}, fmt.Errorf("%w: to: %v", commission.ErrInvalidDateRange, err)
		}
		query.Filter.To = to
	}
	return query, nil
}

func (server *CommissionServer) orderID(request any, raw string) (commission.OrderID, error) {
	if err := server.validate(request); err != nil {
		return commission.OrderID{}, err
	}
	orderID, err := commission.NewOrderID(raw)
	if err != nil {
		return commission.OrderID{}, mapToGRPCError(err)
	}
	return orderID, nil
}

func (server *CommissionServer) validate(request any) error {
	if err := server.validator.Struct(request); err != nil {
		return status.Error(codes.InvalidArgument, wire.CodeInvalidRequest+": "+err.Error())
	}
	return nil
}

func (server *CommissionServer) orderResponse(order commission.Order, err error) (*OrderResponse, error) {
	if err != nil {
		return nil, mapToGRPCError(err)
	}
	return &OrderResponse{Order: wire.FromOrder(order, server.service.Now())}, nil
}

// mapToGRPCError converts a domain error into a status whose message starts
// with the stable error code.
func mapToGRPCError(source error) error {
	code := wire.ErrorCode(source)
	message := code + ": " + wire.ErrorMessage(source)
	switch code {
	case wire.CodeNotFound:
		return status.Error(codes.NotFound, message)
	case wire.CodeInvalidRequest, wire.CodeInvalidConfirmation:
		return status.Error(codes.InvalidArgument, message)
	case wire.CodeInvalidState, wire.CodeInsufficientBalance, wire.CodeAlreadySettled:
		return status.Error(codes.FailedPrecondition, message)
	case wire.CodeConflict:
		return status.Error(codes.Aborted, message)
	default:
		return status.Error(codes.Internal, message)
	}
}

// ErrorCode extracts the stable error code from a status returned by the server.
func ErrorCode(err error) string {
	statusInfo, ok := status.FromError(err)
	if !ok {
		return ""
	}
	code, _, found := strings.Cut(statusInfo.Message(), ": ")
	if !found {
		return ""
	}
	return code
}

func loggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, request any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		started := time.Now()
		response, err := handler(ctx, request)
		code := status.Code(err)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("duration", time.Since(started)),
		}
		if code == codes.Internal || code == codes.Unknown {
			logger.Error("grpc call failed", append(fields, zap.Error(err))...)
		} else {
			logger.Debug("grpc call", fields...)
		}
		return response, err
	}
}

