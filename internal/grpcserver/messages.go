package grpcserver

import "github.com/MarkoPoloResearchLab/commissions/internal/wire"

// OrderRequest names a single commission.
type OrderRequest struct {
	OrderID string `json:"order_id" validate:"required"`
}

// UpdateReleaseDateRequest overrides the release date of a pending commission.
// ReleaseDate is RFC 3339 or YYYY-MM-DD.
type UpdateReleaseDateRequest struct {
	OrderID     string `json:"order_id" validate:"required"`
	ReleaseDate string `json:"release_date" validate:"required"`
}

// CancelRequest cancels a commission with an optional reason of at most
// commission.MaxReasonLength characters.
type CancelRequest struct {
	OrderID string `json:"order_id" validate:"required"`
	Reason  string `json:"reason" validate:"max=500"`
}

// OrderResponse carries the commission after a transition.
type OrderResponse struct {
	Order wire.Order `json:"order"`
}

// FixBalanceResponse reports a reconciliation. Status is "already_settled"
// when the commission had been settled before the call.
type FixBalanceResponse struct {
	wire.Reconciliation
}

// ResetRequest carries the typed confirmation. A null confirmation declines the reset.
type ResetRequest struct {
	Confirmation *string `json:"confirmation"`
}

// ResetResponse reports the bulk reset outcome.
type ResetResponse struct {
	wire.ResetResult
}

// QueryRequest filters and pages commissions. Dates are RFC 3339 or YYYY-MM-DD.
type QueryRequest struct {
	AgentID  string `json:"agent_id"`
	Status   string `json:"status" validate:"omitempty,oneof=pending available claimed cancelled"`
	From     string `json:"from"`
	To       string `json:"to"`
	Page     int    `json:"page" validate:"gte=0"`
	PageSize int    `json:"page_size" validate:"gte=0,lte=200"`
}

// QueryResponse is one page of commissions with per-agent aggregates.
type QueryResponse struct {
	wire.Report
}

// ListUnsettledRequest bounds the repair worklist.
type ListUnsettledRequest struct {
	Limit int `json:"limit" validate:"gte=0,lte=200"`
}

// ListUnsettledResponse is the repair worklist.
type ListUnsettledResponse struct {
	Rows []wire.CommissionRow `json:"rows"`
}
