// Package wire holds the JSON shapes shared by the HTTP and gRPC surfaces.
// Amounts travel as decimal strings with two fraction digits.
package wire

import (
	"time"

	"github.com/MarkoPoloResearchLab/commissions/internal/money"
	"github.com/MarkoPoloResearchLab/commissions/pkg/commission"
)

var labels = commission.NewStatusLabels()

// Commission is the payout attached to an order.
type Commission struct {
	Amount              string    `json:"amount"`
	Status              string    `json:"status"`
	StatusLabel         string    `json:"status_label"`
	AvailableAt         time.Time `json:"available_at"`
	Settled             bool      `json:"settled"`
	Inconsistent        bool      `json:"inconsistent"`
	AutoReleaseEligible bool      `json:"auto_release_eligible"`
}

// Order is an order with its optional commission.
type Order struct {
	OrderID       string      `json:"order_id"`
	OrderType     string      `json:"order_type"`
	OrderDate     time.Time   `json:"order_date"`
	OrderTotal    string      `json:"order_total"`
	AgentID       string      `json:"agent_id,omitempty"`
	CustomerName  string      `json:"customer_name,omitempty"`
	CustomerPhone string      `json:"customer_phone,omitempty"`
	Commission    *Commission `json:"commission,omitempty"`
}

// AgentSummary is the denormalized agent embedded in commission rows.
type AgentSummary struct {
	AgentID    string `json:"agent_id"`
	FullName   string `json:"full_name"`
	CouponCode string `json:"coupon_code,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

// Agent carries the running balance.
type Agent struct {
	AgentSummary
	CurrentBalance string `json:"current_balance"`
}

// CommissionRow is one query result row.
type CommissionRow struct {
	Order
	Agent AgentSummary `json:"agent"`
}

// AgentAggregate is the per-agent summary of a query.
type AgentAggregate struct {
	Agent                  AgentSummary `json:"agent"`
	OrdersCount            int64        `json:"orders_count"`
	PendingAmount          string       `json:"pending_amount"`
	AvailableForWithdrawal string       `json:"available_for_withdrawal"`
	UnsettledAmount        string       `json:"unsettled_amount"`
	ClaimedAmount          string       `json:"claimed_amount"`
	TotalEarned            string       `json:"total_earned"`
	CurrentBalance         string       `json:"current_balance"`
}

// Report is a page of commission rows with aggregates.
type Report struct {
	Rows       []CommissionRow  `json:"rows"`
	TotalCount int64            `json:"total_count"`
	Page       int              `json:"page"`
	PageSize   int              `json:"page_size"`
	Aggregates []AgentAggregate `json:"aggregates"`
}

// Reconciliation reports a fix-balance call.
type Reconciliation struct {
	Status       string `json:"status"`
	Order        *Order `json:"order,omitempty"`
	Credited     string `json:"credited"`
	AgentBalance string `json:"agent_balance"`
}

// ResetResult reports a bulk reset.
type ResetResult struct {
	Status      string `json:"status"`
	OrdersReset int64  `json:"orders_reset"`
	UsersReset  int64  `json:"users_reset"`
}

// SweepFailure names an order the sweep could not release.
type SweepFailure struct {
	OrderID string `json:"order_id"`
	Error   string `json:"error"`
}

// SweepResult reports one auto-release pass.
type SweepResult struct {
	Released []string       `json:"released"`
	Skipped  []string       `json:"skipped"`
	Failed   []SweepFailure `json:"failed"`
}

// AuditEntry is one recorded mutation.
type AuditEntry struct {
	EntryID      string         `json:"entry_id"`
	OrderID      string         `json:"order_id,omitempty"`
	Operation    string         `json:"operation"`
	Actor        string         `json:"actor"`
	FromStatus   string         `json:"from_status,omitempty"`
	FromSettled  bool           `json:"from_settled"`
	ToStatus     string         `json:"to_status,omitempty"`
	ToSettled    bool           `json:"to_settled"`
	BalanceDelta string         `json:"balance_delta"`
	Reason       string         `json:"reason,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// FromOrder converts an order. now decides auto-release eligibility.
func FromOrder(order commission.Order, now time.Time) Order {
	payload := Order{
		OrderID:       order.OrderID.String(),
		OrderType:     order.OrderType.String(),
		OrderDate:     order.OrderDate.UTC(),
		OrderTotal:    money.Format(order.OrderTotal),
		AgentID:       order.AgentID.String(),
		CustomerName:  order.CustomerName,
		CustomerPhone: order.CustomerPhone,
	}
	if order.Commission != nil {
		payload.Commission = &Commission{
			Amount:              money.Format(order.Commission.Amount),
			Status:              order.Commission.Status.String(),
			StatusLabel:         labels.Label(order.Commission.Status),
			AvailableAt:         order.Commission.AvailableAt.UTC(),
			Settled:             order.Commission.Settled,
			Inconsistent:        order.Commission.Inconsistent(),
			AutoReleaseEligible: commission.AutoReleaseEligible(*order.Commission, now),
		}
	}
	return payload
}

// FromAgentSummary converts the denormalized agent view.
func FromAgentSummary(agent commission.AgentSummary) AgentSummary {
	return AgentSummary{
		AgentID:    agent.AgentID.String(),
		FullName:   agent.FullName,
		CouponCode: agent.CouponCode,
		Phone:      agent.Phone,
	}
}

// FromAgent converts an agent with its balance.
func FromAgent(agent commission.Agent) Agent {
	return Agent{
		AgentSummary: AgentSummary{
			AgentID:    agent.AgentID.String(),
			FullName:   agent.FullName,
			CouponCode: agent.CouponCode,
			Phone:      agent.Phone,
		},
		CurrentBalance: money.Format(agent.CurrentBalance),
	}
}

// FromRows converts query rows.
func FromRows(rows []commission.CommissionRow, now time.Time) []CommissionRow {
	payload := make([]CommissionRow, 0, len(rows))
	for _, row := range rows {
		payload = append(payload, CommissionRow{
			Order: FromOrder(row.Order, now),
			Agent: FromAgentSummary(row.Agent),
		})
	}
	return payload
}

// FromReport converts a query report.
func FromReport(report commission.CommissionReport, now time.Time) Report {
	aggregates := make([]AgentAggregate, 0, len(report.Aggregates))
	for _, aggregate := range report.Aggregates {
		aggregates = append(aggregates, AgentAggregate{
			Agent:                  FromAgentSummary(aggregate.Agent),
			OrdersCount:            aggregate.OrdersCount,
			PendingAmount:          money.Format(aggregate.PendingAmount),
			AvailableForWithdrawal: money.Format(aggregate.AvailableForWithdrawal),
			UnsettledAmount:        money.Format(aggregate.UnsettledAmount),
			ClaimedAmount:          money.Format(aggregate.ClaimedAmount),
			TotalEarned:            money.Format(aggregate.TotalEarned),
			CurrentBalance:         money.Format(aggregate.CurrentBalance),
		})
	}
	return Report{
		Rows:       FromRows(report.Rows, now),
		TotalCount: report.TotalCount,
		Page:       report.Page.Number,
		PageSize:   report.Page.Size,
		Aggregates: aggregates,
	}
}

// FromReconciliation converts a fix-balance outcome.
func FromReconciliation(reconciliation commission.Reconciliation, now time.Time) Reconciliation {
	payload := Reconciliation{
		Status:       commission.LogStatusOK,
		Credited:     money.FormatSigned(reconciliation.Credited),
		AgentBalance: money.Format(reconciliation.AgentBalance),
	}
	if reconciliation.AlreadySettled {
		payload.Status = commission.LogStatusAlreadySettled
	}
	if !reconciliation.Order.OrderID.IsZero() {
		order := FromOrder(reconciliation.Order, now)
		payload.Order = &order
	}
	return payload
}

// FromResetResult converts a bulk reset outcome.
func FromResetResult(result commission.ResetResult) ResetResult {
	return ResetResult{
		Status:      string(result.Outcome),
		OrdersReset: result.OrdersReset,
		UsersReset:  result.UsersReset,
	}
}

// FromSweepResult converts a sweep outcome.
func FromSweepResult(result commission.SweepResult) SweepResult {
	payload := SweepResult{
		Released: orderIDStrings(result.Released),
		Skipped:  orderIDStrings(result.Skipped),
		Failed:   make([]SweepFailure, 0, len(result.Failed)),
	}
	for _, failure := range result.Failed {
		payload.Failed = append(payload.Failed, SweepFailure{OrderID: failure.OrderID.String(), Error: failure.Err.Error()})
	}
	return payload
}

// FromAuditEntries converts an audit trail.
func FromAuditEntries(entries []commission.AuditEntry) []AuditEntry {
	payload := make([]AuditEntry, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, AuditEntry{
			EntryID:      entry.EntryID,
			OrderID:      entry.OrderID.String(),
			Operation:    entry.Operation,
			Actor:        entry.Actor.String(),
			FromStatus:   entry.From.Status.String(),
			FromSettled:  entry.From.Settled,
			ToStatus:     entry.To.Status.String(),
			ToSettled:    entry.To.Settled,
			BalanceDelta: money.FormatSigned(entry.AmountCents),
			Reason:       entry.Reason,
			Metadata:     entry.Metadata,
			CreatedAt:    entry.CreatedAt.UTC(),
		})
	}
	return payload
}

func orderIDStrings(orderIDs []commission.OrderID) []string {
	values := make([]string, 0, len(orderIDs))
	for _, orderID := range orderIDs {
		values = append(values, orderID.String())
	}
	return values
}
