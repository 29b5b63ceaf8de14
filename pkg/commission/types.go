package commission

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"
)

// AmountCents is a non-negative currency amount in cents.
type AmountCents int64

// SignedAmountCents is a balance delta in cents.
type SignedAmountCents int64

// OrderID identifies an order and its commission.
type OrderID struct {
	value string
}

// AgentID identifies a referring agent.
type AgentID struct {
	value string
}

// Actor identifies who triggered a mutation.
type Actor struct {
	value string
}

// Reason is the free-text justification attached to a cancellation.
type Reason struct {
	value string
}

// OrderType determines the length of the release window.
type OrderType string

const (
	OrderTypeStandard OrderType = "standard"
	OrderTypeGroup    OrderType = "group"
)

// CommissionStatus defines the commission lifecycle.
type CommissionStatus string

const (
	StatusPending   CommissionStatus = "pending"
	StatusAvailable CommissionStatus = "available"
	StatusClaimed   CommissionStatus = "claimed"
	StatusCancelled CommissionStatus = "cancelled"
)

// SystemActor is the identity recorded for automated sweeps.
var SystemActor = Actor{value: "system"}

// NewOrderID validates and normalizes an order id.
func NewOrderID(raw string) (OrderID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return OrderID{}, fmt.Errorf("%w: empty value", ErrInvalidOrderID)
	}
	return OrderID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id OrderID) String() string {
	return id.value
}

// IsZero reports whether the id was never set.
func (id OrderID) IsZero() bool {
	return id.value == ""
}

// NewAgentID validates and normalizes an agent id.
func NewAgentID(raw string) (AgentID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AgentID{}, fmt.Errorf("%w: empty value", ErrInvalidAgentID)
	}
	return AgentID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id AgentID) String() string {
	return id.value
}

// IsZero reports whether the id was never set.
func (id AgentID) IsZero() bool {
	return id.value == ""
}

// NewActor validates and normalizes an actor identity.
func NewActor(raw string) (Actor, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Actor{}, fmt.Errorf("%w: empty value", ErrInvalidActor)
	}
	return Actor{value: trimmed}, nil
}

// String returns the normalized identity.
func (actor Actor) String() string {
	return actor.value
}

// NewReason normalizes a cancellation reason. Reasons are optional but bounded.
func NewReason(raw string) (Reason, error) {
	trimmed := strings.TrimSpace(raw)
	if utf8.RuneCountInString(trimmed) > MaxReasonLength {
		return Reason{}, fmt.Errorf("%w: longer than %d characters", ErrInvalidReason, MaxReasonLength)
	}
	return Reason{value: trimmed}, nil
}

// String returns the normalized reason.
func (reason Reason) String() string {
	return reason.value
}

// NewAmountCents validates an amount and ensures it is not negative.
func NewAmountCents(raw int64) (AmountCents, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must be zero or greater", ErrInvalidAmountCents)
	}
	return AmountCents(raw), nil
}

// Int64 returns the raw cents value.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// Int64 returns the raw cents value.
func (amount SignedAmountCents) Int64() int64 {
	return int64(amount)
}

// ParseOrderType validates an order type.
func ParseOrderType(raw string) (OrderType, error) {
	switch OrderType(strings.ToLower(strings.TrimSpace(raw))) {
	case OrderTypeStandard:
		return OrderTypeStandard, nil
	case OrderTypeGroup:
		return OrderTypeGroup, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOrderType, raw)
	}
}

// String returns the wire value.
func (orderType OrderType) String() string {
	return string(orderType)
}

// ReleaseWindow returns how long a commission of this order type stays pending.
func ReleaseWindow(orderType OrderType) time.Duration {
	if orderType == OrderTypeGroup {
		return groupReleaseWindow
	}
	return standardReleaseWindow
}

// ParseCommissionStatus validates a commission status.
func ParseCommissionStatus(raw string) (CommissionStatus, error) {
	switch CommissionStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusPending:
		return StatusPending, nil
	case StatusAvailable:
		return StatusAvailable, nil
	case StatusClaimed:
		return StatusClaimed, nil
	case StatusCancelled:
		return StatusCancelled, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
}

// String returns the wire value.
func (status CommissionStatus) String() string {
	return string(status)
}

// CommissionState is the pair every transition guards on.
type CommissionState struct {
	Status  CommissionStatus
	Settled bool
}

// contributesToBalance reports whether the commission amount belongs in the agent's running balance.
func (state CommissionState) contributesToBalance() bool {
	return state.Settled && state.Status == StatusAvailable
}

// Commission is the referral payout attached 1:1 to an order.
type Commission struct {
	Amount      AmountCents
	Status      CommissionStatus
	AvailableAt time.Time
	Settled     bool
}

// State returns the guarded state pair.
func (commission Commission) State() CommissionState {
	return CommissionState{Status: commission.Status, Settled: commission.Settled}
}

// Inconsistent reports a commission released without its balance credit.
func (commission Commission) Inconsistent() bool {
	return (commission.Status == StatusAvailable || commission.Status == StatusClaimed) && !commission.Settled
}

// AutoReleaseEligible reports whether a pending commission has reached its release date.
func AutoReleaseEligible(commission Commission, now time.Time) bool {
	return commission.Status == StatusPending && !now.Before(commission.AvailableAt)
}

// Order is the externally owned purchase a commission is attached to.
type Order struct {
	OrderID       OrderID
	OrderTotal    AmountCents
	OrderType     OrderType
	OrderDate     time.Time
	AgentID       AgentID
	CustomerName  string
	CustomerPhone string
	Commission    *Commission
}

// HasCommission reports whether the order carries a commission.
func (order Order) HasCommission() bool {
	return !order.AgentID.IsZero() && order.Commission != nil
}

// Agent is the referring party whose running balance the ledger maintains.
type Agent struct {
	AgentID        AgentID
	FullName       string
	CouponCode     string
	Phone          string
	CurrentBalance AmountCents
}

// AgentSummary is the denormalized agent view embedded in query rows.
type AgentSummary struct {
	AgentID    AgentID
	FullName   string
	CouponCode string
	Phone      string
}

// AuditEntry records one mutation for reconciliation forensics.
type AuditEntry struct {
	EntryID     string
	OrderID     OrderID
	Operation   string
	Actor       Actor
	From        CommissionState
	To          CommissionState
	AmountCents SignedAmountCents
	Reason      string
	Metadata    map[string]any
	CreatedAt   time.Time
}

// ResetSnapshot is the ledger as a bulk reset found it: every commission-bearing
// order and every agent, read and locked before the rows were cleared.
type ResetSnapshot struct {
	Orders []Order
	Agents []Agent
}

// CommissionFilter narrows commission queries. Zero values mean "any".
type CommissionFilter struct {
	AgentID AgentID
	Status  CommissionStatus
	From    time.Time
	To      time.Time
}

// Page selects a window of a result set.
type Page struct {
	Number int
	Size   int
}

// Offset returns the zero-based row offset.
func (page Page) Offset() int {
	return (page.Number - 1) * page.Size
}

// offsetFits reports whether Offset can be computed without overflow.
func (page Page) offsetFits() bool {
	return page.Size <= 0 || page.Number-1 <= math.MaxInt/page.Size
}

// CommissionRow is one order with its commission and agent summary.
type CommissionRow struct {
	Order               Order
	Agent               AgentSummary
	AutoReleaseEligible bool
}

// AgentAggregate summarizes one agent's commissions over a filter.
type AgentAggregate struct {
	Agent                  AgentSummary
	OrdersCount            int64
	PendingAmount          AmountCents
	AvailableForWithdrawal AmountCents
	UnsettledAmount        AmountCents
	ClaimedAmount          AmountCents
	TotalEarned            AmountCents
	CurrentBalance         AmountCents
}

// Store is the persistence contract used by Service.
// (gormstore and pgstore implement it.)
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	CreateAgent(ctx context.Context, agent Agent) error
	GetAgent(ctx context.Context, agentID AgentID) (Agent, error)
	AdjustAgentBalance(ctx context.Context, agentID AgentID, delta SignedAmountCents) (AmountCents, error)
	CreateOrder(ctx context.Context, order Order) error
	GetOrder(ctx context.Context, orderID OrderID) (Order, error)
	GetOrderForUpdate(ctx context.Context, orderID OrderID) (Order, error)
	UpdateCommissionState(ctx context.Context, orderID OrderID, from CommissionState, to CommissionState) error
	UpdateReleaseDate(ctx context.Context, orderID OrderID, expected CommissionStatus, availableAt time.Time) error
	ResetAll(ctx context.Context) (ResetSnapshot, error)
	InsertAudit(ctx context.Context, entry AuditEntry) error
	ListAudit(ctx context.Context, orderID OrderID) ([]AuditEntry, error)
	ListCommissions(ctx context.Context, filter CommissionFilter, page Page) ([]CommissionRow, int64, error)
	SummarizeAgents(ctx context.Context, filter CommissionFilter) ([]AgentAggregate, error)
	ListUnsettled(ctx context.Context, limit int) ([]CommissionRow, error)
	ListReleaseEligible(ctx context.Context, at time.Time, exclude []OrderID, limit int) ([]OrderID, error)
}
