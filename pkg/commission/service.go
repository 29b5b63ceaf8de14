package commission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Service owns every commission transition and the agent balance it implies.
type Service struct {
	store  Store
	nowFn  func() time.Time
	logger OperationLogger
	newID  func() string
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now, newID: uuid.NewString}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// OrderInput carries an externally placed order into the ledger.
type OrderInput struct {
	OrderID          OrderID
	OrderTotal       AmountCents
	OrderType        OrderType
	OrderDate        time.Time
	AgentID          AgentID
	CustomerName     string
	CustomerPhone    string
	CommissionAmount AmountCents
	// AvailableAt overrides the default release date when set.
	AvailableAt time.Time
}

// RegisterAgent stores a new agent with a zero balance.
func (service *Service) RegisterAgent(ctx context.Context, actor Actor, agent Agent) (Agent, error) {
	if agent.AgentID.IsZero() {
		return Agent{}, fmt.Errorf("%w: empty value", ErrInvalidAgentID)
	}
	if agent.FullName == "" {
		return Agent{}, fmt.Errorf("%w: empty value", ErrInvalidAgentName)
	}
	agent.CurrentBalance = 0
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := transactionStore.CreateAgent(ctx, agent); err != nil {
			return err
		}
		return transactionStore.InsertAudit(ctx, service.auditEntry(operationRegisterAgent, OrderID{}, actor, CommissionState{}, CommissionState{}, 0, "", map[string]any{
			"agent_id":    agent.AgentID.String(),
			"coupon_code": agent.CouponCode,
		}))
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationRegisterAgent,
		AgentID:   agent.AgentID,
		Actor:     actor,
		Error:     operationError,
	})
	if operationError != nil {
		return Agent{}, operationError
	}
	return agent, nil
}

// RegisterOrder stores an order and, when it has an agent, its pending commission.
func (service *Service) RegisterOrder(ctx context.Context, actor Actor, input OrderInput) (Order, error) {
	if input.OrderID.IsZero() {
		return Order{}, fmt.Errorf("%w: empty value", ErrInvalidOrderID)
	}
	orderType, err := ParseOrderType(input.OrderType.String())
	if err != nil {
		return Order{}, err
	}
	if input.OrderDate.IsZero() {
		return Order{}, fmt.Errorf("%w: empty value", ErrInvalidOrderDate)
	}
	order := Order{
		OrderID:       input.OrderID,
		OrderTotal:    input.OrderTotal,
		OrderType:     orderType,
		OrderDate:     input.OrderDate.UTC(),
		AgentID:       input.AgentID,
		CustomerName:  input.CustomerName,
		CustomerPhone: input.CustomerPhone,
	}
	if !input.AgentID.IsZero() {
		availableAt := input.AvailableAt
		if availableAt.IsZero() {
			availableAt = order.OrderDate.Add(ReleaseWindow(orderType))
		}
		order.Commission = &Commission{
			Amount:      input.CommissionAmount,
			Status:      StatusPending,
			AvailableAt: availableAt.UTC(),
			Settled:     false,
		}
	}
	initialState := CommissionState{}
	if order.Commission != nil {
		initialState = order.Commission.State()
	}
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if order.Commission != nil {
			if _, err := transactionStore.GetAgent(ctx, order.AgentID); err != nil {
				return err
			}
		}
		if err := transactionStore.CreateOrder(ctx, order); err != nil {
			return err
		}
		return transactionStore.InsertAudit(ctx, service.auditEntry(operationRegisterOrder, order.OrderID, actor, CommissionState{}, initialState, 0, "", map[string]any{
			"order_type":  order.OrderType.String(),
			"agent_id":    order.AgentID.String(),
			"order_total": order.OrderTotal.Int64(),
		}))
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationRegisterOrder,
		OrderID:   order.OrderID,
		AgentID:   order.AgentID,
		Actor:     actor,
		To:        initialState,
		Error:     operationError,
	})
	if operationError != nil {
		return Order{}, operationError
	}
	return order, nil
}

// ReleaseSingle makes a pending commission available ahead of its release date.
// The amount is settled into the agent balance in the same transaction, so a
// released commission can no longer be left without its credit.
func (service *Service) ReleaseSingle(ctx context.Context, actor Actor, orderID OrderID) (Order, error) {
	result, err := service.applyTransition(ctx, transitionRequest{
		operation: operationRelease,
		orderID:   orderID,
		actor:     actor,
		allowed:   []CommissionStatus{StatusPending},
		next: func(order Order) (CommissionState, error) {
			return CommissionState{Status: StatusAvailable, Settled: true}, nil
		},
	})
	return result.order, err
}

// Cancel moves a pending or available commission to cancelled. A settled
// available commission is debited back from the agent balance.
func (service *Service) Cancel(ctx context.Context, actor Actor, orderID OrderID, reason Reason) (Order, error) {
	result, err := service.applyTransition(ctx, transitionRequest{
		operation: operationCancel,
		orderID:   orderID,
		actor:     actor,
		reason:    reason.String(),
		allowed:   []CommissionStatus{StatusPending, StatusAvailable},
		next: func(order Order) (CommissionState, error) {
			return CommissionState{Status: StatusCancelled, Settled: false}, nil
		},
	})
	return result.order, err
}

// Claim marks an available commission as withdrawn and debits the agent balance.
func (service *Service) Claim(ctx context.Context, actor Actor, orderID OrderID) (Order, error) {
	result, err := service.applyTransition(ctx, transitionRequest{
		operation: operationClaim,
		orderID:   orderID,
		actor:     actor,
		allowed:   []CommissionStatus{StatusAvailable},
		next: func(order Order) (CommissionState, error) {
			if !order.Commission.Settled {
				return CommissionState{}, &StateError{
					OrderID:   order.OrderID,
					Operation: operationClaim,
					Current:   order.Commission.State(),
					Expected:  []CommissionStatus{StatusAvailable},
					Hint:      "commission is not settled, fix balance first",
				}
			}
			return CommissionState{Status: StatusClaimed, Settled: true}, nil
		},
	})
	return result.order, err
}

// UpdateReleaseDate overrides when a pending commission becomes eligible for release.
// A past date makes it eligible immediately but does not change its status.
func (service *Service) UpdateReleaseDate(ctx context.Context, actor Actor, orderID OrderID, releaseDate time.Time) (Order, error) {
	if releaseDate.IsZero() {
		return Order{}, fmt.Errorf("%w: empty value", ErrInvalidReleaseDate)
	}
	releaseDate = releaseDate.UTC()
	var updated Order
	var state CommissionState
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		order, err := loadCommission(ctx, transactionStore, orderID)
		if err != nil {
			return err
		}
		state = order.Commission.State()
		if state.Status != StatusPending {
			return &StateError{
				OrderID:   orderID,
				Operation: operationUpdateReleaseDate,
				Current:   state,
				Expected:  []CommissionStatus{StatusPending},
			}
		}
		previous := order.Commission.AvailableAt
		if err := transactionStore.UpdateReleaseDate(ctx, orderID, StatusPending, releaseDate); err != nil {
			return err
		}
		order.Commission.AvailableAt = releaseDate
		updated = order
		return transactionStore.InsertAudit(ctx, service.auditEntry(operationUpdateReleaseDate, orderID, actor, state, state, 0, "", map[string]any{
			"previous_available_at": previous.Format(time.RFC3339),
			"available_at":          releaseDate.Format(time.RFC3339),
		}))
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationUpdateReleaseDate,
		OrderID:   orderID,
		AgentID:   updated.AgentID,
		Actor:     actor,
		From:      state,
		To:        state,
		Error:     operationError,
	})
	if operationError != nil {
		return Order{}, operationError
	}
	return updated, nil
}

// SweepFailure records an order the sweep could not release.
type SweepFailure struct {
	OrderID OrderID
	Err     error
}

// SweepResult reports one auto-release pass.
type SweepResult struct {
	Released []OrderID
	Skipped  []OrderID
	Failed   []SweepFailure
}

// ReleaseEligible releases every pending commission whose release date has passed,
// one transaction per order, until limit orders were released or skipped. Orders
// that changed state in between are skipped.
//
// A failed order stays pending and sorts ahead of newer candidates, so the pass
// pages past every order it already tried instead of stopping after limit attempts.
func (service *Service) ReleaseEligible(ctx context.Context, actor Actor, limit int) (SweepResult, error) {
	if limit <= 0 {
		limit = defaultListSize
	}
	now := service.nowFn().UTC()
	result := SweepResult{}
	attempted := make([]OrderID, 0, limit)
	for remaining := limit; remaining > 0; remaining = limit - len(result.Released) - len(result.Skipped) {
		orderIDs, err := service.store.ListReleaseEligible(ctx, now, attempted, remaining)
		if err != nil {
			return result, err
		}
		if len(orderIDs) == 0 {
			break
		}
		for _, orderID := range orderIDs {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			attempted = append(attempted, orderID)
			_, releaseError := service.ReleaseSingle(ctx, actor, orderID)
			switch {
			case releaseError == nil:
				result.Released = append(result.Released, orderID)
			case errors.Is(releaseError, ErrInvalidState), errors.Is(releaseError, ErrConflict):
				result.Skipped = append(result.Skipped, orderID)
			default:
				result.Failed = append(result.Failed, SweepFailure{OrderID: orderID, Err: releaseError})
			}
		}
	}
	return result, nil
}

// GetCommission returns an order together with its commission.
func (service *Service) GetCommission(ctx context.Context, orderID OrderID) (Order, error) {
	order, err := service.store.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if !order.HasCommission() {
		return Order{}, fmt.Errorf("%w: order %s has no agent", ErrCommissionNotFound, orderID.String())
	}
	return order, nil
}

// AuditTrail lists the audit entries recorded for an order, oldest first.
func (service *Service) AuditTrail(ctx context.Context, orderID OrderID) ([]AuditEntry, error) {
	if _, err := service.store.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return service.store.ListAudit(ctx, orderID)
}

// AgentBalance returns the agent with its running balance.
func (service *Service) AgentBalance(ctx context.Context, agentID AgentID) (Agent, error) {
	return service.store.GetAgent(ctx, agentID)
}

// Now returns the service clock reading.
func (service *Service) Now() time.Time {
	return service.nowFn().UTC()
}

type transitionRequest struct {
	operation string
	orderID   OrderID
	actor     Actor
	reason    string
	allowed   []CommissionStatus
	next      func(order Order) (CommissionState, error)
}

type transitionResult struct {
	order   Order
	from    CommissionState
	to      CommissionState
	delta   SignedAmountCents
	balance AmountCents
}

func (service *Service) applyTransition(ctx context.Context, request transitionRequest) (transitionResult, error) {
	var result transitionResult
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		applied, err := service.transition(ctx, transactionStore, request)
		if err != nil {
			return err
		}
		result = applied
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:    request.operation,
		OrderID:      request.orderID,
		AgentID:      result.order.AgentID,
		Actor:        request.actor,
		From:         result.from,
		To:           result.to,
		BalanceDelta: result.delta,
		Reason:       request.reason,
		Error:        operationError,
	})
	if operationError != nil {
		return transitionResult{}, operationError
	}
	return result, nil
}

// transition runs inside a transaction: it locks the order, checks the lifecycle
// graph, writes the new state, moves the balance and records the audit entry.
func (service *Service) transition(ctx context.Context, transactionStore Store, request transitionRequest) (transitionResult, error) {
	order, err := loadCommission(ctx, transactionStore, request.orderID)
	if err != nil {
		return transitionResult{}, err
	}
	from := order.Commission.State()
	if !statusAllowed(from.Status, request.allowed) {
		return transitionResult{}, &StateError{
			OrderID:   request.orderID,
			Operation: request.operation,
			Current:   from,
			Expected:  request.allowed,
		}
	}
	to, err := request.next(order)
	if err != nil {
		return transitionResult{}, err
	}
	if err := transactionStore.UpdateCommissionState(ctx, request.orderID, from, to); err != nil {
		return transitionResult{}, err
	}
	delta := balanceDelta(order.Commission.Amount, from, to)
	balance, err := service.applyBalance(ctx, transactionStore, order.AgentID, delta)
	if err != nil {
		return transitionResult{}, err
	}
	if err := transactionStore.InsertAudit(ctx, service.auditEntry(request.operation, request.orderID, request.actor, from, to, delta, request.reason, map[string]any{
		"agent_id":          order.AgentID.String(),
		"commission_amount": order.Commission.Amount.Int64(),
	})); err != nil {
		return transitionResult{}, err
	}
	order.Commission.Status = to.Status
	order.Commission.Settled = to.Settled
	return transitionResult{order: order, from: from, to: to, delta: delta, balance: balance}, nil
}

func (service *Service) applyBalance(ctx context.Context, transactionStore Store, agentID AgentID, delta SignedAmountCents) (AmountCents, error) {
	if delta != 0 {
		return transactionStore.AdjustAgentBalance(ctx, agentID, delta)
	}
	agent, err := transactionStore.GetAgent(ctx, agentID)
	if err != nil {
		return 0, err
	}
	return agent.CurrentBalance, nil
}

func (service *Service) auditEntry(operation string, orderID OrderID, actor Actor, from CommissionState, to CommissionState, delta SignedAmountCents, reason string, metadata map[string]any) AuditEntry {
	return AuditEntry{
		EntryID:     service.newID(),
		OrderID:     orderID,
		Operation:   operation,
		Actor:       actor,
		From:        from,
		To:          to,
		AmountCents: delta,
		Reason:      reason,
		Metadata:    metadata,
		CreatedAt:   service.nowFn().UTC(),
	}
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func loadCommission(ctx context.Context, store Store, orderID OrderID) (Order, error) {
	order, err := store.GetOrderForUpdate(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if !order.HasCommission() {
		return Order{}, fmt.Errorf("%w: order %s has no agent", ErrCommissionNotFound, orderID.String())
	}
	return order, nil
}

// balanceDelta applies the contribution rule: only settled, available
// commissions count toward the running balance.
func balanceDelta(amount AmountCents, from CommissionState, to CommissionState) SignedAmountCents {
	var delta int64
	if to.contributesToBalance() {
		delta += amount.Int64()
	}
	if from.contributesToBalance() {
		delta -= amount.Int64()
	}
	return SignedAmountCents(delta)
}

func statusAllowed(status CommissionStatus, allowed []CommissionStatus) bool {
	for _, candidate := range allowed {
		if candidate == status {
			return true
		}
	}
	return false
}
