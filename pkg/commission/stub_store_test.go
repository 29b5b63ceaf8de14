package commission

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"
)

// stubStore is an in-memory Store. WithTx snapshots state and restores it when
// fn fails, so tests can observe rollback semantics.
type stubStore struct {
	agents map[AgentID]Agent
	orders map[OrderID]Order
	audit  []AuditEntry

	adjustBalanceError error
	insertAuditError   error
	resetError         error
	listError          error
	updateStateHook    func(orderID OrderID)

	releaseEligibleCalls int
	// afterRollback replays writes a concurrent transaction committed.
	afterRollback func()
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{
		agents: make(map[AgentID]Agent),
		orders: make(map[OrderID]Order),
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	agents := make(map[AgentID]Agent, len(store.agents))
	for key, value := range store.agents {
		agents[key] = value
	}
	orders := make(map[OrderID]Order, len(store.orders))
	for key, value := range store.orders {
		orders[key] = cloneOrder(value)
	}
	audit := append([]AuditEntry(nil), store.audit...)
	if err := fn(ctx, store); err != nil {
		store.agents = agents
		store.orders = orders
		store.audit = audit
		if store.afterRollback != nil {
			store.afterRollback()
			store.afterRollback = nil
		}
		return err
	}
	return nil
}

func (store *stubStore) CreateAgent(ctx context.Context, agent Agent) error {
	if _, exists := store.agents[agent.AgentID]; exists {
		return ErrDuplicateAgent
	}
	store.agents[agent.AgentID] = agent
	return nil
}

func (store *stubStore) GetAgent(ctx context.Context, agentID AgentID) (Agent, error) {
	agent, ok := store.agents[agentID]
	if !ok {
		return Agent{}, ErrAgentNotFound
	}
	return agent, nil
}

func (store *stubStore) AdjustAgentBalance(ctx context.Context, agentID AgentID, delta SignedAmountCents) (AmountCents, error) {
	if store.adjustBalanceError != nil {
		return 0, store.adjustBalanceError
	}
	agent, ok := store.agents[agentID]
	if !ok {
		return 0, ErrAgentNotFound
	}
	updated := agent.CurrentBalance.Int64() + delta.Int64()
	if updated < 0 {
		return 0, ErrInsufficientBalance
	}
	agent.CurrentBalance = AmountCents(updated)
	store.agents[agentID] = agent
	return agent.CurrentBalance, nil
}

func (store *stubStore) CreateOrder(ctx context.Context, order Order) error {
	if _, exists := store.orders[order.OrderID]; exists {
		return ErrDuplicateOrder
	}
	store.orders[order.OrderID] = cloneOrder(order)
	return nil
}

func (store *stubStore) GetOrder(ctx context.Context, orderID OrderID) (Order, error) {
	order, ok := store.orders[orderID]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return cloneOrder(order), nil
}

func (store *stubStore) GetOrderForUpdate(ctx context.Context, orderID OrderID) (Order, error) {
	return store.GetOrder(ctx, orderID)
}

func (store *stubStore) UpdateCommissionState(ctx context.Context, orderID OrderID, from CommissionState, to CommissionState) error {
	if store.updateStateHook != nil {
		store.updateStateHook(orderID)
	}
	order, ok := store.orders[orderID]
	if !ok || order.Commission == nil {
		return ErrCommissionNotFound
	}
	if order.Commission.State() != from {
		return ErrCommissionStateChanged
	}
	order.Commission.Status = to.Status
	order.Commission.Settled = to.Settled
	return nil
}

func (store *stubStore) UpdateReleaseDate(ctx context.Context, orderID OrderID, expected CommissionStatus, availableAt time.Time) error {
	order, ok := store.orders[orderID]
	if !ok || order.Commission == nil {
		return ErrCommissionNotFound
	}
	if order.Commission.Status != expected {
		return ErrCommissionStateChanged
	}
	order.Commission.AvailableAt = availableAt
	return nil
}

func (store *stubStore) ResetAll(ctx context.Context) (ResetSnapshot, error) {
	if store.resetError != nil {
		return ResetSnapshot{}, store.resetError
	}
	snapshot := ResetSnapshot{Orders: make([]Order, 0), Agents: make([]Agent, 0)}
	for _, order := range store.orders {
		if order.Commission == nil {
			continue
		}
		snapshot.Orders = append(snapshot.Orders, cloneOrder(order))
		order.Commission.Status = StatusCancelled
		order.Commission.Settled = false
	}
	for agentID, agent := range store.agents {
		snapshot.Agents = append(snapshot.Agents, agent)
		agent.CurrentBalance = 0
		store.agents[agentID] = agent
	}
	sort.Slice(snapshot.Orders, func(left, right int) bool {
		return snapshot.Orders[left].OrderID.String() < snapshot.Orders[right].OrderID.String()
	})
	sort.Slice(snapshot.Agents, func(left, right int) bool {
		return snapshot.Agents[left].AgentID.String() < snapshot.Agents[right].AgentID.String()
	})
	return snapshot, nil
}

func (store *stubStore) InsertAudit(ctx context.Context, entry AuditEntry) error {
	if store.insertAuditError != nil {
		return store.insertAuditError
	}
	store.audit = append(store.audit, entry)
	return nil
}

func (store *stubStore) ListAudit(ctx context.Context, orderID OrderID) ([]AuditEntry, error) {
	entries := make([]AuditEntry, 0)
	for _, entry := range store.audit {
		if entry.OrderID == orderID {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func (store *stubStore) ListCommissions(ctx context.Context, filter CommissionFilter, page Page) ([]CommissionRow, int64, error) {
	if store.listError != nil {
		return nil, 0, store.listError
	}
	rows := store.filteredRows(filter)
	total := int64(len(rows))
	start := page.Offset()
	if start > len(rows) {
		start = len(rows)
	}
	end := start + page.Size
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end], total, nil
}

func (store *stubStore) SummarizeAgents(ctx context.Context, filter CommissionFilter) ([]AgentAggregate, error) {
	byAgent := make(map[AgentID]*AgentAggregate)
	order := make([]AgentID, 0)
	for _, row := range store.filteredRows(filter) {
		aggregate, ok := byAgent[row.Agent.AgentID]
		if !ok {
			aggregate = &AgentAggregate{Agent: row.Agent, CurrentBalance: store.agents[row.Agent.AgentID].CurrentBalance}
			byAgent[row.Agent.AgentID] = aggregate
			order = append(order, row.Agent.AgentID)
		}
		commission := row.Order.Commission
		aggregate.OrdersCount++
		switch {
		case commission.Status == StatusPending:
			aggregate.PendingAmount += commission.Amount
		case commission.Status == StatusAvailable && commission.Settled:
			aggregate.AvailableForWithdrawal += commission.Amount
		case commission.Status == StatusAvailable:
			aggregate.UnsettledAmount += commission.Amount
		case commission.Status == StatusClaimed:
			aggregate.ClaimedAmount += commission.Amount
		}
		if commission.Status != StatusCancelled {
			aggregate.TotalEarned += commission.Amount
		}
	}
	aggregates := make([]AgentAggregate, 0, len(order))
	for _, agentID := range order {
		aggregates = append(aggregates, *byAgent[agentID])
	}
	return aggregates, nil
}

func (store *stubStore) ListUnsettled(ctx context.Context, limit int) ([]CommissionRow, error) {
	rows := make([]CommissionRow, 0)
	for _, row := range store.filteredRows(CommissionFilter{Status: StatusAvailable}) {
		if !row.Order.Commission.Settled {
			rows = append(rows, row)
		}
	}
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (store *stubStore) ListReleaseEligible(ctx context.Context, at time.Time, exclude []OrderID, limit int) ([]OrderID, error) {
	if store.listError != nil {
		return nil, store.listError
	}
	excluded := make(map[OrderID]bool, len(exclude))
	for _, orderID := range exclude {
		excluded[orderID] = true
	}
	rows := store.filteredRows(CommissionFilter{Status: StatusPending})
	sort.SliceStable(rows, func(left, right int) bool {
		return rows[left].Order.Commission.AvailableAt.Before(rows[right].Order.Commission.AvailableAt)
	})
	orderIDs := make([]OrderID, 0)
	for _, row := range rows {
		if excluded[row.Order.OrderID] || row.Order.Commission.AvailableAt.After(at) {
			continue
		}
		orderIDs = append(orderIDs, row.Order.OrderID)
	}
	if len(orderIDs) > limit {
		orderIDs = orderIDs[:limit]
	}
	store.releaseEligibleCalls++
	return orderIDs, nil
}

func (store *stubStore) filteredRows(filter CommissionFilter) []CommissionRow {
	rows := make([]CommissionRow, 0)
	for _, order := range store.orders {
		if !order.HasCommission() {
			continue
		}
		if !filter.AgentID.IsZero() && order.AgentID != filter.AgentID {
			continue
		}
		if filter.Status != "" && order.Commission.Status != filter.Status {
			continue
		}
		if !filter.From.IsZero() && order.OrderDate.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && order.OrderDate.After(filter.To) {
			continue
		}
		agent := store.agents[order.AgentID]
		rows = append(rows, CommissionRow{
			Order: cloneOrder(order),
			Agent: AgentSummary{AgentID: agent.AgentID, FullName: agent.FullName, CouponCode: agent.CouponCode, Phone: agent.Phone},
		})
	}
	sort.Slice(rows, func(left, right int) bool {
		return rows[left].Order.OrderID.String() < rows[right].Order.OrderID.String()
	})
	return rows
}

func (store *stubStore) mustOrder(test *testing.T, orderID OrderID) Order {
	test.Helper()
	order, ok := store.orders[orderID]
	if !ok {
		test.Fatalf("order %s not found", orderID.String())
	}
	return cloneOrder(order)
}

func (store *stubStore) mustBalance(test *testing.T, agentID AgentID) AmountCents {
	test.Helper()
	agent, ok := store.agents[agentID]
	if !ok {
		test.Fatalf("agent %s not found", agentID.String())
	}
	return agent.CurrentBalance
}

// seedOrder writes an order directly, bypassing the service, to simulate
// pre-existing (possibly inconsistent) rows.
func (store *stubStore) seedOrder(test *testing.T, orderID string, agentID string, amount int64, status CommissionStatus, settled bool, availableAt time.Time) OrderID {
	test.Helper()
	parsedOrderID := mustOrderID(test, orderID)
	store.orders[parsedOrderID] = Order{
		OrderID:   parsedOrderID,
		OrderType: OrderTypeStandard,
		OrderDate: availableAt.Add(-standardReleaseWindow),
		AgentID:   mustAgentID(test, agentID),
		Commission: &Commission{
			Amount:      AmountCents(amount),
			Status:      status,
			AvailableAt: availableAt,
			Settled:     settled,
		},
	}
	return parsedOrderID
}

func (store *stubStore) seedAgent(test *testing.T, agentID string, balance int64) AgentID {
	test.Helper()
	parsedAgentID := mustAgentID(test, agentID)
	store.agents[parsedAgentID] = Agent{
		AgentID:        parsedAgentID,
		FullName:       "Agent " + agentID,
		CouponCode:     "CODE-" + agentID,
		Phone:          "050-0000000",
		CurrentBalance: AmountCents(balance),
	}
	return parsedAgentID
}

func cloneOrder(order Order) Order {
	if order.Commission != nil {
		commission := *order.Commission
		order.Commission = &commission
	}
	return order
}

type failingStore struct {
	stubStore
	err error
}

func newFailingStore(test *testing.T, err error) *failingStore {
	test.Helper()
	return &failingStore{stubStore: *newStubStore(test), err: err}
}

func (store *failingStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return store.err
}

var errStoreFailure = errors.New("store error")

var fixedNow = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

func mustNewService(test *testing.T, store Store, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, func() time.Time { return fixedNow }, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustOrderID(test *testing.T, raw string) OrderID {
	test.Helper()
	value, err := NewOrderID(raw)
	if err != nil {
		test.Fatalf("order id: %v", err)
	}
	return value
}

func mustAgentID(test *testing.T, raw string) AgentID {
	test.Helper()
	value, err := NewAgentID(raw)
	if err != nil {
		test.Fatalf("agent id: %v", err)
	}
	return value
}

func mustActor(test *testing.T, raw string) Actor {
	test.Helper()
	value, err := NewActor(raw)
	if err != nil {
		test.Fatalf("actor: %v", err)
	}
	return value
}

func mustReason(test *testing.T, raw string) Reason {
	test.Helper()
	value, err := NewReason(raw)
	if err != nil {
		test.Fatalf("reason: %v", err)
	}
	return value
}
