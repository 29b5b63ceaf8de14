package gormstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/commissions/pkg/commission"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var storeNow = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(test *testing.T) *Store {
	test.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", test.Name())), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(test, err)
	sqlDB, err := db.DB()
	require.NoError(test, err)
	sqlDB.SetMaxOpenConns(1)
	test.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(test, AutoMigrate(db))
	return New(db)
}

func newTestService(test *testing.T, store *Store) *commission.Service {
	test.Helper()
	// Each reading advances by a second so audit entries order deterministically.
	var ticks time.Duration
	clock := func() time.Time {
		ticks += time.Second
		return storeNow.Add(ticks)
	}
	service, err := commission.NewService(store, clock)
	require.NoError(test, err)
	return service
}

func registerAgent(test *testing.T, service *commission.Service, rawID string) commission.AgentID {
	test.Helper()
	agentID, err := commission.NewAgentID(rawID)
	require.NoError(test, err)
	_, err = service.RegisterAgent(context.Background(), commission.SystemActor, commission.Agent{
		AgentID:    agentID,
		FullName:   "Agent " + rawID,
		CouponCode: "CODE-" + rawID,
		Phone:      "050-1234567",
	})
	require.NoError(test, err)
	return agentID
}

func registerOrder(test *testing.T, service *commission.Service, rawID string, agentID commission.AgentID, amount int64, orderDate time.Time) commission.OrderID {
	test.Helper()
	orderID, err := commission.NewOrderID(rawID)
	require.NoError(test, err)
	_, err = service.RegisterOrder(context.Background(), commission.SystemActor, commission.OrderInput{
		OrderID:          orderID,
		OrderTotal:       commission.AmountCents(amount * 10),
		OrderType:        commission.OrderTypeStandard,
		OrderDate:        orderDate,
		AgentID:          agentID,
		CommissionAmount: commission.AmountCents(amount),
	})
	require.NoError(test, err)
	return orderID
}

// seedLegacyUnsettled simulates a row released by an older code path that never
// credited the agent.
func seedLegacyUnsettled(test *testing.T, store *Store, orderID commission.OrderID) {
	test.Helper()
	err := store.db.Model(&Order{}).
		Where("order_id = ?", orderID.String()).
		Updates(map[string]interface{}{"commission_status": "available", "commission_settled": false}).Error
	require.NoError(test, err)
}

func TestLifecycleAgainstSQLite(test *testing.T) {
	store := newTestStore(test)
	service := newTestService(test, store)
	ctx := context.Background()
	agentID := registerAgent(test, service, "agent-1")
	orderDate := storeNow.AddDate(0, 0, -5)
	orderID := registerOrder(test, service, "O1", agentID, 2500, orderDate)

	order, err := service.GetCommission(ctx, orderID)
	require.NoError(test, err)
	require.True(test, order.Commission.AvailableAt.Equal(orderDate.AddDate(0, 0, 30)))
	require.Equal(test, commission.StatusPending, order.Commission.Status)

	released, err := service.ReleaseSingle(ctx, commission.SystemActor, orderID)
	require.NoError(test, err)
	require.True(test, released.Commission.Settled)

	agent, err := service.AgentBalance(ctx, agentID)
	require.NoError(test, err)
	require.Equal(test, commission.AmountCents(2500), agent.CurrentBalance)

	_, err = service.Claim(ctx, commission.SystemActor, orderID)
	require.NoError(test, err)
	agent, err = service.AgentBalance(ctx, agentID)
	require.NoError(test, err)
	require.Equal(test, commission.AmountCents(0), agent.CurrentBalance)

	_, err = service.Cancel(ctx, commission.SystemActor, orderID, commission.Reason{})
	require.ErrorIs(test, err, commission.ErrInvalidState)
	var stateError *commission.StateError
	require.True(test, errors.As(err, &stateError))
	require.Equal(test, commission.StatusClaimed, stateError.Current.Status)

	entries, err := service.AuditTrail(ctx, orderID)
	require.NoError(test, err)
	require.Len(test, entries, 3)
	require.Equal(test, commission.OperationRelease, entries[1].Operation)
	require.Equal(test, commission.SignedAmountCents(2500), entries[1].AmountCents)
	require.Equal(test, "agent-1", entries[1].Metadata["agent_id"])
	require.Equal(test, commission.SignedAmountCents(-2500), entries[2].AmountCents)
}

func TestFixBalanceAgainstSQLite(test *testing.T) {
	store := newTestStore(test)
	service := newTestService(test, store)
	ctx := context.Background()
	agentID := registerAgent(test, service, "A")
	orderID := registerOrder(test, service, "O2", agentID, 5000, storeNow.AddDate(0, 0, -40))
	seedLegacyUnsettled(test, store, orderID)

	rows, err := service.ListUnsettled(ctx, 0)
	require.NoError(test, err)
	require.Len(test, rows, 1)
	require.Equal(test, "O2", rows[0].Order.OrderID.String())
	require.Equal(test, "Agent A", rows[0].Agent.FullName)

	reconciliation, err := service.FixBalance(ctx, commission.SystemActor, orderID)
	require.NoError(test, err)
	require.Equal(test, commission.AmountCents(5000), reconciliation.AgentBalance)

	again, err := service.FixBalance(ctx, commission.SystemActor, orderID)
	require.ErrorIs(test, err, commission.ErrAlreadySettled)
	require.True(test, again.AlreadySettled)
	require.Equal(test, commission.AmountCents(5000), again.AgentBalance)

	rows, err = service.ListUnsettled(ctx, 0)
	require.NoError(test, err)
	require.Empty(test, rows)
}

func TestResetAllAgainstSQLite(test *testing.T) {
	store := newTestStore(test)
	service := newTestService(test, store)
	ctx := context.Background()
	agents := []commission.AgentID{
		registerAgent(test, service, "a1"),
		registerAgent(test, service, "a2"),
		registerAgent(test, service, "a3"),
	}
	for index := 0; index < 5; index++ {
		orderID := registerOrder(test, service, fmt.Sprintf("o%d", index), agents[index%len(agents)], 100, storeNow.AddDate(0, 0, -index))
		if index%2 == 0 {
			_, err := service.ReleaseSingle(ctx, commission.SystemActor, orderID)
			require.NoError(test, err)
		}
	}
	noAgentID, err := commission.NewOrderID("walk-in")
	require.NoError(test, err)
	_, err = service.RegisterOrder(ctx, commission.SystemActor, commission.OrderInput{
		OrderID:   noAgentID,
		OrderType: commission.OrderTypeGroup,
		OrderDate: storeNow,
	})
	require.NoError(test, err)

	confirmation := commission.ResetConfirmationPhrase
	for attempt := 0; attempt < 2; attempt++ {
		result, err := service.ResetAllCommissions(ctx, commission.SystemActor, &confirmation)
		require.NoError(test, err)
		require.Equal(test, commission.ResetResult{Outcome: commission.ResetOutcomeCompleted, OrdersReset: 5, UsersReset: 3}, result)
	}

	report, err := service.QueryCommissions(ctx, commission.CommissionQuery{})
	require.NoError(test, err)
	require.EqualValues(test, 5, report.TotalCount)
	for _, row := range report.Rows {
		require.Equal(test, commission.StatusCancelled, row.Order.Commission.Status)
		require.False(test, row.Order.Commission.Settled)
	}
	for _, aggregate := range report.Aggregates {
		require.Zero(test, aggregate.CurrentBalance)
		require.Zero(test, aggregate.TotalEarned)
	}

	walkIn, err := store.GetOrder(ctx, noAgentID)
	require.NoError(test, err)
	require.False(test, walkIn.HasCommission())
}

func TestResetAllAuditTrailAgainstSQLite(test *testing.T) {
	store := newTestStore(test)
	service := newTestService(test, store)
	ctx := context.Background()
	agentID := registerAgent(test, service, "agent")
	claimed := registerOrder(test, service, "claimed", agentID, 400, storeNow.AddDate(0, 0, -1))
	pending := registerOrder(test, service, "pending", agentID, 100, storeNow.AddDate(0, 0, -1))
	_, err := service.ReleaseSingle(ctx, commission.SystemActor, claimed)
	require.NoError(test, err)
	_, err = service.Claim(ctx, commission.SystemActor, claimed)
	require.NoError(test, err)
	registerOrder(test, service, "available", agentID, 250, storeNow.AddDate(0, 0, -1))
	available, err := commission.NewOrderID("available")
	require.NoError(test, err)
	_, err = service.ReleaseSingle(ctx, commission.SystemActor, available)
	require.NoError(test, err)

	confirmation := commission.ResetConfirmationPhrase
	_, err = service.ResetAllCommissions(ctx, commission.SystemActor, &confirmation)
	require.NoError(test, err)

	testCases := []struct {
		orderID  commission.OrderID
		wantFrom commission.CommissionState
	}{
		{orderID: claimed, wantFrom: commission.CommissionState{Status: commission.StatusClaimed, Settled: true}},
		{orderID: pending, wantFrom: commission.CommissionState{Status: commission.StatusPending}},
		{orderID: available, wantFrom: commission.CommissionState{Status: commission.StatusAvailable, Settled: true}},
	}
	for _, testCase := range testCases {
		order, err := service.GetCommission(ctx, testCase.orderID)
		require.NoError(test, err)
		entries, err := service.AuditTrail(ctx, testCase.orderID)
		require.NoError(test, err)
		last := entries[len(entries)-1]
		require.Equal(test, commission.OperationReset, last.Operation, testCase.orderID.String())
		require.Equal(test, testCase.wantFrom, last.From, testCase.orderID.String())
		require.Equal(test, order.Commission.State(), last.To, testCase.orderID.String())
	}

	var system CommissionAudit
	require.NoError(test, store.db.Where("order_id IS NULL AND operation = ?", commission.OperationReset).First(&system).Error)
	require.EqualValues(test, -250, system.AmountCents)
	require.JSONEq(test, `{"orders_reset":3,"users_reset":1,"agent_balances":{"agent":250}}`, string(system.Metadata))
}

func TestQueryCommissionsAgainstSQLite(test *testing.T) {
	store := newTestStore(test)
	service := newTestService(test, store)
	ctx := context.Background()
	alice := registerAgent(test, service, "alice")
	bob := registerAgent(test, service, "bob")
	pending := registerOrder(test, service, "q1", alice, 100, storeNow.AddDate(0, 0, -31))
	released := registerOrder(test, service, "q2", alice, 200, storeNow.AddDate(0, 0, -2))
	unsettled := registerOrder(test, service, "q3", alice, 300, storeNow.AddDate(0, 0, -3))
	registerOrder(test, service, "q4", bob, 400, storeNow.AddDate(0, 0, -1))
	_, err := service.ReleaseSingle(ctx, commission.SystemActor, released)
	require.NoError(test, err)
	seedLegacyUnsettled(test, store, unsettled)

	report, err := service.QueryCommissions(ctx, commission.CommissionQuery{
		Filter: commission.CommissionFilter{AgentID: alice},
		Page:   commission.Page{Number: 1, Size: 2},
	})
	require.NoError(test, err)
	require.EqualValues(test, 3, report.TotalCount)
	require.Len(test, report.Rows, 2)
	require.Equal(test, "q2", report.Rows[0].Order.OrderID.String())
	require.Equal(test, "q3", report.Rows[1].Order.OrderID.String())
	require.Len(test, report.Aggregates, 1)
	require.Equal(test, commission.AgentAggregate{
		Agent:                  report.Aggregates[0].Agent,
		OrdersCount:            3,
		PendingAmount:          100,
		AvailableForWithdrawal: 200,
		UnsettledAmount:        300,
		TotalEarned:            600,
		CurrentBalance:         200,
	}, report.Aggregates[0])

	lastPage, err := service.QueryCommissions(ctx, commission.CommissionQuery{
		Filter: commission.CommissionFilter{AgentID: alice},
		Page:   commission.Page{Number: 2, Size: 2},
	})
	require.NoError(test, err)
	require.Len(test, lastPage.Rows, 1)
	require.Equal(test, pending, lastPage.Rows[0].Order.OrderID)
	require.True(test, lastPage.Rows[0].AutoReleaseEligible)

	byStatus, err := service.QueryCommissions(ctx, commission.CommissionQuery{
		Filter: commission.CommissionFilter{Status: commission.StatusPending, From: storeNow.AddDate(0, 0, -10)},
	})
	require.NoError(test, err)
	require.EqualValues(test, 1, byStatus.TotalCount)
	require.Equal(test, "q4", byStatus.Rows[0].Order.OrderID.String())
	require.Equal(test, bob, byStatus.Rows[0].Agent.AgentID)
}

func TestReleaseEligibleAgainstSQLite(test *testing.T) {
	store := newTestStore(test)
	service := newTestService(test, store)
	ctx := context.Background()
	agentID := registerAgent(test, service, "agent")
	due := registerOrder(test, service, "due", agentID, 100, storeNow.AddDate(0, 0, -31))
	registerOrder(test, service, "fresh", agentID, 100, storeNow.AddDate(0, 0, -1))
	moved := registerOrder(test, service, "moved", agentID, 100, storeNow.AddDate(0, 0, -1))
	_, err := service.UpdateReleaseDate(ctx, commission.SystemActor, moved, storeNow.Add(-time.Hour))
	require.NoError(test, err)

	result, err := service.ReleaseEligible(ctx, commission.SystemActor, 10)
	require.NoError(test, err)
	require.Equal(test, []commission.OrderID{due, moved}, result.Released)
	require.Empty(test, result.Failed)

	agent, err := service.AgentBalance(ctx, agentID)
	require.NoError(test, err)
	require.Equal(test, commission.AmountCents(200), agent.CurrentBalance)
}

func TestListReleaseEligibleExcludesAttemptedOrders(test *testing.T) {
	store := newTestStore(test)
	service := newTestService(test, store)
	ctx := context.Background()
	agentID := registerAgent(test, service, "agent")
	first := registerOrder(test, service, "first", agentID, 100, storeNow.AddDate(0, 0, -40))
	second := registerOrder(test, service, "second", agentID, 100, storeNow.AddDate(0, 0, -35))
	third := registerOrder(test, service, "third", agentID, 100, storeNow.AddDate(0, 0, -31))

	orderIDs, err := store.ListReleaseEligible(ctx, storeNow, nil, 2)
	require.NoError(test, err)
	require.Equal(test, []commission.OrderID{first, second}, orderIDs)

	orderIDs, err = store.ListReleaseEligible(ctx, storeNow, []commission.OrderID{first, second}, 2)
	require.NoError(test, err)
	require.Equal(test, []commission.OrderID{third}, orderIDs)
}

func TestStoreErrors(test *testing.T) {
	store := newTestStore(test)
	service := newTestService(test, store)
	ctx := context.Background()
	agentID := registerAgent(test, service, "dup")
	orderID := registerOrder(test, service, "dup-order", agentID, 100, storeNow)

	_, err := service.RegisterAgent(ctx, commission.SystemActor, commission.Agent{AgentID: agentID, FullName: "again"})
	require.ErrorIs(test, err, commission.ErrDuplicateAgent)

	_, err = service.RegisterOrder(ctx, commission.SystemActor, commission.OrderInput{
		OrderID:   orderID,
		OrderType: commission.OrderTypeStandard,
		OrderDate: storeNow,
	})
	require.ErrorIs(test, err, commission.ErrDuplicateOrder)

	missing, err := commission.NewOrderID("missing")
	require.NoError(test, err)
	_, err = store.GetOrder(ctx, missing)
	require.ErrorIs(test, err, commission.ErrOrderNotFound)
	var operationError commission.OperationError
	require.True(test, errors.As(err, &operationError))
	require.Equal(test, "store", operationError.Operation())

	_, err = store.AdjustAgentBalance(ctx, agentID, -1)
	require.ErrorIs(test, err, commission.ErrInsufficientBalance)

	err = store.UpdateCommissionState(ctx, orderID,
		commission.CommissionState{Status: commission.StatusAvailable, Settled: true},
		commission.CommissionState{Status: commission.StatusClaimed, Settled: true})
	require.ErrorIs(test, err, commission.ErrCommissionStateChanged)
}
