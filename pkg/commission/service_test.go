package commission

import (
	"context"
	"errors"
	"testing"
	"time"
)

const (
	adminActorValue = "admin-1"
	agentIDValue    = "agent-1"
	orderIDValue    = "order-1"
)

func TestRegisterOrderDefaultsReleaseWindow(test *testing.T) {
	test.Parallel()
	orderDate := time.Date(2025, time.January, 10, 9, 30, 0, 0, time.UTC)
	testCases := []struct {
		name      string
		orderType OrderType
		want      time.Time
	}{
		{name: "standard order", orderType: OrderTypeStandard, want: orderDate.AddDate(0, 0, 30)},
		{name: "group order", orderType: OrderTypeGroup, want: orderDate.AddDate(0, 0, 100)},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			agentID := store.seedAgent(test, agentIDValue, 0)
			service := mustNewService(test, store)

			order, err := service.RegisterOrder(context.Background(), mustActor(test, adminActorValue), OrderInput{
				OrderID:          mustOrderID(test, orderIDValue),
				OrderTotal:       100000,
				OrderType:        testCase.orderType,
				OrderDate:        orderDate,
				AgentID:          agentID,
				CommissionAmount: 5000,
			})
			if err != nil {
				test.Fatalf("register order: %v", err)
			}
			if !order.Commission.AvailableAt.Equal(testCase.want) {
				test.Fatalf("expected available at %s, got %s", testCase.want, order.Commission.AvailableAt)
			}
			if order.Commission.Status != StatusPending || order.Commission.Settled {
				test.Fatalf("expected pending unsettled commission, got %+v", order.Commission)
			}
		})
	}
}

func TestRegisterOrderWithoutAgentHasNoCommission(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)
	orderID := mustOrderID(test, orderIDValue)

	order, err := service.RegisterOrder(context.Background(), mustActor(test, adminActorValue), OrderInput{
		OrderID:   orderID,
		OrderType: OrderTypeStandard,
		OrderDate: fixedNow,
	})
	if err != nil {
		test.Fatalf("register order: %v", err)
	}
	if order.HasCommission() {
		test.Fatalf("expected order without commission")
	}
	_, err = service.ReleaseSingle(context.Background(), mustActor(test, adminActorValue), orderID)
	if !errors.Is(err, ErrCommissionNotFound) || !errors.Is(err, ErrNotFound) {
		test.Fatalf("expected commission not found, got %v", err)
	}
}

func TestRegisterOrderRequiresKnownAgent(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	service := mustNewService(test, store)

	_, err := service.RegisterOrder(context.Background(), mustActor(test, adminActorValue), OrderInput{
		OrderID:   mustOrderID(test, orderIDValue),
		OrderType: OrderTypeStandard,
		OrderDate: fixedNow,
		AgentID:   mustAgentID(test, "ghost"),
	})
	if !errors.Is(err, ErrAgentNotFound) {
		test.Fatalf("expected agent not found, got %v", err)
	}
	if len(store.orders) != 0 || len(store.audit) != 0 {
		test.Fatalf("expected no writes after failure")
	}
}

func TestRegisterOrderValidation(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name    string
		input   OrderInput
		wantErr error
	}{
		{name: "missing order id", input: OrderInput{OrderType: OrderTypeStandard, OrderDate: fixedNow}, wantErr: ErrInvalidOrderID},
		{name: "unknown order type", input: OrderInput{OrderID: OrderID{value: "o"}, OrderType: "vip", OrderDate: fixedNow}, wantErr: ErrInvalidOrderType},
		{name: "missing order date", input: OrderInput{OrderID: OrderID{value: "o"}, OrderType: OrderTypeGroup}, wantErr: ErrInvalidOrderDate},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			service := mustNewService(test, newStubStore(test))
			_, err := service.RegisterOrder(context.Background(), mustActor(test, adminActorValue), testCase.input)
			if !errors.Is(err, testCase.wantErr) || !errors.Is(err, ErrValidation) {
				test.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
		})
	}
}

// A standard order released manually before its release date.
func TestReleaseSingleEarlySettlesAndCredits(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	agentID := store.seedAgent(test, agentIDValue, 0)
	service := mustNewService(test, store)
	orderDate := fixedNow.AddDate(0, 0, -5)
	orderID := mustOrderID(test, "O1")

	registered, err := service.RegisterOrder(context.Background(), mustActor(test, adminActorValue), OrderInput{
		OrderID:          orderID,
		OrderType:        OrderTypeStandard,
		OrderDate:        orderDate,
		AgentID:          agentID,
		CommissionAmount: 2500,
	})
	if err != nil {
		test.Fatalf("register order: %v", err)
	}
	if !registered.Commission.AvailableAt.Equal(orderDate.AddDate(0, 0, 30)) {
		test.Fatalf("unexpected available at %s", registered.Commission.AvailableAt)
	}
	if AutoReleaseEligible(*registered.Commission, fixedNow) {
		test.Fatalf("expected commission not yet eligible")
	}

	released, err := service.ReleaseSingle(context.Background(), mustActor(test, adminActorValue), orderID)
	if err != nil {
		test.Fatalf("release: %v", err)
	}
	if released.Commission.Status != StatusAvailable || !released.Commission.Settled {
		test.Fatalf("expected available settled commission, got %+v", released.Commission)
	}
	if balance := store.mustBalance(test, agentID); balance != 2500 {
		test.Fatalf("expected balance 2500, got %d", balance)
	}
}

// Edges outside the lifecycle graph fail and leave the record unchanged.
func TestIllegalTransitionsLeaveStateUnchanged(test *testing.T) {
	test.Parallel()
	type operation func(service *Service, orderID OrderID) error
	release := func(service *Service, orderID OrderID) error {
		_, err := service.ReleaseSingle(context.Background(), SystemActor, orderID)
		return err
	}
	cancel := func(service *Service, orderID OrderID) error {
		_, err := service.Cancel(context.Background(), SystemActor, orderID, Reason{})
		return err
	}
	claim := func(service *Service, orderID OrderID) error {
		_, err := service.Claim(context.Background(), SystemActor, orderID)
		return err
	}
	testCases := []struct {
		name    string
		status  CommissionStatus
		settled bool
		apply   operation
	}{
		{name: "cancel claimed", status: StatusClaimed, settled: true, apply: cancel},
		{name: "cancel cancelled", status: StatusCancelled, apply: cancel},
		{name: "release available", status: StatusAvailable, settled: true, apply: release},
		{name: "release claimed", status: StatusClaimed, settled: true, apply: release},
		{name: "release cancelled", status: StatusCancelled, apply: release},
		{name: "claim pending", status: StatusPending, apply: claim},
		{name: "claim claimed", status: StatusClaimed, settled: true, apply: claim},
		{name: "claim cancelled", status: StatusCancelled, apply: claim},
		{name: "claim unsettled available", status: StatusAvailable, apply: claim},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			agentID := store.seedAgent(test, agentIDValue, 700)
			orderID := store.seedOrder(test, "O3", agentIDValue, 500, testCase.status, testCase.settled, fixedNow)
			service := mustNewService(test, store)

			err := testCase.apply(service, orderID)
			if !errors.Is(err, ErrInvalidState) {
				test.Fatalf("expected invalid state, got %v", err)
			}
			var stateError *StateError
			if !errors.As(err, &stateError) {
				test.Fatalf("expected StateError, got %T", err)
			}
			if stateError.Current.Status != testCase.status || stateError.OrderID != orderID {
				test.Fatalf("expected current %s for %s, got %+v", testCase.status, orderID.String(), stateError)
			}
			order := store.mustOrder(test, orderID)
			if order.Commission.Status != testCase.status || order.Commission.Settled != testCase.settled {
				test.Fatalf("expected unchanged commission, got %+v", order.Commission)
			}
			if balance := store.mustBalance(test, agentID); balance != 700 {
				test.Fatalf("expected unchanged balance, got %d", balance)
			}
			if len(store.audit) != 0 {
				test.Fatalf("expected no audit entries, got %d", len(store.audit))
			}
		})
	}
}

// Balance stays within [0, sum of settled available amounts] along a legal path.
func TestLifecycleKeepsSettlementAndBalanceInvariants(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	agentID := store.seedAgent(test, agentIDValue, 0)
	service := mustNewService(test, store)
	actor := mustActor(test, adminActorValue)
	first := store.seedOrder(test, "A", agentIDValue, 1000, StatusPending, false, fixedNow)
	second := store.seedOrder(test, "B", agentIDValue, 300, StatusPending, false, fixedNow)
	third := store.seedOrder(test, "C", agentIDValue, 200, StatusPending, false, fixedNow)

	steps := []func() error{
		func() error { _, err := service.ReleaseSingle(context.Background(), actor, first); return err },
		func() error { _, err := service.ReleaseSingle(context.Background(), actor, second); return err },
		func() error { _, err := service.Claim(context.Background(), actor, first); return err },
		func() error { _, err := service.Cancel(context.Background(), actor, second, Reason{}); return err },
		func() error { _, err := service.Cancel(context.Background(), actor, third, Reason{}); return err },
	}
	expectedBalances := []AmountCents{1000, 1300, 300, 0, 0}
	for index, step := range steps {
		if err := step(); err != nil {
			test.Fatalf("step %d: %v", index, err)
		}
		assertInvariants(test, store, agentID)
		if balance := store.mustBalance(test, agentID); balance != expectedBalances[index] {
			test.Fatalf("step %d: expected balance %d, got %d", index, expectedBalances[index], balance)
		}
	}
	if status := store.mustOrder(test, first).Commission.Status; status != StatusClaimed {
		test.Fatalf("expected claimed, got %s", status)
	}
	if status := store.mustOrder(test, third).Commission.Status; status != StatusCancelled {
		test.Fatalf("expected cancelled, got %s", status)
	}
}

func TestCancelDebitFailureRollsBack(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	agentID := store.seedAgent(test, agentIDValue, 100)
	orderID := store.seedOrder(test, orderIDValue, agentIDValue, 400, StatusAvailable, true, fixedNow)
	service := mustNewService(test, store)

	_, err := service.Cancel(context.Background(), SystemActor, orderID, mustReason(test, "refund"))
	if !errors.Is(err, ErrInsufficientBalance) {
		test.Fatalf("expected insufficient balance, got %v", err)
	}
	order := store.mustOrder(test, orderID)
	if order.Commission.Status != StatusAvailable || !order.Commission.Settled {
		test.Fatalf("expected rollback, got %+v", order.Commission)
	}
	if balance := store.mustBalance(test, agentID); balance != 100 {
		test.Fatalf("expected balance 100, got %d", balance)
	}
}

func TestTransitionAuditFailureRollsBack(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	agentID := store.seedAgent(test, agentIDValue, 0)
	orderID := store.seedOrder(test, orderIDValue, agentIDValue, 400, StatusPending, false, fixedNow)
	store.insertAuditError = errStoreFailure
	service := mustNewService(test, store)

	_, err := service.ReleaseSingle(context.Background(), SystemActor, orderID)
	if !errors.Is(err, errStoreFailure) {
		test.Fatalf("expected store failure, got %v", err)
	}
	if order := store.mustOrder(test, orderID); order.Commission.Status != StatusPending || order.Commission.Settled {
		test.Fatalf("expected pending unsettled after rollback, got %+v", order.Commission)
	}
	if balance := store.mustBalance(test, agentID); balance != 0 {
		test.Fatalf("expected balance 0, got %d", balance)
	}
}

func TestCancelRecordsReasonInAudit(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.seedAgent(test, agentIDValue, 0)
	orderID := store.seedOrder(test, orderIDValue, agentIDValue, 400, StatusPending, false, fixedNow)
	service := mustNewService(test, store, WithIDGenerator(func() string { return "audit-1" }))
	actor := mustActor(test, adminActorValue)

	if _, err := service.Cancel(context.Background(), actor, orderID, mustReason(test, "order refunded")); err != nil {
		test.Fatalf("cancel: %v", err)
	}
	entries, err := service.AuditTrail(context.Background(), orderID)
	if err != nil {
		test.Fatalf("audit trail: %v", err)
	}
	if len(entries) != 1 {
		test.Fatalf("expected one audit entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.EntryID != "audit-1" || entry.Operation != OperationCancel || entry.Actor != actor || entry.Reason != "order refunded" {
		test.Fatalf("unexpected audit entry: %+v", entry)
	}
	if entry.From.Status != StatusPending || entry.To.Status != StatusCancelled || entry.AmountCents != 0 {
		test.Fatalf("unexpected audit transition: %+v", entry)
	}
	if !entry.CreatedAt.Equal(fixedNow) {
		test.Fatalf("expected created at %s, got %s", fixedNow, entry.CreatedAt)
	}
}

func TestUpdateReleaseDate(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.seedAgent(test, agentIDValue, 0)
	orderID := store.seedOrder(test, orderIDValue, agentIDValue, 400, StatusPending, false, fixedNow.AddDate(0, 0, 20))
	service := mustNewService(test, store)
	pastDate := fixedNow.AddDate(0, 0, -1)

	updated, err := service.UpdateReleaseDate(context.Background(), SystemActor, orderID, pastDate)
	if err != nil {
		test.Fatalf("update release date: %v", err)
	}
	if !updated.Commission.AvailableAt.Equal(pastDate) || updated.Commission.Status != StatusPending {
		test.Fatalf("expected pending commission with new date, got %+v", updated.Commission)
	}
	if !AutoReleaseEligible(*updated.Commission, fixedNow) {
		test.Fatalf("expected commission eligible after moving date into the past")
	}
	if len(store.audit) != 1 || store.audit[0].Metadata["available_at"] != pastDate.Format(time.RFC3339) {
		test.Fatalf("expected audit entry with new date, got %+v", store.audit)
	}
}

func TestUpdateReleaseDateFailures(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name    string
		status  CommissionStatus
		orderID string
		date    time.Time
		wantErr error
	}{
		{name: "zero date", status: StatusPending, orderID: orderIDValue, date: time.Time{}, wantErr: ErrInvalidReleaseDate},
		{name: "unknown order", status: StatusPending, orderID: "missing", date: fixedNow, wantErr: ErrOrderNotFound},
		{name: "not pending", status: StatusAvailable, orderID: orderIDValue, date: fixedNow, wantErr: ErrInvalidState},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			store.seedAgent(test, agentIDValue, 0)
			store.seedOrder(test, orderIDValue, agentIDValue, 400, testCase.status, testCase.status == StatusAvailable, fixedNow.AddDate(0, 0, 3))
			service := mustNewService(test, store)

			_, err := service.UpdateReleaseDate(context.Background(), SystemActor, mustOrderID(test, testCase.orderID), testCase.date)
			if !errors.Is(err, testCase.wantErr) {
				test.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
			if order := store.mustOrder(test, mustOrderID(test, orderIDValue)); !order.Commission.AvailableAt.Equal(fixedNow.AddDate(0, 0, 3)) {
				test.Fatalf("expected unchanged release date, got %s", order.Commission.AvailableAt)
			}
		})
	}
}

func TestAutoReleaseEligible(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name       string
		commission Commission
		want       bool
	}{
		{name: "pending past date", commission: Commission{Status: StatusPending, AvailableAt: fixedNow.Add(-time.Second)}, want: true},
		{name: "pending exact date", commission: Commission{Status: StatusPending, AvailableAt: fixedNow}, want: true},
		{name: "pending future date", commission: Commission{Status: StatusPending, AvailableAt: fixedNow.Add(time.Second)}, want: false},
		{name: "available past date", commission: Commission{Status: StatusAvailable, AvailableAt: fixedNow.Add(-time.Hour)}, want: false},
		{name: "cancelled past date", commission: Commission{Status: StatusCancelled, AvailableAt: fixedNow.Add(-time.Hour)}, want: false},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			if got := AutoReleaseEligible(testCase.commission, fixedNow); got != testCase.want {
				test.Fatalf("expected %t, got %t", testCase.want, got)
			}
		})
	}
}

func TestReleaseEligibleSweep(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	agentID := store.seedAgent(test, agentIDValue, 0)
	due := store.seedOrder(test, "due", agentIDValue, 100, StatusPending, false, fixedNow.Add(-time.Hour))
	notDue := store.seedOrder(test, "not-due", agentIDValue, 200, StatusPending, false, fixedNow.Add(time.Hour))
	store.seedOrder(test, "released", agentIDValue, 400, StatusAvailable, true, fixedNow.Add(-time.Hour))
	service := mustNewService(test, store)

	result, err := service.ReleaseEligible(context.Background(), SystemActor, 10)
	if err != nil {
		test.Fatalf("sweep: %v", err)
	}
	if len(result.Released) != 1 || result.Released[0] != due {
		test.Fatalf("expected only %s released, got %+v", due.String(), result)
	}
	if store.mustOrder(test, notDue).Commission.Status != StatusPending {
		test.Fatalf("expected not-due order to stay pending")
	}
	if balance := store.mustBalance(test, agentID); balance != 100 {
		test.Fatalf("expected balance 100, got %d", balance)
	}
	if store.audit[0].Actor != SystemActor {
		test.Fatalf("expected system actor in audit, got %s", store.audit[0].Actor.String())
	}
}

func TestReleaseEligibleReportsFailures(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.seedOrder(test, "orphan", "missing-agent", 100, StatusPending, false, fixedNow.Add(-time.Hour))
	service := mustNewService(test, store)

	result, err := service.ReleaseEligible(context.Background(), SystemActor, 0)
	if err != nil {
		test.Fatalf("sweep: %v", err)
	}
	if len(result.Failed) != 1 || !errors.Is(result.Failed[0].Err, ErrAgentNotFound) {
		test.Fatalf("expected one agent-not-found failure, got %+v", result)
	}
}

// Orders that keep failing must not starve later eligible commissions.
func TestReleaseEligiblePagesPastFailures(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	agentID := store.seedAgent(test, agentIDValue, 0)
	store.seedOrder(test, "orphan-1", "missing-agent", 100, StatusPending, false, fixedNow.Add(-3*time.Hour))
	store.seedOrder(test, "orphan-2", "missing-agent", 100, StatusPending, false, fixedNow.Add(-3*time.Hour))
	first := store.seedOrder(test, "due-1", agentIDValue, 250, StatusPending, false, fixedNow.Add(-2*time.Hour))
	second := store.seedOrder(test, "due-2", agentIDValue, 350, StatusPending, false, fixedNow.Add(-time.Hour))
	service := mustNewService(test, store)

	for pass := 0; pass < 2; pass++ {
		result, err := service.ReleaseEligible(context.Background(), SystemActor, 2)
		if err != nil {
			test.Fatalf("pass %d: sweep: %v", pass, err)
		}
		if len(result.Failed) != 2 {
			test.Fatalf("pass %d: expected both orphans to fail, got %+v", pass, result.Failed)
		}
		if pass == 0 && (len(result.Released) != 2 || result.Released[0] != first || result.Released[1] != second) {
			test.Fatalf("expected %s and %s released behind the failures, got %+v", first.String(), second.String(), result.Released)
		}
		if pass == 1 && len(result.Released) != 0 {
			test.Fatalf("expected nothing left to release, got %+v", result.Released)
		}
	}
	if balance := store.mustBalance(test, agentID); balance != 600 {
		test.Fatalf("expected balance 600, got %d", balance)
	}
}

// A pass stops once limit orders were released.
func TestReleaseEligibleStopsAtLimit(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	store.seedAgent(test, agentIDValue, 0)
	for _, orderID := range []string{"due-1", "due-2", "due-3"} {
		store.seedOrder(test, orderID, agentIDValue, 100, StatusPending, false, fixedNow.Add(-time.Hour))
	}
	service := mustNewService(test, store)

	result, err := service.ReleaseEligible(context.Background(), SystemActor, 2)
	if err != nil {
		test.Fatalf("sweep: %v", err)
	}
	if len(result.Released) != 2 || store.releaseEligibleCalls != 1 {
		test.Fatalf("expected two releases from one listing, got %+v after %d calls", result, store.releaseEligibleCalls)
	}
	if store.mustOrder(test, mustOrderID(test, "due-3")).Commission.Status != StatusPending {
		test.Fatalf("expected the third order to wait for the next pass")
	}
}

func TestNewServiceRequiresDependencies(test *testing.T) {
	test.Parallel()
	if _, err := NewService(nil, time.Now); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected invalid config for nil store, got %v", err)
	}
	if _, err := NewService(newStubStore(test), nil); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected invalid config for nil clock, got %v", err)
	}
}

func TestOperationsReturnStoreErrors(test *testing.T) {
	test.Parallel()
	store := newFailingStore(test, errStoreFailure)
	service := mustNewService(test, store)
	orderID := mustOrderID(test, orderIDValue)
	confirmation := ResetConfirmationPhrase

	operations := map[string]func() error{
		"release": func() error { _, err := service.ReleaseSingle(context.Background(), SystemActor, orderID); return err },
		"cancel":  func() error { _, err := service.Cancel(context.Background(), SystemActor, orderID, Reason{}); return err },
		"claim":   func() error { _, err := service.Claim(context.Background(), SystemActor, orderID); return err },
		"fix":     func() error { _, err := service.FixBalance(context.Background(), SystemActor, orderID); return err },
		"date": func() error {
			_, err := service.UpdateReleaseDate(context.Background(), SystemActor, orderID, fixedNow)
			return err
		},
		"reset": func() error {
			_, err := service.ResetAllCommissions(context.Background(), SystemActor, &confirmation)
			return err
		},
	}
	for name, operation := range operations {
		if err := operation(); !errors.Is(err, errStoreFailure) {
			test.Fatalf("%s: expected store failure, got %v", name, err)
		}
	}
}

func assertInvariants(test *testing.T, store *stubStore, agentID AgentID) {
	test.Helper()
	var settledAvailable int64
	for _, order := range store.orders {
		if !order.HasCommission() || order.AgentID != agentID {
			continue
		}
		if order.Commission.Inconsistent() {
			test.Fatalf("order %s violates settlement invariant: %+v", order.OrderID.String(), order.Commission)
		}
		if order.Commission.Status == StatusAvailable && order.Commission.Settled {
			settledAvailable += order.Commission.Amount.Int64()
		}
	}
	balance := store.mustBalance(test, agentID).Int64()
	if balance < 0 || balance > settledAvailable {
		test.Fatalf("balance %d outside [0, %d]", balance, settledAvailable)
	}
}
