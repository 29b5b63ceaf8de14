package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/commissions/pkg/commission"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintAgentsPrimary = "agents_pkey"
	constraintOrdersPrimary = "orders_pkey"
	defaultMetadataJSON     = "{}"
	dialectPostgres         = "postgres"
	pgUniqueViolationCode   = "23505"
	sqliteConstraintCode    = 19
	errorOperationStore     = "store"
	errorSubjectAgent       = "agent"
	errorSubjectAudit       = "audit"
	errorSubjectBalance     = "balance"
	errorSubjectCommission  = "commission"
	errorSubjectOrder       = "order"
	errorSubjectReset       = "reset"
	errorCodeAdjust         = "adjust"
	errorCodeCount          = "count"
	errorCodeCreate         = "create"
	errorCodeDuplicate      = "duplicate"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeSummarize      = "summarize"
	errorCodeUpdateDate     = "update_release_date"
	errorCodeUpdateState    = "update_state"
)

const commissionRowSelect = "orders.*, agents.full_name AS agent_full_name, agents.coupon_code AS agent_coupon_code, agents.phone AS agent_phone"

const agentAggregateSelect = `agents.agent_id AS agent_id,
	agents.full_name AS full_name,
	agents.coupon_code AS coupon_code,
	agents.phone AS phone,
	agents.current_balance_cents AS current_balance_cents,
	count(*) AS orders_count,
	coalesce(sum(case when orders.commission_status = ? then orders.commission_amount_cents else 0 end), 0) AS pending_cents,
	coalesce(sum(case when orders.commission_status = ? and orders.commission_settled = ? then orders.commission_amount_cents else 0 end), 0) AS available_for_withdrawal_cents,
	coalesce(sum(case when orders.commission_status = ? and orders.commission_settled = ? then orders.commission_amount_cents else 0 end), 0) AS unsettled_cents,
	coalesce(sum(case when orders.commission_status = ? then orders.commission_amount_cents else 0 end), 0) AS claimed_cents,
	coalesce(sum(case when orders.commission_status <> ? then orders.commission_amount_cents else 0 end), 0) AS total_earned_cents`

// Store implements commission.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore commission.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) CreateAgent(ctx context.Context, agent commission.Agent) error {
	model := Agent{
		AgentID:             agent.AgentID.String(),
		FullName:            agent.FullName,
		CouponCode:          agent.CouponCode,
		Phone:               agent.Phone,
		CurrentBalanceCents: agent.CurrentBalance.Int64(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintAgentsPrimary) {
		return wrapStoreError(errorSubjectAgent, errorCodeDuplicate, commission.ErrDuplicateAgent)
	}
	if err != nil {
		return wrapStoreError(errorSubjectAgent, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetAgent(ctx context.Context, agentID commission.AgentID) (commission.Agent, error) {
	var model Agent
	err := store.db.WithContext(ctx).Where("agent_id = ?", agentID.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return commission.Agent{}, wrapStoreError(errorSubjectAgent, errorCodeGet, commission.ErrAgentNotFound)
		}
		return commission.Agent{}, wrapStoreError(errorSubjectAgent, errorCodeGet, err)
	}
	agent, err := mapAgent(model)
	if err != nil {
		return commission.Agent{}, wrapStoreError(errorSubjectAgent, errorCodeInvalid, err)
	}
	return agent, nil
}

// AdjustAgentBalance applies delta with a single guarded update so the balance
// never goes negative, even without a prior row lock.
func (store *Store) AdjustAgentBalance(ctx context.Context, agentID commission.AgentID, delta commission.SignedAmountCents) (commission.AmountCents, error) {
	result := store.db.WithContext(ctx).
		Model(&Agent{}).
		Where("agent_id = ? AND current_balance_cents + ? >= 0", agentID.String(), delta.Int64()).
		Update("current_balance_cents", gorm.Expr("current_balance_cents + ?", delta.Int64()))
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeAdjust, result.Error)
	}
	if result.RowsAffected == 0 {
		if _, err := store.GetAgent(ctx, agentID); err != nil {
			return 0, err
		}
		return 0, wrapStoreError(errorSubjectBalance, errorCodeAdjust, commission.ErrInsufficientBalance)
	}
	agent, err := store.GetAgent(ctx, agentID)
	if err != nil {
		return 0, err
	}
	return agent.CurrentBalance, nil
}

func (store *Store) CreateOrder(ctx context.Context, order commission.Order) error {
	model := Order{
		OrderID:         order.OrderID.String(),
		OrderTotalCents: order.OrderTotal.Int64(),
		OrderType:       order.OrderType.String(),
		OrderDate:       order.OrderDate.UTC(),
		CustomerName:    order.CustomerName,
		CustomerPhone:   order.CustomerPhone,
	}
	if order.HasCommission() {
		agentID := order.AgentID.String()
		status := order.Commission.Status.String()
		availableAt := order.Commission.AvailableAt.UTC()
		model.AgentID = &agentID
		model.CommissionAmountCents = order.Commission.Amount.Int64()
		model.CommissionStatus = &status
		model.CommissionAvailableAt = &availableAt
		model.CommissionSettled = order.Commission.Settled
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err, constraintOrdersPrimary) {
		return wrapStoreError(errorSubjectOrder, errorCodeDuplicate, commission.ErrDuplicateOrder)
	}
	if err != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetOrder(ctx context.Context, orderID commission.OrderID) (commission.Order, error) {
	return store.getOrder(ctx, orderID, false)
}

// GetOrderForUpdate locks the order row until the surrounding transaction ends.
// SQLite serializes writers on its own and has no row locks.
func (store *Store) GetOrderForUpdate(ctx context.Context, orderID commission.OrderID) (commission.Order, error) {
	return store.getOrder(ctx, orderID, true)
}

func (store *Store) getOrder(ctx context.Context, orderID commission.OrderID, forUpdate bool) (commission.Order, error) {
	query := store.db.WithContext(ctx)
	if forUpdate && store.db.Dialector.Name() == dialectPostgres {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var model Order
	err := query.Where("order_id = ?", orderID.String()).Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return commission.Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, commission.ErrOrderNotFound)
		}
		return commission.Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, err)
	}
	order, err := mapOrder(model)
	if err != nil {
		return commission.Order{}, wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
	}
	return order, nil
}

// UpdateCommissionState moves the commission only if it is still in the observed
// state; otherwise it reports ErrCommissionStateChanged.
func (store *Store) UpdateCommissionState(ctx context.Context, orderID commission.OrderID, from commission.CommissionState, to commission.CommissionState) error {
	result := store.db.WithContext(ctx).
		Model(&Order{}).
		Where("order_id = ? AND commission_status = ? AND commission_settled = ?", orderID.String(), from.Status.String(), from.Settled).
		Updates(map[string]interface{}{
			"commission_status":  to.Status.String(),
			"commission_settled": to.Settled,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectCommission, errorCodeUpdateState, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectCommission, errorCodeUpdateState, commission.ErrCommissionStateChanged)
	}
	return nil
}

func (store *Store) UpdateReleaseDate(ctx context.Context, orderID commission.OrderID, expected commission.CommissionStatus, availableAt time.Time) error {
	result := store.db.WithContext(ctx).
		Model(&Order{}).
		Where("order_id = ? AND commission_status = ?", orderID.String(), expected.String()).
		Update("commission_available_at", availableAt.UTC())
	if result.Error != nil {
		return wrapStoreError(errorSubjectCommission, errorCodeUpdateDate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectCommission, errorCodeUpdateDate, commission.ErrCommissionStateChanged)
	}
	return nil
}

// ResetAll locks and reads every commission-bearing order and every agent, then
// cancels the commissions and zeroes the balances. The snapshot holds the rows as
// they were before the update.
func (store *Store) ResetAll(ctx context.Context) (commission.ResetSnapshot, error) {
	var orderModels []Order
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("agent_id IS NOT NULL").
		Order("order_id ASC").
		Find(&orderModels).Error
	if err != nil {
		return commission.ResetSnapshot{}, wrapStoreError(errorSubjectReset, errorSubjectOrder, err)
	}
	var agentModels []Agent
	err = store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Order("agent_id ASC").
		Find(&agentModels).Error
	if err != nil {
		return commission.ResetSnapshot{}, wrapStoreError(errorSubjectReset, errorSubjectAgent, err)
	}

	snapshot := commission.ResetSnapshot{
		Orders: make([]commission.Order, 0, len(orderModels)),
		Agents: make([]commission.Agent, 0, len(agentModels)),
	}
	for _, model := range orderModels {
		order, err := mapOrder(model)
		if err != nil {
			return commission.ResetSnapshot{}, wrapStoreError(errorSubjectReset, errorCodeInvalid, err)
		}
		snapshot.Orders = append(snapshot.Orders, order)
	}
	for _, model := range agentModels {
		agent, err := mapAgent(model)
		if err != nil {
			return commission.ResetSnapshot{}, wrapStoreError(errorSubjectReset, errorCodeInvalid, err)
		}
		snapshot.Agents = append(snapshot.Agents, agent)
	}

	orders := store.db.WithContext(ctx).
		Model(&Order{}).
		Where("agent_id IS NOT NULL").
		Updates(map[string]interface{}{
			"commission_status":  commission.StatusCancelled.String(),
			"commission_settled": false,
		})
	if orders.Error != nil {
		return commission.ResetSnapshot{}, wrapStoreError(errorSubjectReset, errorSubjectOrder, orders.Error)
	}
	agents := store.db.WithContext(ctx).
		Model(&Agent{}).
		Where("1 = 1").
		Update("current_balance_cents", 0)
	if agents.Error != nil {
		return commission.ResetSnapshot{}, wrapStoreError(errorSubjectReset, errorSubjectAgent, agents.Error)
	}
	return snapshot, nil
}

func (store *Store) InsertAudit(ctx context.Context, entry commission.AuditEntry) error {
	metadata := datatypes.JSON([]byte(defaultMetadataJSON))
	if len(entry.Metadata) > 0 {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return wrapStoreError(errorSubjectAudit, errorCodeInvalid, err)
		}
		metadata = datatypes.JSON(encoded)
	}
	model := CommissionAudit{
		EntryID:     entry.EntryID,
		OrderID:     optionalString(entry.OrderID.String()),
		Operation:   entry.Operation,
		Actor:       entry.Actor.String(),
		FromStatus:  entry.From.Status.String(),
		FromSettled: entry.From.Settled,
		ToStatus:    entry.To.Status.String(),
		ToSettled:   entry.To.Settled,
		AmountCents: entry.AmountCents.Int64(),
		Reason:      entry.Reason,
		Metadata:    metadata,
		CreatedAt:   entry.CreatedAt.UTC(),
	}
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectAudit, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListAudit(ctx context.Context, orderID commission.OrderID) ([]commission.AuditEntry, error) {
	var rows []CommissionAudit
	err := store.db.WithContext(ctx).
		Where("order_id = ?", orderID.String()).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectAudit, errorCodeList, err)
	}
	entries := make([]commission.AuditEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapAudit(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectAudit, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (store *Store) ListCommissions(ctx context.Context, filter commission.CommissionFilter, page commission.Page) ([]commission.CommissionRow, int64, error) {
	var total int64
	if err := store.filteredCommissions(ctx, filter).Count(&total).Error; err != nil {
		return nil, 0, wrapStoreError(errorSubjectCommission, errorCodeCount, err)
	}
	var rows []commissionRow
	err := store.filteredCommissions(ctx, filter).
		Select(commissionRowSelect).
		Order("orders.order_date DESC, orders.order_id ASC").
		Offset(page.Offset()).
		Limit(page.Size).
		Scan(&rows).Error
	if err != nil {
		return nil, 0, wrapStoreError(errorSubjectCommission, errorCodeList, err)
	}
	mapped, err := mapCommissionRows(rows)
	if err != nil {
		return nil, 0, wrapStoreError(errorSubjectCommission, errorCodeInvalid, err)
	}
	return mapped, total, nil
}

func (store *Store) SummarizeAgents(ctx context.Context, filter commission.CommissionFilter) ([]commission.AgentAggregate, error) {
	var rows []agentAggregate
	err := store.filteredCommissions(ctx, filter).
		Select(agentAggregateSelect,
			commission.StatusPending.String(),
			commission.StatusAvailable.String(), true,
			commission.StatusAvailable.String(), false,
			commission.StatusClaimed.String(),
			commission.StatusCancelled.String(),
		).
		Group("agents.agent_id, agents.full_name, agents.coupon_code, agents.phone, agents.current_balance_cents").
		Order("agents.agent_id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectCommission, errorCodeSummarize, err)
	}
	aggregates := make([]commission.AgentAggregate, 0, len(rows))
	for _, row := range rows {
		agentID, err := commission.NewAgentID(row.AgentID)
		if err != nil {
			return nil, wrapStoreError(errorSubjectCommission, errorCodeInvalid, err)
		}
		aggregates = append(aggregates, commission.AgentAggregate{
			Agent: commission.AgentSummary{
				AgentID:    agentID,
				FullName:   row.FullName,
				CouponCode: row.CouponCode,
				Phone:      row.Phone,
			},
			OrdersCount:            row.OrdersCount,
			PendingAmount:          commission.AmountCents(row.PendingCents),
			AvailableForWithdrawal: commission.AmountCents(row.AvailableForWithdrawalCents),
			UnsettledAmount:        commission.AmountCents(row.UnsettledCents),
			ClaimedAmount:          commission.AmountCents(row.ClaimedCents),
			TotalEarned:            commission.AmountCents(row.TotalEarnedCents),
			CurrentBalance:         commission.AmountCents(row.CurrentBalanceCents),
		})
	}
	return aggregates, nil
}

func (store *Store) ListUnsettled(ctx context.Context, limit int) ([]commission.CommissionRow, error) {
	var rows []commissionRow
	err := store.filteredCommissions(ctx, commission.CommissionFilter{Status: commission.StatusAvailable}).
		Where("orders.commission_settled = ?", false).
		Select(commissionRowSelect).
		Order("orders.order_date ASC, orders.order_id ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectCommission, errorCodeList, err)
	}
	mapped, err := mapCommissionRows(rows)
	if err != nil {
		return nil, wrapStoreError(errorSubjectCommission, errorCodeInvalid, err)
	}
	return mapped, nil
}

func (store *Store) ListReleaseEligible(ctx context.Context, at time.Time, exclude []commission.OrderID, limit int) ([]commission.OrderID, error) {
	var rawIDs []string
	query := store.db.WithContext(ctx).
		Model(&Order{}).
		Where("commission_status = ? AND commission_available_at <= ?", commission.StatusPending.String(), at.UTC())
	if len(exclude) > 0 {
		excluded := make([]string, 0, len(exclude))
		for _, orderID := range exclude {
			excluded = append(excluded, orderID.String())
		}
		query = query.Where("order_id NOT IN ?", excluded)
	}
	err := query.
		Order("commission_available_at ASC, order_id ASC").
		Limit(limit).
		Pluck("order_id", &rawIDs).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectCommission, errorCodeList, err)
	}
	orderIDs := make([]commission.OrderID, 0, len(rawIDs))
	for _, rawID := range rawIDs {
		orderID, err := commission.NewOrderID(rawID)
		if err != nil {
			return nil, wrapStoreError(errorSubjectCommission, errorCodeInvalid, err)
		}
		orderIDs = append(orderIDs, orderID)
	}
	return orderIDs, nil
}

func (store *Store) filteredCommissions(ctx context.Context, filter commission.CommissionFilter) *gorm.DB {
	query := store.db.WithContext(ctx).
		Table("orders").
		Joins("JOIN agents ON agents.agent_id = orders.agent_id").
		Where("orders.commission_status IS NOT NULL")
	if !filter.AgentID.IsZero() {
		query = query.Where("orders.agent_id = ?", filter.AgentID.String())
	}
	if filter.Status != "" {
		query = query.Where("orders.commission_status = ?", filter.Status.String())
	}
	if !filter.From.IsZero() {
		query = query.Where("orders.order_date >= ?", filter.From.UTC())
	}
	if !filter.To.IsZero() {
		query = query.Where("orders.order_date <= ?", filter.To.UTC())
	}
	return query
}

func wrapStoreError(subject string, code string, err error) error {
	return commission.WrapError(errorOperationStore, subject, code, err)
}

func mapAgent(model Agent) (commission.Agent, error) {
	agentID, err := commission.NewAgentID(model.AgentID)
	if err != nil {
		return commission.Agent{}, err
	}
	balance, err := commission.NewAmountCents(model.CurrentBalanceCents)
	if err != nil {
		return commission.Agent{}, err
	}
	return commission.Agent{
		AgentID:        agentID,
		FullName:       model.FullName,
		CouponCode:     model.CouponCode,
		Phone:          model.Phone,
		CurrentBalance: balance,
	}, nil
}

func mapOrder(model Order) (commission.Order, error) {
	orderID, err := commission.NewOrderID(model.OrderID)
	if err != nil {
		return commission.Order{}, err
	}
	orderType, err := commission.ParseOrderType(model.OrderType)
	if err != nil {
		return commission.Order{}, err
	}
	order := commission.Order{
		OrderID:       orderID,
		OrderTotal:    commission.AmountCents(model.OrderTotalCents),
		OrderType:     orderType,
		OrderDate:     model.OrderDate.UTC(),
		CustomerName:  model.CustomerName,
		CustomerPhone: model.CustomerPhone,
	}
	if model.AgentID == nil || model.CommissionStatus == nil {
		return order, nil
	}
	agentID, err := commission.NewAgentID(*model.AgentID)
	if err != nil {
		return commission.Order{}, err
	}
	status, err := commission.ParseCommissionStatus(*model.CommissionStatus)
	if err != nil {
		return commission.Order{}, err
	}
	amount, err := commission.NewAmountCents(model.CommissionAmountCents)
	if err != nil {
		return commission.Order{}, err
	}
	var availableAt time.Time
	if model.CommissionAvailableAt != nil {
		availableAt = model.CommissionAvailableAt.UTC()
	}
	order.AgentID = agentID
	order.Commission = &commission.Commission{
		Amount:      amount,
		Status:      status,
		AvailableAt: availableAt,
		Settled:     model.CommissionSettled,
	}
	return order, nil
}

func mapCommissionRows(rows []commissionRow) ([]commission.CommissionRow, error) {
	mapped := make([]commission.CommissionRow, 0, len(rows))
	for _, row := range rows {
		order, err := mapOrder(row.Order)
		if err != nil {
			return nil, err
		}
		mapped = append(mapped, commission.CommissionRow{
			Order: order,
			Agent: commission.AgentSummary{
				AgentID:    order.AgentID,
				FullName:   row.AgentFullName,
				CouponCode: row.AgentCouponCode,
				Phone:      row.AgentPhone,
			},
		})
	}
	return mapped, nil
}

func mapAudit(row CommissionAudit) (commission.AuditEntry, error) {
	var orderID commission.OrderID
	if row.OrderID != nil {
		parsedOrderID, err := commission.NewOrderID(*row.OrderID)
		if err != nil {
			return commission.AuditEntry{}, err
		}
		orderID = parsedOrderID
	}
	actor, err := commission.NewActor(row.Actor)
	if err != nil {
		return commission.AuditEntry{}, err
	}
	metadata := map[string]any{}
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &metadata); err != nil {
			return commission.AuditEntry{}, err
		}
	}
	return commission.AuditEntry{
		EntryID:     row.EntryID,
		OrderID:     orderID,
		Operation:   row.Operation,
		Actor:       actor,
		From:        commission.CommissionState{Status: commission.CommissionStatus(row.FromStatus), Settled: row.FromSettled},
		To:          commission.CommissionState{Status: commission.CommissionStatus(row.ToStatus), Settled: row.ToSettled},
		AmountCents: commission.SignedAmountCents(row.AmountCents),
		Reason:      row.Reason,
		Metadata:    metadata,
		CreatedAt:   row.CreatedAt.UTC(),
	}, nil
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
