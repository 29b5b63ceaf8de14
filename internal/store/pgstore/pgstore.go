package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/commissions/pkg/commission"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	constraintAgentsPrimary = "agents_pkey"
	constraintOrdersPrimary = "orders_pkey"
	defaultMetadataJSON     = "{}"
	pgUniqueViolationCode   = "23505"
	errorOperationStore     = "store"
	errorSubjectAgent       = "agent"
	errorSubjectAudit       = "audit"
	errorSubjectBalance     = "balance"
	errorSubjectCommission  = "commission"
	errorSubjectOrder       = "order"
	errorSubjectReset       = "reset"
	errorSubjectTransaction = "transaction"
	errorCodeAdjust         = "adjust"
	errorCodeBegin          = "begin"
	errorCodeCommit         = "commit"
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

	sqlInsertAgent = `
		insert into agents(agent_id, full_name, coupon_code, phone, current_balance_cents)
		values ($1, $2, $3, $4, $5)
	`

	sqlAgentColumns = `agent_id, full_name, coupon_code, phone, current_balance_cents`

	sqlSelectAgent = `select ` + sqlAgentColumns + ` from agents where agent_id = $1`

	sqlAdjustAgentBalance = `
		update agents
		set current_balance_cents = current_balance_cents + $2, updated_at = now()
		where agent_id = $1 and current_balance_cents + $2 >= 0
		returning current_balance_cents
	`

	sqlInsertOrder = `
		insert into orders(
			order_id, order_total_cents, order_type, order_date, agent_id, customer_name, customer_phone,
			commission_amount_cents, commission_status, commission_available_at, commission_settled
		)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	sqlOrderColumns = `
		o.order_id, o.order_total_cents, o.order_type, o.order_date, o.agent_id, o.customer_name, o.customer_phone,
		o.commission_amount_cents, o.commission_status, o.commission_available_at, o.commission_settled
	`

	sqlSelectOrder = `select ` + sqlOrderColumns + ` from orders o where o.order_id = $1`

	sqlSelectOrderForUpdate = sqlSelectOrder + ` for update`

	sqlUpdateCommissionState = `
		update orders
		set commission_status = $4, commission_settled = $5, updated_at = now()
		where order_id = $1 and commission_status = $2 and commission_settled = $3
	`

	sqlUpdateReleaseDate = `
		update orders
		set commission_available_at = $3, updated_at = now()
		where order_id = $1 and commission_status = $2
	`

	sqlLockResetOrders = `select ` + sqlOrderColumns + ` from orders o where o.agent_id is not null order by o.order_id for update`

	sqlLockResetAgents = `select ` + sqlAgentColumns + ` from agents order by agent_id for update`

	sqlResetOrders = `
		update orders
		set commission_status = 'cancelled', commission_settled = false, updated_at = now()
		where agent_id is not null
	`

	sqlResetAgents = `
		update agents
		set current_balance_cents = 0, updated_at = now()
	`

	sqlInsertAudit = `
		insert into commission_audit(
			entry_id, order_id, operation, actor, from_status, from_settled, to_status, to_settled,
			amount_cents, reason, metadata, created_at
		)
		values ($1, nullif($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, coalesce(nullif($11, ''), '{}')::jsonb, $12)
	`

	sqlListAudit = `
		select
			entry_id::text, coalesce(order_id, ''), operation, actor, from_status, from_settled,
			to_status, to_settled, amount_cents, reason, coalesce(metadata::text, '{}'), created_at
		from commission_audit
		where order_id = $1
		order by created_at asc, entry_id asc
	`

	sqlCommissionFilter = `
		from orders o
		join agents a on a.agent_id = o.agent_id
		where o.commission_status is not null
			and ($1::text = '' or o.agent_id = $1)
			and ($2::text = '' or o.commission_status = $2)
			and ($3::timestamptz is null or o.order_date >= $3)
			and ($4::timestamptz is null or o.order_date <= $4)
	`

	sqlCountCommissions = `select count(*) ` + sqlCommissionFilter

	sqlListCommissions = `select ` + sqlOrderColumns + `, a.full_name, a.coupon_code, a.phone ` + sqlCommissionFilter + `
		order by o.order_date desc, o.order_id asc
		limit $5 offset $6
	`

	sqlSummarizeAgents = `
		select
			a.agent_id, a.full_name, a.coupon_code, a.phone, a.current_balance_cents,
			count(*),
			coalesce(sum(case when o.commission_status = 'pending' then o.commission_amount_cents else 0 end), 0),
			coalesce(sum(case when o.commission_status = 'available' and o.commission_settled then o.commission_amount_cents else 0 end), 0),
			coalesce(sum(case when o.commission_status = 'available' and not o.commission_settled then o.commission_amount_cents else 0 end), 0),
			coalesce(sum(case when o.commission_status = 'claimed' then o.commission_amount_cents else 0 end), 0),
			coalesce(sum(case when o.commission_status <> 'cancelled' then o.commission_amount_cents else 0 end), 0)
		` + sqlCommissionFilter + `
		group by a.agent_id, a.full_name, a.coupon_code, a.phone, a.current_balance_cents
		order by a.agent_id asc
	`

	sqlListUnsettled = `
		select ` + sqlOrderColumns + `, a.full_name, a.coupon_code, a.phone
		from orders o
		join agents a on a.agent_id = o.agent_id
		where o.commission_status = 'available' and not o.commission_settled
		order by o.order_date asc, o.order_id asc
		limit $1
	`

	sqlListReleaseEligible = `
		select order_id
		from orders
		where commission_status = 'pending' and commission_available_at <= $1
			and not (order_id = any($3::text[]))
		order by commission_available_at asc, order_id asc
		limit $2
	`
)

// executor is satisfied by both *pgxpool.Pool and pgx.Tx.
type executor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements commission.Store using a pgx connection pool (autocommit).
type Store struct {
	queries
	pool *pgxpool.Pool
}

// TxStore implements commission.Store for an active transaction.
type TxStore struct {
	queries
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{queries: queries{db: pool}, pool: pool}
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore commission.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &TxStore{queries: queries{db: tx}}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

// WithTx reuses the active transaction.
func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore commission.Store) error) error {
	return fn(ctx, store)
}

type queries struct {
	db executor
}

func (store queries) CreateAgent(ctx context.Context, agent commission.Agent) error {
	_, err := store.db.Exec(ctx, sqlInsertAgent,
		agent.AgentID.String(),
		agent.FullName,
		agent.CouponCode,
		agent.Phone,
		agent.CurrentBalance.Int64(),
	)
	if isUniqueViolation(err, constraintAgentsPrimary) {
		return wrapStoreError(errorSubjectAgent, errorCodeDuplicate, commission.ErrDuplicateAgent)
	}
	if err != nil {
		return wrapStoreError(errorSubjectAgent, errorCodeCreate, err)
	}
	return nil
}

func (store queries) GetAgent(ctx context.Context, agentID commission.AgentID) (commission.Agent, error) {
	var row agentRow
	err := store.db.QueryRow(ctx, sqlSelectAgent, agentID.String()).Scan(row.targets()...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return commission.Agent{}, wrapStoreError(errorSubjectAgent, errorCodeGet, commission.ErrAgentNotFound)
		}
		return commission.Agent{}, wrapStoreError(errorSubjectAgent, errorCodeGet, err)
	}
	agent, err := row.toAgent()
	if err != nil {
		return commission.Agent{}, wrapStoreError(errorSubjectAgent, errorCodeInvalid, err)
	}
	return agent, nil
}

func (store queries) AdjustAgentBalance(ctx context.Context, agentID commission.AgentID, delta commission.SignedAmountCents) (commission.AmountCents, error) {
	var balanceCents int64
	err := store.db.QueryRow(ctx, sqlAdjustAgentBalance, agentID.String(), delta.Int64()).Scan(&balanceCents)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, lookupErr := store.GetAgent(ctx, agentID); lookupErr != nil {
			return 0, lookupErr
		}
		return 0, wrapStoreError(errorSubjectBalance, errorCodeAdjust, commission.ErrInsufficientBalance)
	}
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeAdjust, err)
	}
	return commission.AmountCents(balanceCents), nil
}

func (store queries) CreateOrder(ctx context.Context, order commission.Order) error {
	var (
		agentID     *string
		status      *string
		availableAt *time.Time
		amountCents int64
		settled     bool
	)
	if order.HasCommission() {
		agentValue := order.AgentID.String()
		statusValue := order.Commission.Status.String()
		availableValue := order.Commission.AvailableAt.UTC()
		agentID = &agentValue
		status = &statusValue
		availableAt = &availableValue
		amountCents = order.Commission.Amount.Int64()
		settled = order.Commission.Settled
	}
	_, err := store.db.Exec(ctx, sqlInsertOrder,
		order.OrderID.String(),
		order.OrderTotal.Int64(),
		order.OrderType.String(),
		order.OrderDate.UTC(),
		agentID,
		order.CustomerName,
		order.CustomerPhone,
		amountCents,
		status,
		availableAt,
		settled,
	)
	if isUniqueViolation(err, constraintOrdersPrimary) {
		return wrapStoreError(errorSubjectOrder, errorCodeDuplicate, commission.ErrDuplicateOrder)
	}
	if err != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeCreate, err)
	}
	return nil
}

func (store queries) GetOrder(ctx context.Context, orderID commission.OrderID) (commission.Order, error) {
	return store.getOrder(ctx, sqlSelectOrder, orderID)
}

func (store queries) GetOrderForUpdate(ctx context.Context, orderID commission.OrderID) (commission.Order, error) {
	return store.getOrder(ctx, sqlSelectOrderForUpdate, orderID)
}

func (store queries) getOrder(ctx context.Context, query string, orderID commission.OrderID) (commission.Order, error) {
	var row orderRow
	err := store.db.QueryRow(ctx, query, orderID.String()).Scan(row.targets()...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return commission.Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, commission.ErrOrderNotFound)
		}
		return commission.Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, err)
	}
	order, err := row.toOrder()
	if err != nil {
		return commission.Order{}, wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
	}
	return order, nil
}

func (store queries) UpdateCommissionState(ctx context.Context, orderID commission.OrderID, from commission.CommissionState, to commission.CommissionState) error {
	tag, err := store.db.Exec(ctx, sqlUpdateCommissionState,
		orderID.String(),
		from.Status.String(),
		from.Settled,
		to.Status.String(),
		to.Settled,
	)
	if err != nil {
		return wrapStoreError(errorSubjectCommission, errorCodeUpdateState, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectCommission, errorCodeUpdateState, commission.ErrCommissionStateChanged)
	}
	return nil
}

func (store queries) UpdateReleaseDate(ctx context.Context, orderID commission.OrderID, expected commission.CommissionStatus, availableAt time.Time) error {
	tag, err := store.db.Exec(ctx, sqlUpdateReleaseDate, orderID.String(), expected.String(), availableAt.UTC())
	if err != nil {
		return wrapStoreError(errorSubjectCommission, errorCodeUpdateDate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectCommission, errorCodeUpdateDate, commission.ErrCommissionStateChanged)
	}
	return nil
}

// ResetAll locks and reads every commission-bearing order and every agent, then
// cancels the commissions and zeroes the balances. The snapshot holds the rows as
// they were before the update.
func (store queries) ResetAll(ctx context.Context) (commission.ResetSnapshot, error) {
	orders, err := store.lockResetOrders(ctx)
	if err != nil {
		return commission.ResetSnapshot{}, err
	}
	agents, err := store.lockResetAgents(ctx)
	if err != nil {
		return commission.ResetSnapshot{}, err
	}
	if _, err := store.db.Exec(ctx, sqlResetOrders); err != nil {
		return commission.ResetSnapshot{}, wrapStoreError(errorSubjectReset, errorSubjectOrder, err)
	}
	if _, err := store.db.Exec(ctx, sqlResetAgents); err != nil {
		return commission.ResetSnapshot{}, wrapStoreError(errorSubjectReset, errorSubjectAgent, err)
	}
	return commission.ResetSnapshot{Orders: orders, Agents: agents}, nil
}

func (store queries) lockResetOrders(ctx context.Context) ([]commission.Order, error) {
	rows, err := store.db.Query(ctx, sqlLockResetOrders)
	if err != nil {
		return nil, wrapStoreError(errorSubjectReset, errorSubjectOrder, err)
	}
	defer rows.Close()

	orders := make([]commission.Order, 0)
	for rows.Next() {
		var row orderRow
		if err := rows.Scan(row.targets()...); err != nil {
			return nil, wrapStoreError(errorSubjectReset, errorSubjectOrder, err)
		}
		order, err := row.toOrder()
		if err != nil {
			return nil, wrapStoreError(errorSubjectReset, errorCodeInvalid, err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectReset, errorSubjectOrder, err)
	}
	return orders, nil
}

func (store queries) lockResetAgents(ctx context.Context) ([]commission.Agent, error) {
	rows, err := store.db.Query(ctx, sqlLockResetAgents)
	if err != nil {
		return nil, wrapStoreError(errorSubjectReset, errorSubjectAgent, err)
	}
	defer rows.Close()

	agents := make([]commission.Agent, 0)
	for rows.Next() {
		var row agentRow
		if err := rows.Scan(row.targets()...); err != nil {
			return nil, wrapStoreError(errorSubjectReset, errorSubjectAgent, err)
		}
		agent, err := row.toAgent()
		if err != nil {
			return nil, wrapStoreError(errorSubjectReset, errorCodeInvalid, err)
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectReset, errorSubjectAgent, err)
	}
	return agents, nil
}

func (store queries) InsertAudit(ctx context.Context, entry commission.AuditEntry) error {
	metadata := defaultMetadataJSON
	if len(entry.Metadata) > 0 {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return wrapStoreError(errorSubjectAudit, errorCodeInvalid, err)
		}
		metadata = string(encoded)
	}
	createdAt := entry.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := store.db.Exec(ctx, sqlInsertAudit,
		entry.EntryID,
		entry.OrderID.String(),
		entry.Operation,
		entry.Actor.String(),
		entry.From.Status.String(),
		entry.From.Settled,
		entry.To.Status.String(),
		entry.To.Settled,
		entry.AmountCents.Int64(),
		entry.Reason,
		metadata,
		createdAt,
	)
	if err != nil {
		return wrapStoreError(errorSubjectAudit, errorCodeInsert, err)
	}
	return nil
}

func (store queries) ListAudit(ctx context.Context, orderID commission.OrderID) ([]commission.AuditEntry, error) {
	rows, err := store.db.Query(ctx, sqlListAudit, orderID.String())
	if err != nil {
		return nil, wrapStoreError(errorSubjectAudit, errorCodeList, err)
	}
	defer rows.Close()

	entries := make([]commission.AuditEntry, 0)
	for rows.Next() {
		var (
			entry       commission.AuditEntry
			rawOrderID  string
			rawActor    string
			fromStatus  string
			toStatus    string
			amountCents int64
			rawMetadata string
		)
		if err := rows.Scan(
			&entry.EntryID, &rawOrderID, &entry.Operation, &rawActor,
			&fromStatus, &entry.From.Settled, &toStatus, &entry.To.Settled,
			&amountCents, &entry.Reason, &rawMetadata, &entry.CreatedAt,
		); err != nil {
			return nil, wrapStoreError(errorSubjectAudit, errorCodeList, err)
		}
		if rawOrderID != "" {
			parsedOrderID, err := commission.NewOrderID(rawOrderID)
			if err != nil {
				return nil, wrapStoreError(errorSubjectAudit, errorCodeInvalid, err)
			}
			entry.OrderID = parsedOrderID
		}
		actor, err := commission.NewActor(rawActor)
		if err != nil {
			return nil, wrapStoreError(errorSubjectAudit, errorCodeInvalid, err)
		}
		entry.Actor = actor
		entry.From.Status = commission.CommissionStatus(fromStatus)
		entry.To.Status = commission.CommissionStatus(toStatus)
		entry.AmountCents = commission.SignedAmountCents(amountCents)
		entry.CreatedAt = entry.CreatedAt.UTC()
		entry.Metadata = map[string]any{}
		if err := json.Unmarshal([]byte(rawMetadata), &entry.Metadata); err != nil {
			return nil, wrapStoreError(errorSubjectAudit, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectAudit, errorCodeList, err)
	}
	return entries, nil
}

func (store queries) ListCommissions(ctx context.Context, filter commission.CommissionFilter, page commission.Page) ([]commission.CommissionRow, int64, error) {
	arguments := filterArguments(filter)
	var total int64
	if err := store.db.QueryRow(ctx, sqlCountCommissions, arguments...).Scan(&total); err != nil {
		return nil, 0, wrapStoreError(errorSubjectCommission, errorCodeCount, err)
	}
	rows, err := store.db.Query(ctx, sqlListCommissions, append(arguments, page.Size, page.Offset())...)
	if err != nil {
		return nil, 0, wrapStoreError(errorSubjectCommission, errorCodeList, err)
	}
	commissionRows, err := scanCommissionRows(rows)
	if err != nil {
		return nil, 0, err
	}
	return commissionRows, total, nil
}

func (store queries) SummarizeAgents(ctx context.Context, filter commission.CommissionFilter) ([]commission.AgentAggregate, error) {
	rows, err := store.db.Query(ctx, sqlSummarizeAgents, filterArguments(filter)...)
	if err != nil {
		return nil, wrapStoreError(errorSubjectCommission, errorCodeSummarize, err)
	}
	defer rows.Close()

	aggregates := make([]commission.AgentAggregate, 0)
	for rows.Next() {
		var (
			rawAgentID  string
			aggregate   commission.AgentAggregate
			balance     int64
			pending     int64
			available   int64
			unsettled   int64
			claimed     int64
			totalEarned int64
		)
		if err := rows.Scan(
			&rawAgentID, &aggregate.Agent.FullName, &aggregate.Agent.CouponCode, &aggregate.Agent.Phone, &balance,
			&aggregate.OrdersCount, &pending, &available, &unsettled, &claimed, &totalEarned,
		); err != nil {
			return nil, wrapStoreError(errorSubjectCommission, errorCodeSummarize, err)
		}
		agentID, err := commission.NewAgentID(rawAgentID)
		if err != nil {
			return nil, wrapStoreError(errorSubjectCommission, errorCodeInvalid, err)
		}
		aggregate.Agent.AgentID = agentID
		aggregate.CurrentBalance = commission.AmountCents(balance)
		aggregate.PendingAmount = commission.AmountCents(pending)
		aggregate.AvailableForWithdrawal = commission.AmountCents(available)
		aggregate.UnsettledAmount = commission.AmountCents(unsettled)
		aggregate.ClaimedAmount = commission.AmountCents(claimed)
		aggregate.TotalEarned = commission.AmountCents(totalEarned)
		aggregates = append(aggregates, aggregate)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectCommission, errorCodeSummarize, err)
	}
	return aggregates, nil
}

func (store queries) ListUnsettled(ctx context.Context, limit int) ([]commission.CommissionRow, error) {
	rows, err := store.db.Query(ctx, sqlListUnsettled, limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectCommission, errorCodeList, err)
	}
	return scanCommissionRows(rows)
}

func (store queries) ListReleaseEligible(ctx context.Context, at time.Time, exclude []commission.OrderID, limit int) ([]commission.OrderID, error) {
	excluded := make([]string, 0, len(exclude))
	for _, orderID := range exclude {
		excluded = append(excluded, orderID.String())
	}
	rows, err := store.db.Query(ctx, sqlListReleaseEligible, at.UTC(), limit, excluded)
	if err != nil {
		return nil, wrapStoreError(errorSubjectCommission, errorCodeList, err)
	}
	defer rows.Close()

	orderIDs := make([]commission.OrderID, 0)
	for rows.Next() {
		var rawOrderID string
		if err := rows.Scan(&rawOrderID); err != nil {
			return nil, wrapStoreError(errorSubjectCommission, errorCodeList, err)
		}
		orderID, err := commission.NewOrderID(rawOrderID)
		if err != nil {
			return nil, wrapStoreError(errorSubjectCommission, errorCodeInvalid, err)
		}
		orderIDs = append(orderIDs, orderID)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectCommission, errorCodeList, err)
	}
	return orderIDs, nil
}

// agentRow holds the scanned agents columns in sqlAgentColumns order.
type agentRow struct {
	agentID      string
	fullName     string
	couponCode   string
	phone        string
	balanceCents int64
}

func (row *agentRow) targets() []any {
	return []any{&row.agentID, &row.fullName, &row.couponCode, &row.phone, &row.balanceCents}
}

func (row agentRow) toAgent() (commission.Agent, error) {
	agentID, err := commission.NewAgentID(row.agentID)
	if err != nil {
		return commission.Agent{}, err
	}
	balance, err := commission.NewAmountCents(row.balanceCents)
	if err != nil {
		return commission.Agent{}, err
	}
	return commission.Agent{
		AgentID:        agentID,
		FullName:       row.fullName,
		CouponCode:     row.couponCode,
		Phone:          row.phone,
		CurrentBalance: balance,
	}, nil
}

// orderRow holds the scanned orders columns in sqlOrderColumns order.
type orderRow struct {
	orderID       string
	totalCents    int64
	orderType     string
	orderDate     time.Time
	agentID       *string
	customerName  string
	customerPhone string
	amountCents   int64
	status        *string
	availableAt   *time.Time
	settled       bool
}

func (row *orderRow) targets() []any {
	return []any{
		&row.orderID, &row.totalCents, &row.orderType, &row.orderDate, &row.agentID, &row.customerName,
		&row.customerPhone, &row.amountCents, &row.status, &row.availableAt, &row.settled,
	}
}

func (row orderRow) toOrder() (commission.Order, error) {
	orderID, err := commission.NewOrderID(row.orderID)
	if err != nil {
		return commission.Order{}, err
	}
	orderType, err := commission.ParseOrderType(row.orderType)
	if err != nil {
		return commission.Order{}, err
	}
	order := commission.Order{
		OrderID:       orderID,
		OrderTotal:    commission.AmountCents(row.totalCents),
		OrderType:     orderType,
		OrderDate:     row.orderDate.UTC(),
		CustomerName:  row.customerName,
		CustomerPhone: row.customerPhone,
	}
	if row.agentID == nil || row.status == nil {
		return order, nil
	}
	agentID, err := commission.NewAgentID(*row.agentID)
	if err != nil {
		return commission.Order{}, err
	}
	status, err := commission.ParseCommissionStatus(*row.status)
	if err != nil {
		return commission.Order{}, err
	}
	amount, err := commission.NewAmountCents(row.amountCents)
	if err != nil {
		return commission.Order{}, err
	}
	var availableAt time.Time
	if row.availableAt != nil {
		availableAt = row.availableAt.UTC()
	}
	order.AgentID = agentID
	order.Commission = &commission.Commission{
		Amount:      amount,
		Status:      status,
		AvailableAt: availableAt,
		Settled:     row.settled,
	}
	return order, nil
}

func scanCommissionRows(rows pgx.Rows) ([]commission.CommissionRow, error) {
	defer rows.Close()
	commissionRows := make([]commission.CommissionRow, 0)
	for rows.Next() {
		var (
			row        orderRow
			fullName   string
			couponCode string
			phone      string
		)
		if err := rows.Scan(append(row.targets(), &fullName, &couponCode, &phone)...); err != nil {
			return nil, wrapStoreError(errorSubjectCommission, errorCodeList, err)
		}
		order, err := row.toOrder()
		if err != nil {
			return nil, wrapStoreError(errorSubjectCommission, errorCodeInvalid, err)
		}
		commissionRows = append(commissionRows, commission.CommissionRow{
			Order: order,
			Agent: commission.AgentSummary{
				AgentID:    order.AgentID,
				FullName:   fullName,
				CouponCode: couponCode,
				Phone:      phone,
			},
		})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectCommission, errorCodeList, err)
	}
	return commissionRows, nil
}

func filterArguments(filter commission.CommissionFilter) []any {
	return []any{
		filter.AgentID.String(),
		filter.Status.String(),
		optionalTime(filter.From),
		optionalTime(filter.To),
	}
}

func optionalTime(value time.Time) *time.Time {
	if value.IsZero() {
		return nil
	}
	utc := value.UTC()
	return &utc
}

func wrapStoreError(subject string, code string, err error) error {
	return commission.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error, constraint string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	return false
}
