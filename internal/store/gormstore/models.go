package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Agent represents the agents table.
type Agent struct {
	AgentID             string    `gorm:"primaryKey"`
	FullName            string    `gorm:"not null"`
	CouponCode          string    `gorm:"not null;default:''"`
	Phone               string    `gorm:"not null;default:''"`
	CurrentBalanceCents int64     `gorm:"not null;default:0;check:chk_agents_balance_non_negative,current_balance_cents >= 0"`
	CreatedAt           time.Time `gorm:"not null"`
	UpdatedAt           time.Time `gorm:"not null"`
}

func (Agent) TableName() string { return "agents" }

// Order mirrors the orders table. The commission lives in the commission_* columns
// and is absent when agent_id is null.
type Order struct {
	OrderID               string     `gorm:"primaryKey"`
	OrderTotalCents       int64      `gorm:"not null;default:0"`
	OrderType             string     `gorm:"not null"`
	OrderDate             time.Time  `gorm:"not null;index:idx_orders_order_date"`
	AgentID               *string    `gorm:"index:idx_orders_agent_status,priority:1"`
	CustomerName          string     `gorm:"not null;default:''"`
	CustomerPhone         string     `gorm:"not null;default:''"`
	CommissionAmountCents int64      `gorm:"not null;default:0"`
	CommissionStatus      *string    `gorm:"index:idx_orders_agent_status,priority:2;index:idx_orders_status_available_at,priority:1"`
	CommissionAvailableAt *time.Time `gorm:"index:idx_orders_status_available_at,priority:2"`
	CommissionSettled     bool       `gorm:"not null;default:false"`
	CreatedAt             time.Time  `gorm:"not null"`
	UpdatedAt             time.Time  `gorm:"not null"`
}

func (Order) TableName() string { return "orders" }

// CommissionAudit mirrors the commission_audit table.
type CommissionAudit struct {
	EntryID     string         `gorm:"type:uuid;primaryKey"`
	OrderID     *string        `gorm:"index:idx_commission_audit_order_created,priority:1"`
	Operation   string         `gorm:"not null"`
	Actor       string         `gorm:"not null"`
	FromStatus  string         `gorm:"not null;default:''"`
	FromSettled bool           `gorm:"not null;default:false"`
	ToStatus    string         `gorm:"not null;default:''"`
	ToSettled   bool           `gorm:"not null;default:false"`
	AmountCents int64          `gorm:"not null;default:0"`
	Reason      string         `gorm:"not null;default:''"`
	Metadata    datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt   time.Time      `gorm:"not null;index:idx_commission_audit_order_created,priority:2"`
}

func (CommissionAudit) TableName() string { return "commission_audit" }

func (entry *CommissionAudit) BeforeCreate(tx *gorm.DB) error {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	return nil
}

// commissionRow is the joined order+agent projection used by listing queries.
type commissionRow struct {
	Order
	AgentFullName   string
	AgentCouponCode string
	AgentPhone      string
}

// agentAggregate is the grouped projection used by SummarizeAgents.
type agentAggregate struct {
	AgentID                     string
	FullName                    string
	CouponCode                  string
	Phone                       string
	CurrentBalanceCents         int64
	OrdersCount                 int64
	PendingCents                int64
	AvailableForWithdrawalCents int64
	UnsettledCents              int64
	ClaimedCents                int64
	TotalEarnedCents            int64
}

// AutoMigrate creates or updates the schema. Postgres deployments use the
// embedded migrations instead; this serves SQLite and tests.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Agent{}, &Order{}, &CommissionAudit{})
}
