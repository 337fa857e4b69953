// Package domain defines the persistence models for groups, orders, user
// balances, diamond stock, and the payment ledger. These types are mapped
// with GORM and form the core data layer of the order backend.
package domain

import "time"

// Order lifecycle states. Transitions only ever move along the edges
// enforced by the lifecycle service: pending → processing → approved, with
// escapes pending/processing → deleted, processing → pending (revert) and
// pending → cancelled. Restore moves deleted → approved.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusApproved   = "approved"
	StatusDeleted    = "deleted"
	StatusCancelled  = "cancelled"
)

// AutoApprovalActor is recorded in ApprovedBy when the scheduler, rather
// than a human admin, completes an order.
const AutoApprovalActor = "System (Auto-Approval)"

// Order represents a single diamond top-up request submitted in a group
// chat. The rate is snapshotted at creation time and never recomputed from
// the group's live rate; historical orders keep their original price.
//
// Fields:
//   - ID: unique integer, derived from the creation timestamp (milliseconds)
//     and bumped on collision; immutable once created.
//   - GroupID: chat group the order was placed in.
//   - UserID: canonical identity of the submitter (see CanonicalUserID).
//   - UserName: best-effort display name; may improve after creation, never
//     used for matching.
//   - PlayerID: free-text game account id from the first message line;
//     opaque to the state machine.
//   - Diamonds: requested quantity (validated 1..100000 by the parser).
//   - Rate: currency-per-diamond snapshot from the group at creation.
//   - MessageID: transport id of the originating chat message; strongest
//     matching key and deletion-detection anchor. Recovered entries may
//     lack it only when synthesized without a source message.
type Order struct {
	ID        int64     `json:"id"         gorm:"primaryKey"`
	GroupID   string    `json:"group_id"   gorm:"type:varchar(64);not null;index:idx_group_orders,priority:1"`
	UserID    string    `json:"user_id"    gorm:"type:varchar(64);not null;index:idx_user_orders"`
	UserName  string    `json:"user_name"  gorm:"type:varchar(255)"`
	PlayerID  string    `json:"player_id"  gorm:"type:varchar(64)"`
	Diamonds  int       `json:"diamonds"   gorm:"not null"`
	Rate      float64   `json:"rate"       gorm:"not null"`
	Status    string    `json:"status"     gorm:"type:varchar(16);not null;index;check:status IN ('pending','processing','approved','deleted','cancelled')"`
	MessageID string    `json:"message_id" gorm:"type:varchar(128);index"`
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_group_orders,priority:2"`
	UpdatedAt time.Time `json:"updated_at"`

	// Processing stage. Present only while status ∈ {processing, approved}.
	// ProcessingDeadline is the persisted source of truth for the
	// auto-approval scheduler; timers are rebuilt from it after a restart.
	ProcessingStartedAt *time.Time `json:"processing_started_at,omitempty"`
	ProcessingDeadline  *time.Time `json:"processing_deadline,omitempty"`

	// Terminal stamps and attribution.
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	ApprovedBy string     `json:"approved_by,omitempty" gorm:"type:varchar(255)"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
	DeletedBy  string     `json:"deleted_by,omitempty" gorm:"type:varchar(255)"`
	RestoredAt *time.Time `json:"restored_at,omitempty"`

	// Reason text captured from an admin correction reply.
	CorrectionReason string `json:"correction_reason,omitempty" gorm:"type:text"`

	// Recovery provenance. RecoveredFromChat marks entries rebuilt from the
	// chat transcript; IsRecovered marks entries re-pushed to the remote
	// panel store after being found missing there.
	RecoveredFromChat bool   `json:"recovered_from_chat,omitempty"`
	IsRecovered       bool   `json:"is_recovered,omitempty"`
	RecoveryReason    string `json:"recovery_reason,omitempty" gorm:"type:text"`
	OriginalStatus    string `json:"original_status,omitempty" gorm:"type:varchar(16)"`

	// AutoDeductedAmount records how much of the order value was taken from
	// the user's balance at the pending→processing edge. It doubles as the
	// idempotency guard against double-deduction.
	AutoDeductedAmount float64 `json:"auto_deducted_amount,omitempty"`
}

// TableName returns the database table name for Order.
func (Order) TableName() string { return "orders" }

// Amount is the total order value at the snapshotted rate.
func (o *Order) Amount() float64 { return float64(o.Diamonds) * o.Rate }

// Active reports whether the order still occupies the live part of the
// lifecycle (not deleted or cancelled).
func (o *Order) Active() bool {
	return o.Status == StatusPending || o.Status == StatusProcessing || o.Status == StatusApproved
}

// Group owns a per-diamond rate, an advisory due limit, and the orders
// placed in it. The rate is mutable at any time by admin action; existing
// orders keep their snapshot.
type Group struct {
	ID        string    `json:"id"         gorm:"type:varchar(64);primaryKey"`
	Name      string    `json:"name"       gorm:"type:varchar(255);not null;default:'WhatsApp Group'"`
	Rate      float64   `json:"rate"       gorm:"not null"`
	DueLimit  float64   `json:"due_limit"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// StartAt, when set, makes transcript reconciliation ignore messages
	// sent before it.
	StartAt *time.Time `json:"start_at,omitempty"`
}

// TableName returns the database table name for Group.
func (Group) TableName() string { return "groups" }

// BalanceAccount is a signed running total per user, independent of any
// group. Created lazily on first reference; mutated only by explicit
// deposits and by the auto-deduction hook at the pending→processing edge.
type BalanceAccount struct {
	UserID    string    `json:"user_id" gorm:"type:varchar(64);primaryKey"`
	Balance   float64   `json:"balance" gorm:"not null;default:0"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for BalanceAccount.
func (BalanceAccount) TableName() string { return "balance_accounts" }

// SystemState is the singleton row holding the global diamond stock counter,
// the accepting-orders switch, and the runtime notification toggles the
// admin panel can flip without a redeploy.
type SystemState struct {
	ID        int   `gorm:"primaryKey"`
	Stock     int64 `json:"stock" gorm:"not null;default:0;check:stock >= 0"`
	Accepting bool  `json:"accepting" gorm:"not null;default:true"`

	// OffReason explains why Accepting was switched off (manual admin
	// action or automatic depletion).
	OffReason string `json:"off_reason,omitempty" gorm:"type:text"`

	// Broadcast message shown to users while the system is off.
	GlobalMessage string `json:"global_message,omitempty" gorm:"type:text"`

	// Notification gates. The underlying state transitions run identically
	// whether or not the message is actually sent.
	SendApproveMessage     bool `json:"send_approve_message" gorm:"not null;default:true"`
	SendAutoApproveMessage bool `json:"send_auto_approve_message" gorm:"not null;default:true"`
	SendDeleteMessage      bool `json:"send_delete_message" gorm:"not null;default:true"`

	LastDeductionAt *time.Time `json:"last_deduction_at,omitempty"`
	AutoOffAt       *time.Time `json:"auto_off_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// TableName returns the database table name for SystemState.
func (SystemState) TableName() string { return "system_state" }

// Payment ledger entry kinds.
const (
	DeductionAuto    = "auto"    // balance auto-deduction on order processing
	DeductionManual  = "manual"  // admin adjustment
	DeductionPayment = "payment" // user deposit
)

// Payment ledger row statuses.
const (
	TxnCompleted = "completed"
	TxnRefunded  = "refunded"
)

// PaymentTransaction records one balance mutation. Auto-deductions carry the
// order id that triggered them, which lets the lifecycle service detect a
// repeated transition before deducting twice.
type PaymentTransaction struct {
	ID        int64     `json:"id"         gorm:"primaryKey;autoIncrement"`
	UserID    string    `json:"user_id"    gorm:"type:varchar(64);not null;index"`
	UserName  string    `json:"user_name"  gorm:"type:varchar(255)"`
	GroupID   string    `json:"group_id"   gorm:"type:varchar(64);not null"`
	Amount    float64   `json:"amount"     gorm:"not null"`
	Kind      string    `json:"kind"       gorm:"type:varchar(16);not null;check:kind IN ('auto','manual','payment')"`
	Status    string    `json:"status"     gorm:"type:varchar(16);not null"`
	OrderID   int64     `json:"order_id,omitempty" gorm:"index"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for PaymentTransaction.
func (PaymentTransaction) TableName() string { return "payment_transactions" }
