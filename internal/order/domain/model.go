package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// State is the order lifecycle state. Transitions follow a fixed graph:
//
//	created -> awaiting_payment -> {paid|failed|expired} -> notified
//
// and never reverse once a terminal state is reached.
type State string

const (
	StateCreated         State = "created"
	StateAwaitingPayment State = "awaiting_payment"
	StatePaid            State = "paid"
	StateFailed          State = "failed"
	StateExpired         State = "expired"
	StateNotified        State = "notified"
)

// Terminal reports whether s is a gateway-terminal state.
func (s State) Terminal() bool {
	switch s {
	case StatePaid, StateFailed, StateExpired:
		return true
	default:
		return false
	}
}

// expectedStates maps a target state to the states a transition may start from.
var expectedStates = map[State][]State{
	StateAwaitingPayment: {StateCreated},
	StatePaid:            {StateAwaitingPayment},
	StateFailed:          {StateAwaitingPayment},
	StateExpired:         {StateAwaitingPayment},
	StateNotified:        {StatePaid, StateFailed, StateExpired},
}

// ExpectedStates returns the states from which target may be entered,
// or nil if target is not a valid transition target.
func ExpectedStates(target State) []State {
	return expectedStates[target]
}

// Order is the single source of truth for a purchase. Orders are never
// deleted; they remain as an audit trail.
type Order struct {
	ID                   snowflake.ID    `json:"id" gorm:"primaryKey"`
	BuyerID              int64           `json:"buyer_id" gorm:"not null;index:ix_orders_buyer"`
	ProductID            *snowflake.ID   `json:"product_id,omitempty"`
	Amount               decimal.Decimal `json:"amount" gorm:"type:text;not null"`
	Currency             string          `json:"currency" gorm:"type:text;not null"`
	GatewayInvoiceID     *string         `json:"gateway_invoice_id,omitempty" gorm:"type:text"`
	State                State           `json:"state" gorm:"type:text;not null"`
	NotificationAttempts int             `json:"notification_attempts" gorm:"not null;default:0"`
	CreatedAt            time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt            time.Time       `json:"updated_at" gorm:"not null"`
}

func (Order) TableName() string { return "orders" }
