package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Incident is a payload that was rejected by the state machine and needs a
// human decision: a conflicting terminal status, an amount or currency
// mismatch, or a gateway status we do not recognize. Incidents are never
// auto-resolved by the webhook path.
type Incident struct {
	ID               snowflake.ID      `json:"id" gorm:"primaryKey"`
	OrderID          *snowflake.ID     `json:"order_id,omitempty"`
	GatewayInvoiceID *string           `json:"gateway_invoice_id,omitempty" gorm:"type:text"`
	Reason           string            `json:"reason" gorm:"type:text;not null"`
	Details          datatypes.JSONMap `json:"details" gorm:"type:text;not null"`
	Payload          datatypes.JSON    `json:"payload,omitempty" gorm:"type:text"`
	Resolved         bool              `json:"resolved" gorm:"not null;default:false"`
	CreatedAt        time.Time         `json:"created_at" gorm:"not null"`
}

func (Incident) TableName() string { return "incidents" }

var ErrNotFound = errors.New("incident_not_found")

const (
	ReasonConflictingStatus = "conflicting_terminal_status"
	ReasonAmountMismatch    = "amount_mismatch"
	ReasonCurrencyMismatch  = "currency_mismatch"
	ReasonUnknownStatus     = "unknown_gateway_status"
	ReasonDeadOutboxEntry   = "dead_outbox_entry"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, incident *Incident) error
	ListOpen(ctx context.Context, db *gorm.DB, limit int) ([]Incident, error)
	Resolve(ctx context.Context, db *gorm.DB, id snowflake.ID) error
}
