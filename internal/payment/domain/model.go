package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Status is the payment status reported by the gateway, normalized to the
// small set the state machine understands.
type Status string

const (
	StatusPaid         Status = "paid"
	StatusFailed       Status = "failed"
	StatusExpired      Status = "expired"
	StatusUnrecognized Status = "unrecognized"
)

// Notification is a gateway callback that passed signature verification and
// parsed cleanly. RawStatus preserves the gateway's own wording for audit
// and incident records.
type Notification struct {
	GatewayInvoiceID string
	Status           Status
	RawStatus        string
	Amount           decimal.Decimal
	Currency         string
	RawPayload       []byte
}

// Verifier authenticates and decodes gateway callbacks. Verify must run
// before Parse: payload bytes are untrusted until the signature is accepted.
type Verifier interface {
	Verify(payload []byte, headers http.Header) error
	Parse(payload []byte) (*Notification, error)
}

var (
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrMalformedPayload = errors.New("malformed_payload")
)

// WebhookEvent is the audit record of one verified callback and what the
// state machine did with it. Unverified payloads are never persisted.
type WebhookEvent struct {
	ID               snowflake.ID   `json:"id" gorm:"primaryKey"`
	GatewayInvoiceID string         `json:"gateway_invoice_id" gorm:"type:text;not null"`
	Status           string         `json:"status" gorm:"type:text;not null"`
	Amount           string         `json:"amount" gorm:"type:text;not null"`
	Currency         string         `json:"currency" gorm:"type:text;not null"`
	Outcome          string         `json:"outcome" gorm:"type:text;not null"`
	Payload          datatypes.JSON `json:"payload" gorm:"type:text;not null"`
	ReceivedAt       time.Time      `json:"received_at" gorm:"not null"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }

type EventRepository interface {
	Insert(ctx context.Context, db *gorm.DB, event *WebhookEvent) error
	ListByInvoice(ctx context.Context, db *gorm.DB, gatewayInvoiceID string, limit int) ([]WebhookEvent, error)
}
