package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type CreateOrderRequest struct {
	BuyerID   int64
	ProductID *snowflake.ID
	Amount    decimal.Decimal
	Currency  string
}

// Outcome reports what applying a verified gateway payload did.
type Outcome string

const (
	// OutcomeApplied means the order transitioned and an outbox entry was written.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate means the order was already in the target state; nothing changed.
	OutcomeDuplicate Outcome = "duplicate"
)

// ApplyPaymentRequest carries a verified gateway notification into the state
// machine. Amount and currency are compared against the stored order and a
// mismatch is rejected, never auto-corrected.
type ApplyPaymentRequest struct {
	GatewayInvoiceID string
	TargetState      State
	Amount           decimal.Decimal
	Currency         string
	RawPayload       []byte
}

type Service interface {
	Create(ctx context.Context, req CreateOrderRequest) (*Order, error)
	AttachInvoice(ctx context.Context, orderID snowflake.ID, gatewayInvoiceID string) error
	ApplyPayment(ctx context.Context, req ApplyPaymentRequest) (Outcome, error)
	MarkNotified(ctx context.Context, orderID snowflake.ID) error
	GetByID(ctx context.Context, orderID snowflake.ID) (*Order, error)
	GetByInvoice(ctx context.Context, gatewayInvoiceID string) (*Order, error)
}

var (
	ErrInvalidBuyer      = errors.New("invalid_buyer")
	ErrInvalidAmount     = errors.New("invalid_amount")
	ErrInvalidCurrency   = errors.New("invalid_currency")
	ErrNotFound          = errors.New("order_not_found")
	ErrConflict          = errors.New("invoice_conflict")
	ErrStaleState        = errors.New("stale_state")
	ErrInvalidTransition = errors.New("invalid_transition")
	ErrStateConflict     = errors.New("state_conflict")
)
