package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	FindByInvoice(ctx context.Context, db *gorm.DB, gatewayInvoiceID string) (*Order, error)
	// AttachInvoice sets the invoice id if it is not already set and the order
	// is still attachable. Uniqueness across orders is backed by a unique index.
	AttachInvoice(ctx context.Context, db *gorm.DB, id snowflake.ID, gatewayInvoiceID string, now time.Time) error
	// Transition is a compare-and-swap write: the state is updated only when the
	// current state is one of expected. It reports whether a row was changed.
	Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, target State, expected []State, now time.Time) (bool, error)
	IncrementNotificationAttempts(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error
}
