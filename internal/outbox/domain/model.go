package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Entry is a durable notification of a completed terminal transition. Exactly
// one entry exists per (order, target_state); it is written in the same
// transaction as the transition itself and consumed by the storefront process
// through a claim/acknowledge protocol.
type Entry struct {
	ID             snowflake.ID `json:"id" gorm:"primaryKey"`
	OrderID        snowflake.ID `json:"order_id" gorm:"not null"`
	TargetState    string       `json:"target_state" gorm:"type:text;not null"`
	Delivered      bool         `json:"delivered" gorm:"not null;default:false"`
	Dead           bool         `json:"dead" gorm:"not null;default:false"`
	Attempts       int          `json:"attempts" gorm:"not null;default:0"`
	NextAttemptAt  time.Time    `json:"next_attempt_at" gorm:"not null"`
	LeaseToken     *string      `json:"lease_token,omitempty" gorm:"type:text"`
	LeaseExpiresAt *time.Time   `json:"lease_expires_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at" gorm:"not null"`
	DeliveredAt    *time.Time   `json:"delivered_at,omitempty"`
}

func (Entry) TableName() string { return "outbox_entries" }

var (
	ErrNotFound  = errors.New("outbox_entry_not_found")
	ErrLeaseLost = errors.New("outbox_lease_lost")
	ErrEntryDead = errors.New("outbox_entry_dead")
)

type Repository interface {
	// Insert writes a new entry. It must only be called inside the order
	// store's transition transaction, never independently.
	Insert(ctx context.Context, db *gorm.DB, entry *Entry) error
	FindByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*Entry, error)
	// PullPending returns undelivered, unleased (or lease-expired) entries,
	// oldest next_attempt_at first.
	PullPending(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Entry, error)
	// Claim takes a time-bounded exclusive lease on an entry. Exactly one
	// concurrent claimant succeeds until the lease expires.
	Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, token string, now time.Time, ttl time.Duration) (bool, error)
	// Acknowledge marks the entry delivered. Acknowledging an already
	// delivered entry is a no-op.
	Acknowledge(ctx context.Context, db *gorm.DB, id snowflake.ID, token string, now time.Time) error
	// Reschedule releases the lease and sets the next attempt time; when
	// markDead is set the entry is parked for manual intervention instead.
	Reschedule(ctx context.Context, db *gorm.DB, id snowflake.ID, token string, nextAttemptAt time.Time, markDead bool) error
}
