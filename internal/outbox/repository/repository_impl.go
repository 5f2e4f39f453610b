package repository

import (
	"context"
	"time"

	"github.com/bitvend/bitvend/internal/outbox/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.Entry) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO outbox_entries (
			id, order_id, target_state, delivered, dead, attempts,
			next_attempt_at, lease_token, lease_expires_at, created_at, delivered_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.OrderID,
		entry.TargetState,
		entry.Delivered,
		entry.Dead,
		entry.Attempts,
		entry.NextAttemptAt,
		entry.LeaseToken,
		entry.LeaseExpiresAt,
		entry.CreatedAt,
		entry.DeliveredAt,
	).Error
}

func (r *repo) FindByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*domain.Entry, error) {
	var item domain.Entry
	err := db.WithContext(ctx).Raw(
		`SELECT id, order_id, target_state, delivered, dead, attempts,
			next_attempt_at, lease_token, lease_expires_at, created_at, delivered_at
		 FROM outbox_entries
		 WHERE order_id = ?
		 LIMIT 1`,
		orderID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) PullPending(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.Entry, error) {
	var items []domain.Entry
	err := db.WithContext(ctx).Raw(
		`SELECT id, order_id, target_state, delivered, dead, attempts,
			next_attempt_at, lease_token, lease_expires_at, created_at, delivered_at
		 FROM outbox_entries
		 WHERE delivered = FALSE
		   AND dead = FALSE
		   AND next_attempt_at <= ?
		   AND (lease_token IS NULL OR lease_expires_at <= ?)
		 ORDER BY next_attempt_at ASC
		 LIMIT ?`,
		now,
		now,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Claim(ctx context.Context, db *gorm.DB, id snowflake.ID, token string, now time.Time, ttl time.Duration) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE outbox_entries
		 SET lease_token = ?, lease_expires_at = ?, attempts = attempts + 1
		 WHERE id = ?
		   AND delivered = FALSE
		   AND dead = FALSE
		   AND (lease_token IS NULL OR lease_expires_at <= ?)`,
		token,
		now.Add(ttl),
		id,
		now,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) Acknowledge(ctx context.Context, db *gorm.DB, id snowflake.ID, token string, now time.Time) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE outbox_entries
		 SET delivered = TRUE, delivered_at = ?, lease_token = NULL, lease_expires_at = NULL
		 WHERE id = ? AND delivered = FALSE AND lease_token = ?`,
		now,
		id,
		token,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var item domain.Entry
	if err := db.WithContext(ctx).Raw(
		`SELECT id, delivered, dead FROM outbox_entries WHERE id = ? LIMIT 1`,
		id,
	).Scan(&item).Error; err != nil {
		return err
	}
	switch {
	case item.ID == 0:
		return domain.ErrNotFound
	case item.Delivered:
		return nil
	case item.Dead:
		return domain.ErrEntryDead
	default:
		return domain.ErrLeaseLost
	}
}

func (r *repo) Reschedule(ctx context.Context, db *gorm.DB, id snowflake.ID, token string, nextAttemptAt time.Time, markDead bool) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE outbox_entries
		 SET lease_token = NULL, lease_expires_at = NULL, next_attempt_at = ?, dead = ?
		 WHERE id = ? AND delivered = FALSE AND lease_token = ?`,
		nextAttemptAt,
		markDead,
		id,
		token,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrLeaseLost
	}
	return nil
}
