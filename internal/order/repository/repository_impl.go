package repository

import (
	"context"
	"time"

	"github.com/bitvend/bitvend/internal/order/domain"
	pkgdb "github.com/bitvend/bitvend/pkg/db"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, order *domain.Order) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO orders (
			id, buyer_id, product_id, amount, currency, gateway_invoice_id,
			state, notification_attempts, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID,
		order.BuyerID,
		order.ProductID,
		order.Amount,
		order.Currency,
		order.GatewayInvoiceID,
		order.State,
		order.NotificationAttempts,
		order.CreatedAt,
		order.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	var item domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT id, buyer_id, product_id, amount, currency, gateway_invoice_id,
			state, notification_attempts, created_at, updated_at
		 FROM orders
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByInvoice(ctx context.Context, db *gorm.DB, gatewayInvoiceID string) (*domain.Order, error) {
	var item domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT id, buyer_id, product_id, amount, currency, gateway_invoice_id,
			state, notification_attempts, created_at, updated_at
		 FROM orders
		 WHERE gateway_invoice_id = ?
		 LIMIT 1`,
		gatewayInvoiceID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) AttachInvoice(ctx context.Context, db *gorm.DB, id snowflake.ID, gatewayInvoiceID string, now time.Time) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET gateway_invoice_id = ?, state = ?, updated_at = ?
		 WHERE id = ?
		   AND gateway_invoice_id IS NULL
		   AND state IN (?, ?)`,
		gatewayInvoiceID,
		domain.StateAwaitingPayment,
		now,
		id,
		domain.StateCreated,
		domain.StateAwaitingPayment,
	)
	if res.Error != nil {
		if pkgdb.IsDuplicateKeyErr(res.Error) {
			return domain.ErrConflict
		}
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}

	existing, err := r.FindByID(ctx, db, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return domain.ErrNotFound
	}
	if existing.GatewayInvoiceID != nil && *existing.GatewayInvoiceID == gatewayInvoiceID {
		// Retried attach of the same invoice is a no-op.
		return nil
	}
	return domain.ErrConflict
}

func (r *repo) Transition(ctx context.Context, db *gorm.DB, id snowflake.ID, target domain.State, expected []domain.State, now time.Time) (bool, error) {
	if len(expected) == 0 {
		return false, domain.ErrInvalidTransition
	}
	res := db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET state = ?, updated_at = ?
		 WHERE id = ? AND state IN ?`,
		target,
		now,
		id,
		expected,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) IncrementNotificationAttempts(ctx context.Context, db *gorm.DB, id snowflake.ID, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET notification_attempts = notification_attempts + 1, updated_at = ?
		 WHERE id = ?`,
		now,
		id,
	).Error
}
