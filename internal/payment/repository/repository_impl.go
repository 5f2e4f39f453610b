package repository

import (
	"context"

	"github.com/bitvend/bitvend/internal/payment/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.EventRepository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, event *domain.WebhookEvent) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO webhook_events (
			id, gateway_invoice_id, status, amount, currency, outcome, payload, received_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.GatewayInvoiceID,
		event.Status,
		event.Amount,
		event.Currency,
		event.Outcome,
		event.Payload,
		event.ReceivedAt,
	).Error
}

func (r *repo) ListByInvoice(ctx context.Context, db *gorm.DB, gatewayInvoiceID string, limit int) ([]domain.WebhookEvent, error) {
	var items []domain.WebhookEvent
	err := db.WithContext(ctx).Raw(
		`SELECT id, gateway_invoice_id, status, amount, currency, outcome, payload, received_at
		 FROM webhook_events
		 WHERE gateway_invoice_id = ?
		 ORDER BY received_at DESC
		 LIMIT ?`,
		gatewayInvoiceID,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
