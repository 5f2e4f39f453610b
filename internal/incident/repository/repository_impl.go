package repository

import (
	"context"

	"github.com/bitvend/bitvend/internal/incident/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, incident *domain.Incident) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO incidents (
			id, order_id, gateway_invoice_id, reason, details, payload, resolved, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		incident.ID,
		incident.OrderID,
		incident.GatewayInvoiceID,
		incident.Reason,
		incident.Details,
		incident.Payload,
		incident.Resolved,
		incident.CreatedAt,
	).Error
}

func (r *repo) ListOpen(ctx context.Context, db *gorm.DB, limit int) ([]domain.Incident, error) {
	var items []domain.Incident
	err := db.WithContext(ctx).Raw(
		`SELECT id, order_id, gateway_invoice_id, reason, details, payload, resolved, created_at
		 FROM incidents
		 WHERE resolved = FALSE
		 ORDER BY created_at ASC
		 LIMIT ?`,
		limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) Resolve(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE incidents SET resolved = TRUE WHERE id = ?`,
		id,
	)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
