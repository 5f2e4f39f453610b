package repository

import (
	"context"
	"time"

	"github.com/bitvend/bitvend/internal/product/domain"
	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, product *domain.Product) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO products (
			id, title, short_description, price, currency, available, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		product.ID,
		product.Title,
		product.ShortDescription,
		product.Price,
		product.Currency,
		product.Available,
		product.CreatedAt,
		product.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Product, error) {
	var item domain.Product
	err := db.WithContext(ctx).Raw(
		`SELECT id, title, short_description, price, currency, available, created_at, updated_at
		 FROM products
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

func (r *repo) List(ctx context.Context, db *gorm.DB, availableOnly bool) ([]domain.Product, error) {
	query := `SELECT id, title, short_description, price, currency, available, created_at, updated_at
		 FROM products`
	if availableOnly {
		query += ` WHERE available = TRUE`
	}
	query += ` ORDER BY created_at ASC`

	var items []domain.Product
	if err := db.WithContext(ctx).Raw(query).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) SetAvailability(ctx context.Context, db *gorm.DB, id snowflake.ID, available bool, now time.Time) error {
	res := db.WithContext(ctx).Exec(
		`UPDATE products SET available = ?, updated_at = ? WHERE id = ?`,
		available,
		now,
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
