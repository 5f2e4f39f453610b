package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Product is a catalog item a buyer can check out. Price is stored as an
// exact decimal string; orders snapshot it at checkout time.
type Product struct {
	ID               snowflake.ID    `json:"id" gorm:"primaryKey"`
	Title            string          `json:"title" gorm:"type:text;not null"`
	ShortDescription string          `json:"short_description,omitempty" gorm:"type:text"`
	Price            decimal.Decimal `json:"price" gorm:"type:text;not null"`
	Currency         string          `json:"currency" gorm:"type:text;not null"`
	Available        bool            `json:"available" gorm:"not null;default:true"`
	CreatedAt        time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt        time.Time       `json:"updated_at" gorm:"not null"`
}

func (Product) TableName() string { return "products" }

var (
	ErrNotFound     = errors.New("product_not_found")
	ErrInvalidTitle = errors.New("invalid_title")
	ErrInvalidPrice = errors.New("invalid_price")
)

type CreateProductRequest struct {
	Title            string
	ShortDescription string
	Price            decimal.Decimal
	Currency         string
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, product *Product) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Product, error)
	List(ctx context.Context, db *gorm.DB, availableOnly bool) ([]Product, error)
	SetAvailability(ctx context.Context, db *gorm.DB, id snowflake.ID, available bool, now time.Time) error
}

type Service interface {
	Create(ctx context.Context, req CreateProductRequest) (*Product, error)
	Get(ctx context.Context, id snowflake.ID) (*Product, error)
	List(ctx context.Context, availableOnly bool) ([]Product, error)
	SetAvailability(ctx context.Context, id snowflake.ID, available bool) error
}
