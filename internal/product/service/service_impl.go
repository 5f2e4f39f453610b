package service

import (
	"context"
	"strings"

	"github.com/bitvend/bitvend/internal/clock"
	"github.com/bitvend/bitvend/internal/product/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func NewService(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("product.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateProductRequest) (*domain.Product, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, domain.ErrInvalidTitle
	}
	if req.Price.IsZero() || req.Price.IsNegative() {
		return nil, domain.ErrInvalidPrice
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		return nil, domain.ErrInvalidPrice
	}

	now := s.clock.Now()
	product := &domain.Product{
		ID:               s.genID.Generate(),
		Title:            title,
		ShortDescription: strings.TrimSpace(req.ShortDescription),
		Price:            req.Price,
		Currency:         currency,
		Available:        true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.Insert(ctx, s.db, product); err != nil {
		return nil, err
	}

	s.log.Info("product created",
		zap.String("product_id", product.ID.String()),
		zap.String("title", product.Title),
		zap.String("price", product.Price.String()),
	)
	return product, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Product, error) {
	product, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, domain.ErrNotFound
	}
	return product, nil
}

func (s *Service) List(ctx context.Context, availableOnly bool) ([]domain.Product, error) {
	return s.repo.List(ctx, s.db, availableOnly)
}

func (s *Service) SetAvailability(ctx context.Context, id snowflake.ID, available bool) error {
	if err := s.repo.SetAvailability(ctx, s.db, id, available, s.clock.Now()); err != nil {
		return err
	}
	s.log.Info("product availability changed",
		zap.String("product_id", id.String()),
		zap.Bool("available", available),
	)
	return nil
}
