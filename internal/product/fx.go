package product

import (
	"github.com/bitvend/bitvend/internal/product/repository"
	"github.com/bitvend/bitvend/internal/product/service"
	"go.uber.org/fx"
)

var Module = fx.Module("product.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
