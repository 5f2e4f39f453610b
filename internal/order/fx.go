package order

import (
	"github.com/bitvend/bitvend/internal/order/repository"
	"github.com/bitvend/bitvend/internal/order/service"
	"go.uber.org/fx"
)

var Module = fx.Module("order.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
