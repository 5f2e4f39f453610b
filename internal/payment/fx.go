package payment

import (
	"github.com/bitvend/bitvend/internal/payment/gateway"
	"github.com/bitvend/bitvend/internal/payment/repository"
	"github.com/bitvend/bitvend/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.webhook",
	fx.Provide(repository.Provide),
	fx.Provide(gateway.NewAdapter),
	fx.Provide(webhook.NewService),
)
