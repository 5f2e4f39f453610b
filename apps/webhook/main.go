package main

import (
	"github.com/bitvend/bitvend/internal/clock"
	"github.com/bitvend/bitvend/internal/config"
	"github.com/bitvend/bitvend/internal/incident"
	"github.com/bitvend/bitvend/internal/migration"
	"github.com/bitvend/bitvend/internal/observability"
	"github.com/bitvend/bitvend/internal/order"
	"github.com/bitvend/bitvend/internal/outbox"
	"github.com/bitvend/bitvend/internal/payment"
	"github.com/bitvend/bitvend/internal/server"
	"github.com/bitvend/bitvend/pkg/db"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		order.Module,
		outbox.Module,
		incident.Module,
		payment.Module,

		server.WebhookModule,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
