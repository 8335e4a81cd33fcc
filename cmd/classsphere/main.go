package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/classsphere/classsphere/internal/clock"
	"github.com/classsphere/classsphere/internal/config"
	"github.com/classsphere/classsphere/internal/currency"
	"github.com/classsphere/classsphere/internal/migration"
	"github.com/classsphere/classsphere/internal/notification"
	"github.com/classsphere/classsphere/internal/observability"
	"github.com/classsphere/classsphere/internal/payment"
	"github.com/classsphere/classsphere/internal/reconcile"
	"github.com/classsphere/classsphere/internal/server"
	"github.com/classsphere/classsphere/internal/wallet"
	"github.com/classsphere/classsphere/pkg/db"
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

		notification.Module,
		currency.Module,
		wallet.Module,
		payment.Module,
		reconcile.Module,

		server.Module,
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
