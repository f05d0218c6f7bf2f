package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"salespoints-platform/internal/api"
	"salespoints-platform/pkg/config"
	"salespoints-platform/pkg/db"
	"salespoints-platform/pkg/gen"
	"salespoints-platform/pkg/health"
	"salespoints-platform/pkg/logger"
	"salespoints-platform/pkg/redis"
	"salespoints-platform/pkg/sequence"
	"salespoints-platform/pkg/server"
	"salespoints-platform/pkg/task"
	"salespoints-platform/services/audit"
	"salespoints-platform/services/cart"
	"salespoints-platform/services/contract"
	"salespoints-platform/services/ledger"
	"salespoints-platform/services/order"
	"salespoints-platform/services/referral"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		task.Client,
		sequence.Module,
		gen.Module,
		health.Module,
		audit.Module,
		ledger.Module,
		referral.Module,
		contract.Module,
		cart.Module,
		order.Module,
		api.Module,
		server.ProvideHTTPServer,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})
