package main

import (
	"log"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"salespoints-platform/pkg/config"
	"salespoints-platform/pkg/db"
	"salespoints-platform/pkg/gen"
	"salespoints-platform/pkg/logger"
	"salespoints-platform/services/audit"
	"salespoints-platform/services/cart"
	"salespoints-platform/services/contract"
	"salespoints-platform/services/ledger"
	"salespoints-platform/services/order"
	"salespoints-platform/services/referral"
)

// Migrates the schema and installs the baseline status catalogue. Meant for
// local development and fresh environments, not for production rollouts.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		gen.Module,
		fx.Invoke(migrate, seed),
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

func migrate(conn *gorm.DB) error {
	return conn.AutoMigrate(
		&ledger.Agent{},
		&ledger.Movement{},
		&referral.Lead{},
		&referral.LeadConversion{},
		&contract.ProductFamily{},
		&contract.Product{},
		&contract.StatusOption{},
		&contract.Contract{},
		&cart.Article{},
		&cart.Item{},
		&order.Order{},
		&order.Item{},
		&audit.AuditLog{},
	)
}

func seed(conn *gorm.DB, node *snowflake.Node) error {
	options := []contract.StatusOption{
		{StatusID: "draft"},
		{StatusID: "submitted"},
		{StatusID: "active", GeneratesValue: true, GeneratesCareer: true},
		{StatusID: "suspended"},
		{StatusID: "terminated"},
	}

	for _, opt := range options {
		opt.ID = node.Generate().String()
		err := conn.
			Where(&contract.StatusOption{StatusID: opt.StatusID, Role: opt.Role}).
			FirstOrCreate(&opt).Error
		if err != nil {
			return err
		}
	}

	zap.L().Info("seed complete", zap.Int("status_options", len(options)))
	return nil
}
