package main

import (
	"flag"
	"log"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-finance-api/pkg/config"
	"github.com/noah-isme/sma-finance-api/pkg/database"
	"github.com/noah-isme/sma-finance-api/pkg/logger"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up, down or version")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	migrator, err := database.NewMigrator(db.DB, cfg.Database.MigrationsPath, logr)
	if err != nil {
		logr.Fatal("failed to init migrator", zap.Error(err))
	}

	switch *direction {
	case "up":
		err = migrator.Up()
	case "down":
		err = migrator.Down()
	case "version":
		version, dirty, verr := migrator.Version()
		if verr == nil {
			logr.Info("schema version", zap.Uint("version", version), zap.Bool("dirty", dirty))
		}
		err = verr
	default:
		logr.Fatal("unknown direction", zap.String("direction", *direction))
	}
	if err != nil {
		logr.Fatal("migration failed", zap.Error(err))
	}
}
