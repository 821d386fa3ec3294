package db

import (
	"fmt"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"go-recruiter/internal/config"
	"go-recruiter/internal/logging"
	"go-recruiter/internal/session"
)

var DB *gorm.DB

// Init opens the database selected by store.driver and migrates the session table.
func Init(cfg *config.Config, logger *zap.Logger) error {
	var dialector gorm.Dialector
	switch cfg.Store.Driver {
	case config.StorePostgres:
		dialector = postgres.Open(cfg.Postgres.DSN)
	case config.StoreSQLite:
		dialector = sqlite.Open(cfg.SQLite.Path)
	default:
		return fmt.Errorf("store driver %q is not backed by a database", cfg.Store.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return err
	}

	// Auto-migrate session records
	if err := db.AutoMigrate(&session.Record{}); err != nil {
		return err
	}

	DB = db
	logging.OrNop(logger).Info("Database connected and migrated", zap.String("driver", cfg.Store.Driver))
	return nil
}
