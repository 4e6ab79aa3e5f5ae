package main

import (
	"os"

	"whatsapp-crm/internal/config"
	"whatsapp-crm/internal/database"
	"whatsapp-crm/internal/models"
	"whatsapp-crm/pkg/logging"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const batchSize = 500

// copyTable moves every row of T from src to dst. Primary keys are kept, so
// run cmd/sync_sequences afterwards.
func copyTable[T any](logger *logging.Logger, src, dst *gorm.DB, table string) {
	logger.Info("Migrating table", "table", table)
	var rows []T
	if err := src.Table(table).Find(&rows).Error; err != nil {
		logger.Error("Error reading table from SQLite", "table", table, "error", err)
		return
	}
	if len(rows) == 0 {
		logger.Info("Nothing to migrate", "table", table)
		return
	}
	err := dst.Transaction(func(tx *gorm.DB) error {
		return tx.Table(table).
			Omit(clause.Associations).
			Clauses(clause.OnConflict{DoNothing: true}).
			CreateInBatches(&rows, batchSize).Error
	})
	if err != nil {
		logger.Error("Error writing table to PostgreSQL", "table", table, "error", err)
		return
	}
	logger.Info("Successfully migrated table", "table", table, "rows", len(rows))
}

type messageRecipient struct {
	MessageID uint
	UserID    uint
}

func main() {
	cfg := config.LoadConfig()
	logger := logging.New(cfg.LogLevel)
	cfg.LogWarnings(logger)

	// 1. Source: the sqlite file at DB_PATH
	sqliteDB, err := gorm.Open(sqlite.Open(cfg.DBPath), &gorm.Config{})
	if err != nil {
		logger.Error("Failed to connect to SQLite", "error", err)
		os.Exit(1)
	}
	logger.Info("Connected to SQLite", "path", cfg.DBPath)

	// 2. Destination: postgres, schema created by Open
	cfg.DBDriver = "postgres"
	pgDB, err := database.Open(cfg, logger)
	if err != nil {
		logger.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting data migration...")

	// Referenced tables first.
	copyTable[models.Partner](logger, sqliteDB, pgDB, "partners")
	copyTable[models.Employee](logger, sqliteDB, pgDB, "employees")
	copyTable[models.User](logger, sqliteDB, pgDB, "users")
	copyTable[models.Lead](logger, sqliteDB, pgDB, "leads")
	copyTable[models.LeadFollower](logger, sqliteDB, pgDB, "lead_followers")
	copyTable[models.Message](logger, sqliteDB, pgDB, "messages")
	copyTable[messageRecipient](logger, sqliteDB, pgDB, "message_recipients")
	copyTable[models.Attachment](logger, sqliteDB, pgDB, "attachments")
	copyTable[models.Notification](logger, sqliteDB, pgDB, "notifications")
	copyTable[models.Template](logger, sqliteDB, pgDB, "templates")
	copyTable[models.SystemSetting](logger, sqliteDB, pgDB, "system_settings")

	logger.Info("Migration completed!")
}
