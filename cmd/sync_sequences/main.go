package main

import (
	"os"

	"whatsapp-crm/internal/config"
	"whatsapp-crm/internal/database"
	"whatsapp-crm/pkg/logging"
)

// Tables with a serial id column. Join tables and system_settings are keyed
// otherwise.
var tables = []string{
	"partners",
	"employees",
	"users",
	"leads",
	"messages",
	"attachments",
	"notifications",
	"templates",
}

func main() {
	cfg := config.LoadConfig()
	logger := logging.New(cfg.LogLevel)
	cfg.LogWarnings(logger)

	cfg.DBDriver = "postgres"
	db, err := database.Open(cfg, logger)
	if err != nil {
		logger.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}

	logger.Info("Syncing PostgreSQL sequences...")

	failed := 0
	for _, table := range tables {
		query := "SELECT setval(pg_get_serial_sequence('" + table + "', 'id'), coalesce(max(id), 0) + 1, false) FROM " + table
		if err := db.Exec(query).Error; err != nil {
			logger.Error("Error syncing sequence", "table", table, "error", err)
			failed++
			continue
		}
		logger.Info("Successfully synced sequence", "table", table)
	}

	if failed > 0 {
		os.Exit(1)
	}
	logger.Info("DONE!")
}
