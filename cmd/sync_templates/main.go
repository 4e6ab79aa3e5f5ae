package main

import (
	"context"
	"os"

	"whatsapp-crm/internal/config"
	"whatsapp-crm/internal/crm"
	"whatsapp-crm/internal/database"
	"whatsapp-crm/internal/templates"
	"whatsapp-crm/internal/whatsapp"
	"whatsapp-crm/pkg/logging"
)

func main() {
	cfg := config.LoadConfig()
	logger := logging.New(cfg.LogLevel)
	cfg.LogWarnings(logger)

	db, err := database.Open(cfg, logger)
	if err != nil {
		logger.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	if err := database.SyncConfig(db, cfg, logger); err != nil {
		logger.Error("Failed to sync system settings", "error", err)
		os.Exit(1)
	}

	syncer := templates.NewSyncer(whatsapp.NewClient(cfg, logger), crm.NewStore(db, nil), logger)
	res, err := syncer.Sync(context.Background())
	if err != nil {
		logger.Error("Template sync failed", "error", err)
		os.Exit(1)
	}
	logger.Info(res.String(), "skipped", res.Skipped)
}
