package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"whatsapp-crm/internal/api"
	"whatsapp-crm/internal/cache"
	"whatsapp-crm/internal/config"
	"whatsapp-crm/internal/crm"
	"whatsapp-crm/internal/database"
	"whatsapp-crm/internal/inbound"
	"whatsapp-crm/internal/leads"
	"whatsapp-crm/internal/media"
	"whatsapp-crm/internal/metrics"
	"whatsapp-crm/internal/outbound"
	"whatsapp-crm/internal/storage"
	"whatsapp-crm/internal/templates"
	"whatsapp-crm/internal/webhook"
	"whatsapp-crm/internal/whatsapp"
	"whatsapp-crm/internal/window"
	"whatsapp-crm/internal/ws"
	"whatsapp-crm/pkg/logging"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg := config.LoadConfig()
	logger := logging.New(cfg.LogLevel)
	cfg.LogWarnings(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg, logger)
	if err != nil {
		logger.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	if err := database.SyncConfig(db, cfg, logger); err != nil {
		logger.Error("Failed to sync system settings", "error", err)
		os.Exit(1)
	}

	var blobs crm.BlobStore
	if cfg.MinioEndpoint != "" {
		s, err := storage.New(ctx, storage.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			logger.Error("Failed to initialize attachment storage", "error", err)
			os.Exit(1)
		}
		blobs = s
		logger.Info("attachments stored in minio", "bucket", cfg.MinioBucket)
	}
	store := crm.NewStore(db, blobs)

	var guard inbound.ReplayGuard
	if cfg.RedisURL != "" {
		c, err := cache.New(cfg.RedisURL, cfg.WebhookDedupTTL, logger)
		if err != nil {
			logger.Warn("replay guard disabled", "error", err)
		} else {
			defer c.Close()
			guard = c
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	waMetrics := metrics.NewWhatsAppMetrics(registry)

	hub := ws.NewHub(logger)
	go hub.Run(ctx)

	client := whatsapp.NewClient(cfg, logger)
	processor := inbound.NewProcessor(inbound.Options{
		Store:         store,
		Leads:         leads.NewMatcher(store, logger),
		Window:        window.NewTracker(store),
		Media:         media.NewFetcher(client),
		Notifier:      hub,
		Guard:         guard,
		Metrics:       waMetrics,
		Logger:        logger,
		AuthorName:    cfg.PublicAuthorName,
		PublicBaseURL: cfg.PublicBaseURL,
	})
	sender := outbound.NewSender(outbound.Options{
		Provider:       client,
		Store:          store,
		Metrics:        waMetrics,
		Logger:         logger,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	syncer := templates.NewSyncer(client, store, logger)

	r := gin.Default()
	r.Use(api.CORS())

	webhookHandler := webhook.NewHandler(cfg, processor, logger)
	r.GET("/webhook", webhookHandler.VerifyWebhook)
	r.POST("/webhook", webhookHandler.HandleMessage)

	api.RegisterRoutes(r, api.Handlers{
		Leads:         api.NewLeadHandler(store, sender, logger),
		Templates:     api.NewTemplateHandler(store, syncer, logger),
		Attachments:   api.NewAttachmentHandler(store, logger),
		Notifications: api.NewNotificationHandler(store, hub, logger),
		Metrics:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("server shutdown", "error", err)
		}
	}()

	logger.Info("Server starting", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Failed to run server", "error", err)
		os.Exit(1)
	}
}
