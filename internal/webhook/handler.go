package webhook

import (
	"context"
	"io"
	"net/http"

	"whatsapp-crm/internal/config"
	"whatsapp-crm/internal/inbound"
	"whatsapp-crm/pkg/logging"

	"github.com/gin-gonic/gin"
)

// maxBodyBytes caps a webhook delivery body.
const maxBodyBytes = 1 << 20

// Processor consumes one decoded delivery.
type Processor interface {
	Process(ctx context.Context, payload inbound.WebhookPayload) inbound.Result
}

type Handler struct {
	Config    *config.Config
	Processor Processor
	logger    *logging.Logger
}

func NewHandler(cfg *config.Config, processor Processor, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		Config:    cfg,
		Processor: processor,
		logger:    logger,
	}
}

// VerifyWebhook answers the provider's subscription handshake.
func (h *Handler) VerifyWebhook(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "subscribe" && token != "" && token == h.Config.VerifyToken {
		h.logger.Info("webhook: verified")
		c.String(http.StatusOK, challenge)
		return
	}
	h.logger.Warn("webhook: verification rejected", "mode", mode)
	c.Status(http.StatusForbidden)
}

// HandleMessage acknowledges every delivery. Malformed bodies are logged and
// dropped; processing failures never reach the provider.
func (h *Handler) HandleMessage(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		h.logger.Warn("webhook: read body failed", "error", err)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	payload, err := inbound.ParsePayload(body)
	if err != nil {
		h.logger.Warn("webhook: malformed payload", "error", err, "size", len(body))
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}

	// The provider may hang up early; the delivery still runs to completion.
	res := h.Processor.Process(context.WithoutCancel(c.Request.Context()), payload)
	h.logger.Debug("webhook: delivery processed", "outcome", res.Outcome, "kind", res.Kind, "lead_id", res.LeadID)

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
