package api

import (
	"context"
	"fmt"
	"net/http"

	"whatsapp-crm/internal/models"
	"whatsapp-crm/pkg/logging"

	"github.com/gin-gonic/gin"
)

type AttachmentStore interface {
	OpenAttachment(ctx context.Context, id uint) (*models.Attachment, []byte, error)
}

type AttachmentHandler struct {
	Store  AttachmentStore
	logger *logging.Logger
}

func NewAttachmentHandler(store AttachmentStore, logger *logging.Logger) *AttachmentHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AttachmentHandler{Store: store, logger: logger}
}

// Download streams an attachment's bytes. ?download=1 forces a save dialog.
func (h *AttachmentHandler) Download(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	att, data, err := h.Store.OpenAttachment(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	disposition := "inline"
	if c.Query("download") != "" {
		disposition = "attachment"
	}
	mimeType := att.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	c.Header("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, att.Name))
	c.Data(http.StatusOK, mimeType, data)
}
