package api

import (
	"context"
	"net/http"

	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/templates"
	"whatsapp-crm/pkg/logging"

	"github.com/gin-gonic/gin"
)

type TemplateStore interface {
	ListTemplates(ctx context.Context) ([]models.Template, error)
	GetTemplate(ctx context.Context, id uint) (*models.Template, error)
	UpdateTemplateDescriptions(ctx context.Context, id uint, variables, header string) error
}

type Syncer interface {
	Sync(ctx context.Context) (templates.SyncResult, error)
}

type TemplateHandler struct {
	Store  TemplateStore
	Syncer Syncer
	logger *logging.Logger
}

func NewTemplateHandler(store TemplateStore, syncer Syncer, logger *logging.Logger) *TemplateHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &TemplateHandler{Store: store, Syncer: syncer, logger: logger}
}

// GetTemplates lists the locally mirrored templates.
func (h *TemplateHandler) GetTemplates(c *gin.Context) {
	list, err := h.Store.ListTemplates(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if list == nil {
		list = []models.Template{}
	}
	c.JSON(http.StatusOK, list)
}

// SyncTemplates pulls approved templates from the provider.
func (h *TemplateHandler) SyncTemplates(c *gin.Context) {
	res, err := h.Syncer.Sync(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  res.String(),
		"created": res.Created,
		"updated": res.Updated,
		"skipped": res.Skipped,
	})
}

type descriptionsRequest struct {
	VariableDescriptions      string `json:"variable_descriptions"`
	HeaderVariableDescription string `json:"header_variable_description"`
}

// UpdateDescriptions stores the agent-maintained variable labels.
func (h *TemplateHandler) UpdateDescriptions(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req descriptionsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	if err := h.Store.UpdateTemplateDescriptions(ctx, id, req.VariableDescriptions, req.HeaderVariableDescription); err != nil {
		respondError(c, h.logger, err)
		return
	}
	tpl, err := h.Store.GetTemplate(ctx, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"template": tpl, "labels": templates.Labels(tpl)})
}
