package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"whatsapp-crm/internal/models"
	"whatsapp-crm/internal/outbound"
	"whatsapp-crm/internal/templates"
	"whatsapp-crm/internal/window"
	"whatsapp-crm/pkg/logging"

	"github.com/gin-gonic/gin"
)

// UserHeader identifies the acting agent on agent-facing requests.
const UserHeader = "X-User-ID"

type LeadStore interface {
	GetLead(ctx context.Context, id uint) (*models.Lead, error)
	GetUser(ctx context.Context, id uint) (*models.User, error)
	GetTemplate(ctx context.Context, id uint) (*models.Template, error)
	ListMessages(ctx context.Context, leadID uint, limit int) ([]models.Message, error)
}

type Sender interface {
	Reply(ctx context.Context, req outbound.ReplyRequest) (*outbound.Receipt, error)
	SendTemplate(ctx context.Context, req outbound.TemplateRequest) (*outbound.Receipt, error)
}

type LeadHandler struct {
	Store  LeadStore
	Sender Sender
	Now    func() time.Time
	logger *logging.Logger
}

func NewLeadHandler(store LeadStore, sender Sender, logger *logging.Logger) *LeadHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &LeadHandler{Store: store, Sender: sender, Now: time.Now, logger: logger}
}

// GetWindow reports whether free-form replies are currently allowed.
func (h *LeadHandler) GetWindow(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	lead, err := h.Store.GetLead(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, window.StatusAt(lead, h.Now()))
}

// GetMessages returns the lead's activity feed, newest first.
func (h *LeadHandler) GetMessages(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if _, err := h.Store.GetLead(c.Request.Context(), id); err != nil {
		respondError(c, h.logger, err)
		return
	}
	msgs, err := h.Store.ListMessages(c.Request.Context(), id, limit)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, msgs)
}

// Reply sends a free-form message with optional files (multipart form).
func (h *LeadHandler) Reply(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	req := outbound.ReplyRequest{
		LeadID:  id,
		To:      c.PostForm("to"),
		Message: c.PostForm("message"),
	}

	if form, err := c.MultipartForm(); err == nil && form != nil {
		for _, header := range form.File["files"] {
			file, err := header.Open()
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read file " + header.Filename})
				return
			}
			data, err := io.ReadAll(file)
			file.Close()
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read file " + header.Filename})
				return
			}
			req.Files = append(req.Files, outbound.File{
				Name:     header.Filename,
				MimeType: header.Header.Get("Content-Type"),
				Data:     data,
			})
		}
	}

	author, ok := h.author(c)
	if !ok {
		return
	}
	req.Author = author

	receipt, err := h.Sender.Reply(c.Request.Context(), req)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

// GetTemplateVariables returns the variable rows of a template, prefilled
// from the lead where possible.
func (h *LeadHandler) GetTemplateVariables(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	templateID, err := strconv.ParseUint(c.Query("template_id"), 10, 64)
	if err != nil || templateID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "template_id is required"})
		return
	}

	ctx := c.Request.Context()
	lead, err := h.Store.GetLead(ctx, id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	tpl, err := h.Store.GetTemplate(ctx, uint(templateID))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"template":                    tpl,
		"to":                          outbound.DefaultDestination(lead),
		"header_variable_description": tpl.HeaderVariableDescription,
		"variables":                   templates.Prefill(tpl, templates.SourceFor(lead), nil),
	})
}

type sendTemplateRequest struct {
	TemplateID  uint     `json:"template_id" binding:"required"`
	To          string   `json:"to"`
	HeaderValue string   `json:"header_value"`
	Variables   []string `json:"variables"`
}

// SendTemplate sends an approved template to the lead.
func (h *LeadHandler) SendTemplate(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var body sendTemplateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	author, ok := h.author(c)
	if !ok {
		return
	}

	receipt, err := h.Sender.SendTemplate(c.Request.Context(), outbound.TemplateRequest{
		LeadID:      id,
		TemplateID:  body.TemplateID,
		To:          body.To,
		HeaderValue: body.HeaderValue,
		Variables:   body.Variables,
		Author:      author,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

// author loads the acting agent named by UserHeader. Requests without the
// header are logged without an author.
func (h *LeadHandler) author(c *gin.Context) (*models.User, bool) {
	raw := c.GetHeader(UserHeader)
	if raw == "" {
		return nil, true
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + UserHeader})
		return nil, false
	}
	user, err := h.Store.GetUser(c.Request.Context(), uint(id))
	if err != nil {
		respondError(c, h.logger, err)
		return nil, false
	}
	return user, true
}
