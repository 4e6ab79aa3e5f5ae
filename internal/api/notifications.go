package api

import (
	"context"
	"net/http"
	"strconv"

	"whatsapp-crm/internal/models"
	"whatsapp-crm/pkg/logging"

	"github.com/gin-gonic/gin"
)

type NotificationStore interface {
	UnreadNotifications(ctx context.Context, userID uint) ([]models.Notification, error)
}

// SocketServer attaches a websocket to a user.
type SocketServer interface {
	ServeWs(w http.ResponseWriter, r *http.Request, userID uint)
}

type NotificationHandler struct {
	Store  NotificationStore
	Hub    SocketServer
	logger *logging.Logger
}

func NewNotificationHandler(store NotificationStore, hub SocketServer, logger *logging.Logger) *NotificationHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &NotificationHandler{Store: store, Hub: hub, logger: logger}
}

// GetUnread lists the caller's unread inbox entries.
func (h *NotificationHandler) GetUnread(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}
	list, err := h.Store.UnreadNotifications(c.Request.Context(), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if list == nil {
		list = []models.Notification{}
	}
	c.JSON(http.StatusOK, list)
}

// ServeWs opens the live notification channel for ?user_id=.
func (h *NotificationHandler) ServeWs(c *gin.Context) {
	userID, ok := queryUserID(c)
	if !ok {
		return
	}
	h.Hub.ServeWs(c.Writer, c.Request, userID)
}

func queryUserID(c *gin.Context) (uint, bool) {
	raw := c.Query("user_id")
	if raw == "" {
		raw = c.GetHeader(UserHeader)
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return 0, false
	}
	return uint(id), true
}
