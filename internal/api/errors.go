package api

import (
	"errors"
	"net/http"
	"strconv"

	"whatsapp-crm/internal/config"
	"whatsapp-crm/internal/crm"
	"whatsapp-crm/internal/outbound"
	"whatsapp-crm/internal/whatsapp"
	"whatsapp-crm/pkg/logging"

	"github.com/gin-gonic/gin"
)

// respondError maps domain errors onto HTTP statuses.
func respondError(c *gin.Context, logger *logging.Logger, err error) {
	var (
		verr   *outbound.ValidationError
		apiErr *whatsapp.APIError
	)
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": verr.Error(), "field": verr.Field})
	case errors.Is(err, outbound.ErrWindowClosed),
		errors.Is(err, config.ErrSendCredentials),
		errors.Is(err, config.ErrSyncCredentials):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, crm.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &apiErr):
		logger.Warn("api: provider rejected request", "status", apiErr.StatusCode, "code", apiErr.Code, "error", apiErr.Message)
		c.JSON(http.StatusBadGateway, gin.H{"error": apiErr.Message, "details": apiErr.Details})
	default:
		logger.Error("api: request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return uint(id), true
}
