package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handlers groups everything mounted by RegisterRoutes. Nil handlers are
// skipped.
type Handlers struct {
	Leads         *LeadHandler
	Templates     *TemplateHandler
	Attachments   *AttachmentHandler
	Notifications *NotificationHandler
	Metrics       http.Handler
}

// CORS allows the CRM front end to call the API from another origin.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, "+UserHeader)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func RegisterRoutes(r *gin.Engine, h Handlers) {
	apiGroup := r.Group("/api")
	if h.Leads != nil {
		leads := apiGroup.Group("/leads/:id")
		leads.GET("/window", h.Leads.GetWindow)
		leads.GET("/messages", h.Leads.GetMessages)
		leads.POST("/reply", h.Leads.Reply)
		leads.GET("/template-variables", h.Leads.GetTemplateVariables)
		leads.POST("/template", h.Leads.SendTemplate)
	}
	if h.Templates != nil {
		apiGroup.GET("/templates", h.Templates.GetTemplates)
		apiGroup.POST("/templates/sync", h.Templates.SyncTemplates)
		apiGroup.PUT("/templates/:id/descriptions", h.Templates.UpdateDescriptions)
	}
	if h.Attachments != nil {
		apiGroup.GET("/attachments/:id", h.Attachments.Download)
	}
	if h.Notifications != nil {
		apiGroup.GET("/notifications", h.Notifications.GetUnread)
		r.GET("/ws", h.Notifications.ServeWs)
	}
	if h.Metrics != nil {
		r.GET("/metrics", gin.WrapH(h.Metrics))
	}
}
