package http

import (
	"github.com/gin-gonic/gin"

	"github.com/wamanager/console/internal/api/middleware"
)

// Register mounts every console route on r. Routes that take a JSON body
// refuse any other content type.
func (h *Handlers) Register(r gin.IRouter) {
	jsonBody := middleware.RequireJSON()

	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/status", h.Status)
	r.GET("/dashboard", h.Dashboard)

	// Realtime connection
	rt := r.Group("/realtime")
	rt.POST("/connect", h.Connect)
	rt.POST("/disconnect", h.Disconnect)
	rt.POST("/reconnect", h.Reconnect)
	rt.POST("/topics/:topic", h.Subscribe)
	rt.DELETE("/topics/:topic", h.Unsubscribe)
	rt.GET("/log", h.MessageLog)

	// Activity buffers
	act := r.Group("/activity")
	act.GET("/messages", h.Messages)
	act.GET("/contacts", h.Contacts)
	act.GET("/alerts", h.Alerts)
	act.GET("/stats", h.ActivityStats)
	act.PUT("/buffer-size", jsonBody, h.SetBufferSize)
	act.GET("/export", h.ExportActivity)
	r.DELETE("/activity", h.ClearActivity)

	r.GET("/notifications", h.Notifications)

	// Session
	r.GET("/session", h.Session)
	r.POST("/session/login", jsonBody, h.Login)
	r.POST("/session/logout", h.Logout)

	// Platform passthrough
	r.POST("/files", h.UploadFile)
	r.POST("/files/dir", jsonBody, h.UploadDir)
	r.GET("/search/messages", h.SearchMessages)

	r.POST("/logs", jsonBody, h.IngestLogs)
}
