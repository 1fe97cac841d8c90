package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// LoginRequest signs an operator in
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Remember *bool  `json:"remember,omitempty"`
}

// Login exchanges credentials for a session
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid login request")
		return
	}

	remember := h.session.RememberByDefault()
	if req.Remember != nil {
		remember = *req.Remember
	}

	profile, err := h.session.Login(c.Request.Context(), req.Username, req.Password, remember)
	if err != nil {
		h.logger.Info("Login rejected", zap.String("username", req.Username), zap.Error(err))
		respondError(c, err, http.StatusBadGateway)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": profile, "session": h.sessionInfo()})
}

// Logout ends the session; it always succeeds locally
func (h *Handlers) Logout(c *gin.Context) {
	if err := h.session.Logout(c.Request.Context()); err != nil {
		respondError(c, err, http.StatusInternalServerError)
		return
	}
	c.Status(http.StatusNoContent)
}

// Session describes the current session
func (h *Handlers) Session(c *gin.Context) {
	c.JSON(http.StatusOK, h.sessionInfo())
}

// Notifications returns the most recent user-visible notices
func (h *Handlers) Notifications(c *gin.Context) {
	limit, ok := queryLimit(c, 50)
	if !ok {
		return
	}
	notices := h.notices.Latest(limit)
	c.JSON(http.StatusOK, gin.H{"notifications": notices, "count": len(notices)})
}
