package api

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"schoolattendance/internal/auth"
)

type registerRequest struct {
	TerminalID string `json:"terminal_id" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// RegisterTerminal enrolls a scanner terminal with the shared enroll key
// and issues its first token pair.
func (h *Handler) RegisterTerminal(c *gin.Context) {
	key := c.GetHeader("X-Enroll-Key")
	if h.cfg.EnrollKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(h.cfg.EnrollKey)) != 1 {
		c.JSON(http.StatusForbidden, gin.H{"error": "invalid enroll key"})
		return
	}
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.deps.Terminals.UpsertTerminal(c.Request.Context(), req.TerminalID); err != nil {
		h.log.Error("terminal upsert failed", zap.String("terminal_id", req.TerminalID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "terminal registration failed"})
		return
	}
	h.issueTokens(c, req.TerminalID, http.StatusCreated)
}

// RefreshTerminal rotates a terminal's token pair. Each refresh token is
// accepted once.
func (h *Handler) RefreshTerminal(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, err := auth.Parse(req.RefreshToken, h.cfg.SigningKey, h.cfg.Issuer)
	if err != nil || !claims.Refresh() || claims.Role != auth.RoleTerminal {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	terminalID, err := h.deps.Terminals.ConsumeRefreshToken(c.Request.Context(), req.RefreshToken)
	if errors.Is(err, auth.ErrRefreshTokenInvalid) || (err == nil && terminalID != claims.Subject) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	if err != nil {
		h.log.Error("refresh token lookup failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "token refresh failed"})
		return
	}
	h.issueTokens(c, terminalID, http.StatusOK)
}

func (h *Handler) issueTokens(c *gin.Context, terminalID string, status int) {
	tokens, err := auth.Issue(terminalID, auth.RoleTerminal, h.cfg.Issuer, h.cfg.SigningKey, h.cfg.AccessTTL, h.cfg.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	if err := h.deps.Terminals.SaveRefreshToken(c.Request.Context(), terminalID, tokens.RefreshToken, tokens.RefreshExp); err != nil {
		h.log.Error("saving refresh token failed", zap.String("terminal_id", terminalID), zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(status, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}
