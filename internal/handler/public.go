// Package handler contains the Gin handlers for the generated-link API:
// the unauthenticated public surface (validate, mark-used) and the
// authenticated administrative surface.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yashbant-mahanty/qsights-vibe-sub007/internal/domain"
	"github.com/yashbant-mahanty/qsights-vibe-sub007/internal/logger"
	"github.com/yashbant-mahanty/qsights-vibe-sub007/internal/middleware"
	"github.com/yashbant-mahanty/qsights-vibe-sub007/internal/service"
)

// invalidLinkMessage is the only negative detail the public surface reveals.
// Not-found, used, expired, and disabled all read the same from outside so
// the endpoint cannot be used to probe token state.
const invalidLinkMessage = "invalid or expired link"

// PublicHandler serves the unauthenticated participant-facing endpoints.
type PublicHandler struct {
	svc *service.Service
	log logger.Logger
}

// NewPublicHandler creates a PublicHandler.
func NewPublicHandler(svc *service.Service, log logger.Logger) *PublicHandler {
	return &PublicHandler{svc: svc, log: log}
}

// Validate answers whether a token is currently redeemable. It never writes:
// repeated calls are safe and an expired deadline is reported without
// flipping the stored status.
func (h *PublicHandler) Validate(c *gin.Context) {
	tok := c.Param("token")
	if tok == "" {
		c.JSON(http.StatusNotFound, gin.H{"valid": false, "message": invalidLinkMessage})
		return
	}

	result, err := h.svc.Validate(c.Request.Context(), tok)
	if err != nil {
		h.log.Error("Token validation failed", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "validation unavailable"})
		return
	}

	if !result.Valid {
		h.log.Info("Rejected link validation",
			logger.String("reason", result.Reason),
			logger.String("client_ip", c.ClientIP()),
			logger.Bool("scanner", middleware.IsScanner(c)),
		)
		c.JSON(http.StatusNotFound, gin.H{"valid": false, "message": invalidLinkMessage})
		return
	}

	c.JSON(http.StatusOK, gin.H{"valid": true, "data": result.Data})
}

// markUsedRequest is the redemption payload posted when a survey response is
// saved.
type markUsedRequest struct {
	Token         string `json:"token" binding:"required"`
	ParticipantID int64  `json:"participant_id" binding:"required"`
	ResponseID    string `json:"response_id" binding:"required"`
}

// MarkUsed redeems a token. The storage layer's conditional update makes
// this at-most-once: a concurrent duplicate gets 409 and the stored
// redemption record keeps the first caller's details.
func (h *PublicHandler) MarkUsed(c *gin.Context) {
	var req markUsedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.svc.MarkUsed(c.Request.Context(), req.Token, req.ParticipantID, req.ResponseID)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "link marked as used"})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "link not found"})
	case errors.Is(err, domain.ErrAlreadyUsed):
		c.JSON(http.StatusConflict, gin.H{"error": "link already used"})
	case errors.Is(err, domain.ErrLinkUnavailable):
		c.JSON(http.StatusGone, gin.H{"error": "link expired or disabled"})
	default:
		h.log.Error("Link redemption failed", logger.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "redemption unavailable"})
	}
}
