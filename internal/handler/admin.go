package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/yashbant-mahanty/qsights-vibe-sub007/internal/auth"
	"github.com/yashbant-mahanty/qsights-vibe-sub007/internal/domain"
	"github.com/yashbant-mahanty/qsights-vibe-sub007/internal/logger"
	"github.com/yashbant-mahanty/qsights-vibe-sub007/internal/service"
)

// tagPrefixRule accepts the characters administrators put in link tag
// prefixes: letters, digits, hyphen, underscore. Registered with the Gin
// binding validator as "tagprefix".
func tagPrefixRule(fl validator.FieldLevel) bool {
	prefix := fl.Field().String()
	if prefix == "" {
		return false
	}
	for _, r := range prefix {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}

// RegisterValidators installs the custom binding rules. Call once at startup.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return errors.New("unexpected binding validator engine")
	}
	return v.RegisterValidation("tagprefix", tagPrefixRule)
}

// AdminHandler serves the authenticated link-management endpoints.
type AdminHandler struct {
	svc *service.Service
	log logger.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(svc *service.Service, log logger.Logger) *AdminHandler {
	return &AdminHandler{svc: svc, log: log}
}

// generateRequest is the batch-generation payload.
type generateRequest struct {
	Prefix           string  `json:"prefix" binding:"required,max=10,tagprefix"`
	StartNumber      int     `json:"start_number" binding:"min=0"`
	Count            int     `json:"count" binding:"required,min=1"`
	GroupID          string  `json:"group_id"`
	GroupName        string  `json:"group_name"`
	GroupDescription *string `json:"group_description"`
	LinkType         string  `json:"link_type" binding:"omitempty,oneof=registration anonymous"`
	CreatedBy        int64   `json:"created_by"`
	ExpiresAt        *string `json:"expires_at"`
}

// Generate creates a batch of links. Partial failure is a success response:
// the body carries per-item errors alongside the generated links.
func (h *AdminHandler) Generate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	expiresAt, err := parseExpiresAt(req.ExpiresAt)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expires_at must be RFC 3339"})
		return
	}

	// The authenticated administrator is the creator of record; the payload
	// value only matters for trusted internal callers.
	if claims, ok := auth.GetClaims(c); ok && claims.UserID != 0 {
		req.CreatedBy = claims.UserID
	}

	result, err := h.svc.GenerateBatch(c.Request.Context(), service.BatchRequest{
		ActivityID:       c.Param("id"),
		Prefix:           req.Prefix,
		StartNumber:      req.StartNumber,
		Count:            req.Count,
		GroupID:          req.GroupID,
		GroupName:        req.GroupName,
		GroupDescription: req.GroupDescription,
		LinkType:         domain.LinkType(req.LinkType),
		CreatedBy:        req.CreatedBy,
		ExpiresAt:        expiresAt,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, result)
}

// List returns one page of links with filters and overall statistics.
func (h *AdminHandler) List(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))

	status := domain.Status(c.Query("status"))
	if status != "" && !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status filter"})
		return
	}

	result, err := h.svc.List(c.Request.Context(), service.ListRequest{
		ActivityID: c.Param("id"),
		Status:     status,
		GroupID:    c.Query("group_id"),
		Search:     strings.TrimSpace(c.Query("search")),
		Page:       page,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Statistics returns the overall and per-group usage breakdown. Counts are
// recomputed from link rows on every call.
func (h *AdminHandler) Statistics(c *gin.Context) {
	stats, err := h.svc.Statistics(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// ListGroups returns the activity's groups with derived counts.
func (h *AdminHandler) ListGroups(c *gin.Context) {
	groups, err := h.svc.ListGroups(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"groups": groups})
}

// createGroupRequest names a new link group.
type createGroupRequest struct {
	Name        string  `json:"name" binding:"required,max=255"`
	Description *string `json:"description"`
}

// CreateGroup creates a group, or returns the existing one of the same name.
func (h *AdminHandler) CreateGroup(c *gin.Context) {
	var req createGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	group, err := h.svc.CreateGroup(c.Request.Context(), c.Param("id"), req.Name, req.Description)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, group)
}

// updateStatusRequest carries an administrative status override.
type updateStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=unused expired disabled"`
}

// UpdateStatus applies a status override to one link. Forcing a link to
// "used" is not allowed; that transition belongs to the redemption path.
func (h *AdminHandler) UpdateStatus(c *gin.Context) {
	var req updateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.svc.UpdateStatus(c.Request.Context(), c.Param("id"), c.Param("linkId"), domain.Status(req.Status))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Delete removes an unused link. Used links carry redemption history and are
// refused with 400.
func (h *AdminHandler) Delete(c *gin.Context) {
	err := h.svc.Delete(c.Request.Context(), c.Param("id"), c.Param("linkId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Export returns every matching link as flat CSV-shaped rows.
func (h *AdminHandler) Export(c *gin.Context) {
	status := domain.Status(c.Query("status"))
	if status != "" && !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status filter"})
		return
	}

	result, err := h.svc.Export(c.Request.Context(), c.Param("id"), status, c.Query("group_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// resolveURLsRequest selects links for URL resolution.
type resolveURLsRequest struct {
	LinkIDs []string `json:"link_ids" binding:"required,min=1"`
}

// ResolveURLs returns the full participant-facing URL for each selected link.
// The notification subsystem calls this before emailing links out.
func (h *AdminHandler) ResolveURLs(c *gin.Context) {
	var req resolveURLsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	links, err := h.svc.ResolveURLs(c.Request.Context(), c.Param("id"), req.LinkIDs)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"links": links})
}

// respondError maps service and domain errors onto HTTP statuses.
func (h *AdminHandler) respondError(c *gin.Context, err error) {
	var vErr *service.ValidationError

	switch {
	case errors.As(err, &vErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": vErr.Error()})
	case errors.Is(err, domain.ErrLinkUsedDelete):
		c.JSON(http.StatusBadRequest, gin.H{"error": "used links cannot be deleted"})
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "link not found"})
	case errors.Is(err, domain.ErrGroupNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "link group not found"})
	default:
		h.log.Error("Admin request failed",
			logger.String("path", c.Request.URL.Path),
			logger.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func parseExpiresAt(raw *string) (*time.Time, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, *raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
