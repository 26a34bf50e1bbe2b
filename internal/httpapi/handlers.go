package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"racing-admin/internal/audit"
	"racing-admin/internal/auth"
	"racing-admin/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups the admin audit API for dependency injection.
// Keep these thin: parse/validate input, call the audit package, return JSON.
// Routes are expected to sit behind bearer auth and the ADMIN role.
type Handlers struct {
	Store     audit.Store
	Retention *audit.Retention
	Metrics   *audit.Metrics
	// Mutating is the keep-list for PurgeNonMutating; audit.MutatingMethods when empty.
	Mutating []string
}

// Register mounts the handlers on an /api/admin/audit group.
func (h Handlers) Register(g *gin.RouterGroup) {
	g.GET("", h.ListEvents)
	g.GET("/:id", h.GetEvent)
	g.DELETE("", h.ClearEvents)
	g.POST("/maintenance/purge-non-mutating", h.PurgeNonMutating)
	g.POST("/maintenance/retention", h.RunRetention)
}

// ListEvents: GET ?q=&page=0&size=25. page and size are clamped, not rejected,
// but must be integers.
func (h Handlers) ListEvents(c *gin.Context) {
	page, err := intQuery(c, "page", 0)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "page must be an integer"})
		return
	}
	size, err := intQuery(c, "size", audit.DefaultPageSize)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "size must be an integer"})
		return
	}

	p, err := h.Store.Search(c.Request.Context(), c.Query("q"), page, size)
	if err != nil {
		logger.FromGin(c).Error("audit search failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "search failed"})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h Handlers) GetEvent(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}

	e, err := h.Store.Get(c.Request.Context(), id)
	switch {
	case errors.Is(err, audit.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	case err != nil:
		logger.FromGin(c).Error("audit get failed", "err", err, "id", id)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	c.JSON(http.StatusOK, e)
}

// ClearEvents deletes the whole trail. The operator is logged since the
// audit API itself is not audited.
func (h Handlers) ClearEvents(c *gin.Context) {
	n, err := h.Store.ClearAll(c.Request.Context())
	if err != nil {
		logger.FromGin(c).Error("audit clear failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "clear failed"})
		return
	}
	h.Metrics.ObservePurge("clear", n)
	logger.FromGin(c).Warn("audit log cleared", "actor", operator(c), "deleted", n)
	c.JSON(http.StatusOK, gin.H{"message": "audit log cleared", "deleted": n})
}

// PurgeNonMutating removes every row whose method is not a mutating verb,
// including unusual or lower-case verbs recorded before the policy changed.
func (h Handlers) PurgeNonMutating(c *gin.Context) {
	keep := h.Mutating
	if len(keep) == 0 {
		keep = audit.MutatingMethods
	}
	n, err := h.Store.DeleteExceptMethods(c.Request.Context(), keep)
	if err != nil {
		logger.FromGin(c).Error("audit purge failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "purge failed"})
		return
	}
	h.Metrics.ObservePurge("non_mutating", n)
	logger.FromGin(c).Info("audit non-mutating rows purged", "actor", operator(c), "deleted", n)
	c.JSON(http.StatusOK, gin.H{"message": "non-mutating audit events purged", "deleted": n})
}

// RunRetention triggers a retention pass now; 409 while one is in progress.
func (h Handlers) RunRetention(c *gin.Context) {
	if h.Retention == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "retention not configured"})
		return
	}
	res, err := h.Retention.RunOnce(c.Request.Context())
	switch {
	case errors.Is(err, audit.ErrRetentionBusy):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "retention already running"})
		return
	case err != nil:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "retention failed"})
		return
	}
	c.JSON(http.StatusOK, res)
}

func intQuery(c *gin.Context, key string, def int) (int, error) {
	v, ok := c.GetQuery(key)
	if !ok || v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func operator(c *gin.Context) string {
	if email, err := auth.Email(c.Request.Context()); err == nil {
		return email
	}
	return audit.AnonymousActor
}
