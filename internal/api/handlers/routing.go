package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/craftlink/domain-warden/internal/db"
	"github.com/craftlink/domain-warden/internal/hostname"
	"github.com/craftlink/domain-warden/internal/storage/redis"
)

// ResolveRouting answers the edge's hostname->tenant lookup. Only active,
// verified mappings are routable. Hits are cached for a few minutes; the
// state machine invalidates the entry on any change.
func (h *Handler) ResolveRouting(c *gin.Context) {
	host := hostname.Normalize(c.Param("hostname"))
	ctx := c.Request.Context()

	if entry, err := h.cache.GetCachedRouting(ctx, host); err == nil && entry != nil {
		go h.recordAccess(entry.MappingID)
		c.JSON(http.StatusOK, entry)
		return
	}

	m, err := h.repo.GetRoutableMapping(ctx, host)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No routable mapping for hostname"})
			return
		}
		h.logger.Error("Routing lookup failed", zap.Error(err), zap.String("hostname", host))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	entry := &redis.RoutingEntry{
		MappingID:  m.ID,
		TenantID:   m.TenantID,
		ForceHTTPS: m.ForceHTTPS,
	}
	if err := h.cache.CacheRouting(ctx, host, entry); err != nil {
		h.logger.Warn("Failed to cache routing entry", zap.Error(err), zap.String("hostname", host))
	}

	go h.recordAccess(m.ID)
	c.JSON(http.StatusOK, entry)
}

func (h *Handler) recordAccess(mappingID string) {
	ctx, cancel := contextWithBackground()
	defer cancel()
	if err := h.repo.RecordAccess(ctx, mappingID); err != nil {
		h.logger.Warn("Failed to record access", zap.Error(err), zap.String("mapping_id", mappingID))
	}
}
