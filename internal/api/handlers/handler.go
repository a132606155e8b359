package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/craftlink/domain-warden/internal/db"
	"github.com/craftlink/domain-warden/internal/health"
	"github.com/craftlink/domain-warden/internal/mapping"
	"github.com/craftlink/domain-warden/internal/metrics"
	"github.com/craftlink/domain-warden/internal/storage/redis"
)

type Handler struct {
	mappings *mapping.Service
	monitor  *health.Monitor
	repo     *db.Repository
	cache    *redis.Client
	metrics  *metrics.Collector
	logger   *zap.Logger
}

func NewHandler(mappings *mapping.Service, monitor *health.Monitor, repo *db.Repository, cache *redis.Client, collector *metrics.Collector, logger *zap.Logger) *Handler {
	return &Handler{
		mappings: mappings,
		monitor:  monitor,
		repo:     repo,
		cache:    cache,
		metrics:  collector,
		logger:   logger,
	}
}

// respondServiceError maps service errors onto HTTP statuses. Anything
// unrecognized is a 500 with a generic body.
func (h *Handler) respondServiceError(c *gin.Context, err error) {
	var vErr *mapping.ValidationError
	switch {
	case errors.As(err, &vErr):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":       "Hostname validation failed",
			"issues":      vErr.Issues,
			"suggestions": vErr.Suggestions,
		})
	case errors.Is(err, mapping.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Domain mapping not found"})
	case errors.Is(err, mapping.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "Hostname is already mapped"})
	case errors.Is(err, mapping.ErrPlanLimit):
		c.JSON(http.StatusForbidden, gin.H{"error": "Domain mapping limit reached for your plan"})
	case errors.Is(err, mapping.ErrInvalidState):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Operation not permitted in current mapping status"})
	default:
		h.logger.Error("Request failed", zap.Error(err), zap.String("path", c.FullPath()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
