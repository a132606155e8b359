package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/craftlink/domain-warden/internal/certs"
)

// GetMappingHealth returns the stored health snapshot without touching
// the origin. POST .../test is the live variant.
func (h *Handler) GetMappingHealth(c *gin.Context) {
	m, err := h.mappings.Get(c.Request.Context(), c.Param("id"), c.GetString("tenant_id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	now := time.Now()
	c.JSON(http.StatusOK, gin.H{
		"hostname":             m.Hostname,
		"health_status":        m.HealthStatus,
		"dns_status":           m.DNSStatus,
		"ssl_status":           certs.ClassifySSL(m.SSLEnabled, m.CertificateExpiry, now),
		"days_until_expiry":    certs.DaysUntilExpiry(m.CertificateExpiry, now),
		"avg_response_time_ms": m.AvgResponseTimeMs,
		"uptime_percentage":    m.UptimePercentage,
		"last_health_check":    m.LastHealthCheck,
		"last_downtime_at":     m.LastDowntimeAt,
		"issues":               m.Issues,
	})
}

// TestMapping runs the full health check inline and returns the report.
func (h *Handler) TestMapping(c *gin.Context) {
	m, err := h.mappings.Get(c.Request.Context(), c.Param("id"), c.GetString("tenant_id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	start := time.Now()
	report := h.monitor.CheckHealth(c.Request.Context(), m)
	h.metrics.RecordHealthCheck(m, report, time.Since(start))

	c.JSON(http.StatusOK, gin.H{"report": report})
}

func (h *Handler) GetMappingAnalytics(c *gin.Context) {
	m, err := h.mappings.Get(c.Request.Context(), c.Param("id"), c.GetString("tenant_id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"hostname":             m.Hostname,
		"request_count":        m.RequestCount,
		"last_accessed_at":     m.LastAccessedAt,
		"uptime_percentage":    m.UptimePercentage,
		"avg_response_time_ms": m.AvgResponseTimeMs,
		"last_downtime_at":     m.LastDowntimeAt,
	})
}
