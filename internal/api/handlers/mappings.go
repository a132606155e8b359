package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/craftlink/domain-warden/internal/db"
	"github.com/craftlink/domain-warden/internal/mapping"
)

type CreateMappingRequest struct {
	Hostname           string                          `json:"hostname" binding:"required,min=1,max=253"`
	CertificateType    string                          `json:"certificate_type" binding:"omitempty,oneof=managed custom"`
	VerificationMethod string                          `json:"verification_method" binding:"omitempty,oneof=dns file email"`
	ForceHTTPS         *bool                           `json:"force_https"`
	AutoRenewal        *bool                           `json:"auto_renewal"`
	CustomCertificate  *mapping.CustomCertificateInput `json:"custom_certificate"`
	Metadata           map[string]interface{}          `json:"metadata"`
}

func (h *Handler) CreateMapping(c *gin.Context) {
	var req CreateMappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	tenantID := c.GetString("tenant_id")

	in := mapping.CreateInput{
		Hostname:           req.Hostname,
		CertificateType:    db.CertManaged,
		VerificationMethod: db.VerifyDNS,
		ForceHTTPS:         true,
		AutoRenewal:        true,
		CustomCertificate:  req.CustomCertificate,
		Actor:              c.GetString("user_email"),
		PlanLevel:          c.GetString("plan_level"),
		Metadata:           db.JSONB(req.Metadata),
	}
	if req.CertificateType != "" {
		in.CertificateType = db.CertificateType(req.CertificateType)
	}
	if req.VerificationMethod != "" {
		in.VerificationMethod = db.VerificationMethod(req.VerificationMethod)
	}
	if req.ForceHTTPS != nil {
		in.ForceHTTPS = *req.ForceHTTPS
	}
	if req.AutoRenewal != nil {
		in.AutoRenewal = *req.AutoRenewal
	}

	m, err := h.mappings.Create(c.Request.Context(), tenantID, in)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	h.logger.Info("Domain mapping created",
		zap.String("mapping_id", m.ID),
		zap.String("hostname", m.Hostname),
		zap.String("tenant_id", tenantID),
	)

	c.JSON(http.StatusCreated, gin.H{
		"mapping":     m,
		"dns_records": m.DNSRecords,
		"next_steps":  mapping.NextSteps(m),
	})
}

func (h *Handler) ListMappings(c *gin.Context) {
	tenantID := c.GetString("tenant_id")

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	offset := (page - 1) * limit

	mappings, stats, err := h.mappings.List(c.Request.Context(), tenantID, limit, offset)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	now := time.Now()
	summaries := make([]mapping.Summary, 0, len(mappings))
	for _, m := range mappings {
		summaries = append(summaries, mapping.Summarize(m, now))
	}

	c.JSON(http.StatusOK, gin.H{
		"mappings": summaries,
		"stats":    stats,
		"pagination": gin.H{
			"page":  page,
			"limit": limit,
			"total": stats.Total,
		},
	})
}

func (h *Handler) GetMapping(c *gin.Context) {
	m, err := h.mappings.Get(c.Request.Context(), c.Param("id"), c.GetString("tenant_id"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	resp := gin.H{
		"mapping":    m,
		"summary":    mapping.Summarize(m, time.Now()),
		"next_steps": mapping.NextSteps(m),
	}
	if m.Status == db.StatusPendingVerification {
		resp["dns_records"] = m.DNSRecords
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) VerifyMapping(c *gin.Context) {
	tenantID := c.GetString("tenant_id")

	out, err := h.mappings.Verify(c.Request.Context(), c.Param("id"), tenantID, c.GetString("user_email"))
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	h.metrics.RecordVerification(tenantID, out.Result.Success)
	if out.CertificateIssued {
		h.metrics.RecordCertificateIssued(out.Mapping.CertificateType)
	}
	if !out.Result.Success {
		for _, reason := range out.Result.Errors {
			h.metrics.RecordVerificationFailure(tenantID, reason)
		}
	}

	resp := gin.H{
		"verified": out.Result.Success,
		"mapping":  out.Mapping,
	}
	if !out.Result.Success {
		resp["errors"] = out.Result.Errors
		if out.Result.RetryAfterSeconds > 0 {
			resp["retry_after_seconds"] = out.Result.RetryAfterSeconds
		}
	}

	c.JSON(http.StatusOK, resp)
}

type UpdateMappingRequest struct {
	ForceHTTPS        *bool                           `json:"force_https"`
	AutoRenewal       *bool                           `json:"auto_renewal"`
	CustomCertificate *mapping.CustomCertificateInput `json:"custom_certificate"`
	Metadata          map[string]interface{}          `json:"metadata"`
}

func (h *Handler) UpdateMapping(c *gin.Context) {
	var req UpdateMappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	m, err := h.mappings.Update(c.Request.Context(), c.Param("id"), c.GetString("tenant_id"), mapping.UpdateInput{
		ForceHTTPS:        req.ForceHTTPS,
		AutoRenewal:       req.AutoRenewal,
		CustomCertificate: req.CustomCertificate,
		Metadata:          db.JSONB(req.Metadata),
		Actor:             c.GetString("user_email"),
	})
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"mapping": m})
}

func (h *Handler) DeleteMapping(c *gin.Context) {
	tenantID := c.GetString("tenant_id")
	id := c.Param("id")

	if err := h.mappings.Delete(c.Request.Context(), id, tenantID, c.GetString("user_email")); err != nil {
		h.respondServiceError(c, err)
		return
	}

	h.logger.Info("Domain mapping deleted",
		zap.String("mapping_id", id),
		zap.String("tenant_id", tenantID),
	)

	c.JSON(http.StatusNoContent, nil)
}

func (h *Handler) RenewCertificate(c *gin.Context) {
	m, err := h.mappings.RenewCertificate(c.Request.Context(), c.Param("id"), c.GetString("tenant_id"), c.GetString("user_email"))
	h.metrics.RecordRenewal(err == nil)
	if err != nil {
		h.respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"mapping":            m,
		"certificate_expiry": m.CertificateExpiry,
	})
}
