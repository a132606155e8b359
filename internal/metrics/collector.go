package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/craftlink/domain-warden/internal/db"
	"github.com/craftlink/domain-warden/internal/health"
)

// Collector exposes operational metrics for the domain-mapping pipeline
// on the standard /metrics endpoint.
type Collector struct {
	verificationsTotal *prometheus.CounterVec
	verificationFails  *prometheus.CounterVec

	certIssuedTotal     *prometheus.CounterVec
	certRenewalsTotal   *prometheus.CounterVec
	certDaysUntilExpiry *prometheus.GaugeVec

	healthCheckDuration *prometheus.HistogramVec
	healthStatus        *prometheus.GaugeVec
	responseTimeMs      *prometheus.GaugeVec

	mappingsByStatus *prometheus.GaugeVec
	queueDepth       prometheus.Gauge
}

func NewCollector() *Collector {
	return &Collector{
		verificationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "domain_verifications_total",
				Help: "Total DNS ownership verification attempts",
			},
			[]string{"tenant_id", "outcome"},
		),
		verificationFails: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "domain_verification_failures_total",
				Help: "Verification attempts that did not reach active",
			},
			[]string{"tenant_id", "reason"},
		),
		certIssuedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "domain_certificates_issued_total",
				Help: "Certificates issued, by type",
			},
			[]string{"type"},
		),
		certRenewalsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "domain_certificate_renewals_total",
				Help: "Certificate renewal attempts",
			},
			[]string{"outcome"},
		),
		certDaysUntilExpiry: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "domain_certificate_days_until_expiry",
				Help: "Days until certificate expiry per hostname",
			},
			[]string{"tenant_id", "hostname"},
		),
		healthCheckDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "domain_health_check_duration_seconds",
				Help:    "Duration of full health check passes",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"tenant_id"},
		),
		healthStatus: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "domain_health_status",
				Help: "Health status per mapping (0=unknown 1=healthy 2=warning 3=error)",
			},
			[]string{"tenant_id", "hostname"},
		),
		responseTimeMs: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "domain_response_time_ms",
				Help: "Last observed response time per hostname",
			},
			[]string{"tenant_id", "hostname"},
		),
		mappingsByStatus: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "domain_mappings_total",
				Help: "Mappings by lifecycle status",
			},
			[]string{"status"},
		),
		queueDepth: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "domain_check_queue_depth",
				Help: "Jobs waiting in the check queue",
			},
		),
	}
}

func (c *Collector) RecordVerification(tenantID string, success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	c.verificationsTotal.WithLabelValues(tenantID, outcome).Inc()
}

func (c *Collector) RecordVerificationFailure(tenantID, reason string) {
	c.verificationFails.WithLabelValues(tenantID, reason).Inc()
}

func (c *Collector) RecordCertificateIssued(certType db.CertificateType) {
	c.certIssuedTotal.WithLabelValues(string(certType)).Inc()
}

func (c *Collector) RecordRenewal(success bool) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	c.certRenewalsTotal.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordHealthCheck(m *db.DomainMapping, report *health.Report, duration time.Duration) {
	c.healthCheckDuration.WithLabelValues(m.TenantID).Observe(duration.Seconds())
	c.healthStatus.WithLabelValues(m.TenantID, m.Hostname).Set(healthValue(report.Overall))
	if report.ResponseTimeMs > 0 {
		c.responseTimeMs.WithLabelValues(m.TenantID, m.Hostname).Set(float64(report.ResponseTimeMs))
	}
	if m.CertificateExpiry != nil {
		c.certDaysUntilExpiry.WithLabelValues(m.TenantID, m.Hostname).Set(float64(time.Until(*m.CertificateExpiry).Hours() / 24))
	}
}

func (c *Collector) SetMappingCount(status db.MappingStatus, count int) {
	c.mappingsByStatus.WithLabelValues(string(status)).Set(float64(count))
}

func (c *Collector) SetQueueDepth(depth int64) {
	c.queueDepth.Set(float64(depth))
}

func healthValue(status db.HealthStatus) float64 {
	switch status {
	case db.HealthHealthy:
		return 1
	case db.HealthWarning:
		return 2
	case db.HealthError:
		return 3
	default:
		return 0
	}
}
