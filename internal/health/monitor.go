// Package health runs on-demand and scheduled checks against active
// mappings: DNS correctness, SSL state, HTTP reachability and response
// time, aggregated into a single health classification.
package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/craftlink/domain-warden/internal/certs"
	"github.com/craftlink/domain-warden/internal/db"
	"github.com/craftlink/domain-warden/internal/notify"
)

type SubStatus string

const (
	SubOK      SubStatus = "ok"
	SubWarning SubStatus = "warning"
	SubError   SubStatus = "error"
	SubSkipped SubStatus = "skipped"
)

// SlowResponseThreshold marks the response time above which a mapping is
// degraded rather than healthy.
const SlowResponseThreshold = 5000 * time.Millisecond

// DemoteAfterConsecutiveFailures is the number of back-to-back failed
// passes after which an active mapping is moved to error. A single failed
// probe degrades healthStatus but must not take the mapping out of
// rotation.
const DemoteAfterConsecutiveFailures = 3

// Report is the outcome of one health check pass over a mapping.
type Report struct {
	Overall        db.HealthStatus        `json:"overall"`
	DNS            SubStatus              `json:"dns"`
	SSL            SubStatus              `json:"ssl"`
	Connectivity   SubStatus              `json:"connectivity"`
	Performance    SubStatus              `json:"performance"`
	SSLStatus      db.SSLStatus           `json:"ssl_status"`
	ResponseTimeMs int                    `json:"response_time_ms"`
	Issues         []string               `json:"issues,omitempty"`
	Details        map[string]interface{} `json:"details,omitempty"`
	CheckedAt      time.Time              `json:"checked_at"`
}

// DNSChecker is the read-only CNAME check, no token requirement.
type DNSChecker interface {
	CheckCNAME(ctx context.Context, hostname string) (bool, string, error)
}

// Store persists the rolling health metrics back onto the mapping.
// UpdateHealthMetrics writes health and analytics columns only; the
// monitor works on rows loaded before the checks ran and a full-row
// write here would clobber lifecycle transitions that landed in the
// meantime. Status changes go through the same conditional update the
// state machine uses.
type Store interface {
	UpdateHealthMetrics(ctx context.Context, m *db.DomainMapping) error
	UpdateStatusIf(ctx context.Context, id string, from, to db.MappingStatus) (bool, error)
}

type Monitor struct {
	store       Store
	dns         DNSChecker
	httpClient  *http.Client
	inspectCert certInspector
	whois       registrationChecker
	notifier    notify.Notifier
	logger      *zap.Logger
	subTimeout  time.Duration
	now         func() time.Time
}

func NewMonitor(store Store, dns DNSChecker, notifier notify.Notifier, subTimeout time.Duration, logger *zap.Logger) *Monitor {
	if subTimeout <= 0 || subTimeout > 10*time.Second {
		subTimeout = 10 * time.Second
	}
	return &Monitor{
		store: store,
		dns:   dns,
		httpClient: &http.Client{
			Timeout: subTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				return nil
			},
		},
		inspectCert: inspectLiveCertificate,
		whois:       checkRegistrationExpiry,
		notifier:    notifier,
		logger:      logger,
		subTimeout:  subTimeout,
		now:         time.Now,
	}
}

// CheckHealth runs every sub-check within its own wall-clock budget,
// aggregates the result, persists the rolling metrics and fires alerts on
// transitions into error or expiring_soon.
func (mon *Monitor) CheckHealth(ctx context.Context, m *db.DomainMapping) *Report {
	now := mon.now()
	report := &Report{
		Details:   make(map[string]interface{}),
		CheckedAt: now,
	}

	mon.checkDNS(ctx, m, report)
	mon.checkSSL(ctx, m, report, now)
	mon.checkConnectivity(ctx, m, report)

	report.Performance = SubOK
	if report.ResponseTimeMs > int(SlowResponseThreshold.Milliseconds()) {
		report.Performance = SubWarning
		report.Issues = append(report.Issues, fmt.Sprintf("slow response: %dms", report.ResponseTimeMs))
	}

	// Advisory: domain registration expiry from WHOIS.
	if mon.whois != nil {
		if days, err := mon.whois(ctx, m.Hostname, mon.subTimeout); err == nil && days > 0 {
			report.Details["registration_days_to_expiry"] = days
			if days < 60 {
				report.Issues = append(report.Issues, fmt.Sprintf("domain registration expires in %d days", days))
			}
		}
	}

	report.Overall = Aggregate(m.Status, report)

	mon.persist(ctx, m, report, now)
	return report
}

// Aggregate applies the classification rule: error if the mapping is not
// active or any sub-check failed; warning on expiring certificates or
// slow responses; healthy otherwise.
func Aggregate(status db.MappingStatus, r *Report) db.HealthStatus {
	if status != db.StatusActive {
		return db.HealthError
	}
	if r.DNS == SubError || r.SSL == SubError || r.Connectivity == SubError {
		return db.HealthError
	}
	if r.SSLStatus == db.SSLExpiringSoon || r.Performance == SubWarning {
		return db.HealthWarning
	}
	return db.HealthHealthy
}

func (mon *Monitor) checkDNS(ctx context.Context, m *db.DomainMapping, report *Report) {
	subCtx, cancel := context.WithTimeout(ctx, mon.subTimeout)
	defer cancel()

	ok, target, err := mon.dns.CheckCNAME(subCtx, m.Hostname)
	switch {
	case err != nil:
		report.DNS = SubError
		report.Issues = append(report.Issues, fmt.Sprintf("DNS lookup failed: %v", err))
	case !ok:
		report.DNS = SubError
		if target == "" {
			report.Issues = append(report.Issues, "CNAME record missing")
		} else {
			report.Issues = append(report.Issues, fmt.Sprintf("CNAME points to %s instead of the platform target", target))
		}
	default:
		report.DNS = SubOK
	}
	report.Details["cname_target"] = target
}

func (mon *Monitor) checkSSL(ctx context.Context, m *db.DomainMapping, report *Report, now time.Time) {
	report.SSLStatus = certs.ClassifySSL(m.SSLEnabled, m.CertificateExpiry, now)

	switch report.SSLStatus {
	case db.SSLDisabled:
		report.SSL = SubSkipped
		return
	case db.SSLExpired:
		report.SSL = SubError
		report.Issues = append(report.Issues, "certificate has expired")
	case db.SSLExpiringSoon:
		report.SSL = SubWarning
		report.Issues = append(report.Issues,
			fmt.Sprintf("certificate expires in %d days", certs.DaysUntilExpiry(m.CertificateExpiry, now)))
	default:
		report.SSL = SubOK
	}

	// Live handshake where feasible; stored metadata remains the source
	// of truth for classification.
	if mon.inspectCert != nil {
		subCtx, cancel := context.WithTimeout(ctx, mon.subTimeout)
		defer cancel()
		if info, err := mon.inspectCert(subCtx, m.Hostname, mon.subTimeout); err == nil {
			report.Details["live_issuer"] = info.Issuer
			report.Details["live_not_after"] = info.NotAfter.Format(time.RFC3339)
			if info.NotAfter.Before(now) {
				report.SSL = SubError
				report.Issues = append(report.Issues, "served certificate is expired")
			}
		}
	}
}

func (mon *Monitor) checkConnectivity(ctx context.Context, m *db.DomainMapping, report *Report) {
	scheme := "https"
	if !m.ForceHTTPS && report.SSLStatus == db.SSLDisabled {
		scheme = "http"
	}
	url := fmt.Sprintf("%s://%s/", scheme, m.Hostname)

	subCtx, cancel := context.WithTimeout(ctx, mon.subTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(subCtx, http.MethodGet, url, nil)
	if err != nil {
		report.Connectivity = SubError
		report.Issues = append(report.Issues, fmt.Sprintf("failed to build probe request: %v", err))
		return
	}

	start := mon.now()
	resp, err := mon.httpClient.Do(req)
	report.ResponseTimeMs = int(time.Since(start).Milliseconds())

	if err != nil {
		report.Connectivity = SubError
		report.Issues = append(report.Issues, fmt.Sprintf("connection failed: %v", err))
		return
	}
	defer resp.Body.Close()

	report.Details["status_code"] = resp.StatusCode
	if resp.StatusCode >= 500 {
		report.Connectivity = SubError
		report.Issues = append(report.Issues, fmt.Sprintf("origin returned %d", resp.StatusCode))
		return
	}
	report.Connectivity = SubOK
}

// persist folds the report into the mapping's rolling metrics and alerts
// on state transitions.
func (mon *Monitor) persist(ctx context.Context, m *db.DomainMapping, report *Report, now time.Time) {
	previous := m.HealthStatus

	m.HealthStatus = report.Overall
	m.LastHealthCheck = &now
	m.Issues = db.StringSlice(report.Issues)

	if report.ResponseTimeMs > 0 {
		if m.AvgResponseTimeMs == 0 {
			m.AvgResponseTimeMs = report.ResponseTimeMs
		} else {
			// Exponentially weighted so one slow probe does not swamp
			// the average.
			m.AvgResponseTimeMs = (m.AvgResponseTimeMs*7 + report.ResponseTimeMs) / 8
		}
	}

	up := 0.0
	if report.Overall != db.HealthError {
		up = 100.0
		m.ConsecutiveFailures = 0
	} else {
		m.LastDowntimeAt = &now
		m.ConsecutiveFailures++
	}
	if m.UptimePercentage == 0 {
		m.UptimePercentage = up
	} else {
		m.UptimePercentage = m.UptimePercentage*0.98 + up*0.02
	}

	m.UpdatedAt = now

	if err := mon.store.UpdateHealthMetrics(ctx, m); err != nil {
		mon.logger.Error("Failed to persist health check",
			zap.Error(err),
			zap.String("mapping_id", m.ID),
		)
	}

	// A sustained hard failure takes the mapping out of rotation. The
	// conditional update loses gracefully if the lifecycle moved on.
	if report.Overall == db.HealthError && m.Status == db.StatusActive &&
		m.ConsecutiveFailures >= DemoteAfterConsecutiveFailures {
		won, err := mon.store.UpdateStatusIf(ctx, m.ID, db.StatusActive, db.StatusError)
		if err != nil {
			mon.logger.Error("Failed to demote unhealthy mapping",
				zap.Error(err),
				zap.String("mapping_id", m.ID),
			)
		} else if won {
			m.Status = db.StatusError
			mon.logger.Warn("Mapping demoted to error after repeated failed checks",
				zap.String("mapping_id", m.ID),
				zap.String("hostname", m.Hostname),
				zap.Int("consecutive_failures", m.ConsecutiveFailures),
			)
		}
	}

	if report.Overall == db.HealthError && previous != db.HealthError {
		mon.notifier.HealthDegraded(ctx, m, report.Issues)
	}
	if report.SSLStatus == db.SSLExpiringSoon && previous == db.HealthHealthy {
		mon.notifier.CertificateExpiring(ctx, m, certs.DaysUntilExpiry(m.CertificateExpiry, now))
	}

	mon.logger.Debug("Health check completed",
		zap.String("mapping_id", m.ID),
		zap.String("hostname", m.Hostname),
		zap.String("overall", string(report.Overall)),
		zap.Int("response_time_ms", report.ResponseTimeMs),
	)
}
