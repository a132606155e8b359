package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/craftlink/domain-warden/internal/db"
)

// fakeHealthStore mirrors the repository contract: UpdateHealthMetrics
// applies only the health and analytics columns to the stored row, and
// UpdateStatusIf is the same compare-and-set the state machine uses.
type fakeHealthStore struct {
	row     *db.DomainMapping
	updated *db.DomainMapping
}

func (f *fakeHealthStore) UpdateHealthMetrics(_ context.Context, m *db.DomainMapping) error {
	cp := *m
	f.updated = &cp
	if f.row != nil {
		f.row.HealthStatus = m.HealthStatus
		f.row.LastHealthCheck = m.LastHealthCheck
		f.row.AvgResponseTimeMs = m.AvgResponseTimeMs
		f.row.UptimePercentage = m.UptimePercentage
		f.row.LastDowntimeAt = m.LastDowntimeAt
		f.row.Issues = m.Issues
		f.row.ConsecutiveFailures = m.ConsecutiveFailures
		f.row.UpdatedAt = m.UpdatedAt
	}
	return nil
}

func (f *fakeHealthStore) UpdateStatusIf(_ context.Context, _ string, from, to db.MappingStatus) (bool, error) {
	if f.row == nil {
		return true, nil
	}
	if f.row.Status != from {
		return false, nil
	}
	f.row.Status = to
	return true, nil
}

type fakeDNS struct {
	ok     bool
	target string
	err    error
}

func (f *fakeDNS) CheckCNAME(_ context.Context, _ string) (bool, string, error) {
	return f.ok, f.target, f.err
}

type countingNotifier struct {
	degraded int
	expiring int
}

func (c *countingNotifier) DomainVerified(context.Context, *db.DomainMapping)               {}
func (c *countingNotifier) VerificationFailed(context.Context, *db.DomainMapping, []string) {}
func (c *countingNotifier) DomainRemoved(context.Context, *db.DomainMapping)                {}
func (c *countingNotifier) HealthDegraded(context.Context, *db.DomainMapping, []string)     { c.degraded++ }
func (c *countingNotifier) CertificateExpiring(context.Context, *db.DomainMapping, int)     { c.expiring++ }

func newTestMonitor(store Store, dns DNSChecker, notifier *countingNotifier) *Monitor {
	mon := NewMonitor(store, dns, notifier, 5*time.Second, zap.NewNop())
	mon.inspectCert = nil
	mon.whois = nil
	return mon
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name   string
		status db.MappingStatus
		report Report
		want   db.HealthStatus
	}{
		{
			"healthy",
			db.StatusActive,
			Report{DNS: SubOK, SSL: SubOK, Connectivity: SubOK, Performance: SubOK, SSLStatus: db.SSLActive},
			db.HealthHealthy,
		},
		{
			"not active is error",
			db.StatusPendingVerification,
			Report{DNS: SubOK, SSL: SubOK, Connectivity: SubOK, Performance: SubOK, SSLStatus: db.SSLActive},
			db.HealthError,
		},
		{
			"dns failure is error",
			db.StatusActive,
			Report{DNS: SubError, SSL: SubOK, Connectivity: SubOK, Performance: SubOK, SSLStatus: db.SSLActive},
			db.HealthError,
		},
		{
			"connectivity failure is error",
			db.StatusActive,
			Report{DNS: SubOK, SSL: SubOK, Connectivity: SubError, Performance: SubOK, SSLStatus: db.SSLActive},
			db.HealthError,
		},
		{
			"expiring certificate is warning",
			db.StatusActive,
			Report{DNS: SubOK, SSL: SubWarning, Connectivity: SubOK, Performance: SubOK, SSLStatus: db.SSLExpiringSoon},
			db.HealthWarning,
		},
		{
			"slow response is warning",
			db.StatusActive,
			Report{DNS: SubOK, SSL: SubOK, Connectivity: SubOK, Performance: SubWarning, SSLStatus: db.SSLActive},
			db.HealthWarning,
		},
		{
			"error outranks warning",
			db.StatusActive,
			Report{DNS: SubError, SSL: SubWarning, Connectivity: SubOK, Performance: SubOK, SSLStatus: db.SSLExpiringSoon},
			db.HealthError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Aggregate(tt.status, &tt.report); got != tt.want {
				t.Errorf("Aggregate = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCheckHealthHealthyOrigin(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	store := &fakeHealthStore{}
	notifier := &countingNotifier{}
	mon := newTestMonitor(store, &fakeDNS{ok: true, target: "edge.craftlink.net"}, notifier)

	host := strings.TrimPrefix(ts.URL, "http://")
	m := &db.DomainMapping{
		ID:           "m-1",
		Hostname:     host,
		Status:       db.StatusActive,
		SSLEnabled:   false,
		ForceHTTPS:   false,
		HealthStatus: db.HealthUnknown,
	}

	report := mon.CheckHealth(context.Background(), m)

	if report.Overall != db.HealthHealthy {
		t.Fatalf("Overall = %q, want healthy (issues: %v)", report.Overall, report.Issues)
	}
	if report.DNS != SubOK || report.Connectivity != SubOK {
		t.Errorf("DNS = %q, Connectivity = %q, want ok", report.DNS, report.Connectivity)
	}
	if report.SSL != SubSkipped {
		t.Errorf("SSL = %q, want skipped with SSL disabled", report.SSL)
	}
	if store.updated == nil {
		t.Fatal("health outcome was not persisted")
	}
	if store.updated.LastHealthCheck == nil {
		t.Error("LastHealthCheck must be stamped")
	}
	if notifier.degraded != 0 {
		t.Errorf("degraded notifications = %d, want 0", notifier.degraded)
	}
}

func TestCheckHealthDNSFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	store := &fakeHealthStore{}
	notifier := &countingNotifier{}
	mon := newTestMonitor(store, &fakeDNS{err: errors.New("servfail")}, notifier)

	m := &db.DomainMapping{
		ID:           "m-1",
		Hostname:     strings.TrimPrefix(ts.URL, "http://"),
		Status:       db.StatusActive,
		SSLEnabled:   false,
		HealthStatus: db.HealthHealthy,
	}

	report := mon.CheckHealth(context.Background(), m)

	if report.Overall != db.HealthError {
		t.Fatalf("Overall = %q, want error on DNS failure", report.Overall)
	}
	if notifier.degraded != 1 {
		t.Errorf("degraded notifications = %d, want 1 on transition into error", notifier.degraded)
	}
	if store.updated.LastDowntimeAt == nil {
		t.Error("LastDowntimeAt must be stamped on an error outcome")
	}
}

func TestCheckHealthOriginServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	store := &fakeHealthStore{}
	notifier := &countingNotifier{}
	mon := newTestMonitor(store, &fakeDNS{ok: true}, notifier)

	m := &db.DomainMapping{
		ID:         "m-1",
		Hostname:   strings.TrimPrefix(ts.URL, "http://"),
		Status:     db.StatusActive,
		SSLEnabled: false,
	}

	report := mon.CheckHealth(context.Background(), m)
	if report.Connectivity != SubError {
		t.Errorf("Connectivity = %q, want error on 5xx", report.Connectivity)
	}
	if report.Overall != db.HealthError {
		t.Errorf("Overall = %q, want error", report.Overall)
	}
}

func TestPersistRollingMetrics(t *testing.T) {
	store := &fakeHealthStore{}
	notifier := &countingNotifier{}
	mon := newTestMonitor(store, &fakeDNS{ok: true}, notifier)

	now := time.Now()
	m := &db.DomainMapping{
		ID:                "m-1",
		Hostname:          "shop.acme.com",
		Status:            db.StatusActive,
		HealthStatus:      db.HealthHealthy,
		AvgResponseTimeMs: 800,
		UptimePercentage:  100,
	}
	report := &Report{
		Overall:        db.HealthHealthy,
		ResponseTimeMs: 80,
	}

	mon.persist(context.Background(), m, report, now)

	if m.AvgResponseTimeMs != 710 {
		t.Errorf("AvgResponseTimeMs = %d, want weighted 710", m.AvgResponseTimeMs)
	}
	if m.UptimePercentage != 100 {
		t.Errorf("UptimePercentage = %v, want 100 while healthy", m.UptimePercentage)
	}
}

func TestPersistDowntimeDecaysUptime(t *testing.T) {
	store := &fakeHealthStore{}
	notifier := &countingNotifier{}
	mon := newTestMonitor(store, &fakeDNS{ok: true}, notifier)

	now := time.Now()
	m := &db.DomainMapping{
		ID:               "m-1",
		Hostname:         "shop.acme.com",
		Status:           db.StatusActive,
		HealthStatus:     db.HealthHealthy,
		UptimePercentage: 100,
	}
	report := &Report{Overall: db.HealthError, Issues: []string{"connection failed"}}

	mon.persist(context.Background(), m, report, now)

	if m.UptimePercentage != 98 {
		t.Errorf("UptimePercentage = %v, want 98 after one failed check", m.UptimePercentage)
	}
	if m.LastDowntimeAt == nil {
		t.Error("LastDowntimeAt must be set")
	}
	if notifier.degraded != 1 {
		t.Errorf("degraded notifications = %d, want 1", notifier.degraded)
	}

	// A second consecutive failure does not re-alert.
	mon.persist(context.Background(), m, report, now)
	if notifier.degraded != 1 {
		t.Errorf("degraded notifications = %d, want still 1", notifier.degraded)
	}
}

func TestCheckHealthPreservesConcurrentVerification(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	host := strings.TrimPrefix(ts.URL, "http://")

	// The stored row reflects a verification that completed while the
	// check pass below was already running on an older copy: active,
	// token consumed, certificate issued.
	store := &fakeHealthStore{row: &db.DomainMapping{
		ID:            "m-1",
		Hostname:      host,
		Status:        db.StatusActive,
		CertificateID: "cert-1",
		DNSStatus:     db.DNSVerified,
		HealthStatus:  db.HealthUnknown,
	}}
	notifier := &countingNotifier{}
	mon := newTestMonitor(store, &fakeDNS{ok: true, target: "edge.craftlink.net"}, notifier)

	stale := &db.DomainMapping{
		ID:                "m-1",
		Hostname:          host,
		Status:            db.StatusPendingVerification,
		VerificationToken: "dw-verify-old",
		HealthStatus:      db.HealthUnknown,
	}

	mon.CheckHealth(context.Background(), stale)

	if store.row.Status != db.StatusActive {
		t.Errorf("Status = %q, a health pass must not revert a lifecycle transition", store.row.Status)
	}
	if store.row.VerificationToken != "" {
		t.Errorf("VerificationToken = %q, a consumed token must stay cleared", store.row.VerificationToken)
	}
	if store.row.CertificateID != "cert-1" {
		t.Errorf("CertificateID = %q, an issued certificate must survive a health pass", store.row.CertificateID)
	}
	if store.row.LastHealthCheck == nil {
		t.Error("health columns must still be written")
	}
}

func TestRepeatedFailuresDemoteActiveMapping(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	host := strings.TrimPrefix(ts.URL, "http://")
	store := &fakeHealthStore{row: &db.DomainMapping{
		ID:       "m-1",
		Hostname: host,
		Status:   db.StatusActive,
	}}
	notifier := &countingNotifier{}
	mon := newTestMonitor(store, &fakeDNS{err: errors.New("servfail")}, notifier)

	for i := 0; i < DemoteAfterConsecutiveFailures-1; i++ {
		mon.CheckHealth(context.Background(), store.row)
		if store.row.Status != db.StatusActive {
			t.Fatalf("Status = %q after %d failures, demotion requires %d",
				store.row.Status, i+1, DemoteAfterConsecutiveFailures)
		}
	}

	mon.CheckHealth(context.Background(), store.row)
	if store.row.Status != db.StatusError {
		t.Fatalf("Status = %q, want error after %d consecutive failures",
			store.row.Status, DemoteAfterConsecutiveFailures)
	}
	if store.row.ConsecutiveFailures != DemoteAfterConsecutiveFailures {
		t.Errorf("ConsecutiveFailures = %d, want %d", store.row.ConsecutiveFailures, DemoteAfterConsecutiveFailures)
	}
}

func TestPersistSuccessResetsFailureStreak(t *testing.T) {
	store := &fakeHealthStore{}
	notifier := &countingNotifier{}
	mon := newTestMonitor(store, &fakeDNS{ok: true}, notifier)

	m := &db.DomainMapping{
		ID:                  "m-1",
		Hostname:            "shop.acme.com",
		Status:              db.StatusActive,
		HealthStatus:        db.HealthError,
		ConsecutiveFailures: 2,
		UptimePercentage:    96,
	}
	report := &Report{Overall: db.HealthHealthy, ResponseTimeMs: 90}

	mon.persist(context.Background(), m, report, time.Now())

	if m.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d, want 0 after a healthy pass", m.ConsecutiveFailures)
	}
}

func TestPersistExpiringCertificateAlert(t *testing.T) {
	store := &fakeHealthStore{}
	notifier := &countingNotifier{}
	mon := newTestMonitor(store, &fakeDNS{ok: true}, notifier)

	now := time.Now()
	expiry := now.Add(10 * 24 * time.Hour)
	m := &db.DomainMapping{
		ID:                "m-1",
		Hostname:          "shop.acme.com",
		Status:            db.StatusActive,
		SSLEnabled:        true,
		CertificateExpiry: &expiry,
		HealthStatus:      db.HealthHealthy,
		UptimePercentage:  100,
	}
	report := &Report{Overall: db.HealthWarning, SSLStatus: db.SSLExpiringSoon}

	mon.persist(context.Background(), m, report, now)

	if notifier.expiring != 1 {
		t.Errorf("expiring notifications = %d, want 1 on transition into expiring_soon", notifier.expiring)
	}
}
