package db

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

type MappingStatus string

const (
	StatusPendingVerification MappingStatus = "pending_verification"
	StatusActive              MappingStatus = "active"
	StatusError               MappingStatus = "error"
	StatusDeleting            MappingStatus = "deleting"
)

type VerificationMethod string

const (
	VerifyDNS   VerificationMethod = "dns"
	VerifyFile  VerificationMethod = "file"
	VerifyEmail VerificationMethod = "email"
)

type CertificateType string

const (
	CertManaged CertificateType = "managed"
	CertCustom  CertificateType = "custom"
)

type DNSStatus string

const (
	DNSUnknown  DNSStatus = "unknown"
	DNSVerified DNSStatus = "verified"
	DNSError    DNSStatus = "error"
	DNSPending  DNSStatus = "pending"
)

type HealthStatus string

const (
	HealthUnknown HealthStatus = "unknown"
	HealthHealthy HealthStatus = "healthy"
	HealthWarning HealthStatus = "warning"
	HealthError   HealthStatus = "error"
)

type SSLStatus string

const (
	SSLUnknown      SSLStatus = "unknown"
	SSLActive       SSLStatus = "active"
	SSLExpiringSoon SSLStatus = "expiring_soon"
	SSLExpired      SSLStatus = "expired"
	SSLDisabled     SSLStatus = "disabled"
)

// DomainMapping is a tenant's claim on a custom hostname plus its
// verification, certificate and health state. The status column is the
// single source of truth for the lifecycle; transitions go through
// mapping.Service, never through raw repository writes.
type DomainMapping struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`
	Hostname string `json:"hostname" db:"hostname"`

	Status MappingStatus `json:"status" db:"status"`

	// Verification. The token is a one-time secret published via DNS TXT;
	// it is never serialized to clients.
	VerificationMethod VerificationMethod `json:"verification_method" db:"verification_method"`
	VerificationToken  string             `json:"-" db:"verification_token"`
	VerifiedAt         *time.Time         `json:"verified_at" db:"verified_at"`
	VerifiedBy         string             `json:"verified_by,omitempty" db:"verified_by"`

	// Certificate
	CertificateType   CertificateType `json:"certificate_type" db:"certificate_type"`
	SSLEnabled        bool            `json:"ssl_enabled" db:"ssl_enabled"`
	CertificateID     string          `json:"certificate_id,omitempty" db:"certificate_id"`
	CertificateIssuer string          `json:"certificate_issuer,omitempty" db:"certificate_issuer"`
	CertificateExpiry *time.Time      `json:"certificate_expiry" db:"certificate_expiry"`
	LastRenewedAt     *time.Time      `json:"last_renewed_at" db:"last_renewed_at"`
	// Tenant-uploaded PEM material, sensitive. Excluded from all
	// client-facing serialization.
	CustomCertPEM  string `json:"-" db:"custom_cert_pem"`
	CustomKeyPEM   string `json:"-" db:"custom_key_pem"`
	CustomChainPEM string `json:"-" db:"custom_chain_pem"`

	ForceHTTPS  bool `json:"force_https" db:"force_https"`
	AutoRenewal bool `json:"auto_renewal" db:"auto_renewal"`

	// DNS
	DNSRecords DNSRecordList `json:"dns_records" db:"dns_records"`
	DNSStatus  DNSStatus     `json:"dns_status" db:"dns_status"`

	// Health
	HealthStatus      HealthStatus `json:"health_status" db:"health_status"`
	LastHealthCheck   *time.Time   `json:"last_health_check" db:"last_health_check"`
	AvgResponseTimeMs int          `json:"avg_response_time_ms" db:"avg_response_time_ms"`
	UptimePercentage  float64      `json:"uptime_percentage" db:"uptime_percentage"`
	LastDowntimeAt    *time.Time   `json:"last_downtime_at" db:"last_downtime_at"`
	Issues            StringSlice  `json:"issues,omitempty" db:"issues"`
	// ConsecutiveFailures counts back-to-back failed health passes; an
	// active mapping is demoted to error once it crosses the threshold.
	ConsecutiveFailures int `json:"-" db:"consecutive_failures"`

	// Analytics
	RequestCount   int64      `json:"request_count" db:"request_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at" db:"last_accessed_at"`

	// Audit
	CreatedBy string    `json:"created_by" db:"created_by"`
	UpdatedBy string    `json:"updated_by,omitempty" db:"updated_by"`
	PlanLevel string    `json:"plan_level" db:"plan_level"`
	Metadata  JSONB     `json:"metadata,omitempty" db:"metadata"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// DNSRecord is one record the tenant must configure before verification
// can succeed.
type DNSRecord struct {
	Type     string `json:"type"`
	Name     string `json:"name"`
	Value    string `json:"value"`
	TTL      int    `json:"ttl"`
	Required bool   `json:"required"`
}

// TenantStats aggregates a tenant's mappings for the list endpoint.
type TenantStats struct {
	Total               int `json:"total" db:"total"`
	PendingVerification int `json:"pending_verification" db:"pending_verification"`
	Active              int `json:"active" db:"active"`
	Errored             int `json:"errored" db:"errored"`
	SSLEnabled          int `json:"ssl_enabled" db:"ssl_enabled"`
	Healthy             int `json:"healthy" db:"healthy"`
}

// Custom types for PostgreSQL JSONB columns

type DNSRecordList []DNSRecord

func (l DNSRecordList) Value() (driver.Value, error) {
	return json.Marshal(l)
}

func (l *DNSRecordList) Scan(value interface{}) error {
	if value == nil {
		*l = DNSRecordList{}
		return nil
	}
	return json.Unmarshal(value.([]byte), l)
}

type StringSlice []string

func (s StringSlice) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *StringSlice) Scan(value interface{}) error {
	if value == nil {
		*s = []string{}
		return nil
	}
	return json.Unmarshal(value.([]byte), s)
}

type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	return json.Unmarshal(value.([]byte), j)
}
