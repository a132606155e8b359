// Package certs owns the TLS certificate lifecycle for domain mappings:
// issuance through an ACME authority for managed certificates, structural
// validation for tenant-uploaded bundles, renewal, best-effort revocation
// and the SSL status classification derived from expiry.
package certs

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/craftlink/domain-warden/internal/db"
)

// ExpiringSoonWindow is the remaining-lifetime threshold below which a
// certificate classifies as expiring_soon.
const ExpiringSoonWindow = 30 * 24 * time.Hour

var (
	ErrNotActive     = errors.New("certificate operations require an active mapping")
	ErrCustomRenewal = errors.New("custom certificates are renewed by uploading a new bundle")
)

// IssuedCertificate describes the outcome of an issuance or renewal.
type IssuedCertificate struct {
	CertificateID string    `json:"certificate_id"`
	Issuer        string    `json:"issuer"`
	Expiry        time.Time `json:"expiry"`
}

// Authority is the external certificate authority. The production
// implementation speaks ACME via lego; tests use fakes.
type Authority interface {
	Issue(ctx context.Context, hostname string) (*IssuedCertificate, error)
	Revoke(ctx context.Context, hostname string) error
}

// DisabledAuthority stands in when ACME issuance is turned off. Issue
// fails loudly; Revoke is a no-op so deletions still terminate.
type DisabledAuthority struct{}

func (DisabledAuthority) Issue(ctx context.Context, hostname string) (*IssuedCertificate, error) {
	return nil, errors.New("managed certificate issuance is disabled")
}

func (DisabledAuthority) Revoke(ctx context.Context, hostname string) error {
	return nil
}

type Manager struct {
	authority Authority
	logger    *zap.Logger
	now       func() time.Time
}

func NewManager(authority Authority, logger *zap.Logger) *Manager {
	return &Manager{
		authority: authority,
		logger:    logger,
		now:       time.Now,
	}
}

// RequestCertificate obtains a certificate for the mapping. Managed
// certificates go through the ACME authority; custom certificates are the
// tenant-supplied PEM bundle, validated structurally here. Deep key/SAN
// matching is delegated to the authority and the TLS stack at serve time.
func (m *Manager) RequestCertificate(ctx context.Context, mapping *db.DomainMapping) (*IssuedCertificate, error) {
	switch mapping.CertificateType {
	case db.CertCustom:
		info, err := ValidateCustomBundle(mapping.CustomCertPEM, mapping.CustomKeyPEM, mapping.CustomChainPEM)
		if err != nil {
			return nil, err
		}
		return &IssuedCertificate{
			CertificateID: uuid.New().String(),
			Issuer:        info.Issuer,
			Expiry:        info.Expiry,
		}, nil

	case db.CertManaged:
		issued, err := m.authority.Issue(ctx, mapping.Hostname)
		if err != nil {
			return nil, fmt.Errorf("certificate issuance for %s failed: %w", mapping.Hostname, err)
		}
		if !issued.Expiry.After(m.now()) {
			return nil, fmt.Errorf("authority returned an already-expired certificate for %s", mapping.Hostname)
		}
		return issued, nil

	default:
		return nil, fmt.Errorf("unknown certificate type %q", mapping.CertificateType)
	}
}

// RenewCertificate re-issues a managed certificate. Only permitted while
// the mapping is active.
func (m *Manager) RenewCertificate(ctx context.Context, mapping *db.DomainMapping) (*IssuedCertificate, error) {
	if mapping.Status != db.StatusActive {
		return nil, ErrNotActive
	}
	if mapping.CertificateType != db.CertManaged {
		return nil, ErrCustomRenewal
	}

	issued, err := m.authority.Issue(ctx, mapping.Hostname)
	if err != nil {
		return nil, fmt.Errorf("certificate renewal for %s failed: %w", mapping.Hostname, err)
	}
	if !issued.Expiry.After(m.now()) {
		return nil, fmt.Errorf("authority returned an already-expired certificate for %s", mapping.Hostname)
	}

	m.logger.Info("Certificate renewed",
		zap.String("hostname", mapping.Hostname),
		zap.Time("new_expiry", issued.Expiry),
	)

	return issued, nil
}

// RevokeCertificate is best-effort: a CA outage must never block the
// deletion workflow that calls this.
func (m *Manager) RevokeCertificate(ctx context.Context, hostname string) error {
	if err := m.authority.Revoke(ctx, hostname); err != nil {
		m.logger.Warn("Certificate revocation failed",
			zap.String("hostname", hostname),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// ClassifySSL derives the SSL status from the enabled flag and recorded
// expiry. The boundary is inclusive: exactly 30 days remaining classifies
// as expiring_soon.
func ClassifySSL(enabled bool, expiry *time.Time, now time.Time) db.SSLStatus {
	if !enabled {
		return db.SSLDisabled
	}
	if expiry == nil {
		return db.SSLUnknown
	}
	if expiry.Before(now) {
		return db.SSLExpired
	}
	if expiry.Sub(now) <= ExpiringSoonWindow {
		return db.SSLExpiringSoon
	}
	return db.SSLActive
}

// DaysUntilExpiry returns whole days remaining, negative once expired.
func DaysUntilExpiry(expiry *time.Time, now time.Time) int {
	if expiry == nil {
		return 0
	}
	return int(expiry.Sub(now).Hours() / 24)
}

// CustomBundleInfo is extracted from a validated tenant-uploaded bundle.
type CustomBundleInfo struct {
	Issuer  string
	Subject string
	Expiry  time.Time
}

// ValidateCustomBundle checks a tenant-supplied PEM bundle for structural
// well-formedness: PEM markers present, certificate parseable, declared
// fields populated, private key block present.
func ValidateCustomBundle(certPEM, keyPEM, chainPEM string) (*CustomBundleInfo, error) {
	if strings.TrimSpace(certPEM) == "" {
		return nil, errors.New("custom certificate is required")
	}
	if strings.TrimSpace(keyPEM) == "" {
		return nil, errors.New("custom certificate private key is required")
	}

	block, _ := pem.Decode([]byte(certPEM))
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, errors.New("certificate is not valid PEM")
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	if cert.NotAfter.Before(time.Now()) {
		return nil, fmt.Errorf("certificate expired on %s", cert.NotAfter.Format(time.RFC3339))
	}

	keyBlock, _ := pem.Decode([]byte(keyPEM))
	if keyBlock == nil || !strings.Contains(keyBlock.Type, "PRIVATE KEY") {
		return nil, errors.New("private key is not valid PEM")
	}

	if strings.TrimSpace(chainPEM) != "" {
		chainBlock, _ := pem.Decode([]byte(chainPEM))
		if chainBlock == nil || chainBlock.Type != "CERTIFICATE" {
			return nil, errors.New("certificate chain is not valid PEM")
		}
	}

	return &CustomBundleInfo{
		Issuer:  cert.Issuer.CommonName,
		Subject: cert.Subject.CommonName,
		Expiry:  cert.NotAfter,
	}, nil
}
