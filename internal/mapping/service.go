// Package mapping is the orchestrator for the custom-domain lifecycle. It
// owns the status field of a DomainMapping and sequences validation,
// ownership verification, certificate issuance, activation and deletion.
// Every transition goes through a status-guarded conditional update so
// concurrent attempts on the same mapping serialize without a global lock.
package mapping

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/craftlink/domain-warden/internal/certs"
	"github.com/craftlink/domain-warden/internal/db"
	"github.com/craftlink/domain-warden/internal/dnsverify"
	"github.com/craftlink/domain-warden/internal/hostname"
	"github.com/craftlink/domain-warden/internal/notify"
)

var (
	ErrNotFound     = errors.New("mapping not found")
	ErrConflict     = errors.New("hostname already claimed by a live mapping")
	ErrInvalidState = errors.New("operation not permitted in current mapping status")
	ErrPlanLimit    = errors.New("domain mapping limit reached for plan")
)

// ValidationError carries structured issues back to the caller verbatim.
type ValidationError struct {
	Issues      []string `json:"issues"`
	Suggestions []string `json:"suggestions,omitempty"`
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Issues, "; ")
}

// Store is the slice of the repository the state machine drives.
type Store interface {
	CreateMapping(ctx context.Context, m *db.DomainMapping) error
	GetMapping(ctx context.Context, id, tenantID string) (*db.DomainMapping, error)
	GetMappingByHostname(ctx context.Context, hostname string) (*db.DomainMapping, error)
	ListMappingsByTenant(ctx context.Context, tenantID string, limit, offset int) ([]*db.DomainMapping, error)
	CountMappingsByTenant(ctx context.Context, tenantID string) (int, error)
	UpdateMapping(ctx context.Context, m *db.DomainMapping) error
	RecordVerificationFailure(ctx context.Context, id, actor string) error
	UpdateStatusIf(ctx context.Context, id string, from, to db.MappingStatus) (bool, error)
	DeleteMapping(ctx context.Context, id string) error
	GetTenantStats(ctx context.Context, tenantID string) (*db.TenantStats, error)
}

// Verifier proves hostname ownership via DNS.
type Verifier interface {
	VerifyOwnership(ctx context.Context, hostname, token string) *dnsverify.Result
	ChallengeName(hostname string) string
	CNAMETarget() string
}

// CertManager drives the certificate lifecycle.
type CertManager interface {
	RequestCertificate(ctx context.Context, m *db.DomainMapping) (*certs.IssuedCertificate, error)
	RenewCertificate(ctx context.Context, m *db.DomainMapping) (*certs.IssuedCertificate, error)
	RevokeCertificate(ctx context.Context, hostname string) error
}

// HostnameValidator runs pre-create hostname checks.
type HostnameValidator interface {
	Validate(ctx context.Context, rawHostname, tenantID string) (*hostname.Result, error)
}

// RoutingCache is the hostname->tenant edge cache.
type RoutingCache interface {
	InvalidateRouting(ctx context.Context, hostname string) error
}

// PlanService answers how many mappings a tenant's plan allows.
type PlanService interface {
	MappingLimit(ctx context.Context, tenantID, planLevel string) (int, error)
}

type Service struct {
	store     Store
	validator HostnameValidator
	verifier  Verifier
	certs     CertManager
	cache     RoutingCache
	notifier  notify.Notifier
	plans     PlanService
	logger    *zap.Logger
	now       func() time.Time
}

func NewService(store Store, validator HostnameValidator, verifier Verifier, certMgr CertManager, cache RoutingCache, notifier notify.Notifier, plans PlanService, logger *zap.Logger) *Service {
	return &Service{
		store:     store,
		validator: validator,
		verifier:  verifier,
		certs:     certMgr,
		cache:     cache,
		notifier:  notifier,
		plans:     plans,
		logger:    logger,
		now:       time.Now,
	}
}

type CustomCertificateInput struct {
	CertPEM  string `json:"certificate"`
	KeyPEM   string `json:"private_key"`
	ChainPEM string `json:"chain,omitempty"`
}

type CreateInput struct {
	Hostname           string
	CertificateType    db.CertificateType
	VerificationMethod db.VerificationMethod
	ForceHTTPS         bool
	AutoRenewal        bool
	CustomCertificate  *CustomCertificateInput
	Actor              string
	PlanLevel          string
	Metadata           db.JSONB
}

// Create validates the hostname, checks the plan quota and persists a new
// mapping in pending_verification with a fresh token and the DNS records
// the tenant must configure. Validation and guards run before any external
// side effect.
func (s *Service) Create(ctx context.Context, tenantID string, in CreateInput) (*db.DomainMapping, error) {
	host := hostname.Normalize(in.Hostname)

	check, err := s.validator.Validate(ctx, host, tenantID)
	if err != nil {
		return nil, err
	}
	if !check.Valid {
		// A second claim on a live hostname is a conflict, not a
		// malformed request, whichever tenant holds it.
		if check.Conflict {
			return nil, ErrConflict
		}
		return nil, &ValidationError{Issues: check.Issues, Suggestions: check.Suggestions}
	}

	count, err := s.store.CountMappingsByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to count mappings: %w", err)
	}
	limit, err := s.plans.MappingLimit(ctx, tenantID, in.PlanLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve plan limit: %w", err)
	}
	if count >= limit {
		return nil, ErrPlanLimit
	}

	if in.CertificateType == "" {
		in.CertificateType = db.CertManaged
	}
	if in.VerificationMethod == "" {
		in.VerificationMethod = db.VerifyDNS
	}

	m := &db.DomainMapping{
		ID:                 uuid.New().String(),
		TenantID:           tenantID,
		Hostname:           host,
		Status:             db.StatusPendingVerification,
		VerificationMethod: in.VerificationMethod,
		VerificationToken:  newVerificationToken(),
		CertificateType:    in.CertificateType,
		SSLEnabled:         true,
		ForceHTTPS:         in.ForceHTTPS,
		AutoRenewal:        in.AutoRenewal,
		DNSStatus:          db.DNSPending,
		HealthStatus:       db.HealthUnknown,
		UptimePercentage:   100,
		CreatedBy:          in.Actor,
		PlanLevel:          in.PlanLevel,
		Metadata:           in.Metadata,
		CreatedAt:          s.now(),
		UpdatedAt:          s.now(),
	}

	if in.CertificateType == db.CertCustom {
		if in.CustomCertificate == nil {
			return nil, &ValidationError{Issues: []string{"custom certificate bundle is required for certificate_type=custom"}}
		}
		if _, err := certs.ValidateCustomBundle(in.CustomCertificate.CertPEM, in.CustomCertificate.KeyPEM, in.CustomCertificate.ChainPEM); err != nil {
			return nil, &ValidationError{Issues: []string{err.Error()}}
		}
		m.CustomCertPEM = in.CustomCertificate.CertPEM
		m.CustomKeyPEM = in.CustomCertificate.KeyPEM
		m.CustomChainPEM = in.CustomCertificate.ChainPEM
	}

	m.DNSRecords = s.RequiredRecords(host, m.VerificationToken)

	if err := s.store.CreateMapping(ctx, m); err != nil {
		if errors.Is(err, db.ErrHostnameTaken) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to create mapping: %w", err)
	}

	s.logger.Info("Domain mapping created",
		zap.String("mapping_id", m.ID),
		zap.String("tenant_id", tenantID),
		zap.String("hostname", host),
	)

	return m, nil
}

// RequiredRecords lists the DNS records the tenant must configure.
func (s *Service) RequiredRecords(host, token string) db.DNSRecordList {
	return db.DNSRecordList{
		{Type: "CNAME", Name: host, Value: s.verifier.CNAMETarget(), TTL: 3600, Required: true},
		{Type: "TXT", Name: s.verifier.ChallengeName(host), Value: token, TTL: 300, Required: true},
	}
}

// VerifyOutcome is the result of a verification attempt.
// CertificateIssued is true only when this attempt obtained a
// certificate; idempotent re-verification leaves it false.
type VerifyOutcome struct {
	Mapping           *db.DomainMapping `json:"mapping"`
	Result            *dnsverify.Result `json:"result"`
	CertificateIssued bool              `json:"-"`
}

// Verify runs an ownership verification attempt and, on success, drives
// the mapping through pending_verification -> active: token cleared,
// verifiedAt set, certificate requested, dnsStatus verified. Re-verifying
// an already-active mapping is an idempotent no-op; the conditional status
// update guarantees at most one attempt wins a given pending cycle.
func (s *Service) Verify(ctx context.Context, id, tenantID, actor string) (*VerifyOutcome, error) {
	m, err := s.store.GetMapping(ctx, id, tenantID)
	if err != nil {
		return nil, mapStoreErr(err)
	}

	switch m.Status {
	case db.StatusDeleting:
		return nil, ErrInvalidState

	case db.StatusActive:
		// Idempotent: already verified, nothing to redo.
		return &VerifyOutcome{Mapping: m, Result: &dnsverify.Result{Success: true, CNAMEOk: true, TokenOk: true}}, nil

	case db.StatusError:
		// A certificate failure after successful DNS verification keeps
		// dnsStatus=verified; a retry skips straight to issuance.
		if m.DNSStatus == db.DNSVerified {
			return s.retryCertificate(ctx, m, actor)
		}
		// Otherwise re-enter the verification cycle.
		if ok, err := s.store.UpdateStatusIf(ctx, m.ID, db.StatusError, db.StatusPendingVerification); err != nil {
			return nil, err
		} else if !ok {
			return nil, ErrInvalidState
		}
		m.Status = db.StatusPendingVerification
	}

	if m.VerificationToken == "" {
		// The token was consumed by a previous cycle. Fail gracefully
		// rather than silently succeeding.
		return &VerifyOutcome{
			Mapping: m,
			Result: &dnsverify.Result{
				Success: false,
				Errors:  []string{"no verification token outstanding; request new DNS instructions"},
			},
		}, nil
	}

	result := s.verifier.VerifyOwnership(ctx, m.Hostname, m.VerificationToken)
	if !result.Success {
		m.DNSStatus = db.DNSPending
		m.UpdatedBy = actor
		m.UpdatedAt = s.now()
		// Status-guarded: the DNS walk takes seconds and a concurrent
		// attempt may have won in the meantime; a losing attempt must
		// not write over its outcome.
		if err := s.store.RecordVerificationFailure(ctx, m.ID, actor); err != nil {
			s.logger.Warn("Failed to record verification attempt", zap.Error(err), zap.String("mapping_id", m.ID))
		}
		s.notifier.VerificationFailed(ctx, m, result.Errors)
		return &VerifyOutcome{Mapping: m, Result: result}, nil
	}

	// Exactly one concurrent attempt may take the mapping to active.
	won, err := s.store.UpdateStatusIf(ctx, m.ID, db.StatusPendingVerification, db.StatusActive)
	if err != nil {
		return nil, err
	}
	if !won {
		current, err := s.store.GetMapping(ctx, id, tenantID)
		if err != nil {
			return nil, mapStoreErr(err)
		}
		if current.Status == db.StatusActive {
			return &VerifyOutcome{Mapping: current, Result: result}, nil
		}
		return nil, ErrInvalidState
	}

	now := s.now()
	m.Status = db.StatusActive
	m.VerificationToken = ""
	m.VerifiedAt = &now
	m.VerifiedBy = actor
	m.DNSStatus = db.DNSVerified
	m.Issues = db.StringSlice{}
	m.ConsecutiveFailures = 0
	m.UpdatedBy = actor
	m.UpdatedAt = now

	issued, certErr := s.certs.RequestCertificate(ctx, m)
	if certErr != nil {
		// DNS stays verified so the retry path skips the DNS walk.
		m.Status = db.StatusError
		m.HealthStatus = db.HealthError
		m.Issues = db.StringSlice{fmt.Sprintf("certificate issuance failed: %v", certErr)}
	} else {
		m.CertificateID = issued.CertificateID
		m.CertificateIssuer = issued.Issuer
		m.CertificateExpiry = &issued.Expiry
	}

	if err := s.store.UpdateMapping(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to persist verification outcome: %w", err)
	}

	if certErr != nil {
		s.notifier.VerificationFailed(ctx, m, m.Issues)
	} else {
		s.notifier.DomainVerified(ctx, m)
	}

	s.logger.Info("Domain mapping verified",
		zap.String("mapping_id", m.ID),
		zap.String("hostname", m.Hostname),
		zap.String("status", string(m.Status)),
	)

	return &VerifyOutcome{Mapping: m, Result: result, CertificateIssued: certErr == nil}, nil
}

// retryCertificate reactivates a mapping that entered error with DNS
// already verified, whether from a failed issuance or a health demotion,
// and re-attempts issuance without another DNS walk.
func (s *Service) retryCertificate(ctx context.Context, m *db.DomainMapping, actor string) (*VerifyOutcome, error) {
	won, err := s.store.UpdateStatusIf(ctx, m.ID, db.StatusError, db.StatusActive)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, ErrInvalidState
	}

	now := s.now()
	m.Status = db.StatusActive
	if m.VerifiedAt == nil {
		m.VerifiedAt = &now
		m.VerifiedBy = actor
	}
	m.UpdatedBy = actor
	m.UpdatedAt = now

	result := &dnsverify.Result{Success: true, CNAMEOk: true, TokenOk: true}

	issued, certErr := s.certs.RequestCertificate(ctx, m)
	if certErr != nil {
		m.Status = db.StatusError
		m.HealthStatus = db.HealthError
		m.Issues = db.StringSlice{fmt.Sprintf("certificate issuance failed: %v", certErr)}
	} else {
		m.CertificateID = issued.CertificateID
		m.CertificateIssuer = issued.Issuer
		m.CertificateExpiry = &issued.Expiry
		m.HealthStatus = db.HealthUnknown
		m.Issues = db.StringSlice{}
		m.ConsecutiveFailures = 0
	}

	if err := s.store.UpdateMapping(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to persist retry outcome: %w", err)
	}

	if certErr != nil {
		s.notifier.VerificationFailed(ctx, m, m.Issues)
	} else {
		s.notifier.DomainVerified(ctx, m)
	}

	return &VerifyOutcome{Mapping: m, Result: result, CertificateIssued: certErr == nil}, nil
}

type UpdateInput struct {
	ForceHTTPS        *bool
	AutoRenewal       *bool
	CustomCertificate *CustomCertificateInput
	Metadata          db.JSONB
	Actor             string
}

// Update applies metadata/config changes. Forbidden while deleting.
func (s *Service) Update(ctx context.Context, id, tenantID string, in UpdateInput) (*db.DomainMapping, error) {
	m, err := s.store.GetMapping(ctx, id, tenantID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if m.Status == db.StatusDeleting {
		return nil, ErrInvalidState
	}

	if in.ForceHTTPS != nil {
		m.ForceHTTPS = *in.ForceHTTPS
	}
	if in.AutoRenewal != nil {
		m.AutoRenewal = *in.AutoRenewal
	}
	if in.Metadata != nil {
		m.Metadata = in.Metadata
	}
	if in.CustomCertificate != nil {
		info, err := certs.ValidateCustomBundle(in.CustomCertificate.CertPEM, in.CustomCertificate.KeyPEM, in.CustomCertificate.ChainPEM)
		if err != nil {
			return nil, &ValidationError{Issues: []string{err.Error()}}
		}
		m.CertificateType = db.CertCustom
		m.CustomCertPEM = in.CustomCertificate.CertPEM
		m.CustomKeyPEM = in.CustomCertificate.KeyPEM
		m.CustomChainPEM = in.CustomCertificate.ChainPEM
		m.CertificateIssuer = info.Issuer
		m.CertificateExpiry = &info.Expiry
		now := s.now()
		m.LastRenewedAt = &now
	}

	m.UpdatedBy = in.Actor
	m.UpdatedAt = s.now()

	if err := s.store.UpdateMapping(ctx, m); err != nil {
		return nil, mapStoreErr(err)
	}

	// Routing config (forceHttps) lives in the edge cache too.
	if err := s.cache.InvalidateRouting(ctx, m.Hostname); err != nil {
		s.logger.Warn("Failed to invalidate routing cache", zap.Error(err), zap.String("hostname", m.Hostname))
	}

	return m, nil
}

// RenewCertificate re-issues the managed certificate of an active mapping.
func (s *Service) RenewCertificate(ctx context.Context, id, tenantID, actor string) (*db.DomainMapping, error) {
	m, err := s.store.GetMapping(ctx, id, tenantID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if m.Status != db.StatusActive {
		return nil, ErrInvalidState
	}

	issued, err := s.certs.RenewCertificate(ctx, m)
	if err != nil {
		if errors.Is(err, certs.ErrCustomRenewal) || errors.Is(err, certs.ErrNotActive) {
			return nil, ErrInvalidState
		}
		// Renewal hard failure surfaces on the mapping, not just in logs.
		m.Status = db.StatusError
		m.HealthStatus = db.HealthError
		m.Issues = db.StringSlice{fmt.Sprintf("certificate renewal failed: %v", err)}
		m.UpdatedBy = actor
		m.UpdatedAt = s.now()
		if updateErr := s.store.UpdateMapping(ctx, m); updateErr != nil {
			s.logger.Error("Failed to record renewal failure", zap.Error(updateErr), zap.String("mapping_id", m.ID))
		}
		s.notifier.HealthDegraded(ctx, m, m.Issues)
		return nil, fmt.Errorf("renewal failed: %w", err)
	}

	now := s.now()
	m.CertificateID = issued.CertificateID
	m.CertificateIssuer = issued.Issuer
	m.CertificateExpiry = &issued.Expiry
	m.LastRenewedAt = &now
	m.UpdatedBy = actor
	m.UpdatedAt = now

	if err := s.store.UpdateMapping(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to persist renewal: %w", err)
	}

	return m, nil
}

// Delete drives the removal workflow: soft-transition to deleting, then
// best-effort cleanup (certificate revocation, routing cache), then the
// hard delete. Cleanup failures are logged and never block removal; a
// mapping must not become undeletable because a downstream provider is
// down.
func (s *Service) Delete(ctx context.Context, id, tenantID, actor string) error {
	m, err := s.store.GetMapping(ctx, id, tenantID)
	if err != nil {
		return mapStoreErr(err)
	}
	if m.Status == db.StatusDeleting {
		return ErrInvalidState
	}

	won, err := s.store.UpdateStatusIf(ctx, m.ID, m.Status, db.StatusDeleting)
	if err != nil {
		return err
	}
	if !won {
		return ErrInvalidState
	}

	if m.SSLEnabled && m.CertificateType == db.CertManaged && m.CertificateID != "" {
		if err := s.certs.RevokeCertificate(ctx, m.Hostname); err != nil {
			s.logger.Warn("Best-effort certificate revocation failed during deletion",
				zap.String("mapping_id", m.ID),
				zap.String("hostname", m.Hostname),
				zap.Error(err),
			)
		}
	}

	if err := s.cache.InvalidateRouting(ctx, m.Hostname); err != nil {
		s.logger.Warn("Best-effort routing cache invalidation failed during deletion",
			zap.String("hostname", m.Hostname),
			zap.Error(err),
		)
	}

	if err := s.store.DeleteMapping(ctx, m.ID); err != nil {
		return fmt.Errorf("failed to delete mapping record: %w", err)
	}

	s.notifier.DomainRemoved(ctx, m)

	s.logger.Info("Domain mapping deleted",
		zap.String("mapping_id", m.ID),
		zap.String("tenant_id", tenantID),
		zap.String("hostname", m.Hostname),
		zap.String("actor", actor),
	)

	return nil
}

func (s *Service) Get(ctx context.Context, id, tenantID string) (*db.DomainMapping, error) {
	m, err := s.store.GetMapping(ctx, id, tenantID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return m, nil
}

func (s *Service) List(ctx context.Context, tenantID string, limit, offset int) ([]*db.DomainMapping, *db.TenantStats, error) {
	mappings, err := s.store.ListMappingsByTenant(ctx, tenantID, limit, offset)
	if err != nil {
		return nil, nil, err
	}
	stats, err := s.store.GetTenantStats(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}
	return mappings, stats, nil
}

func mapStoreErr(err error) error {
	if errors.Is(err, db.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func newVerificationToken() string {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		panic(err) // crypto/rand failure is unrecoverable
	}
	return "dw-verify-" + hex.EncodeToString(buf)
}
