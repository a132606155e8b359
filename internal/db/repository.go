package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	ErrNotFound      = errors.New("mapping not found")
	ErrHostnameTaken = errors.New("hostname already mapped")
)

type Repository struct {
	db *sqlx.DB
}

func NewConnection(databaseURL string, maxConns, maxIdle int) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// CreateMapping inserts a new mapping. The partial unique index on
// hostname (excluding deleting rows) closes the race between two tenants
// claiming the same hostname concurrently; a violation surfaces as
// ErrHostnameTaken.
func (r *Repository) CreateMapping(ctx context.Context, m *DomainMapping) error {
	query := `
        INSERT INTO domain_mappings (
            id, tenant_id, hostname, status,
            verification_method, verification_token, verified_at, verified_by,
            certificate_type, ssl_enabled, certificate_id, certificate_issuer,
            certificate_expiry, last_renewed_at,
            custom_cert_pem, custom_key_pem, custom_chain_pem,
            force_https, auto_renewal, dns_records, dns_status,
            health_status, last_health_check, avg_response_time_ms,
            uptime_percentage, last_downtime_at, issues,
            request_count, last_accessed_at,
            created_by, updated_by, plan_level, metadata, created_at, updated_at
        ) VALUES (
            :id, :tenant_id, :hostname, :status,
            :verification_method, :verification_token, :verified_at, :verified_by,
            :certificate_type, :ssl_enabled, :certificate_id, :certificate_issuer,
            :certificate_expiry, :last_renewed_at,
            :custom_cert_pem, :custom_key_pem, :custom_chain_pem,
            :force_https, :auto_renewal, :dns_records, :dns_status,
            :health_status, :last_health_check, :avg_response_time_ms,
            :uptime_percentage, :last_downtime_at, :issues,
            :request_count, :last_accessed_at,
            :created_by, :updated_by, :plan_level, :metadata, :created_at, :updated_at
        )`

	_, err := r.db.NamedExecContext(ctx, query, m)
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return ErrHostnameTaken
	}
	return err
}

func (r *Repository) GetMapping(ctx context.Context, id, tenantID string) (*DomainMapping, error) {
	var m DomainMapping
	query := `SELECT * FROM domain_mappings WHERE id = $1 AND tenant_id = $2`
	err := r.db.GetContext(ctx, &m, query, id, tenantID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMappingByHostname returns the live claim on a hostname, if any.
// Mappings in deleting state do not count as claims.
func (r *Repository) GetMappingByHostname(ctx context.Context, hostname string) (*DomainMapping, error) {
	var m DomainMapping
	query := `
        SELECT * FROM domain_mappings
        WHERE hostname = $1 AND status != $2`
	err := r.db.GetContext(ctx, &m, query, hostname, StatusDeleting)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// GetRoutableMapping is the routing lookup used by the edge: only
// verified, active mappings resolve.
func (r *Repository) GetRoutableMapping(ctx context.Context, hostname string) (*DomainMapping, error) {
	var m DomainMapping
	query := `
        SELECT * FROM domain_mappings
        WHERE hostname = $1 AND status = $2 AND verified_at IS NOT NULL`
	err := r.db.GetContext(ctx, &m, query, hostname, StatusActive)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *Repository) ListMappingsByTenant(ctx context.Context, tenantID string, limit, offset int) ([]*DomainMapping, error) {
	mappings := []*DomainMapping{}
	query := `
        SELECT * FROM domain_mappings
        WHERE tenant_id = $1
        ORDER BY created_at DESC
        LIMIT $2 OFFSET $3`

	err := r.db.SelectContext(ctx, &mappings, query, tenantID, limit, offset)
	return mappings, err
}

func (r *Repository) CountMappingsByTenant(ctx context.Context, tenantID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM domain_mappings WHERE tenant_id = $1 AND status != $2`
	err := r.db.GetContext(ctx, &count, query, tenantID, StatusDeleting)
	return count, err
}

func (r *Repository) UpdateMapping(ctx context.Context, m *DomainMapping) error {
	query := `
        UPDATE domain_mappings SET
            status = :status,
            verification_method = :verification_method,
            verification_token = :verification_token,
            verified_at = :verified_at,
            verified_by = :verified_by,
            certificate_type = :certificate_type,
            ssl_enabled = :ssl_enabled,
            certificate_id = :certificate_id,
            certificate_issuer = :certificate_issuer,
            certificate_expiry = :certificate_expiry,
            last_renewed_at = :last_renewed_at,
            custom_cert_pem = :custom_cert_pem,
            custom_key_pem = :custom_key_pem,
            custom_chain_pem = :custom_chain_pem,
            force_https = :force_https,
            auto_renewal = :auto_renewal,
            dns_records = :dns_records,
            dns_status = :dns_status,
            health_status = :health_status,
            last_health_check = :last_health_check,
            avg_response_time_ms = :avg_response_time_ms,
            uptime_percentage = :uptime_percentage,
            last_downtime_at = :last_downtime_at,
            issues = :issues,
            consecutive_failures = :consecutive_failures,
            updated_by = :updated_by,
            metadata = :metadata,
            updated_at = :updated_at
        WHERE id = :id AND tenant_id = :tenant_id`

	res, err := r.db.NamedExecContext(ctx, query, m)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateHealthMetrics writes the rolling health and analytics columns
// only. Health passes run concurrently with lifecycle transitions and
// operate on rows loaded earlier, so they must never touch status,
// verification or certificate fields.
func (r *Repository) UpdateHealthMetrics(ctx context.Context, m *DomainMapping) error {
	query := `
        UPDATE domain_mappings SET
            health_status = :health_status,
            last_health_check = :last_health_check,
            avg_response_time_ms = :avg_response_time_ms,
            uptime_percentage = :uptime_percentage,
            last_downtime_at = :last_downtime_at,
            issues = :issues,
            consecutive_failures = :consecutive_failures,
            updated_at = :updated_at
        WHERE id = :id`

	res, err := r.db.NamedExecContext(ctx, query, m)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordVerificationFailure stamps a failed attempt on a mapping still in
// pending_verification. The status guard keeps a slow losing attempt from
// overwriting a concurrent one that already won.
func (r *Repository) RecordVerificationFailure(ctx context.Context, id, actor string) error {
	query := `
        UPDATE domain_mappings
        SET dns_status = $1, updated_by = $2, updated_at = NOW()
        WHERE id = $3 AND status = $4`

	_, err := r.db.ExecContext(ctx, query, DNSPending, actor, id, StatusPendingVerification)
	return err
}

// UpdateStatusIf transitions status only when the current value matches.
// This is the per-mapping logical lock: two concurrent verification
// attempts race on the conditional update and exactly one wins.
func (r *Repository) UpdateStatusIf(ctx context.Context, id string, from, to MappingStatus) (bool, error) {
	query := `
        UPDATE domain_mappings
        SET status = $1, updated_at = NOW()
        WHERE id = $2 AND status = $3`

	res, err := r.db.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (r *Repository) DeleteMapping(ctx context.Context, id string) error {
	query := `DELETE FROM domain_mappings WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// FindExpiringWithin returns active, auto-renewing managed mappings whose
// certificate expires within the window. Fed to the renewal queue.
func (r *Repository) FindExpiringWithin(ctx context.Context, window time.Duration, limit int) ([]*DomainMapping, error) {
	mappings := []*DomainMapping{}
	query := `
        SELECT * FROM domain_mappings
        WHERE status = $1
        AND certificate_type = $2
        AND auto_renewal = true
        AND certificate_expiry IS NOT NULL
        AND certificate_expiry < NOW() + $3::interval
        ORDER BY certificate_expiry ASC
        LIMIT $4`

	interval := fmt.Sprintf("%d seconds", int(window.Seconds()))
	err := r.db.SelectContext(ctx, &mappings, query, StatusActive, CertManaged, interval, limit)
	return mappings, err
}

// FindNeedingHealthCheck returns mappings whose last health check is older
// than the staleness threshold (or that were never checked).
func (r *Repository) FindNeedingHealthCheck(ctx context.Context, staleAfter time.Duration, limit int) ([]*DomainMapping, error) {
	mappings := []*DomainMapping{}
	query := `
        SELECT * FROM domain_mappings
        WHERE status IN ($1, $2)
        AND (last_health_check IS NULL OR last_health_check < NOW() - $3::interval)
        ORDER BY last_health_check ASC NULLS FIRST
        LIMIT $4`

	interval := fmt.Sprintf("%d seconds", int(staleAfter.Seconds()))
	err := r.db.SelectContext(ctx, &mappings, query, StatusActive, StatusError, interval, limit)
	return mappings, err
}

// RecordAccess bumps the routing analytics counters. Fire-and-forget from
// the edge lookup path.
func (r *Repository) RecordAccess(ctx context.Context, id string) error {
	query := `
        UPDATE domain_mappings
        SET request_count = request_count + 1, last_accessed_at = NOW()
        WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

// CountMappingsByStatus returns system-wide lifecycle counts for the
// status gauges.
func (r *Repository) CountMappingsByStatus(ctx context.Context) (map[MappingStatus]int, error) {
	rows := []struct {
		Status MappingStatus `db:"status"`
		Count  int           `db:"count"`
	}{}
	query := `SELECT status, COUNT(*) AS count FROM domain_mappings GROUP BY status`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, err
	}
	counts := make(map[MappingStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

func (r *Repository) GetTenantStats(ctx context.Context, tenantID string) (*TenantStats, error) {
	var stats TenantStats
	query := `
        SELECT
            COUNT(*) AS total,
            COUNT(*) FILTER (WHERE status = 'pending_verification') AS pending_verification,
            COUNT(*) FILTER (WHERE status = 'active') AS active,
            COUNT(*) FILTER (WHERE status = 'error') AS errored,
            COUNT(*) FILTER (WHERE ssl_enabled) AS ssl_enabled,
            COUNT(*) FILTER (WHERE health_status = 'healthy') AS healthy
        FROM domain_mappings
        WHERE tenant_id = $1 AND status != 'deleting'`

	err := r.db.GetContext(ctx, &stats, query, tenantID)
	return &stats, err
}
