// Package hostname validates tenant-supplied hostnames before a mapping
// is created. Checks are read-only; nothing here mutates state.
package hostname

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/craftlink/domain-warden/internal/db"
)

// labelRe matches a single RFC-1123 hostname label.
var labelRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

var defaultReserved = []string{
	"localhost",
	"example.com",
	"example.org",
	"example.net",
	"test",
	"invalid",
	"local",
}

// MappingLookup is the slice of the repository the validator needs.
type MappingLookup interface {
	GetMappingByHostname(ctx context.Context, hostname string) (*db.DomainMapping, error)
}

// CNAMEChecker reports where a hostname currently points, if anywhere.
type CNAMEChecker interface {
	LookupCNAME(ctx context.Context, hostname string) (string, error)
}

type Result struct {
	Valid       bool     `json:"valid"`
	Issues      []string `json:"issues,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	// Conflict marks the hostname as already claimed by a live mapping,
	// as opposed to malformed or reserved. Callers turn this into a
	// conflict rejection rather than a validation failure.
	Conflict bool `json:"-"`
}

type Validator struct {
	lookup      MappingLookup
	cname       CNAMEChecker
	cnameTarget string
	reserved    map[string]bool
}

func NewValidator(lookup MappingLookup, cname CNAMEChecker, cnameTarget string, extraReserved []string) *Validator {
	reserved := make(map[string]bool)
	for _, d := range defaultReserved {
		reserved[d] = true
	}
	for _, d := range extraReserved {
		reserved[strings.ToLower(d)] = true
	}
	return &Validator{
		lookup:      lookup,
		cname:       cname,
		cnameTarget: cnameTarget,
		reserved:    reserved,
	}
}

// Normalize lowercases a hostname and strips whitespace and any trailing
// dot. It does not strip schemes or paths; those are validation failures,
// not input to be repaired silently.
func Normalize(hostname string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(hostname)), ".")
}

// Validate runs format, reserved-name and collision checks for a hostname
// a tenant wants to claim. The live CNAME check is advisory: DNS may not
// have propagated yet in either direction.
func (v *Validator) Validate(ctx context.Context, rawHostname, tenantID string) (*Result, error) {
	result := &Result{Valid: true}
	hostname := Normalize(rawHostname)

	if issues := FormatIssues(hostname); len(issues) > 0 {
		result.Valid = false
		result.Issues = append(result.Issues, issues...)
		result.Suggestions = append(result.Suggestions,
			"Use a bare hostname like shop.yourbrand.com, without protocol or path")
		return result, nil
	}

	if v.isReserved(hostname) {
		result.Valid = false
		result.Issues = append(result.Issues, fmt.Sprintf("%s is a reserved domain and cannot be mapped", hostname))
		return result, nil
	}

	existing, err := v.lookup.GetMappingByHostname(ctx, hostname)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("failed to check hostname collision: %w", err)
	}
	if existing != nil && existing.TenantID != tenantID {
		result.Valid = false
		result.Conflict = true
		result.Issues = append(result.Issues, fmt.Sprintf("%s is already mapped to another account", hostname))
		result.Suggestions = append(result.Suggestions, "Choose a different hostname or contact support if you own this domain")
		return result, nil
	}
	if existing != nil && existing.TenantID == tenantID {
		result.Valid = false
		result.Conflict = true
		result.Issues = append(result.Issues, fmt.Sprintf("%s is already mapped in your account", hostname))
		return result, nil
	}

	// Advisory only: a CNAME pointing elsewhere usually means the domain
	// is serving another site, but it may equally be stale DNS.
	if v.cname != nil {
		if target, err := v.cname.LookupCNAME(ctx, hostname); err == nil && target != "" && target != v.cnameTarget {
			result.Suggestions = append(result.Suggestions,
				fmt.Sprintf("%s currently points at %s; it appears to be configured elsewhere", hostname, target))
		}
	}

	return result, nil
}

// FormatIssues reports structural problems with a hostname. Empty result
// means the hostname is well-formed.
func FormatIssues(hostname string) []string {
	var issues []string

	if hostname == "" {
		return []string{"hostname is required"}
	}
	if strings.Contains(hostname, "://") {
		issues = append(issues, "hostname must not include a protocol scheme")
	}
	if strings.ContainsAny(hostname, "/?#") {
		issues = append(issues, "hostname must not include a path or query string")
	}
	if len(issues) > 0 {
		return issues
	}

	if len(hostname) > 253 {
		issues = append(issues, "hostname exceeds 253 characters")
	}

	labels := strings.Split(hostname, ".")
	if len(labels) < 2 {
		issues = append(issues, "hostname must include at least one dot (e.g. shop.example.com)")
	}
	for _, label := range labels {
		if !labelRe.MatchString(label) {
			issues = append(issues, fmt.Sprintf("invalid hostname label %q", label))
			break
		}
	}

	return issues
}

func (v *Validator) isReserved(hostname string) bool {
	if v.reserved[hostname] {
		return true
	}
	// Subdomains of reserved domains are reserved too.
	for d := range v.reserved {
		if strings.HasSuffix(hostname, "."+d) {
			return true
		}
	}
	return false
}
