package mapping

import (
	"fmt"
	"time"

	"github.com/craftlink/domain-warden/internal/certs"
	"github.com/craftlink/domain-warden/internal/db"
)

// Summary is the list-view projection of a mapping. Computed fields are
// pure functions over the stored record; nothing here is lazily evaluated
// or persisted.
type Summary struct {
	ID               string           `json:"id"`
	Hostname         string           `json:"hostname"`
	Status           db.MappingStatus `json:"status"`
	DNSStatus        db.DNSStatus     `json:"dns_status"`
	SSLStatus        db.SSLStatus     `json:"ssl_status"`
	HealthStatus     db.HealthStatus  `json:"health_status"`
	DaysUntilExpiry  int              `json:"days_until_expiry"`
	UptimePercentage float64          `json:"uptime_percentage"`
	ResponseTimeMs   int              `json:"avg_response_time_ms"`
	CreatedAt        time.Time        `json:"created_at"`
}

func Summarize(m *db.DomainMapping, now time.Time) Summary {
	return Summary{
		ID:               m.ID,
		Hostname:         m.Hostname,
		Status:           m.Status,
		DNSStatus:        m.DNSStatus,
		SSLStatus:        certs.ClassifySSL(m.SSLEnabled, m.CertificateExpiry, now),
		HealthStatus:     m.HealthStatus,
		DaysUntilExpiry:  certs.DaysUntilExpiry(m.CertificateExpiry, now),
		UptimePercentage: m.UptimePercentage,
		ResponseTimeMs:   m.AvgResponseTimeMs,
		CreatedAt:        m.CreatedAt,
	}
}

// NextSteps returns tenant-facing guidance for the detail view, derived
// from where the mapping sits in its lifecycle.
func NextSteps(m *db.DomainMapping) []string {
	switch m.Status {
	case db.StatusPendingVerification:
		steps := []string{
			"Add the DNS records below at your DNS provider",
		}
		for _, rec := range m.DNSRecords {
			steps = append(steps, fmt.Sprintf("Create a %s record for %s pointing to %s", rec.Type, rec.Name, rec.Value))
		}
		steps = append(steps, "Then trigger verification; DNS changes can take up to an hour to propagate")
		return steps

	case db.StatusError:
		steps := []string{}
		for _, issue := range m.Issues {
			steps = append(steps, "Resolve: "+issue)
		}
		if m.DNSStatus == db.DNSVerified {
			steps = append(steps, "DNS is verified; retry verification to re-attempt certificate issuance")
		} else {
			steps = append(steps, "Re-check your DNS configuration and retry verification")
		}
		return steps

	case db.StatusActive:
		if certs.ClassifySSL(m.SSLEnabled, m.CertificateExpiry, time.Now()) == db.SSLExpiringSoon {
			return []string{"Certificate is expiring soon; renewal will run automatically if auto-renewal is enabled"}
		}
		return []string{"Domain is active and serving traffic"}

	case db.StatusDeleting:
		return []string{"Mapping is being removed"}
	}
	return nil
}
