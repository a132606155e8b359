// Package notify is the boundary to the notification delivery service.
// Delivery itself is an external collaborator; this package defines the
// contract and a logging implementation used until a transport is wired.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/craftlink/domain-warden/internal/db"
)

type Notifier interface {
	DomainVerified(ctx context.Context, m *db.DomainMapping)
	VerificationFailed(ctx context.Context, m *db.DomainMapping, issues []string)
	DomainRemoved(ctx context.Context, m *db.DomainMapping)
	HealthDegraded(ctx context.Context, m *db.DomainMapping, issues []string)
	CertificateExpiring(ctx context.Context, m *db.DomainMapping, daysLeft int)
}

// LogNotifier records every event through the structured logger.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) DomainVerified(_ context.Context, m *db.DomainMapping) {
	n.logger.Info("Notification: domain verified",
		zap.String("tenant_id", m.TenantID),
		zap.String("hostname", m.Hostname),
	)
}

func (n *LogNotifier) VerificationFailed(_ context.Context, m *db.DomainMapping, issues []string) {
	n.logger.Info("Notification: verification failed",
		zap.String("tenant_id", m.TenantID),
		zap.String("hostname", m.Hostname),
		zap.Strings("issues", issues),
	)
}

func (n *LogNotifier) DomainRemoved(_ context.Context, m *db.DomainMapping) {
	n.logger.Info("Notification: domain removed",
		zap.String("tenant_id", m.TenantID),
		zap.String("hostname", m.Hostname),
	)
}

func (n *LogNotifier) HealthDegraded(_ context.Context, m *db.DomainMapping, issues []string) {
	n.logger.Warn("Notification: domain health degraded",
		zap.String("tenant_id", m.TenantID),
		zap.String("hostname", m.Hostname),
		zap.Strings("issues", issues),
	)
}

func (n *LogNotifier) CertificateExpiring(_ context.Context, m *db.DomainMapping, daysLeft int) {
	n.logger.Warn("Notification: certificate expiring",
		zap.String("tenant_id", m.TenantID),
		zap.String("hostname", m.Hostname),
		zap.Int("days_left", daysLeft),
	)
}
