package kafka

import (
	"context"

	"go.uber.org/zap"

	"github.com/inkwell-labs/identity-core/internal/core/domain"
	"github.com/inkwell-labs/identity-core/internal/core/port"
	"github.com/inkwell-labs/identity-core/internal/infra/logger"
)

// StubAuditSink logs audit entries instead of sending them to Kafka. Useful
// for development environments without a broker.
type StubAuditSink struct {
	logger *zap.Logger
}

// NewStubAuditSink constructs a log-only audit sink.
func NewStubAuditSink(log *zap.Logger) *StubAuditSink {
	return &StubAuditSink{logger: log}
}

// Record logs the audit entry.
func (s *StubAuditSink) Record(_ context.Context, entry domain.AuditEntry) error {
	s.logger.Info("Stub audit entry",
		zap.String("action", entry.Action),
		zap.Int64("subject_id", entry.SubjectID),
		zap.Time("occurred_at", entry.OccurredAt),
		zap.Any("detail", entry.Detail),
	)
	return nil
}

// StubNotificationSink logs code deliveries instead of dispatching them. The
// code itself is never logged.
type StubNotificationSink struct {
	logger *zap.Logger
}

// NewStubNotificationSink constructs a log-only notification sink.
func NewStubNotificationSink(log *zap.Logger) *StubNotificationSink {
	return &StubNotificationSink{logger: log}
}

// Dispatch logs the delivery request with a masked destination.
func (s *StubNotificationSink) Dispatch(_ context.Context, delivery domain.CodeDelivery) error {
	s.logger.Info("Stub code delivery",
		zap.String("destination", logger.MaskIdentifier(delivery.Destination)),
		zap.String("purpose", string(delivery.Purpose)),
		zap.Time("expires_at", delivery.ExpiresAt),
	)
	return nil
}

var (
	_ port.AuditSink        = (*StubAuditSink)(nil)
	_ port.NotificationSink = (*StubNotificationSink)(nil)
)
