package port

import (
	"context"

	"github.com/inkwell-labs/identity-core/internal/core/domain"
)

// NotificationSink dispatches one-time codes out of band. Dispatch is
// fire-and-forget relative to any store transaction: a delivery failure must
// never roll back a committed challenge row.
type NotificationSink interface {
	Dispatch(ctx context.Context, delivery domain.CodeDelivery) error
}

// AuditSink persists audit entries. Failures are logged by callers and never
// abort the primary operation.
type AuditSink interface {
	Record(ctx context.Context, entry domain.AuditEntry) error
}
