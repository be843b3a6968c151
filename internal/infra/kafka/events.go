package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/inkwell-labs/identity-core/internal/core/domain"
	"github.com/inkwell-labs/identity-core/internal/core/port"
	"github.com/inkwell-labs/identity-core/internal/infra/config"
	"github.com/inkwell-labs/identity-core/internal/infra/logger"
)

const schemaVersion = "1.0"

const (
	eventTypeAudit        = "audit.recorded"
	eventTypeCodeDelivery = "notification.code_requested"
)

type envelopeMetadata map[string]string

type eventEnvelope struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	SubjectID int64            `json:"subject_id,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Payload   any              `json:"payload"`
	Metadata  envelopeMetadata `json:"metadata,omitempty"`
}

// publisher carries the shared envelope plumbing for the concrete sinks.
type publisher struct {
	producer *Producer
	logger   *zap.Logger
	appCfg   config.AppSettings
}

func (p *publisher) publish(ctx context.Context, eventID, eventType string, subjectID int64, ts time.Time, payload any) error {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	id := eventID
	if id == "" {
		id = uuid.NewString()
	}

	metadata := envelopeMetadata{
		"service":     p.appCfg.Name,
		"environment": p.appCfg.Env,
	}

	if span := trace.SpanFromContext(ctx); span != nil {
		if sc := span.SpanContext(); sc.IsValid() {
			metadata["trace_id"] = sc.TraceID().String()
		}
	}

	envelope := eventEnvelope{
		EventID:   id,
		EventType: eventType,
		SubjectID: subjectID,
		Timestamp: ts.UTC(),
		Version:   schemaVersion,
		Payload:   payload,
		Metadata:  metadata,
	}

	bytes, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.producer.TopicName(eventType),
		Value: sarama.ByteEncoder(bytes),
	}

	select {
	case p.producer.Producer().Input() <- message:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AuditPublisher emits audit.recorded events.
type AuditPublisher struct {
	publisher
}

// NewAuditPublisher constructs a Kafka-backed audit sink.
func NewAuditPublisher(producer *Producer, appCfg config.AppSettings, log *zap.Logger) *AuditPublisher {
	return &AuditPublisher{publisher{producer: producer, appCfg: appCfg, logger: log}}
}

// Record publishes an audit entry. Detail keys outside the allow list are
// dropped before the entry leaves the process.
func (p *AuditPublisher) Record(ctx context.Context, entry domain.AuditEntry) error {
	payload := struct {
		SubjectID  int64             `json:"subject_id,omitempty"`
		Action     string            `json:"action"`
		OccurredAt time.Time         `json:"occurred_at"`
		Detail     map[string]string `json:"detail,omitempty"`
	}{
		SubjectID:  entry.SubjectID,
		Action:     entry.Action,
		OccurredAt: entry.OccurredAt.UTC(),
		Detail:     filterDetail(entry.Detail),
	}

	return p.publish(ctx, entry.EventID, eventTypeAudit, entry.SubjectID, entry.OccurredAt, payload)
}

func filterDetail(detail map[string]string) map[string]string {
	if len(detail) == 0 {
		return nil
	}
	filtered := make(map[string]string, len(detail))
	for key, value := range detail {
		if _, ok := domain.AuditDetailAllowList[key]; ok {
			filtered[key] = value
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	return filtered
}

// NotificationPublisher emits notification.code_requested events for a
// downstream delivery service to act on.
type NotificationPublisher struct {
	publisher
}

// NewNotificationPublisher constructs a Kafka-backed notification sink.
func NewNotificationPublisher(producer *Producer, appCfg config.AppSettings, log *zap.Logger) *NotificationPublisher {
	return &NotificationPublisher{publisher{producer: producer, appCfg: appCfg, logger: log}}
}

// Dispatch publishes a code delivery request. The one-time code travels in
// the payload because the downstream notifier is the only component that
// ever sees it in clear text.
func (p *NotificationPublisher) Dispatch(ctx context.Context, delivery domain.CodeDelivery) error {
	payload := struct {
		Destination string    `json:"destination"`
		Code        string    `json:"code"`
		Purpose     string    `json:"purpose"`
		RequestedAt time.Time `json:"requested_at"`
		ExpiresAt   time.Time `json:"expires_at"`
	}{
		Destination: delivery.Destination,
		Code:        delivery.Code,
		Purpose:     string(delivery.Purpose),
		RequestedAt: delivery.RequestedAt.UTC(),
		ExpiresAt:   delivery.ExpiresAt.UTC(),
	}

	if err := p.publish(ctx, delivery.EventID, eventTypeCodeDelivery, delivery.SubjectID, delivery.RequestedAt, payload); err != nil {
		return err
	}

	p.logger.Debug("code delivery dispatched",
		zap.String("destination", logger.MaskIdentifier(delivery.Destination)),
		zap.String("purpose", string(delivery.Purpose)),
	)
	return nil
}

var (
	_ port.AuditSink        = (*AuditPublisher)(nil)
	_ port.NotificationSink = (*NotificationPublisher)(nil)
)
