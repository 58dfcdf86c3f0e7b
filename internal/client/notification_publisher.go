package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NotificationPublisher publishes expense approval workflow events to NATS
// for consumption by downstream notification services.
//
// Subject convention: expenses.approval.<event_type>
// Event types: expense_submitted, expense_approved, expense_rejected
//
// All publish operations are non-fatal — errors are logged but never propagated
// to the caller, so notification failures never interrupt approval operations.
type NotificationPublisher struct {
	conn *nats.Conn
	log  zerolog.Logger
}

// ApprovalEvent is the JSON schema published to NATS.
type ApprovalEvent struct {
	EventType  string                 `json:"event_type"`
	ExpenseID  string                 `json:"expense_id"`
	CompanyID  string                 `json:"company_id"`
	ActorID    string                 `json:"actor_id,omitempty"`
	Category   string                 `json:"category,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// NewNotificationPublisher creates a publisher backed by the given NATS
// connection. A nil connection produces a no-op publisher.
func NewNotificationPublisher(conn *nats.Conn, log zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{conn: conn, log: log}
}

// PublishApprovalEvent publishes an expense approval event to NATS.
// Subject: expenses.approval.<eventType>
func (p *NotificationPublisher) PublishApprovalEvent(ctx context.Context, eventType, expenseID, companyID, actorID string, payload map[string]interface{}) {
	if p.conn == nil {
		return
	}

	event := &ApprovalEvent{
		EventType:  eventType,
		ExpenseID:  expenseID,
		CompanyID:  companyID,
		ActorID:    actorID,
		Category:   "expense_approval",
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", eventType).Msg("notification: failed to marshal event")
		return
	}

	subject := fmt.Sprintf("expenses.approval.%s", eventType)
	if err := p.conn.Publish(subject, data); err != nil {
		p.log.Warn().Err(err).
			Str("subject", subject).
			Str("expense_id", expenseID).
			Msg("notification: failed to publish NATS event (non-fatal)")
		return
	}

	p.log.Debug().
		Str("subject", subject).
		Str("expense_id", expenseID).
		Msg("notification: event published")
}
