// Package notify delivers fire-and-forget lifecycle notifications. Delivery
// failures are logged and never affect the operation that produced them.
package notify

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
)

// Event names.
const (
	EventEscrowFunded      = "escrow.funded"
	EventEscrowFailed      = "escrow.failed"
	EventSliceCompleted    = "slice.completed"
	EventEscrowReleased    = "escrow.released"
	EventEscrowRefunded    = "escrow.refunded"
	EventDisputeOpened     = "dispute.opened"
	EventDisputeJudged     = "dispute.judged"
	EventDisputeEscalated  = "dispute.escalated"
	EventDisputeResolved   = "dispute.resolved"
	EventAdvanceRequested  = "material_advance.requested"
	EventAdvanceReleased   = "material_advance.released"
	EventPayoutDistributed = "payout.distributed"
)

// Notification is a message addressed to one user.
type Notification struct {
	Event     string            `json:"event"`
	UserID    uuid.UUID         `json:"user_id"`
	SubjectID uuid.UUID         `json:"subject_id"`
	Message   string            `json:"message"`
	Data      map[string]string `json:"data,omitempty"`
	SentAt    time.Time         `json:"sent_at"`
}

// Sink accepts notifications.
type Sink interface {
	Send(ctx context.Context, n Notification) error
}

// LogSink writes notifications to the standard logger.
type LogSink struct{}

// Send logs n.
func (LogSink) Send(_ context.Context, n Notification) error {
	log.Printf("notify: event=%s user=%s subject=%s msg=%q", n.Event, n.UserID, n.SubjectID, n.Message)
	return nil
}

// Dispatch sends every notification through sink, logging failures.
// It is meant to be called after the producing transaction has committed.
func Dispatch(ctx context.Context, sink Sink, notes ...Notification) {
	if sink == nil {
		return
	}
	now := time.Now().UTC()
	for _, n := range notes {
		if n.SentAt.IsZero() {
			n.SentAt = now
		}
		if err := sink.Send(ctx, n); err != nil {
			log.Printf("notify: send %s to %s failed: %v", n.Event, n.UserID, err)
		}
	}
}
