package ledger

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// EventKind classifies a ledger audit entry.
type EventKind string

const (
	EventOrderCreated EventKind = "ORDER_CREATED"
	EventStatusChange EventKind = "STATUS_CHANGE"
	EventRefund       EventKind = "REFUND"
	EventRebuild      EventKind = "REBUILD"
)

// Event is one row of the append-only ledger audit trail. Each mutation of
// the ledger writes exactly one event inside the same transaction, so the
// trail can be replayed to explain any ledger value and correlated with a
// distributed trace via TraceID.
type Event struct {
	OrderID    string
	Kind       EventKind
	PrevStatus string
	NewStatus  string

	// Delta is the signed revenue adjustment this mutation applied.
	Delta float64

	// Note is free-form operator context, e.g. the reason for a manual
	// status change.
	Note string

	// TraceID and SpanID identify the OpenTelemetry span that was active
	// when the mutation committed. Empty when no span is active.
	TraceID string
	SpanID  string

	OccurredAt time.Time
}

// NewEvent builds an audit event with trace identifiers extracted from the
// active span in ctx, if any.
func NewEvent(ctx context.Context, kind EventKind, orderID string, delta float64) Event {
	ev := Event{
		Kind:       kind,
		OrderID:    orderID,
		Delta:      delta,
		OccurredAt: time.Now().UTC(),
	}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		ev.TraceID = sc.TraceID().String()
		ev.SpanID = sc.SpanID().String()
	}
	return ev
}
