package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/seatlite/internal/booking/domain"
)

// DefaultSubject is the NATS subject booking lifecycle events are published to.
const DefaultSubject = "booking.events"

// Publisher writes booking lifecycle events to a NATS subject. Publishing is
// best-effort: a nil connection turns every publish into a no-op so the
// booking path never depends on the broker being up.
type Publisher struct {
	conn    *nats.Conn
	subject string
}

// NewPublisher builds a Publisher using the provided NATS connection.
func NewPublisher(conn *nats.Conn, subject string) *Publisher {
	if subject == "" {
		subject = DefaultSubject
	}
	return &Publisher{conn: conn, subject: subject}
}

// Publish satisfies domain.EventPublisher.
func (p *Publisher) Publish(ctx context.Context, event domain.Event) error {
	if p == nil || p.conn == nil {
		return nil
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := nats.NewMsg(p.subject)
	msg.Data = payload
	msg.Header.Set("x-event-type", string(event.Type))
	if traceID := traceIDFromContext(ctx); traceID != "" {
		msg.Header.Set("x-trace-id", traceID)
	}
	return p.conn.PublishMsg(msg)
}

func traceIDFromContext(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return ""
	}
	return sc.TraceID().String()
}
