// Package notify delivers participant notifications over email and
// WhatsApp deep links. Delivery is best effort: failures are logged and
// never surface to the state machine that triggered them.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"examline/internal/domain"
)

type Kind string

const (
	// KindQueueEntry confirms a submission was recorded and tells the
	// participant their code and queue position.
	KindQueueEntry Kind = "queue_entry"
	// KindTurnAvailable tells the participant they now hold the upload slot
	// and must attach their proof before the deadline.
	KindTurnAvailable Kind = "turn_available"
	// KindRejected tells the participant their proof was rejected, with the
	// staff reason.
	KindRejected Kind = "rejected"
	// KindClosed tells a remaining participant the demand was settled with
	// someone else's proof.
	KindClosed Kind = "closed"
)

// Event is one notification to deliver, fully resolved: the engine builds
// these inside its transaction and hands them to the dispatcher after commit.
type Event struct {
	Kind       Kind
	Demand     domain.Demand
	Submission domain.Submission
	// Position is the 1-based queue rank, set for queue-entry events.
	Position int
	// Reason is the staff note, set for rejection events.
	Reason string
}

// Notifier delivers a single notification event.
type Notifier interface {
	Notify(ctx context.Context, evt Event) error
}

// Dispatcher fans each event out to every registered channel. One
// recipient's failure never blocks the rest of the batch.
type Dispatcher struct {
	Channels []Notifier
	Log      zerolog.Logger
}

func (d *Dispatcher) Dispatch(ctx context.Context, events []Event) {
	for _, evt := range events {
		for _, ch := range d.Channels {
			if err := ch.Notify(ctx, evt); err != nil {
				d.Log.Warn().
					Err(err).
					Str("kind", string(evt.Kind)).
					Str("demand_id", evt.Demand.ID).
					Str("code", evt.Submission.Code).
					Msg("notification delivery failed")
			}
		}
	}
}

// DeliveryError wraps a channel failure with enough context to log.
type DeliveryError struct {
	Channel string
	Kind    Kind
	Err     error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s delivery of %s failed: %v", e.Channel, e.Kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// UploadLink points the participant at the proof upload endpoint for their
// submission.
func UploadLink(serviceBaseURL string, submissionID int64) string {
	return fmt.Sprintf("%s/v1/submissions/%d/proof", strings.TrimSuffix(serviceBaseURL, "/"), submissionID)
}

// FormatDeadline renders a deadline for participant-facing text in the
// configured timezone, e.g. "27/08/2026 às 15:04". Timestamps always render
// in this one regional timezone regardless of where the server runs.
func FormatDeadline(rfc3339 string, loc *time.Location) string {
	t, err := time.Parse(time.RFC3339, rfc3339)
	if err != nil {
		return rfc3339
	}
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("02/01/2006 às 15:04")
}

func firstName(full string) string {
	fields := strings.Fields(full)
	if len(fields) == 0 {
		return full
	}
	return fields[0]
}
