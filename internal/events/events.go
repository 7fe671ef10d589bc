package events

import (
	"context"
	"time"
)

// StreamProject carries every project-scoped event.
const StreamProject = "events:project"

// Event types
const (
	EventEscrowCreated          = "escrow_created"
	EventEscrowFunded           = "escrow_funded"
	EventEscrowRefunded         = "escrow_refunded"
	EventMilestoneStatusChanged = "milestone_status_changed"
	EventMilestonePaid          = "milestone_paid"
	EventProjectStatusChanged   = "project_status_changed"
	EventApplicationReceived    = "application_received"
	EventDisputeRaised          = "dispute_raised"
	EventDisputeUpdated         = "dispute_updated"
	EventDisputeResolved        = "dispute_resolved"
)

type Event struct {
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	Recipients []string       `json:"recipients,omitempty"`
	Payload    map[string]any `json:"payload"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// IsFor reports whether userID should receive the event.
func (e Event) IsFor(userID string) bool {
	for _, r := range e.Recipients {
		if r == userID {
			return true
		}
	}
	return false
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
