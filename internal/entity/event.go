package entity

import (
	"context"
	"time"

	"github.com/guregu/null/v6"
)

type CompositeOrderEventType string

const (
	CompositeOrderEventCreated       CompositeOrderEventType = "created"
	CompositeOrderEventLegFilled     CompositeOrderEventType = "leg_filled"
	CompositeOrderEventLegReplaced   CompositeOrderEventType = "leg_replaced"
	CompositeOrderEventSliceExecuted CompositeOrderEventType = "slice_executed"
	CompositeOrderEventCompleted     CompositeOrderEventType = "completed"
	CompositeOrderEventCancelled     CompositeOrderEventType = "cancelled"
	CompositeOrderEventFailed        CompositeOrderEventType = "failed"
	CompositeOrderEventEvicted       CompositeOrderEventType = "evicted"
)

// CompositeOrderEvent describes one lifecycle step of a composite order.
// Snapshot holds the strategy specific snapshot taken right after the step.
type CompositeOrderEvent struct {
	ID          string                  `json:"id"`
	CompositeID string                  `json:"composite_id"`
	Kind        CompositeKind           `json:"kind"`
	Type        CompositeOrderEventType `json:"type"`
	Symbol      string                  `json:"symbol"`
	Status      CompositeStatus         `json:"status"`
	Message     string                  `json:"message,omitempty"`
	Snapshot    any                     `json:"snapshot,omitempty"`
	OccurredAt  time.Time               `json:"occurred_at"`
}

// CompositeOrderObserver receives lifecycle events. Implementations must not block for long,
// they are called from monitor goroutines.
type CompositeOrderObserver interface {
	OnCompositeOrderEvent(ctx context.Context, event CompositeOrderEvent) error
}

// CompositeOrderEventRecord is the journal row of one CompositeOrderEvent.
type CompositeOrderEventRecord struct {
	ID          string      `db:"id" json:"id"`
	EventID     string      `db:"event_id" json:"event_id"`
	CompositeID string      `db:"composite_id" json:"composite_id"`
	Kind        string      `db:"kind" json:"kind"`
	EventType   string      `db:"event_type" json:"event_type"`
	Symbol      string      `db:"symbol" json:"symbol"`
	Status      string      `db:"status" json:"status"`
	Message     null.String `db:"message" json:"message"`
	Snapshot    []byte      `db:"snapshot" json:"-"`
	OccurredAt  time.Time   `db:"occurred_at" json:"occurred_at"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
}

func (CompositeOrderEventRecord) TableName() string {
	return "composite_order_events"
}
