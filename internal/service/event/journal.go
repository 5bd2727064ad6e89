package event

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/guregu/null/v6"
	"github.com/krobus00/composite-order-service/internal/entity"
)

type journalRepository interface {
	Create(ctx context.Context, record *entity.CompositeOrderEventRecord) error
}

// Journal appends every lifecycle event to the composite_order_events table.
type Journal struct {
	repo journalRepository
}

func NewJournal(repo journalRepository) *Journal {
	return &Journal{repo: repo}
}

func (j *Journal) OnCompositeOrderEvent(ctx context.Context, event entity.CompositeOrderEvent) error {
	record, err := newEventRecord(event)
	if err != nil {
		return err
	}
	return j.repo.Create(ctx, record)
}

func newEventRecord(event entity.CompositeOrderEvent) (*entity.CompositeOrderEventRecord, error) {
	var snapshot []byte
	if event.Snapshot != nil {
		payload, err := json.Marshal(event.Snapshot)
		if err != nil {
			return nil, err
		}
		snapshot = payload
	}

	return &entity.CompositeOrderEventRecord{
		EventID:     event.ID,
		CompositeID: event.CompositeID,
		Kind:        string(event.Kind),
		EventType:   string(event.Type),
		Symbol:      event.Symbol,
		Status:      string(event.Status),
		Message:     null.NewString(event.Message, event.Message != ""),
		Snapshot:    snapshot,
		OccurredAt:  event.OccurredAt,
		CreatedAt:   time.Now().UTC(),
	}, nil
}
