package repository

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/krobus00/composite-order-service/internal/entity"
)

type CompositeOrderEventRepository struct {
	db *sqlx.DB
}

func NewCompositeOrderEventRepository(db *sqlx.DB) *CompositeOrderEventRepository {
	return &CompositeOrderEventRepository{db: db}
}

// Create inserts the event once. Replaying an event with a known event_id is a no-op.
func (r *CompositeOrderEventRepository) Create(ctx context.Context, record *entity.CompositeOrderEventRecord) error {
	query, args, err := insertCompositeOrderEventQuery(record)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query, args...)
	return err
}

func (r *CompositeOrderEventRepository) GetByCompositeID(ctx context.Context, compositeID string) ([]entity.CompositeOrderEventRecord, error) {
	query, args, err := selectCompositeOrderEventsQuery(compositeID)
	if err != nil {
		return nil, err
	}

	var records []entity.CompositeOrderEventRecord
	err = r.db.SelectContext(ctx, &records, query, args...)
	if err != nil {
		return nil, err
	}

	return records, nil
}

func insertCompositeOrderEventQuery(record *entity.CompositeOrderEventRecord) (string, []any, error) {
	return sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Insert(record.TableName()).
		Columns(
			"event_id",
			"composite_id",
			"kind",
			"event_type",
			"symbol",
			"status",
			"message",
			"snapshot",
			"occurred_at",
			"created_at",
		).
		Values(
			record.EventID,
			record.CompositeID,
			record.Kind,
			record.EventType,
			record.Symbol,
			record.Status,
			record.Message,
			record.Snapshot,
			record.OccurredAt,
			record.CreatedAt,
		).
		Suffix("ON CONFLICT (event_id) DO NOTHING").
		ToSql()
}

func selectCompositeOrderEventsQuery(compositeID string) (string, []any, error) {
	return sq.StatementBuilder.
		PlaceholderFormat(sq.Dollar).
		Select("*").
		From(entity.CompositeOrderEventRecord{}.TableName()).
		Where(sq.Eq{"composite_id": compositeID}).
		OrderBy("occurred_at asc", "id asc").
		ToSql()
}
