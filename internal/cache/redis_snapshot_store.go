package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/krobus00/composite-order-service/internal/constant"
	"github.com/krobus00/composite-order-service/internal/entity"
	"github.com/redis/go-redis/v9"
)

// RedisSnapshotStore keeps the latest snapshot of every composite order so
// other processes can read it without calling this service.
type RedisSnapshotStore struct {
	client *redis.Client
	ttl    time.Duration
}

type StoredSnapshot struct {
	CompositeID string                         `json:"composite_id"`
	Kind        entity.CompositeKind           `json:"kind"`
	Status      entity.CompositeStatus         `json:"status"`
	LastEvent   entity.CompositeOrderEventType `json:"last_event"`
	Snapshot    json.RawMessage                `json:"snapshot"`
	UpdatedAt   time.Time                      `json:"updated_at"`
}

func NewRedisSnapshotStore(client *redis.Client, ttl time.Duration) *RedisSnapshotStore {
	return &RedisSnapshotStore{client: client, ttl: ttl}
}

func SnapshotKey(kind entity.CompositeKind, compositeID string) string {
	return fmt.Sprintf("%s:%s:%s", constant.CompositeOrderRedis, strings.ToLower(string(kind)), compositeID)
}

func (s *RedisSnapshotStore) OnCompositeOrderEvent(ctx context.Context, event entity.CompositeOrderEvent) error {
	key := SnapshotKey(event.Kind, event.CompositeID)
	if event.Type == entity.CompositeOrderEventEvicted {
		return s.client.Del(ctx, key).Err()
	}
	if event.Snapshot == nil {
		return nil
	}

	payload, err := encodeSnapshot(event)
	if err != nil {
		return err
	}

	return s.client.Set(ctx, key, payload, s.ttl).Err()
}

func (s *RedisSnapshotStore) Load(ctx context.Context, kind entity.CompositeKind, compositeID string) (StoredSnapshot, bool, error) {
	raw, err := s.client.Get(ctx, SnapshotKey(kind, compositeID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return StoredSnapshot{}, false, nil
		}
		return StoredSnapshot{}, false, err
	}

	var stored StoredSnapshot
	if err := json.Unmarshal(raw, &stored); err != nil {
		return StoredSnapshot{}, false, err
	}
	return stored, true, nil
}

func encodeSnapshot(event entity.CompositeOrderEvent) ([]byte, error) {
	snapshot, err := json.Marshal(event.Snapshot)
	if err != nil {
		return nil, err
	}

	return json.Marshal(StoredSnapshot{
		CompositeID: event.CompositeID,
		Kind:        event.Kind,
		Status:      event.Status,
		LastEvent:   event.Type,
		Snapshot:    snapshot,
		UpdatedAt:   event.OccurredAt,
	})
}
