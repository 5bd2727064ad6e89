package event

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/krobus00/composite-order-service/internal/entity"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJetStream struct {
	nats.JetStreamContext
	subjects []string
	payloads [][]byte
	err      error
}

func (f *fakeJetStream) Publish(subject string, data []byte, _ ...nats.PubOpt) (*nats.PubAck, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.subjects = append(f.subjects, subject)
	f.payloads = append(f.payloads, data)
	return &nats.PubAck{Stream: "composite_order"}, nil
}

type fakeStreamManager struct {
	nats.JetStreamContext
	existing *nats.StreamInfo
	added    *nats.StreamConfig
	updated  *nats.StreamConfig
}

func (f *fakeStreamManager) StreamInfo(_ string, _ ...nats.JSOpt) (*nats.StreamInfo, error) {
	if f.existing == nil {
		return nil, nats.ErrStreamNotFound
	}
	return f.existing, nil
}

func (f *fakeStreamManager) AddStream(cfg *nats.StreamConfig, _ ...nats.JSOpt) (*nats.StreamInfo, error) {
	f.added = cfg
	return &nats.StreamInfo{Config: *cfg}, nil
}

func (f *fakeStreamManager) UpdateStream(cfg *nats.StreamConfig, _ ...nats.JSOpt) (*nats.StreamInfo, error) {
	f.updated = cfg
	return &nats.StreamInfo{Config: *cfg}, nil
}

type fakeJournalRepository struct {
	records []*entity.CompositeOrderEventRecord
}

func (f *fakeJournalRepository) Create(_ context.Context, record *entity.CompositeOrderEventRecord) error {
	f.records = append(f.records, record)
	return nil
}

func sampleEvent() entity.CompositeOrderEvent {
	return entity.CompositeOrderEvent{
		ID:          "6f1c7d3e-8a4b-4c55-9d1e-2f7a0b9c1d23",
		CompositeID: "TWAP_1700000000000",
		Kind:        entity.CompositeKindTWAP,
		Type:        entity.CompositeOrderEventSliceExecuted,
		Symbol:      "BTCUSDT",
		Status:      entity.CompositeStatusActive,
		Message:     "42",
		Snapshot:    map[string]any{"executed_slices": 1},
		OccurredAt:  time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestJetstreamPublisherPublishesOnEventSubject(t *testing.T) {
	js := &fakeJetStream{}
	publisher := NewJetstreamPublisher(js, 0)

	require.NoError(t, publisher.OnCompositeOrderEvent(context.Background(), sampleEvent()))
	assert.Equal(t, []string{"composite_order.slice_executed"}, js.subjects)

	var published entity.CompositeOrderEvent
	require.NoError(t, json.Unmarshal(js.payloads[0], &published))
	assert.Equal(t, "TWAP_1700000000000", published.CompositeID)
	assert.Equal(t, entity.CompositeOrderEventSliceExecuted, published.Type)
	assert.Equal(t, defaultStreamMaxAge, publisher.maxAge)
}

func TestJetstreamPublisherReturnsPublishError(t *testing.T) {
	js := &fakeJetStream{err: errors.New("nats: timeout")}
	publisher := NewJetstreamPublisher(js, time.Hour)

	assert.Error(t, publisher.OnCompositeOrderEvent(context.Background(), sampleEvent()))
}

func TestJournalStoresEventRecord(t *testing.T) {
	repo := &fakeJournalRepository{}
	journal := NewJournal(repo)

	require.NoError(t, journal.OnCompositeOrderEvent(context.Background(), sampleEvent()))
	require.Len(t, repo.records, 1)

	record := repo.records[0]
	assert.Equal(t, "6f1c7d3e-8a4b-4c55-9d1e-2f7a0b9c1d23", record.EventID)
	assert.Equal(t, "TWAP", record.Kind)
	assert.Equal(t, "slice_executed", record.EventType)
	assert.Equal(t, "ACTIVE", record.Status)
	assert.True(t, record.Message.Valid)
	assert.Equal(t, "42", record.Message.String)
	assert.JSONEq(t, `{"executed_slices":1}`, string(record.Snapshot))
}

func TestJournalLeavesEmptyFieldsNull(t *testing.T) {
	repo := &fakeJournalRepository{}
	journal := NewJournal(repo)

	evicted := sampleEvent()
	evicted.Type = entity.CompositeOrderEventEvicted
	evicted.Message = ""
	evicted.Snapshot = nil

	require.NoError(t, journal.OnCompositeOrderEvent(context.Background(), evicted))
	require.Len(t, repo.records, 1)
	assert.False(t, repo.records[0].Message.Valid)
	assert.Nil(t, repo.records[0].Snapshot)
}

func TestJetstreamEventInit(t *testing.T) {
	t.Run("creates missing stream", func(t *testing.T) {
		js := &fakeStreamManager{}
		publisher := NewJetstreamPublisher(js, time.Hour)

		require.NoError(t, publisher.JetstreamEventInit(context.Background()))
		require.NotNil(t, js.added)
		assert.Nil(t, js.updated)
		assert.Equal(t, "composite_order", js.added.Name)
		assert.Equal(t, []string{"composite_order.*"}, js.added.Subjects)
		assert.Equal(t, time.Hour, js.added.MaxAge)
	})

	t.Run("updates existing stream", func(t *testing.T) {
		js := &fakeStreamManager{existing: &nats.StreamInfo{}}
		publisher := NewJetstreamPublisher(js, time.Hour)

		require.NoError(t, publisher.JetstreamEventInit(context.Background()))
		assert.Nil(t, js.added)
		require.NotNil(t, js.updated)
		assert.Equal(t, time.Hour, js.updated.MaxAge)
	})
}
