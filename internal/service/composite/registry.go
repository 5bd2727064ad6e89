package composite

import (
	"sort"
	"sync"
	"time"

	"github.com/krobus00/composite-order-service/internal/entity"
)

// record holds the lifecycle fields shared by every composite order.
//
// ops serialises mutating actions (a monitor cycle or a foreground cancel)
// so a corrective gateway call never races a cancel. mu guards the fields
// and is only held for short reads and writes.
type record struct {
	ops sync.Mutex
	mu  sync.RWMutex

	id          string
	kind        entity.CompositeKind
	symbol      string
	status      entity.CompositeStatus
	createdAt   time.Time
	completedAt time.Time
}

func (r *record) init(kind entity.CompositeKind, symbol string, now time.Time) {
	r.id = compositeIDs.next(kind, now)
	r.kind = kind
	r.symbol = symbol
	r.status = entity.CompositeStatusActive
	r.createdAt = now
}

func (r *record) ID() string {
	return r.id
}

func (r *record) Status() entity.CompositeStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

func (r *record) isActive() bool {
	return r.Status() == entity.CompositeStatusActive
}

// finishLocked moves an ACTIVE record to a terminal status. It reports false
// when the record was already terminal. Callers hold r.mu.
func (r *record) finishLocked(status entity.CompositeStatus, now time.Time) bool {
	if r.status.IsTerminal() || !status.IsTerminal() {
		return false
	}
	r.status = status
	r.completedAt = now
	return true
}

func (r *record) completedAtLocked() *time.Time {
	if r.completedAt.IsZero() {
		return nil
	}
	completedAt := r.completedAt
	return &completedAt
}

// expired reports whether the record is terminal and finished more than
// maxAge before now. ACTIVE records never expire.
func (r *record) expired(now time.Time, maxAge time.Duration) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.status.IsTerminal() || r.completedAt.IsZero() {
		return false
	}
	return now.Sub(r.completedAt) > maxAge
}

type entry interface {
	ID() string
	expired(now time.Time, maxAge time.Duration) bool
}

// Registry is a concurrency-safe map of composite orders keyed by ID.
type Registry[T entry] struct {
	mu    sync.RWMutex
	items map[string]T
}

func NewRegistry[T entry]() *Registry[T] {
	return &Registry[T]{items: make(map[string]T)}
}

func (r *Registry[T]) Put(item T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[item.ID()] = item
}

func (r *Registry[T]) Get(id string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.items[id]
	return item, ok
}

func (r *Registry[T]) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, id)
}

func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Values returns the stored items ordered by ID, which is creation order.
func (r *Registry[T]) Values() []T {
	r.mu.RLock()
	items := make([]T, 0, len(r.items))
	for _, item := range r.items {
		items = append(items, item)
	}
	r.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		return items[i].ID() < items[j].ID()
	})
	return items
}

// Sweep removes every terminal record that completed more than maxAge before
// now and returns the removed items.
func Sweep[T entry](registry *Registry[T], maxAge time.Duration, now time.Time) []T {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	var removed []T
	for id, item := range registry.items {
		if !item.expired(now, maxAge) {
			continue
		}
		delete(registry.items, id)
		removed = append(removed, item)
	}
	return removed
}
