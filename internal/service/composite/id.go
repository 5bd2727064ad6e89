package composite

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/krobus00/composite-order-service/internal/entity"
)

// idGenerator hands out "<KIND>_<unix ms>" identifiers. Two calls inside the
// same millisecond get consecutive values so IDs stay unique per process.
type idGenerator struct {
	mu   sync.Mutex
	last int64
}

var compositeIDs = &idGenerator{}

func (g *idGenerator) next(kind entity.CompositeKind, now time.Time) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := now.UnixMilli()
	if ms <= g.last {
		ms = g.last + 1
	}
	g.last = ms

	return fmt.Sprintf("%s_%d", kind, ms)
}

// newClientOrderID fits the exchange limit of 36 characters.
func newClientOrderID(kind entity.CompositeKind) string {
	prefix := strings.ToLower(string(kind))
	return prefix[:1] + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
