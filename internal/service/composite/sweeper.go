package composite

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Cleaner evicts terminal composite orders older than maxAge.
type Cleaner interface {
	Cleanup(maxAge time.Duration) int
}

type RetentionSweeper struct {
	cleaners []Cleaner
	maxAge   time.Duration
	interval time.Duration
}

func NewRetentionSweeper(maxAge, interval time.Duration, cleaners ...Cleaner) *RetentionSweeper {
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	if interval <= 0 {
		interval = time.Hour
	}

	return &RetentionSweeper{
		cleaners: cleaners,
		maxAge:   maxAge,
		interval: interval,
	}
}

func (s *RetentionSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepAll()
		}
	}
}

func (s *RetentionSweeper) SweepAll() int {
	removed := 0
	for _, cleaner := range s.cleaners {
		removed += cleaner.Cleanup(s.maxAge)
	}
	if removed > 0 {
		logrus.WithFields(logrus.Fields{
			"removed": removed,
			"max_age": s.maxAge.String(),
		}).Info("evicted finished composite orders")
	}
	return removed
}
