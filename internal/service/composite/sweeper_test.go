package composite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingCleaner struct {
	removed int
	maxAges []time.Duration
}

func (c *countingCleaner) Cleanup(maxAge time.Duration) int {
	c.maxAges = append(c.maxAges, maxAge)
	return c.removed
}

func TestRetentionSweeperSweepAll(t *testing.T) {
	grid := &countingCleaner{removed: 2}
	oco := &countingCleaner{removed: 1}
	sweeper := NewRetentionSweeper(48*time.Hour, time.Hour, grid, oco)

	assert.Equal(t, 3, sweeper.SweepAll())
	assert.Equal(t, []time.Duration{48 * time.Hour}, grid.maxAges)
	assert.Equal(t, []time.Duration{48 * time.Hour}, oco.maxAges)
}

func TestRetentionSweeperDefaults(t *testing.T) {
	sweeper := NewRetentionSweeper(0, 0)
	assert.Equal(t, 24*time.Hour, sweeper.maxAge)
	assert.Equal(t, time.Hour, sweeper.interval)
	assert.Zero(t, sweeper.SweepAll())
}

func TestRetentionSweeperRunStopsWithContext(t *testing.T) {
	sweeper := NewRetentionSweeper(time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
