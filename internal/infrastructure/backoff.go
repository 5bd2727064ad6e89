package infrastructure

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// retryPolicy computes exponential backoff capped at maxJitter with a random jitter on top of the base delay.
type retryPolicy struct {
	name      string
	maxRetry  int
	factor    float64
	minJitter time.Duration
	maxJitter time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

func newRetryPolicy(name string, maxRetry int, factor float64, minJitter, maxJitter time.Duration) *retryPolicy {
	if maxRetry < 0 {
		maxRetry = 0
	}
	if factor < 1 {
		factor = 2.0
	}
	if minJitter <= 0 {
		minJitter = 100 * time.Millisecond
	}
	if maxJitter <= 0 {
		maxJitter = time.Second
	}
	if maxJitter < minJitter {
		maxJitter = minJitter
	}

	return &retryPolicy{
		name:      name,
		maxRetry:  maxRetry,
		factor:    factor,
		minJitter: minJitter,
		maxJitter: maxJitter,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (p *retryPolicy) delay(attempt int) time.Duration {
	backoff := float64(p.minJitter) * math.Pow(p.factor, float64(attempt))
	if backoff > float64(p.maxJitter) {
		backoff = float64(p.maxJitter)
	}

	base := time.Duration(backoff)
	if p.maxJitter <= p.minJitter {
		return base
	}

	p.mu.Lock()
	jitter := time.Duration(p.rng.Int63n(int64(p.maxJitter-p.minJitter) + 1))
	p.mu.Unlock()

	if base+jitter > p.maxJitter {
		return p.maxJitter
	}
	return base + jitter
}

// do runs connect until it succeeds, ctx is done, or maxRetry+1 attempts failed.
func (p *retryPolicy) do(ctx context.Context, target string, connect func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= p.maxRetry; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = connect(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == p.maxRetry {
			break
		}

		wait := p.delay(attempt)
		logrus.WithFields(logrus.Fields{
			"attempt":   attempt + 1,
			"max_retry": p.maxRetry,
			"retry_in":  wait.String(),
			"target":    target,
		}).Warnf("%s connection failed: %v", p.name, lastErr)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("connect %s after %d attempts: %w", p.name, p.maxRetry+1, lastErr)
}
