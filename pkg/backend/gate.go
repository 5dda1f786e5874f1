package backend

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/semaphore"
)

// Gate bounds the number of in-flight requests shared across all
// sessions. When saturated, Acquire waits up to the admission timeout
// and then fails with ErrBackendOverloaded instead of blocking the turn
// indefinitely.
type Gate struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

func NewGate(maxConcurrent int64, admissionTimeout time.Duration) *Gate {
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	if admissionTimeout <= 0 {
		admissionTimeout = 5 * time.Second
	}
	return &Gate{
		sem:     semaphore.NewWeighted(maxConcurrent),
		timeout: admissionTimeout,
	}
}

// Acquire takes one slot. The returned release function must be called
// exactly once. Cancellation of ctx also aborts the wait.
func (g *Gate) Acquire(ctx context.Context) (func(), error) {
	waitCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	if err := g.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), "admission wait cancelled")
		}
		return nil, errors.Wrap(ErrBackendOverloaded, "admission wait timed out")
	}
	return func() { g.sem.Release(1) }, nil
}
