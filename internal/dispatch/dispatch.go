// Package dispatch runs blocking device calls on a bounded worker pool so the
// request path only waits on a result channel.
//
// A wait can be bounded by a timeout. Expiry abandons the wait, not the work:
// the call keeps its worker slot until it returns, and its result is dropped.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/jkaninda/radkit-mcp/internal/apperr"
)

// Pool bounds the number of calls running at once.
type Pool struct {
	sem chan struct{}
}

// NewPool creates a pool with the given number of workers (minimum 1).
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{sem: make(chan struct{}, workers)}
}

// Size returns the number of workers.
func (p *Pool) Size() int { return cap(p.sem) }

// InFlight returns the number of calls currently holding a worker.
func (p *Pool) InFlight() int { return len(p.sem) }

type outcome[T any] struct {
	val T
	err error
}

// Run executes fn on a worker and waits for its result.
//
// timeout == 0 waits for completion. timeout > 0 bounds the wait, including
// time spent queued for a worker, and returns apperr.ErrTimeout on expiry.
// ctx cancellation also abandons the wait. fn receives a context detached
// from ctx's cancellation, because abandoned calls are left to finish.
func Run[T any](ctx context.Context, p *Pool, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case p.sem <- struct{}{}:
	case <-expired:
		return zero, fmt.Errorf("%w: no worker available within %s", apperr.ErrTimeout, timeout)
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	done := make(chan outcome[T], 1)
	workCtx := context.WithoutCancel(ctx)
	go func() {
		defer func() { <-p.sem }()
		defer func() {
			if r := recover(); r != nil {
				done <- outcome[T]{err: fmt.Errorf("device call panicked: %v", r)}
			}
		}()
		v, err := fn(workCtx)
		done <- outcome[T]{val: v, err: err}
	}()

	select {
	case o := <-done:
		return o.val, o.err
	case <-expired:
		return zero, fmt.Errorf("%w: no result within %s", apperr.ErrTimeout, timeout)
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
