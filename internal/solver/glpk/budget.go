// Package glpk solves solver models as mixed integer programs with GLPK. Build with
// `-tags glpk`; the engine needs cgo and the GLPK headers.
//
// The Go binding exposes no tm_lim setter on its intopt parameters, so the time limit is
// enforced around the solve call instead of inside GLPK. A solve that overruns is
// abandoned: it keeps running on its own goroutine until GLPK returns and then frees its
// problem object.
package glpk

import (
	"context"
	"time"
)

// within runs solve on its own goroutine and waits for it until ctx ends or limit
// elapses. A non-positive limit means no limit. The bool reports whether solve finished;
// when it is false and ctx is still live, the limit expired.
func within[T any](ctx context.Context, limit time.Duration, solve func() T) (T, bool) {
	done := make(chan T, 1)
	go func() {
		done <- solve()
	}()

	var expired <-chan time.Time
	if limit > 0 {
		timer := time.NewTimer(limit)
		defer timer.Stop()
		expired = timer.C
	}

	var zero T
	select {
	case out := <-done:
		return out, true
	case <-expired:
		return zero, false
	case <-ctx.Done():
		return zero, false
	}
}
