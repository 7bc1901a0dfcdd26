package glpk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWithinReturnsFinishedSolve(t *testing.T) {
	out, ok := within(context.Background(), time.Second, func() int { return 42 })
	assert.True(t, ok)
	assert.Equal(t, 42, out)

	out, ok = within(context.Background(), 0, func() int { return 7 })
	assert.True(t, ok)
	assert.Equal(t, 7, out)
}

func TestWithinAbandonsSolvePastLimit(t *testing.T) {
	release := make(chan struct{})
	finished := make(chan struct{})
	defer func() {
		close(release)
		<-finished
	}()

	started := time.Now()
	out, ok := within(context.Background(), 20*time.Millisecond, func() int {
		defer close(finished)
		<-release
		return 1
	})
	assert.False(t, ok)
	assert.Zero(t, out)
	assert.Less(t, time.Since(started), time.Second)
}

func TestWithinStopsOnCancelledContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := within(ctx, 0, func() int {
		<-release
		return 1
	})
	assert.False(t, ok)
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}
