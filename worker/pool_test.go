package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPool_Run_BoundsConcurrency(t *testing.T) {
	pool := New(2)

	var running int32
	var maxRunning int32
	tasks := make([]Task, 10)
	for i := range tasks {
		tasks[i] = func(ctx context.Context) error {
			n := atomic.AddInt32(&running, 1)
			for {
				cur := atomic.LoadInt32(&maxRunning)
				if n <= cur || atomic.CompareAndSwapInt32(&maxRunning, cur, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil
		}
	}

	errs := pool.Run(context.Background(), tasks)
	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&maxRunning), int32(2))
}

func TestPool_Run_ReturnsPerTaskErrors(t *testing.T) {
	pool := New(4)
	boom := errors.New("boom")

	errs := pool.Run(context.Background(), []Task{
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error { return boom },
	})

	assert.NoError(t, errs[0])
	assert.Equal(t, boom, errs[1])
}

func TestPool_Run_StopsSchedulingAfterCancel(t *testing.T) {
	pool := New(1)
	ctx, cancel := context.WithCancel(context.Background())

	blocker := make(chan struct{})
	tasks := []Task{
		func(ctx context.Context) error {
			<-blocker
			return nil
		},
		func(ctx context.Context) error { return nil },
	}

	done := make(chan []error, 1)
	go func() { done <- pool.Run(ctx, tasks) }()

	time.Sleep(5 * time.Millisecond)
	cancel()
	close(blocker)

	errs := <-done
	assert.NoError(t, errs[0])
	assert.ErrorIs(t, errs[1], context.Canceled)
}

func TestPool_Go_RespectsBound(t *testing.T) {
	pool := New(1)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	ok := pool.Go(ctx, func() {
		close(started)
		<-release
	})
	assert.True(t, ok)
	<-started

	ctxTimeout, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	ok = pool.Go(ctxTimeout, func() {})
	assert.False(t, ok, "second Go should block until a slot frees, then time out")

	close(release)
}
