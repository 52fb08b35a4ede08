package session

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestPoolRunsTasks(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	const tasks = 10
	pool := NewPool(2, tasks, nil)
	t.Cleanup(pool.Close)
	var wg sync.WaitGroup
	for i := 0; i < tasks; i++ {
		wg.Add(1)
		require.NoError(t, pool.Submit(wg.Done))
	}
	wg.Wait()
	pool.Close()

	assert.Equal(t, uint64(tasks), pool.Completed())
	assert.Equal(t, 0, pool.Running())
}

func TestPoolRecoversPanics(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	pool := NewPool(1, 0, nil)
	t.Cleanup(pool.Close)
	require.NoError(t, pool.Submit(func() { panic("boom") }))
	done := make(chan struct{})
	require.NoError(t, pool.Submit(func() { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker died after panic")
	}
	pool.Close()
	assert.Equal(t, uint64(1), pool.Panics())
}

func TestPoolSubmitNeverBlocks(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	pool := NewPool(1, 1, nil)
	release := make(chan struct{})
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
		pool.Close()
	})
	started := make(chan struct{})
	require.NoError(t, pool.Submit(func() {
		close(started)
		<-release
	}))
	<-started

	require.NoError(t, pool.Submit(func() {}))
	assert.ErrorIs(t, pool.Submit(func() {}), ErrPoolFull)

	close(release)
	pool.Close()
}

func TestPoolQueueHoldsBurst(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	pool := NewPool(1, 4, nil)
	t.Cleanup(pool.Close)
	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, pool.Submit(func() {
		close(started)
		<-release
	}))
	<-started

	for i := 0; i < 4; i++ {
		require.NoError(t, pool.Submit(func() {}), "task %d", i)
	}
	assert.ErrorIs(t, pool.Submit(func() {}), ErrPoolFull)

	close(release)
	pool.Close()
	assert.Equal(t, uint64(5), pool.Completed())
}

func TestPoolClosed(t *testing.T) {
	pool := NewPool(1, 0, nil)
	pool.Close()
	pool.Close()
	assert.ErrorIs(t, pool.Submit(func() {}), ErrPoolClosed)
}
