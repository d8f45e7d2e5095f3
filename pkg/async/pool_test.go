package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(ch <-chan error) []error {
	var errs []error
	for {
		select {
		case err := <-ch:
			errs = append(errs, err)
		default:
			return errs
		}
	}
}

func TestWorkerPool_Basic(t *testing.T) {
	logger, _ := test.NewNullLogger()
	pool := NewWorkerPool(context.Background(), 2, "test pool", time.Second, logger)
	defer pool.Shutdown(time.Second)

	var executed atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(func(ctx context.Context) error {
			executed.Add(1)
			return nil
		}))
	}
	pool.Wait()

	assert.Equal(t, int32(10), executed.Load())
	assert.Empty(t, drain(pool.Errors()))
}

func TestWorkerPool_CollectsErrors(t *testing.T) {
	logger, _ := test.NewNullLogger()
	pool := NewWorkerPool(context.Background(), 2, "test pool", time.Second, logger)
	defer pool.Shutdown(time.Second)

	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(func(ctx context.Context) error {
			return errors.New("boom")
		}))
	}
	pool.Wait()

	assert.Len(t, drain(pool.Errors()), 5)
}

func TestWorkerPool_RecoversPanics(t *testing.T) {
	logger, hook := test.NewNullLogger()
	pool := NewWorkerPool(context.Background(), 1, "audit fan-out", time.Second, logger)
	defer pool.Shutdown(time.Second)

	require.NoError(t, pool.Submit(func(ctx context.Context) error {
		panic("nil sink")
	}))
	var ran atomic.Bool
	require.NoError(t, pool.Submit(func(ctx context.Context) error {
		ran.Store(true)
		return nil
	}))
	pool.Wait()

	assert.True(t, ran.Load(), "worker survives a panicking task")
	errs := drain(pool.Errors())
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "nil sink")
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "audit fan-out", hook.LastEntry().Data["task"])
}

func TestWorkerPool_TaskTimeout(t *testing.T) {
	logger, _ := test.NewNullLogger()
	pool := NewWorkerPool(context.Background(), 1, "test pool", 20*time.Millisecond, logger)
	defer pool.Shutdown(time.Second)

	require.NoError(t, pool.Submit(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	pool.Wait()

	errs := drain(pool.Errors())
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], context.DeadlineExceeded)
}

func TestWorkerPool_OutlivesParentCancellation(t *testing.T) {
	logger, _ := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewWorkerPool(ctx, 1, "test pool", time.Second, logger)
	defer pool.Shutdown(time.Second)
	cancel()

	require.NoError(t, pool.Submit(func(ctx context.Context) error {
		return ctx.Err()
	}))
	pool.Wait()
	assert.Empty(t, drain(pool.Errors()))
}

func TestWorkerPool_Shutdown(t *testing.T) {
	logger, _ := test.NewNullLogger()
	pool := NewWorkerPool(context.Background(), 2, "test pool", time.Second, logger)

	var executed atomic.Int32
	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(func(ctx context.Context) error {
			time.Sleep(10 * time.Millisecond)
			executed.Add(1)
			return nil
		}))
	}

	require.NoError(t, pool.Shutdown(time.Second))
	assert.Equal(t, int32(5), executed.Load(), "queued tasks drain before shutdown returns")

	assert.ErrorIs(t, pool.Submit(func(ctx context.Context) error { return nil }), ErrPoolClosed)
	assert.NoError(t, pool.Shutdown(time.Second), "second shutdown is a no-op")
}

func TestWorkerPool_ShutdownTimeout(t *testing.T) {
	logger, _ := test.NewNullLogger()
	pool := NewWorkerPool(context.Background(), 1, "slow pool", time.Second, logger)

	release := make(chan struct{})
	defer close(release)
	require.NoError(t, pool.Submit(func(ctx context.Context) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}))

	err := pool.Shutdown(20 * time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "slow pool")
}
