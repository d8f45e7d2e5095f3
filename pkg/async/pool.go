package async

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrPoolClosed is returned by Submit after Shutdown
var ErrPoolClosed = errors.New("worker pool shut down")

// Task is one unit of work. The context carries the per-task timeout.
type Task func(ctx context.Context) error

// WorkerPool runs submitted tasks on a fixed number of goroutines. Panics
// are recovered and reported as errors.
type WorkerPool struct {
	taskName string
	timeout  time.Duration
	logger   *logrus.Logger

	workCh  chan Task
	errCh   chan error
	doneCh  chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	pending sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewWorkerPool starts a pool of workers. Tasks run under a context derived
// from ctx without its cancellation, so work submitted from a request
// outlives that request.
func NewWorkerPool(ctx context.Context, workers int, taskName string, timeout time.Duration, logger *logrus.Logger) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	pool := &WorkerPool{
		taskName: taskName,
		timeout:  timeout,
		logger:   logger,
		workCh:   make(chan Task, workers*2),
		errCh:    make(chan error, workers*10),
		doneCh:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			pool.worker(id)
		}(i)
	}
	go func() {
		wg.Wait()
		close(pool.doneCh)
	}()

	return pool
}

// Submit queues fn. It blocks while the queue is full.
func (p *WorkerPool) Submit(fn Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.pending.Add(1)
	p.workCh <- fn
	return nil
}

// Wait blocks until every submitted task has finished
func (p *WorkerPool) Wait() {
	p.pending.Wait()
}

// Errors returns a channel that receives task failures. Failures are
// dropped when nobody drains it.
func (p *WorkerPool) Errors() <-chan error {
	return p.errCh
}

// Shutdown stops accepting tasks and waits up to timeout for queued ones
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.workCh)
	p.mu.Unlock()

	defer p.cancel()
	select {
	case <-p.doneCh:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("%s: shutdown timed out after %v", p.taskName, timeout)
	}
}

func (p *WorkerPool) worker(id int) {
	for fn := range p.workCh {
		p.run(id, fn)
	}
}

func (p *WorkerPool) run(id int, fn Task) {
	defer p.pending.Done()

	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.logger.WithFields(logrus.Fields{
				"task":   p.taskName,
				"worker": id,
				"stack":  string(debug.Stack()),
			}).Errorf("panic in worker: %v", r)
			p.report(fmt.Errorf("%s: panic: %v", p.taskName, r))
		}
	}()

	if err := fn(ctx); err != nil {
		p.report(err)
	}
}

func (p *WorkerPool) report(err error) {
	select {
	case p.errCh <- err:
	default:
		p.logger.WithError(err).WithField("task", p.taskName).Warn("error channel full, dropping error")
	}
}
