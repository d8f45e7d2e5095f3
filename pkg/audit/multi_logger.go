package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/finoly/finoly/pkg/async"
	"github.com/sirupsen/logrus"
)

// MultiLogger fans each event out to several loggers. Without a pool the
// loggers are called in order on the caller's goroutine.
type MultiLogger struct {
	loggers []Logger
	pool    *async.WorkerPool
}

// NewMultiLogger creates a synchronous multi-logger
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

// NewAsyncMultiLogger creates a multi-logger that hands events to a worker
// pool so slow sinks do not hold up requests
func NewAsyncMultiLogger(ctx context.Context, workers int, logger *logrus.Logger, loggers ...Logger) *MultiLogger {
	return &MultiLogger{
		loggers: loggers,
		pool:    async.NewWorkerPool(ctx, workers, "audit fan-out", 5*time.Second, logger),
	}
}

// Log logs an audit event to all configured loggers
func (m *MultiLogger) Log(ctx context.Context, event *AuditEvent) error {
	if m.pool != nil {
		return m.logAsync(event)
	}
	return m.logSync(ctx, event)
}

// logSync logs to every logger and returns the first failure
func (m *MultiLogger) logSync(ctx context.Context, event *AuditEvent) error {
	var firstErr error
	for _, logger := range m.loggers {
		if err := logger.Log(ctx, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *MultiLogger) logAsync(event *AuditEvent) error {
	for _, logger := range m.loggers {
		l := logger
		if err := m.pool.Submit(func(ctx context.Context) error {
			return l.Log(ctx, event)
		}); err != nil {
			return fmt.Errorf("failed to queue audit event: %w", err)
		}
	}
	return nil
}

// LogMutation logs a successful change
func (m *MultiLogger) LogMutation(ctx context.Context, eventType EventType, actor Actor, resourceType ResourceType, resourceID string, changes *ChangeDetails, message string) error {
	event := buildBaseEvent(ctx, eventType, EventStatusSuccess, actor)
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	event.Changes = changes
	event.Message = message
	return m.Log(ctx, event)
}

// LogDenied logs a rejected attempt
func (m *MultiLogger) LogDenied(ctx context.Context, actor Actor, resourceType ResourceType, resourceID, reason string) error {
	event := buildBaseEvent(ctx, EventTypeAuthzAccessDenied, EventStatusDenied, actor)
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	event.Message = fmt.Sprintf("Access denied: %s", reason)
	return m.Log(ctx, event)
}

// Wait waits for queued events to be written
func (m *MultiLogger) Wait() {
	if m.pool != nil {
		m.pool.Wait()
	}
}

// GetErrors drains errors collected during async logging
func (m *MultiLogger) GetErrors() []error {
	if m.pool == nil {
		return nil
	}
	var errs []error
	for {
		select {
		case err := <-m.pool.Errors():
			errs = append(errs, err)
		default:
			return errs
		}
	}
}

// Close drains queued events and closes all loggers
func (m *MultiLogger) Close() error {
	var firstErr error
	if m.pool != nil {
		if err := m.pool.Shutdown(10 * time.Second); err != nil {
			firstErr = err
		}
	}
	for _, logger := range m.loggers {
		if err := logger.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close logger: %w", err)
		}
	}
	return firstErr
}
