package audit

import (
	"context"
	"time"

	"github.com/finoly/finoly/pkg/contextkeys"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log logs an audit event
	Log(ctx context.Context, event *AuditEvent) error

	// LogMutation logs a successful change to a team, role, membership or
	// business
	LogMutation(ctx context.Context, eventType EventType, actor Actor, resourceType ResourceType, resourceID string, changes *ChangeDetails, message string) error

	// LogDenied logs a rejected attempt
	LogDenied(ctx context.Context, actor Actor, resourceType ResourceType, resourceID, reason string) error

	// Close flushes any buffered events
	Close() error
}

// Actor identifies who performed an audited action
type Actor struct {
	UserID     string
	BusinessID string
	TeamID     string
}

// NewNoopLogger returns a Logger that discards every event
func NewNoopLogger() Logger {
	return noOpLogger{}
}

type noOpLogger struct{}

func (noOpLogger) Log(ctx context.Context, event *AuditEvent) error {
	return nil
}

func (noOpLogger) LogMutation(ctx context.Context, eventType EventType, actor Actor, resourceType ResourceType, resourceID string, changes *ChangeDetails, message string) error {
	return nil
}

func (noOpLogger) LogDenied(ctx context.Context, actor Actor, resourceType ResourceType, resourceID, reason string) error {
	return nil
}

func (noOpLogger) Close() error {
	return nil
}

// buildBaseEvent creates an event with the actor and request ID populated
func buildBaseEvent(ctx context.Context, eventType EventType, status EventStatus, actor Actor) *AuditEvent {
	return &AuditEvent{
		Timestamp:  time.Now().UTC(),
		EventType:  eventType,
		Status:     status,
		UserID:     actor.UserID,
		BusinessID: actor.BusinessID,
		TeamID:     actor.TeamID,
		RequestID:  contextkeys.GetRequestID(ctx),
		Metadata:   make(map[string]interface{}),
	}
}
