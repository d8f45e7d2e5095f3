package audit

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// LogrusLogger writes audit events as structured log lines on a dedicated
// logrus logger
type LogrusLogger struct {
	logger *logrus.Logger
}

// NewLogrusLogger creates a new logrus-backed audit logger
func NewLogrusLogger(logger *logrus.Logger) *LogrusLogger {
	return &LogrusLogger{logger: logger}
}

// Log writes one event. Denied and failed events are logged at warn level.
func (l *LogrusLogger) Log(ctx context.Context, event *AuditEvent) error {
	if event == nil {
		return fmt.Errorf("audit event is nil")
	}

	fields := logrus.Fields{
		"audit":      true,
		"event_type": string(event.EventType),
		"status":     string(event.Status),
	}
	addField(fields, "user_id", event.UserID)
	addField(fields, "business_id", event.BusinessID)
	addField(fields, "team_id", event.TeamID)
	addField(fields, "resource_type", string(event.ResourceType))
	addField(fields, "resource_id", event.ResourceID)
	addField(fields, "request_id", event.RequestID)
	addField(fields, "error", event.ErrorMessage)
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}
	if event.Changes != nil {
		fields["changes"] = event.Changes
	}

	entry := l.logger.WithFields(fields).WithTime(event.Timestamp)
	if event.Status == EventStatusSuccess {
		entry.Info(event.Message)
	} else {
		entry.Warn(event.Message)
	}
	return nil
}

// LogMutation logs a successful change
func (l *LogrusLogger) LogMutation(ctx context.Context, eventType EventType, actor Actor, resourceType ResourceType, resourceID string, changes *ChangeDetails, message string) error {
	event := buildBaseEvent(ctx, eventType, EventStatusSuccess, actor)
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	event.Changes = changes
	event.Message = message
	return l.Log(ctx, event)
}

// LogDenied logs a rejected attempt
func (l *LogrusLogger) LogDenied(ctx context.Context, actor Actor, resourceType ResourceType, resourceID, reason string) error {
	event := buildBaseEvent(ctx, EventTypeAuthzAccessDenied, EventStatusDenied, actor)
	event.ResourceType = resourceType
	event.ResourceID = resourceID
	event.Message = fmt.Sprintf("Access denied: %s", reason)
	return l.Log(ctx, event)
}

// Close is a no-op; the underlying logger is owned by the caller
func (l *LogrusLogger) Close() error {
	return nil
}

func addField(fields logrus.Fields, key, value string) {
	if value != "" {
		fields[key] = value
	}
}
