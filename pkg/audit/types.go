package audit

import (
	"encoding/json"
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Team lifecycle events
	EventTypeTeamCreate EventType = "team.create"
	EventTypeTeamUpdate EventType = "team.update"
	EventTypeTeamDelete EventType = "team.delete"

	// Membership events
	EventTypeMemberAdd        EventType = "member.add"
	EventTypeMemberRemove     EventType = "member.remove"
	EventTypeMemberRoleChange EventType = "member.role_change"

	// Role events
	EventTypeRoleCreate EventType = "role.create"
	EventTypeRoleUpdate EventType = "role.update"
	EventTypeRoleDelete EventType = "role.delete"

	// Business events
	EventTypeBusinessUpdate EventType = "business.update"

	// User events
	EventTypeUserAdd    EventType = "user.add"
	EventTypeUserRemove EventType = "user.remove"

	// Authorization events
	EventTypeAuthzAccessDenied EventType = "authz.access_denied"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being changed
type ResourceType string

const (
	ResourceTypeTeam     ResourceType = "team"
	ResourceTypeRole     ResourceType = "role"
	ResourceTypeMember   ResourceType = "member"
	ResourceTypeBusiness ResourceType = "business"
	ResourceTypeUser     ResourceType = "user"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	// ID is assigned by persistent sinks
	ID        int64       `json:"id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor
	UserID     string `json:"user_id,omitempty"`
	BusinessID string `json:"business_id,omitempty"`

	// Resource
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`
	TeamID       string       `json:"team_id,omitempty"`

	// Request context
	RequestID string `json:"request_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`

	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`

	Changes *ChangeDetails `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}

// ToJSON converts the audit event to JSON
func (e *AuditEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}
