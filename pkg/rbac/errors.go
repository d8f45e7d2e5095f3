package rbac

import (
	"errors"
	"fmt"
	"net/http"
)

// Store sentinel errors
var (
	ErrBusinessNotFound  = errors.New("business not found")
	ErrUserNotFound      = errors.New("user not found")
	ErrTeamNotFound      = errors.New("team not found")
	ErrRoleNotFound      = errors.New("role not found")
	ErrMemberNotFound    = errors.New("team member not found")
	ErrDuplicateTeamName = errors.New("team name already exists in business")
	ErrDuplicateRoleName = errors.New("role name already exists in team")
	ErrDuplicateMember   = errors.New("user is already a member of the team")
	ErrDuplicateEmail    = errors.New("email already registered")
)

// ErrorKind classifies an API error
type ErrorKind string

const (
	KindPermissionDenied     ErrorKind = "permission_denied"
	KindValidation           ErrorKind = "validation"
	KindNotFound             ErrorKind = "not_found"
	KindConflict             ErrorKind = "conflict"
	KindReassignmentRequired ErrorKind = "reassignment_required"
	KindInternal             ErrorKind = "internal"
)

// Error codes
const (
	CodeBusinessAccountRequired = "BUSINESS_ACCOUNT_REQUIRED"
	CodeBusinessOwnerRequired   = "BUSINESS_OWNER_REQUIRED"
	CodeBusinessNotFound        = "BUSINESS_NOT_FOUND"
	CodeValidation              = "VALIDATION_ERROR"
	CodeInvalidPermissions      = "INVALID_PERMISSIONS"
	CodeInvalidAdminUser        = "INVALID_ADMIN_USER"
	CodeDuplicateTeamName       = "DUPLICATE_TEAM_NAME"
	CodeTeamAccessDenied        = "TEAM_ACCESS_DENIED"
	CodeTeamUpdateDenied        = "TEAM_UPDATE_DENIED"
	CodeTeamDeleteDenied        = "TEAM_DELETE_DENIED"
	CodeTeamManageDenied        = "TEAM_MANAGE_DENIED"
	CodeTeamNotFound            = "TEAM_NOT_FOUND"
	CodePermissionDenied        = "PERMISSION_DENIED"
	CodeRoleNotFound            = "ROLE_NOT_FOUND"
	CodeDuplicateRoleName       = "DUPLICATE_ROLE_NAME"
	CodeReassignmentRequired    = "REASSIGNMENT_REQUIRED"
	CodeReassignRoleNotFound    = "REASSIGN_ROLE_NOT_FOUND"
	CodeLastRoleCannotDelete    = "LAST_ROLE_CANNOT_DELETE"
	CodeUserNotInBusiness       = "USER_NOT_IN_BUSINESS"
	CodeRoleNotInTeam           = "ROLE_NOT_IN_TEAM"
	CodeUserAlreadyInTeam       = "USER_ALREADY_IN_TEAM"
	CodeUserNotInTeam           = "USER_NOT_IN_TEAM"
	CodeCannotRemoveAdmin       = "CANNOT_REMOVE_ADMIN"
	CodeCannotChangeAdminRole   = "CANNOT_CHANGE_ADMIN_ROLE"
	CodeUserNotFound            = "USER_NOT_FOUND"
	CodeDuplicateEmail          = "DUPLICATE_EMAIL"
	CodeCannotDeleteSelf        = "CANNOT_DELETE_SELF"
	CodeInternal                = "INTERNAL_ERROR"
)

// Error is a business-rule failure surfaced to API callers
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
	Field   string
	// AffectedUsers is set for KindReassignmentRequired
	AffectedUsers int
	cause         error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Status maps the error kind onto an HTTP status code
func (e *Error) Status() int {
	switch e.Kind {
	case KindValidation, KindReassignmentRequired:
		return http.StatusBadRequest
	case KindPermissionDenied:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// NewValidationError creates a validation failure for field
func NewValidationError(code, field, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Field: field, Message: message}
}

// NewPermissionDenied creates an authorization failure
func NewPermissionDenied(code, message string) *Error {
	return &Error{Kind: KindPermissionDenied, Code: code, Message: message}
}

// NewNotFound creates a not-found failure
func NewNotFound(code, message string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: message}
}

// NewConflict creates a conflict failure
func NewConflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

// NewReassignmentRequired reports that a role still has members
func NewReassignmentRequired(affected int) *Error {
	return &Error{
		Kind:          KindReassignmentRequired,
		Code:          CodeReassignmentRequired,
		Message:       fmt.Sprintf("Role is assigned to %d user(s). Provide reassignToRoleId to move them first", affected),
		AffectedUsers: affected,
	}
}

// NewInternal wraps an unexpected store failure
func NewInternal(op string, err error) *Error {
	return &Error{
		Kind:    KindInternal,
		Code:    CodeInternal,
		Message: fmt.Sprintf("failed to %s", op),
		cause:   err,
	}
}

// AsError extracts an *Error from err
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind reports whether err is an *Error of the given kind
func IsKind(err error, kind ErrorKind) bool {
	e, ok := AsError(err)
	return ok && e.Kind == kind
}

// CodeOf returns the code of an *Error, or "" for other errors
func CodeOf(err error) string {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

func teamNotFound() *Error {
	return NewNotFound(CodeTeamNotFound, "Team not found")
}

func roleNotFound() *Error {
	return NewNotFound(CodeRoleNotFound, "Role not found in this team")
}
