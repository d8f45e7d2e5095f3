package users

import (
	"net/http"

	"github.com/finoly/finoly/pkg/audit"
	"github.com/finoly/finoly/pkg/contextkeys"
	"github.com/finoly/finoly/pkg/httputil"
	"github.com/finoly/finoly/pkg/middleware"
	"github.com/finoly/finoly/pkg/observability"
	"github.com/finoly/finoly/pkg/rbac"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Page size bounds for GET /users
const (
	DefaultPageLimit = 10
	MaxPageLimit     = 100
)

// OperationRecorder counts user operations by outcome
type OperationRecorder interface {
	RecordOperation(operation, outcome string)
}

type noopRecorder struct{}

func (noopRecorder) RecordOperation(operation, outcome string) {}

// Handlers serves the business user routes
type Handlers struct {
	service     *Service
	auditLogger audit.Logger
	metrics     OperationRecorder
	logger      *logrus.Logger
}

// NewHandlers creates user handlers. auditLogger and metrics may be nil.
func NewHandlers(service *Service, auditLogger audit.Logger, metrics OperationRecorder, logger *logrus.Logger) *Handlers {
	if auditLogger == nil {
		auditLogger = audit.NewNoopLogger()
	}
	if metrics == nil {
		metrics = noopRecorder{}
	}
	return &Handlers{
		service:     service,
		auditLogger: auditLogger,
		metrics:     metrics,
		logger:      logger,
	}
}

func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/users", h.ListUsers).Methods("GET")
	router.HandleFunc("/users", h.AddUser).Methods("POST")
	router.HandleFunc("/users/{userId}", h.GetUser).Methods("GET")
	router.HandleFunc("/users/{userId}", h.RemoveUser).Methods("DELETE")
}

// AddUser handles POST /users
func (h *Handlers) AddUser(w http.ResponseWriter, r *http.Request) {
	var req AddInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	profile, err := h.service.Add(r.Context(), middleware.GetIdentity(r), req)
	if err != nil {
		h.writeError(w, r, "add_user", err)
		return
	}

	h.metrics.RecordOperation("add_user", "success")
	changes := &audit.ChangeDetails{After: map[string]interface{}{"email": profile.Email, "teams": profile.Teams}}
	h.logMutation(r, audit.EventTypeUserAdd, profile.ID, changes, "user added")
	_ = httputil.WriteCreated(w, "User added successfully", profile)
}

// ListUsers handles GET /users
func (h *Handlers) ListUsers(w http.ResponseWriter, r *http.Request) {
	page, limit, err := httputil.ParsePage(r, DefaultPageLimit, MaxPageLimit)
	if err != nil {
		httputil.WriteBadRequest(w, rbac.CodeValidation, err.Error())
		return
	}

	result, err := h.service.List(r.Context(), middleware.GetIdentity(r), ListInput{
		TeamID: httputil.ParseQueryString(r, "teamId", ""),
		Role:   httputil.ParseQueryString(r, "role", ""),
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		h.writeError(w, r, "list_users", err)
		return
	}
	h.metrics.RecordOperation("list_users", "success")
	_ = httputil.WritePage(w, result.Users, httputil.NewPagination(result.Page, result.Limit, result.Total))
}

// GetUser handles GET /users/{userId}
func (h *Handlers) GetUser(w http.ResponseWriter, r *http.Request) {
	profile, err := h.service.Get(r.Context(), middleware.GetIdentity(r), mux.Vars(r)["userId"])
	if err != nil {
		h.writeError(w, r, "get_user", err)
		return
	}
	h.metrics.RecordOperation("get_user", "success")
	_ = httputil.WriteSuccess(w, profile)
}

// RemoveUser handles DELETE /users/{userId}
func (h *Handlers) RemoveUser(w http.ResponseWriter, r *http.Request) {
	removal, err := h.service.Remove(r.Context(), middleware.GetIdentity(r), mux.Vars(r)["userId"])
	if err != nil {
		h.writeError(w, r, "remove_user", err)
		return
	}

	h.metrics.RecordOperation("remove_user", "success")
	changes := &audit.ChangeDetails{Before: map[string]interface{}{"email": removal.UserEmail, "teams": removal.TeamsLeft}}
	h.logMutation(r, audit.EventTypeUserRemove, removal.UserID, changes, "user removed from business")
	_ = httputil.WriteSuccessMessage(w, "User removed from business successfully", removal)
}

func (h *Handlers) logMutation(r *http.Request, eventType audit.EventType, userID string, changes *audit.ChangeDetails, message string) {
	if err := h.auditLogger.LogMutation(r.Context(), eventType, actorOf(r), audit.ResourceTypeUser, userID, changes, message); err != nil {
		httputil.LoggerFrom(r, h.logger).WithError(err).Warn("failed to write audit event")
	}
}

func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	entry := observability.WithTraceContext(r.Context(), httputil.LoggerFrom(r, h.logger)).WithField("operation", operation)

	apiErr, ok := rbac.AsError(err)
	if !ok {
		apiErr = rbac.NewInternal(operation, err)
	}
	h.metrics.RecordOperation(operation, string(apiErr.Kind))

	status := apiErr.Status()
	switch status {
	case http.StatusInternalServerError:
		entry.WithError(err).Error("operation failed")
		httputil.WriteInternalError(w, contextkeys.GetRequestID(r.Context()))
		return
	case http.StatusForbidden:
		if err := h.auditLogger.LogDenied(r.Context(), actorOf(r), audit.ResourceTypeUser, mux.Vars(r)["userId"], apiErr.Code); err != nil {
			entry.WithError(err).Warn("failed to write audit event")
		}
	}

	entry.WithFields(logrus.Fields{"code": apiErr.Code, "status": status}).Debug("request rejected")
	httputil.WriteErrorResponse(w, status, httputil.ErrorResponse{
		Message: apiErr.Message,
		Code:    apiErr.Code,
		Field:   apiErr.Field,
	})
}

func actorOf(r *http.Request) audit.Actor {
	var actor audit.Actor
	if identity := middleware.GetIdentity(r); identity != nil {
		actor.UserID = identity.UserID
		actor.BusinessID = identity.BusinessID
	}
	return actor
}
