package business

import (
	"net/http"
	"time"

	"github.com/finoly/finoly/pkg/audit"
	"github.com/finoly/finoly/pkg/contextkeys"
	"github.com/finoly/finoly/pkg/httputil"
	"github.com/finoly/finoly/pkg/middleware"
	"github.com/finoly/finoly/pkg/observability"
	"github.com/finoly/finoly/pkg/rbac"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Rate limit route keys
const (
	RouteRead  = "business_read"
	RouteWrite = "business_write"
)

// DefaultLimits returns in-memory limiters allowing 50 reads and 10 writes
// per user per minute
func DefaultLimits() Limits {
	return Limits{
		Read:  middleware.NewRateLimiter(middleware.RateLimitConfig{RequestsPerWindow: 50, WindowDuration: time.Minute}),
		Write: middleware.NewRateLimiter(middleware.RateLimitConfig{RequestsPerWindow: 10, WindowDuration: time.Minute}),
	}
}

// Limits holds the limiters guarding the business routes
type Limits struct {
	Read  middleware.Limiter
	Write middleware.Limiter
}

// Recorder counts business operations and rate limit rejections
type Recorder interface {
	RecordOperation(operation, outcome string)
	RecordRateLimited(route string)
}

type noopRecorder struct{}

func (noopRecorder) RecordOperation(operation, outcome string) {}
func (noopRecorder) RecordRateLimited(route string)            {}

// Handlers serves the business profile routes
type Handlers struct {
	service     *Service
	limits      Limits
	auditLogger audit.Logger
	metrics     Recorder
	logger      *logrus.Logger
}

// NewHandlers creates business handlers. auditLogger and metrics may be nil;
// missing limiters fall back to DefaultLimits.
func NewHandlers(service *Service, limits Limits, auditLogger audit.Logger, metrics Recorder, logger *logrus.Logger) *Handlers {
	defaults := DefaultLimits()
	if limits.Read == nil {
		limits.Read = defaults.Read
	}
	if limits.Write == nil {
		limits.Write = defaults.Write
	}
	if auditLogger == nil {
		auditLogger = audit.NewNoopLogger()
	}
	if metrics == nil {
		metrics = noopRecorder{}
	}
	return &Handlers{
		service:     service,
		limits:      limits,
		auditLogger: auditLogger,
		metrics:     metrics,
		logger:      logger,
	}
}

// RegisterRoutes registers GET and PUT /business
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	read := middleware.RateLimit(h.limits.Read, RouteRead, h.logger, h.metrics)
	write := middleware.RateLimit(h.limits.Write, RouteWrite, h.logger, h.metrics)

	router.Handle("/business", read(http.HandlerFunc(h.GetBusiness))).Methods("GET")
	router.Handle("/business", write(http.HandlerFunc(h.UpdateBusiness))).Methods("PUT")
}

// GetBusiness handles GET /business
func (h *Handlers) GetBusiness(w http.ResponseWriter, r *http.Request) {
	profile, err := h.service.Get(r.Context(), middleware.GetIdentity(r))
	if err != nil {
		h.writeError(w, r, "get_business", err)
		return
	}
	h.metrics.RecordOperation("get_business", "success")
	_ = httputil.WriteSuccess(w, profile)
}

// UpdateBusiness handles PUT /business
func (h *Handlers) UpdateBusiness(w http.ResponseWriter, r *http.Request) {
	var req UpdateInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	result, err := h.service.Update(r.Context(), middleware.GetIdentity(r), req)
	if err != nil {
		h.writeError(w, r, "update_business", err)
		return
	}

	h.metrics.RecordOperation("update_business", "success")
	changes := &audit.ChangeDetails{
		Before: map[string]interface{}{"name": result.PreviousName()},
		After:  map[string]interface{}{"name": result.Name, "settings": result.Settings},
	}
	if err := h.auditLogger.LogMutation(r.Context(), audit.EventTypeBusinessUpdate, actorOf(r), audit.ResourceTypeBusiness, result.ID, changes, "business updated"); err != nil {
		httputil.LoggerFrom(r, h.logger).WithError(err).Warn("failed to write audit event")
	}

	_ = httputil.WriteSuccessMessage(w, "Business updated successfully", result)
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
		if err := h.auditLogger.LogDenied(r.Context(), actorOf(r), audit.ResourceTypeBusiness, "", apiErr.Code); err != nil {
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
