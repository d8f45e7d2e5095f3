package rbac

import (
	"net/http"

	"github.com/finoly/finoly/pkg/audit"
	"github.com/finoly/finoly/pkg/contextkeys"
	"github.com/finoly/finoly/pkg/httputil"
	"github.com/finoly/finoly/pkg/middleware"
	"github.com/finoly/finoly/pkg/observability"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// OperationRecorder counts operations by outcome
type OperationRecorder interface {
	RecordOperation(operation, outcome string)
	RecordReassigned(n int)
}

type noopRecorder struct{}

func (noopRecorder) RecordOperation(operation, outcome string) {}
func (noopRecorder) RecordReassigned(n int)                    {}

// Handlers provides HTTP handlers for teams, roles and memberships
type Handlers struct {
	teams       *TeamManager
	roles       *RoleManager
	gate        *PermissionMiddleware
	auditLogger audit.Logger
	metrics     OperationRecorder
	logger      *logrus.Logger
}

// NewHandlers creates new RBAC handlers. auditLogger and metrics may be nil.
func NewHandlers(teams *TeamManager, roles *RoleManager, auditLogger audit.Logger, metrics OperationRecorder, logger *logrus.Logger) *Handlers {
	if auditLogger == nil {
		auditLogger = audit.NewNoopLogger()
	}
	if metrics == nil {
		metrics = noopRecorder{}
	}
	return &Handlers{
		teams:       teams,
		roles:       roles,
		gate:        NewPermissionMiddleware(teams.policy, logger),
		auditLogger: auditLogger,
		metrics:     metrics,
		logger:      logger,
	}
}

// RegisterRoutes registers all team and role routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	// Teams
	router.HandleFunc("/teams", h.ListTeams).Methods("GET")
	router.HandleFunc("/teams", h.CreateTeam).Methods("POST")
	router.HandleFunc("/teams/{teamId}", h.GetTeam).Methods("GET")
	router.HandleFunc("/teams/{teamId}", h.UpdateTeam).Methods("PUT")
	router.HandleFunc("/teams/{teamId}", h.DeleteTeam).Methods("DELETE")

	// Members
	router.HandleFunc("/teams/{teamId}/members", h.AddMember).Methods("POST")
	router.HandleFunc("/teams/{teamId}/members/{userId}", h.ChangeMemberRole).Methods("PATCH")
	router.HandleFunc("/teams/{teamId}/members/{userId}", h.RemoveMember).Methods("DELETE")

	// Roles
	router.HandleFunc("/teams/{teamId}/roles", h.ListRoles).Methods("GET")
	router.HandleFunc("/teams/{teamId}/roles", h.CreateRole).Methods("POST")
	router.HandleFunc("/teams/{teamId}/roles/{roleId}", h.GetRole).Methods("GET")
	router.HandleFunc("/teams/{teamId}/roles/{roleId}", h.UpdateRole).Methods("PUT")
	router.HandleFunc("/teams/{teamId}/roles/{roleId}", h.DeleteRole).Methods("DELETE")

	// Session checks for services fronting team resources
	router.HandleFunc("/teams/{teamId}/authorize", h.Authorize).Methods("GET")
	router.Handle("/teams/{teamId}/authorize/manage", h.gate.RequireTeamManager()(http.HandlerFunc(allowed))).Methods("GET")

	// Catalog
	router.HandleFunc("/permissions", h.ListPermissions).Methods("GET")
	router.HandleFunc("/roles/templates", h.ListTemplates).Methods("GET")
}

// Authorize handles GET /teams/{teamId}/authorize?permission=...
// It answers 204 when the caller's session grants any of the listed
// permissions on the team, and the gate's error response otherwise.
func (h *Handlers) Authorize(w http.ResponseWriter, r *http.Request) {
	permissions := r.URL.Query()["permission"]
	if err := ValidatePermissions(permissions); err != nil {
		h.writeError(w, r, "authorize", err)
		return
	}
	h.gate.RequireAnyPermission(permissions...)(http.HandlerFunc(allowed)).ServeHTTP(w, r)
}

func allowed(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// ListTeams handles GET /teams
func (h *Handlers) ListTeams(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)

	page, limit, err := httputil.ParsePage(r, DefaultPageLimit, MaxPageLimit)
	if err != nil {
		httputil.WriteBadRequest(w, CodeValidation, err.Error())
		return
	}

	result, err := h.teams.ListTeams(r.Context(), identity, page, limit)
	if err != nil {
		h.writeError(w, r, "list_teams", err)
		return
	}
	_ = httputil.WritePage(w, result.Teams, httputil.NewPagination(result.Page, result.Limit, result.Total))
}

// CreateTeam handles POST /teams
func (h *Handlers) CreateTeam(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)

	var req CreateTeamInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	result, err := h.teams.CreateTeam(r.Context(), identity, req)
	if err != nil {
		h.writeError(w, r, "create_team", err)
		return
	}
	h.recordSuccess(r, "create_team", audit.EventTypeTeamCreate, result.Team.ID, audit.ResourceTypeTeam, result.Team.ID, nil, "team created")

	_ = httputil.WriteCreated(w, "Team created successfully", result)
}

// GetTeam handles GET /teams/{teamId}
func (h *Handlers) GetTeam(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	teamID := mux.Vars(r)["teamId"]

	details, err := h.teams.GetTeamDetails(r.Context(), identity, teamID)
	if err != nil {
		h.writeError(w, r, "get_team", err)
		return
	}
	_ = httputil.WriteSuccess(w, details)
}

// UpdateTeam handles PUT /teams/{teamId}
func (h *Handlers) UpdateTeam(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	teamID := mux.Vars(r)["teamId"]

	var req UpdateTeamInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	team, err := h.teams.UpdateTeam(r.Context(), identity, teamID, req)
	if err != nil {
		h.writeError(w, r, "update_team", err)
		return
	}
	h.recordSuccess(r, "update_team", audit.EventTypeTeamUpdate, teamID, audit.ResourceTypeTeam, teamID, &audit.ChangeDetails{
		After: map[string]interface{}{"name": team.Name, "description": team.Description, "adminUserId": team.AdminUserID},
	}, "team updated")

	_ = httputil.WriteSuccessMessage(w, "Team updated successfully", team)
}

// DeleteTeam handles DELETE /teams/{teamId}
func (h *Handlers) DeleteTeam(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	teamID := mux.Vars(r)["teamId"]

	if err := h.teams.DeleteTeam(r.Context(), identity, teamID); err != nil {
		h.writeError(w, r, "delete_team", err)
		return
	}
	h.recordSuccess(r, "delete_team", audit.EventTypeTeamDelete, teamID, audit.ResourceTypeTeam, teamID, nil, "team deleted")

	_ = httputil.WriteSuccessMessage(w, "Team deleted successfully", map[string]string{"id": teamID})
}

// AddMember handles POST /teams/{teamId}/members
func (h *Handlers) AddMember(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	teamID := mux.Vars(r)["teamId"]

	var req AddMemberInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	member, err := h.teams.AddMember(r.Context(), identity, teamID, req)
	if err != nil {
		h.writeError(w, r, "add_member", err)
		return
	}
	h.recordSuccess(r, "add_member", audit.EventTypeMemberAdd, teamID, audit.ResourceTypeMember, member.UserID, &audit.ChangeDetails{
		After: map[string]interface{}{"roleId": member.RoleID},
	}, "team member added")

	_ = httputil.WriteCreated(w, "Member added successfully", member)
}

// ChangeMemberRole handles PATCH /teams/{teamId}/members/{userId}
func (h *Handlers) ChangeMemberRole(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	vars := mux.Vars(r)
	teamID, userID := vars["teamId"], vars["userId"]

	var req struct {
		RoleID string `json:"roleId"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	member, err := h.teams.ChangeMemberRole(r.Context(), identity, teamID, userID, req.RoleID)
	if err != nil {
		h.writeError(w, r, "change_member_role", err)
		return
	}
	h.recordSuccess(r, "change_member_role", audit.EventTypeMemberRoleChange, teamID, audit.ResourceTypeMember, userID, &audit.ChangeDetails{
		After: map[string]interface{}{"roleId": member.RoleID},
	}, "member role changed")

	_ = httputil.WriteSuccessMessage(w, "Member role updated successfully", member)
}

// RemoveMember handles DELETE /teams/{teamId}/members/{userId}
func (h *Handlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	vars := mux.Vars(r)
	teamID, userID := vars["teamId"], vars["userId"]

	if err := h.teams.RemoveMember(r.Context(), identity, teamID, userID); err != nil {
		h.writeError(w, r, "remove_member", err)
		return
	}
	h.recordSuccess(r, "remove_member", audit.EventTypeMemberRemove, teamID, audit.ResourceTypeMember, userID, nil, "team member removed")

	_ = httputil.WriteSuccessMessage(w, "Member removed successfully", map[string]string{"teamId": teamID, "userId": userID})
}

// ListRoles handles GET /teams/{teamId}/roles
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	teamID := mux.Vars(r)["teamId"]

	result, err := h.roles.ListRoles(r.Context(), identity, teamID)
	if err != nil {
		h.writeError(w, r, "list_roles", err)
		return
	}
	_ = httputil.WriteSuccess(w, result)
}

// CreateRole handles POST /teams/{teamId}/roles
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	teamID := mux.Vars(r)["teamId"]

	var req CreateRoleInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role, err := h.roles.CreateRole(r.Context(), identity, teamID, req)
	if err != nil {
		h.writeError(w, r, "create_role", err)
		return
	}
	h.recordSuccess(r, "create_role", audit.EventTypeRoleCreate, teamID, audit.ResourceTypeRole, role.ID, &audit.ChangeDetails{
		After: map[string]interface{}{"name": role.Name, "permissions": role.Permissions},
	}, "role created")

	_ = httputil.WriteCreated(w, "Role created successfully", role)
}

// GetRole handles GET /teams/{teamId}/roles/{roleId}
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	vars := mux.Vars(r)

	details, err := h.roles.GetRole(r.Context(), identity, vars["teamId"], vars["roleId"])
	if err != nil {
		h.writeError(w, r, "get_role", err)
		return
	}
	_ = httputil.WriteSuccess(w, details)
}

// UpdateRole handles PUT /teams/{teamId}/roles/{roleId}
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	vars := mux.Vars(r)
	teamID, roleID := vars["teamId"], vars["roleId"]

	var req UpdateRoleInput
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	role, err := h.roles.UpdateRole(r.Context(), identity, teamID, roleID, req)
	if err != nil {
		h.writeError(w, r, "update_role", err)
		return
	}
	h.recordSuccess(r, "update_role", audit.EventTypeRoleUpdate, teamID, audit.ResourceTypeRole, roleID, &audit.ChangeDetails{
		After: map[string]interface{}{"name": role.Name, "permissions": role.Permissions},
	}, "role updated")

	_ = httputil.WriteSuccessMessage(w, "Role updated successfully", role)
}

// DeleteRole handles DELETE /teams/{teamId}/roles/{roleId}. Members holding
// the role are moved to ?reassignToRoleId=.
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	identity := middleware.GetIdentity(r)
	vars := mux.Vars(r)
	teamID, roleID := vars["teamId"], vars["roleId"]
	reassignTo := httputil.ParseQueryString(r, "reassignToRoleId", "")

	result, err := h.roles.DeleteRole(r.Context(), identity, teamID, roleID, reassignTo)
	if err != nil {
		h.writeError(w, r, "delete_role", err)
		return
	}
	h.metrics.RecordReassigned(result.AffectedUsers)
	h.recordSuccess(r, "delete_role", audit.EventTypeRoleDelete, teamID, audit.ResourceTypeRole, roleID, &audit.ChangeDetails{
		After: map[string]interface{}{"affectedUsers": result.AffectedUsers, "reassignToRoleId": reassignTo},
	}, "role deleted")

	_ = httputil.WriteSuccessMessage(w, "Role deleted successfully", result)
}

// ListPermissions handles GET /permissions
func (h *Handlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	_ = httputil.WriteSuccess(w, map[string]interface{}{
		"permissions": AllPermissions(),
		"groups":      ListPermissions(),
	})
}

// ListTemplates handles GET /roles/templates
func (h *Handlers) ListTemplates(w http.ResponseWriter, r *http.Request) {
	_ = httputil.WriteSuccess(w, ListTemplates())
}

func (h *Handlers) recordSuccess(r *http.Request, operation string, eventType audit.EventType, teamID string, resourceType audit.ResourceType, resourceID string, changes *audit.ChangeDetails, message string) {
	h.metrics.RecordOperation(operation, "success")
	if err := h.auditLogger.LogMutation(r.Context(), eventType, actorOf(r, teamID), resourceType, resourceID, changes, message); err != nil {
		httputil.LoggerFrom(r, h.logger).WithError(err).Warn("failed to write audit event")
	}
}

// writeError maps manager errors onto the failure envelope
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, operation string, err error) {
	entry := observability.WithTraceContext(r.Context(), httputil.LoggerFrom(r, h.logger)).WithField("operation", operation)

	apiErr, ok := AsError(err)
	if !ok {
		apiErr = NewInternal(operation, err)
	}
	h.metrics.RecordOperation(operation, string(apiErr.Kind))

	resp := httputil.ErrorResponse{
		Message: apiErr.Message,
		Code:    apiErr.Code,
		Field:   apiErr.Field,
	}

	status := apiErr.Status()
	switch status {
	case http.StatusInternalServerError:
		entry.WithError(err).Error("operation failed")
		httputil.WriteInternalError(w, contextkeys.GetRequestID(r.Context()))
		return
	case http.StatusForbidden:
		teamID := mux.Vars(r)["teamId"]
		if err := h.auditLogger.LogDenied(r.Context(), actorOf(r, teamID), audit.ResourceTypeTeam, teamID, apiErr.Code); err != nil {
			entry.WithError(err).Warn("failed to write audit event")
		}
	}
	if apiErr.Kind == KindReassignmentRequired {
		affected := apiErr.AffectedUsers
		resp.AffectedUsers = &affected
	}

	entry.WithFields(logrus.Fields{
		"code":   apiErr.Code,
		"status": status,
	}).Debug("request rejected")
	httputil.WriteErrorResponse(w, status, resp)
}

func actorOf(r *http.Request, teamID string) audit.Actor {
	actor := audit.Actor{TeamID: teamID}
	if identity := middleware.GetIdentity(r); identity != nil {
		actor.UserID = identity.UserID
		actor.BusinessID = identity.BusinessID
	}
	return actor
}
