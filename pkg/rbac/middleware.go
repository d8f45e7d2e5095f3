package rbac

import (
	"net/http"

	"github.com/finoly/finoly/pkg/httputil"
	"github.com/finoly/finoly/pkg/middleware"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// TeamIDVar is the route variable naming the team a request targets
const TeamIDVar = "teamId"

// PermissionMiddleware gates team-scoped routes of other resources
// (expenses, budgets, reports) on the permission tokens carried in the
// caller's session. The business owner and the team admin always pass.
type PermissionMiddleware struct {
	policy Evaluator
	logger *logrus.Logger
}

// NewPermissionMiddleware creates a new permission middleware
func NewPermissionMiddleware(policy Evaluator, logger *logrus.Logger) *PermissionMiddleware {
	return &PermissionMiddleware{
		policy: policy,
		logger: logger,
	}
}

// RequirePermission creates middleware that requires a specific permission
// on the team named by the {teamId} route variable
func (pm *PermissionMiddleware) RequirePermission(permission string) func(http.Handler) http.Handler {
	return pm.RequireAnyPermission(permission)
}

// RequireAnyPermission creates middleware that requires any of the
// specified permissions on the {teamId} team
func (pm *PermissionMiddleware) RequireAnyPermission(permissions ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := middleware.GetIdentity(r)
			if identity == nil {
				httputil.WriteUnauthorized(w, "Authentication required")
				return
			}

			teamID := mux.Vars(r)[TeamIDVar]
			access := pm.policy.Evaluate(r.Context(), identity, teamID)
			if access.Team == nil {
				httputil.WriteNotFound(w, CodeTeamNotFound, "Team not found")
				return
			}

			if access.IsBusinessOwner || access.IsTeamAdmin {
				next.ServeHTTP(w, r)
				return
			}

			if access.HasTeamAccess {
				for _, permission := range permissions {
					if identity.HasTeamPermission(teamID, permission) {
						next.ServeHTTP(w, r)
						return
					}
				}
			}

			httputil.LoggerFrom(r, pm.logger).WithFields(logrus.Fields{
				"team_id":     teamID,
				"permissions": permissions,
			}).Debug("team permission denied")
			httputil.WriteForbidden(w, CodePermissionDenied, "Insufficient permissions for this team")
		})
	}
}

// RequireTeamManager creates middleware that only admits the business owner
// and the team admin
func (pm *PermissionMiddleware) RequireTeamManager() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := middleware.GetIdentity(r)
			if identity == nil {
				httputil.WriteUnauthorized(w, "Authentication required")
				return
			}
			if !pm.policy.CanManageTeam(r.Context(), identity, mux.Vars(r)[TeamIDVar], true) {
				httputil.WriteForbidden(w, CodeTeamManageDenied, "Only the team admin or business owner can do this")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
