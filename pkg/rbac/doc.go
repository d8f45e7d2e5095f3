// Package rbac provides teams, roles and team-scoped permissions for business
// accounts.
//
// # Overview
//
// A business owns teams. Each team carries its own set of roles, and every
// member of a team holds at most one of the team's roles. A role is a named
// list of permission tokens drawn from a fixed catalog. Permissions never
// cross team boundaries: holding "update_budget" in one team says nothing
// about another team.
//
// # Permission Catalog
//
// Tokens are formed as "{action}_{resource}":
//
//	rbac.Permission(rbac.ActionUpdate, rbac.ResourceBudget) // "update_budget"
//
// Resources are expense, budget, report, forecast, alert, receipt, team, user
// and role. Actions are create, read, update and delete. AllPermissions lists
// every valid token, ListPermissions groups them by resource with display
// labels, and ValidatePermissions rejects empty or unknown token lists.
//
// Templates (admin, manager, member, viewer, accountant) are predefined
// permission sets used to seed roles:
//
//	tmpl, ok := rbac.TemplateFor(rbac.TemplateViewer)
//
// # Team Lifecycle
//
// TeamManager creates, updates, lists and soft-deletes teams. CreateTeam runs
// in one transaction: it inserts the team, its three default roles (Team
// Admin, Member, Viewer), the admin membership and any requested members, and
// refreshes the business's team counter. Member entries that cannot be
// honored are skipped and reported rather than failing the request.
//
//	result, err := teams.CreateTeam(ctx, identity, rbac.CreateTeamInput{
//		Name:    "Finance",
//		Members: []rbac.MemberInput{{UserID: "user_2", RoleID: "viewer"}},
//	})
//
// Only the business owner may create or delete a team. The owner and the
// team admin may update it and manage its members.
//
// # Roles
//
// RoleManager creates, updates and deletes roles. Deleting a role that
// members still hold requires a reassignment target in the same team; the
// members are moved and the role is removed in one transaction:
//
//	res, err := roles.DeleteRole(ctx, identity, teamID, roleID, targetRoleID)
//	if rbac.IsKind(err, rbac.KindReassignmentRequired) {
//		// ask the caller to choose a target
//	}
//
// A team always keeps at least one role.
//
// # Access Evaluation
//
// Policy answers who the caller is relative to a team: business owner, team
// admin, or plain member. A team outside the caller's business is reported as
// not found, never as forbidden, so team ids of other tenants cannot be
// probed.
//
// PermissionMiddleware applies the same evaluation to routes of other
// resources that carry a {teamId} variable:
//
//	router.Handle("/teams/{teamId}/budgets",
//		manager.Middleware().RequirePermission("create_budget")(createBudgetHandler),
//	).Methods("POST")
//
// # Errors
//
// Manager operations return *Error values classified by ErrorKind. Handlers
// map kinds onto HTTP statuses: validation and reassignment-required are
// 400, permission-denied is 403, not-found is 404, conflict is 409, and
// anything else is a 500 that carries only the request id.
//
// # Storage
//
// Store has two implementations. PostgresStore is backed by lib/pq with the
// schema in migrations.go; unique constraints on role names, memberships and
// active team names are mapped to sentinel errors. MemoryStore keeps
// everything in process and is used for tests and local runs. Both run
// WithTx all-or-nothing.
//
//	manager := rbac.NewManager(db, auditLogger, metrics, logger, rbac.DefaultConfig())
//	if err := manager.Initialize(ctx); err != nil {
//		return err
//	}
//	manager.RegisterRoutes(apiRouter)
//
// # Related Packages
//
//   - pkg/auth: session tokens and the caller identity
//   - pkg/audit: audit trail of team, role and membership changes
//   - pkg/business: business profile and settings
//   - pkg/middleware: authentication and rate limiting
package rbac
