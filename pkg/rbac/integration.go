package rbac

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/finoly/finoly/pkg/audit"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Config holds RBAC configuration
type Config struct {
	// RunMigrations applies the schema before the manager is used. Only
	// meaningful for a Postgres store.
	RunMigrations bool
}

// DefaultConfig returns default RBAC configuration
func DefaultConfig() Config {
	return Config{RunMigrations: true}
}

// Manager wires the store, policy, lifecycle managers and HTTP handlers
type Manager struct {
	store      Store
	db         *sql.DB
	policy     *Policy
	teams      *TeamManager
	roles      *RoleManager
	handlers   *Handlers
	middleware *PermissionMiddleware
	config     Config
	logger     *logrus.Logger
}

// NewManager creates a new RBAC manager over a Postgres database
func NewManager(db *sql.DB, auditLogger audit.Logger, metrics OperationRecorder, logger *logrus.Logger, config Config) *Manager {
	m := NewManagerWithStore(NewPostgresStore(db), auditLogger, metrics, logger, config)
	m.db = db
	return m
}

// NewManagerWithStore creates a new RBAC manager over any Store
func NewManagerWithStore(store Store, auditLogger audit.Logger, metrics OperationRecorder, logger *logrus.Logger, config Config) *Manager {
	policy := NewPolicy(store, logger)
	teams := NewTeamManager(store, policy, logger)
	roles := NewRoleManager(store, policy, logger)

	return &Manager{
		store:      store,
		policy:     policy,
		teams:      teams,
		roles:      roles,
		handlers:   NewHandlers(teams, roles, auditLogger, metrics, logger),
		middleware: NewPermissionMiddleware(policy, logger),
		config:     config,
		logger:     logger,
	}
}

// Initialize applies migrations when configured and checks the store is
// reachable
func (m *Manager) Initialize(ctx context.Context) error {
	if m.db != nil && m.config.RunMigrations {
		if err := RunMigrations(ctx, m.db, m.logger); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
	}
	if err := m.store.Ping(ctx); err != nil {
		return fmt.Errorf("failed to reach store: %w", err)
	}
	return nil
}

// RegisterRoutes registers RBAC routes with a router
func (m *Manager) RegisterRoutes(router *mux.Router) {
	m.handlers.RegisterRoutes(router)
}

// Store returns the RBAC store
func (m *Manager) Store() Store {
	return m.store
}

// Policy returns the access policy
func (m *Manager) Policy() *Policy {
	return m.policy
}

// Teams returns the team lifecycle manager
func (m *Manager) Teams() *TeamManager {
	return m.teams
}

// Roles returns the role lifecycle manager
func (m *Manager) Roles() *RoleManager {
	return m.roles
}

// Middleware returns the permission middleware
func (m *Manager) Middleware() *PermissionMiddleware {
	return m.middleware
}
