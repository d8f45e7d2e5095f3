package rbac

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					email TEXT NOT NULL UNIQUE,
					account_type TEXT NOT NULL DEFAULT 'individual'
						CHECK (account_type IN ('individual', 'business')),
					business_id TEXT,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_users_business_id ON users(business_id);
			`,
		},
		{
			Version:     2,
			Description: "Create businesses table",
			SQL: `
				CREATE TABLE IF NOT EXISTS businesses (
					id TEXT PRIMARY KEY,
					name VARCHAR(100) NOT NULL,
					owner_id TEXT NOT NULL REFERENCES users(id),
					settings JSONB NOT NULL DEFAULT '{}'
						CHECK (jsonb_typeof(settings) = 'object'),
					teams_count INT NOT NULL DEFAULT 0 CHECK (teams_count >= 0),
					users_count INT NOT NULL DEFAULT 0,
					total_expenses BIGINT NOT NULL DEFAULT 0,
					active_budgets INT NOT NULL DEFAULT 0,
					subscription_plan TEXT NOT NULL DEFAULT 'free',
					subscription_status TEXT NOT NULL DEFAULT 'active',
					subscription_expires_at TIMESTAMP,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_businesses_owner_id ON businesses(owner_id);
			`,
		},
		{
			Version:     3,
			Description: "Create teams table",
			SQL: `
				CREATE TABLE IF NOT EXISTS teams (
					id TEXT PRIMARY KEY,
					name VARCHAR(50) NOT NULL,
					description VARCHAR(200),
					business_id TEXT NOT NULL REFERENCES businesses(id),
					admin_user_id TEXT NOT NULL REFERENCES users(id),
					member_count INT NOT NULL DEFAULT 0 CHECK (member_count >= 0),
					budget_count INT NOT NULL DEFAULT 0,
					total_expenses BIGINT NOT NULL DEFAULT 0,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_teams_business_id ON teams(business_id);
				CREATE INDEX IF NOT EXISTS idx_teams_admin_user_id ON teams(admin_user_id);
				CREATE UNIQUE INDEX IF NOT EXISTS idx_teams_business_active_name
					ON teams(business_id, name) WHERE is_active;
			`,
		},
		{
			Version:     4,
			Description: "Create roles table",
			SQL: `
				CREATE TABLE IF NOT EXISTS roles (
					id TEXT PRIMARY KEY,
					name VARCHAR(50) NOT NULL,
					description VARCHAR(200),
					team_id TEXT NOT NULL REFERENCES teams(id),
					permissions JSONB NOT NULL
						CHECK (jsonb_typeof(permissions) = 'array' AND jsonb_array_length(permissions) > 0),
					user_count INT NOT NULL DEFAULT 0 CHECK (user_count >= 0),
					is_default BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(team_id, name)
				);

				CREATE INDEX IF NOT EXISTS idx_roles_team_id ON roles(team_id);
			`,
		},
		{
			Version:     5,
			Description: "Create team_members table",
			SQL: `
				CREATE TABLE IF NOT EXISTS team_members (
					id TEXT PRIMARY KEY,
					team_id TEXT NOT NULL REFERENCES teams(id),
					user_id TEXT NOT NULL REFERENCES users(id),
					role_id TEXT REFERENCES roles(id) ON DELETE RESTRICT,
					joined_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE(team_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_team_members_user_id ON team_members(user_id);
				CREATE INDEX IF NOT EXISTS idx_team_members_role_id ON team_members(role_id);
			`,
		},
	}
}

// RunMigrations executes all pending migrations
func RunMigrations(ctx context.Context, db *sql.DB, logger *logrus.Logger) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS finoly_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM finoly_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	appliedVersions := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		appliedVersions[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if appliedVersions[migration.Version] {
			continue
		}

		log := logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		})
		log.Info("running migration")

		if err := applyMigration(ctx, db, migration); err != nil {
			return err
		}

		log.Info("migration completed")
	}

	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
	}

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO finoly_migrations (version, description) VALUES ($1, $2)",
		migration.Version, migration.Description,
	); err != nil {
		return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
	}
	return nil
}
