package audit

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/finoly/finoly/pkg/contextkeys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

var auditColumns = []string{
	"id", "timestamp", "event_type", "status",
	"user_id", "business_id", "team_id",
	"resource_type", "resource_id",
	"request_id", "ip_address",
	"message", "error_message", "metadata", "changes",
}

func TestNewPostgresLogger(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_events").WillReturnResult(sqlmock.NewResult(0, 0))

		logger, err := NewPostgresLogger(context.Background(), db)
		require.NoError(t, err)
		assert.NotNil(t, logger)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil database", func(t *testing.T) {
		logger, err := NewPostgresLogger(context.Background(), nil)
		assert.Nil(t, logger)
		assert.EqualError(t, err, "database connection is required")
	})

	t.Run("table creation error", func(t *testing.T) {
		db, mock := setupMockDB(t)
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS audit_events").WillReturnError(errors.New("permission denied"))

		_, err := NewPostgresLogger(context.Background(), db)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to ensure audit_events table")
	})
}

func TestPostgresLogger_LogMutation(t *testing.T) {
	db, mock := setupMockDB(t)
	logger := &PostgresLogger{db: db}
	ctx := contextkeys.WithRequestID(context.Background(), "req-1")

	mock.ExpectQuery("INSERT INTO audit_events").
		WithArgs(sqlmock.AnyArg(), "role.delete", "success",
			"user_1", "biz_1", "team_1",
			"role", "role_9",
			"req-1", "",
			"role deleted", "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	err := logger.LogMutation(ctx, EventTypeRoleDelete,
		Actor{UserID: "user_1", BusinessID: "biz_1", TeamID: "team_1"},
		ResourceTypeRole, "role_9",
		&ChangeDetails{Before: map[string]interface{}{"name": "Viewer"}}, "role deleted")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLogger_LogSetsID(t *testing.T) {
	db, mock := setupMockDB(t)
	logger := &PostgresLogger{db: db}

	mock.ExpectQuery("INSERT INTO audit_events").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))

	event := &AuditEvent{Timestamp: time.Now(), EventType: EventTypeTeamCreate, Status: EventStatusSuccess}
	require.NoError(t, logger.Log(context.Background(), event))
	assert.Equal(t, int64(7), event.ID)
}

func TestPostgresLogger_LogDeniedError(t *testing.T) {
	db, mock := setupMockDB(t)
	logger := &PostgresLogger{db: db}

	mock.ExpectQuery("INSERT INTO audit_events").
		WithArgs(sqlmock.AnyArg(), "authz.access_denied", "denied",
			"user_2", "", "", "team", "team_1", "", "",
			"Access denied: TEAM_UPDATE_DENIED", "", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(errors.New("connection reset"))

	err := logger.LogDenied(context.Background(), Actor{UserID: "user_2"}, ResourceTypeTeam, "team_1", "TEAM_UPDATE_DENIED")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert audit event")
}

func TestPostgresLogger_Search(t *testing.T) {
	db, mock := setupMockDB(t)
	logger := &PostgresLogger{db: db}
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	at := since.Add(time.Hour)

	rows := sqlmock.NewRows(auditColumns).
		AddRow(int64(2), at, "business.update", "success", "user_1", "biz_1", "", "business", "biz_1", "req-2", "", "business updated", "",
			[]byte(`{"source":"api"}`), []byte(`{"before":{"name":"Acme"},"after":{"name":"Acme Holdings"}}`)).
		AddRow(int64(1), since, "team.create", "success", "user_1", "biz_1", "team_1", "team", "team_1", "req-1", "", "team created", "", nil, nil)

	mock.ExpectQuery(`FROM audit_events\s+WHERE 1=1\s+AND business_id = \$1 AND event_type = ANY\(\$2\) AND timestamp >= \$3 ORDER BY timestamp DESC, id DESC LIMIT \$4`).
		WithArgs("biz_1", sqlmock.AnyArg(), since, int64(20)).
		WillReturnRows(rows)

	events, err := logger.Search(context.Background(), SearchFilter{
		BusinessID: "biz_1",
		EventTypes: []EventType{EventTypeBusinessUpdate, EventTypeTeamCreate},
		StartTime:  &since,
		Limit:      20,
	})
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, int64(2), events[0].ID)
	assert.Equal(t, EventTypeBusinessUpdate, events[0].EventType)
	assert.Equal(t, "api", events[0].Metadata["source"])
	require.NotNil(t, events[0].Changes)
	assert.Equal(t, "Acme Holdings", events[0].Changes.After["name"])

	assert.Equal(t, "team_1", events[1].TeamID)
	assert.Nil(t, events[1].Changes)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresLogger_SearchError(t *testing.T) {
	db, mock := setupMockDB(t)
	logger := &PostgresLogger{db: db}

	mock.ExpectQuery("FROM audit_events").
		WithArgs("team_1", "denied", int64(5)).
		WillReturnError(errors.New("timeout"))

	_, err := logger.Search(context.Background(), SearchFilter{TeamID: "team_1", Status: EventStatusDenied, Offset: 5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to search audit events")
}
