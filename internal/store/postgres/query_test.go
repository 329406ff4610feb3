package postgres

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/spreadbot/internal/domain"
)

func TestListQuery(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	until := since.Add(24 * time.Hour)

	tests := []struct {
		name     string
		opts     domain.ListOpts
		seed     []any
		wantSQL  string
		wantArgs int
	}{
		{
			name:    "no filters",
			wantSQL: "SELECT * FROM t WHERE TRUE ORDER BY created_at DESC",
		},
		{
			name:     "all filters after a seeded arg",
			opts:     domain.ListOpts{Since: &since, Until: &until, Limit: 10, Offset: 20},
			seed:     []any{"CLOSED"},
			wantSQL:  "SELECT * FROM t WHERE TRUE AND created_at >= $2 AND created_at <= $3 ORDER BY created_at DESC LIMIT $4 OFFSET $5",
			wantArgs: 5,
		},
		{
			name:     "limit only",
			opts:     domain.ListOpts{Limit: 5},
			wantSQL:  "SELECT * FROM t WHERE TRUE ORDER BY created_at DESC LIMIT $1",
			wantArgs: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, args := listQuery("SELECT * FROM t WHERE TRUE", "created_at", tt.opts, tt.seed)
			assert.Equal(t, tt.wantSQL, q)
			assert.Len(t, args, tt.wantArgs)
		})
	}
}

func TestDSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@db:5432/spread?sslmode=disable",
		DSN(ClientConfig{Host: "db", User: "u", Password: "p", Database: "spread"}))
	assert.Equal(t, "postgres://x", DSN(ClientConfig{DSN: "postgres://x", Host: "ignored"}))
}

func TestMigrationNames(t *testing.T) {
	names, err := migrationNames()
	assert.NoError(t, err)
	assert.Equal(t, []string{"001_init.sql", "002_execution_key_unique.sql"}, names)
}

func TestExecutionKeyUniqueIndex(t *testing.T) {
	body, err := migrationsFS.ReadFile("migrations/002_execution_key_unique.sql")
	require.NoError(t, err)
	sql := string(body)
	assert.Contains(t, sql, "CREATE UNIQUE INDEX IF NOT EXISTS uq_trade_executions_key_active")
	assert.Contains(t, sql, "ON trade_executions (idempotency_key)")
	assert.Contains(t, sql, "WHERE status <> 'REJECTED'")
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"unique", &pgconn.PgError{Code: "23505"}, true},
		{"wrapped unique", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), true},
		{"foreign key", &pgconn.PgError{Code: "23503"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isUniqueViolation(tt.err))
		})
	}
}

func TestLatencyMillis(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, fromMS(ms(1500*time.Millisecond)))
}
