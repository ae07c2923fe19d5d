package testhelpers

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver for database/sql (migrations)
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/ekaya-inc/crm-reconciler/pkg/config"
	"github.com/ekaya-inc/crm-reconciler/pkg/database"
)

// PostgresImage is the PostgreSQL image integration tests run against.
const PostgresImage = "docker.io/postgres:17-alpine"

// TestDB holds a shared test database container and connection pool.
// The local identity provider schema (auth.users, auth.uid(), the
// authenticated role) is applied on setup.
type TestDB struct {
	Container *postgres.PostgresContainer
	DB        *database.DB
	ConnStr   string
}

var (
	sharedTestDB     *TestDB
	sharedTestDBOnce sync.Once
	sharedTestDBErr  error
)

// GetTestDB returns a shared PostgreSQL container for integration tests.
// The container is created once and reused across all tests in the run.
func GetTestDB(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedTestDBOnce.Do(func() {
		sharedTestDB, sharedTestDBErr = setupTestDB()
	})

	if sharedTestDBErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedTestDBErr)
	}

	return sharedTestDB
}

func setupTestDB() (*TestDB, error) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		PostgresImage,
		postgres.WithDatabase("crm_test"),
		postgres.WithUsername("crm"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	// Run identity migrations using database/sql (required by golang-migrate)
	sqlDB, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open sql connection: %w", err)
	}
	defer sqlDB.Close()

	if err := database.RunIdentityMigrations(sqlDB, zap.NewNop()); err != nil {
		return nil, fmt.Errorf("failed to run identity migrations: %w", err)
	}

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            connStr,
		MaxConnections: 10,
		AppRole:        DefaultIdentityConfig().AppRole,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to test database: %w", err)
	}

	return &TestDB{
		Container: container,
		DB:        db,
		ConnStr:   connStr,
	}, nil
}

// DefaultIdentityConfig matches the schema applied by the identity migrations.
func DefaultIdentityConfig() config.IdentityConfig {
	return config.IdentityConfig{
		Schema:         "auth",
		Table:          "users",
		UIDFunction:    "auth.uid()",
		AppRole:        "authenticated",
		InstallTrigger: true,
	}
}

// Reset drops every object the reconciler manages and removes all identities,
// so each test starts from an empty store.
func (db *TestDB) Reset(t *testing.T) {
	t.Helper()

	ctx := context.Background()
	statements := []string{
		`DROP TRIGGER IF EXISTS on_identity_created ON auth.users`,
		`DROP TABLE IF EXISTS public.leads CASCADE`,
		`DROP TABLE IF EXISTS public.user_roles CASCADE`,
		`DROP TABLE IF EXISTS public.role_admin_emails CASCADE`,
		`DROP FUNCTION IF EXISTS public.crm_handle_new_identity()`,
		`DROP FUNCTION IF EXISTS public.crm_is_admin(uuid)`,
		`DROP FUNCTION IF EXISTS public.crm_is_privileged_email(text)`,
		`DELETE FROM auth.users`,
	}
	for _, stmt := range statements {
		if _, err := db.DB.Exec(ctx, stmt); err != nil {
			t.Fatalf("failed to reset test database (%s): %v", stmt, err)
		}
	}
}

// CreateIdentity inserts an identity directly into auth.users and returns its id.
func (db *TestDB) CreateIdentity(t *testing.T, email string) string {
	t.Helper()

	var id string
	err := db.DB.QueryRow(context.Background(),
		`INSERT INTO auth.users (email) VALUES ($1) RETURNING id::text`, email).Scan(&id)
	if err != nil {
		t.Fatalf("failed to create identity %s: %v", email, err)
	}
	return id
}
