// Package testhelpers starts throwaway databases for integration tests.
package testhelpers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresImage is the image used for PostgreSQL integration tests.
const PostgresImage = "postgres:16-alpine"

// TestDB holds a shared test database container.
type TestDB struct {
	Container testcontainers.Container
	// URL is a postgres:// URL accepted by both the pgx and lib/pq drivers
	URL      string
	Username string
	Password string
}

var (
	sharedPostgres     *TestDB
	sharedPostgresOnce sync.Once
	sharedPostgresErr  error
)

// GetPostgres returns a shared PostgreSQL container for integration tests.
// The container is created once and reused across all tests in the run.
func GetPostgres(t *testing.T) *TestDB {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping integration test in short mode (requires Docker)")
	}

	sharedPostgresOnce.Do(func() {
		sharedPostgres, sharedPostgresErr = setupPostgres()
	})

	if sharedPostgresErr != nil {
		t.Fatalf("Failed to setup test database: %v", sharedPostgresErr)
	}

	return sharedPostgres
}

func setupPostgres() (*TestDB, error) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        PostgresImage,
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_DB":       "dbutil_test",
			"POSTGRES_USER":     "dbutil",
			"POSTGRES_PASSWORD": "test_password",
		},
		// the server restarts once after initdb
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start test container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}

	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		return nil, fmt.Errorf("failed to get container port: %w", err)
	}

	return &TestDB{
		Container: container,
		URL:       fmt.Sprintf("postgres://%s:%s/dbutil_test?sslmode=disable", host, port.Port()),
		Username:  "dbutil",
		Password:  "test_password",
	}, nil
}
