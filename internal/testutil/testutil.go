package testutil

import (
	"context"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/familyportal/devicelink/internal/database"
)

// RedisClient connects to TEST_REDIS_URL (default DB 15 on localhost) and
// flushes it. The test is skipped when no server answers.
func RedisClient(t *testing.T) *redis.Client {
	t.Helper()

	redisURL := os.Getenv("TEST_REDIS_URL")
	if redisURL == "" {
		redisURL = "redis://localhost:6379/15"
	}

	opts, err := redis.ParseURL(redisURL)
	require.NoError(t, err)

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("redis not available at %s: %v", redisURL, err)
	}

	require.NoError(t, client.FlushDB(context.Background()).Err())
	t.Cleanup(func() { client.Close() })

	return client
}

// StartPostgres runs postgres in a container, applies migrations and returns
// a connected DB. The test is skipped when docker is not available.
func StartPostgres(t *testing.T) *database.DB {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres container in short mode")
	}
	if out, err := exec.Command("docker", "info", "--format", "{{.ServerVersion}}").CombinedOutput(); err != nil {
		t.Skipf("docker not available: %s", out)
	}

	container, err := postgres.Run(t.Context(),
		"postgres:17-alpine",
		postgres.WithDatabase("devicelink-test"),
		postgres.WithUsername("devicelink"),
		postgres.WithPassword("pwd"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err, "start postgres container")

	dsn, err := container.ConnectionString(t.Context(), "sslmode=disable")
	require.NoError(t, err)
	t.Logf("postgres container started, DSN=%v", dsn)

	db, err := database.ConnectAndMigrate(dsn)
	require.NoError(t, err, "connect and migrate")
	t.Cleanup(func() { db.Close() })

	return db
}
