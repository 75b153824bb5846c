package usage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"toolgate/config"
	"toolgate/internal/storage"
)

// requireDocker skips container-backed tests in -short mode and when no
// docker daemon is reachable.
func requireDocker(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
}

// startPostgres runs a throwaway PostgreSQL and returns its URL.
func startPostgres(t *testing.T) string {
	t.Helper()
	requireDocker(t)
	ctx := context.Background()

	ctr, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("toolgate_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	url, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return url
}

// startMongo runs a throwaway MongoDB and returns its URL.
func startMongo(t *testing.T) string {
	t.Helper()
	requireDocker(t)
	ctx := context.Background()

	ctr, err := mongodb.Run(ctx, "mongo:7")
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	url, err := ctr.ConnectionString(ctx)
	require.NoError(t, err)
	return url
}

func openPostgres(t *testing.T, url string) storage.Storage {
	t.Helper()
	st, err := storage.NewPostgreSQL(context.Background(), config.PostgreSQLConfig{URL: url})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func openMongo(t *testing.T, url string) storage.Storage {
	t.Helper()
	st, err := storage.NewMongoDB(context.Background(), config.MongoDBConfig{URL: url, Database: "toolgate_test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}
