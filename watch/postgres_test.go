//go:build integration

package watch_test

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/erlorenz/memvault/watch"
)

func startPostgres(t *testing.T, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "memvault",
				"POSTGRES_PASSWORD": "memvault",
				"POSTGRES_DB":       "memvault",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, fmt.Sprintf("postgres://memvault:memvault@%s:%s/memvault?sslmode=disable", host, port.Port()))
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return pool
}

func TestIntegration_Postgres(t *testing.T) {
	pool := startPostgres(t, context.Background())
	logger := slog.New(slog.DiscardHandler)

	n := 0
	testBus(t, func() watch.Bus {
		// A channel per subtest keeps events from leaking between cases.
		n++
		return watch.NewPostgres(pool,
			watch.WithChannel(fmt.Sprintf("memvault_events_%d", n)),
			watch.WithLogger(logger),
		)
	})
}
