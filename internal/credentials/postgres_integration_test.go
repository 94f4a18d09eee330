//go:build integration

package credentials

import (
	"context"
	"testing"
	"time"

	"authgate/internal/database"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

func TestPostgresStore(t *testing.T) {
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("authgate"),
		postgres.WithUsername("authgate"),
		postgres.WithPassword("authgate"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	db, err := database.New(connectCtx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, database.Migrate(ctx, db))
	// Second run must be a no-op.
	require.NoError(t, database.Migrate(ctx, db))

	runStoreContract(t, func(t *testing.T, clock *fakeClock) Store {
		_, err := db.Exec(ctx, `TRUNCATE users, otp_challenges RESTART IDENTITY`)
		require.NoError(t, err)
		return NewPostgresStore(db).WithClock(clock.Now)
	})

	require.NoError(t, NewPostgresStore(db).Ping(ctx))
}
