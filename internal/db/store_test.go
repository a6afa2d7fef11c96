package db_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/mtr002/docjobs/internal/db"
	"github.com/mtr002/docjobs/internal/interfaces"
	"github.com/mtr002/docjobs/internal/interfaces/storetest"
)

func TestStoreContract(t *testing.T) {
	if testing.Short() {
		t.Skip("skipped in short mode, needs docker")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctr, err := postgres.Run(t.Context(), "postgres:16-alpine",
		postgres.WithDatabase("docjobs"),
		postgres.WithUsername("docjobs"),
		postgres.WithPassword("docjobs"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(t.Context(), "sslmode=disable")
	require.NoError(t, err)

	database, err := db.Connect(db.Config{URL: dsn})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	storetest.Run(t, func(t *testing.T) interfaces.Store {
		s := db.NewStore(database)
		require.NoError(t, s.Init(t.Context()))
		require.NoError(t, s.Clear(t.Context()))
		return nonClosing{s}
	})
}

// nonClosing keeps the shared pool open across subtests.
type nonClosing struct {
	*db.Store
}

func (nonClosing) Close() error { return nil }

func TestConfigDSN(t *testing.T) {
	cfg := db.Config{Host: "h", Port: "5433", User: "u", Password: "p", DBName: "d", SSLMode: "disable"}
	require.Equal(t, "host=h port=5433 user=u password=p dbname=d sslmode=disable", cfg.DSN())

	cfg.URL = "postgres://u:p@h/d"
	require.Equal(t, "postgres://u:p@h/d", cfg.DSN())
}
