//go:build integration
// +build integration

package delivery

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/wb-go/wbf/dbpg"

	"github.com/seilylook/Image-Filter-Resize-Service/internal/repository/migrations"
)

func TestIntegration_RecordAndForget(t *testing.T) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "postgres",
				"POSTGRES_DB":       "images",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		},
		Started: true,
	})
	require.NoError(t, err)
	defer container.Terminate(ctx)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	db, err := dbpg.New(fmt.Sprintf("postgres://postgres:postgres@%s:%s/images?sslmode=disable", host, port.Port()), nil, &dbpg.Options{})
	require.NoError(t, err)
	require.NoError(t, migrations.Up(db.Master))

	tracker := NewTracker(db)

	for want := 1; want <= 3; want++ {
		seen, err := tracker.Record(ctx, "requests", 0, 42)
		require.NoError(t, err)
		assert.Equal(t, want, seen)
	}

	seen, err := tracker.Record(ctx, "requests", 1, 42)
	require.NoError(t, err)
	assert.Equal(t, 1, seen, "partitions are tracked separately")

	require.NoError(t, tracker.Forget(ctx, "requests", 0, 42))
	seen, err = tracker.Record(ctx, "requests", 0, 42)
	require.NoError(t, err)
	assert.Equal(t, 1, seen)

	// A commit that failed for offset 50 leaves its row; committing 51 clears it.
	for i := 0; i < 2; i++ {
		_, err = tracker.Record(ctx, "requests", 0, 50)
		require.NoError(t, err)
	}
	_, err = tracker.Record(ctx, "requests", 0, 52)
	require.NoError(t, err)
	_, err = tracker.Record(ctx, "requests", 1, 10)
	require.NoError(t, err)

	require.NoError(t, tracker.Forget(ctx, "requests", 0, 51))

	seen, err = tracker.Record(ctx, "requests", 0, 50)
	require.NoError(t, err)
	assert.Equal(t, 1, seen, "earlier offsets are cleared")
	seen, err = tracker.Record(ctx, "requests", 0, 52)
	require.NoError(t, err)
	assert.Equal(t, 2, seen, "later offsets are kept")
	seen, err = tracker.Record(ctx, "requests", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, seen, "other partitions are kept")
}
