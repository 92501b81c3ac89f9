//go:build integration
// +build integration

package file

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/seilylook/Image-Filter-Resize-Service/internal/config"
)

func startMinIO(t *testing.T, ctx context.Context) config.Storage {
	t.Helper()

	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     "root-user",
			"MINIO_ROOT_PASSWORD": "root-password",
		},
		Cmd:        []string{"server", "/data"},
		WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	return config.Storage{
		Endpoint:        fmt.Sprintf("%s:%s", host, port.Port()),
		AccessKey:       "root-user",
		SecretKey:       "root-password",
		OriginalBucket:  "original-images",
		ProcessedBucket: "processed-images",
	}
}

func TestIntegration_PutGetListDelete(t *testing.T) {
	ctx := context.Background()
	cfg := startMinIO(t, ctx)

	s, err := NewStorage(ctx, cfg)
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, cfg.ProcessedBucket, "X/grayscale_100x100.jpg", []byte("first"), "image/jpeg"))
	require.NoError(t, s.Put(ctx, cfg.ProcessedBucket, "X/grayscale_100x100.jpg", []byte("second"), "image/jpeg"))
	require.NoError(t, s.Put(ctx, cfg.ProcessedBucket, "X/blur_origxorig.jpg", []byte("third"), "image/jpeg"))

	data, err := s.Get(ctx, cfg.ProcessedBucket, "X/grayscale_100x100.jpg")
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)

	objects, err := s.List(ctx, cfg.ProcessedBucket, "X/")
	require.NoError(t, err)
	assert.Len(t, objects, 2)

	require.NoError(t, s.Delete(ctx, cfg.ProcessedBucket, "X/blur_origxorig.jpg"))

	_, err = s.Get(ctx, cfg.ProcessedBucket, "X/blur_origxorig.jpg")
	assert.ErrorIs(t, err, ErrObjectNotFound)

	require.NoError(t, s.Ping(ctx, cfg.OriginalBucket))
}
