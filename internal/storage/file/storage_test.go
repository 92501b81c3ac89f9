package file

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"

	"github.com/seilylook/Image-Filter-Resize-Service/internal/model"
)

func TestMapError(t *testing.T) {
	s := &Storage{}

	tests := []struct {
		name     string
		err      error
		notFound bool
	}{
		{"no such key", minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}, true},
		{"no such bucket", minio.ErrorResponse{Code: "NoSuchBucket"}, true},
		{"wrapped", fmt.Errorf("read: %w", minio.ErrorResponse{Code: "NoSuchKey"}), true},
		{"access denied", minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}, false},
		{"network", errors.New("connection refused"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.mapError("bucket", "key", tt.err)
			assert.Equal(t, tt.notFound, errors.Is(err, ErrObjectNotFound))
			assert.Equal(t, tt.notFound, errors.Is(err, model.ErrNotFound))
			assert.Contains(t, err.Error(), "bucket/key")
		})
	}
}
