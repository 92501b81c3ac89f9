package model

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessedObjectName(t *testing.T) {
	tests := []struct {
		name   string
		params ProcessingParams
		want   string
	}{
		{"resize and filter", ProcessingParams{Width: 100, Height: 100, Filter: "grayscale"}, "X/grayscale_100x100.jpg"},
		{"no filter", ProcessingParams{Width: 50, Height: 50}, "X/original_50x50.jpg"},
		{"width only", ProcessingParams{Width: 320, Filter: "blur"}, "X/blur_320xorig.jpg"},
		{"filter only", ProcessingParams{Filter: "sepia"}, "X/sepia_origxorig.jpg"},
		{"empty", ProcessingParams{}, "X/original_origxorig.jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ProcessedObjectName("X", tt.params))
		})
	}
}

func TestProcessedObjectName_Deterministic(t *testing.T) {
	p := ProcessingParams{Width: 640, Height: 480, Filter: "edge"}
	assert.Equal(t, ProcessedObjectName("img-1", p), ProcessedObjectName("img-1", p))
	assert.NotEqual(t, ProcessedObjectName("img-1", p), ProcessedObjectName("img-2", p))
}

func TestProcessingParams_Validate(t *testing.T) {
	require.NoError(t, ProcessingParams{Width: 10}.Validate())

	err := ProcessingParams{Width: -1, Height: 10}.Validate()
	require.Error(t, err)
	assert.True(t, IsValidation(err))
	assert.True(t, IsValidation(fmt.Errorf("wrapped: %w", err)))
}

func TestProcessingParams_ValidateBounds(t *testing.T) {
	require.NoError(t, ProcessingParams{Width: MaxDimension, Height: MaxDimension}.Validate())

	for _, p := range []ProcessingParams{
		{Width: MaxDimension + 1},
		{Height: MaxDimension + 1},
		{Width: 1 << 30, Height: 1 << 30},
	} {
		err := p.Validate()
		require.Error(t, err, "%+v", p)
		assert.True(t, IsValidation(err))
	}
}

func TestProcessingParams_ValidateFilter(t *testing.T) {
	for _, f := range []string{"", "blur", "edge", "my_filter-2"} {
		assert.NoError(t, ProcessingParams{Filter: f}.Validate(), f)
	}

	for _, f := range []string{
		"../../etc/passwd",
		"a/b",
		"Blur",
		"blur ",
		"ø",
		strings.Repeat("x", 33),
	} {
		err := ProcessingParams{Filter: f}.Validate()
		require.Error(t, err, f)
		assert.True(t, IsValidation(err), f)
	}
}

func TestProcessingParams_Resizes(t *testing.T) {
	assert.False(t, ProcessingParams{Filter: "blur"}.Resizes())
	assert.True(t, ProcessingParams{Height: 1}.Resizes())
}
