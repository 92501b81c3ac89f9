package validation

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"

	"github.com/seilylook/Image-Filter-Resize-Service/internal/model"
)

func newImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, newImage(w, h)))
	return buf.Bytes()
}

var wide = Limits{MaxBytes: 20 << 20, MaxPixels: 8000 * 8000}

func TestValidate_Formats(t *testing.T) {
	var jpg, gf, bm bytes.Buffer
	require.NoError(t, jpeg.Encode(&jpg, newImage(8, 6), nil))
	require.NoError(t, gif.Encode(&gf, newImage(8, 6), nil))
	require.NoError(t, bmp.Encode(&bm, newImage(8, 6)))

	tests := []struct {
		name string
		data []byte
		ext  string
	}{
		{"png", encodePNG(t, 8, 6), "png"},
		{"jpeg", jpg.Bytes(), "jpg"},
		{"gif", gf.Bytes(), "gif"},
		{"bmp", bm.Bytes(), "bmp"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Validate(tt.data, wide)
			require.NoError(t, err)
			assert.Equal(t, tt.ext, res.Format.Extension)
			assert.Equal(t, 8, res.Width)
			assert.Equal(t, 6, res.Height)
		})
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"text", []byte("definitely not an image")},
		{"truncated png", encodePNG(t, 8, 8)[:20]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(tt.data, wide)
			require.Error(t, err)
			assert.True(t, model.IsValidation(err))
		})
	}
}

func TestValidate_SizeBoundary(t *testing.T) {
	data := encodePNG(t, 4, 4)

	_, err := Validate(data, Limits{MaxBytes: int64(len(data)), MaxPixels: 100})
	require.NoError(t, err)

	_, err = Validate(data, Limits{MaxBytes: int64(len(data)) - 1, MaxPixels: 100})
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))
}

func TestValidate_ResolutionBoundary(t *testing.T) {
	data := encodePNG(t, 10, 10)

	_, err := Validate(data, Limits{MaxBytes: 1 << 20, MaxPixels: 100})
	require.NoError(t, err)

	_, err = Validate(data, Limits{MaxBytes: 1 << 20, MaxPixels: 99})
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))
	assert.Contains(t, err.Error(), "resolution")
}
