package processor

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seilylook/Image-Filter-Resize-Service/internal/config"
	"github.com/seilylook/Image-Filter-Resize-Service/internal/model"
)

func samplePNG(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.NRGBA{R: 200, G: uint8(x % 256), B: 40, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func decode(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := imaging.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func TestTransform_ResizeAndFilter(t *testing.T) {
	p := New(config.Processor{})
	src := samplePNG(t, 80, 60)

	out, err := p.Transform(src, model.ProcessingParams{Width: 40, Height: 30, Filter: "grayscale"})
	require.NoError(t, err)

	img := decode(t, out)
	assert.Equal(t, 40, img.Bounds().Dx())
	assert.Equal(t, 30, img.Bounds().Dy())

	r, g, b, _ := img.At(10, 10).RGBA()
	assert.InDelta(t, r, g, 0x600)
	assert.InDelta(t, g, b, 0x600)
}

func TestTransform_AbsentAxisKeepsSource(t *testing.T) {
	p := New(config.Processor{})

	out, err := p.Transform(samplePNG(t, 80, 60), model.ProcessingParams{Width: 20})
	require.NoError(t, err)

	img := decode(t, out)
	assert.Equal(t, 20, img.Bounds().Dx())
	assert.Equal(t, 60, img.Bounds().Dy())
}

func TestTransform_UnknownFilterPassesThrough(t *testing.T) {
	p := New(config.Processor{})
	src := samplePNG(t, 16, 16)

	out, err := p.Transform(src, model.ProcessingParams{Filter: "vaporwave"})
	require.NoError(t, err)
	assert.Equal(t, src, out)

	out, err = p.Transform(src, model.ProcessingParams{})
	require.NoError(t, err)
	assert.Equal(t, src, out)
}

func TestTransform_UnknownFilterStillResizes(t *testing.T) {
	p := New(config.Processor{})

	out, err := p.Transform(samplePNG(t, 16, 16), model.ProcessingParams{Width: 8, Height: 8, Filter: "vaporwave"})
	require.NoError(t, err)
	assert.Equal(t, 8, decode(t, out).Bounds().Dx())
}

func TestTransform_AllFilters(t *testing.T) {
	p := New(config.Processor{WatermarkText: "test"})
	src := samplePNG(t, 64, 48)

	for _, f := range []string{"grayscale", "blur", "sharpen", "invert", "edge", "sepia", "watermark"} {
		t.Run(f, func(t *testing.T) {
			assert.True(t, p.Supports(f))

			out, err := p.Transform(src, model.ProcessingParams{Filter: f})
			require.NoError(t, err)

			img := decode(t, out)
			assert.Equal(t, 64, img.Bounds().Dx())
			assert.Equal(t, 48, img.Bounds().Dy())
		})
	}
}

func TestTransform_Deterministic(t *testing.T) {
	p := New(config.Processor{})
	src := samplePNG(t, 32, 32)
	params := model.ProcessingParams{Width: 10, Height: 10, Filter: "sepia"}

	a, err := p.Transform(src, params)
	require.NoError(t, err)
	b, err := p.Transform(src, params)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestTransform_CorruptSource(t *testing.T) {
	p := New(config.Processor{})

	_, err := p.Transform([]byte("garbage"), model.ProcessingParams{Filter: "blur"})
	require.Error(t, err)
}

func TestTransform_OutputTooLarge(t *testing.T) {
	p := New(config.Processor{MaxPixels: 100 * 100})
	src := samplePNG(t, 16, 16)

	_, err := p.Transform(src, model.ProcessingParams{Width: 101, Height: 100})
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))

	// An absent axis takes the source size before the limit is checked.
	_, err = p.Transform(src, model.ProcessingParams{Width: 500})
	require.NoError(t, err)

	_, err = p.Transform(src, model.ProcessingParams{Width: 1 << 30, Height: 1 << 30})
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))
}

func TestTransform_DefaultPixelLimit(t *testing.T) {
	p := New(config.Processor{})

	_, err := p.Transform(samplePNG(t, 8, 8), model.ProcessingParams{Width: 9000, Height: 9000})
	require.Error(t, err)
	assert.True(t, model.IsValidation(err))
}
