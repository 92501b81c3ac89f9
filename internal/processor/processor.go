package processor

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/seilylook/Image-Filter-Resize-Service/internal/config"
	"github.com/seilylook/Image-Filter-Resize-Service/internal/model"
)

const (
	defaultJPEGQuality = 90
	defaultBlurSigma   = 5.0
	defaultWatermark   = "Watermark"
	defaultMaxPixels   = 8000 * 8000
)

// filterFunc applies a named filter to a decoded image.
type filterFunc func(image.Image) image.Image

// Processor is the transform engine. Transform is a pure function of its
// inputs, so a Processor is safe for concurrent use.
type Processor struct {
	quality   int
	maxPixels int64
	filters map[string]filterFunc
}

// New creates a new Processor tuned by cfg.
func New(cfg config.Processor) *Processor {
	quality := cfg.JPEGQuality
	if quality <= 0 || quality > 100 {
		quality = defaultJPEGQuality
	}
	sigma := cfg.BlurSigma
	if sigma <= 0 {
		sigma = defaultBlurSigma
	}
	text := cfg.WatermarkText
	if text == "" {
		text = defaultWatermark
	}

	maxPixels := cfg.MaxPixels
	if maxPixels <= 0 {
		maxPixels = defaultMaxPixels
	}

	p := &Processor{quality: quality, maxPixels: maxPixels}
	p.filters = map[string]filterFunc{
		"grayscale": func(img image.Image) image.Image { return imaging.Grayscale(img) },
		"blur":      func(img image.Image) image.Image { return imaging.Blur(img, sigma) },
		"sharpen":   func(img image.Image) image.Image { return imaging.Sharpen(img, 1.0) },
		"invert":    func(img image.Image) image.Image { return imaging.Invert(img) },
		"edge":      edge,
		"sepia":     sepia,
		"watermark": func(img image.Image) image.Image { return watermark(img, text) },
	}

	return p
}

// Supports reports whether filter is a known filter name.
func (p *Processor) Supports(filter string) bool {
	_, ok := p.filters[filter]
	return ok
}

// Transform resizes and filters data according to params and returns JPEG
// bytes. An absent dimension keeps the source size on that axis. Unknown
// filters are ignored; when nothing applies the input is returned unchanged.
// An output larger than the configured pixel limit is a validation error.
func (p *Processor) Transform(data []byte, params model.ProcessingParams) ([]byte, error) {
	filter, known := p.filters[params.Filter]
	if !params.Resizes() && !known {
		return data, nil
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	if params.Resizes() {
		width, height := params.Width, params.Height
		bounds := img.Bounds()
		if width <= 0 {
			width = bounds.Dx()
		}
		if height <= 0 {
			height = bounds.Dy()
		}
		if int64(width)*int64(height) > p.maxPixels {
			return nil, &model.ValidationError{
				Reason: fmt.Sprintf("output %dx%d exceeds %d pixels", width, height, p.maxPixels),
			}
		}
		img = imaging.Resize(img, width, height, imaging.Lanczos)
	}

	if known {
		img = filter(img)
	}

	buf := bytes.NewBuffer(nil)
	if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(p.quality)); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	return buf.Bytes(), nil
}

// edge highlights edges with a Laplacian kernel over the luminance.
func edge(img image.Image) image.Image {
	gray := imaging.Grayscale(img)
	return imaging.Convolve3x3(gray, [9]float64{
		-1, -1, -1,
		-1, 8, -1,
		-1, -1, -1,
	}, nil)
}

func sepia(img image.Image) image.Image {
	return imaging.AdjustFunc(img, func(c color.NRGBA) color.NRGBA {
		r, g, b := float64(c.R), float64(c.G), float64(c.B)
		return color.NRGBA{
			R: clamp(0.393*r + 0.769*g + 0.189*b),
			G: clamp(0.349*r + 0.686*g + 0.168*b),
			B: clamp(0.272*r + 0.534*g + 0.131*b),
			A: c.A,
		}
	})
}

func clamp(v float64) uint8 {
	if v > 255 {
		return 255
	}
	if v < 0 {
		return 0
	}
	return uint8(v + 0.5)
}

// watermark draws text in the bottom-right corner using the default font face.
func watermark(img image.Image, text string) image.Image {
	dc := gg.NewContextForImage(img)

	margin := 10.0
	x := float64(dc.Width()) - margin
	y := float64(dc.Height()) - margin

	// Shadow first so the text stays readable on light images.
	dc.SetColor(color.Black)
	dc.DrawStringAnchored(text, x+1, y+1, 1, 0)
	dc.SetColor(color.White)
	dc.DrawStringAnchored(text, x, y, 1, 0)

	return dc.Image()
}
