// Package validation checks uploaded bytes before they are admitted.
package validation

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/seilylook/Image-Filter-Resize-Service/internal/model"
)

// Format describes a supported image format.
type Format struct {
	Name      string // jpeg, png, gif, bmp, webp
	Extension string // used for the original object key
	MIME      string
}

// supported maps sniffed MIME types to formats.
var supported = map[string]Format{
	"image/jpeg": {Name: "jpeg", Extension: "jpg", MIME: "image/jpeg"},
	"image/png":  {Name: "png", Extension: "png", MIME: "image/png"},
	"image/gif":  {Name: "gif", Extension: "gif", MIME: "image/gif"},
	"image/bmp":  {Name: "bmp", Extension: "bmp", MIME: "image/bmp"},
	"image/webp": {Name: "webp", Extension: "webp", MIME: "image/webp"},
}

// Limits bounds accepted uploads. Values equal to a limit are accepted.
type Limits struct {
	MaxBytes  int64
	MaxPixels int64
}

// Result is what validation learned about an accepted upload.
type Result struct {
	Format Format
	Width  int
	Height int
}

// Validate rejects data that is too large, not a supported image format, or
// whose decoded dimensions exceed the pixel limit. Every rejection is a
// *model.ValidationError.
func Validate(data []byte, limits Limits) (Result, error) {
	if len(data) == 0 {
		return Result{}, &model.ValidationError{Reason: "empty file"}
	}

	if int64(len(data)) > limits.MaxBytes {
		return Result{}, &model.ValidationError{
			Reason: fmt.Sprintf("file too large: %d bytes (max %d)", len(data), limits.MaxBytes),
		}
	}

	format, ok := detect(data)
	if !ok {
		return Result{}, &model.ValidationError{Reason: "unsupported image format"}
	}

	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Result{}, &model.ValidationError{Reason: fmt.Sprintf("cannot decode %s image: %v", format.Name, err)}
	}
	if name != format.Name {
		return Result{}, &model.ValidationError{Reason: fmt.Sprintf("content is %s, sniffed as %s", name, format.Name)}
	}

	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > limits.MaxPixels {
		return Result{}, &model.ValidationError{
			Reason: fmt.Sprintf("resolution too high: %dx%d (max %d pixels)", cfg.Width, cfg.Height, limits.MaxPixels),
		}
	}

	return Result{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}

func detect(data []byte) (Format, bool) {
	mt := mimetype.Detect(data)
	for m := mt; m != nil; m = m.Parent() {
		if f, ok := supported[m.String()]; ok {
			return f, true
		}
	}

	return Format{}, false
}
