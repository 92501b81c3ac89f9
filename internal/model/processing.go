package model

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// MaxDimension bounds each requested axis.
const MaxDimension = 10000

var filterPattern = regexp.MustCompile(`^[a-z0-9_-]{1,32}$`)

const (
	// originalFilter names artifacts that carry no filter.
	originalFilter = "original"
	// origDimension renders an absent dimension in artifact keys.
	origDimension = "orig"
)

// ProcessingParams describes one transform request. Zero values mean the
// corresponding axis or filter is left untouched.
type ProcessingParams struct {
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Filter string `json:"filter,omitempty"`
}

// Resizes reports whether at least one dimension is requested.
func (p ProcessingParams) Resizes() bool {
	return p.Width > 0 || p.Height > 0
}

// Validate rejects negative or oversized dimensions and filter names that
// are not safe to embed in object keys and metric labels.
func (p ProcessingParams) Validate() error {
	if p.Width < 0 || p.Height < 0 {
		return &ValidationError{Reason: fmt.Sprintf("dimensions must not be negative: %dx%d", p.Width, p.Height)}
	}

	if p.Width > MaxDimension || p.Height > MaxDimension {
		return &ValidationError{Reason: fmt.Sprintf("dimensions exceed %d: %dx%d", MaxDimension, p.Width, p.Height)}
	}

	if p.Filter != "" && !filterPattern.MatchString(p.Filter) {
		return &ValidationError{Reason: fmt.Sprintf("invalid filter name %q", p.Filter)}
	}

	return nil
}

// ProcessedObjectName returns the deterministic key of the artifact produced
// for imageID with params: {image_id}/{filter}_{width}x{height}.jpg.
// Identical inputs always map to the same key, so reprocessing overwrites.
func ProcessedObjectName(imageID string, p ProcessingParams) string {
	filter := p.Filter
	if filter == "" {
		filter = originalFilter
	}

	return fmt.Sprintf("%s/%s_%sx%s.jpg", imageID, filter, dimension(p.Width), dimension(p.Height))
}

func dimension(v int) string {
	if v <= 0 {
		return origDimension
	}

	return strconv.Itoa(v)
}

// ProcessingMessage is published to the requests topic, keyed by ImageID so
// every request for one image lands on the same partition.
type ProcessingMessage struct {
	ImageID     string           `json:"image_id"`
	Bucket      string           `json:"bucket"`
	ObjectName  string           `json:"object_name"`
	Params      ProcessingParams `json:"params"`
	Version     int64            `json:"version"`
	RequestedAt time.Time        `json:"requested_at"`
}

// ProcessingResult is published to the results topic after a message has
// been fully handled.
type ProcessingResult struct {
	ImageID         string           `json:"image_id"`
	OriginalBucket  string           `json:"original_bucket"`
	OriginalObject  string           `json:"original_object"`
	ProcessedBucket string           `json:"processed_bucket"`
	ProcessedObject string           `json:"processed_object"`
	ProcessingTime  float64          `json:"processing_time"` // seconds
	Params          ProcessingParams `json:"params"`
	Status          Status           `json:"status"`
	Error           *string          `json:"error,omitempty"`
}

// DeadLetter wraps a message that exhausted its deliveries.
type DeadLetter struct {
	Topic     string    `json:"topic"`
	Partition int       `json:"partition"`
	Offset    int64     `json:"offset"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Reason    string    `json:"reason"`
	Attempts  int       `json:"attempts"`
	FailedAt  time.Time `json:"failed_at"`
}
