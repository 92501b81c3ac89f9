package model

import "time"

// Status is the lifecycle state of an image record.
type Status string

const (
	StatusUploaded   Status = "uploaded"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Image is the metadata record stored in the document store, keyed by ID.
// ID is the join key across the object store, the document store and broker
// message keys.
type Image struct {
	ID                  string            `json:"image_id"`
	Filename            string            `json:"filename"`
	ContentType         string            `json:"content_type"`
	Size                int64             `json:"size"`
	ObjectName          string            `json:"object_name"` // original blob key
	UploadTime          time.Time         `json:"upload_time"`
	Status              Status            `json:"status"`
	ProcessingParams    *ProcessingParams `json:"processing_params"`
	ProcessingRequested *time.Time        `json:"processing_requested"`
	ProcessingCompleted *time.Time        `json:"processing_completed"`
	ProcessedObjects    []string          `json:"processed_objects"`
	Error               *string           `json:"error"`

	// Version of the last applied status transition. Writes carrying an older
	// version are rejected with ErrStaleWrite.
	Version int64 `json:"version"`
}

// ImagePage is one page of records sorted by upload time, newest first.
type ImagePage struct {
	Total  int     `json:"total"`
	Page   int     `json:"page"`
	Limit  int     `json:"limit"`
	Images []Image `json:"images"`
}
