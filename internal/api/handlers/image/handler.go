package image

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/seilylook/Image-Filter-Resize-Service/internal/api/respond"
	"github.com/seilylook/Image-Filter-Resize-Service/internal/model"
	imagesvc "github.com/seilylook/Image-Filter-Resize-Service/internal/service/image"
)

// multipartOverhead is the body allowance on top of maxBytes for multipart
// boundaries, headers and other form fields.
const multipartOverhead = 1 << 20

// service defines the interface for image-related operations.
type service interface {
	Ingest(ctx context.Context, data []byte, filename, contentType string) (model.Image, error)
	Dispatch(ctx context.Context, id string, params model.ProcessingParams) (bool, error)
	Resolve(ctx context.Context, id string, params model.ProcessingParams) (imagesvc.Artifact, error)
	GetImage(ctx context.Context, id string) (model.Image, error)
	ListImages(ctx context.Context, page, limit int) (model.ImagePage, error)
	DeleteImage(ctx context.Context, id string) error
	Health(ctx context.Context) map[string]string
}

// Handler provides HTTP handlers for image-related endpoints.
// It depends on a service interface to perform the business logic.
type Handler struct {
	service  service
	maxBytes int64
}

// NewHandler creates a new Handler. Uploads larger than maxBytes are
// rejected by the service; the handler reads at most one byte more.
func NewHandler(s service, maxBytes int64) *Handler {
	return &Handler{service: s, maxBytes: maxBytes}
}

// UploadResponse is returned for an accepted upload.
type UploadResponse struct {
	ImageID     string       `json:"image_id"`
	Filename    string       `json:"filename"`
	Size        int64        `json:"size"`
	ContentType string       `json:"content_type"`
	Status      model.Status `json:"status"`
}

// ResizeRequest holds the requested dimensions. Zero keeps the source size.
type ResizeRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ProcessRequest is the body of a processing request.
type ProcessRequest struct {
	ImageID string         `json:"image_id"`
	Resize  *ResizeRequest `json:"resize"`
	Filter  string         `json:"filter"`
}

// ProcessResponse acknowledges a dispatched request.
type ProcessResponse struct {
	ImageID string       `json:"image_id"`
	Status  model.Status `json:"status"`
}

// HealthResponse reports dependency state.
type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// Upload handles the HTTP request for uploading an image.
// It reads the multipart "file" field, stores the original via the service
// and responds with the new image id.
func (h *Handler) Upload(c *ginext.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBytes+multipartOverhead)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respond.Fail(c, http.StatusRequestEntityTooLarge, fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit))
			return
		}
		zlog.Logger.Err(err).Msg("failed to retrieve the file")
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("file field is required"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxBytes+1))
	if err != nil {
		zlog.Logger.Err(err).Msg("failed to read the file")
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("failed to read the file"))
		return
	}

	img, err := h.service.Ingest(c.Request.Context(), data, header.Filename, header.Header.Get("Content-Type"))
	if err != nil {
		h.fail(c, "upload", err)
		return
	}

	respond.OK(c, UploadResponse{
		ImageID:     img.ID,
		Filename:    img.Filename,
		Size:        img.Size,
		ContentType: img.ContentType,
		Status:      img.Status,
	})
}

// Process dispatches a transform request and answers 202 Accepted.
func (h *Handler) Process(c *ginext.Context) {
	var req ProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid request body: %v", err))
		return
	}

	id, err := uuid.Parse(req.ImageID)
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid image_id: %v", err))
		return
	}

	params := model.ProcessingParams{Filter: req.Filter}
	if req.Resize != nil {
		params.Width = req.Resize.Width
		params.Height = req.Resize.Height
	}

	if _, err := h.service.Dispatch(c.Request.Context(), id.String(), params); err != nil {
		h.fail(c, "process", err)
		return
	}

	respond.Accepted(c, ProcessResponse{ImageID: id.String(), Status: model.StatusProcessing})
}

// GetMeta returns the image record without serving the file itself.
func (h *Handler) GetMeta(c *ginext.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	img, err := h.service.GetImage(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "get", err)
		return
	}

	respond.OK(c, img)
}

// Download serves the artifact for the width, height and filter_type query
// parameters, or the original when it has not been produced.
func (h *Handler) Download(c *ginext.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	width, err := optionalInt(c.Query("width"))
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid width: %v", err))
		return
	}
	height, err := optionalInt(c.Query("height"))
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid height: %v", err))
		return
	}

	params := model.ProcessingParams{Width: width, Height: height, Filter: c.Query("filter_type")}

	artifact, err := h.service.Resolve(c.Request.Context(), id, params)
	if err != nil {
		h.fail(c, "download", err)
		return
	}

	// Disable browser caching: the same URL serves the original until the
	// processed artifact exists.
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Header("Expires", "0")

	respond.Data(c, http.StatusOK, artifact.ContentType, artifact.Data)
}

// List returns one page of records, newest first.
func (h *Handler) List(c *ginext.Context) {
	page, err := intOrDefault(c.Query("page"), imagesvc.DefaultPage)
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid page: %v", err))
		return
	}
	limit, err := intOrDefault(c.Query("limit"), imagesvc.DefaultLimit)
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid limit: %v", err))
		return
	}

	result, err := h.service.ListImages(c.Request.Context(), page, limit)
	if err != nil {
		h.fail(c, "list", err)
		return
	}

	respond.OK(c, result)
}

// Delete removes an image by ID.
func (h *Handler) Delete(c *ginext.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.service.DeleteImage(c.Request.Context(), id); err != nil {
		h.fail(c, "delete", err)
		return
	}

	c.Status(http.StatusNoContent)
}

// Health reports whether the stores answer.
func (h *Handler) Health(c *ginext.Context) {
	services := h.service.Health(c.Request.Context())
	services["api"] = "up"

	status, code := "healthy", http.StatusOK
	for _, state := range services {
		if state != "up" {
			status, code = "degraded", http.StatusServiceUnavailable
			break
		}
	}

	respond.JSON(c, code, HealthResponse{Status: status, Services: services})
}

// fail maps service errors to HTTP statuses.
func (h *Handler) fail(c *ginext.Context, op string, err error) {
	switch {
	case model.IsValidation(err):
		zlog.Logger.Warn().Err(err).Str("op", op).Msg("rejected request")
		respond.Fail(c, http.StatusUnprocessableEntity, err)
	case errors.Is(err, model.ErrNotFound):
		respond.Fail(c, http.StatusNotFound, fmt.Errorf("image not found"))
	case errors.Is(err, model.ErrDispatchFailed):
		zlog.Logger.Err(err).Str("op", op).Msg("failed to dispatch")
		respond.Fail(c, http.StatusServiceUnavailable, fmt.Errorf("processing queue unavailable, retry later"))
	default:
		zlog.Logger.Err(err).Str("op", op).Msg("request failed")
		respond.Fail(c, http.StatusInternalServerError, fmt.Errorf("failed to %s image", op))
	}
}

func parseID(c *ginext.Context) (string, bool) {
	idStr := c.Param("id")

	id, err := uuid.Parse(idStr)
	if err != nil {
		respond.Fail(c, http.StatusBadRequest, fmt.Errorf("invalid id: %v", err))
		return "", false
	}

	return id.String(), true
}

func optionalInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}

	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, fmt.Errorf("must not be negative")
	}

	return v, nil
}

func intOrDefault(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}

	return strconv.Atoi(s)
}
