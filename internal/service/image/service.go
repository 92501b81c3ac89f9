package image

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/zlog"

	"github.com/seilylook/Image-Filter-Resize-Service/internal/config"
	"github.com/seilylook/Image-Filter-Resize-Service/internal/metrics"
	"github.com/seilylook/Image-Filter-Resize-Service/internal/model"
	"github.com/seilylook/Image-Filter-Resize-Service/internal/storage/file"
	"github.com/seilylook/Image-Filter-Resize-Service/internal/taskqueue"
	"github.com/seilylook/Image-Filter-Resize-Service/internal/validation"
)

const (
	DefaultPage  = 1
	DefaultLimit = 20
	MaxLimit     = 100
)

const defaultTaskTimeout = 5 * time.Second

// fileStorage defines the object store operations the service relies on.
type fileStorage interface {
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	List(ctx context.Context, bucket, prefix string) ([]file.ObjectInfo, error)
	Delete(ctx context.Context, bucket, key string) error
	Ping(ctx context.Context, bucket string) error
}

// imageRepo defines the document store operations the service relies on.
type imageRepo interface {
	Create(ctx context.Context, img model.Image) error
	Get(ctx context.Context, id string) (model.Image, error)
	MarkProcessing(ctx context.Context, id string, params model.ProcessingParams, version int64, requestedAt time.Time) error
	Search(ctx context.Context, offset, limit int) ([]model.Image, int, error)
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
}

// producer publishes processing messages keyed by image id.
type producer interface {
	Produce(ctx context.Context, key string, value any) error
}

// taskQueue runs fire-and-forget metadata writes.
type taskQueue interface {
	Submit(t taskqueue.Task) error
}

// Artifact is the content served for a download.
type Artifact struct {
	Data        []byte
	ContentType string
	Processed   bool // false when the original was served instead
}

// Service provides business logic for image operations: ingestion, dispatch
// of processing requests and retrieval of artifacts.
type Service struct {
	storage  fileStorage
	repo     imageRepo
	producer producer
	tasks    taskQueue
	metrics  *metrics.Metrics

	originalBucket  string
	processedBucket string
	limits          validation.Limits
	taskTimeout     time.Duration

	clock *versionClock
	now   func() time.Time
}

// NewService creates a new Service.
func NewService(
	fs fileStorage,
	r imageRepo,
	p producer,
	q taskQueue,
	storageCfg config.Storage,
	uploadCfg config.Upload,
	bgCfg config.Background,
	m *metrics.Metrics,
) *Service {
	now := time.Now

	timeout := bgCfg.TaskTimeout
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}

	return &Service{
		storage:         fs,
		repo:            r,
		producer:        p,
		tasks:           q,
		metrics:         m,
		originalBucket:  storageCfg.OriginalBucket,
		processedBucket: storageCfg.ProcessedBucket,
		limits: validation.Limits{
			MaxBytes:  uploadCfg.MaxBytes,
			MaxPixels: uploadCfg.MaxPixels,
		},
		taskTimeout: timeout,
		clock: newVersionClock(now),
		now:   now,
	}
}

// Ingest validates an upload, stores the original and schedules creation of
// its record. The record write is best-effort: its failure is logged and
// does not fail the upload.
func (s *Service) Ingest(ctx context.Context, data []byte, filename, contentType string) (model.Image, error) {
	res, err := validation.Validate(data, s.limits)
	if err != nil {
		s.metrics.Upload("rejected")
		return model.Image{}, err
	}

	if contentType != "" && !strings.EqualFold(contentType, res.Format.MIME) {
		zlog.Logger.Debug().
			Str("declared", contentType).
			Str("detected", res.Format.MIME).
			Msg("declared content type differs from detected one")
	}

	id := uuid.NewString()
	img := model.Image{
		ID:               id,
		Filename:         filename,
		ContentType:      res.Format.MIME,
		Size:             int64(len(data)),
		ObjectName:       id + "." + res.Format.Extension,
		UploadTime:       s.now().UTC(),
		Status:           model.StatusUploaded,
		ProcessedObjects: []string{},
	}

	if err := s.storage.Put(ctx, s.originalBucket, img.ObjectName, data, img.ContentType); err != nil {
		s.metrics.Upload("error")
		return model.Image{}, fmt.Errorf("upload: %w: %w", model.ErrStoreUnavailable, err)
	}

	s.background("create_record", id, func(ctx context.Context) error {
		return s.repo.Create(ctx, img)
	})

	s.metrics.Upload("accepted")
	zlog.Logger.Info().
		Str("image_id", id).
		Str("filename", filename).
		Int("width", res.Width).
		Int("height", res.Height).
		Msg("image uploaded")

	return img, nil
}

// Dispatch publishes a processing request for an existing image and then
// schedules the processing status write. Nothing is written when publishing
// fails.
func (s *Service) Dispatch(ctx context.Context, id string, params model.ProcessingParams) (bool, error) {
	if err := s.validateParams(params); err != nil {
		return false, err
	}

	img, err := s.repo.Get(ctx, id)
	if err != nil {
		return false, s.lookupError("dispatch", err)
	}

	requestedAt := s.now().UTC()
	msg := model.ProcessingMessage{
		ImageID:     img.ID,
		Bucket:      s.originalBucket,
		ObjectName:  img.ObjectName,
		Params:      params,
		Version:     s.clock.Next(),
		RequestedAt: requestedAt,
	}

	if err := s.producer.Produce(ctx, img.ID, msg); err != nil {
		s.metrics.Dispatch("failed")
		return false, fmt.Errorf("dispatch %s: %w: %w", id, model.ErrDispatchFailed, err)
	}

	s.background("mark_processing", id, func(ctx context.Context) error {
		err := s.repo.MarkProcessing(ctx, id, params, msg.Version, requestedAt)
		if errors.Is(err, model.ErrStaleWrite) {
			// The worker already finished this or a newer request.
			zlog.Logger.Info().Str("image_id", id).Int64("version", msg.Version).Msg("processing status superseded")
			return nil
		}
		return err
	})

	s.metrics.Dispatch("accepted")
	zlog.Logger.Info().
		Str("image_id", id).
		Int64("version", msg.Version).
		Msg("processing request dispatched")

	return true, nil
}

// Resolve returns the processed artifact for params, or the original when it
// has not been produced.
func (s *Service) Resolve(ctx context.Context, id string, params model.ProcessingParams) (Artifact, error) {
	if err := params.Validate(); err != nil {
		return Artifact{}, err
	}

	img, err := s.repo.Get(ctx, id)
	if err != nil {
		return Artifact{}, s.lookupError("resolve", err)
	}

	key := model.ProcessedObjectName(id, params)
	data, err := s.storage.Get(ctx, s.processedBucket, key)
	if err == nil {
		return Artifact{Data: data, ContentType: mimetype.Detect(data).String(), Processed: true}, nil
	}
	if !errors.Is(err, model.ErrNotFound) {
		zlog.Logger.Warn().Err(err).Str("image_id", id).Str("object", key).Msg("failed to read processed image, serving original")
	}

	data, err = s.storage.Get(ctx, s.originalBucket, img.ObjectName)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return Artifact{}, fmt.Errorf("resolve %s: %w", id, err)
		}
		return Artifact{}, fmt.Errorf("resolve %s: %w: %w", id, model.ErrStoreUnavailable, err)
	}

	return Artifact{Data: data, ContentType: img.ContentType}, nil
}

// GetImage returns the record for id.
func (s *Service) GetImage(ctx context.Context, id string) (model.Image, error) {
	img, err := s.repo.Get(ctx, id)
	if err != nil {
		return model.Image{}, s.lookupError("get", err)
	}

	return img, nil
}

// ListImages returns one page of records, newest first.
func (s *Service) ListImages(ctx context.Context, page, limit int) (model.ImagePage, error) {
	if page < 1 {
		return model.ImagePage{}, &model.ValidationError{Reason: "page must be at least 1"}
	}
	if limit < 1 || limit > MaxLimit {
		return model.ImagePage{}, &model.ValidationError{Reason: fmt.Sprintf("limit must be between 1 and %d", MaxLimit)}
	}

	images, total, err := s.repo.Search(ctx, (page-1)*limit, limit)
	if err != nil {
		return model.ImagePage{}, fmt.Errorf("list: %w: %w", model.ErrStoreUnavailable, err)
	}

	return model.ImagePage{Total: total, Page: page, Limit: limit, Images: images}, nil
}

// DeleteImage removes the original, every processed artifact and the record.
func (s *Service) DeleteImage(ctx context.Context, id string) error {
	img, err := s.repo.Get(ctx, id)
	if err != nil {
		return s.lookupError("delete", err)
	}

	if err := s.storage.Delete(ctx, s.originalBucket, img.ObjectName); err != nil {
		return fmt.Errorf("delete: %w: %w", model.ErrStoreUnavailable, err)
	}

	objects, err := s.storage.List(ctx, s.processedBucket, id+"/")
	if err != nil {
		return fmt.Errorf("delete: %w: %w", model.ErrStoreUnavailable, err)
	}
	for _, obj := range objects {
		if err := s.storage.Delete(ctx, s.processedBucket, obj.Key); err != nil {
			return fmt.Errorf("delete: %w: %w", model.ErrStoreUnavailable, err)
		}
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return s.lookupError("delete", err)
	}

	zlog.Logger.Info().Str("image_id", id).Int("artifacts", len(objects)).Msg("image deleted")

	return nil
}

// Health reports the state of each dependency.
func (s *Service) Health(ctx context.Context) map[string]string {
	status := map[string]string{"database": "up", "storage": "up"}

	if err := s.repo.Ping(ctx); err != nil {
		status["database"] = "down"
	}
	if err := s.storage.Ping(ctx, s.originalBucket); err != nil {
		status["storage"] = "down"
	}

	return status
}

// background hands run to the task queue, running it inline when the queue
// refuses it.
func (s *Service) background(name, id string, run func(ctx context.Context) error) {
	task := taskqueue.Task{Name: name, ImageID: id, Run: run}

	err := s.tasks.Submit(task)
	if err == nil {
		return
	}

	zlog.Logger.Warn().Err(err).Str("task", name).Str("image_id", id).Msg("background queue unavailable, writing inline")

	// Detached from the request so a client disconnect does not cancel it.
	ctx, cancel := context.WithTimeout(context.Background(), s.taskTimeout)
	defer cancel()

	if err := run(ctx); err != nil {
		zlog.Logger.Error().Err(err).Str("task", name).Str("image_id", id).Msg("background task failed")
	}
}

// validateParams also bounds the output area by the upload pixel limit when
// both axes are given.
func (s *Service) validateParams(p model.ProcessingParams) error {
	if err := p.Validate(); err != nil {
		return err
	}

	if p.Width > 0 && p.Height > 0 && s.limits.MaxPixels > 0 && int64(p.Width)*int64(p.Height) > s.limits.MaxPixels {
		return &model.ValidationError{
			Reason: fmt.Sprintf("output %dx%d exceeds %d pixels", p.Width, p.Height, s.limits.MaxPixels),
		}
	}

	return nil
}

func (s *Service) lookupError(op string, err error) error {
	if errors.Is(err, model.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, err)
	}

	return fmt.Errorf("%s: %w: %w", op, model.ErrStoreUnavailable, err)
}
