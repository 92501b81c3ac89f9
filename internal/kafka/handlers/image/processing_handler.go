package image

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/zlog"

	"github.com/seilylook/Image-Filter-Resize-Service/internal/metrics"
	"github.com/seilylook/Image-Filter-Resize-Service/internal/model"
)

type objectStore interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
}

type recordStore interface {
	MarkCompleted(ctx context.Context, id, object string, version int64, completedAt time.Time) error
	MarkFailed(ctx context.Context, id, reason string, version int64, failedAt time.Time) error
}

type transformer interface {
	Transform(data []byte, params model.ProcessingParams) ([]byte, error)
	Supports(filter string) bool
}

type publisher interface {
	Produce(ctx context.Context, key string, value any) error
}

// ProcessingHandler handles one processing message: it loads the source,
// transforms it, stores the artifact under its deterministic key and marks
// the record completed. Any error leaves the message uncommitted.
type ProcessingHandler struct {
	storage         objectStore
	repo            recordStore
	processor       transformer
	results         publisher
	processedBucket string
	metrics         *metrics.Metrics
}

// NewProcessingHandler creates a new ProcessingHandler. results may be nil.
func NewProcessingHandler(
	s objectStore,
	r recordStore,
	p transformer,
	results publisher,
	processedBucket string,
	m *metrics.Metrics,
) *ProcessingHandler {
	return &ProcessingHandler{
		storage:         s,
		repo:            r,
		processor:       p,
		results:         results,
		processedBucket: processedBucket,
		metrics:         m,
	}
}

// Handle processes msg. A nil return means the offset may be committed.
func (h *ProcessingHandler) Handle(ctx context.Context, msg kafka.Message) error {
	pm, err := decode(msg)
	if err != nil {
		return err
	}

	start := time.Now()

	src, err := h.storage.Get(ctx, pm.Bucket, pm.ObjectName)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			err = fmt.Errorf("%w: source %s/%s: %w", model.ErrTransformFailed, pm.Bucket, pm.ObjectName, err)
		} else {
			err = fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
		}
		return h.fail(ctx, pm, err)
	}

	if pm.Params.Filter != "" && !h.processor.Supports(pm.Params.Filter) {
		zlog.Logger.Info().
			Str("image_id", pm.ImageID).
			Str("filter", pm.Params.Filter).
			Msg("unknown filter, passing image through")
	}

	transformStart := time.Now()
	out, err := h.processor.Transform(src, pm.Params)
	if err != nil {
		if model.IsValidation(err) {
			// No retry can succeed; Abandon records the failure.
			return fmt.Errorf("%w: %w", model.ErrMalformedMessage, err)
		}
		return h.fail(ctx, pm, fmt.Errorf("%w: %w", model.ErrTransformFailed, err))
	}
	h.metrics.ObserveTransform(h.filterLabel(pm.Params.Filter), time.Since(transformStart))

	key := model.ProcessedObjectName(pm.ImageID, pm.Params)
	if err := h.storage.Put(ctx, h.processedBucket, key, out, mimetype.Detect(out).String()); err != nil {
		return h.fail(ctx, pm, fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err))
	}

	err = h.repo.MarkCompleted(ctx, pm.ImageID, key, pm.Version, time.Now().UTC())
	switch {
	case err == nil:
	case errors.Is(err, model.ErrStaleWrite):
		// A newer request owns the status; the artifact is recorded anyway.
		h.metrics.Message(metrics.OutcomeStale)
		zlog.Logger.Info().
			Str("image_id", pm.ImageID).
			Int64("version", pm.Version).
			Msg("completed status superseded by a newer request")
		return nil
	case errors.Is(err, model.ErrNotFound):
		h.metrics.Message(metrics.OutcomeStale)
		zlog.Logger.Warn().
			Str("image_id", pm.ImageID).
			Msg("record is gone, artifact kept without metadata")
		return nil
	default:
		// The next delivery overwrites the same artifact and retries the update.
		return fmt.Errorf("%w: %w", model.ErrStoreUnavailable, err)
	}

	h.metrics.Message(metrics.OutcomeCompleted)
	h.publish(ctx, model.ProcessingResult{
		ImageID:         pm.ImageID,
		OriginalBucket:  pm.Bucket,
		OriginalObject:  pm.ObjectName,
		ProcessedBucket: h.processedBucket,
		ProcessedObject: key,
		ProcessingTime:  time.Since(start).Seconds(),
		Params:          pm.Params,
		Status:          model.StatusCompleted,
	})

	zlog.Logger.Info().
		Str("image_id", pm.ImageID).
		Str("object", key).
		Msg("image processed")

	return nil
}

// Abandon marks the record failed once its message has been dead-lettered.
func (h *ProcessingHandler) Abandon(ctx context.Context, msg kafka.Message, cause error) {
	pm, err := decode(msg)
	if err != nil {
		return
	}

	h.markFailed(ctx, pm, cause)

	reason := cause.Error()
	h.publish(ctx, model.ProcessingResult{
		ImageID:         pm.ImageID,
		OriginalBucket:  pm.Bucket,
		OriginalObject:  pm.ObjectName,
		ProcessedBucket: h.processedBucket,
		Params:          pm.Params,
		Status:          model.StatusFailed,
		Error:           &reason,
	})
}

// fail records cause on the image and returns it so the message is retried.
func (h *ProcessingHandler) fail(ctx context.Context, pm model.ProcessingMessage, cause error) error {
	h.markFailed(ctx, pm, cause)
	return fmt.Errorf("process image %s: %w", pm.ImageID, cause)
}

func (h *ProcessingHandler) markFailed(ctx context.Context, pm model.ProcessingMessage, cause error) {
	err := h.repo.MarkFailed(ctx, pm.ImageID, cause.Error(), pm.Version, time.Now().UTC())
	if err != nil && !errors.Is(err, model.ErrStaleWrite) {
		zlog.Logger.Warn().
			Err(err).
			Str("image_id", pm.ImageID).
			Msg("failed to mark image failed")
	}
}

func (h *ProcessingHandler) publish(ctx context.Context, res model.ProcessingResult) {
	if h.results == nil {
		return
	}

	if err := h.results.Produce(ctx, res.ImageID, res); err != nil {
		zlog.Logger.Warn().
			Err(err).
			Str("image_id", res.ImageID).
			Msg("failed to publish processing result")
	}
}

// filterLabel bounds metric label cardinality to the known filters.
func (h *ProcessingHandler) filterLabel(filter string) string {
	if filter == "" || h.processor.Supports(filter) {
		return filter
	}

	return "unknown"
}

func decode(msg kafka.Message) (model.ProcessingMessage, error) {
	var pm model.ProcessingMessage
	if err := json.Unmarshal(msg.Value, &pm); err != nil {
		return pm, fmt.Errorf("%w: unmarshal: %w", model.ErrMalformedMessage, err)
	}

	if pm.ImageID == "" || pm.Bucket == "" || pm.ObjectName == "" {
		return pm, fmt.Errorf("%w: image_id, bucket and object_name are required", model.ErrMalformedMessage)
	}
	if err := pm.Params.Validate(); err != nil {
		return pm, fmt.Errorf("%w: %w", model.ErrMalformedMessage, err)
	}

	return pm, nil
}
