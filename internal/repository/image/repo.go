package image

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/wb-go/wbf/dbpg"

	"github.com/seilylook/Image-Filter-Resize-Service/internal/model"
)

// ErrImageNotFound is returned when no record exists for an id.
var ErrImageNotFound = fmt.Errorf("image %w", model.ErrNotFound)

const selectColumns = `
	id, filename, content_type, size, object_name, upload_time, status,
	processing_params, processing_requested, processing_completed,
	processed_objects, error, version`

// Repository is the document store for image records.
// Status writes are guarded by the record version so late writes from an
// older request cannot overwrite newer state.
type Repository struct {
	db *dbpg.DB
}

// NewRepository creates a new Repository with the given DB connection.
func NewRepository(db *dbpg.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a new record. Creating an existing id is a no-op.
func (r *Repository) Create(ctx context.Context, img model.Image) error {
	query := `
		INSERT INTO images (id, filename, content_type, size, object_name, upload_time, status, processed_objects, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING
	`

	objects := img.ProcessedObjects
	if objects == nil {
		objects = []string{}
	}

	_, err := r.db.Master.ExecContext(
		ctx, query,
		img.ID, img.Filename, img.ContentType, img.Size, img.ObjectName, img.UploadTime.UTC(),
		string(img.Status), pq.Array(objects), img.Version,
	)
	if err != nil {
		return fmt.Errorf("create: failed to save image %s: %w", img.ID, err)
	}

	return nil
}

// Get retrieves a record by id.
func (r *Repository) Get(ctx context.Context, id string) (model.Image, error) {
	query := `SELECT ` + selectColumns + ` FROM images WHERE id = $1`

	img, err := scanImage(r.db.Master.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Image{}, ErrImageNotFound
		}

		return model.Image{}, fmt.Errorf("get: failed to get image %s: %w", id, err)
	}

	return img, nil
}

// MarkProcessing records a dispatched request. It applies only when version
// is newer than the stored one; otherwise model.ErrStaleWrite is returned.
func (r *Repository) MarkProcessing(ctx context.Context, id string, params model.ProcessingParams, version int64, requestedAt time.Time) error {
	query := `
		UPDATE images
		SET status = $2, processing_params = $3::jsonb, processing_requested = $4,
		    error = NULL, version = $5, updated_at = NOW()
		WHERE id = $1 AND version < $5
	`

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("mark processing: failed to marshal params: %w", err)
	}

	res, err := r.db.Master.ExecContext(ctx, query, id, string(model.StatusProcessing), string(paramsJSON), requestedAt.UTC(), version)
	if err != nil {
		return fmt.Errorf("mark processing: failed to update image %s: %w", id, err)
	}

	return r.checkApplied(ctx, id, res)
}

// MarkCompleted appends object to processed_objects (once) and, when version
// is not older than the stored one, sets status completed. A rejected status
// change still records the object and returns model.ErrStaleWrite.
func (r *Repository) MarkCompleted(ctx context.Context, id, object string, version int64, completedAt time.Time) error {
	query := `
		WITH prev AS (
			SELECT id, version FROM images WHERE id = $1 FOR UPDATE
		)
		UPDATE images i
		SET processed_objects = CASE
		        WHEN $2::text = ANY(i.processed_objects) THEN i.processed_objects
		        ELSE array_append(i.processed_objects, $2::text)
		    END,
		    status = CASE WHEN prev.version <= $3::bigint THEN $4 ELSE i.status END,
		    processing_completed = CASE WHEN prev.version <= $3::bigint THEN $5::timestamptz ELSE i.processing_completed END,
		    error = CASE WHEN prev.version <= $3::bigint THEN NULL ELSE i.error END,
		    version = GREATEST(prev.version, $3::bigint),
		    updated_at = NOW()
		FROM prev
		WHERE i.id = prev.id
		RETURNING prev.version <= $3::bigint
	`

	var applied bool
	err := r.db.Master.QueryRowContext(
		ctx, query, id, object, version, string(model.StatusCompleted), completedAt.UTC(),
	).Scan(&applied)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrImageNotFound
		}

		return fmt.Errorf("mark completed: failed to update image %s: %w", id, err)
	}

	if !applied {
		return model.ErrStaleWrite
	}

	return nil
}

// MarkFailed sets status failed with reason when version is not older than
// the stored one.
func (r *Repository) MarkFailed(ctx context.Context, id, reason string, version int64, failedAt time.Time) error {
	query := `
		UPDATE images
		SET status = $2, error = $3, processing_completed = $4, version = $5, updated_at = NOW()
		WHERE id = $1 AND version <= $5
	`

	res, err := r.db.Master.ExecContext(ctx, query, id, string(model.StatusFailed), reason, failedAt.UTC(), version)
	if err != nil {
		return fmt.Errorf("mark failed: failed to update image %s: %w", id, err)
	}

	return r.checkApplied(ctx, id, res)
}

// Search returns one page of records sorted by upload time, newest first,
// along with the total number of records.
func (r *Repository) Search(ctx context.Context, offset, limit int) ([]model.Image, int, error) {
	var total int
	if err := r.db.Master.QueryRowContext(ctx, `SELECT COUNT(*) FROM images`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("search: failed to count images: %w", err)
	}

	query := `SELECT ` + selectColumns + ` FROM images ORDER BY upload_time DESC, id LIMIT $1 OFFSET $2`

	rows, err := r.db.Master.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("search: failed to query images: %w", err)
	}
	defer rows.Close()

	images := make([]model.Image, 0, limit)
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("search: failed to scan image: %w", err)
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("search: %w", err)
	}

	return images, total, nil
}

// Delete deletes an image record by ID from the database.
func (r *Repository) Delete(ctx context.Context, id string) error {
	query := `
		DELETE FROM images WHERE id = $1
    `

	rows, err := r.db.Master.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete: failed to delete image: %w", err)
	}

	n, err := rows.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete: failed to get number of rows affected: %w", err)
	}

	if n == 0 {
		return ErrImageNotFound
	}

	return nil
}

// Ping checks database connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.Master.PingContext(ctx)
}

// checkApplied tells a missing record apart from a version-guarded no-op.
func (r *Repository) checkApplied(ctx context.Context, id string, res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get number of rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	var exists bool
	err = r.db.Master.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM images WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check image %s: %w", id, err)
	}
	if !exists {
		return ErrImageNotFound
	}

	return model.ErrStaleWrite
}

type scanner interface {
	Scan(dest ...any) error
}

func scanImage(s scanner) (model.Image, error) {
	var (
		img       model.Image
		status    string
		params    []byte
		requested sql.NullTime
		completed sql.NullTime
		objects   []string
		errText   sql.NullString
	)

	err := s.Scan(
		&img.ID, &img.Filename, &img.ContentType, &img.Size, &img.ObjectName, &img.UploadTime, &status,
		&params, &requested, &completed, pq.Array(&objects), &errText, &img.Version,
	)
	if err != nil {
		return model.Image{}, err
	}

	img.Status = model.Status(status)
	img.ProcessedObjects = objects
	if img.ProcessedObjects == nil {
		img.ProcessedObjects = []string{}
	}
	if len(params) > 0 {
		var p model.ProcessingParams
		if err := json.Unmarshal(params, &p); err != nil {
			return model.Image{}, fmt.Errorf("failed to unmarshal params: %w", err)
		}
		img.ProcessingParams = &p
	}
	if requested.Valid {
		t := requested.Time
		img.ProcessingRequested = &t
	}
	if completed.Valid {
		t := completed.Time
		img.ProcessingCompleted = &t
	}
	if errText.Valid {
		e := errText.String
		img.Error = &e
	}

	return img, nil
}
