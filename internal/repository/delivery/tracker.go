// Package delivery counts how many times a broker message has been delivered
// so the worker can dead-letter messages that keep failing, across restarts.
package delivery

import (
	"context"
	"fmt"

	"github.com/wb-go/wbf/dbpg"
)

// Tracker records deliveries per (topic, partition, offset).
type Tracker struct {
	db *dbpg.DB
}

// NewTracker creates a new delivery tracker.
func NewTracker(db *dbpg.DB) *Tracker {
	return &Tracker{db: db}
}

// Record counts one delivery and returns the total seen so far.
func (t *Tracker) Record(ctx context.Context, topic string, partition int, offset int64) (int, error) {
	query := `
		INSERT INTO delivery_attempts (topic, partition, "offset", seen_count, first_seen_at, last_seen_at)
		VALUES ($1, $2, $3, 1, NOW(), NOW())
		ON CONFLICT (topic, partition, "offset") DO UPDATE
		SET last_seen_at = NOW(),
		    seen_count = delivery_attempts.seen_count + 1
		RETURNING seen_count
	`

	var seen int
	if err := t.db.Master.QueryRowContext(ctx, query, topic, partition, offset).Scan(&seen); err != nil {
		return 0, fmt.Errorf("record delivery %s/%d@%d: %w", topic, partition, offset, err)
	}

	return seen, nil
}

// Forget drops the counters of offset and every earlier offset on the
// partition once offset has been committed. Rows left behind by a failed
// commit are cleared by the next successful one.
func (t *Tracker) Forget(ctx context.Context, topic string, partition int, offset int64) error {
	query := `DELETE FROM delivery_attempts WHERE topic = $1 AND partition = $2 AND "offset" <= $3`

	if _, err := t.db.Master.ExecContext(ctx, query, topic, partition, offset); err != nil {
		return fmt.Errorf("forget delivery %s/%d@%d: %w", topic, partition, offset, err)
	}

	return nil
}
