package kafkax

import (
	"context"

	"github.com/garageflow/garageflow/libs/db"
)

// Inbox remembers which events a consumer has already handled.
type Inbox interface {
	Record(ctx context.Context, consumer, eventID, eventType string) (bool, error)
	Forget(ctx context.Context, consumer, eventID string) error
}

type InboxRepository struct {
	pool *db.Pool
}

func NewInboxRepository(pool *db.Pool) *InboxRepository {
	return &InboxRepository{pool: pool}
}

// Record returns false when the event was seen before.
func (r *InboxRepository) Record(ctx context.Context, consumer, eventID, eventType string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO inbox_events (consumer, event_id, event_type)
		VALUES ($1, $2, $3)
		ON CONFLICT (consumer, event_id) DO NOTHING
	`, consumer, eventID, eventType)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Forget lets a failed event be retried on redelivery.
func (r *InboxRepository) Forget(ctx context.Context, consumer, eventID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM inbox_events WHERE consumer = $1 AND event_id = $2`, consumer, eventID)
	return err
}
