package registry

import (
	"context"
	"fmt"
)

// IsEventProcessed reports whether an external event ID has already been
// handled. Used to guard provisioning against at-least-once webhook delivery.
func (r *PostgresRepository) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var processed bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1)`, eventID).Scan(&processed)
	if err != nil {
		return false, fmt.Errorf("checking event %s: %w", eventID, err)
	}
	return processed, nil
}

// MarkEventProcessed records an event ID in the idempotency ledger. Recording
// the same ID twice is a no-op, not an error.
func (r *PostgresRepository) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2)
		 ON CONFLICT (event_id) DO NOTHING`,
		eventID, eventType)
	if err != nil {
		return fmt.Errorf("marking event %s processed: %w", eventID, err)
	}
	return nil
}
