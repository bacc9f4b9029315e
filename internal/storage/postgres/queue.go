package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"filingwatch/internal/domain"
)

// QueueStore is the durable notification queue. The unique constraint on
// (subscriber, canonical_key, filing_key) is the sole dedup mechanism, and
// the claim transition is the sole synchronization between detector and
// dispatcher.
type QueueStore struct {
	db *sqlx.DB
}

func NewQueueStore(db *sqlx.DB) *QueueStore {
	return &QueueStore{db: db}
}

// Enqueue inserts a pending entry. A conflict on the dedup key is
// success-no-op: the entry was already queued by an earlier run. Returns
// whether a row was actually inserted.
func (s *QueueStore) Enqueue(ctx context.Context, entry *domain.QueueEntry) (bool, error) {
	exec := GetExecutor(ctx, s.db)

	query := `
		INSERT INTO queue_entries (subscriber, canonical_key, filing_key, kind, payload, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
		ON CONFLICT (subscriber, canonical_key, filing_key) DO NOTHING`

	res, err := exec.ExecContext(ctx, query,
		entry.Subscriber,
		entry.CanonicalKey,
		entry.FilingKey,
		entry.Kind,
		entry.Payload,
	)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// reclaimSendingAfter is how long a row may sit in sending before it is
// presumed abandoned by a dead dispatcher and becomes claimable again. Far
// above any delivery timeout, so a slow dispatcher is never raced.
const reclaimSendingAfter = 10 * time.Minute

// Claim atomically transitions a bounded batch of deliverable entries to
// sending and returns them. FOR UPDATE SKIP LOCKED keeps two dispatcher
// instances from claiming the same row. Failed entries are reclaimable
// while their attempts stay under maxAttempts; sending entries older than
// the reclaim window are reclaimed too, so a dispatcher crash between claim
// and mark cannot strand a notification.
func (s *QueueStore) Claim(ctx context.Context, limit, maxAttempts int) ([]domain.QueueEntry, error) {
	query := `
		UPDATE queue_entries SET
			status = 'sending',
			updated_at = now()
		WHERE id IN (
			SELECT id FROM queue_entries
			WHERE status = 'pending'
			   OR (status = 'failed' AND attempts < $2)
			   OR (status = 'sending' AND updated_at < now() - $3 * interval '1 second')
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, subscriber, canonical_key, filing_key, kind, payload,
		          status, attempts, last_error, sent_at, created_at, updated_at`

	rows, err := s.db.QueryxContext(ctx, query, limit, maxAttempts, reclaimSendingAfter.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.QueueEntry
	for rows.Next() {
		var e domain.QueueEntry
		if err := rows.StructScan(&e); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

func (s *QueueStore) MarkSent(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE queue_entries SET status = 'sent', sent_at = $2, updated_at = now() WHERE id = $1`,
		id, at,
	)
	return err
}

func (s *QueueStore) MarkFailed(ctx context.Context, id int64, message string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE queue_entries SET
			status = 'failed',
			attempts = attempts + 1,
			last_error = $2,
			updated_at = now()
		WHERE id = $1`,
		id, message,
	)
	return err
}

// ListTerminalFailures surfaces entries that exhausted their delivery
// attempts for operator review.
func (s *QueueStore) ListTerminalFailures(ctx context.Context, maxAttempts int) ([]domain.QueueEntry, error) {
	query := `
		SELECT id, subscriber, canonical_key, filing_key, kind, payload,
		       status, attempts, last_error, sent_at, created_at, updated_at
		FROM queue_entries
		WHERE status = 'failed' AND attempts >= $1
		ORDER BY updated_at`

	var entries []domain.QueueEntry
	err := s.db.SelectContext(ctx, &entries, query, maxAttempts)
	return entries, err
}
