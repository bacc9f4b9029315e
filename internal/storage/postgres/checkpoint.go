package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"filingwatch/internal/domain"
)

// CheckpointStore persists one row of run state per source. Save is an
// idempotent single-row upsert: repeating it with the same checkpoint is a
// no-op, and a crash loses at most the items since the last save.
type CheckpointStore struct {
	db *sqlx.DB
}

func NewCheckpointStore(db *sqlx.DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

type checkpointRow struct {
	SourceID    string          `db:"source_id"`
	Watermark   time.Time       `db:"watermark"`
	InFlight    bool            `db:"in_flight"`
	HeartbeatAt time.Time       `db:"heartbeat_at"`
	Processed   json.RawMessage `db:"processed"`
	Failures    json.RawMessage `db:"failures"`
	NoData      json.RawMessage `db:"no_data"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

func (s *CheckpointStore) Get(ctx context.Context, sourceID string) (*domain.Checkpoint, error) {
	var row checkpointRow
	query := `
		SELECT source_id, watermark, in_flight, heartbeat_at, processed, failures, no_data, updated_at
		FROM checkpoints
		WHERE source_id = $1`

	err := s.db.GetContext(ctx, &row, query, sourceID)
	if err == sql.ErrNoRows {
		// Empty initial state for new sources
		return domain.NewCheckpoint(sourceID), nil
	}
	if err != nil {
		return nil, err
	}

	cp := domain.NewCheckpoint(sourceID)
	cp.Watermark = row.Watermark
	cp.InFlight = row.InFlight
	cp.HeartbeatAt = row.HeartbeatAt
	cp.UpdatedAt = row.UpdatedAt

	var processed, noData []string
	if err := json.Unmarshal(row.Processed, &processed); err != nil {
		return nil, fmt.Errorf("decode processed set: %w", err)
	}
	if err := json.Unmarshal(row.NoData, &noData); err != nil {
		return nil, fmt.Errorf("decode no-data set: %w", err)
	}
	if err := json.Unmarshal(row.Failures, &cp.Failures); err != nil {
		return nil, fmt.Errorf("decode failures: %w", err)
	}
	for _, id := range processed {
		cp.Processed[id] = true
	}
	for _, id := range noData {
		cp.NoData[id] = true
	}

	return cp, nil
}

func (s *CheckpointStore) Save(ctx context.Context, cp *domain.Checkpoint) error {
	processed, err := json.Marshal(sortedKeys(cp.Processed))
	if err != nil {
		return fmt.Errorf("encode processed set: %w", err)
	}
	noData, err := json.Marshal(sortedKeys(cp.NoData))
	if err != nil {
		return fmt.Errorf("encode no-data set: %w", err)
	}
	failures, err := json.Marshal(cp.Failures)
	if err != nil {
		return fmt.Errorf("encode failures: %w", err)
	}

	query := `
		INSERT INTO checkpoints (source_id, watermark, in_flight, heartbeat_at, processed, failures, no_data, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (source_id) DO UPDATE SET
			watermark = EXCLUDED.watermark,
			in_flight = EXCLUDED.in_flight,
			heartbeat_at = EXCLUDED.heartbeat_at,
			processed = EXCLUDED.processed,
			failures = EXCLUDED.failures,
			no_data = EXCLUDED.no_data,
			updated_at = now()`

	_, err = s.db.ExecContext(ctx, query,
		cp.SourceID,
		cp.Watermark,
		cp.InFlight,
		cp.HeartbeatAt,
		processed,
		failures,
		noData,
	)
	return err
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
