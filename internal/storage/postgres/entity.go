package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"filingwatch/internal/domain"
)

type EntityStore struct {
	db *sqlx.DB
}

func NewEntityStore(db *sqlx.DB) *EntityStore {
	return &EntityStore{db: db}
}

// roleLadder encodes office seniority for the upsert guard; a later raw
// record can only promote an entity's role, never demote it.
const roleLadder = `ARRAY['CANDIDATE','HOUSE','SENATE','PRESIDENT']`

// UpsertBatch writes canonical entities and their raw-identifier links.
// Entities are never deleted, only extended: an existing key keeps its row,
// gains any new raw links, and has its role promoted when the batch
// observed a more senior one.
func (s *EntityStore) UpsertBatch(ctx context.Context, entities []domain.CanonicalEntity) error {
	if len(entities) == 0 {
		return nil
	}

	exec := GetExecutor(ctx, s.db)

	entityQuery := fmt.Sprintf(`
		INSERT INTO canonical_entities (canonical_key, display_name, role, jurisdiction)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (canonical_key) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			role = CASE
				WHEN COALESCE(array_position(%s, EXCLUDED.role), 0) >
				     COALESCE(array_position(%s, canonical_entities.role), 0)
				THEN EXCLUDED.role
				ELSE canonical_entities.role
			END,
			updated_at = now()`, roleLadder, roleLadder)

	linkQuery := `
		INSERT INTO entity_raw_links (raw_id, canonical_key)
		VALUES ($1, $2)
		ON CONFLICT (raw_id) DO NOTHING`

	for _, ent := range entities {
		if _, err := exec.ExecContext(ctx, entityQuery,
			ent.Key, ent.DisplayName, ent.Role, ent.Jurisdiction,
		); err != nil {
			return fmt.Errorf("upsert entity %s: %w", ent.Key, err)
		}

		for _, rawID := range ent.RawIDs {
			if _, err := exec.ExecContext(ctx, linkQuery, rawID, ent.Key); err != nil {
				return fmt.Errorf("link raw id %s: %w", rawID, err)
			}
		}
	}

	return nil
}

// KeysForRawIDs maps raw identifiers to their canonical keys. Raw IDs with
// no link yet are absent from the result; the caller treats those as
// unseen and triggers a resolution pass.
func (s *EntityStore) KeysForRawIDs(ctx context.Context, rawIDs []string) (map[string]string, error) {
	if len(rawIDs) == 0 {
		return make(map[string]string), nil
	}

	query := `SELECT raw_id, canonical_key FROM entity_raw_links WHERE raw_id = ANY($1)`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(rawIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var rawID, key string
		if err := rows.Scan(&rawID, &key); err != nil {
			return nil, err
		}
		result[rawID] = key
	}

	return result, rows.Err()
}

// ListOverrides returns the manual merge corrections, raw ID to canonical
// key. Overrides win over the normalization heuristic.
func (s *EntityStore) ListOverrides(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT raw_id, canonical_key FROM entity_overrides`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var rawID, key string
		if err := rows.Scan(&rawID, &key); err != nil {
			return nil, err
		}
		result[rawID] = key
	}

	return result, rows.Err()
}

// DisplayNames maps canonical keys to display names for notification
// payloads.
func (s *EntityStore) DisplayNames(ctx context.Context, keys []string) (map[string]string, error) {
	if len(keys) == 0 {
		return make(map[string]string), nil
	}

	query := `SELECT canonical_key, display_name FROM canonical_entities WHERE canonical_key = ANY($1)`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(keys))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var key, name string
		if err := rows.Scan(&key, &name); err != nil {
			return nil, err
		}
		result[key] = name
	}

	return result, rows.Err()
}
