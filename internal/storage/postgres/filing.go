package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"filingwatch/internal/domain"
)

type FilingStore struct {
	db *sqlx.DB
}

func NewFilingStore(db *sqlx.DB) *FilingStore {
	return &FilingStore{db: db}
}

// Upsert inserts a filing or, for an existing natural key, replaces it only
// when the incoming source timestamp is strictly newer. Last-writer-wins by
// source_filed_at, never by arrival order, so out-of-order amendment
// arrival cannot regress a row.
func (s *FilingStore) Upsert(ctx context.Context, filing *domain.Filing) (int64, error) {
	exec := GetExecutor(ctx, s.db)

	query := `
		INSERT INTO filings (
			raw_entity_id, cycle, report_type, period_start, period_end,
			committee, receipts, disbursements, cash_on_hand,
			source_filing_id, source_filed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)
		ON CONFLICT (raw_entity_id, cycle, report_type, period_end) DO UPDATE SET
			period_start = EXCLUDED.period_start,
			committee = EXCLUDED.committee,
			receipts = EXCLUDED.receipts,
			disbursements = EXCLUDED.disbursements,
			cash_on_hand = EXCLUDED.cash_on_hand,
			source_filing_id = EXCLUDED.source_filing_id,
			source_filed_at = EXCLUDED.source_filed_at,
			updated_at = now()
		WHERE filings.source_filed_at < EXCLUDED.source_filed_at
		RETURNING id`

	var id int64
	err := exec.QueryRowxContext(ctx, query,
		filing.RawEntityID,
		filing.Cycle,
		filing.ReportType,
		filing.PeriodStart,
		filing.PeriodEnd,
		filing.Committee,
		filing.Receipts,
		filing.Disbursements,
		filing.CashOnHand,
		filing.SourceFilingID,
		filing.SourceFiledAt,
	).Scan(&id)

	if err == sql.ErrNoRows {
		err = exec.QueryRowxContext(ctx,
			`SELECT id FROM filings
			 WHERE raw_entity_id = $1 AND cycle = $2 AND report_type = $3 AND period_end = $4`,
			filing.RawEntityID, filing.Cycle, filing.ReportType, filing.PeriodEnd,
		).Scan(&id)
	}

	if err != nil {
		return 0, err
	}

	return id, nil
}

// GetExistingByEntity returns, for one raw filer, the source timestamp of
// every filing already recorded, keyed by natural key.
func (s *FilingStore) GetExistingByEntity(ctx context.Context, rawEntityID string) (map[domain.FilingKey]time.Time, error) {
	query := `
		SELECT cycle, report_type, period_end, source_filed_at
		FROM filings
		WHERE raw_entity_id = $1`

	rows, err := s.db.QueryContext(ctx, query, rawEntityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[domain.FilingKey]time.Time)
	for rows.Next() {
		var (
			cycle      int
			reportType string
			periodEnd  time.Time
			filedAt    time.Time
		)
		if err := rows.Scan(&cycle, &reportType, &periodEnd, &filedAt); err != nil {
			return nil, err
		}
		key := domain.FilingKey{
			RawEntityID: rawEntityID,
			Cycle:       cycle,
			ReportType:  reportType,
			PeriodEnd:   periodEnd.UTC().Truncate(24 * time.Hour),
		}
		result[key] = filedAt
	}

	return result, rows.Err()
}

// TotalsByEntity is the read-only financial-state surface the dashboard
// consumes: per-period totals for one canonical entity after amendment
// supersession, newest period first.
func (s *FilingStore) TotalsByEntity(ctx context.Context, canonicalKey string) ([]domain.EntityPeriodTotal, error) {
	query := `
		SELECT l.canonical_key,
		       f.cycle,
		       f.report_type,
		       f.period_end,
		       f.receipts::text AS receipts,
		       f.disbursements::text AS disbursements,
		       f.cash_on_hand::text AS cash_on_hand
		FROM filings f
		INNER JOIN entity_raw_links l ON l.raw_id = f.raw_entity_id
		WHERE l.canonical_key = $1
		ORDER BY f.period_end DESC`

	var totals []domain.EntityPeriodTotal
	err := s.db.SelectContext(ctx, &totals, query, canonicalKey)
	return totals, err
}
