package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	"filingwatch/internal/domain"
)

// SubscriptionStore reads the preference rows owned by the external
// dashboard surface. The pipeline never writes them.
type SubscriptionStore struct {
	db *sqlx.DB
}

func NewSubscriptionStore(db *sqlx.DB) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

func (s *SubscriptionStore) ListEnabledForEntity(ctx context.Context, canonicalKey string, kind domain.NotificationKind) ([]domain.Subscription, error) {
	query := `
		SELECT id, subscriber, canonical_key, kind, enabled, created_at
		FROM subscriptions
		WHERE canonical_key = $1 AND kind = $2 AND enabled`

	var subs []domain.Subscription
	err := s.db.SelectContext(ctx, &subs, query, canonicalKey, kind)
	return subs, err
}

func (s *SubscriptionStore) ListForSubscriber(ctx context.Context, subscriber string) ([]domain.Subscription, error) {
	query := `
		SELECT id, subscriber, canonical_key, kind, enabled, created_at
		FROM subscriptions
		WHERE subscriber = $1
		ORDER BY canonical_key, kind`

	var subs []domain.Subscription
	err := s.db.SelectContext(ctx, &subs, query, subscriber)
	return subs, err
}
