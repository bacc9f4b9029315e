package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"filingwatch/internal/domain"
)

type Source interface {
	ID() string
	FetchIndex(ctx context.Context, page int) (*domain.IndexPage, error)
	FetchFilings(ctx context.Context, rawID string) ([]domain.Filing, error)
}

type FilingStore interface {
	Upsert(ctx context.Context, filing *domain.Filing) (int64, error)
	GetExistingByEntity(ctx context.Context, rawEntityID string) (map[domain.FilingKey]time.Time, error)
}

type EntityStore interface {
	UpsertBatch(ctx context.Context, entities []domain.CanonicalEntity) error
	KeysForRawIDs(ctx context.Context, rawIDs []string) (map[string]string, error)
	ListOverrides(ctx context.Context) (map[string]string, error)
	DisplayNames(ctx context.Context, keys []string) (map[string]string, error)
}

type CheckpointStore interface {
	Get(ctx context.Context, sourceID string) (*domain.Checkpoint, error)
	Save(ctx context.Context, cp *domain.Checkpoint) error
}

type SubscriptionStore interface {
	ListEnabledForEntity(ctx context.Context, canonicalKey string, kind domain.NotificationKind) ([]domain.Subscription, error)
}

type QueueStore interface {
	Enqueue(ctx context.Context, entry *domain.QueueEntry) (bool, error)
	Claim(ctx context.Context, limit, maxAttempts int) ([]domain.QueueEntry, error)
	MarkSent(ctx context.Context, id int64, at time.Time) error
	MarkFailed(ctx context.Context, id int64, message string) error
	ListTerminalFailures(ctx context.Context, maxAttempts int) ([]domain.QueueEntry, error)
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type Deliverer interface {
	Send(ctx context.Context, n *domain.Notification) error
	Close() error
}
