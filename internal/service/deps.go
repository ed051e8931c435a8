package service

import (
	"context"
	"time"

	"price-tracker/internal/models"
	"price-tracker/internal/notify"
)

// ObservationStore persists the price history
type ObservationStore interface {
	LatestObservation(ctx context.Context, productID int64) (*models.PriceObservation, error)
	AppendObservation(ctx context.Context, obs *models.PriceObservation, observed models.ObservedProduct) error
}

// Store is the persistence the pipeline needs. *store.Store satisfies it.
type Store interface {
	ObservationStore
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	GetRulesByProductID(ctx context.Context, productID int64) ([]models.AlertRule, error)
	GetUserContact(ctx context.Context, userID int64) (*models.UserContact, error)
	MarkRuleNotified(ctx context.Context, ruleID int64, at time.Time, deactivate bool) error
}

// Locker serializes cycles of the same product
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, lockKey, token string) error
	ExtendLock(ctx context.Context, lockKey, token string, ttl time.Duration) error
}

// Fetcher retrieves raw page markup
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Extractor parses raw markup
type Extractor interface {
	Extract(raw string) models.ObservedProduct
}

// Dispatcher delivers notifications for a firing decision
type Dispatcher interface {
	Dispatch(ctx context.Context, decision models.AlertDecision, rule models.AlertRule, contact models.UserContact, notice notify.Notice) []models.NotificationResult
}

// EventPublisher announces pipeline progress
type EventPublisher interface {
	PublishPriceRecorded(ctx context.Context, event *models.PriceRecordedEvent) error
	PublishAlertTriggered(ctx context.Context, event *models.AlertTriggeredEvent) error
	PublishRefreshFailed(ctx context.Context, event *models.RefreshFailedEvent) error
}
