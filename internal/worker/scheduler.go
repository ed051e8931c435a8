package worker

import (
	"context"
	"time"

	"price-tracker/internal/models"
	"price-tracker/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// TrackedProductLister lists products that have active alert rules
type TrackedProductLister interface {
	GetTrackedProductIDs(ctx context.Context) ([]int64, error)
}

// RefreshRequestPublisher emits refresh requests
type RefreshRequestPublisher interface {
	PublishRefreshRequested(ctx context.Context, event *models.RefreshRequestedEvent) error
}

// Scheduler requests a refresh of every tracked product on a fixed interval
type Scheduler struct {
	lister    TrackedProductLister
	publisher RefreshRequestPublisher
	interval  time.Duration
	logger    *zap.Logger
}

// NewScheduler creates a new scheduler
func NewScheduler(lister TrackedProductLister, publisher RefreshRequestPublisher, interval time.Duration) *Scheduler {
	return &Scheduler{
		lister:    lister,
		publisher: publisher,
		interval:  interval,
		logger:    util.GetLogger(),
	}
}

// Run performs one pass immediately, then one per tick, until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("Scheduler started", zap.Duration("interval", s.interval))

	s.RequestAll(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopping")
			return
		case <-ticker.C:
			s.RequestAll(ctx)
		}
	}
}

// RequestAll publishes one refresh request per tracked product and returns how many were sent
func (s *Scheduler) RequestAll(ctx context.Context) int {
	ids, err := s.lister.GetTrackedProductIDs(ctx)
	if err != nil {
		s.logger.Error("Failed to list tracked products", zap.Error(err))
		return 0
	}

	sent := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return sent
		}

		event := &models.RefreshRequestedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeRefreshRequested,
				Timestamp: time.Now(),
			},
			ProductID: id,
		}
		if err := s.publisher.PublishRefreshRequested(ctx, event); err != nil {
			s.logger.Error("Failed to publish RefreshRequested event",
				zap.Int64("product_id", id),
				zap.Error(err))
			continue
		}
		sent++
	}

	s.logger.Info("Refresh requests published", zap.Int("count", sent))
	return sent
}
