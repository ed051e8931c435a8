package worker

import (
	"context"
	"errors"

	"price-tracker/internal/broker"
	"price-tracker/internal/models"
	"price-tracker/internal/service"
	"price-tracker/internal/store"
	"price-tracker/internal/util"

	"go.uber.org/zap"
)

// ProcessedEventStore records consumed event ids
type ProcessedEventStore interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// Refresher runs one refresh cycle for a product
type Refresher interface {
	Refresh(ctx context.Context, productID int64) (*models.RunOutcome, error)
}

// RefreshWorker consumes refresh requests and runs the pipeline for each
type RefreshWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	store        ProcessedEventStore
	refresher    Refresher
	logger       *zap.Logger
}

// NewRefreshWorker creates a new refresh worker
func NewRefreshWorker(
	consumer *broker.Consumer,
	events ProcessedEventStore,
	refresher Refresher,
) *RefreshWorker {
	w := &RefreshWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		store:        events,
		refresher:    refresher,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnRefreshRequested(w.HandleRefreshRequested)
	return w
}

// Start starts the worker
func (w *RefreshWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting refresh worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *RefreshWorker) Stop() error {
	w.logger.Info("Stopping refresh worker")
	return w.consumer.Close()
}

// HandleRefreshRequested runs a cycle at most once per event id. A cycle that
// ran but failed is still marked processed: the next scheduled request retries it.
func (w *RefreshWorker) HandleRefreshRequested(ctx context.Context, event *models.RefreshRequestedEvent) error {
	ctx, span := util.StartProductSpan(ctx, "RefreshWorker.HandleRefreshRequested", event.ProductID)
	defer span.End()

	processed, err := w.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return err
	}
	if processed {
		w.logger.Info("Event already processed, skipping", zap.String("event_id", event.EventID))
		return nil
	}

	outcome, err := w.refresher.Refresh(ctx, event.ProductID)
	switch {
	case errors.Is(err, service.ErrRefreshInProgress):
		w.logger.Info("Refresh already running, dropping request",
			zap.Int64("product_id", event.ProductID),
			zap.String("event_id", event.EventID))
	case errors.Is(err, store.ErrNotFound):
		w.logger.Warn("Refresh requested for missing product",
			zap.Int64("product_id", event.ProductID),
			zap.Error(err))
	case err != nil && outcome == nil:
		return err
	}

	return w.store.MarkEventProcessed(ctx, event.EventID, event.EventType)
}
