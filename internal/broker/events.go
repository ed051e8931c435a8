package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"price-tracker/internal/models"
	"price-tracker/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// ProductKey is the partition key of every event about a product
func ProductKey(productID int64) string {
	return fmt.Sprintf("product-%d", productID)
}

// PublishRefreshRequested publishes RefreshRequested event
func (ep *EventPublisher) PublishRefreshRequested(ctx context.Context, event *models.RefreshRequestedEvent) error {
	return ep.producer.PublishEvent(ctx, ProductKey(event.ProductID), event)
}

// PublishPriceRecorded publishes PriceRecorded event
func (ep *EventPublisher) PublishPriceRecorded(ctx context.Context, event *models.PriceRecordedEvent) error {
	return ep.producer.PublishEvent(ctx, ProductKey(event.ProductID), event)
}

// PublishAlertTriggered publishes AlertTriggered event
func (ep *EventPublisher) PublishAlertTriggered(ctx context.Context, event *models.AlertTriggeredEvent) error {
	return ep.producer.PublishEvent(ctx, ProductKey(event.ProductID), event)
}

// PublishRefreshFailed publishes RefreshFailed event
func (ep *EventPublisher) PublishRefreshFailed(ctx context.Context, event *models.RefreshFailedEvent) error {
	return ep.producer.PublishEvent(ctx, ProductKey(event.ProductID), event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onRefreshRequested func(context.Context, *models.RefreshRequestedEvent) error
	logger             *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnRefreshRequested registers a handler for RefreshRequested events
func (eh *EventHandler) OnRefreshRequested(handler func(context.Context, *models.RefreshRequestedEvent) error) {
	eh.onRefreshRequested = handler
}

// HandleMessage routes messages to appropriate handlers. Events this service
// only produces are ignored.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeRefreshRequested:
		if eh.onRefreshRequested != nil {
			var event models.RefreshRequestedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal RefreshRequested event: %w", err)
			}
			return eh.onRefreshRequested(ctx, &event)
		}

	case models.EventTypePriceRecorded, models.EventTypeAlertTriggered, models.EventTypeRefreshFailed:

	default:
		eh.logger.Warn("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
