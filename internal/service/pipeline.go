package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"price-tracker/internal/models"
	"price-tracker/internal/notify"
	"price-tracker/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultLockTTL = 2 * time.Minute

// Pipeline drives refresh cycles: extract, record, evaluate, dispatch.
// It is the only component that mutates alert rules.
type Pipeline struct {
	store      Store
	locker     Locker
	fetcher    Fetcher
	extractor  Extractor
	recorder   *HistoryRecorder
	evaluator  *AlertEvaluator
	dispatcher Dispatcher
	publisher  EventPublisher
	lockTTL    time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

// NewPipeline creates a new pipeline. locker and publisher may be nil.
func NewPipeline(
	store Store,
	locker Locker,
	fetcher Fetcher,
	extractor Extractor,
	dispatcher Dispatcher,
	publisher EventPublisher,
	lockTTL time.Duration,
) *Pipeline {
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	return &Pipeline{
		store:      store,
		locker:     locker,
		fetcher:    fetcher,
		extractor:  extractor,
		recorder:   NewHistoryRecorder(store),
		evaluator:  NewAlertEvaluator(),
		dispatcher: dispatcher,
		publisher:  publisher,
		lockTTL:    lockTTL,
		now:        time.Now,
		logger:     util.GetLogger(),
	}
}

// WithClock replaces the clock used to stamp refresh cycles
func (p *Pipeline) WithClock(clock func() time.Time) *Pipeline {
	p.now = clock
	return p
}

// Run executes one cycle for a product whose markup is already fetched. The
// outcome is always returned; the error is the first failing step, if any.
// A completed run may still carry undelivered notifications.
func (p *Pipeline) Run(
	ctx context.Context,
	product models.Product,
	rawMarkup string,
	rules []models.AlertRule,
	contact models.UserContact,
	now time.Time,
) (*models.RunOutcome, error) {
	ctx, span := util.StartProductSpan(ctx, "Pipeline.Run", product.ID)
	defer span.End()

	outcome := &models.RunOutcome{ProductID: product.ID}

	observed := p.extractor.Extract(rawMarkup)
	if observed.IsUnknown() {
		return failRun(outcome, models.RunExtractionFailed, ErrExtractionFailed)
	}
	observed.ObservedAt = now

	previous, err := p.store.LatestObservation(ctx, product.ID)
	if err != nil {
		return failRun(outcome, models.RunStorageFailed, &StorageError{Op: "load latest observation", Err: err})
	}

	current, err := p.recorder.Record(ctx, product.ID, observed)
	if err != nil {
		return failRun(outcome, models.RunStorageFailed, err)
	}
	outcome.Observation = current

	outcome.Decisions = p.evaluator.Evaluate(previous, *current, rules, now)

	rulesByID := make(map[int64]models.AlertRule, len(rules))
	for _, rule := range rules {
		rulesByID[rule.ID] = rule
	}

	var markErr error
	for _, decision := range outcome.Decisions {
		if !decision.Fires {
			continue
		}
		rule := rulesByID[decision.RuleID]

		notice := notify.Notice{
			ProductName:  observed.Name,
			ProductURL:   product.URL,
			CurrentPrice: current.Price,
			Threshold:    rule.ThresholdPrice,
			Reason:       decision.Reason,
		}
		if previous != nil {
			notice.PreviousPrice = previous.Price
		}

		results := p.dispatcher.Dispatch(ctx, decision, rule, contact, notice)
		if outcome.Notifications == nil {
			outcome.Notifications = make(map[int64][]models.NotificationResult)
		}
		outcome.Notifications[rule.ID] = results

		if !anyDelivered(results) {
			p.logger.Warn("No channel delivered, rule left for retry",
				zap.Int64("product_id", product.ID),
				zap.Int64("rule_id", rule.ID))
			continue
		}

		deactivate := rule.Frequency == models.FrequencyOnce
		if err := p.store.MarkRuleNotified(ctx, rule.ID, now, deactivate); err != nil {
			p.logger.Error("Failed to mark rule notified",
				zap.Int64("rule_id", rule.ID),
				zap.Error(err))
			if markErr == nil {
				markErr = &StorageError{Op: "mark rule notified", Err: err}
			}
			continue
		}

		p.logger.Info("Alert rule notified",
			zap.Int64("product_id", product.ID),
			zap.Int64("rule_id", rule.ID),
			zap.String("reason", string(decision.Reason)),
			zap.Bool("deactivated", deactivate))
	}

	if markErr != nil {
		return failRun(outcome, models.RunStorageFailed, markErr)
	}

	outcome.Status = models.RunCompleted
	return outcome, nil
}

// Refresh loads everything a cycle needs, fetches the page and runs it
// under the product lock. ErrRefreshInProgress is returned when another
// cycle for the same product holds the lock. The lock is renewed while the
// cycle runs; if renewal fails the cycle is cancelled with ErrLockLost.
func (p *Pipeline) Refresh(ctx context.Context, productID int64) (*models.RunOutcome, error) {
	ctx, span := util.StartProductSpan(ctx, "Pipeline.Refresh", productID)
	defer span.End()

	start := time.Now()
	defer func() {
		util.RefreshLatency.Observe(time.Since(start).Seconds())
	}()

	ctx, release, err := p.lock(ctx, productID)
	if err != nil {
		return nil, err
	}
	defer release()

	product, err := p.store.GetProductByID(ctx, productID)
	if err != nil {
		return nil, &StorageError{Op: "load product", Err: err}
	}
	allRules, err := p.store.GetRulesByProductID(ctx, productID)
	if err != nil {
		return nil, &StorageError{Op: "load alert rules", Err: err}
	}
	rules := ownedRules(allRules, product.UserID)
	contact, err := p.store.GetUserContact(ctx, product.UserID)
	if err != nil {
		return nil, &StorageError{Op: "load user contact", Err: err}
	}

	now := p.now().UTC()

	var outcome *models.RunOutcome
	raw, err := p.fetcher.Fetch(ctx, product.URL)
	if err != nil {
		outcome, err = failRun(&models.RunOutcome{ProductID: productID}, models.RunFetchFailed, err)
	} else {
		outcome, err = p.Run(ctx, *product, raw, rules, *contact, now)
	}
	if err != nil && errors.Is(context.Cause(ctx), ErrLockLost) {
		err = fmt.Errorf("%w: %w", ErrLockLost, err)
		outcome.Error = err.Error()
	}

	util.RefreshRunsTotal.WithLabelValues(string(outcome.Status)).Inc()
	p.publishOutcome(context.WithoutCancel(ctx), outcome, *contact)

	if err != nil {
		p.logger.Warn("Refresh cycle failed",
			zap.Int64("product_id", productID),
			zap.String("status", string(outcome.Status)),
			zap.Error(err))
		return outcome, err
	}

	p.logger.Info("Refresh cycle completed",
		zap.Int64("product_id", productID),
		zap.Int("decisions", len(outcome.Decisions)),
		zap.Int("notified_rules", len(outcome.Notifications)))
	return outcome, nil
}

func (p *Pipeline) lock(ctx context.Context, productID int64) (context.Context, func(), error) {
	if p.locker == nil {
		return ctx, func() {}, nil
	}

	key := fmt.Sprintf("product:%d", productID)
	token, ok, err := p.locker.AcquireLock(ctx, key, p.lockTTL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to acquire product lock: %w", err)
	}
	if !ok {
		util.RefreshSkippedTotal.Inc()
		return nil, nil, ErrRefreshInProgress
	}

	cycleCtx, cancel := context.WithCancelCause(ctx)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.renewLock(cycleCtx, done, cancel, key, token, productID)
	}()

	return cycleCtx, func() {
		close(done)
		wg.Wait()
		cancel(nil)
		if err := p.locker.ReleaseLock(context.WithoutCancel(ctx), key, token); err != nil {
			p.logger.Warn("Failed to release product lock",
				zap.Int64("product_id", productID),
				zap.Error(err))
		}
	}, nil
}

// renewLock extends the lock every third of its TTL until done is closed
func (p *Pipeline) renewLock(
	ctx context.Context,
	done <-chan struct{},
	cancel context.CancelCauseFunc,
	key, token string,
	productID int64,
) {
	ticker := time.NewTicker(p.lockTTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.locker.ExtendLock(ctx, key, token, p.lockTTL); err != nil {
				p.logger.Error("Failed to renew product lock, cancelling cycle",
					zap.Int64("product_id", productID),
					zap.Error(err))
				cancel(ErrLockLost)
				return
			}
		}
	}
}

// publishOutcome is best effort: a broker failure never fails the cycle
func (p *Pipeline) publishOutcome(ctx context.Context, outcome *models.RunOutcome, contact models.UserContact) {
	if p.publisher == nil {
		return
	}

	if obs := outcome.Observation; obs != nil {
		event := &models.PriceRecordedEvent{
			BaseEvent:     newBaseEvent(models.EventTypePriceRecorded),
			ProductID:     outcome.ProductID,
			ObservationID: obs.ID,
			Price:         obs.Price,
			StockStatus:   obs.StockStatus,
		}
		if err := p.publisher.PublishPriceRecorded(ctx, event); err != nil {
			p.logger.Error("Failed to publish PriceRecorded event", zap.Error(err))
		}
	}

	for _, decision := range outcome.Decisions {
		results, dispatched := outcome.Notifications[decision.RuleID]
		if !decision.Fires || !dispatched {
			continue
		}
		event := &models.AlertTriggeredEvent{
			BaseEvent: newBaseEvent(models.EventTypeAlertTriggered),
			ProductID: outcome.ProductID,
			RuleID:    decision.RuleID,
			UserID:    contact.UserID,
			Reason:    decision.Reason,
			Delivered: anyDelivered(results),
			Results:   results,
		}
		if err := p.publisher.PublishAlertTriggered(ctx, event); err != nil {
			p.logger.Error("Failed to publish AlertTriggered event", zap.Error(err))
		}
	}

	if outcome.Status != models.RunCompleted {
		event := &models.RefreshFailedEvent{
			BaseEvent: newBaseEvent(models.EventTypeRefreshFailed),
			ProductID: outcome.ProductID,
			Status:    outcome.Status,
			Reason:    outcome.Error,
		}
		if err := p.publisher.PublishRefreshFailed(ctx, event); err != nil {
			p.logger.Error("Failed to publish RefreshFailed event", zap.Error(err))
		}
	}
}

// ownedRules keeps the rules of the product owner, whose contact receives every notification
func ownedRules(rules []models.AlertRule, ownerID int64) []models.AlertRule {
	owned := make([]models.AlertRule, 0, len(rules))
	for _, rule := range rules {
		if rule.UserID == ownerID {
			owned = append(owned, rule)
		}
	}
	return owned
}

func failRun(outcome *models.RunOutcome, status models.RunStatus, err error) (*models.RunOutcome, error) {
	outcome.Status = status
	outcome.Error = err.Error()
	return outcome, err
}

func anyDelivered(results []models.NotificationResult) bool {
	for _, r := range results {
		if r.Delivered {
			return true
		}
	}
	return false
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}
