package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"price-tracker/internal/models"
	"price-tracker/internal/store"

	"github.com/shopspring/decimal"
)

type fakeStore struct {
	mu           sync.Mutex
	products     map[int64]*models.Product
	rules        []models.AlertRule
	contacts     map[int64]*models.UserContact
	observations []models.PriceObservation
	nextID       int64

	appendErr error
	latestErr error
	markErr   error
	markCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		products: make(map[int64]*models.Product),
		contacts: make(map[int64]*models.UserContact),
	}
}

func (s *fakeStore) LatestObservation(ctx context.Context, productID int64) (*models.PriceObservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latestErr != nil {
		return nil, s.latestErr
	}
	for i := len(s.observations) - 1; i >= 0; i-- {
		if s.observations[i].ProductID == productID {
			obs := s.observations[i]
			return &obs, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) AppendObservation(ctx context.Context, obs *models.PriceObservation, observed models.ObservedProduct) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.nextID++
	obs.ID = s.nextID
	s.observations = append(s.observations, *obs)

	if p, ok := s.products[obs.ProductID]; ok {
		p.CurrentPrice = obs.Price
		p.StockStatus = obs.StockStatus
		p.Name = observed.Name
		at := obs.RecordedAt
		p.LastScrapedAt = &at
	}
	return nil
}

func (s *fakeStore) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", id, store.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) GetRulesByProductID(ctx context.Context, productID int64) ([]models.AlertRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.AlertRule
	for _, r := range s.rules {
		if r.ProductID == productID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) GetUserContact(ctx context.Context, userID int64) (*models.UserContact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[userID]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", userID, store.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *fakeStore) MarkRuleNotified(ctx context.Context, ruleID int64, at time.Time, deactivate bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markCalls++
	if s.markErr != nil {
		return s.markErr
	}
	for i := range s.rules {
		if s.rules[i].ID == ruleID {
			stamp := at
			s.rules[i].LastNotifiedAt = &stamp
			if deactivate {
				s.rules[i].Active = false
			}
			return nil
		}
	}
	return fmt.Errorf("alert rule %d: %w", ruleID, store.ErrNotFound)
}

func (s *fakeStore) rule(id int64) models.AlertRule {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rules {
		if r.ID == id {
			return r
		}
	}
	return models.AlertRule{}
}

func (s *fakeStore) history(productID int64) []models.PriceObservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PriceObservation
	for _, o := range s.observations {
		if o.ProductID == productID {
			out = append(out, o)
		}
	}
	return out
}

func (s *fakeStore) seedObservation(productID int64, price int64, stock models.StockStatus, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.observations = append(s.observations, models.PriceObservation{
		ID:          s.nextID,
		ProductID:   productID,
		Price:       decimal.NewNullDecimal(decimal.NewFromInt(price)),
		StockStatus: stock,
		RecordedAt:  at,
	})
}

type fakeFetcher struct {
	pages map[string]string
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.pages[url], nil
}

type fakeLocker struct {
	mu       sync.Mutex
	held     map[string]string
	acquired  int
	released  int
	extended  int
	err       error
	extendErr error
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{held: make(map[string]string)}
}

func (l *fakeLocker) AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", false, l.err
	}
	if _, ok := l.held[key]; ok {
		return "", false, nil
	}
	l.acquired++
	token := fmt.Sprintf("token-%d", l.acquired)
	l.held[key] = token
	return token, true, nil
}

func (l *fakeLocker) ReleaseLock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] != token {
		return errors.New("lock not held")
	}
	delete(l.held, key)
	l.released++
	return nil
}

func (l *fakeLocker) ExtendLock(ctx context.Context, key, token string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.extendErr != nil {
		return l.extendErr
	}
	if l.held[key] != token {
		return errors.New("lock not held")
	}
	l.extended++
	return nil
}

type fakePublisher struct {
	mu       sync.Mutex
	recorded []*models.PriceRecordedEvent
	alerts   []*models.AlertTriggeredEvent
	failures []*models.RefreshFailedEvent
	err      error
}

func (p *fakePublisher) PublishPriceRecorded(ctx context.Context, event *models.PriceRecordedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recorded = append(p.recorded, event)
	return p.err
}

func (p *fakePublisher) PublishAlertTriggered(ctx context.Context, event *models.AlertTriggeredEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, event)
	return p.err
}

func (p *fakePublisher) PublishRefreshFailed(ctx context.Context, event *models.RefreshFailedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = append(p.failures, event)
	return p.err
}

type fakeEmail struct {
	err   error
	calls int
}

func (f *fakeEmail) Send(ctx context.Context, to, subject, htmlBody string) error {
	f.calls++
	return f.err
}

type fakeSMS struct {
	err   error
	calls int
}

func (f *fakeSMS) Send(ctx context.Context, to, body string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("SM%d", f.calls), nil
}
