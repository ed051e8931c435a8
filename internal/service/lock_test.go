package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"price-tracker/internal/extractor"
	"price-tracker/internal/models"
	"price-tracker/internal/redisclient"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcFetcher func(ctx context.Context, url string) (string, error)

func (f funcFetcher) Fetch(ctx context.Context, url string) (string, error) {
	return f(ctx, url)
}

func TestRefresh_RenewsLockDuringLongCycle(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	locker := redisclient.NewClientFromRedis(rdb)

	f := newFixture(t, nil)
	f.store.seedObservation(1, 5000, models.StockAvailable, pipelineNow.Add(-time.Hour))
	f.addRule(models.AlertRule{ID: 1, Kind: models.AlertKindPriceDrop, Channel: models.ChannelEmail, Frequency: models.FrequencyDaily})

	ttl := 600 * time.Millisecond
	var competitorGotLock bool
	slow := funcFetcher(func(ctx context.Context, url string) (string, error) {
		// Five half-TTL steps outlive an unrenewed lock.
		for i := 0; i < 5; i++ {
			mr.FastForward(ttl / 2)
			time.Sleep(ttl / 2)
		}
		_, ok, err := locker.AcquireLock(ctx, "product:1", ttl)
		if err != nil {
			return "", err
		}
		competitorGotLock = ok
		return page("₹4,500", ""), nil
	})

	p := NewPipeline(f.store, locker, slow, extractor.NewDefault(), f.dispatcher, nil, ttl).
		WithClock(func() time.Time { return pipelineNow })

	outcome, err := p.Refresh(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, outcome.Status)
	assert.False(t, competitorGotLock)
	assert.Equal(t, 1, f.email.calls)
	assert.False(t, mr.Exists("lock:product:1"))
}

func TestRefresh_LockLostCancelsCycle(t *testing.T) {
	f := newFixture(t, nil)
	f.store.seedObservation(1, 5000, models.StockAvailable, pipelineNow.Add(-time.Hour))
	f.addRule(models.AlertRule{ID: 1, Kind: models.AlertKindPriceDrop, Channel: models.ChannelEmail, Frequency: models.FrequencyDaily})
	f.locker.extendErr = redisclient.ErrLockNotHeld

	blocking := funcFetcher(func(ctx context.Context, url string) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Second):
			return page("₹4,500", ""), nil
		}
	})

	p := NewPipeline(f.store, f.locker, blocking, extractor.NewDefault(), f.dispatcher, f.publisher, 30*time.Millisecond).
		WithClock(func() time.Time { return pipelineNow })

	outcome, err := p.Refresh(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrLockLost))
	require.NotNil(t, outcome)
	assert.Equal(t, models.RunFetchFailed, outcome.Status)
	assert.Contains(t, outcome.Error, "product lock lost")

	assert.Empty(t, f.store.history(1)[1:])
	assert.Equal(t, 0, f.email.calls)
	assert.Nil(t, f.store.rule(1).LastNotifiedAt)
	require.Len(t, f.publisher.failures, 1)
}

func TestRefresh_RenewsLockWithFakeLocker(t *testing.T) {
	f := newFixture(t, nil)
	f.setPage("₹4,500", "")

	slow := funcFetcher(func(ctx context.Context, url string) (string, error) {
		time.Sleep(100 * time.Millisecond)
		return f.fetcher.Fetch(ctx, url)
	})
	p := NewPipeline(f.store, f.locker, slow, extractor.NewDefault(), f.dispatcher, nil, 30*time.Millisecond).
		WithClock(func() time.Time { return pipelineNow })

	_, err := p.Refresh(context.Background(), 1)
	require.NoError(t, err)
	assert.Positive(t, f.locker.extended)
	assert.Equal(t, 1, f.locker.released)
	assert.Empty(t, f.locker.held)
}

func TestRefresh_IgnoresRulesOfOtherUsers(t *testing.T) {
	f := newFixture(t, nil)
	f.store.seedObservation(1, 5000, models.StockAvailable, pipelineNow.Add(-time.Hour))
	f.addRule(models.AlertRule{ID: 1, Kind: models.AlertKindPriceDrop, Channel: models.ChannelEmail, Frequency: models.FrequencyDaily})
	f.store.rules = append(f.store.rules, models.AlertRule{
		ID: 2, ProductID: 1, UserID: 7, Active: true,
		Kind: models.AlertKindPriceDrop, Channel: models.ChannelEmail, Frequency: models.FrequencyDaily,
	})
	f.setPage("₹4,500", "")

	outcome, err := f.pipeline.Refresh(context.Background(), 1)
	require.NoError(t, err)

	require.Len(t, outcome.Decisions, 1)
	assert.Equal(t, int64(1), outcome.Decisions[0].RuleID)
	assert.Equal(t, 1, f.email.calls)
	assert.Nil(t, f.store.rule(2).LastNotifiedAt)
}
