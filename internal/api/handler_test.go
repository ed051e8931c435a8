package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"price-tracker/internal/models"
	"price-tracker/internal/redisclient"
	"price-tracker/internal/service"
	"price-tracker/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRefresher struct {
	calls   int
	outcome *models.RunOutcome
	err     error
}

func (s *stubRefresher) Refresh(ctx context.Context, productID int64) (*models.RunOutcome, error) {
	s.calls++
	if s.outcome != nil {
		out := *s.outcome
		out.ProductID = productID
		return &out, s.err
	}
	return nil, s.err
}

type stubHistory struct {
	products     map[int64]*models.Product
	observations []models.PriceObservation
	lastLimit    int
}

func (s *stubHistory) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	p, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("product %d: %w", id, store.ErrNotFound)
	}
	return p, nil
}

func (s *stubHistory) ListObservations(ctx context.Context, productID int64, limit int) ([]models.PriceObservation, error) {
	s.lastLimit = limit
	if limit < len(s.observations) {
		return s.observations[len(s.observations)-limit:], nil
	}
	return s.observations, nil
}

func setupRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	h.SetupRoutes(router)
	return router
}

func newIdempotencyStore(t *testing.T) *redisclient.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return redisclient.NewClientFromRedis(rdb)
}

func do(router *gin.Engine, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	router := setupRouter(NewHandler(&stubRefresher{}, &stubHistory{}, nil, nil))

	w := do(router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestReady(t *testing.T) {
	checks := map[string]HealthCheck{
		"database": func(ctx context.Context) error { return nil },
	}
	router := setupRouter(NewHandler(&stubRefresher{}, &stubHistory{}, nil, checks))
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/ready", nil).Code)

	checks["redis"] = func(ctx context.Context) error { return errors.New("connection refused") }
	w := do(router, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "connection refused")
}

func TestRefresh_Completed(t *testing.T) {
	refresher := &stubRefresher{outcome: &models.RunOutcome{Status: models.RunCompleted}}
	router := setupRouter(NewHandler(refresher, &stubHistory{}, nil, nil))

	w := do(router, http.MethodPost, "/api/v1/products/5/refresh", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var outcome models.RunOutcome
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &outcome))
	assert.Equal(t, int64(5), outcome.ProductID)
	assert.Equal(t, models.RunCompleted, outcome.Status)
}

func TestRefresh_IdempotencyKeyReplaysResponse(t *testing.T) {
	refresher := &stubRefresher{outcome: &models.RunOutcome{Status: models.RunCompleted}}
	router := setupRouter(NewHandler(refresher, &stubHistory{}, newIdempotencyStore(t), nil))
	headers := map[string]string{"Idempotency-Key": "req-1"}

	first := do(router, http.MethodPost, "/api/v1/products/5/refresh", headers)
	second := do(router, http.MethodPost, "/api/v1/products/5/refresh", headers)

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, refresher.calls)

	do(router, http.MethodPost, "/api/v1/products/6/refresh", headers)
	assert.Equal(t, 2, refresher.calls)
}

func TestRefresh_FailedRunsAreNotCached(t *testing.T) {
	refresher := &stubRefresher{
		outcome: &models.RunOutcome{Status: models.RunFetchFailed, Error: "timeout"},
		err:     errors.New("timeout"),
	}
	router := setupRouter(NewHandler(refresher, &stubHistory{}, newIdempotencyStore(t), nil))
	headers := map[string]string{"Idempotency-Key": "req-2"}

	assert.Equal(t, http.StatusBadGateway, do(router, http.MethodPost, "/api/v1/products/5/refresh", headers).Code)
	assert.Equal(t, http.StatusBadGateway, do(router, http.MethodPost, "/api/v1/products/5/refresh", headers).Code)
	assert.Equal(t, 2, refresher.calls)
}

func TestRefresh_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name    string
		outcome *models.RunOutcome
		err     error
		want    int
	}{
		{"in progress", nil, service.ErrRefreshInProgress, http.StatusConflict},
		{"missing product", nil, &service.StorageError{Op: "load product", Err: store.ErrNotFound}, http.StatusNotFound},
		{"lock failure", nil, errors.New("redis down"), http.StatusInternalServerError},
		{"extraction", &models.RunOutcome{Status: models.RunExtractionFailed}, service.ErrExtractionFailed, http.StatusUnprocessableEntity},
		{"storage", &models.RunOutcome{Status: models.RunStorageFailed}, errors.New("disk"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupRouter(NewHandler(&stubRefresher{outcome: tt.outcome, err: tt.err}, &stubHistory{}, nil, nil))
			w := do(router, http.MethodPost, "/api/v1/products/1/refresh", nil)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestRefresh_InvalidID(t *testing.T) {
	router := setupRouter(NewHandler(&stubRefresher{}, &stubHistory{}, nil, nil))
	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodPost, "/api/v1/products/abc/refresh", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodPost, "/api/v1/products/0/refresh", nil).Code)
}

func TestHistory(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	history := &stubHistory{products: map[int64]*models.Product{3: {ID: 3, Name: "Phone"}}}
	for i := 0; i < 40; i++ {
		history.observations = append(history.observations, models.PriceObservation{
			ID:         int64(i + 1),
			ProductID:  3,
			Price:      decimal.NewNullDecimal(decimal.NewFromInt(int64(1000 + i))),
			RecordedAt: base.Add(time.Duration(i) * time.Hour),
		})
	}
	router := setupRouter(NewHandler(&stubRefresher{}, history, nil, nil))

	w := do(router, http.MethodGet, "/api/v1/products/3/history", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, defaultHistoryLimit, history.lastLimit)

	var body struct {
		Product models.Product            `json:"product"`
		History []models.PriceObservation `json:"history"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Phone", body.Product.Name)
	require.Len(t, body.History, defaultHistoryLimit)
	assert.True(t, body.History[0].RecordedAt.Before(body.History[1].RecordedAt))

	do(router, http.MethodGet, "/api/v1/products/3/history?limit=5000", nil)
	assert.Equal(t, maxHistoryLimit, history.lastLimit)

	assert.Equal(t, http.StatusBadRequest, do(router, http.MethodGet, "/api/v1/products/3/history?limit=-1", nil).Code)
	assert.Equal(t, http.StatusNotFound, do(router, http.MethodGet, "/api/v1/products/99/history", nil).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	router := setupRouter(NewHandler(&stubRefresher{}, &stubHistory{}, nil, nil))
	do(router, http.MethodGet, "/health", nil)

	w := do(router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_requests_total")
}
