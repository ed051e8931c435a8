package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"price-tracker/internal/models"
	"price-tracker/internal/redisclient"
	"price-tracker/internal/service"
	"price-tracker/internal/store"
	"price-tracker/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	defaultHistoryLimit = 30
	maxHistoryLimit     = 1000
	idempotencyTTL      = 24 * time.Hour
)

// Refresher runs one refresh cycle for a product
type Refresher interface {
	Refresh(ctx context.Context, productID int64) (*models.RunOutcome, error)
}

// HistoryReader reads products and their price history
type HistoryReader interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	ListObservations(ctx context.Context, productID int64, limit int) ([]models.PriceObservation, error)
}

// IdempotencyStore remembers responses of keyed refresh requests
type IdempotencyStore interface {
	GetIdempotencyKey(ctx context.Context, key string) (string, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error)
}

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

// Handler contains HTTP handlers
type Handler struct {
	refresher   Refresher
	history     HistoryReader
	idempotency IdempotencyStore
	checks      map[string]HealthCheck
	logger      *zap.Logger
}

// NewHandler creates a new HTTP handler. idempotency may be nil.
func NewHandler(refresher Refresher, history HistoryReader, idempotency IdempotencyStore, checks map[string]HealthCheck) *Handler {
	return &Handler{
		refresher:   refresher,
		history:     history,
		idempotency: idempotency,
		checks:      checks,
		logger:      util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/products/:id/refresh", h.refreshProduct)
		v1.GET("/products/:id/history", h.getHistory)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when every dependency answers
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// refreshProduct runs a refresh cycle on demand
func (h *Handler) refreshProduct(c *gin.Context) {
	productID, ok := parseID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	key := c.GetHeader("Idempotency-Key")
	if key != "" && h.idempotency != nil {
		cached, err := h.idempotency.GetIdempotencyKey(ctx, refreshKey(productID, key))
		if err == nil {
			c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(cached))
			return
		}
		if !redisclient.IsNil(err) {
			h.logger.Warn("Idempotency lookup failed", zap.String("idempotency_key", key), zap.Error(err))
		}
	}

	outcome, err := h.refresher.Refresh(ctx, productID)
	if outcome == nil {
		c.JSON(errorStatus(err), gin.H{
			"error":   "Failed to refresh product",
			"details": errorDetails(err),
		})
		return
	}

	if outcome.Status != models.RunCompleted {
		c.JSON(outcomeStatus(outcome.Status), outcome)
		return
	}

	if key != "" && h.idempotency != nil {
		if body, err := json.Marshal(outcome); err == nil {
			if _, err := h.idempotency.SetIdempotencyKey(ctx, refreshKey(productID, key), body, idempotencyTTL); err != nil {
				h.logger.Warn("Failed to store idempotency key", zap.String("idempotency_key", key), zap.Error(err))
			}
		}
	}

	c.JSON(http.StatusOK, outcome)
}

// getHistory returns the most recent observations in ascending order
func (h *Handler) getHistory(c *gin.Context) {
	productID, ok := parseID(c)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = n
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	ctx := c.Request.Context()
	product, err := h.history.GetProductByID(ctx, productID)
	if err != nil {
		c.JSON(errorStatus(err), gin.H{
			"error":   "Product not found",
			"details": err.Error(),
		})
		return
	}

	history, err := h.history.ListObservations(ctx, productID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to load price history",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"product": product,
		"history": history,
	})
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid product ID",
		})
		return 0, false
	}
	return id, true
}

func refreshKey(productID int64, key string) string {
	return "refresh:" + strconv.FormatInt(productID, 10) + ":" + key
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrRefreshInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func errorDetails(err error) string {
	if err == nil {
		return "no outcome"
	}
	return err.Error()
}

func outcomeStatus(status models.RunStatus) int {
	switch status {
	case models.RunFetchFailed:
		return http.StatusBadGateway
	case models.RunExtractionFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
