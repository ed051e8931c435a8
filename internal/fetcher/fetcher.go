package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"price-tracker/internal/util"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const defaultMaxBodyBytes = 5 << 20

// ErrBodyTooLarge is wrapped by FetchError when a page exceeds the body cap
var ErrBodyTooLarge = errors.New("response body too large")

// FetchError reports a page that could not be retrieved
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Options configure an HTTPFetcher
type Options struct {
	Timeout       time.Duration
	MaxAttempts   int
	RatePerSecond float64
	UserAgent     string
	MaxBodyBytes  int64
	Backoff       time.Duration
}

// HTTPFetcher retrieves raw product pages over plain HTTP
type HTTPFetcher struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	maxAttempts int
	userAgent   string
	maxBody     int64
	backoff     time.Duration
	logger      *zap.Logger
}

// NewHTTPFetcher creates a fetcher with a bounded per-request timeout
func NewHTTPFetcher(opts Options) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultMaxBodyBytes
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}

	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}

	return &HTTPFetcher{
		httpClient:  &http.Client{Timeout: opts.Timeout},
		rateLimiter: rate.NewLimiter(limit, 1),
		maxAttempts: opts.MaxAttempts,
		userAgent:   opts.UserAgent,
		maxBody:     opts.MaxBodyBytes,
		backoff:     opts.Backoff,
		logger:      util.GetLogger(),
	}
}

// Fetch returns the page markup or a *FetchError. Network errors and 5xx
// responses are retried up to MaxAttempts; other statuses fail immediately.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (string, error) {
	start := time.Now()
	defer func() {
		util.FetchLatency.Observe(time.Since(start).Seconds())
	}()

	var lastErr *FetchError
	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		if err := f.rateLimiter.Wait(ctx); err != nil {
			util.FetchFailuresTotal.WithLabelValues("cancelled").Inc()
			return "", &FetchError{URL: url, Err: err}
		}

		body, fetchErr, retryable := f.fetchOnce(ctx, url)
		if fetchErr == nil {
			return body, nil
		}
		lastErr = fetchErr

		f.logger.Warn("Page fetch failed",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Error(fetchErr))

		if !retryable || attempt == f.maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			util.FetchFailuresTotal.WithLabelValues("cancelled").Inc()
			return "", &FetchError{URL: url, Err: ctx.Err()}
		case <-time.After(f.backoff << (attempt - 1)):
		}
	}

	return "", lastErr
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, url string) (string, *FetchError, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		util.FetchFailuresTotal.WithLabelValues("invalid_request").Inc()
		return "", &FetchError{URL: url, Err: err}, false
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		util.FetchFailuresTotal.WithLabelValues("network").Inc()
		return "", &FetchError{URL: url, Err: err}, ctx.Err() == nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, f.maxBody))
		util.FetchFailuresTotal.WithLabelValues("status").Inc()
		return "", &FetchError{
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        errors.New(http.StatusText(resp.StatusCode)),
		}, resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		util.FetchFailuresTotal.WithLabelValues("network").Inc()
		return "", &FetchError{URL: url, Err: err}, ctx.Err() == nil
	}
	if int64(len(body)) > f.maxBody {
		util.FetchFailuresTotal.WithLabelValues("too_large").Inc()
		return "", &FetchError{URL: url, Err: ErrBodyTooLarge}, false
	}

	return string(body), nil, false
}
