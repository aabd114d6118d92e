// Package edgar implements the rate-limited SEC EDGAR upstream client: the
// newest-first market filing feed, per-company submissions, and per-filing
// document fetches.
//
// SEC serves at most 10 requests per second per client and requires a
// descriptive User-Agent; both are enforced here so callers never have to
// think about it.
package edgar

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"insidertrack/pkg/core/form4"
)

const (
	defaultArchiveBaseURL = "https://www.sec.gov"
	defaultDataBaseURL    = "https://data.sec.gov"

	currentFeedPath   = "/cgi-bin/browse-edgar?action=getcurrent&type=4&owner=include&start=%d&count=%d&output=atom"
	submissionsPath   = "/submissions/CIK%s.json"
	companyTickerPath = "/files/company_tickers.json"
)

// Config controls the client. Zero values fall back to SEC-safe defaults.
type Config struct {
	UserAgent         string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	MaxRetries        int
	BackoffBase       time.Duration

	// Base URL overrides, used by tests to point at a local server.
	ArchiveBaseURL string
	DataBaseURL    string

	Logger *logrus.Logger
}

// Client talks to EDGAR through one shared token-bucket limiter. It is safe
// for concurrent use; parallel entity syncs share the same request budget.
type Client struct {
	httpClient  *http.Client
	limiter     *rate.Limiter
	userAgent   string
	archiveBase string
	dataBase    string
	maxRetries  int
	backoffBase time.Duration
	log         *logrus.Entry

	tickerMu    sync.RWMutex
	tickerCache map[string]tickerInfo
}

type tickerInfo struct {
	CIK  string
	Name string
}

// NewClient creates an EDGAR client.
func NewClient(cfg Config) *Client {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "insidertrack/1.0 (contact@example.com)"
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.ArchiveBaseURL == "" {
		cfg.ArchiveBaseURL = defaultArchiveBaseURL
	}
	if cfg.DataBaseURL == "" {
		cfg.DataBaseURL = defaultDataBaseURL
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}

	return &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		limiter:     rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		userAgent:   cfg.UserAgent,
		archiveBase: cfg.ArchiveBaseURL,
		dataBase:    cfg.DataBaseURL,
		maxRetries:  cfg.MaxRetries,
		backoffBase: cfg.BackoffBase,
		log:         cfg.Logger.WithField("component", "edgar"),
	}
}

// get performs one rate-limited GET with bounded retries. Throttling and
// transport failures back off exponentially on top of the steady-state
// limiter; other HTTP errors fail immediately.
func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoffBase << (attempt - 1)
			if te, ok := lastErr.(*form4.ThrottledError); ok && te.RetryAfter > delay {
				delay = te.RetryAfter
			}
			c.log.WithFields(logrus.Fields{"url": url, "attempt": attempt, "delay": delay}).
				Debug("retrying upstream request")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, err := c.getOnce(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err

		switch err.(type) {
		case *form4.ThrottledError, *form4.TransportError:
			continue
		default:
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) getOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &form4.TransportError{Op: "GET", URL: url, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &form4.TransportError{Op: "read", URL: url, Err: err}
		}
		return body, nil

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		return nil, &form4.ThrottledError{
			URL:        url,
			StatusCode: resp.StatusCode,
			RetryAfter: retryAfter(resp),
		}

	case resp.StatusCode >= 500:
		return nil, &form4.TransportError{
			Op: "GET", URL: url,
			Err: fmt.Errorf("upstream status %d", resp.StatusCode),
		}

	default:
		return nil, fmt.Errorf("GET %s: unexpected status %d", url, resp.StatusCode)
	}
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}
