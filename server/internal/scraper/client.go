package scraper

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/clubindex/clubindex/server/internal/config"
)

// maxBodyBytes caps how much of a response is read.
const maxBodyBytes = 10 << 20

const backoffMultiplier = 2.0

// errStatus reports a non-200 response.
type errStatus struct {
	code int
}

func (e *errStatus) Error() string { return fmt.Sprintf("unexpected status %d", e.code) }

// retryable reports whether a failed attempt is worth repeating. Transport
// errors, including per-request timeouts, are.
func retryable(err error) bool {
	var se *errStatus
	if errors.As(err, &se) {
		switch se.code {
		case http.StatusRequestTimeout, http.StatusTooManyRequests,
			http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return true
		}
		return false
	}
	return true
}

// userAgentRoundTripper sets the User-Agent on every outgoing request.
type userAgentRoundTripper struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	}
	return t.base.RoundTrip(req)
}

// buildHTTPClient constructs the client shared by all fetches of a scrape.
func buildHTTPClient(cfg config.ScraperConfig) *http.Client {
	tlsCfg := &tls.Config{
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // user-configured
	}
	base := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSClientConfig:     tlsCfg,
		MaxConnsPerHost:     cfg.Concurrency,
		MaxIdleConnsPerHost: cfg.Concurrency,
		IdleConnTimeout:     90 * time.Second,
	}
	return &http.Client{
		Transport: &userAgentRoundTripper{base: base, userAgent: cfg.UserAgent},
		Timeout:   cfg.Timeout,
	}
}

// fetch GETs url and returns at most maxBodyBytes of the body, retrying
// retryable failures up to the configured number of attempts.
func (s *Scraper) fetch(ctx context.Context, url string) ([]byte, error) {
	b := newBackoff(s.retry.InitialDelay, s.retry.MaxDelay)
	var lastErr error

	for attempt := 1; attempt <= s.retry.MaxAttempts; attempt++ {
		body, err := s.fetchOnce(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = fmt.Errorf("attempt %d/%d: %w", attempt, s.retry.MaxAttempts, err)

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !retryable(err) || attempt == s.retry.MaxAttempts {
			break
		}

		wait := b.next()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}

func (s *Scraper) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &errStatus{code: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// backoff implements truncated exponential backoff with jitter.
type backoff struct {
	max     time.Duration
	current time.Duration
}

func newBackoff(initial, maxDelay time.Duration) *backoff {
	return &backoff{max: maxDelay, current: initial}
}

// next returns the current backoff duration and advances the internal state.
func (b *backoff) next() time.Duration {
	d := b.current
	// Apply ±25 % jitter.
	jitter := time.Duration(float64(b.current) * 0.25 * (rand.Float64()*2 - 1)) //nolint:gosec // not crypto
	d += jitter
	if d < 0 {
		d = 0
	}

	b.current = time.Duration(float64(b.current) * backoffMultiplier)
	if b.current > b.max {
		b.current = b.max
	}
	return d
}
