// Package notification delivers triggered alerts to the external
// process-alerts endpoint, which performs the actual email or SMS send.
package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/greenfield-iot/agrialert/internal/conf"
	"github.com/greenfield-iot/agrialert/internal/errors"
	"github.com/greenfield-iot/agrialert/internal/logger"
)

// ProcessAlertsPath is appended to the configured endpoint.
const ProcessAlertsPath = "/process-alerts"

const (
	// maxErrorBody bounds how much of a failed response is kept for logging.
	maxErrorBody = 512
	// maxRetryAfter caps a server-provided Retry-After.
	maxRetryAfter = 30 * time.Second
)

// Sender is the engine-facing contract. *Dispatcher implements it.
type Sender interface {
	Dispatch(ctx context.Context, req *Request) (*Response, error)
}

// Dispatcher POSTs alerts to the process-alerts endpoint with bounded
// exponential backoff.
type Dispatcher struct {
	url            string
	client         *http.Client
	tokens         oauth2.TokenSource
	limiter        *rate.Limiter
	timeout        time.Duration
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	log            logger.Logger
}

// Option customizes a Dispatcher.
type Option func(*Dispatcher)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

// WithTokenSource overrides the token source derived from settings.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(d *Dispatcher) { d.tokens = ts }
}

// NewDispatcher builds a dispatcher from settings.
func NewDispatcher(settings *conf.NotificationSettings, log logger.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		client:         &http.Client{},
		timeout:        settings.Timeout.Std(),
		maxAttempts:    max(settings.Retry.MaxAttempts, 1),
		initialBackoff: settings.Retry.InitialBackoff.Std(),
		maxBackoff:     settings.Retry.MaxBackoff.Std(),
		log:            log.Module("notification"),
	}
	if settings.Endpoint != "" {
		d.url = strings.TrimRight(settings.Endpoint, "/") + ProcessAlertsPath
	}
	if settings.RateLimit > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(settings.RateLimit), max(settings.Burst, 1))
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.tokens == nil {
		d.tokens = NewTokenSource(context.Background(), settings, d.client)
	}
	if d.tokens == nil {
		d.log.Warn("no notification credentials configured, dispatching without Authorization header")
	}
	return d
}

// URL returns the full process-alerts URL, empty when unconfigured.
func (d *Dispatcher) URL() string { return d.url }

// Dispatch sends one alert. Network errors, 429 and 5xx responses are
// retried; any other non-2xx response fails immediately.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	resp := &Response{}
	defer func() { resp.Duration = time.Since(start) }()

	if d.url == "" {
		return resp, errors.Newf("notification endpoint not configured").
			Component("notification").
			Category(errors.CategoryConfiguration).
			Build()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return resp, errors.New(fmt.Errorf("failed to encode dispatch request: %w", err)).
			Component("notification").
			Category(errors.CategoryInternal).
			Build()
	}

	backoff := d.initialBackoff
	var lastErr error
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		resp.Attempts = attempt

		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return resp, d.networkError(fmt.Errorf("rate limiter: %w", err), req, attempt, 0)
			}
		}

		status, retryAfter, err := d.send(ctx, body)
		resp.StatusCode = status
		if err == nil {
			if attempt > 1 {
				d.log.Info("dispatch succeeded after retry",
					logger.String("alert_id", req.Alert.ID),
					logger.Int("attempts", attempt))
			}
			return resp, nil
		}
		lastErr = err

		if !retryable(status) || attempt == d.maxAttempts {
			break
		}

		wait := backoff
		if retryAfter > 0 {
			wait = min(retryAfter, maxRetryAfter)
		}
		d.log.Warn("dispatch attempt failed, retrying",
			logger.String("alert_id", req.Alert.ID),
			logger.Int("attempt", attempt),
			logger.Int("status", status),
			logger.Duration("backoff", wait),
			logger.Error(err))

		select {
		case <-ctx.Done():
			return resp, d.networkError(fmt.Errorf("dispatch cancelled: %w (last error: %w)", ctx.Err(), lastErr), req, attempt, status)
		case <-time.After(wait):
		}
		backoff = min(backoff*2, d.maxBackoff)
	}

	return resp, d.networkError(lastErr, req, resp.Attempts, resp.StatusCode)
}

// send performs one HTTP attempt. status is 0 when no response was received.
func (d *Dispatcher) send(ctx context.Context, body []byte) (status int, retryAfter time.Duration, err error) {
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	if d.tokens != nil {
		token, err := d.tokens.Token()
		if err != nil {
			return 0, 0, fmt.Errorf("failed to obtain bearer token: %w", err)
		}
		// Always "Bearer", whatever casing the token server used.
		httpReq.Header.Set("Authorization", "Bearer "+token.AccessToken)
	}

	res, err := d.client.Do(httpReq)
	if err != nil {
		return 0, 0, fmt.Errorf("dispatch request failed: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, res.Body)
		return res.StatusCode, 0, nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
	return res.StatusCode, parseRetryAfter(res.Header.Get("Retry-After")),
		&StatusError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(snippet))}
}

func (d *Dispatcher) networkError(err error, req *Request, attempts, status int) error {
	return errors.New(err).
		Component("notification").
		Category(errors.CategoryNetwork).
		Context("alert_id", req.Alert.ID).
		Context("attempts", attempts).
		Context("status", status).
		Build()
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("dispatch endpoint returned %d", e.StatusCode)
	}
	return fmt.Sprintf("dispatch endpoint returned %d: %s", e.StatusCode, e.Body)
}

// retryable reports whether an attempt ending in status may be retried.
// Status 0 means a transport failure.
func retryable(status int) bool {
	return status == 0 || status == http.StatusTooManyRequests || status >= 500
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
