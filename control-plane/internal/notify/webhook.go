package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/pilot-net/agent-pulse/pkg/types"
)

// WebhookConfig configures a WebhookSink.
type WebhookConfig struct {
	URL   string
	Token string

	Timeout    time.Duration
	Attempts   uint
	RetryDelay time.Duration

	// RateLimit is the sustained delivery rate per second.
	RateLimit float64
	RateBurst int

	// TripAfter consecutive failures opens the breaker for OpenFor.
	TripAfter uint32
	OpenFor   time.Duration
}

// DefaultWebhookConfig returns defaults for url.
func DefaultWebhookConfig(url, token string) WebhookConfig {
	return WebhookConfig{
		URL:        url,
		Token:      token,
		Timeout:    5 * time.Second,
		Attempts:   3,
		RetryDelay: 200 * time.Millisecond,
		RateLimit:  10,
		RateBurst:  5,
		TripAfter:  5,
		OpenFor:    30 * time.Second,
	}
}

// WebhookSink POSTs notifications as JSON.
//
// Deliveries are rate limited, retried with backoff on network errors and
// 5xx responses, and short-circuited while the endpoint keeps failing.
type WebhookSink struct {
	config     WebhookConfig
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	limiter    *rate.Limiter
}

// NewWebhookSink creates a webhook sink.
func NewWebhookSink(cfg WebhookConfig) *WebhookSink {
	trip := cfg.TripAfter
	return &WebhookSink{
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "notify-webhook",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     cfg.OpenFor,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= trip
			},
		}),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
	}
}

func (w *WebhookSink) Name() string { return "webhook" }

// State reports the breaker state.
func (w *WebhookSink) State() gobreaker.State {
	return w.breaker.State()
}

func (w *WebhookSink) Notify(ctx context.Context, n types.Notification) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}

	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}

	_, err = w.breaker.Execute(func() (interface{}, error) {
		return nil, retry.New(
			retry.Context(ctx),
			retry.Attempts(w.config.Attempts),
			retry.Delay(w.config.RetryDelay),
			retry.DelayType(retry.BackOffDelay),
			retry.LastErrorOnly(true),
		).Do(func() error {
			return w.post(ctx, body)
		})
	})
	return err
}

func (w *WebhookSink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(body))
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if w.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+w.config.Token)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err = fmt.Errorf("webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return err
	}
	return retry.Unrecoverable(err)
}
