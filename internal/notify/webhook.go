// GuardianShield Agents - Security Audit and Threat Detection
// Copyright 2026 Rexjaden
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/Rexjaden/guardianshield-agents-sub001

package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/Rexjaden/guardianshield-agents-sub001/internal/audit"
	"github.com/Rexjaden/guardianshield-agents-sub001/internal/logging"
)

// ErrCircuitOpen is returned while the webhook breaker is open.
var ErrCircuitOpen = errors.New("webhook circuit breaker open")

// WebhookConfig configures the webhook notifier.
type WebhookConfig struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
	// RateLimitPerMin caps deliveries. Zero disables rate limiting.
	RateLimitPerMin int
	// FailureThreshold consecutive failures open the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
}

// WebhookPayload is the JSON body posted to the endpoint.
type WebhookPayload struct {
	Alert     *audit.Alert `json:"alert"`
	EventType string       `json:"event_type"`
	Timestamp time.Time    `json:"timestamp"`
	Source    string       `json:"source"`
}

// WebhookNotifier posts alerts to an HTTP endpoint behind a circuit breaker
// and a token bucket rate limiter.
type WebhookNotifier struct {
	url     string
	headers map[string]string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[interface{}]
	limiter *rate.Limiter
	now     func() time.Time
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(cfg WebhookConfig) *WebhookNotifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	headers := make(map[string]string, len(cfg.Headers))
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	var limiter *rate.Limiter
	if cfg.RateLimitPerMin > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RateLimitPerMin)), 1)
	}

	threshold := cfg.FailureThreshold
	breaker := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        "webhook",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("Webhook circuit breaker state changed")
		},
	})

	return &WebhookNotifier{
		url:     cfg.URL,
		headers: headers,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		limiter: limiter,
		now:     time.Now,
	}
}

// Name returns the notifier name.
func (n *WebhookNotifier) Name() string {
	return "webhook"
}

// State returns the breaker state for health reporting.
func (n *WebhookNotifier) State() string {
	return n.breaker.State().String()
}

// Send posts the alert. It waits for the rate limiter, honoring ctx.
func (n *WebhookNotifier) Send(ctx context.Context, alert *audit.Alert) (bool, error) {
	if n.limiter != nil {
		if err := n.limiter.Wait(ctx); err != nil {
			return false, fmt.Errorf("webhook rate limit: %w", err)
		}
	}

	_, err := n.breaker.Execute(func() (interface{}, error) {
		return nil, n.post(ctx, alert)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false, ErrCircuitOpen
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (n *WebhookNotifier) post(ctx context.Context, alert *audit.Alert) error {
	body, err := json.Marshal(WebhookPayload{
		Alert:     alert,
		EventType: "security_alert",
		Timestamp: n.now().UTC(),
		Source:    "guardianshield",
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range n.headers {
		req.Header.Set(key, value)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
