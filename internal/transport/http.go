// Package transport uploads rendered payloads to the collector over HTTP.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"osb-tracker/internal/observability"
)

var ErrDelivery = errors.New("transport: delivery failed")

type HTTP struct {
	client    *http.Client
	userAgent string
}

func NewHTTP(userAgent string, timeout time.Duration) *HTTP {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTP{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// Deliver POSTs body as JSON. Any non-2xx status is an ErrDelivery.
func (h *HTTP) Deliver(ctx context.Context, url, body string) (err error) {
	ctx, span := observability.StartDeliverySpan(ctx, url, len(body))
	defer func() { observability.EndSpanWithError(span, err) }()

	start := time.Now()
	defer func() { observability.DeliveryLatency.Observe(time.Since(start).Seconds()) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrDelivery, resp.StatusCode)
	}
	log.Debug().Str("url", url).Int("status", resp.StatusCode).Msg("collector accepted payload")
	return nil
}
