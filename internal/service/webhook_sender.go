package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	standardwebhooks "github.com/standard-webhooks/standard-webhooks/libraries/go"

	"github.com/retailiq/hub/internal/observability"
)

const (
	webhookTimeout   = 15 * time.Second
	webhookUserAgent = "retailiq-hub-webhooks/1"
	// Only this much of a response body is read so keep-alive connections can be reused.
	maxDrainBytes = 64 << 10
)

// ErrEndpointGone is returned when the endpoint answers 410 Gone. Retrying will not help.
var ErrEndpointGone = errors.New("webhook endpoint returned 410 Gone")

// DeliveryError is a non-2xx answer from the webhook endpoint.
type DeliveryError struct {
	StatusCode int
}

func (e *DeliveryError) Error() string {
	return "webhook endpoint returned status " + strconv.Itoa(e.StatusCode)
}

// WebhookSender delivers one file status event.
type WebhookSender interface {
	Send(ctx context.Context, payload *WebhookPayload) error
}

// HTTPWebhookSender POSTs Standard Webhooks signed payloads to one endpoint. Redirects are
// not followed: a moved endpoint is a configuration error, not something to chase.
type HTTPWebhookSender struct {
	url     string
	signer  *standardwebhooks.Webhook
	client  *http.Client
	metrics observability.WebhookMetrics
	now     func() time.Time
}

// NewHTTPWebhookSender creates a sender for url. signingKey is the whsec_-prefixed base64
// secret shared with the receiver. metrics may be nil.
func NewHTTPWebhookSender(url, signingKey string, metrics observability.WebhookMetrics) (*HTTPWebhookSender, error) {
	signer, err := standardwebhooks.NewWebhook(signingKey)
	if err != nil {
		return nil, fmt.Errorf("create webhook signer: %w", err)
	}

	return &HTTPWebhookSender{
		url:    url,
		signer: signer,
		client: &http.Client{
			Timeout:       webhookTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		metrics: metrics,
		now:     time.Now,
	}, nil
}

// Send delivers payload. A 410 yields ErrEndpointGone, any other non-2xx a *DeliveryError.
func (s *HTTPWebhookSender) Send(ctx context.Context, payload *WebhookPayload) error {
	start := s.now()
	err := s.post(ctx, payload)

	if s.metrics != nil {
		s.metrics.RecordDelivery(ctx, payload.Type, deliveryStatus(err), s.now().Sub(start))
	}

	return err
}

func deliveryStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrEndpointGone):
		return "gone"
	default:
		return "failed"
	}
}

func (s *HTTPWebhookSender) post(ctx context.Context, payload *WebhookPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	msgID := payload.ID.String()
	sentAt := s.now()

	signature, err := s.signer.Sign(msgID, sentAt, body)
	if err != nil {
		return fmt.Errorf("sign webhook: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", webhookUserAgent)
	req.Header.Set(standardwebhooks.HeaderWebhookID, msgID)
	req.Header.Set(standardwebhooks.HeaderWebhookSignature, signature)
	req.Header.Set(standardwebhooks.HeaderWebhookTimestamp, strconv.FormatInt(sentAt.Unix(), 10))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}

	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))
	_ = resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone:
		slog.WarnContext(ctx, "webhook endpoint gone, dropping event",
			"event_id", msgID,
			"file_id", payload.Data.FileID,
		)

		return ErrEndpointGone
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return &DeliveryError{StatusCode: resp.StatusCode}
	default:
		return nil
	}
}
