// Package webhook delivers approval notifications as JSON HTTP POST requests.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/viant/hitloop/service/delivery"
	"github.com/viant/hitloop/tracing"
)

// SignatureHeader carries hex encoded HMAC-SHA256 of the request body
const SignatureHeader = "X-Hitloop-Signature"

// Config represents webhook settings
type Config struct {
	URL     string            `json:"url" yaml:"url"`
	Headers map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Secret  string            `json:"secret,omitempty" yaml:"secret,omitempty"`
	Timeout time.Duration     `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// StatusError is returned for non success responses
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Sender posts payloads to a webhook
type Sender struct {
	config Config
	client *http.Client
}

// Send posts payload once
func (s *Sender) Send(ctx context.Context, payload *delivery.Payload) error {
	ctx, span := tracing.StartSpan(ctx, "webhook.send", "CLIENT")
	body, err := json.Marshal(payload)
	if err != nil {
		tracing.EndSpan(span, err)
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.URL, bytes.NewReader(body))
	if err != nil {
		tracing.EndSpan(span, err)
		return fmt.Errorf("failed to create request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	for k, v := range s.config.Headers {
		request.Header.Set(k, v)
	}
	if s.config.Secret != "" {
		request.Header.Set(SignatureHeader, "sha256="+Sign(s.config.Secret, body))
	}
	response, err := s.client.Do(request)
	if err != nil {
		tracing.EndSpan(span, err)
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	defer response.Body.Close()
	span.SetStatusFromHTTPCode(response.StatusCode)
	if response.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(response.Body, 512))
		err = &StatusError{StatusCode: response.StatusCode, Body: string(data)}
		tracing.EndSpan(span, err)
		return err
	}
	_, _ = io.Copy(io.Discard, response.Body)
	tracing.EndSpan(span, nil)
	return nil
}

// Sign returns hex encoded HMAC-SHA256 of body
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks signature header value against body
func Verify(secret string, body []byte, header string) bool {
	const prefix = "sha256="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	return hmac.Equal([]byte(header[len(prefix):]), []byte(Sign(secret, body)))
}

// New creates a webhook sender
func New(config Config, client *http.Client) (*Sender, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("webhook url cannot be empty")
	}
	if client == nil {
		timeout := config.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Sender{config: config, client: client}, nil
}

var _ delivery.Sender = (*Sender)(nil)
