// Package notify hands templated notifications to an external collaborator.
// Delivery is fire-and-forget: failures are observability events, never
// control flow.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Notification is a templated message keyed by a template identifier with a
// flat variable map.
type Notification struct {
	Template  string            `json:"template"`
	Recipient string            `json:"recipient"`
	Variables map[string]string `json:"variables"`
}

// Notifier sends templated notifications.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// HTTPNotifier posts notifications to the collaborator's HTTP API.
type HTTPNotifier struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

// NewHTTPNotifier creates a notifier for the given collaborator endpoint.
func NewHTTPNotifier(endpoint, token string) *HTTPNotifier {
	return &HTTPNotifier{
		endpoint: endpoint,
		token:    token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type notifierErrorResponse struct {
	Error string `json:"error"`
}

// Send posts a notification. At-most-one call per event; no retries here.
func (n *HTTPNotifier) Send(ctx context.Context, msg Notification) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if n.token != "" {
		req.Header.Set("Authorization", "Bearer "+n.token)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notification request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp notifierErrorResponse
		_ = json.Unmarshal(respBody, &errResp)
		return fmt.Errorf("notifier error (HTTP %d): %s", resp.StatusCode, errResp.Error)
	}
	return nil
}

// LogNotifier logs notifications instead of sending them. Used as fallback
// when no collaborator is configured.
type LogNotifier struct {
	logFn func(template, recipient string, variables map[string]string)
}

// NewLogNotifier creates a notifier that logs notifications.
func NewLogNotifier(logFn func(template, recipient string, variables map[string]string)) *LogNotifier {
	return &LogNotifier{logFn: logFn}
}

// Send logs the notification instead of sending it.
func (l *LogNotifier) Send(_ context.Context, msg Notification) error {
	if l.logFn != nil {
		l.logFn(msg.Template, msg.Recipient, msg.Variables)
	}
	return nil
}
