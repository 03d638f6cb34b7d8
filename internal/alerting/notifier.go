// Package alerting batches review events and delivers them through ntfy.
// Events are recorded immediately but sent on an interval; an event is only
// marked alerted after the push was confirmed delivered.
package alerting

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const userAgent = "photo-courier/1.0"

// Notification is one push message.
type Notification struct {
	Title    string
	Message  string
	Tags     []string
	Priority string
}

// Notifier delivers notifications. Send must only return nil when the
// message was accepted by the delivery channel.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// NewNotifier builds an ntfy-backed notifier, or a noop one when no topic
// is configured.
func NewNotifier(topic string) Notifier {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return noopNotifier{}
	}
	return &ntfyNotifier{
		endpoint: topic,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// transportError marks a failure before any ntfy response arrived; always
// worth retrying.
type transportError struct {
	err error
}

func (e *transportError) Error() string   { return fmt.Sprintf("send ntfy notification: %v", e.err) }
func (e *transportError) Unwrap() error   { return e.err }
func (e *transportError) Transient() bool { return true }

// statusError is a non-2xx ntfy response. Throttling and server errors are
// transient; anything else means the request itself is wrong.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("ntfy returned %d: %s", e.status, e.body)
}

func (e *statusError) Transient() bool {
	return e.status == http.StatusTooManyRequests || e.status >= 500
}

type noopNotifier struct{}

func (noopNotifier) Send(ctx context.Context, n Notification) error { return nil }

type ntfyNotifier struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyNotifier) Send(ctx context.Context, data Notification) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.Message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.Title != "" {
		req.Header.Set("Title", data.Title)
	}
	if len(data.Tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.Tags, ","))
	}
	if data.Priority != "" && data.Priority != "default" {
		req.Header.Set("Priority", data.Priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return &transportError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
