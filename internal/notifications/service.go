package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tsundoku/internal/config"
	"tsundoku/internal/services"
)

const userAgent = "Tsundoku/1.0"

// Event names a notification type.
type Event string

const (
	EventTitleCompleted     Event = "title_completed"
	EventAnnouncementsFound Event = "announcements_found"
	EventCheckFailures      Event = "check_failures"
	EventTest               Event = "test"
)

// Payload carries the values a notification message is built from.
type Payload map[string]any

// Service publishes notifications.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds an ntfy-backed service, or a no-op when no topic is set.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := cfg.NotificationTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventTitleCompleted:
		title := strings.TrimSpace(stringValue(payload, "title"))
		if title == "" {
			title = fmt.Sprintf("title %d", intValue(payload, "titleId"))
		}
		body := fmt.Sprintf("✅ %s finished airing", title)
		if reason := strings.TrimSpace(stringValue(payload, "reason")); reason != "" {
			body = fmt.Sprintf("%s (%s)", body, reason)
		}
		return message{
			title:    "Tsundoku - Ready to Watch",
			body:     body,
			tags:     []string{"tsundoku", "completed"},
			priority: "high",
		}, true
	case EventAnnouncementsFound:
		count := intValue(payload, "count")
		if count <= 0 {
			return message{}, false
		}
		noun := "announcements"
		if count == 1 {
			noun = "announcement"
		}
		return message{
			title: "Tsundoku - New Announcements",
			body:  fmt.Sprintf("📣 %d new %s for titles you finished", count, noun),
			tags:  []string{"tsundoku", "announcements"},
		}, true
	case EventCheckFailures:
		failed := intValue(payload, "failed")
		if failed <= 0 {
			return message{}, false
		}
		return message{
			title: "Tsundoku - Status Check Problems",
			body:  fmt.Sprintf("⚠️ %d of %d titles could not be checked: %s", failed, intValue(payload, "checked"), stringValue(payload, "kind")),
			tags:  []string{"tsundoku", "error"},
		}, true
	case EventTest:
		return message{
			title:    "Tsundoku - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"tsundoku", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func stringValue(payload Payload, key string) string {
	if payload == nil {
		return ""
	}
	switch v := payload[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func intValue(payload Payload, key string) int64 {
	if payload == nil {
		return 0
	}
	switch v := payload[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "notifications", "build request", n.endpoint, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrNetwork, "notifications", "send", "ntfy request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return services.Wrap(services.ErrServer, "notifications", "send", fmt.Sprintf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
