package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"loom/internal/config"
)

const userAgent = "Loom/0.1.0"

// Service defines the notification surface exposed to workflow components.
type Service interface {
	NotifyApprovalNeeded(ctx context.Context, taskID, preview string) error
	NotifyTaskCompleted(ctx context.Context, taskID string) error
	NotifyTaskFailed(ctx context.Context, taskID, reason string) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
}

func (n *ntfyService) NotifyApprovalNeeded(ctx context.Context, taskID, preview string) error {
	preview = strings.TrimSpace(preview)
	if len(preview) > 200 {
		preview = preview[:200] + "..."
	}
	message := fmt.Sprintf("Task %s is waiting for approval", taskID)
	if preview != "" {
		message = fmt.Sprintf("%s\nDraft: %s", message, preview)
	}
	data := payload{
		title:    "Loom - Approval Needed",
		message:  message,
		tags:     []string{"loom", "approval", "pending"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyTaskCompleted(ctx context.Context, taskID string) error {
	data := payload{
		title:   "Loom - Task Complete",
		message: fmt.Sprintf("Task %s finished successfully", taskID),
		tags:    []string{"loom", "task", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyTaskFailed(ctx context.Context, taskID, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "unknown"
	}
	data := payload{
		title:    "Loom - Task Failed",
		message:  fmt.Sprintf("Task %s failed: %s", taskID, reason),
		tags:     []string{"loom", "task", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Loom - Test",
		message:  "Notification system test",
		tags:     []string{"loom", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyApprovalNeeded(context.Context, string, string) error { return nil }
func (noopService) NotifyTaskCompleted(context.Context, string) error          { return nil }
func (noopService) NotifyTaskFailed(context.Context, string, string) error    { return nil }
func (noopService) TestNotification(context.Context) error                    { return nil }
