// Package notifications delivers job lifecycle notifications via ntfy.
package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"upres/internal/config"
)

const userAgent = "Upres/0.1.0"

// Service defines the notification surface exposed to the pipeline.
type Service interface {
	NotifyJobStarted(ctx context.Context, sourceName string) error
	NotifyJobCompleted(ctx context.Context, sourceName, resultName string) error
	NotifyJobFailed(ctx context.Context, sourceName, reason string) error
	NotifyJobCanceled(ctx context.Context, sourceName string) error
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

func (n *ntfyService) NotifyJobStarted(ctx context.Context, sourceName string) error {
	data := payload{
		title:   "Upres - Job Started",
		message: fmt.Sprintf("Enhancing: %s", strings.TrimSpace(sourceName)),
		tags:    []string{"upres", "job", "started"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobCompleted(ctx context.Context, sourceName, resultName string) error {
	data := payload{
		title:   "Upres - Job Complete",
		message: fmt.Sprintf("Finished: %s -> %s", strings.TrimSpace(sourceName), strings.TrimSpace(resultName)),
		tags:    []string{"upres", "job", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, sourceName, reason string) error {
	data := payload{
		title:    "Upres - Job Failed",
		message:  fmt.Sprintf("Failed: %s (%s)", strings.TrimSpace(sourceName), strings.TrimSpace(reason)),
		tags:     []string{"upres", "job", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobCanceled(ctx context.Context, sourceName string) error {
	data := payload{
		title:   "Upres - Job Canceled",
		message: fmt.Sprintf("Canceled: %s", strings.TrimSpace(sourceName)),
		tags:    []string{"upres", "job", "canceled"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:   "Upres - Test",
		message: "Notifications are working",
		tags:    []string{"upres", "test"},
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

func (noopService) NotifyJobStarted(context.Context, string) error           { return nil }
func (noopService) NotifyJobCompleted(context.Context, string, string) error { return nil }
func (noopService) NotifyJobFailed(context.Context, string, string) error    { return nil }
func (noopService) NotifyJobCanceled(context.Context, string) error          { return nil }
func (noopService) TestNotification(context.Context) error                   { return nil }
