package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"loadwarden/pkg/logger"
	"loadwarden/pkg/monitor"
)

// DefaultCooldown is the minimum gap between two notifications of the same
// alert type. The monitor raises the same alert every tick while a limit stays
// breached.
const DefaultCooldown = 10 * time.Minute

// FeishuNotifier sends monitor alerts to a Feishu (Lark) webhook
type FeishuNotifier struct {
	webhookURL string
	client     *http.Client
	cooldown   time.Duration

	mu       sync.Mutex
	lastSent map[string]time.Time
	now      func() time.Time
}

// NewFeishuNotifier creates a notifier. An empty webhookURL falls back to the
// FEISHU_WEBHOOK_URL environment variable; with neither set notifications
// are disabled.
func NewFeishuNotifier(webhookURL string) *FeishuNotifier {
	if webhookURL != "" {
		logger.Info("Using Feishu webhook URL from config file")
	} else {
		webhookURL = os.Getenv("FEISHU_WEBHOOK_URL")
		if webhookURL != "" {
			logger.Info("Using Feishu webhook URL from environment variable")
		}
	}

	if webhookURL == "" {
		logger.Warn("Feishu webhook URL not configured (check config file or FEISHU_WEBHOOK_URL env), alert notifications will be disabled")
	}

	return &FeishuNotifier{
		webhookURL: webhookURL,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		cooldown: DefaultCooldown,
		lastSent: make(map[string]time.Time),
		now:      time.Now,
	}
}

// Enabled reports whether a webhook URL is configured
func (f *FeishuNotifier) Enabled() bool {
	return f.webhookURL != ""
}

// Hook returns a monitor alert hook that posts outside the monitor goroutine.
func (f *FeishuNotifier) Hook() monitor.AlertHook {
	return func(_ context.Context, alert monitor.Alert) {
		if !f.Enabled() || !f.allow(alert.Type) {
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), f.client.Timeout)
			defer cancel()
			if err := f.SendAlert(ctx, alert); err != nil {
				logger.WarnCtx(ctx, "failed to send alert notification: %v", err)
			}
		}()
	}
}

// allow applies the per-type cooldown
func (f *FeishuNotifier) allow(alertType string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	if last, ok := f.lastSent[alertType]; ok && now.Sub(last) < f.cooldown {
		return false
	}
	f.lastSent[alertType] = now
	return true
}

// SendAlert posts one alert card
func (f *FeishuNotifier) SendAlert(ctx context.Context, alert monitor.Alert) error {
	if f.webhookURL == "" {
		logger.WarnCtx(ctx, "Feishu webhook URL not configured, skipping notification")
		return nil
	}

	payload, err := json.Marshal(f.buildAlertMessage(alert))
	if err != nil {
		return fmt.Errorf("failed to marshal Feishu message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.webhookURL, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send Feishu notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("Feishu API returned status code: %d", resp.StatusCode)
	}

	logger.InfoCtx(ctx, "Feishu notification sent for %s alert", alert.Type)
	return nil
}

// buildAlertMessage builds a Feishu message card for a resource alert
func (f *FeishuNotifier) buildAlertMessage(alert monitor.Alert) map[string]interface{} {
	hostname, _ := os.Hostname()

	return map[string]interface{}{
		"msg_type": "interactive",
		"card": map[string]interface{}{
			"header": map[string]interface{}{
				"template": "red",
				"title": map[string]interface{}{
					"content": fmt.Sprintf("Resource limit exceeded: %s", alert.Type),
					"tag":     "plain_text",
				},
			},
			"elements": []interface{}{
				map[string]interface{}{
					"tag": "div",
					"text": map[string]interface{}{
						"content": alert.Message,
						"tag":     "lark_md",
					},
				},
				map[string]interface{}{
					"tag": "hr",
				},
				map[string]interface{}{
					"tag": "div",
					"fields": []interface{}{
						map[string]interface{}{
							"is_short": true,
							"text": map[string]interface{}{
								"content": fmt.Sprintf("**Value**\n%.1f%%", alert.Value),
								"tag":     "lark_md",
							},
						},
						map[string]interface{}{
							"is_short": true,
							"text": map[string]interface{}{
								"content": fmt.Sprintf("**Limit**\n%.1f%%", alert.Limit),
								"tag":     "lark_md",
							},
						},
					},
				},
				map[string]interface{}{
					"tag": "div",
					"text": map[string]interface{}{
						"content": fmt.Sprintf("**Host**: %s\n**Raised At**: %s", hostname, alert.Timestamp.Format("2006-01-02 15:04:05")),
						"tag":     "lark_md",
					},
				},
			},
		},
	}
}
