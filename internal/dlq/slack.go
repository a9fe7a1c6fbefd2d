package dlq

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const slackTimeout = 5 * time.Second

// SlackNotifier posts dead-letter alerts to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewSlackNotifier constructs a notifier for the given webhook URL.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: slackTimeout},
	}
}

type slackMessage struct {
	Text string `json:"text"`
}

// Notify posts one alert. A non-2xx response is an error.
func (n *SlackNotifier) Notify(ctx context.Context, topic, orderID, reason string) error {
	msg := slackMessage{
		Text: fmt.Sprintf("🚨 *DLQ Alert* 🚨\nTopic: `%s`\nOrder ID: `%s`\nError: %s",
			topic, orderID, reason),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal slack message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("post slack webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned %d", resp.StatusCode)
	}
	return nil
}

// LogNotifier writes alerts to the logger. Used when no webhook is
// configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(ctx context.Context, topic, orderID, reason string) error {
	n.logger.Warn("dead letter alert",
		"topic", topic, "order_id", orderID, "reason", reason)
	return nil
}
