// Package notify delivers human-readable retraining outcome messages.
// Delivery is fire-and-forget: a failed send never affects the retraining
// result.
package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Notifier delivers a short outcome message to a human channel.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Noop discards all messages.
type Noop struct{}

// Notify implements Notifier.
func (Noop) Notify(context.Context, string) error { return nil }

// Telegram posts messages to a Telegram chat via the bot API.
type Telegram struct {
	token  string
	chatID string
	client *http.Client
	logger *zap.Logger
}

// NewTelegram creates a Telegram notifier.
func NewTelegram(token, chatID string, logger *zap.Logger) *Telegram {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Telegram{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger.Named("telegram"),
	}
}

// Notify implements Notifier.
func (t *Telegram) Notify(ctx context.Context, message string) error {
	endpoint := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)
	form := url.Values{
		"chat_id": {t.chatID},
		"text":    {message},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram send: status %d", resp.StatusCode)
	}
	return nil
}
