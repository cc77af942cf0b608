package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	neturl "net/url"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// WebhookStatus mirrors getWebhookInfo.
type WebhookStatus struct {
	URL                string
	PendingUpdateCount int
	LastErrorAt        time.Time
	LastErrorMessage   string
	MaxConnections     int
}

// SetWebhook registers url as the update target.
func (a *Adapter) SetWebhook(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	url = strings.TrimSpace(url)
	if url == "" {
		return errors.New("webhook url is required")
	}
	cfg, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return fmt.Errorf("build webhook config: %w", err)
	}
	resp, err := a.bot.Request(cfg)
	if err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	if !resp.Ok {
		return fmt.Errorf("set webhook: %s", resp.Description)
	}
	// The path carries the token; log the host only.
	host := ""
	if parsed, err := neturl.Parse(url); err == nil {
		host = parsed.Host
	}
	a.logger.Info("webhook registered", slog.String("host", host))
	return nil
}

// WebhookInfo returns the webhook currently registered with Telegram.
func (a *Adapter) WebhookInfo(ctx context.Context) (WebhookStatus, error) {
	if err := ctx.Err(); err != nil {
		return WebhookStatus{}, err
	}
	info, err := a.bot.GetWebhookInfo()
	if err != nil {
		return WebhookStatus{}, fmt.Errorf("get webhook info: %w", err)
	}
	status := WebhookStatus{
		URL:                info.URL,
		PendingUpdateCount: info.PendingUpdateCount,
		LastErrorMessage:   info.LastErrorMessage,
		MaxConnections:     info.MaxConnections,
	}
	if info.LastErrorDate > 0 {
		status.LastErrorAt = time.Unix(int64(info.LastErrorDate), 0).UTC()
	}
	return status, nil
}

// DeleteWebhook removes the registered webhook.
func (a *Adapter) DeleteWebhook(ctx context.Context, dropPending bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := a.bot.Request(tgbotapi.DeleteWebhookConfig{DropPendingUpdates: dropPending}); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	a.logger.Info("webhook deleted", slog.Bool("drop_pending", dropPending))
	return nil
}
