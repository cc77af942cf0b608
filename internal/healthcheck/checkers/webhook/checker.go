package webhookchecker

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hsitotv/relaybot/internal/channel/adapters/telegram"
	"github.com/hsitotv/relaybot/internal/healthcheck"
)

const (
	checkTypeWebhook = "webhook.registration"
	checkTimeout     = 5 * time.Second
	// recentErrorWindow decides how long a delivery error reported by
	// Telegram keeps the check in warning.
	recentErrorWindow = time.Hour
	// resultTTL bounds how often /health reaches the Bot API.
	resultTTL = 30 * time.Second
)

// Inspector reads the webhook registered with Telegram.
type Inspector interface {
	WebhookInfo(ctx context.Context) (telegram.WebhookStatus, error)
}

// Checker compares the registered webhook against the expected target.
type Checker struct {
	logger    *slog.Logger
	inspector Inspector
	expected  string
	now       func() time.Time

	mu       sync.Mutex
	cached   healthcheck.CheckResult
	cachedAt time.Time
}

// NewChecker creates a webhook health checker. expected is the full URL
// passed to setWebhook.
func NewChecker(log *slog.Logger, inspector Inspector, expected string) *Checker {
	if log == nil {
		log = slog.Default()
	}
	return &Checker{
		logger:    log.With(slog.String("checker", "healthcheck_webhook")),
		inspector: inspector,
		expected:  strings.TrimSpace(expected),
		now:       time.Now,
	}
}

// ListChecks reports one webhook check. The URLs are never included because
// the path carries the bot token.
func (c *Checker) ListChecks(ctx context.Context) []healthcheck.CheckResult {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return []healthcheck.CheckResult{}
	}
	item := healthcheck.CheckResult{
		ID:   checkTypeWebhook,
		Type: checkTypeWebhook,
	}
	if c.inspector == nil {
		item.Status = healthcheck.StatusWarn
		item.Summary = "Webhook inspector is not available."
		return []healthcheck.CheckResult{item}
	}
	if c.expected == "" {
		item.Status = healthcheck.StatusWarn
		item.Summary = "No webhook URL configured."
		return []healthcheck.CheckResult{item}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.cachedAt.IsZero() && c.now().Sub(c.cachedAt) < resultTTL {
		return []healthcheck.CheckResult{c.cached}
	}
	item = c.inspect(ctx, item)
	c.cached = item
	c.cachedAt = c.now()
	return []healthcheck.CheckResult{item}
}

func (c *Checker) inspect(ctx context.Context, item healthcheck.CheckResult) healthcheck.CheckResult {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	info, err := c.inspector.WebhookInfo(ctx)
	if err != nil {
		// Transport errors embed the request URL, which carries the token.
		c.logger.Warn("webhook info failed", slog.Any("error", err))
		item.Status = healthcheck.StatusWarn
		item.Summary = "Webhook info is unavailable."
		return item
	}

	item.Metadata = map[string]any{
		"pending_updates": info.PendingUpdateCount,
		"registered":      info.URL != "",
	}
	switch {
	case info.URL != c.expected:
		item.Status = healthcheck.StatusError
		item.Summary = "Webhook is not registered at the expected URL."
	case info.LastErrorMessage != "" && c.now().Sub(info.LastErrorAt) < recentErrorWindow:
		item.Status = healthcheck.StatusWarn
		item.Summary = "Telegram reported a recent delivery error."
		item.Detail = info.LastErrorMessage
		item.Metadata["last_error_at"] = info.LastErrorAt.UTC().Format(time.RFC3339)
	default:
		item.Status = healthcheck.StatusOK
		item.Summary = "Webhook is registered."
	}
	return item
}
