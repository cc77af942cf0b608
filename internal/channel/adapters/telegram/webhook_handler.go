package telegram

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/labstack/echo/v4"

	"github.com/hsitotv/relaybot/internal/channel"
)

const webhookMaxBodyBytes int64 = 1 << 20 // 1 MiB

// Webhook update results reported to the observer.
const (
	WebhookAccepted  = "accepted"
	WebhookIgnored   = "ignored"
	WebhookRejected  = "rejected"
	WebhookMalformed = "malformed"
	WebhookBusy      = "busy"
)

// Submitter queues inbound messages for processing. Submit must not block on
// the work itself.
type Submitter interface {
	Submit(msg channel.InboundMessage) error
}

// WebhookObserver counts webhook deliveries by result.
type WebhookObserver interface {
	ObserveWebhookUpdate(result string)
}

// WebhookHandler receives Telegram update callbacks.
type WebhookHandler struct {
	logger    *slog.Logger
	token     string
	submitter Submitter
	observer  WebhookObserver
}

// NewWebhookHandler creates the public webhook handler. Requests whose path
// token differs from token are refused.
func NewWebhookHandler(log *slog.Logger, token string, submitter Submitter, observer WebhookObserver) *WebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &WebhookHandler{
		logger:    log.With(slog.String("handler", "telegram_webhook")),
		token:     strings.TrimSpace(token),
		submitter: submitter,
		observer:  observer,
	}
}

// Register registers webhook callback routes.
func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/webhook/:token", h.Handle)
}

// Handle acknowledges an update once it is queued. Processing happens on the
// dispatcher, so Telegram gets its answer without waiting for relay work.
func (h *WebhookHandler) Handle(c echo.Context) error {
	if h.submitter == nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "telegram webhook dependencies not configured")
	}
	if h.token == "" || subtle.ConstantTimeCompare([]byte(c.Param("token")), []byte(h.token)) != 1 {
		h.observe(WebhookRejected)
		return echo.NewHTTPError(http.StatusForbidden, "invalid webhook token")
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, webhookMaxBodyBytes+1))
	if err != nil {
		h.observe(WebhookMalformed)
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("read body: %v", err))
	}
	if int64(len(payload)) > webhookMaxBodyBytes {
		h.observe(WebhookMalformed)
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, fmt.Sprintf("payload too large: max %d bytes", webhookMaxBodyBytes))
	}
	var update tgbotapi.Update
	if err := json.Unmarshal(payload, &update); err != nil {
		h.observe(WebhookMalformed)
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid telegram update: %v", err))
	}

	msg, ok := ToInbound(update)
	if !ok {
		h.observe(WebhookIgnored)
		return c.NoContent(http.StatusOK)
	}
	if err := h.submitter.Submit(msg); err != nil {
		h.observe(WebhookBusy)
		h.logger.Warn("submit update failed",
			slog.Int("update_id", update.UpdateID),
			slog.String("route", msg.RoutingKey()),
			slog.Any("error", err),
		)
		return echo.NewHTTPError(http.StatusServiceUnavailable, "bot is busy, retry later")
	}
	h.observe(WebhookAccepted)
	return c.NoContent(http.StatusOK)
}

func (h *WebhookHandler) observe(result string) {
	if h.observer != nil {
		h.observer.ObserveWebhookUpdate(result)
	}
}
