package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hsitotv/relaybot/internal/healthcheck"
)

// UsageStats reports ledger totals.
type UsageStats interface {
	TotalUsers() int
	TotalDownloads() int
}

// VerifiedCounter reports the number of users with a fresh membership check.
type VerifiedCounter interface {
	VerifiedCount() int
}

// ChannelInfo lists the configured channel ids shown on /health.
type ChannelInfo struct {
	Movies   int64
	Series   int64
	Required []int64
}

// HealthResponse is the /health payload.
type HealthResponse struct {
	Status           string                    `json:"status"`
	BotActive        bool                      `json:"bot_active"`
	Users            int                       `json:"users"`
	TotalDownloads   int                       `json:"total_downloads"`
	VerifiedUsers    int                       `json:"verified_users"`
	Channels         HealthChannels            `json:"canales"`
	RequiredChannels []int64                   `json:"required_channels"`
	Checks           []healthcheck.CheckResult `json:"checks"`
}

// HealthChannels names the content channels by their user-facing labels.
type HealthChannels struct {
	Movies int64 `json:"peliculas"`
	Series int64 `json:"series"`
}

type HealthHandler struct {
	logger   *slog.Logger
	stats    UsageStats
	verified VerifiedCounter
	checker  healthcheck.Checker
	channels ChannelInfo
}

func NewHealthHandler(log *slog.Logger, stats UsageStats, verified VerifiedCounter, checker healthcheck.Checker, channels ChannelInfo) *HealthHandler {
	if log == nil {
		log = slog.Default()
	}
	return &HealthHandler{
		logger:   log.With(slog.String("handler", "health")),
		stats:    stats,
		verified: verified,
		checker:  checker,
		channels: channels,
	}
}

func (h *HealthHandler) Register(e *echo.Echo) {
	e.GET("/health", h.Health)
	e.HEAD("/health", h.HealthHead)
}

// Health reports usage totals and runtime checks. A failing check
// answers 503 so uptime probes notice.
func (h *HealthHandler) Health(c echo.Context) error {
	resp := h.snapshot(c)
	code := http.StatusOK
	if resp.Status == healthcheck.StatusError {
		code = http.StatusServiceUnavailable
		h.logger.Warn("health degraded", slog.Int("checks", len(resp.Checks)))
	}
	return c.JSON(code, resp)
}

func (h *HealthHandler) HealthHead(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func (h *HealthHandler) snapshot(c echo.Context) HealthResponse {
	checks := []healthcheck.CheckResult{}
	if h.checker != nil {
		if items := h.checker.ListChecks(c.Request().Context()); items != nil {
			checks = items
		}
	}
	required := h.channels.Required
	if required == nil {
		required = []int64{}
	}
	resp := HealthResponse{
		Status:           healthcheck.Overall(checks),
		BotActive:        true,
		Channels:         HealthChannels{Movies: h.channels.Movies, Series: h.channels.Series},
		RequiredChannels: required,
		Checks:           checks,
	}
	if h.stats != nil {
		resp.Users = h.stats.TotalUsers()
		resp.TotalDownloads = h.stats.TotalDownloads()
	}
	if h.verified != nil {
		resp.VerifiedUsers = h.verified.VerifiedCount()
	}
	return resp
}
