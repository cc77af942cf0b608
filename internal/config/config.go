package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath         = "config.toml"
	DefaultHTTPAddr           = ":8080"
	DefaultMoviesChannelID    = int64(-1002179007284)
	DefaultSeriesChannelID    = int64(-1002148331988)
	DefaultVerificationWindow = "1h"
	DefaultGraceMultiplier    = 2
	DefaultFreeLimit          = 3
	DefaultRelayPacing        = "1200ms"
	DefaultProgressEvery      = 3
	DefaultPurgeSchedule      = "@every 10m"
	DefaultKeepAliveSchedule  = "@every 5m"
	DefaultKeepAliveTimeout   = "10s"
	DefaultDispatchWorkers    = 8
	DefaultDispatchQueueSize  = 256
	DefaultBroadcastRate      = 10

	BatchCountingPerBatch = "per_batch"
	BatchCountingPerItem  = "per_item"
)

type Config struct {
	Log        LogConfig        `toml:"log"`
	Server     ServerConfig     `toml:"server"`
	Telegram   TelegramConfig   `toml:"telegram"`
	Content    ContentConfig    `toml:"content"`
	Membership MembershipConfig `toml:"membership"`
	Quota      QuotaConfig      `toml:"quota"`
	Relay      RelayConfig      `toml:"relay"`
	Janitor    JanitorConfig    `toml:"janitor"`
	Dispatch   DispatchConfig   `toml:"dispatch"`
	Admin      AdminConfig      `toml:"admin"`
}

type LogConfig struct {
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" validate:"oneof=text json"`
}

type ServerConfig struct {
	Addr string `toml:"addr" validate:"required"`
}

type TelegramConfig struct {
	BotToken    string `toml:"bot_token"`
	WebhookURL  string `toml:"webhook_url" validate:"omitempty,url"`
	APIEndpoint string `toml:"api_endpoint"`
}

// WebhookPath is the route Telegram posts updates to. The token in the path
// keeps the endpoint unguessable.
func (c TelegramConfig) WebhookPath() string {
	return "/webhook/" + c.BotToken
}

// WebhookTarget is the full URL registered with setWebhook.
func (c TelegramConfig) WebhookTarget() string {
	base := strings.TrimRight(strings.TrimSpace(c.WebhookURL), "/")
	if base == "" {
		return ""
	}
	return base + c.WebhookPath()
}

type ContentConfig struct {
	MoviesChannelID int64 `toml:"movies_channel_id" validate:"required"`
	SeriesChannelID int64 `toml:"series_channel_id" validate:"required,nefield=MoviesChannelID"`
}

type RequiredChannel struct {
	ID        int64  `toml:"id" validate:"required"`
	Name      string `toml:"name"`
	InviteURL string `toml:"invite_url" validate:"omitempty,url"`
}

type MembershipConfig struct {
	RequiredChannels   []RequiredChannel `toml:"required_channels" validate:"dive"`
	VerificationWindow string            `toml:"verification_window" validate:"required"`
	GraceMultiplier    int               `toml:"grace_multiplier" validate:"gte=1"`
}

// Window returns the parsed verification window.
func (c MembershipConfig) Window() time.Duration {
	return mustDuration(c.VerificationWindow, time.Hour)
}

// ChannelIDs lists the ids of every required channel in config order.
func (c MembershipConfig) ChannelIDs() []int64 {
	ids := make([]int64, 0, len(c.RequiredChannels))
	for _, ch := range c.RequiredChannels {
		ids = append(ids, ch.ID)
	}
	return ids
}

type QuotaConfig struct {
	FreeLimit int `toml:"free_limit" validate:"gte=0"`
}

type RelayConfig struct {
	Pacing        string `toml:"pacing" validate:"required"`
	ProgressEvery int    `toml:"progress_every" validate:"gte=1"`
	BatchCounting string `toml:"batch_counting" validate:"oneof=per_batch per_item"`
}

// PacingDuration returns the parsed delay between batch items.
func (c RelayConfig) PacingDuration() time.Duration {
	return mustDuration(c.Pacing, 1200*time.Millisecond)
}

type JanitorConfig struct {
	PurgeSchedule     string `toml:"purge_schedule" validate:"required"`
	KeepAliveSchedule string `toml:"keepalive_schedule"`
	KeepAliveTimeout  string `toml:"keepalive_timeout"`
}

// KeepAliveTimeoutDuration returns the parsed HTTP timeout for the self ping.
func (c JanitorConfig) KeepAliveTimeoutDuration() time.Duration {
	return mustDuration(c.KeepAliveTimeout, 10*time.Second)
}

type DispatchConfig struct {
	Workers   int `toml:"workers" validate:"gte=1"`
	QueueSize int `toml:"queue_size" validate:"gte=1"`
}

type AdminConfig struct {
	UserIDs       []int64 `toml:"user_ids"`
	BroadcastRate int     `toml:"broadcast_rate" validate:"gte=1"`
}

// IsAdmin reports whether userID may run administrative commands. An empty
// admin list leaves the commands open to everyone.
func (c AdminConfig) IsAdmin(userID int64) bool {
	if len(c.UserIDs) == 0 {
		return true
	}
	for _, id := range c.UserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Content: ContentConfig{
			MoviesChannelID: DefaultMoviesChannelID,
			SeriesChannelID: DefaultSeriesChannelID,
		},
		Membership: MembershipConfig{
			VerificationWindow: DefaultVerificationWindow,
			GraceMultiplier:    DefaultGraceMultiplier,
		},
		Quota: QuotaConfig{
			FreeLimit: DefaultFreeLimit,
		},
		Relay: RelayConfig{
			Pacing:        DefaultRelayPacing,
			ProgressEvery: DefaultProgressEvery,
			BatchCounting: BatchCountingPerBatch,
		},
		Janitor: JanitorConfig{
			PurgeSchedule:     DefaultPurgeSchedule,
			KeepAliveSchedule: DefaultKeepAliveSchedule,
			KeepAliveTimeout:  DefaultKeepAliveTimeout,
		},
		Dispatch: DispatchConfig{
			Workers:   DefaultDispatchWorkers,
			QueueSize: DefaultDispatchQueueSize,
		},
		Admin: AdminConfig{
			BroadcastRate: DefaultBroadcastRate,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("decode %s: %w", path, err)
	}

	applyEnv(&cfg, os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv lets the deployment environment override the file, following the
// variables the hosting platform sets.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if value, ok := lookup("BOT_TOKEN"); ok && strings.TrimSpace(value) != "" {
		cfg.Telegram.BotToken = strings.TrimSpace(value)
	}
	if value, ok := lookup("WEBHOOK_URL"); ok && strings.TrimSpace(value) != "" {
		cfg.Telegram.WebhookURL = strings.TrimSpace(value)
	}
	if value, ok := lookup("PORT"); ok {
		if port, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && port > 0 {
			cfg.Server.Addr = ":" + strconv.Itoa(port)
		}
	}
	if value, ok := lookup("HTTP_ADDR"); ok && strings.TrimSpace(value) != "" {
		cfg.Server.Addr = strings.TrimSpace(value)
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints and the duration strings.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	durations := map[string]string{
		"membership.verification_window": c.Membership.VerificationWindow,
		"relay.pacing":                   c.Relay.Pacing,
	}
	if c.Janitor.KeepAliveTimeout != "" {
		durations["janitor.keepalive_timeout"] = c.Janitor.KeepAliveTimeout
	}
	for key, raw := range durations {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid config: %s: %w", key, err)
		}
		if d < 0 {
			return fmt.Errorf("invalid config: %s must not be negative", key)
		}
	}
	return nil
}

func mustDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d < 0 {
		return fallback
	}
	return d
}
