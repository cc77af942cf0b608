package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/hsitotv/relaybot/internal/bot"
	"github.com/hsitotv/relaybot/internal/channel/adapters/telegram"
	"github.com/hsitotv/relaybot/internal/config"
	"github.com/hsitotv/relaybot/internal/dispatch"
	"github.com/hsitotv/relaybot/internal/handlers"
	"github.com/hsitotv/relaybot/internal/healthcheck"
	webhookchecker "github.com/hsitotv/relaybot/internal/healthcheck/checkers/webhook"
	"github.com/hsitotv/relaybot/internal/janitor"
	"github.com/hsitotv/relaybot/internal/links"
	"github.com/hsitotv/relaybot/internal/logger"
	"github.com/hsitotv/relaybot/internal/membership"
	"github.com/hsitotv/relaybot/internal/metrics"
	"github.com/hsitotv/relaybot/internal/quota"
	"github.com/hsitotv/relaybot/internal/relay"
	"github.com/hsitotv/relaybot/internal/server"
)

func runServe(ctx *commandContext) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	app := fx.New(serveOptions(cfg)...)
	if err := app.Err(); err != nil {
		return err
	}
	app.Run()
	return nil
}

func serveOptions(cfg config.Config) []fx.Option {
	return []fx.Option{
		fx.Supply(cfg),
		fx.Provide(
			provideLogger,
			metrics.New,
			provideTelegramAdapter,
			provideLedger,
			provideVerifier,
			provideGate,
			provideClassifier,
			provideOrchestrator,
			provideBot,
			provideDispatcher,
			provideJanitor,
			provideHealthChecker,
			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(provideHealthHandler),
			provideServerHandler(provideMetricsHandler),
			provideServerHandler(provideWebhookHandler),
			provideServer,
		),
		fx.Invoke(
			startDispatcher,
			startJanitor,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	}
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideTelegramAdapter(log *slog.Logger, cfg config.Config) (*telegram.Adapter, error) {
	return telegram.New(log, cfg.Telegram)
}

func provideLedger(log *slog.Logger) *quota.Ledger {
	return quota.NewLedger(log)
}

func provideVerifier(log *slog.Logger, cfg config.Config, adapter *telegram.Adapter, m *metrics.BotMetrics) *membership.Verifier {
	return membership.NewVerifier(log, adapter, cfg.Membership.ChannelIDs(),
		membership.WithWindow(cfg.Membership.Window()),
		membership.WithObserver(m),
	)
}

func provideGate(log *slog.Logger, cfg config.Config, ledger *quota.Ledger, verifier *membership.Verifier) *quota.Gate {
	return quota.NewGate(log, ledger, verifier, cfg.Quota.FreeLimit)
}

func provideClassifier(cfg config.Config) *links.Classifier {
	return links.NewClassifier(
		links.Source{ChannelID: cfg.Content.MoviesChannelID, Kind: links.KindMovie},
		links.Source{ChannelID: cfg.Content.SeriesChannelID, Kind: links.KindSeries},
	)
}

func provideOrchestrator(log *slog.Logger, cfg config.Config, adapter *telegram.Adapter, ledger *quota.Ledger, m *metrics.BotMetrics) *relay.Orchestrator {
	counting := relay.CountPerBatch
	if cfg.Relay.BatchCounting == config.BatchCountingPerItem {
		counting = relay.CountPerItem
	}
	return relay.NewOrchestrator(log, adapter, ledger,
		relay.WithPacing(cfg.Relay.PacingDuration()),
		relay.WithProgressEvery(cfg.Relay.ProgressEvery),
		relay.WithCountingPolicy(counting),
		relay.WithObserver(m),
	)
}

func provideBot(log *slog.Logger, cfg config.Config, adapter *telegram.Adapter, orchestrator *relay.Orchestrator, ledger *quota.Ledger, gate *quota.Gate, verifier *membership.Verifier, classifier *links.Classifier) *bot.Bot {
	return bot.New(log, adapter, orchestrator, ledger, gate, verifier, classifier, bot.Options{
		Username:           adapter.Username(),
		Content:            cfg.Content,
		Admin:              cfg.Admin,
		RequiredChannels:   cfg.Membership.RequiredChannels,
		BroadcastParseMode: telegram.ParseModeMarkdown,
	})
}

func provideDispatcher(log *slog.Logger, cfg config.Config, b *bot.Bot, m *metrics.BotMetrics) *dispatch.Dispatcher {
	return dispatch.New(log, b, cfg.Dispatch.Workers, cfg.Dispatch.QueueSize, m)
}

// keepAliveURL points the self ping at the public health endpoint.
func keepAliveURL(cfg config.Config) string {
	base := strings.TrimRight(strings.TrimSpace(cfg.Telegram.WebhookURL), "/")
	if base == "" {
		return ""
	}
	return base + "/health"
}

func provideJanitor(log *slog.Logger, cfg config.Config, verifier *membership.Verifier, m *metrics.BotMetrics) (*janitor.Janitor, error) {
	return janitor.New(log, verifier, janitor.Options{
		PurgeSchedule:     cfg.Janitor.PurgeSchedule,
		KeepAliveSchedule: cfg.Janitor.KeepAliveSchedule,
		KeepAliveURL:      keepAliveURL(cfg),
		KeepAliveTimeout:  cfg.Janitor.KeepAliveTimeoutDuration(),
		GraceMultiplier:   cfg.Membership.GraceMultiplier,
	}, m)
}

func provideHealthChecker(log *slog.Logger, cfg config.Config, adapter *telegram.Adapter, dispatcher *dispatch.Dispatcher, jan *janitor.Janitor) healthcheck.Checker {
	return healthcheck.NewAggregator(
		dispatcher,
		jan,
		webhookchecker.NewChecker(log, adapter, cfg.Telegram.WebhookTarget()),
	)
}

func provideHealthHandler(log *slog.Logger, cfg config.Config, ledger *quota.Ledger, verifier *membership.Verifier, checker healthcheck.Checker) *handlers.HealthHandler {
	return handlers.NewHealthHandler(log, ledger, verifier, checker, handlers.ChannelInfo{
		Movies:   cfg.Content.MoviesChannelID,
		Series:   cfg.Content.SeriesChannelID,
		Required: cfg.Membership.ChannelIDs(),
	})
}

func provideMetricsHandler(m *metrics.BotMetrics) *handlers.MetricsHandler {
	return handlers.NewMetricsHandler(m.Handler())
}

func provideWebhookHandler(log *slog.Logger, cfg config.Config, dispatcher *dispatch.Dispatcher, m *metrics.BotMetrics) *telegram.WebhookHandler {
	return telegram.NewWebhookHandler(log, cfg.Telegram.BotToken, dispatcher, m)
}

type serverParams struct {
	fx.In
	Logger         *slog.Logger
	Config         config.Config
	Metrics        *metrics.BotMetrics
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.New(params.Logger, params.Config.Server.Addr,
		[]echo.MiddlewareFunc{params.Metrics.Middleware()},
		params.ServerHandlers...,
	)
}

func startDispatcher(lc fx.Lifecycle, dispatcher *dispatch.Dispatcher) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return dispatcher.Start(ctx) },
		OnStop:  func(ctx context.Context) error { return dispatcher.Stop(ctx) },
	})
}

func startJanitor(lc fx.Lifecycle, jan *janitor.Janitor) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return jan.Start(ctx) },
		OnStop:  func(ctx context.Context) error { return jan.Stop(ctx) },
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, srv *server.Server, adapter *telegram.Adapter, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			target := cfg.Telegram.WebhookTarget()
			if target == "" {
				log.Warn("telegram.webhook_url is empty; updates will not be delivered")
				return nil
			}
			// A failed registration is surfaced on /health rather than
			// stopping the process.
			if err := adapter.SetWebhook(ctx, target); err != nil {
				log.Error("webhook registration failed", slog.Any("error", err))
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
