// Package bot routes inbound Telegram messages to commands and relay jobs.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"github.com/hsitotv/relaybot/internal/channel"
	"github.com/hsitotv/relaybot/internal/config"
	"github.com/hsitotv/relaybot/internal/links"
	"github.com/hsitotv/relaybot/internal/relay"
)

// Messenger sends replies and status messages to a chat.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string, parseMode string) (int, error)
	Reporter(chatID int64) relay.Reporter
}

// Relayer runs relay jobs.
type Relayer interface {
	Relay(ctx context.Context, job relay.Job, reporter relay.Reporter, quotaLabel string) relay.Outcome
}

// Registry is the user ledger as seen by the bot.
type Registry interface {
	RegisterIfAbsent(userID int64) bool
	DownloadsUsed(userID int64) int
	TotalUsers() int
	TotalDownloads() int
	UserIDs() []int64
}

// Gatekeeper decides whether a user may download right now.
type Gatekeeper interface {
	CanDownload(ctx context.Context, userID int64) (bool, string)
	Label(userID int64) string
	FreeLimit() int
}

// VerifiedCounter reports how many users hold a fresh membership verification.
type VerifiedCounter interface {
	VerifiedCount() int
}

// Options carries the static parts of the bot configuration.
type Options struct {
	Username         string
	Content          config.ContentConfig
	Admin            config.AdminConfig
	RequiredChannels []config.RequiredChannel
	// BroadcastParseMode is the parse mode tried first for broadcasts.
	BroadcastParseMode string
}

// Bot handles messages delivered by the dispatcher.
type Bot struct {
	logger     *slog.Logger
	messenger  Messenger
	relayer    Relayer
	registry   Registry
	gate       Gatekeeper
	verified   VerifiedCounter
	classifier *links.Classifier
	opts       Options
	newLimiter func() *rate.Limiter

	// userLocks holds one *sync.Mutex per user so a user's quota check and
	// the download it leads to cannot interleave with another request.
	userLocks sync.Map
}

// New creates a Bot.
func New(log *slog.Logger, messenger Messenger, relayer Relayer, registry Registry, gate Gatekeeper, verified VerifiedCounter, classifier *links.Classifier, opts Options) *Bot {
	if log == nil {
		log = slog.Default()
	}
	perSecond := opts.Admin.BroadcastRate
	if perSecond <= 0 {
		perSecond = config.DefaultBroadcastRate
	}
	return &Bot{
		logger:     log.With(slog.String("component", "bot")),
		messenger:  messenger,
		relayer:    relayer,
		registry:   registry,
		gate:       gate,
		verified:   verified,
		classifier: classifier,
		opts:       opts,
		newLimiter: func() *rate.Limiter {
			return rate.NewLimiter(rate.Limit(perSecond), 1)
		},
	}
}

// HandleInbound implements dispatch.Handler.
func (b *Bot) HandleInbound(ctx context.Context, msg channel.InboundMessage) error {
	if msg.Message.IsCommand() {
		return b.handleCommand(ctx, msg)
	}
	return b.handleText(ctx, msg)
}

func (b *Bot) handleCommand(ctx context.Context, msg channel.InboundMessage) error {
	switch msg.Message.Command {
	case "start":
		return b.handleStart(ctx, msg)
	case "stats":
		if !b.opts.Admin.IsAdmin(msg.Sender.ID) {
			return b.reply(ctx, msg, msgAdminOnly)
		}
		return b.reply(ctx, msg, statsText(b.stats()))
	case "broadcast":
		if !b.opts.Admin.IsAdmin(msg.Sender.ID) {
			return b.reply(ctx, msg, msgAdminOnly)
		}
		return b.handleBroadcast(ctx, msg)
	case "getchatid":
		return b.reply(ctx, msg, chatInfoText(msg.Conversation.ID, msg.Conversation.Type, msg.Conversation.Name))
	default:
		return b.reply(ctx, msg, msgLinkNotRecognized)
	}
}

func (b *Bot) handleStart(ctx context.Context, msg channel.InboundMessage) error {
	userID := msg.Sender.ID
	b.registry.RegisterIfAbsent(userID)
	text := welcomeText(b.opts.Username, b.registry.DownloadsUsed(userID), b.gate.Label(userID))
	return b.reply(ctx, msg, text)
}

func (b *Bot) handleText(ctx context.Context, msg channel.InboundMessage) error {
	userID := msg.Sender.ID
	b.registry.RegisterIfAbsent(userID)

	text := msg.Message.Text
	if !links.HasLink(text) {
		return b.reply(ctx, msg, msgLinkNotRecognized)
	}
	source, ok := b.classifier.Classify(text)
	if !ok {
		return b.reply(ctx, msg, msgChannelNotRecognized)
	}
	ids := links.ExtractIDs(text)
	if len(ids) == 0 {
		return b.reply(ctx, msg, msgLinkNotRecognized)
	}

	unlock := b.lockUser(userID)
	defer unlock()

	allowed, label := b.gate.CanDownload(ctx, userID)
	if !allowed {
		return b.reply(ctx, msg, limitReachedText(b.gate.FreeLimit(), b.opts.RequiredChannels))
	}

	job := relay.Job{
		Source:      source,
		MessageIDs:  ids,
		RequesterID: userID,
		ChatID:      msg.Conversation.ID,
	}
	out := b.relayer.Relay(ctx, job, b.messenger.Reporter(msg.Conversation.ID), label)
	if out.Succeeded == 0 {
		b.logger.Warn("relay delivered nothing",
			slog.String("job_id", out.JobID),
			slog.String("failure", out.FailureKind.String()),
		)
	}
	return nil
}

func (b *Bot) lockUser(userID int64) func() {
	v, _ := b.userLocks.LoadOrStore(userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (b *Bot) handleBroadcast(ctx context.Context, msg channel.InboundMessage) error {
	body := strings.TrimSpace(msg.Message.Args)
	if body == "" {
		return b.reply(ctx, msg, msgBroadcastUsage)
	}
	if err := b.reply(ctx, msg, msgBroadcastStarting); err != nil {
		return err
	}

	text := broadcastText(body)
	limiter := b.newLimiter()
	sent, failed := 0, 0
	for _, userID := range b.registry.UserIDs() {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("broadcast interrupted after %d messages: %w", sent+failed, err)
		}
		if err := b.sendBroadcast(ctx, userID, text); err != nil {
			failed++
			b.logger.Debug("broadcast delivery failed", slog.Int64("user_id", userID), slog.Any("error", err))
			continue
		}
		sent++
	}
	b.logger.Info("broadcast completed", slog.Int("sent", sent), slog.Int("failed", failed))
	return b.reply(ctx, msg, broadcastSummaryText(sent, failed))
}

// sendBroadcast falls back to plain text when the admin's message is not
// valid Markdown.
func (b *Bot) sendBroadcast(ctx context.Context, userID int64, text string) error {
	if mode := b.opts.BroadcastParseMode; mode != "" {
		_, err := b.messenger.SendText(ctx, userID, text, mode)
		if err == nil {
			return nil
		}
		// Blocked users fail the same way in plain text.
		if relay.KindOf(err) == relay.KindForbidden {
			return err
		}
	}
	_, err := b.messenger.SendText(ctx, userID, text, "")
	return err
}

func (b *Bot) stats() statsSnapshot {
	s := statsSnapshot{
		users:         b.registry.TotalUsers(),
		downloads:     b.registry.TotalDownloads(),
		moviesChannel: b.opts.Content.MoviesChannelID,
		seriesChannel: b.opts.Content.SeriesChannelID,
		freeLimit:     b.gate.FreeLimit(),
	}
	if b.verified != nil {
		s.verified = b.verified.VerifiedCount()
	}
	return s
}

func (b *Bot) reply(ctx context.Context, msg channel.InboundMessage, text string) error {
	if _, err := b.messenger.SendText(ctx, msg.Conversation.ID, text, ""); err != nil {
		return fmt.Errorf("reply to %s: %w", msg.RoutingKey(), err)
	}
	return nil
}
