// Package telegram adapts the Telegram Bot API to the relay, membership and
// bot collaborators.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hsitotv/relaybot/internal/channel"
	"github.com/hsitotv/relaybot/internal/config"
	"github.com/hsitotv/relaybot/internal/relay"
)

// Type is the Telegram channel type.
const Type channel.ChannelType = "telegram"

const telegramMaxMessageLength = 4096

const defaultHTTPTimeout = 30 * time.Second

// The Bot API client logger is package global.
var setBotLoggerOnce sync.Once

// ParseMode values accepted by SendText.
const (
	ParseModeNone     = ""
	ParseModeMarkdown = tgbotapi.ModeMarkdown
)

// Adapter wraps a single bot account. It implements relay.Platform and
// membership.Checker.
type Adapter struct {
	logger *slog.Logger
	bot    *tgbotapi.BotAPI
}

// New connects to the Bot API with the configured token. The Bot API is
// contacted once to resolve the bot identity.
func New(log *slog.Logger, cfg config.TelegramConfig) (*Adapter, error) {
	token := strings.TrimSpace(cfg.BotToken)
	if token == "" {
		return nil, errors.New("telegram bot token is required")
	}
	endpoint := strings.TrimSpace(cfg.APIEndpoint)
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, &http.Client{Timeout: defaultHTTPTimeout})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return NewWithBot(log, bot), nil
}

// NewWithBot wraps an existing bot client.
func NewWithBot(log *slog.Logger, bot *tgbotapi.BotAPI) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	adapter := &Adapter{
		logger: log.With(slog.String("adapter", "telegram")),
		bot:    bot,
	}
	setBotLoggerOnce.Do(func() {
		_ = tgbotapi.SetLogger(&slogBotLogger{log: adapter.logger})
	})
	return adapter
}

// Username returns the bot's username.
func (a *Adapter) Username() string {
	return a.bot.Self.UserName
}

// CheckAccess verifies the bot can see the source channel.
func (a *Adapter) CheckAccess(ctx context.Context, channelID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := a.bot.GetChat(tgbotapi.ChatInfoConfig{ChatConfig: tgbotapi.ChatConfig{ChatID: channelID}})
	return classifyError("getChat", err)
}

// Copy posts messageID from fromChatID into chatID without attribution.
func (a *Adapter) Copy(ctx context.Context, chatID, fromChatID int64, messageID int, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg := tgbotapi.NewCopyMessage(chatID, fromChatID, messageID)
	if caption != "" {
		cfg.Caption = truncateTelegramText(sanitizeTelegramText(caption))
	}
	_, err := a.bot.CopyMessage(cfg)
	return classifyError("copyMessage", err)
}

// Forward forwards messageID from fromChatID into chatID.
func (a *Adapter) Forward(ctx context.Context, chatID, fromChatID int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := a.bot.Send(tgbotapi.NewForward(chatID, fromChatID, messageID))
	return classifyError("forwardMessage", err)
}

// IsMember reports whether userID currently belongs to channelID. Creators,
// administrators and members count; restricted users count while they are
// still in the chat.
func (a *Adapter) IsMember(ctx context.Context, channelID, userID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	member, err := a.bot.GetChatMember(tgbotapi.GetChatMemberConfig{
		ChatConfigWithUser: tgbotapi.ChatConfigWithUser{ChatID: channelID, UserID: userID},
	})
	if err != nil {
		return false, classifyError("getChatMember", err)
	}
	switch member.Status {
	case "creator", "administrator", "member":
		return true, nil
	case "restricted":
		return member.IsMember, nil
	default:
		return false, nil
	}
}

// SendText sends text to chatID and returns the new message id.
func (a *Adapter) SendText(ctx context.Context, chatID int64, text string, parseMode string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	_, messageID, err := sendTelegramTextReturnMessage(a.bot, chatID, text, parseMode)
	if err != nil {
		return 0, classifyError("sendMessage", err)
	}
	return messageID, nil
}

// sendTelegramTextReturnMessage sends a text message and returns the chat ID and message ID for later editing.
func sendTelegramTextReturnMessage(bot *tgbotapi.BotAPI, chatID int64, text string, parseMode string) (int64, int, error) {
	text = truncateTelegramText(sanitizeTelegramText(text))
	message := tgbotapi.NewMessage(chatID, text)
	message.ParseMode = parseMode
	sent, err := bot.Send(message)
	if err != nil {
		return 0, 0, err
	}
	if sent.Chat != nil {
		chatID = sent.Chat.ID
	}
	return chatID, sent.MessageID, nil
}

// editTelegramMessageText sends an edit request. It handles "message is not modified"
// silently but returns 429 and other errors to the caller for higher-level retry decisions.
func editTelegramMessageText(bot *tgbotapi.BotAPI, chatID int64, messageID int, text string, parseMode string) error {
	text = truncateTelegramText(sanitizeTelegramText(text))
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = parseMode
	_, err := bot.Send(edit)
	if err != nil && isTelegramMessageNotModified(err) {
		return nil
	}
	return err
}

func deleteTelegramMessage(bot *tgbotapi.BotAPI, chatID int64, messageID int) error {
	_, err := bot.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
	return err
}

// apiError unwraps a Bot API error. The client returns *tgbotapi.Error while
// callers and tests may hand over the value type.
func apiError(err error) (tgbotapi.Error, bool) {
	var ptr *tgbotapi.Error
	if errors.As(err, &ptr) && ptr != nil {
		return *ptr, true
	}
	var val tgbotapi.Error
	if errors.As(err, &val) {
		return val, true
	}
	return tgbotapi.Error{}, false
}

func isTelegramMessageNotModified(err error) bool {
	apiErr, ok := apiError(err)
	return ok && apiErr.Code == http.StatusBadRequest && strings.Contains(apiErr.Message, "message is not modified")
}

func isTelegramTooManyRequests(err error) bool {
	apiErr, ok := apiError(err)
	return ok && apiErr.Code == http.StatusTooManyRequests
}

func getTelegramRetryAfter(err error) time.Duration {
	apiErr, ok := apiError(err)
	if ok && apiErr.RetryAfter > 0 {
		return time.Duration(apiErr.RetryAfter) * time.Second
	}
	return 0
}

// classifyKind maps a Bot API failure onto the relay error kinds. Access
// problems are checked first because "chat not found" also reads as a
// missing message.
func classifyKind(err error) relay.ErrorKind {
	text := strings.ToLower(err.Error())
	if apiErr, ok := apiError(err); ok {
		text = strings.ToLower(apiErr.Message)
		if apiErr.Code == http.StatusForbidden {
			return relay.KindForbidden
		}
	}
	switch {
	case strings.Contains(text, "forbidden"),
		strings.Contains(text, "chat not found"),
		strings.Contains(text, "not enough rights"),
		strings.Contains(text, "have no rights"):
		return relay.KindForbidden
	case strings.Contains(text, "not found"),
		strings.Contains(text, "message_id_invalid"):
		return relay.KindNotFound
	default:
		return relay.KindOther
	}
}

func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	return relay.NewError(classifyKind(err), op, err)
}

// ToInbound converts a webhook update into an inbound message. Updates
// without a text message are reported as not ok.
func ToInbound(update tgbotapi.Update) (channel.InboundMessage, bool) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return channel.InboundMessage{}, false
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return channel.InboundMessage{}, false
	}
	out := channel.InboundMessage{
		Channel:  Type,
		UpdateID: update.UpdateID,
		Message: channel.Message{
			ID:   msg.MessageID,
			Text: text,
		},
		Sender: resolveTelegramSender(msg),
		Conversation: channel.Conversation{
			ID:   msg.Chat.ID,
			Type: msg.Chat.Type,
			Name: strings.TrimSpace(msg.Chat.Title),
		},
		ReceivedAt: msg.Time(),
	}
	if msg.IsCommand() {
		out.Message.Command = strings.ToLower(msg.Command())
		out.Message.Args = strings.TrimSpace(msg.CommandArguments())
	}
	return out, true
}

func resolveTelegramSender(msg *tgbotapi.Message) channel.Identity {
	attrs := map[string]string{}
	if msg == nil {
		return channel.Identity{Attributes: attrs}
	}
	if msg.Chat != nil {
		attrs["chat_id"] = strconv.FormatInt(msg.Chat.ID, 10)
	}
	if msg.From != nil {
		username := strings.TrimSpace(msg.From.UserName)
		if username != "" {
			attrs["username"] = username
		}
		displayName := username
		if displayName == "" {
			displayName = strings.TrimSpace(msg.From.FirstName + " " + msg.From.LastName)
		}
		return channel.Identity{ID: msg.From.ID, DisplayName: displayName, Attributes: attrs}
	}
	if msg.SenderChat != nil {
		if msg.SenderChat.UserName != "" {
			attrs["sender_chat_username"] = strings.TrimSpace(msg.SenderChat.UserName)
		}
		displayName := strings.TrimSpace(msg.SenderChat.Title)
		if displayName == "" {
			displayName = attrs["sender_chat_username"]
		}
		return channel.Identity{ID: msg.SenderChat.ID, DisplayName: displayName, Attributes: attrs}
	}
	return channel.Identity{Attributes: attrs}
}

func sanitizeTelegramText(text string) string {
	if utf8.ValidString(text) {
		return text
	}
	return strings.ToValidUTF8(text, "")
}

// truncateTelegramText truncates text to telegramMaxMessageLength on a valid
// UTF-8 rune boundary, appending "..." when truncation occurs.
func truncateTelegramText(text string) string {
	if len(text) <= telegramMaxMessageLength {
		return text
	}
	const suffix = "..."
	limit := telegramMaxMessageLength - len(suffix)
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	return text[:limit] + suffix
}

// slogBotLogger routes the Bot API client's own logging through slog.
type slogBotLogger struct {
	log *slog.Logger
}

func (l *slogBotLogger) Println(v ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintln(v...)))
}

func (l *slogBotLogger) Printf(format string, v ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}
