package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/hsitotv/relaybot/internal/relay"
)

const telegramStatusEditMaxRetries = 3

var errTooManyEdits = errors.New("status edit still rate limited after retries")

// Reporter returns a relay.Reporter that posts status messages into chatID.
func (a *Adapter) Reporter(chatID int64) relay.Reporter {
	return &statusReporter{adapter: a, chatID: chatID}
}

type statusReporter struct {
	adapter *Adapter
	chatID  int64
}

func (r *statusReporter) Start(ctx context.Context, text string) (relay.Status, error) {
	chatID, messageID, err := sendTelegramTextReturnMessage(r.adapter.bot, r.chatID, text, ParseModeNone)
	if err != nil {
		return nil, classifyError("sendMessage", err)
	}
	return &statusMessage{
		adapter:    r.adapter,
		chatID:     chatID,
		messageID:  messageID,
		lastEdited: strings.TrimSpace(text),
	}, nil
}

// statusMessage is a message edited in place while a job progresses.
type statusMessage struct {
	adapter   *Adapter
	chatID    int64
	messageID int

	mu         sync.Mutex
	lastEdited string
	deleted    bool
}

// Update edits the message. Identical text is skipped and 429 responses are
// retried with the server-provided backoff.
func (s *statusMessage) Update(ctx context.Context, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleted || strings.TrimSpace(text) == s.lastEdited {
		return nil
	}
	for attempt := range telegramStatusEditMaxRetries {
		err := editTelegramMessageText(s.adapter.bot, s.chatID, s.messageID, text, ParseModeNone)
		if err == nil {
			s.lastEdited = strings.TrimSpace(text)
			return nil
		}
		if !isTelegramTooManyRequests(err) {
			return classifyError("editMessageText", err)
		}
		d := getTelegramRetryAfter(err)
		if d <= 0 {
			d = time.Duration(attempt+1) * time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}
	return classifyError("editMessageText", errTooManyEdits)
}

func (s *statusMessage) Delete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleted {
		return nil
	}
	if err := deleteTelegramMessage(s.adapter.bot, s.chatID, s.messageID); err != nil {
		return classifyError("deleteMessage", err)
	}
	s.deleted = true
	return nil
}
