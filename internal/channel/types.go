// Package channel holds the platform-neutral message types exchanged between
// messaging adapters and the bot.
package channel

import (
	"strconv"
	"strings"
	"time"
)

// ChannelType identifies a messaging platform (e.g., "telegram").
type ChannelType string

// String returns the channel type as a plain string.
func (c ChannelType) String() string {
	return string(c)
}

// Identity represents a sender's identity on a channel.
type Identity struct {
	ID          int64
	DisplayName string
	Attributes  map[string]string
}

// SubjectID is the sender id in string form.
func (i Identity) SubjectID() string {
	if i.ID == 0 {
		return ""
	}
	return strconv.FormatInt(i.ID, 10)
}

// Attribute returns the trimmed value for the given key, or empty string if absent.
func (i Identity) Attribute(key string) string {
	if i.Attributes == nil {
		return ""
	}
	return strings.TrimSpace(i.Attributes[key])
}

// Conversation holds metadata about the chat the message arrived in.
type Conversation struct {
	ID   int64
	Type string
	Name string
}

// Message is the content of an inbound message. Command and Args are set
// when the text starts with a bot command.
type Message struct {
	ID      int
	Text    string
	Command string
	Args    string
}

// IsCommand reports whether the message carries a bot command.
func (m Message) IsCommand() bool {
	return m.Command != ""
}

// InboundMessage is a message received from an external channel.
type InboundMessage struct {
	Channel      ChannelType
	UpdateID     int
	Message      Message
	Sender       Identity
	Conversation Conversation
	ReceivedAt   time.Time
}

// RoutingKey returns a stable identifier used in logs and for dispatch.
// Format: platform:conversation_id[:sender_id].
func (m InboundMessage) RoutingKey() string {
	return GenerateRoutingKey(string(m.Channel), m.Conversation.ID, m.Conversation.Type, m.Sender.ID)
}

// GenerateRoutingKey builds a route key from platform, conversation, and sender info.
// For group chats, the sender ID is appended to provide per-user context.
func GenerateRoutingKey(platform string, conversationID int64, conversationType string, senderID int64) string {
	parts := []string{platform, strconv.FormatInt(conversationID, 10)}
	ct := strings.ToLower(strings.TrimSpace(conversationType))
	if ct != "" && ct != "private" && senderID != 0 {
		parts = append(parts, strconv.FormatInt(senderID, 10))
	}
	return strings.Join(parts, ":")
}
