package bot

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Event is the part of an inbound message event the bot needs. Every field is optional;
// transports fill what they have.
type Event struct {
	// EventID is the delivery-level id, preferred for dedup.
	EventID string       `json:"event_id,omitempty"`
	Message EventMessage `json:"message"`
	Sender  *EventSender `json:"sender,omitempty"`
}

type EventMessage struct {
	MessageID   string `json:"message_id,omitempty"`
	ChatID      string `json:"chat_id"`
	Content     string `json:"content"`
	MessageType string `json:"message_type,omitempty"`
}

type EventSender struct {
	SenderID *SenderID `json:"sender_id,omitempty"`
}

type SenderID struct {
	UserID  string `json:"user_id,omitempty"`
	OpenID  string `json:"open_id,omitempty"`
	UnionID string `json:"union_id,omitempty"`
}

// DedupKey prefers the delivery id and falls back to the message id.
func (e Event) DedupKey() string {
	if id := strings.TrimSpace(e.EventID); id != "" {
		return id
	}
	return strings.TrimSpace(e.Message.MessageID)
}

// UserID returns the most specific sender id available.
func (e Event) UserID() string {
	if e.Sender == nil || e.Sender.SenderID == nil {
		return ""
	}
	id := e.Sender.SenderID
	switch {
	case id.UserID != "":
		return id.UserID
	case id.OpenID != "":
		return id.OpenID
	}
	return id.UnionID
}

type textContent struct {
	Text *string `json:"text"`
}

// ParseText reads a {"text": ...} envelope, falling back to the raw content.
func ParseText(content string) string {
	var tc textContent
	if err := json.Unmarshal([]byte(content), &tc); err == nil && tc.Text != nil {
		return *tc.Text
	}
	return content
}

var mentionPattern = regexp.MustCompile(`[ \t]*@_(?:user_\d+|all)\b[ \t]*`)

// StripMentions removes platform mention placeholders such as "@_user_1".
func StripMentions(text string) string {
	return strings.TrimSpace(mentionPattern.ReplaceAllString(text, " "))
}
