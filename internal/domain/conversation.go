package domain

import (
	"strings"
	"time"
)

// Sender identifies who authored a chat message.
type Sender string

const (
	SenderVisitor Sender = "visitor"
	SenderBot     Sender = "bot"
)

// Button is a data-only quick reply. Its CommandID is resolved by the
// orchestrator's dispatcher, never by the rendering layer.
type Button struct {
	Label     string `json:"label"`
	CommandID string `json:"commandId"`
}

// Message is one entry of a conversation transcript.
type Message struct {
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Buttons   []Button  `json:"buttons,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is the server-tracked chat opened for a session.
type Conversation struct {
	ID             string     `json:"conversationId"`
	SessionID      string     `json:"sessionId,omitempty"`
	IntentType     IntentType `json:"intentType,omitempty"`
	InitialMessage string     `json:"initialMessage"`
	Messages       []Message  `json:"messages"`
	Escalated      bool       `json:"escalated,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// CommandIDFromLabel builds a stable command id for a button label.
func CommandIDFromLabel(label string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(strings.TrimSpace(label)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
