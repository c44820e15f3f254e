package client

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ashureev/intent-sensor/internal/domain"
)

// InitRequest is the body of POST /tracking/init.
type InitRequest struct {
	SessionID string          `json:"sessionId"`
	PageType  domain.PageType `json:"pageType"`
	Timestamp string          `json:"timestamp"`
}

// SignalRequest is the body of POST /tracking/signal.
type SignalRequest struct {
	SessionID  string            `json:"sessionId"`
	SignalType domain.SignalType `json:"signalType"`
	Data       map[string]any    `json:"data"`
	PageType   domain.PageType   `json:"pageType"`
	Timestamp  string            `json:"timestamp"`
}

// StatusResponse is the body of GET /tracking/status/{sessionId}.
type StatusResponse struct {
	ThresholdCrossed bool              `json:"thresholdCrossed"`
	IntentType       domain.IntentType `json:"intentType"`
	Confidence       float64           `json:"confidence"`
}

// StartChatRequest is the body of POST /chat/start.
type StartChatRequest struct {
	SessionID  string            `json:"sessionId"`
	IntentType domain.IntentType `json:"intentType"`
}

// StartChatResponse is the reply of POST /chat/start.
type StartChatResponse struct {
	ConversationID string `json:"conversationId"`
	InitialMessage string `json:"initialMessage"`
}

// MessageRequest is the body of POST /chat/message.
type MessageRequest struct {
	ConversationID string `json:"conversationId"`
	Message        string `json:"message"`
	IsButton       bool   `json:"isButton"`
	Timestamp      string `json:"timestamp"`
}

// MessageResponse is the reply of POST /chat/message.
type MessageResponse struct {
	Reply   string     `json:"reply"`
	Buttons ButtonList `json:"buttons,omitempty"`
}

// ChatContext is the reply of GET /chat/context/{sessionId}: what the
// backend knows about a session, for handing a chat to a model or a human.
type ChatContext struct {
	SessionID    string               `json:"sessionId"`
	PageType     domain.PageType      `json:"pageType"`
	Intent       domain.IntentStatus  `json:"intent"`
	SignalCount  int                  `json:"signalCount"`
	Conversation *domain.Conversation `json:"conversation,omitempty"`
}

// EscalateRequest is the body of POST /chat/escalate.
type EscalateRequest struct {
	ConversationID string `json:"conversationId"`
	Reason         string `json:"reason"`
}

// Ack is the generic acknowledgement body.
type Ack struct {
	Status string `json:"status"`
}

// ButtonList decodes reply buttons sent either as plain labels or as
// {label, commandId} objects. Missing command ids are derived from the label.
type ButtonList []domain.Button

// UnmarshalJSON implements json.Unmarshaler.
func (b *ButtonList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*b = nil
		return nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode buttons: %w", err)
	}

	out := make(ButtonList, 0, len(raw))
	for _, item := range raw {
		var label string
		if err := json.Unmarshal(item, &label); err == nil {
			out = append(out, domain.Button{Label: label, CommandID: domain.CommandIDFromLabel(label)})
			continue
		}

		var btn domain.Button
		if err := json.Unmarshal(item, &btn); err != nil {
			return fmt.Errorf("decode button: %w", err)
		}
		if btn.Label == "" {
			continue
		}
		if btn.CommandID == "" {
			btn.CommandID = domain.CommandIDFromLabel(btn.Label)
		}
		out = append(out, btn)
	}
	*b = out
	return nil
}
