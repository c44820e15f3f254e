package widget

import (
	"fmt"
	"slices"

	"github.com/ashureev/intent-sensor/internal/domain"
)

// State is the chat widget visibility state.
type State int

const (
	StateHidden State = iota
	StateVisibleClosed
	StateVisibleOpen
)

func (s State) String() string {
	switch s {
	case StateHidden:
		return "hidden"
	case StateVisibleClosed:
		return "visible_closed"
	case StateVisibleOpen:
		return "visible_open"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	if s < StateHidden || s > StateVisibleOpen {
		return nil, fmt.Errorf("unknown widget state %d", int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "hidden":
		*s = StateHidden
	case "visible_closed":
		*s = StateVisibleClosed
	case "visible_open":
		*s = StateVisibleOpen
	default:
		return fmt.Errorf("unknown widget state %q", text)
	}
	return nil
}

// View is the snapshot a renderer draws from.
type View struct {
	State          State             `json:"state"`
	IntentType     domain.IntentType `json:"intentType,omitempty"`
	Confidence     float64           `json:"confidence"`
	ConversationID string            `json:"conversationId,omitempty"`
	Messages       []domain.Message  `json:"messages"`
	Escalated      bool              `json:"escalated"`
}

func cloneMessages(msgs []domain.Message) []domain.Message {
	out := make([]domain.Message, len(msgs))
	for i, m := range msgs {
		m.Buttons = slices.Clone(m.Buttons)
		out[i] = m
	}
	return out
}
