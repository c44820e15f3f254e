package domain

import (
	"time"
)

// SignalType identifies the kind of behavioral observation.
type SignalType string

const (
	SignalScroll     SignalType = "scroll"
	SignalTimeOnPage SignalType = "time_on_page"
	SignalClick      SignalType = "click"
)

// Signal is a single behavioral observation sent to the intent scorer.
type Signal struct {
	SessionID string
	Type      SignalType
	Data      map[string]any
	PageType  PageType
	Timestamp time.Time
}
