package domain

import "time"

// Session is the backend record of one visitor session.
type Session struct {
	ID          string
	PageType    PageType
	Status      IntentStatus
	SignalCount int
	CreatedAt   time.Time
	LastSeenAt  time.Time
}
