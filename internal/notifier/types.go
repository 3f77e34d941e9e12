package notifier

import (
	"time"

	kit "hwbot/internal/transport"
)

type Config struct {
	Target      kit.ChatTarget
	RatePerSec  int           // default 1
	SendTimeout time.Duration // default 10s
	HistorySize int           // default 100
}

type Outcome string

const (
	OutcomeSent       Outcome = "sent"
	OutcomeFailed     Outcome = "failed"
	OutcomeSuppressed Outcome = "suppressed"
)

type HistoryItem struct {
	At      time.Time `json:"at"`
	Text    string    `json:"text"`
	Outcome Outcome   `json:"outcome"`
	Error   string    `json:"error,omitempty"`
}

// NotificationEvent is the Data of notifier.* bus events.
type NotificationEvent struct {
	TickID   string    `json:"tick_id,omitempty"`
	ChatID   int64     `json:"chat_id"`
	ThreadID int       `json:"thread_id,omitempty"`
	Text     string    `json:"text"`
	At       time.Time `json:"at"`
	Error    string    `json:"error,omitempty"`
}
