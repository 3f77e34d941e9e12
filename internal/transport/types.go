// Package transport defines the messaging boundary: where a notification goes
// and the adapter that delivers it.
package transport

import "context"

type ChatTarget struct {
	ChatID   int64
	ThreadID int // telegram forum topic thread id (0 if none)
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string // "" = plain text
	DisablePreview bool
}

// Sender delivers text to a chat. Implementations must accept any plain text;
// only transport-level failures are errors.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}
