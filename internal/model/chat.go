package model

import "time"

// ChatKind distinguishes player messages from coordinator notices
type ChatKind string

const (
	ChatKindUser   ChatKind = "user"
	ChatKindSystem ChatKind = "system"
)

// ChatEntry is a single immutable line in a room's chat log
type ChatEntry struct {
	ID       string // Client message id when supplied, otherwise server-stamped
	SenderID PlayerID
	Sender   string // Display label
	Body     string
	Kind     ChatKind
	SentAt   time.Time
}
