package models

import "time"

type Account struct {
	Username  string
	Password  string // bcrypt hash
	CreatedAt time.Time
}

// PendingMessage is a message stored for an offline recipient. Seq is
// strictly increasing per recipient and defines FIFO order.
type PendingMessage struct {
	Seq        int64
	Recipient  string
	Sender     string
	Body       string
	EnqueuedAt time.Time
}

// Push is a message handed to a live channel instead of the queue.
type Push struct {
	Sender string
	Body   string
}
