// ABOUTME: Domain types and errors for the fake market service store
// ABOUTME: Summary types mirror the wire contract the real backend serves

package marketstore

import (
	"errors"
	"time"
)

// Store errors
var (
	ErrNotFound       = errors.New("not found")
	ErrNotParticipant = errors.New("user is not a participant")
	ErrInvalidToken   = errors.New("invalid token")
)

// User is an account in the fake service. Tokens are stored bcrypt-hashed.
type User struct {
	ID       int64
	Username string
}

// Product is the display metadata a conversation references.
type Product struct {
	ID       int64
	Title    string
	ImageURL string
}

// Participant is a conversation member with their read watermark.
type Participant struct {
	UserID     int64
	Username   string
	LastReadAt *time.Time
}

// Message is one stored message.
type Message struct {
	ID             int64
	ConversationID int64
	SenderID       int64
	Body           string
	CreatedAt      time.Time
}

// ConversationSummary is what the conversation list endpoint serves: header
// data plus the preview and the unread count for the requesting user.
type ConversationSummary struct {
	ID                 int64
	ProductID          int64
	Participants       []Participant
	LastMessagePreview string
	LastMessageAt      *time.Time
	UnreadCount        int
}

// ConversationDetail is a summary plus the full message history.
type ConversationDetail struct {
	ConversationSummary
	Messages []Message
}
