// ABOUTME: Wire types for the Trovato message service JSON contract
// ABOUTME: Field names follow the service's snake_case payloads

package api

import "time"

// Participant is one member of a conversation.
type Participant struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username,omitempty"`
}

// Conversation is one messaging thread as the service reports it in the
// conversation list. UnreadCount is computed server-side for the
// authenticated user.
type Conversation struct {
	ID                 int64         `json:"id"`
	ProductID          int64         `json:"product_id"`
	Participants       []Participant `json:"participants"`
	LastMessagePreview string        `json:"last_message_preview,omitempty"`
	LastMessageAt      *time.Time    `json:"last_message_at,omitempty"`
	UnreadCount        int           `json:"unread_count"`
}

// HasParticipant reports whether userID is a member of the conversation.
func (c *Conversation) HasParticipant(userID int64) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// Message is a single immutable message. The client never edits or deletes
// messages locally.
type Message struct {
	ID             int64     `json:"id"`
	ConversationID int64     `json:"conversation_id"`
	SenderID       int64     `json:"sender_id"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"created_at"`
}

// ConversationDetail is the response to fetching one conversation: the
// conversation header plus its full message history, oldest first.
type ConversationDetail struct {
	Conversation
	Messages []Message `json:"messages"`
}

// ProductSummary is the display metadata the product reference cache keeps
// for a product id. Staleness is acceptable; it is never reconciled against
// the product store.
type ProductSummary struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	ImageURL string `json:"image_url,omitempty"`
}

// startConversationRequest is the body for creating a conversation.
type startConversationRequest struct {
	ProductID      int64   `json:"product_id"`
	ParticipantIDs []int64 `json:"participant_ids"`
	FirstMessage   string  `json:"first_message"`
}

// postMessageRequest is the body for posting a message to a conversation.
type postMessageRequest struct {
	Body string `json:"body"`
}
