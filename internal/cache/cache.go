// ABOUTME: In-memory store for conversations, message pages, and unread totals
// ABOUTME: Lists and pages are replaced wholesale; reads return defensive copies

package cache

import (
	"log/slog"
	"sync"
	"time"

	"github.com/trovato-app/msgsync/internal/api"
)

// MessagePage is the full, authoritative message history for one
// conversation as of FetchedAt. Pages are replaced wholesale on every fetch;
// there is no partial merge.
type MessagePage struct {
	ConversationID int64
	Messages       []api.Message
	Product        *api.ProductSummary
	FetchedAt      time.Time
}

// Cache is the engine's conversation store. Safe for concurrent use.
type Cache struct {
	mu            sync.RWMutex
	logger        *slog.Logger
	conversations []api.Conversation
	byID          map[int64]int // conversation id -> index in conversations
	pages         map[int64]*MessagePage
	unreadTotal   int

	products         map[int64]api.ProductSummary
	productAttempted map[int64]bool
}

// New creates an empty cache. logger may be nil.
func New(logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{logger: logger.With("component", "cache")}
	c.reset()
	return c
}

// reset re-initializes all state. Must be called with mu held (or before the
// cache is shared).
func (c *Cache) reset() {
	c.conversations = nil
	c.byID = make(map[int64]int)
	c.pages = make(map[int64]*MessagePage)
	c.unreadTotal = 0
	c.products = make(map[int64]api.ProductSummary)
	c.productAttempted = make(map[int64]bool)
}

// ReplaceConversations atomically replaces the conversation list with the
// fetched one and recomputes the aggregate unread count. The previous list
// is only discarded here, on success; a failed refresh never reaches this
// method, so failures leave prior state intact.
func (c *Cache) ReplaceConversations(convs []api.Conversation) {
	copied := make([]api.Conversation, len(convs))
	copy(copied, convs)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.conversations = copied
	c.byID = make(map[int64]int, len(copied))
	total := 0
	for i := range copied {
		c.byID[copied[i].ID] = i
		total += copied[i].UnreadCount
	}
	c.unreadTotal = total

	c.logger.Debug("conversation list replaced",
		"count", len(copied),
		"unread_total", total)
}

// ReplacePage atomically replaces the message page for page.ConversationID.
func (c *Cache) ReplacePage(page *MessagePage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pages[page.ConversationID] = page
	c.logger.Debug("message page replaced",
		"conversation_id", page.ConversationID,
		"messages", len(page.Messages))
}

// Conversation returns a copy of the cached conversation, or false if it is
// not cached. Never triggers network activity.
func (c *Cache) Conversation(id int64) (api.Conversation, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	i, ok := c.byID[id]
	if !ok {
		return api.Conversation{}, false
	}
	return copyConversation(c.conversations[i]), true
}

// Conversations returns a copy of the cached conversation list in server
// order.
func (c *Cache) Conversations() []api.Conversation {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]api.Conversation, len(c.conversations))
	for i := range c.conversations {
		out[i] = copyConversation(c.conversations[i])
	}
	return out
}

// Messages returns a copy of the cached messages for a conversation, oldest
// first, or an empty slice if no page has been fetched.
func (c *Cache) Messages(id int64) []api.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	page, ok := c.pages[id]
	if !ok {
		return nil
	}
	out := make([]api.Message, len(page.Messages))
	copy(out, page.Messages)
	return out
}

// Page returns the cached page metadata for a conversation, or false if none
// has been fetched. The returned page shares no mutable state with the cache.
func (c *Cache) Page(id int64) (MessagePage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	page, ok := c.pages[id]
	if !ok {
		return MessagePage{}, false
	}
	out := MessagePage{
		ConversationID: page.ConversationID,
		Messages:       make([]api.Message, len(page.Messages)),
		FetchedAt:      page.FetchedAt,
	}
	copy(out.Messages, page.Messages)
	if page.Product != nil {
		p := *page.Product
		out.Product = &p
	}
	return out, true
}

// UnreadTotal returns the aggregate unread count: the sum of every cached
// conversation's UnreadCount. The invariant is maintained on every mutation.
func (c *Cache) UnreadTotal() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.unreadTotal
}

// ZeroUnread optimistically zeroes a conversation's unread count and
// recomputes the aggregate. It returns the prior count so the caller can
// revert if reconciliation is impossible.
func (c *Cache) ZeroUnread(id int64) (prior int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i, found := c.byID[id]
	if !found {
		return 0, false
	}
	prior = c.conversations[i].UnreadCount
	c.conversations[i].UnreadCount = 0
	c.unreadTotal -= prior
	return prior, true
}

// SetUnread sets a conversation's unread count, keeping the aggregate in
// step. Used to revert an optimistic zero when no reconciling refresh could
// run.
func (c *Cache) SetUnread(id int64, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i, found := c.byID[id]
	if !found {
		return
	}
	c.unreadTotal += n - c.conversations[i].UnreadCount
	c.conversations[i].UnreadCount = n
}

// Clear empties all cached state. Called once, synchronously, on logout.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
	c.logger.Debug("cache cleared")
}

// copyConversation deep-copies a conversation so callers cannot alias the
// cached participants slice.
func copyConversation(in api.Conversation) api.Conversation {
	out := in
	out.Participants = make([]api.Participant, len(in.Participants))
	copy(out.Participants, in.Participants)
	if in.LastMessageAt != nil {
		at := *in.LastMessageAt
		out.LastMessageAt = &at
	}
	return out
}
