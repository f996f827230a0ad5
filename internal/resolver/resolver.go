// ABOUTME: Find-or-create resolution for (product, counterparty) pairs
// ABOUTME: Concurrent resolutions for one pair share a single create call

package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/trovato-app/msgsync/internal/api"
)

// ErrNoPendingPair is returned when Resolve is called with no navigation
// pair pending, e.g. after the user navigated away from the deep-link.
var ErrNoPendingPair = errors.New("no pending pair to resolve")

// Pair identifies a resolution target: a product and the counterparty the
// user wants to contact about it.
type Pair struct {
	ProductID      int64
	CounterpartyID int64
}

func (p Pair) key() string {
	return fmt.Sprintf("%d:%d", p.ProductID, p.CounterpartyID)
}

// ConversationSource is what the resolver reads and refreshes. The forced
// refresh after a create inserts the new conversation into the cache.
type ConversationSource interface {
	Conversations() []api.Conversation
	RefreshConversations(ctx context.Context) error
}

// Creator issues the remote create call. The returned message's
// ConversationID identifies the new conversation.
type Creator interface {
	CreateConversation(ctx context.Context, productID int64, participantIDs []int64, firstMessage string) (*api.Message, error)
}

// Resolver maps a pending navigation pair to a conversation id, creating a
// conversation when none exists. Safe for concurrent use; the expected
// hazard is the same resolution being triggered several times for one
// navigation event before the first attempt completes.
type Resolver struct {
	source ConversationSource
	create Creator
	logger *slog.Logger

	mu      sync.Mutex
	pending *Pair

	creations singleflight.Group
}

// New creates a resolver. logger may be nil.
func New(source ConversationSource, create Creator, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		source: source,
		create: create,
		logger: logger.With("component", "resolver"),
	}
}

// SetPending records the pair carried by the current navigation. Resolution
// does not start until Resolve is called.
func (r *Resolver) SetPending(p Pair) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = &p
}

// ClearPending drops the pending pair. Called when the navigation context no
// longer carries a pair, so a later unrelated deep-link is not blocked by
// stale resolution state. Any in-flight create is left to complete; its
// result is simply not selected.
func (r *Resolver) ClearPending() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = nil
}

// Pending returns the currently pending pair, if any.
func (r *Resolver) Pending() (Pair, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending == nil {
		return Pair{}, false
	}
	return *r.pending, true
}

// Resolve maps the pending pair to a conversation id. An existing
// conversation for the pair is selected as-is; otherwise exactly one create
// call is issued, no matter how many Resolve calls race for the pair.
// On success the pending pair is cleared so a re-render does not re-trigger
// resolution. On failure the pair stays pending and the creation guard is
// released, permitting a retry.
func (r *Resolver) Resolve(ctx context.Context, firstMessage string) (int64, error) {
	r.mu.Lock()
	if r.pending == nil {
		r.mu.Unlock()
		return 0, ErrNoPendingPair
	}
	pair := *r.pending
	r.mu.Unlock()

	if id, ok := r.findExisting(pair); ok {
		r.finish(pair)
		r.logger.Debug("resolved to existing conversation",
			"product_id", pair.ProductID,
			"counterparty_id", pair.CounterpartyID,
			"conversation_id", id)
		return id, nil
	}

	// Concurrent Resolve calls for the same pair coalesce onto one create
	// call and all observe its result.
	v, err, _ := r.creations.Do(pair.key(), func() (any, error) {
		return r.createConversation(ctx, pair, firstMessage)
	})
	if err != nil {
		return 0, err
	}

	id := v.(int64)
	r.finish(pair)
	return id, nil
}

// findExisting scans the cached conversation list for the pair. A linear
// scan is fine: the list is bounded by the user's own conversation count.
// If a cross-client race ever produced duplicates for the pair, the lowest
// id wins so the choice is stable across refreshes.
func (r *Resolver) findExisting(pair Pair) (int64, bool) {
	var best int64
	found := false
	for _, c := range r.source.Conversations() {
		if c.ProductID != pair.ProductID || !c.HasParticipant(pair.CounterpartyID) {
			continue
		}
		if !found || c.ID < best {
			best = c.ID
			found = true
		}
	}
	return best, found
}

// createConversation issues the remote create and forces a conversations
// refresh so the new conversation lands in the cache before selection.
func (r *Resolver) createConversation(ctx context.Context, pair Pair, firstMessage string) (int64, error) {
	msg, err := r.create.CreateConversation(ctx, pair.ProductID, []int64{pair.CounterpartyID}, firstMessage)
	if err != nil {
		r.logger.Debug("conversation create failed",
			"product_id", pair.ProductID,
			"counterparty_id", pair.CounterpartyID,
			"error", err)
		return 0, err
	}

	// Best-effort: if the refresh fails the conversation exists server-side
	// and the next scheduled firing will pick it up.
	if err := r.source.RefreshConversations(ctx); err != nil {
		r.logger.Debug("post-create refresh failed",
			"conversation_id", msg.ConversationID,
			"error", err)
	}

	r.logger.Info("conversation created",
		"conversation_id", msg.ConversationID,
		"product_id", pair.ProductID,
		"counterparty_id", pair.CounterpartyID)
	return msg.ConversationID, nil
}

// finish clears the pending pair if it is still the one just resolved.
func (r *Resolver) finish(pair Pair) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending != nil && *r.pending == pair {
		r.pending = nil
	}
}
