// ABOUTME: User-initiated send and mark-read with per-conversation guards
// ABOUTME: Sends reconcile via refresh; mark-read is optimistic-then-reconcile

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/trovato-app/msgsync/internal/api"
	"github.com/trovato-app/msgsync/internal/guard"
)

// Messenger issues the remote calls the coordinator needs.
type Messenger interface {
	PostMessage(ctx context.Context, conversationID int64, body, idempotencyKey string) (*api.Message, error)
	MarkRead(ctx context.Context, conversationID int64) error
}

// Store is the slice of the cache the coordinator mutates.
type Store interface {
	Conversation(id int64) (api.Conversation, bool)
	ZeroUnread(id int64) (prior int, ok bool)
	SetUnread(id int64, n int)
}

// Reconciler triggers the refreshes that replace optimistic or missing local
// state with server truth.
type Reconciler interface {
	RefreshConversations(ctx context.Context) error
	RefreshMessages(ctx context.Context, conversationID int64) error
}

// Coordinator applies user-initiated mutations. Safe for concurrent use.
type Coordinator struct {
	remote  Messenger
	store   Store
	refresh Reconciler
	sends   *guard.Set
	logger  *slog.Logger
}

// New creates a coordinator. logger may be nil.
func New(remote Messenger, store Store, refresh Reconciler, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		remote:  remote,
		store:   store,
		refresh: refresh,
		sends:   guard.NewSet(0),
		logger:  logger.With("component", "coordinator"),
	}
}

// Send posts body to a conversation. No optimistic message is inserted: the
// UI shows the message only after the reconciling refresh, trading perceived
// latency for history that is always server-confirmed. The per-conversation
// send guard rejects a second send while one is in flight (double-click
// protection); validation failures never reach the network, so the caller
// can keep the input text for retry.
func (c *Coordinator) Send(ctx context.Context, conversationID int64, body string) error {
	if strings.TrimSpace(body) == "" {
		return api.ErrEmptyBody
	}
	if _, ok := c.store.Conversation(conversationID); !ok {
		return api.ErrUnknownConversation
	}

	key := sendKey(conversationID)
	if !c.sends.TryAcquire(key) {
		return api.ErrSendInFlight
	}
	defer c.sends.Release(key)

	msg, err := c.remote.PostMessage(ctx, conversationID, body, uuid.New().String())
	if err != nil {
		var se *api.SendError
		if errors.As(err, &se) {
			return err
		}
		return &api.SendError{Err: err}
	}

	c.logger.Debug("message posted",
		"conversation_id", conversationID,
		"message_id", msg.ID)

	// Pick up the authoritative message plus the updated preview and
	// last-message timestamp. Either refresh failing leaves stale-but-valid
	// state that the next scheduled firing repairs.
	if err := c.refresh.RefreshMessages(ctx, conversationID); err != nil && !errors.Is(err, guard.ErrSkipped) {
		c.logger.Debug("post-send messages refresh failed",
			"conversation_id", conversationID, "error", err)
	}
	if err := c.refresh.RefreshConversations(ctx); err != nil && !errors.Is(err, guard.ErrSkipped) {
		c.logger.Debug("post-send conversations refresh failed", "error", err)
	}
	return nil
}

// MarkRead optimistically zeroes the conversation's unread count (badges
// update without waiting on the network), then issues the remote call and
// reconciles with a conversations refresh regardless of its outcome. A
// nonzero count restored by the refresh (remote failure, or a race with an
// incoming message) is accepted, not treated as an error; the returned
// transition records where the optimistic zero settled.
func (c *Coordinator) MarkRead(ctx context.Context, conversationID int64) (*ReadTransition, error) {
	prior, ok := c.store.ZeroUnread(conversationID)
	if !ok {
		return nil, api.ErrUnknownConversation
	}
	tr := &ReadTransition{
		ConversationID: conversationID,
		Prior:          prior,
		State:          StatePending,
	}

	remoteErr := c.remote.MarkRead(ctx, conversationID)

	// A guard-skipped refresh is not a reconcile failure: the overlapping
	// in-flight refresh brings server truth just the same.
	if err := c.refresh.RefreshConversations(ctx); err != nil && !errors.Is(err, guard.ErrSkipped) {
		c.logger.Debug("post-mark-read refresh failed",
			"conversation_id", conversationID, "error", err)
		if remoteErr != nil {
			// Neither the remote call nor reconciliation succeeded; restore
			// the prior count rather than leave a lying badge.
			c.store.SetUnread(conversationID, prior)
			tr.Revert()
			return tr, &api.MarkReadError{Err: remoteErr}
		}
		// Remote accepted the mark; the optimistic zero stands until the
		// next scheduled refresh confirms it.
		tr.Confirm()
		return tr, nil
	}

	tr.Confirm()
	if remoteErr != nil {
		// Refresh has already restored server truth; still surface the
		// failure since this was a direct user action.
		return tr, &api.MarkReadError{Err: remoteErr}
	}
	return tr, nil
}

func sendKey(conversationID int64) string {
	return fmt.Sprintf("send:%d", conversationID)
}
