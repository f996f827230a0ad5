// ABOUTME: Tests for the send/mark-read coordinator
// ABOUTME: Validates validation, send locking, and optimistic read transitions

package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trovato-app/msgsync/internal/api"
	"github.com/trovato-app/msgsync/internal/cache"
	"github.com/trovato-app/msgsync/internal/guard"
)

// fakeRemote counts remote calls and can fail or block on demand.
type fakeRemote struct {
	postCalls atomic.Int64
	readCalls atomic.Int64

	mu      sync.Mutex
	postErr error
	readErr error
	block   chan struct{}
}

func (f *fakeRemote) PostMessage(ctx context.Context, conversationID int64, body, idempotencyKey string) (*api.Message, error) {
	f.postCalls.Add(1)
	f.mu.Lock()
	block := f.block
	err := f.postErr
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return &api.Message{ID: 100, ConversationID: conversationID, Body: body}, nil
}

func (f *fakeRemote) MarkRead(ctx context.Context, conversationID int64) error {
	f.readCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readErr
}

// fakeReconciler counts the refreshes the coordinator triggers.
type fakeReconciler struct {
	convRefreshes atomic.Int64
	msgRefreshes  atomic.Int64

	mu      sync.Mutex
	convErr error
}

func (f *fakeReconciler) RefreshConversations(ctx context.Context) error {
	f.convRefreshes.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.convErr
}

func (f *fakeReconciler) RefreshMessages(ctx context.Context, conversationID int64) error {
	f.msgRefreshes.Add(1)
	return nil
}

// newFixture builds a coordinator over a cache seeded with one conversation
// carrying three unread messages.
func newFixture(t *testing.T) (*Coordinator, *cache.Cache, *fakeRemote, *fakeReconciler) {
	t.Helper()

	store := cache.New(nil)
	store.ReplaceConversations([]api.Conversation{
		{ID: 9, ProductID: 42, UnreadCount: 3,
			Participants: []api.Participant{{UserID: 1}, {UserID: 7}}},
		{ID: 10, ProductID: 43, UnreadCount: 1,
			Participants: []api.Participant{{UserID: 1}, {UserID: 8}}},
	})

	remote := &fakeRemote{}
	refresh := &fakeReconciler{}
	return New(remote, store, refresh, nil), store, remote, refresh
}

func TestSend_EmptyBody_NoNetworkCall(t *testing.T) {
	c, _, remote, _ := newFixture(t)

	err := c.Send(context.Background(), 9, "   ")
	assert.ErrorIs(t, err, api.ErrEmptyBody)
	assert.Equal(t, int64(0), remote.postCalls.Load(), "validation failures must not reach the network")
}

func TestSend_UnknownConversation(t *testing.T) {
	c, _, remote, _ := newFixture(t)

	err := c.Send(context.Background(), 404, "hello")
	assert.ErrorIs(t, err, api.ErrUnknownConversation)
	assert.Equal(t, int64(0), remote.postCalls.Load())
}

func TestSend_Success_TriggersReconciliation(t *testing.T) {
	c, _, remote, refresh := newFixture(t)

	require.NoError(t, c.Send(context.Background(), 9, "hello"))
	assert.Equal(t, int64(1), remote.postCalls.Load())
	assert.Equal(t, int64(1), refresh.msgRefreshes.Load(), "send must refresh the conversation's messages")
	assert.Equal(t, int64(1), refresh.convRefreshes.Load(), "send must refresh the conversation list")
}

func TestSend_NoOptimisticInsert(t *testing.T) {
	c, store, _, _ := newFixture(t)

	require.NoError(t, c.Send(context.Background(), 9, "hello"))

	// The message appears only via the reconciling refresh; the coordinator
	// itself writes nothing into the page.
	assert.Empty(t, store.Messages(9))
}

func TestSend_Failure_WrapsAsSendError(t *testing.T) {
	c, _, remote, refresh := newFixture(t)
	remote.postErr = errors.New("rejected")

	err := c.Send(context.Background(), 9, "hello")
	var se *api.SendError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, int64(0), refresh.msgRefreshes.Load(), "a failed send must not reconcile")
}

func TestSend_DoubleSubmit_SecondRejected(t *testing.T) {
	c, _, remote, _ := newFixture(t)
	remote.block = make(chan struct{})

	first := make(chan error, 1)
	go func() { first <- c.Send(context.Background(), 9, "hello") }()

	// Wait for the first send to hold the lock.
	for remote.postCalls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	err := c.Send(context.Background(), 9, "hello again")
	assert.ErrorIs(t, err, api.ErrSendInFlight, "a second send for the same conversation must be rejected")

	close(remote.block)
	require.NoError(t, <-first)
	assert.Equal(t, int64(1), remote.postCalls.Load())

	// The lock is per conversation and released after completion.
	require.NoError(t, c.Send(context.Background(), 9, "later"))
}

func TestSend_DifferentConversations_Independent(t *testing.T) {
	c, _, remote, _ := newFixture(t)
	remote.block = make(chan struct{})

	first := make(chan error, 1)
	go func() { first <- c.Send(context.Background(), 9, "hello") }()
	for remote.postCalls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	close(remote.block)
	require.NoError(t, c.Send(context.Background(), 10, "other thread"))
	require.NoError(t, <-first)
}

func TestMarkRead_ZeroesCountAndAggregate(t *testing.T) {
	c, store, _, _ := newFixture(t)

	tr, err := c.MarkRead(context.Background(), 9)
	require.NoError(t, err)

	conv, _ := store.Conversation(9)
	assert.Equal(t, 0, conv.UnreadCount)
	assert.Equal(t, 1, store.UnreadTotal(), "aggregate decreased by the prior 3")
	assert.Equal(t, 3, tr.Prior)
	assert.Equal(t, StateConfirmed, tr.State)
}

func TestMarkRead_UnknownConversation(t *testing.T) {
	c, _, remote, _ := newFixture(t)

	_, err := c.MarkRead(context.Background(), 404)
	assert.ErrorIs(t, err, api.ErrUnknownConversation)
	assert.Equal(t, int64(0), remote.readCalls.Load())
}

func TestMarkRead_RemoteFailure_StillReconciles(t *testing.T) {
	c, _, remote, refresh := newFixture(t)
	remote.readErr = errors.New("boom")

	tr, err := c.MarkRead(context.Background(), 9)
	var mre *api.MarkReadError
	require.ErrorAs(t, err, &mre, "a user-initiated failure is surfaced, never dropped")
	assert.Equal(t, int64(1), refresh.convRefreshes.Load(), "reconciling refresh runs regardless of outcome")
	assert.Equal(t, StateConfirmed, tr.State, "refresh carried server truth, no revert needed")
}

func TestMarkRead_RemoteAndRefreshFailure_Reverts(t *testing.T) {
	c, store, remote, refresh := newFixture(t)
	remote.readErr = errors.New("boom")
	refresh.convErr = errors.New("also down")

	tr, err := c.MarkRead(context.Background(), 9)
	require.Error(t, err)
	assert.Equal(t, StateReverted, tr.State)

	conv, _ := store.Conversation(9)
	assert.Equal(t, 3, conv.UnreadCount, "prior count restored")
	assert.Equal(t, 4, store.UnreadTotal())
}

func TestMarkRead_SkippedRefreshDoesNotRevert(t *testing.T) {
	c, store, remote, refresh := newFixture(t)
	remote.readErr = errors.New("boom")
	refresh.convErr = guard.ErrSkipped

	// A guard-skipped reconcile means another refresh is already bringing
	// server truth; it must not be treated as a reconcile failure that
	// reverts the optimistic zero.
	tr, err := c.MarkRead(context.Background(), 9)
	require.Error(t, err, "the remote failure is still surfaced")
	assert.Equal(t, StateConfirmed, tr.State)

	conv, _ := store.Conversation(9)
	assert.Equal(t, 0, conv.UnreadCount)
}

func TestMarkRead_RefreshFailureAlone_KeepsOptimisticZero(t *testing.T) {
	c, store, _, refresh := newFixture(t)
	refresh.convErr = errors.New("transient")

	tr, err := c.MarkRead(context.Background(), 9)
	require.NoError(t, err, "the remote accepted the mark; a refresh hiccup is not an error")
	assert.Equal(t, StateConfirmed, tr.State)

	conv, _ := store.Conversation(9)
	assert.Equal(t, 0, conv.UnreadCount, "optimistic zero stands until the next scheduled refresh")
}

func TestTransitionState_String(t *testing.T) {
	assert.Equal(t, "pending", StatePending.String())
	assert.Equal(t, "confirmed", StateConfirmed.String())
	assert.Equal(t, "reverted", StateReverted.String())
}
