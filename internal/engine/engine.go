// ABOUTME: Engine facade wiring cache, scheduler, resolver, and coordinator
// ABOUTME: Owns the credential, the open-conversation marker, and refresh guards

package engine

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/trovato-app/msgsync/internal/api"
	"github.com/trovato-app/msgsync/internal/auth"
	"github.com/trovato-app/msgsync/internal/cache"
	"github.com/trovato-app/msgsync/internal/coordinator"
	"github.com/trovato-app/msgsync/internal/guard"
	"github.com/trovato-app/msgsync/internal/resolver"
	"github.com/trovato-app/msgsync/internal/scheduler"
)

// Refresh guard keys. One key per target: the conversation list is one
// target, each conversation's message page is its own.
const guardConversations = "refresh:conversations"

// Options tune the engine. The zero value uses defaults.
type Options struct {
	PollInterval     time.Duration
	FailureThreshold int
	PageLimit        int // conversation list page size; 0 uses server default
}

// Engine keeps the conversation cache consistent with the message service.
type Engine struct {
	client  *api.Client
	cache   *cache.Cache
	sched   *scheduler.Scheduler
	resolve *resolver.Resolver
	coord   *coordinator.Coordinator
	guards  *guard.Set
	logger  *slog.Logger

	pageLimit int

	mu      sync.Mutex
	cred    *auth.Credential
	open    int64 // currently open conversation id, 0 when none
	started bool
}

// New creates an engine around the given service client. logger may be nil.
func New(client *api.Client, opts Options, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		client:    client,
		cache:     cache.New(logger),
		guards:    guard.NewSet(0),
		logger:    logger.With("component", "engine"),
		pageLimit: opts.PageLimit,
	}
	e.sched = scheduler.New(e, opts.PollInterval, opts.FailureThreshold, logger)
	e.resolve = resolver.New(e, e, logger)
	e.coord = coordinator.New(remoteClient{e}, e.cache, refreshByID{e}, logger)
	return e
}

// Start begins scheduling with the given credential. Calling Start on a
// running engine replaces the credential without restarting the loop.
func (e *Engine) Start(cred *auth.Credential) {
	e.mu.Lock()
	e.cred = cred
	already := e.started
	e.started = true
	e.mu.Unlock()

	if !already {
		e.sched.Start()
		e.logger.Info("engine started")
	}
}

// Stop tears down the polling loop synchronously. Cached state survives so a
// remount serves warm data; use Clear for logout.
func (e *Engine) Stop() {
	e.mu.Lock()
	wasStarted := e.started
	e.started = false
	e.mu.Unlock()

	if wasStarted {
		e.sched.Stop()
		e.guards.Clear()
		e.logger.Info("engine stopped")
	}
}

// Clear implements logout: stop scheduling and discard all cached state.
func (e *Engine) Clear() {
	e.Stop()
	e.mu.Lock()
	e.cred = nil
	e.open = 0
	e.mu.Unlock()
	e.cache.Clear()
	e.resolve.ClearPending()
}

// NotifyVisible requests an immediate refresh; called when the host
// application returns to the foreground so stale data is not served after a
// long background period.
func (e *Engine) NotifyVisible() {
	e.sched.Wake()
}

// Open marks a conversation as the one currently on screen and wakes the
// scheduler so its messages are fetched promptly.
func (e *Engine) Open(conversationID int64) {
	e.mu.Lock()
	e.open = conversationID
	e.mu.Unlock()
	e.sched.Wake()
}

// CloseOpen clears the open-conversation marker. In-flight message fetches
// for the previously open conversation complete but their results are
// discarded by the relevance check.
func (e *Engine) CloseOpen() {
	e.mu.Lock()
	e.open = 0
	e.mu.Unlock()
}

// OpenID returns the currently open conversation id, or 0.
func (e *Engine) OpenID() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.open
}

func (e *Engine) credential() *auth.Credential {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cred
}

// Conversation returns the cached conversation, if any. Pure read.
func (e *Engine) Conversation(id int64) (api.Conversation, bool) {
	return e.cache.Conversation(id)
}

// Conversations returns the cached conversation list. Pure read.
func (e *Engine) Conversations() []api.Conversation {
	return e.cache.Conversations()
}

// Messages returns the cached messages for a conversation. Pure read.
func (e *Engine) Messages(id int64) []api.Message {
	return e.cache.Messages(id)
}

// UnreadTotal returns the aggregate unread count across all conversations.
func (e *Engine) UnreadTotal() int {
	return e.cache.UnreadTotal()
}

// Degraded reports whether scheduled refreshes have been failing across
// several consecutive firings.
func (e *Engine) Degraded() bool {
	return e.sched.Degraded()
}

// RefreshConversations fetches the conversation list and replaces the cached
// one. If a refresh for the list is already in flight the call is skipped
// and guard.ErrSkipped is returned: the guard serializes responses in
// request order, so an older response can never overwrite a newer one. A
// skip says nothing about health, only that an attempt is outstanding. A
// failed fetch leaves the previous list intact.
func (e *Engine) RefreshConversations(ctx context.Context) error {
	if !e.guards.TryAcquire(guardConversations) {
		e.logger.Debug("conversations refresh skipped, already in flight")
		return guard.ErrSkipped
	}
	defer e.guards.Release(guardConversations)

	convs, err := e.client.ListConversations(ctx, e.credential(), e.pageLimit, 0)
	if err != nil {
		return err
	}

	for i := range convs {
		convs[i].LastMessagePreview = cache.PreviewText(convs[i].LastMessagePreview, cache.PreviewLimit)
	}
	e.cache.ReplaceConversations(convs)
	return nil
}

// RefreshMessages fetches one conversation's messages and replaces its
// cached page. Returns guard.ErrSkipped if a fetch for the same conversation
// is in flight. If the open conversation changed while the fetch was
// outstanding, the response is discarded: a stale page must not overwrite
// fresher state after the user navigated.
func (e *Engine) RefreshMessages(ctx context.Context, conversationID int64) error {
	key := guardMessages(conversationID)
	if !e.guards.TryAcquire(key) {
		e.logger.Debug("messages refresh skipped, already in flight",
			"conversation_id", conversationID)
		return guard.ErrSkipped
	}
	defer e.guards.Release(key)

	openAtIssue := e.OpenID()

	detail, err := e.client.GetConversation(ctx, e.credential(), conversationID)
	if err != nil {
		return err
	}

	if openAtIssue == conversationID && e.OpenID() != conversationID {
		e.logger.Debug("stale messages response discarded",
			"conversation_id", conversationID,
			"open_id", e.OpenID())
		return nil
	}

	page := &cache.MessagePage{
		ConversationID: conversationID,
		Messages:       detail.Messages,
		FetchedAt:      time.Now(),
	}
	if p, ok := e.cache.Product(detail.ProductID); ok {
		page.Product = &p
	}
	e.cache.ReplacePage(page)
	return nil
}

// RefreshOpenMessages refreshes the currently open conversation's page; a
// no-op when nothing is open. This is the scheduler's per-firing messages
// target.
func (e *Engine) RefreshOpenMessages(ctx context.Context) error {
	id := e.OpenID()
	if id == 0 {
		return nil
	}
	return e.RefreshMessages(ctx, id)
}

// Send posts a message to a conversation via the coordinator.
func (e *Engine) Send(ctx context.Context, conversationID int64, body string) error {
	return e.coord.Send(ctx, conversationID, body)
}

// MarkRead optimistically marks a conversation read and reconciles.
func (e *Engine) MarkRead(ctx context.Context, conversationID int64) error {
	_, err := e.coord.MarkRead(ctx, conversationID)
	return err
}

// SetPendingPair records a navigation (product, counterparty) pair for
// resolution.
func (e *Engine) SetPendingPair(productID, counterpartyID int64) {
	e.resolve.SetPending(resolver.Pair{ProductID: productID, CounterpartyID: counterpartyID})
}

// ClearPendingPair drops the pending navigation pair.
func (e *Engine) ClearPendingPair() {
	e.resolve.ClearPending()
}

// Resolve finds or creates the conversation for the pending pair, opens it,
// and returns its id.
func (e *Engine) Resolve(ctx context.Context, firstMessage string) (int64, error) {
	id, err := e.resolve.Resolve(ctx, firstMessage)
	if err != nil {
		return 0, err
	}
	e.Open(id)
	return id, nil
}

// Product returns display metadata for a product, fetching it at most once
// per session. A miss after a failed fetch returns ok=false for the rest of
// the session; product data is display-only and staleness is acceptable.
func (e *Engine) Product(ctx context.Context, productID int64) (api.ProductSummary, bool) {
	if p, ok := e.cache.Product(productID); ok {
		return p, true
	}
	if !e.cache.BeginProductFetch(productID) {
		return api.ProductSummary{}, false
	}

	p, err := e.client.GetProduct(ctx, e.credential(), productID)
	if err != nil {
		e.logger.Debug("product fetch failed", "product_id", productID, "error", err)
		return api.ProductSummary{}, false
	}
	e.cache.StoreProduct(*p)
	return *p, true
}

// CreateConversation implements resolver.Creator against the service client.
func (e *Engine) CreateConversation(ctx context.Context, productID int64, participantIDs []int64, firstMessage string) (*api.Message, error) {
	return e.client.CreateConversation(ctx, e.credential(), productID, participantIDs, firstMessage)
}

func guardMessages(conversationID int64) string {
	return "refresh:messages:" + strconv.FormatInt(conversationID, 10)
}

// remoteClient adapts the engine's client and credential to
// coordinator.Messenger.
type remoteClient struct{ e *Engine }

func (r remoteClient) PostMessage(ctx context.Context, conversationID int64, body, idempotencyKey string) (*api.Message, error) {
	return r.e.client.PostMessage(ctx, r.e.credential(), conversationID, body, idempotencyKey)
}

func (r remoteClient) MarkRead(ctx context.Context, conversationID int64) error {
	return r.e.client.MarkRead(ctx, r.e.credential(), conversationID)
}

// refreshByID adapts the engine to coordinator.Reconciler.
type refreshByID struct{ e *Engine }

func (r refreshByID) RefreshConversations(ctx context.Context) error {
	return r.e.RefreshConversations(ctx)
}

func (r refreshByID) RefreshMessages(ctx context.Context, conversationID int64) error {
	return r.e.RefreshMessages(ctx, conversationID)
}
