// ABOUTME: Tests for the SQLite market store against a real database file
// ABOUTME: Covers auth, conversation lifecycle, unread watermarks, and ordering

package marketstore

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "market.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// seed creates a buyer, a seller, and a product for sale.
func seed(t *testing.T, store *SQLiteStore) (buyer, seller *User, product *Product) {
	t.Helper()
	ctx := context.Background()

	buyer, err := store.CreateUser(ctx, "alice", "alice-token")
	require.NoError(t, err)
	seller, err = store.CreateUser(ctx, "bob", "bob-token")
	require.NoError(t, err)
	product, err = store.CreateProduct(ctx, "Road bike", "https://img.trovato.test/42.jpg")
	require.NoError(t, err)
	return buyer, seller, product
}

func TestAuthenticate(t *testing.T) {
	store := newTestStore(t)
	buyer, _, _ := seed(t, store)
	ctx := context.Background()

	u, err := store.Authenticate(ctx, "alice-token")
	require.NoError(t, err)
	assert.Equal(t, buyer.ID, u.ID)
	assert.Equal(t, "alice", u.Username)

	_, err = store.Authenticate(ctx, "wrong-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestGetProduct(t *testing.T) {
	store := newTestStore(t)
	_, _, product := seed(t, store)
	ctx := context.Background()

	p, err := store.GetProduct(ctx, product.ID)
	require.NoError(t, err)
	assert.Equal(t, "Road bike", p.Title)

	_, err = store.GetProduct(ctx, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStartConversation_UnreadCounts(t *testing.T) {
	store := newTestStore(t)
	buyer, seller, product := seed(t, store)
	ctx := context.Background()

	msg, err := store.StartConversation(ctx, buyer.ID, product.ID, []int64{seller.ID}, "Is this still available?")
	require.NoError(t, err)
	assert.Equal(t, buyer.ID, msg.SenderID)
	assert.Equal(t, "Is this still available?", msg.Body)

	// The seller sees one unread message; the buyer's own message is not
	// counted against them.
	sellerList, err := store.ListConversations(ctx, seller.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, sellerList, 1)
	assert.Equal(t, 1, sellerList[0].UnreadCount)
	assert.Equal(t, "Is this still available?", sellerList[0].LastMessagePreview)
	assert.Len(t, sellerList[0].Participants, 2)

	buyerList, err := store.ListConversations(ctx, buyer.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, buyerList, 1)
	assert.Equal(t, 0, buyerList[0].UnreadCount)
}

func TestInsertMessage_AdvancesSenderWatermark(t *testing.T) {
	store := newTestStore(t)
	buyer, seller, product := seed(t, store)
	ctx := context.Background()

	first, err := store.StartConversation(ctx, buyer.ID, product.ID, []int64{seller.ID}, "Is this still available?")
	require.NoError(t, err)
	convID := first.ConversationID

	time.Sleep(5 * time.Millisecond)
	_, err = store.InsertMessage(ctx, convID, seller.ID, "Yes, come by tomorrow")
	require.NoError(t, err)

	buyerList, err := store.ListConversations(ctx, buyer.ID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, buyerList[0].UnreadCount, "the reply is unread for the buyer")

	sellerList, err := store.ListConversations(ctx, seller.ID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, sellerList[0].UnreadCount, "replying also reads the thread")
	assert.Equal(t, "Yes, come by tomorrow", sellerList[0].LastMessagePreview)
}

func TestInsertMessage_RejectsNonParticipant(t *testing.T) {
	store := newTestStore(t)
	buyer, seller, product := seed(t, store)
	ctx := context.Background()

	outsider, err := store.CreateUser(ctx, "mallory", "mallory-token")
	require.NoError(t, err)

	first, err := store.StartConversation(ctx, buyer.ID, product.ID, []int64{seller.ID}, "hi")
	require.NoError(t, err)

	_, err = store.InsertMessage(ctx, first.ConversationID, outsider.ID, "let me in")
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestMarkRead(t *testing.T) {
	store := newTestStore(t)
	buyer, seller, product := seed(t, store)
	ctx := context.Background()

	first, err := store.StartConversation(ctx, buyer.ID, product.ID, []int64{seller.ID}, "Is this still available?")
	require.NoError(t, err)
	convID := first.ConversationID

	require.NoError(t, store.MarkRead(ctx, convID, seller.ID))

	list, err := store.ListConversations(ctx, seller.ID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, list[0].UnreadCount)

	err = store.MarkRead(ctx, convID, 9999)
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestListConversations_RecencyOrder(t *testing.T) {
	store := newTestStore(t)
	buyer, seller, product := seed(t, store)
	ctx := context.Background()

	other, err := store.CreateProduct(ctx, "Camping tent", "")
	require.NoError(t, err)

	bike, err := store.StartConversation(ctx, buyer.ID, product.ID, []int64{seller.ID}, "about the bike")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	tent, err := store.StartConversation(ctx, buyer.ID, other.ID, []int64{seller.ID}, "about the tent")
	require.NoError(t, err)

	list, err := store.ListConversations(ctx, buyer.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, tent.ConversationID, list[0].ID, "newest activity first")

	// A reply in the older conversation moves it back to the top.
	time.Sleep(5 * time.Millisecond)
	_, err = store.InsertMessage(ctx, bike.ConversationID, seller.ID, "still here?")
	require.NoError(t, err)

	list, err = store.ListConversations(ctx, buyer.ID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, bike.ConversationID, list[0].ID)
}

func TestListConversations_Pagination(t *testing.T) {
	store := newTestStore(t)
	buyer, seller, product := seed(t, store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.StartConversation(ctx, buyer.ID, product.ID, []int64{seller.ID}, "hello")
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	page, err := store.ListConversations(ctx, buyer.ID, 2, 0)
	require.NoError(t, err)
	assert.Len(t, page, 2)

	rest, err := store.ListConversations(ctx, buyer.ID, 2, 2)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}

func TestGetConversationDetail(t *testing.T) {
	store := newTestStore(t)
	buyer, seller, product := seed(t, store)
	ctx := context.Background()

	first, err := store.StartConversation(ctx, buyer.ID, product.ID, []int64{seller.ID}, "Is this still available?")
	require.NoError(t, err)
	convID := first.ConversationID

	time.Sleep(5 * time.Millisecond)
	_, err = store.InsertMessage(ctx, convID, seller.ID, "Yes")
	require.NoError(t, err)

	d, err := store.GetConversationDetail(ctx, convID, buyer.ID)
	require.NoError(t, err)
	require.Len(t, d.Messages, 2)
	assert.Equal(t, "Is this still available?", d.Messages[0].Body, "history is oldest first")
	assert.Equal(t, "Yes", d.Messages[1].Body)
	assert.Equal(t, product.ID, d.ProductID)

	outsider, err := store.CreateUser(ctx, "mallory", "mallory-token")
	require.NoError(t, err)
	_, err = store.GetConversationDetail(ctx, convID, outsider.ID)
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestPreviewTruncation(t *testing.T) {
	store := newTestStore(t)
	buyer, seller, product := seed(t, store)
	ctx := context.Background()

	long := strings.Repeat("x", 300)
	_, err := store.StartConversation(ctx, buyer.ID, product.ID, []int64{seller.ID}, long)
	require.NoError(t, err)

	list, err := store.ListConversations(ctx, seller.ID, 0, 0)
	require.NoError(t, err)
	assert.Len(t, list[0].LastMessagePreview, previewLen)
}

func TestPreviewTruncation_MultibyteStaysValidUTF8(t *testing.T) {
	store := newTestStore(t)
	buyer, seller, product := seed(t, store)
	ctx := context.Background()

	// Multibyte runes must be cut on rune boundaries, not byte offsets.
	long := strings.Repeat("é", 300)
	_, err := store.StartConversation(ctx, buyer.ID, product.ID, []int64{seller.ID}, long)
	require.NoError(t, err)

	list, err := store.ListConversations(ctx, seller.ID, 0, 0)
	require.NoError(t, err)
	preview := list[0].LastMessagePreview
	assert.True(t, utf8.ValidString(preview))
	assert.Len(t, []rune(preview), previewLen)
}
