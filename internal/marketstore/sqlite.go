// ABOUTME: SQLite implementation of the fake market service store using modernc.org/sqlite
// ABOUTME: Provides conversation/message persistence with automatic schema creation

package marketstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

// previewLen matches the backend's preview truncation.
const previewLen = 120

// SQLiteStore persists the fake service's state in SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path. The schema is
// automatically created if it doesn't exist. Parent directories are created
// if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "marketstore")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("market store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			token_hash TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS products (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			title TEXT NOT NULL,
			image_url TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS conversations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			product_id INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (product_id) REFERENCES products(id)
		);

		CREATE TABLE IF NOT EXISTS participants (
			conversation_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			last_read_at DATETIME,
			PRIMARY KEY (conversation_id, user_id),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id),
			FOREIGN KEY (user_id) REFERENCES users(id)
		);

		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id INTEGER NOT NULL,
			sender_id INTEGER NOT NULL,
			body TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (conversation_id) REFERENCES conversations(id),
			FOREIGN KEY (sender_id) REFERENCES users(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_id
			ON messages(conversation_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateUser inserts a user with a bcrypt-hashed bearer token.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, token string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing token: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO users (username, token_hash) VALUES (?, ?)",
		username, string(hash))
	if err != nil {
		return nil, fmt.Errorf("inserting user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &User{ID: id, Username: username}, nil
}

// Authenticate resolves a bearer token to a user, or ErrInvalidToken.
func (s *SQLiteStore) Authenticate(ctx context.Context, token string) (*User, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, username, token_hash FROM users")
	if err != nil {
		return nil, fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var u User
		var hash string
		if err := rows.Scan(&u.ID, &u.Username, &hash); err != nil {
			return nil, err
		}
		if bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)) == nil {
			return &u, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return nil, ErrInvalidToken
}

// CreateProduct inserts a product.
func (s *SQLiteStore) CreateProduct(ctx context.Context, title, imageURL string) (*Product, error) {
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO products (title, image_url) VALUES (?, ?)",
		title, imageURL)
	if err != nil {
		return nil, fmt.Errorf("inserting product: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &Product{ID: id, Title: title, ImageURL: imageURL}, nil
}

// GetProduct fetches a product by id.
func (s *SQLiteStore) GetProduct(ctx context.Context, id int64) (*Product, error) {
	var p Product
	err := s.db.QueryRowContext(ctx,
		"SELECT id, title, image_url FROM products WHERE id = ?", id).
		Scan(&p.ID, &p.Title, &p.ImageURL)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// StartConversation creates a conversation about a product with the creator
// and the given participants, and records the first message. The creator's
// read watermark is set so their own first message is not counted unread.
func (s *SQLiteStore) StartConversation(ctx context.Context, creatorID, productID int64, participantIDs []int64, firstMessage string) (*Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		"INSERT INTO conversations (product_id, created_at) VALUES (?, ?)",
		productID, now)
	if err != nil {
		return nil, fmt.Errorf("inserting conversation: %w", err)
	}
	convID, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	members := append([]int64{creatorID}, participantIDs...)
	seen := make(map[int64]bool, len(members))
	for _, uid := range members {
		if seen[uid] {
			continue
		}
		seen[uid] = true
		var lastRead any
		if uid == creatorID {
			lastRead = now
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO participants (conversation_id, user_id, last_read_at) VALUES (?, ?, ?)",
			convID, uid, lastRead); err != nil {
			return nil, fmt.Errorf("inserting participant: %w", err)
		}
	}

	res, err = tx.ExecContext(ctx,
		"INSERT INTO messages (conversation_id, sender_id, body, created_at) VALUES (?, ?, ?, ?)",
		convID, creatorID, firstMessage, now)
	if err != nil {
		return nil, fmt.Errorf("inserting first message: %w", err)
	}
	msgID, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.logger.Debug("conversation started",
		"conversation_id", convID,
		"product_id", productID,
		"creator_id", creatorID)

	return &Message{
		ID:             msgID,
		ConversationID: convID,
		SenderID:       creatorID,
		Body:           firstMessage,
		CreatedAt:      now,
	}, nil
}

// InsertMessage appends a message to a conversation the sender belongs to,
// advancing the sender's read watermark past their own message.
func (s *SQLiteStore) InsertMessage(ctx context.Context, conversationID, senderID int64, body string) (*Message, error) {
	ok, err := s.isParticipant(ctx, conversationID, senderID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotParticipant
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO messages (conversation_id, sender_id, body, created_at) VALUES (?, ?, ?, ?)",
		conversationID, senderID, body, now)
	if err != nil {
		return nil, fmt.Errorf("inserting message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	if _, err := s.db.ExecContext(ctx,
		"UPDATE participants SET last_read_at = ? WHERE conversation_id = ? AND user_id = ?",
		now, conversationID, senderID); err != nil {
		return nil, fmt.Errorf("advancing read watermark: %w", err)
	}

	return &Message{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
		CreatedAt:      now,
	}, nil
}

// MarkRead moves the user's read watermark to now, or ErrNotParticipant.
func (s *SQLiteStore) MarkRead(ctx context.Context, conversationID, userID int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE participants SET last_read_at = ? WHERE conversation_id = ? AND user_id = ?",
		time.Now().UTC(), conversationID, userID)
	if err != nil {
		return fmt.Errorf("updating read watermark: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotParticipant
	}
	return nil
}

// ListConversations returns the user's conversations, most recently active
// first, with previews and unread counts computed for that user.
func (s *SQLiteStore) ListConversations(ctx context.Context, userID int64, limit, offset int) ([]ConversationSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.product_id
		FROM conversations c
		JOIN participants p ON p.conversation_id = c.id
		WHERE p.user_id = ?
		ORDER BY (
			SELECT COALESCE(MAX(m.created_at), c.created_at)
			FROM messages m WHERE m.conversation_id = c.id
		) DESC
		LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying conversations: %w", err)
	}
	defer rows.Close()

	var out []ConversationSummary
	for rows.Next() {
		var cs ConversationSummary
		if err := rows.Scan(&cs.ID, &cs.ProductID); err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		if err := s.fillSummary(ctx, &out[i], userID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// GetConversationDetail returns one conversation with full history, or
// ErrNotParticipant if the user is not a member.
func (s *SQLiteStore) GetConversationDetail(ctx context.Context, conversationID, userID int64) (*ConversationDetail, error) {
	ok, err := s.isParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotParticipant
	}

	var d ConversationDetail
	err = s.db.QueryRowContext(ctx,
		"SELECT id, product_id FROM conversations WHERE id = ?", conversationID).
		Scan(&d.ID, &d.ProductID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := s.fillSummary(ctx, &d.ConversationSummary, userID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, body, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Body, &m.CreatedAt); err != nil {
			return nil, err
		}
		d.Messages = append(d.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return &d, nil
}

// fillSummary populates participants, preview, last-message time, and the
// unread count for userID.
func (s *SQLiteStore) fillSummary(ctx context.Context, cs *ConversationSummary, userID int64) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.user_id, u.username, p.last_read_at
		FROM participants p JOIN users u ON u.id = p.user_id
		WHERE p.conversation_id = ?`, cs.ID)
	if err != nil {
		return fmt.Errorf("querying participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.UserID, &p.Username, &p.LastReadAt); err != nil {
			return err
		}
		cs.Participants = append(cs.Participants, p)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	var body string
	var at time.Time
	err = s.db.QueryRowContext(ctx, `
		SELECT body, created_at FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, cs.ID).Scan(&body, &at)
	if err != nil && err != sql.ErrNoRows {
		return err
	}
	if err == nil {
		// Truncate on runes, not bytes: a byte cut can split a multibyte
		// character and put invalid UTF-8 on the wire.
		if runes := []rune(body); len(runes) > previewLen {
			body = string(runes[:previewLen])
		}
		cs.LastMessagePreview = body
		cs.LastMessageAt = &at
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM messages m
		JOIN participants p ON p.conversation_id = m.conversation_id AND p.user_id = ?
		WHERE m.conversation_id = ?
		  AND m.sender_id != ?
		  AND (p.last_read_at IS NULL OR m.created_at > p.last_read_at)`,
		userID, cs.ID, userID).Scan(&cs.UnreadCount)
	if err != nil {
		return fmt.Errorf("counting unread: %w", err)
	}
	return nil
}

func (s *SQLiteStore) isParticipant(ctx context.Context, conversationID, userID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM participants WHERE conversation_id = ? AND user_id = ?",
		conversationID, userID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
