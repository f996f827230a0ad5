// ABOUTME: HTTP client for the message service's pull-style endpoints
// ABOUTME: Maps HTTP status classes onto the engine's error taxonomy

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/trovato-app/msgsync/internal/auth"
)

// DefaultTimeout bounds each request when the caller does not supply an
// http.Client of its own.
const DefaultTimeout = 15 * time.Second

// Client talks to the message service. It is safe for concurrent use.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a client for the service at baseURL. httpClient and
// logger may be nil, in which case defaults are used.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		base:   base,
		http:   httpClient,
		logger: logger.With("component", "api"),
	}, nil
}

// errorBody is the service's error payload shape.
type errorBody struct {
	Detail string `json:"detail"`
}

// ListConversations fetches the caller's conversation list. limit and offset
// follow the service's pagination; limit <= 0 uses the service default.
func (c *Client) ListConversations(ctx context.Context, cred *auth.Credential, limit, offset int) ([]Conversation, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/messages/conversations"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out []Conversation
	if err := c.do(ctx, cred, http.MethodGet, path, nil, &out, "list conversations"); err != nil {
		return nil, err
	}
	return out, nil
}

// GetConversation fetches one conversation with its full message history,
// oldest first.
func (c *Client) GetConversation(ctx context.Context, cred *auth.Credential, id int64) (*ConversationDetail, error) {
	var out ConversationDetail
	path := fmt.Sprintf("/messages/conversations/%d", id)
	if err := c.do(ctx, cred, http.MethodGet, path, nil, &out, "fetch conversation"); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateConversation starts a new conversation about productID with the
// given participants and an initial message. The service returns the created
// first message, whose ConversationID identifies the new conversation.
func (c *Client) CreateConversation(ctx context.Context, cred *auth.Credential, productID int64, participantIDs []int64, firstMessage string) (*Message, error) {
	req := startConversationRequest{
		ProductID:      productID,
		ParticipantIDs: participantIDs,
		FirstMessage:   firstMessage,
	}
	var out Message
	if err := c.do(ctx, cred, http.MethodPost, "/messages/conversations", req, &out, "create conversation"); err != nil {
		return nil, err
	}
	return &out, nil
}

// PostMessage posts body to a conversation. idempotencyKey is sent as a
// header so a retried request cannot double-post.
func (c *Client) PostMessage(ctx context.Context, cred *auth.Credential, conversationID int64, body, idempotencyKey string) (*Message, error) {
	req := postMessageRequest{Body: body}
	var out Message
	path := fmt.Sprintf("/messages/conversations/%d/messages", conversationID)
	err := c.doWithHeaders(ctx, cred, http.MethodPost, path, req, &out, "post message",
		map[string]string{"Idempotency-Key": idempotencyKey})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// MarkRead marks every message in the conversation as read for the caller.
func (c *Client) MarkRead(ctx context.Context, cred *auth.Credential, conversationID int64) error {
	path := fmt.Sprintf("/messages/conversations/%d/mark-read", conversationID)
	return c.do(ctx, cred, http.MethodPost, path, nil, nil, "mark read")
}

// GetProduct fetches display metadata for a product. Used by the
// read-through product reference cache; results may go stale without harm.
func (c *Client) GetProduct(ctx context.Context, cred *auth.Credential, productID int64) (*ProductSummary, error) {
	var out ProductSummary
	path := fmt.Sprintf("/products/%d", productID)
	if err := c.do(ctx, cred, http.MethodGet, path, nil, &out, "fetch product"); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) do(ctx context.Context, cred *auth.Credential, method, path string, in, out any, op string) error {
	return c.doWithHeaders(ctx, cred, method, path, in, out, op, nil)
}

// doWithHeaders performs one request. The credential is checked locally
// first: an absent or expired credential fails with AuthError without
// touching the network.
func (c *Client) doWithHeaders(ctx context.Context, cred *auth.Credential, method, path string, in, out any, op string, headers map[string]string) error {
	if err := cred.Check(time.Now()); err != nil {
		return &AuthError{Reason: err.Error()}
	}

	var bodyReader io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	ref, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("building request URL: %w", err)
	}
	u := c.base.ResolveReference(ref)

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", cred.Authorization())
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp, op); err != nil {
		return err
	}

	if out == nil {
		// Drain so the connection can be reused.
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &NetworkError{Op: op, Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

// checkStatus maps non-2xx responses onto the error taxonomy.
func (c *Client) checkStatus(resp *http.Response, op string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	reason := readErrorDetail(resp.Body)
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthError{Reason: reason}
	case resp.StatusCode == http.StatusConflict:
		return &ConflictError{Reason: reason}
	case resp.StatusCode >= 500:
		return &NetworkError{Op: op, Err: fmt.Errorf("server returned %d", resp.StatusCode)}
	default:
		if reason == "" {
			reason = resp.Status
		}
		c.logger.Debug("request rejected", "op", op, "status", resp.StatusCode, "reason", reason)
		return errors.New(reason)
	}
}

// readErrorDetail extracts the service's error detail, tolerating bodies
// that are not the expected JSON shape.
func readErrorDetail(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil {
		return ""
	}
	var eb errorBody
	if err := json.Unmarshal(raw, &eb); err != nil {
		return ""
	}
	return eb.Detail
}
