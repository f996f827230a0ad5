// ABOUTME: HTTP handlers implementing the message service contract
// ABOUTME: Bearer tokens resolve to store users; payloads match the real backend

package fakeservice

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/trovato-app/msgsync/internal/api"
	"github.com/trovato-app/msgsync/internal/marketstore"
)

// Service serves the message service routes over a marketstore.
type Service struct {
	store  *marketstore.SQLiteStore
	logger *slog.Logger
	mux    *http.ServeMux
}

// New creates the service. logger may be nil.
func New(store *marketstore.SQLiteStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:  store,
		logger: logger.With("component", "fakeservice"),
		mux:    http.NewServeMux(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Service) routes() {
	s.mux.HandleFunc("GET /messages/conversations", s.requireUser(s.handleListConversations))
	s.mux.HandleFunc("GET /messages/conversations/{id}", s.requireUser(s.handleGetConversation))
	s.mux.HandleFunc("POST /messages/conversations", s.requireUser(s.handleStartConversation))
	s.mux.HandleFunc("POST /messages/conversations/{id}/messages", s.requireUser(s.handlePostMessage))
	s.mux.HandleFunc("POST /messages/conversations/{id}/mark-read", s.requireUser(s.handleMarkRead))
	s.mux.HandleFunc("GET /products/{id}", s.requireUser(s.handleGetProduct))
}

type userHandler func(w http.ResponseWriter, r *http.Request, user *marketstore.User)

// requireUser authenticates the bearer token and rejects the request with
// 401 when it is missing or unknown.
func (s *Service) requireUser(next userHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			s.writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		user, err := s.store.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, marketstore.ErrInvalidToken) {
				s.writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			s.internalError(w, "authenticating", err)
			return
		}
		next(w, r, user)
	}
}

func (s *Service) handleListConversations(w http.ResponseWriter, r *http.Request, user *marketstore.User) {
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)

	convs, err := s.store.ListConversations(r.Context(), user.ID, limit, offset)
	if err != nil {
		s.internalError(w, "listing conversations", err)
		return
	}

	out := make([]api.Conversation, 0, len(convs))
	for _, c := range convs {
		out = append(out, toWireConversation(c))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Service) handleGetConversation(w http.ResponseWriter, r *http.Request, user *marketstore.User) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	detail, err := s.store.GetConversationDetail(r.Context(), id, user.ID)
	switch {
	case errors.Is(err, marketstore.ErrNotFound), errors.Is(err, marketstore.ErrNotParticipant):
		s.writeError(w, http.StatusNotFound, "conversation not found")
		return
	case err != nil:
		s.internalError(w, "fetching conversation", err)
		return
	}

	out := api.ConversationDetail{Conversation: toWireConversation(detail.ConversationSummary)}
	for _, m := range detail.Messages {
		out.Messages = append(out.Messages, toWireMessage(m))
	}
	s.writeJSON(w, http.StatusOK, out)
}

type startConversationRequest struct {
	ProductID      int64   `json:"product_id"`
	ParticipantIDs []int64 `json:"participant_ids"`
	FirstMessage   string  `json:"first_message"`
}

func (s *Service) handleStartConversation(w http.ResponseWriter, r *http.Request, user *marketstore.User) {
	var req startConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.ProductID == 0 || strings.TrimSpace(req.FirstMessage) == "" {
		s.writeError(w, http.StatusBadRequest, "product_id and first_message are required")
		return
	}

	msg, err := s.store.StartConversation(r.Context(), user.ID, req.ProductID, req.ParticipantIDs, req.FirstMessage)
	if err != nil {
		s.internalError(w, "starting conversation", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toWireMessage(*msg))
}

type postMessageRequest struct {
	Body string `json:"body"`
}

func (s *Service) handlePostMessage(w http.ResponseWriter, r *http.Request, user *marketstore.User) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if strings.TrimSpace(req.Body) == "" {
		s.writeError(w, http.StatusBadRequest, "body is required")
		return
	}

	msg, err := s.store.InsertMessage(r.Context(), id, user.ID, req.Body)
	switch {
	case errors.Is(err, marketstore.ErrNotParticipant):
		s.writeError(w, http.StatusNotFound, "conversation not found")
		return
	case err != nil:
		s.internalError(w, "posting message", err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toWireMessage(*msg))
}

func (s *Service) handleMarkRead(w http.ResponseWriter, r *http.Request, user *marketstore.User) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	err := s.store.MarkRead(r.Context(), id, user.ID)
	switch {
	case errors.Is(err, marketstore.ErrNotParticipant):
		s.writeError(w, http.StatusNotFound, "conversation not found")
		return
	case err != nil:
		s.internalError(w, "marking read", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleGetProduct(w http.ResponseWriter, r *http.Request, _ *marketstore.User) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	p, err := s.store.GetProduct(r.Context(), id)
	switch {
	case errors.Is(err, marketstore.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "product not found")
		return
	case err != nil:
		s.internalError(w, "fetching product", err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ProductSummary{
		ID:       p.ID,
		Title:    p.Title,
		ImageURL: p.ImageURL,
	})
}

func toWireConversation(c marketstore.ConversationSummary) api.Conversation {
	out := api.Conversation{
		ID:                 c.ID,
		ProductID:          c.ProductID,
		LastMessagePreview: c.LastMessagePreview,
		LastMessageAt:      c.LastMessageAt,
		UnreadCount:        c.UnreadCount,
	}
	for _, p := range c.Participants {
		out.Participants = append(out.Participants, api.Participant{
			UserID:   p.UserID,
			Username: p.Username,
		})
	}
	return out
}

func toWireMessage(m marketstore.Message) api.Message {
	return api.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Body:           m.Body,
		CreatedAt:      m.CreatedAt,
	}
}

func (s *Service) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Service) writeError(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, map[string]string{"detail": detail})
}

func (s *Service) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error("internal error", "op", op, "error", err)
	s.writeError(w, http.StatusInternalServerError, "internal error")
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return v
}

func (s *Service) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}
