package devserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Bamboo-rat/adminchat/internal/auth"
	"github.com/Bamboo-rat/adminchat/internal/model"
)

// Server exposes the chat boundary over HTTP: the REST fallback
// endpoints plus the websocket upgrade.
type Server struct {
	store  *Store
	hub    *Hub
	secret string
	log    *zap.Logger
}

// NewServer wires a server around a store and hub. The hub's Run loop
// is the caller's to start.
func NewServer(store *Store, hub *Hub, secret string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{store: store, hub: hub, secret: secret, log: log}
}

// Router builds the chi routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)

		r.Get("/api/chat/conversations", s.listConversations)
		r.Get("/api/chat/conversations/{peerID}/messages", s.getConversation)
		r.Post("/api/chat/messages", s.sendMessage)
		r.Post("/api/chat/conversations/{peerID}/read", s.markConversationRead)
		r.Get("/ws", s.serveWs)
	})

	return r
}

// authenticate validates the bearer token and stashes the user id in
// the request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if raw == "" {
			raw = r.URL.Query().Get("token")
		}

		userID, err := auth.ValidateToken(raw, s.secret)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), auth.UserIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func userFrom(r *http.Request) string {
	id, _ := r.Context().Value(auth.UserIDKey).(string)
	return id
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	list := s.store.Conversations(userFrom(r))
	if list == nil {
		list = []model.Conversation{}
	}
	writeJSON(w, list)
}

func (s *Server) getConversation(w http.ResponseWriter, r *http.Request) {
	peerID := chi.URLParam(r, "peerID")

	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 0 {
		page = 0
	}
	size, err := strconv.Atoi(r.URL.Query().Get("size"))
	if err != nil || size <= 0 || size > 200 {
		size = 50
	}

	history := s.store.History(userFrom(r), peerID, page, size)
	if history == nil {
		history = []model.ChatMessage{}
	}
	writeJSON(w, history)
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ReceiverID string            `json:"receiverId"`
		Content    string            `json:"content"`
		Type       model.MessageType `json:"type"`
		ClientRef  string            `json:"clientRef"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	reply := make(chan model.ChatMessage, 1)
	s.hub.Requests <- request{
		from: userFrom(r),
		frame: model.Frame{
			Kind:       model.OpSendMessage,
			ReceiverID: body.ReceiverID,
			Content:    body.Content,
			Type:       body.Type,
			ClientRef:  body.ClientRef,
		},
		reply: reply,
	}

	msg, ok := <-reply
	if !ok {
		http.Error(w, "message rejected", http.StatusTooManyRequests)
		return
	}
	writeJSON(w, msg)
}

func (s *Server) markConversationRead(w http.ResponseWriter, r *http.Request) {
	reply := make(chan model.ChatMessage, 1)
	s.hub.Requests <- request{
		from: userFrom(r),
		frame: model.Frame{
			Kind:       opMarkConversationRead,
			ReceiverID: chi.URLParam(r, "peerID"),
		},
		reply: reply,
	}
	<-reply

	w.WriteHeader(http.StatusNoContent)
}

// serveWs upgrades the connection and parks the client on the hub.
func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	userID := userFrom(r)
	c := newClient(conn, userID, s.log)

	reg := Registration{Client: c, Done: make(chan struct{})}
	s.hub.Register <- reg
	<-reg.Done

	s.log.Info("websocket connected", zap.String("user", userID))

	// Block on the read pump; the request context is canceled the
	// moment this handler returns.
	go c.writePump(r.Context())
	c.readPump(r.Context(), s.hub)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encode failed", http.StatusInternalServerError)
	}
}
