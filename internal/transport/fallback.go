package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Bamboo-rat/adminchat/internal/model"
)

// Fallback is the request/response channel. Every operation works
// regardless of the persistent channel's state.
type Fallback struct {
	baseURL string
	token   string
	client  *http.Client
	log     *zap.Logger
}

// NewFallback builds the HTTP fallback client for the given server.
func NewFallback(baseURL, token string, log *zap.Logger) *Fallback {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fallback{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 15 * time.Second},
		log:     log,
	}
}

type sendMessageRequest struct {
	ReceiverID string            `json:"receiverId"`
	Content    string            `json:"content"`
	Type       model.MessageType `json:"type"`
	ClientRef  string            `json:"clientRef,omitempty"`
}

// ListConversations fetches the conversation summary list, sorted by
// last activity descending (server order is kept as-is).
func (f *Fallback) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	var out []model.Conversation
	if err := f.do(ctx, http.MethodGet, "/api/chat/conversations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetConversation fetches one page of a conversation's history. The
// server returns messages newest-first; callers reverse the page
// before using it as a timeline base.
func (f *Fallback) GetConversation(ctx context.Context, peerID string, pageIndex, pageSize int) ([]model.ChatMessage, error) {
	path := "/api/chat/conversations/" + url.PathEscape(peerID) + "/messages" +
		"?page=" + strconv.Itoa(pageIndex) + "&size=" + strconv.Itoa(pageSize)

	var out []model.ChatMessage
	if err := f.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SendMessage delivers a message over the request/response channel and
// returns the server-confirmed copy.
func (f *Fallback) SendMessage(ctx context.Context, receiverID, content string, typ model.MessageType, clientRef string) (model.ChatMessage, error) {
	req := sendMessageRequest{
		ReceiverID: receiverID,
		Content:    content,
		Type:       typ,
		ClientRef:  clientRef,
	}

	var out model.ChatMessage
	if err := f.do(ctx, http.MethodPost, "/api/chat/messages", req, &out); err != nil {
		return model.ChatMessage{}, err
	}
	return out, nil
}

// MarkConversationRead bulk-marks every message from peerID as read.
func (f *Fallback) MarkConversationRead(ctx context.Context, peerID string) error {
	path := "/api/chat/conversations/" + url.PathEscape(peerID) + "/read"
	return f.do(ctx, http.MethodPost, path, nil, nil)
}

func (f *Fallback) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("transport: encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, f.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+f.token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("transport: %s %s: %w", method, path, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("transport: %s %s: status %d: %s", method, path, res.StatusCode, bytes.TrimSpace(msg))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("transport: decode response: %w", err)
	}
	return nil
}
