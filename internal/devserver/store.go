// Package devserver is an in-memory reference implementation of the
// chat server boundary: websocket pushes plus the REST fallback
// endpoints. It backs local development and the integration tests; the
// production server is an external system.
package devserver

import (
	"sort"
	"strings"
	"sync"

	"github.com/Bamboo-rat/adminchat/internal/model"
)

// Store holds every user and message in memory. All methods are safe
// for concurrent use.
type Store struct {
	mu      sync.Mutex
	users   map[string]model.UserSnapshot
	threads map[string][]model.ChatMessage // oldest-first per user pair
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		users:   make(map[string]model.UserSnapshot),
		threads: make(map[string][]model.ChatMessage),
	}
}

func threadKey(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return a + "|" + b
}

// UpsertUser registers or updates a user profile.
func (s *Store) UpsertUser(u model.UserSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// User resolves a profile snapshot. Unknown ids yield a bare snapshot
// so messaging never fails on a missing profile.
func (s *Store) User(id string) model.UserSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return u
	}
	return model.UserSnapshot{ID: id, Name: id}
}

// Append stores a confirmed message at the tail of its thread.
func (s *Store) Append(msg model.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := threadKey(msg.Sender.ID, msg.Receiver.ID)
	s.threads[key] = append(s.threads[key], msg)
}

// History returns one page of a thread, newest-first, mirroring the
// production API's ordering.
func (s *Store) History(userID, peerID string, pageIndex, pageSize int) []model.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pageIndex < 0 {
		pageIndex = 0
	}

	thread := s.threads[threadKey(userID, peerID)]

	out := make([]model.ChatMessage, 0, pageSize)
	// Walk from the tail: newest first.
	start := len(thread) - 1 - pageIndex*pageSize
	for i := start; i >= 0 && len(out) < pageSize; i-- {
		out = append(out, thread[i])
	}
	return out
}

// Conversations builds the directory view for one user: every thread
// they participate in, last activity descending, with unread counts.
func (s *Store) Conversations(userID string) []model.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Conversation
	for key, thread := range s.threads {
		a, b, _ := strings.Cut(key, "|")
		if len(thread) == 0 || (a != userID && b != userID) {
			continue
		}
		last := thread[len(thread)-1]

		peerID := last.PeerOf(userID)
		peer, ok := s.users[peerID]
		if !ok {
			peer = model.UserSnapshot{ID: peerID, Name: peerID}
		}

		unread := 0
		for _, m := range thread {
			if m.Receiver.ID == userID && m.Status != model.StatusRead {
				unread++
			}
		}

		lastCopy := last
		out = append(out, model.Conversation{
			Peer:            peer,
			LastMessage:     &lastCopy,
			LastMessageTime: last.SendTime,
			UnreadCount:     unread,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].LastMessageTime.After(out[j].LastMessageTime)
	})
	return out
}

// MarkConversationRead sets every message addressed to userID from
// peerID to READ and returns the updated messages so their senders can
// be notified.
func (s *Store) MarkConversationRead(userID, peerID string) []model.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()

	thread := s.threads[threadKey(userID, peerID)]
	var updated []model.ChatMessage
	for i := range thread {
		if thread[i].Receiver.ID == userID && thread[i].Status != model.StatusRead {
			thread[i].Status = model.StatusRead
			updated = append(updated, thread[i])
		}
	}
	return updated
}

// MarkMessageRead advances one message addressed to userID to READ.
func (s *Store) MarkMessageRead(userID, messageID string) (model.ChatMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, thread := range s.threads {
		for i := range thread {
			if thread[i].MessageID != messageID {
				continue
			}
			if thread[i].Receiver.ID != userID {
				return model.ChatMessage{}, false
			}
			thread[i].Status = thread[i].Status.Advance(model.StatusRead)
			return thread[i], true
		}
	}
	return model.ChatMessage{}, false
}
