// Package directory maintains the conversation summary list shown in
// the sidebar: peer identity, last message, unread count.
package directory

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Bamboo-rat/adminchat/internal/model"
)

// Lister is the slice of the fallback channel the directory needs.
type Lister interface {
	ListConversations(ctx context.Context) ([]model.Conversation, error)
}

// Directory caches the latest conversation list. Like the engine it is
// confined to the session event loop and does no locking of its own.
type Directory struct {
	lister        Lister
	log           *zap.Logger
	conversations []model.Conversation
}

// New builds an empty directory backed by the given fallback channel.
func New(lister Lister, log *zap.Logger) *Directory {
	if log == nil {
		log = zap.NewNop()
	}
	return &Directory{lister: lister, log: log}
}

// List returns a copy of the current conversation list in server
// order (last activity descending). Last messages are cloned too, so
// callers never alias directory-owned state.
func (d *Directory) List() []model.Conversation {
	out := make([]model.Conversation, len(d.conversations))
	for i, c := range d.conversations {
		out[i] = detach(c)
	}
	return out
}

// Get looks up one conversation by peer id.
func (d *Directory) Get(peerID string) (model.Conversation, bool) {
	for _, c := range d.conversations {
		if c.Peer.ID == peerID {
			return detach(c), true
		}
	}
	return model.Conversation{}, false
}

func detach(c model.Conversation) model.Conversation {
	if c.LastMessage != nil {
		m := *c.LastMessage
		c.LastMessage = &m
	}
	return c
}

// Refresh re-fetches the whole list. This runs after every
// reconciliation event; refetching wholesale is deliberately simple and
// keeps unread counts and last messages consistent with the server. On
// error the previous list is kept untouched.
func (d *Directory) Refresh(ctx context.Context) error {
	list, err := d.lister.ListConversations(ctx)
	if err != nil {
		d.log.Warn("conversation list refresh failed; keeping previous list", zap.Error(err))
		return fmt.Errorf("directory: refresh: %w", err)
	}
	d.conversations = list
	return nil
}

// Filter returns the conversations matching query by peer name, peer
// contact id, or last message content, case-insensitively. An empty
// query matches everything. Pure function; the directory is unchanged.
func Filter(list []model.Conversation, query string) []model.Conversation {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return list
	}

	var out []model.Conversation
	for _, c := range list {
		if strings.Contains(strings.ToLower(c.Peer.Name), q) ||
			strings.Contains(strings.ToLower(c.Peer.Contact), q) ||
			(c.LastMessage != nil && strings.Contains(strings.ToLower(c.LastMessage.Content), q)) {
			out = append(out, c)
		}
	}
	return out
}
