package devserver

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bamboo-rat/adminchat/internal/model"
)

func storeMsg(id, from, to, content string, status model.MessageStatus, at time.Time) model.ChatMessage {
	return model.ChatMessage{
		MessageID: id,
		Sender:    model.UserSnapshot{ID: from, Name: from},
		Receiver:  model.UserSnapshot{ID: to, Name: to},
		Content:   content,
		Type:      model.TypeText,
		SendTime:  at,
		Status:    status,
	}
}

func TestHistoryIsNewestFirstAndPaged(t *testing.T) {
	s := NewStore()
	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		s.Append(storeMsg(fmt.Sprintf("m%d", i), "alice", "bob", fmt.Sprintf("msg %d", i), model.StatusSent, base.Add(time.Duration(i)*time.Second)))
	}

	page0 := s.History("bob", "alice", 0, 2)
	require.Len(t, page0, 2)
	assert.Equal(t, "m4", page0[0].MessageID)
	assert.Equal(t, "m3", page0[1].MessageID)

	page1 := s.History("bob", "alice", 1, 2)
	require.Len(t, page1, 2)
	assert.Equal(t, "m2", page1[0].MessageID)

	page2 := s.History("bob", "alice", 2, 2)
	require.Len(t, page2, 1)
	assert.Equal(t, "m0", page2[0].MessageID)

	assert.Empty(t, s.History("bob", "alice", 3, 2))
}

func TestHistoryNegativePageIsClampedToFirst(t *testing.T) {
	s := NewStore()
	s.Append(storeMsg("m0", "alice", "bob", "only", model.StatusSent, time.Now().UTC()))

	page := s.History("bob", "alice", -1, 50)
	require.Len(t, page, 1)
	assert.Equal(t, "m0", page[0].MessageID)
}

func TestConversationsUnreadAndOrder(t *testing.T) {
	s := NewStore()
	s.UpsertUser(model.UserSnapshot{ID: "binh", Name: "Binh"})
	s.UpsertUser(model.UserSnapshot{ID: "chi", Name: "Chi"})

	base := time.Now().UTC()
	s.Append(storeMsg("m1", "binh", "admin", "hi", model.StatusSent, base))
	s.Append(storeMsg("m2", "binh", "admin", "there", model.StatusSent, base.Add(time.Second)))
	s.Append(storeMsg("m3", "chi", "admin", "newer", model.StatusSent, base.Add(2*time.Second)))
	s.Append(storeMsg("m4", "admin", "chi", "reply", model.StatusSent, base.Add(3*time.Second)))

	convos := s.Conversations("admin")
	require.Len(t, convos, 2)

	// Last activity descending: chi's thread is fresher.
	assert.Equal(t, "chi", convos[0].Peer.ID)
	assert.Equal(t, 1, convos[0].UnreadCount)
	assert.Equal(t, "m4", convos[0].LastMessage.MessageID)

	assert.Equal(t, "binh", convos[1].Peer.ID)
	assert.Equal(t, 2, convos[1].UnreadCount)
}

func TestMarkConversationRead(t *testing.T) {
	s := NewStore()
	base := time.Now().UTC()
	s.Append(storeMsg("m1", "binh", "admin", "a", model.StatusDelivered, base))
	s.Append(storeMsg("m2", "binh", "admin", "b", model.StatusDelivered, base.Add(time.Second)))
	s.Append(storeMsg("m3", "admin", "binh", "c", model.StatusSent, base.Add(2*time.Second)))

	updated := s.MarkConversationRead("admin", "binh")
	require.Len(t, updated, 2, "only messages addressed to the reader flip")

	convos := s.Conversations("admin")
	require.Len(t, convos, 1)
	assert.Equal(t, 0, convos[0].UnreadCount)

	// Second call is a no-op.
	assert.Empty(t, s.MarkConversationRead("admin", "binh"))
}

func TestMarkMessageRead(t *testing.T) {
	s := NewStore()
	s.Append(storeMsg("m1", "binh", "admin", "a", model.StatusDelivered, time.Now().UTC()))

	msg, ok := s.MarkMessageRead("admin", "m1")
	require.True(t, ok)
	assert.Equal(t, model.StatusRead, msg.Status)

	// Only the receiver may mark a message read.
	_, ok = s.MarkMessageRead("binh", "m1")
	assert.False(t, ok)

	_, ok = s.MarkMessageRead("admin", "missing")
	assert.False(t, ok)
}
