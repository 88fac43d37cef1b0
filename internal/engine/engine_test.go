package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bamboo-rat/adminchat/internal/model"
)

var (
	alice = model.UserSnapshot{ID: "alice", Name: "Alice"}
	bob   = model.UserSnapshot{ID: "bob", Name: "Bob"}
)

func serverMsg(id, from, to, content string, status model.MessageStatus) model.ChatMessage {
	users := map[string]model.UserSnapshot{"alice": alice, "bob": bob}
	sender, receiver := users[from], users[to]
	return model.ChatMessage{
		MessageID: id,
		Sender:    sender,
		Receiver:  receiver,
		Content:   content,
		Type:      model.TypeText,
		SendTime:  time.Now().UTC(),
		Status:    status,
	}
}

func TestStageSendAppendsProvisional(t *testing.T) {
	e := New(alice, nil)

	staged := e.StageSend(bob, "hello", model.TypeText)

	assert.True(t, staged.Provisional())
	assert.NotEmpty(t, staged.ClientRef)

	tl := e.Timeline("bob")
	require.Len(t, tl, 1)
	assert.Equal(t, staged.MessageID, tl[0].MessageID)
}

func TestRapidSendsGetDistinctProvisionalIDs(t *testing.T) {
	e := New(alice, nil)

	m1 := e.StageSend(bob, "one", model.TypeText)
	m2 := e.StageSend(bob, "one", model.TypeText)

	assert.NotEqual(t, m1.MessageID, m2.MessageID)
	assert.NotEqual(t, m1.ClientRef, m2.ClientRef)

	// Each reconciles independently, no cross-reconciliation.
	echo1 := serverMsg("srv-1", "alice", "bob", "one", model.StatusSent)
	echo1.ClientRef = m1.ClientRef
	echo2 := serverMsg("srv-2", "alice", "bob", "one", model.StatusSent)
	echo2.ClientRef = m2.ClientRef

	res2 := e.ApplyInbound(echo2)
	res1 := e.ApplyInbound(echo1)
	assert.Equal(t, Confirmed, res2.Kind)
	assert.Equal(t, Confirmed, res1.Kind)

	tl := e.Timeline("bob")
	require.Len(t, tl, 2)
	assert.Equal(t, "srv-1", tl[0].MessageID)
	assert.Equal(t, "srv-2", tl[1].MessageID)
}

func TestConfirmSendPreservesPosition(t *testing.T) {
	e := New(alice, nil)

	e.ApplyInbound(serverMsg("srv-1", "bob", "alice", "hi", model.StatusRead))
	staged := e.StageSend(bob, "hello", model.TypeText)
	e.ApplyInbound(serverMsg("srv-2", "bob", "alice", "more", model.StatusRead))

	tl := e.Timeline("bob")
	require.Equal(t, staged.MessageID, tl[1].MessageID)

	confirmed := serverMsg("srv-3", "alice", "bob", "hello", model.StatusSent)
	confirmed.ClientRef = staged.ClientRef
	res := e.ConfirmSend("bob", staged.MessageID, confirmed)
	assert.Equal(t, Confirmed, res.Kind)

	tl = e.Timeline("bob")
	require.Len(t, tl, 3)
	assert.Equal(t, "srv-3", tl[1].MessageID, "confirmed message keeps the provisional's slot")
}

func TestRollbackRestoresPreSendTimeline(t *testing.T) {
	e := New(alice, nil)
	e.ApplyInbound(serverMsg("srv-1", "bob", "alice", "hi", model.StatusRead))
	before := e.Timeline("bob")

	staged := e.StageSend(bob, "doomed", model.TypeText)
	content, ok := e.RollbackSend("bob", staged.MessageID)

	require.True(t, ok)
	assert.Equal(t, "doomed", content)
	assert.Equal(t, before, e.Timeline("bob"))
}

func TestRollbackByRefRemovesProvisional(t *testing.T) {
	e := New(alice, nil)
	e.ApplyInbound(serverMsg("srv-1", "bob", "alice", "hi", model.StatusRead))
	before := e.Timeline("bob")

	staged := e.StageSend(bob, "refused", model.TypeText)

	peer, content, ok := e.RollbackByRef(staged.ClientRef)
	require.True(t, ok)
	assert.Equal(t, "bob", peer)
	assert.Equal(t, "refused", content)
	assert.Equal(t, before, e.Timeline("bob"))

	// Already rolled back, and unknown refs, are no-ops.
	_, _, ok = e.RollbackByRef(staged.ClientRef)
	assert.False(t, ok)
	_, _, ok = e.RollbackByRef("no-such-ref")
	assert.False(t, ok)
}

func TestApplyInboundIsIdempotent(t *testing.T) {
	e := New(alice, nil)
	msg := serverMsg("srv-1", "bob", "alice", "hi", model.StatusDelivered)

	res1 := e.ApplyInbound(msg)
	res2 := e.ApplyInbound(msg)

	assert.Equal(t, Appended, res1.Kind)
	assert.Equal(t, Overwrote, res2.Kind)
	assert.Len(t, e.Timeline("bob"), 1)
}

func TestApplyInboundStatusNeverMovesBackward(t *testing.T) {
	e := New(alice, nil)

	msg := serverMsg("srv-1", "bob", "alice", "hi", model.StatusRead)
	e.ApplyInbound(msg)

	stale := msg
	stale.Status = model.StatusDelivered
	e.ApplyInbound(stale)

	tl := e.Timeline("bob")
	require.Len(t, tl, 1)
	assert.Equal(t, model.StatusRead, tl[0].Status)
}

func TestEchoReconciliationByClientRef(t *testing.T) {
	e := New(alice, nil)
	staged := e.StageSend(bob, "hello", model.TypeText)

	echo := serverMsg("srv-1", "alice", "bob", "hello", model.StatusDelivered)
	echo.ClientRef = staged.ClientRef

	res := e.ApplyInbound(echo)
	assert.Equal(t, Confirmed, res.Kind)

	tl := e.Timeline("bob")
	require.Len(t, tl, 1)
	assert.Equal(t, "srv-1", tl[0].MessageID)
	assert.False(t, tl[0].Provisional())
}

func TestEchoReconciliationHeuristicWithoutClientRef(t *testing.T) {
	e := New(alice, nil)
	staged := e.StageSend(bob, "hello", model.TypeText)
	_ = staged

	echo := serverMsg("srv-1", "alice", "bob", "hello", model.StatusSent)

	res := e.ApplyInbound(echo)
	assert.Equal(t, Confirmed, res.Kind)
	require.Len(t, e.Timeline("bob"), 1)
}

func TestConfirmAfterEchoDoesNotDuplicate(t *testing.T) {
	e := New(alice, nil)
	staged := e.StageSend(bob, "hello", model.TypeText)

	// Push echo lands before the fallback response returns.
	echo := serverMsg("srv-1", "alice", "bob", "hello", model.StatusSent)
	echo.ClientRef = staged.ClientRef
	e.ApplyInbound(echo)

	e.ConfirmSend("bob", staged.MessageID, echo)

	tl := e.Timeline("bob")
	require.Len(t, tl, 1)
	assert.Equal(t, "srv-1", tl[0].MessageID)
}

func TestLoadHistoryReversesPage(t *testing.T) {
	e := New(alice, nil)

	m1 := serverMsg("m1", "bob", "alice", "first", model.StatusRead)
	m2 := serverMsg("m2", "bob", "alice", "second", model.StatusRead)
	m3 := serverMsg("m3", "bob", "alice", "third", model.StatusRead)

	// Server order: newest first.
	e.LoadHistory("bob", []model.ChatMessage{m3, m2, m1})

	tl := e.Timeline("bob")
	require.Len(t, tl, 3)
	assert.Equal(t, "m1", tl[0].MessageID)
	assert.Equal(t, "m2", tl[1].MessageID)
	assert.Equal(t, "m3", tl[2].MessageID)
}

func TestLoadHistoryKeepsOutstandingProvisionals(t *testing.T) {
	e := New(alice, nil)
	staged := e.StageSend(bob, "pending", model.TypeText)

	m1 := serverMsg("m1", "bob", "alice", "old", model.StatusRead)
	e.LoadHistory("bob", []model.ChatMessage{m1})

	tl := e.Timeline("bob")
	require.Len(t, tl, 2)
	assert.Equal(t, "m1", tl[0].MessageID)
	assert.Equal(t, staged.MessageID, tl[1].MessageID)
}

func TestInboundToLocalFlag(t *testing.T) {
	e := New(alice, nil)

	res := e.ApplyInbound(serverMsg("srv-1", "bob", "alice", "hi", model.StatusDelivered))
	assert.True(t, res.InboundToLocal)
	assert.Equal(t, "bob", res.Peer)

	res = e.ApplyInbound(serverMsg("srv-2", "alice", "bob", "yo", model.StatusSent))
	assert.False(t, res.InboundToLocal)
	assert.Equal(t, "bob", res.Peer)
}
