// Package engine reconciles three message sources into one ordered,
// deduplicated timeline per conversation: optimistic local sends,
// fallback-channel confirmations, and persistent-channel pushes.
//
// The engine is not safe for concurrent use. The session controller
// confines it to the event loop goroutine, which is the only mutator
// of timeline state.
package engine

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Bamboo-rat/adminchat/internal/model"
)

// echoWindow bounds the sendTime distance for the heuristic match of a
// server echo against a provisional entry, used only when the server
// did not echo the clientRef. Generous, to absorb clock skew.
const echoWindow = time.Minute

// ApplyKind describes what an inbound event did to the timeline.
type ApplyKind int

const (
	// Appended added a brand-new entry.
	Appended ApplyKind = iota
	// Overwrote replaced an existing entry with the same server id in
	// place, typically advancing its status.
	Overwrote
	// Confirmed replaced a provisional entry with its server echo.
	Confirmed
)

// Result reports the outcome of applying one inbound message.
type Result struct {
	Kind ApplyKind
	// Peer is the conversation key the event landed in.
	Peer string
	// Message is the reconciled timeline entry.
	Message model.ChatMessage
	// InboundToLocal is true for messages addressed to the local user
	// from someone else; those drive unread counts and read receipts.
	InboundToLocal bool
}

// Engine owns the per-conversation timelines.
type Engine struct {
	local     model.UserSnapshot
	log       *zap.Logger
	now       func() time.Time
	timelines map[string][]model.ChatMessage
}

// New creates an engine for the given local user.
func New(local model.UserSnapshot, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		local:     local,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
		timelines: make(map[string][]model.ChatMessage),
	}
}

// Timeline returns a copy of one conversation's reconciled timeline,
// oldest first. Unknown peers yield an empty slice.
func (e *Engine) Timeline(peerID string) []model.ChatMessage {
	tl := e.timelines[peerID]
	out := make([]model.ChatMessage, len(tl))
	copy(out, tl)
	return out
}

// StageSend creates a provisional message for a send intent and
// appends it to the peer's timeline immediately. The returned message
// carries a fresh local id and a clientRef for echo correlation.
func (e *Engine) StageSend(peer model.UserSnapshot, content string, typ model.MessageType) model.ChatMessage {
	msg := model.ChatMessage{
		MessageID: model.NewLocalID(),
		ClientRef: uuid.NewString(),
		Sender:    e.local,
		Receiver:  peer,
		Content:   content,
		Type:      typ,
		SendTime:  e.now(),
		Status:    model.StatusSent,
	}
	e.timelines[peer.ID] = append(e.timelines[peer.ID], msg)
	return msg
}

// ConfirmSend replaces the provisional entry with the server-confirmed
// message, preserving its timeline position. If a pushed echo already
// reconciled the provisional, the confirmation is applied as a regular
// inbound message instead, so no duplicate can appear.
func (e *Engine) ConfirmSend(peerID, provisionalID string, confirmed model.ChatMessage) Result {
	tl := e.timelines[peerID]

	k := indexByID(tl, provisionalID)
	if k < 0 {
		return e.ApplyInbound(confirmed)
	}

	if j := indexByID(tl, confirmed.MessageID); j >= 0 && j != k {
		// The push echo landed first under the server id; drop the
		// provisional rather than duplicating.
		e.timelines[peerID] = append(tl[:k:k], tl[k+1:]...)
		return Result{Kind: Overwrote, Peer: peerID, Message: tl[j]}
	}

	tl[k] = confirmed
	return Result{Kind: Confirmed, Peer: peerID, Message: confirmed}
}

// RollbackSend removes a failed provisional entry and returns its
// content so the composer can be restored. After rollback the timeline
// equals its pre-send state.
func (e *Engine) RollbackSend(peerID, provisionalID string) (string, bool) {
	tl := e.timelines[peerID]
	k := indexByID(tl, provisionalID)
	if k < 0 {
		return "", false
	}
	content := tl[k].Content
	e.timelines[peerID] = append(tl[:k:k], tl[k+1:]...)
	return content, true
}

// RollbackByRef removes the provisional entry carrying the given
// clientRef, wherever it lives, and returns its conversation and
// content. Used when the server rejects a channel send after the
// optimistic append.
func (e *Engine) RollbackByRef(clientRef string) (string, string, bool) {
	for peer, tl := range e.timelines {
		for k := range tl {
			if tl[k].Provisional() && tl[k].ClientRef == clientRef {
				content := tl[k].Content
				e.timelines[peer] = append(tl[:k:k], tl[k+1:]...)
				return peer, content, true
			}
		}
	}
	return "", "", false
}

// ApplyInbound reconciles one server message (pushed or fetched) into
// its conversation. Applying the same message twice is a no-op
// overwrite; duplicate delivery after a re-subscription never produces
// visual duplicates.
func (e *Engine) ApplyInbound(msg model.ChatMessage) Result {
	peer := msg.PeerOf(e.local.ID)
	tl := e.timelines[peer]

	inboundToLocal := msg.Receiver.ID == e.local.ID && msg.Sender.ID != e.local.ID

	// An echo of our own send reconciles against its provisional entry,
	// by clientRef when the server echoes it.
	if msg.Sender.ID == e.local.ID && msg.ClientRef != "" {
		for k := range tl {
			if tl[k].Provisional() && tl[k].ClientRef == msg.ClientRef {
				tl[k] = msg
				return Result{Kind: Confirmed, Peer: peer, Message: msg}
			}
		}
	}

	if k := indexByID(tl, msg.MessageID); k >= 0 {
		msg.Status = tl[k].Status.Advance(msg.Status)
		tl[k] = msg
		return Result{Kind: Overwrote, Peer: peer, Message: msg, InboundToLocal: inboundToLocal}
	}

	// No clientRef echoed: fall back to correlating by sender, content,
	// and rough time proximity against the oldest matching provisional.
	if msg.Sender.ID == e.local.ID {
		for k := range tl {
			if !tl[k].Provisional() || tl[k].Content != msg.Content {
				continue
			}
			if absDuration(tl[k].SendTime.Sub(msg.SendTime)) > echoWindow {
				continue
			}
			tl[k] = msg
			return Result{Kind: Confirmed, Peer: peer, Message: msg}
		}
	}

	e.timelines[peer] = append(tl, msg)
	return Result{Kind: Appended, Peer: peer, Message: msg, InboundToLocal: inboundToLocal}
}

// LoadHistory installs a freshly fetched history page as the
// authoritative base of a conversation's timeline. The server returns
// pages newest-first; the base is reversed to oldest-first so appends
// stay chronological. Outstanding provisional entries survive the
// reload, re-appended at the tail in their original relative order.
func (e *Engine) LoadHistory(peerID string, newestFirst []model.ChatMessage) {
	base := make([]model.ChatMessage, 0, len(newestFirst))
	for i := len(newestFirst) - 1; i >= 0; i-- {
		base = append(base, newestFirst[i])
	}

	for _, m := range e.timelines[peerID] {
		if m.Provisional() {
			base = append(base, m)
		}
	}

	e.timelines[peerID] = base
}

// Drop discards every timeline. Used on session teardown.
func (e *Engine) Drop() {
	e.timelines = make(map[string][]model.ChatMessage)
}

func indexByID(tl []model.ChatMessage, id string) int {
	for i := range tl {
		if tl[i].MessageID == id {
			return i
		}
	}
	return -1
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
