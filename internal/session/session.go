// Package session binds the transport, reconciliation engine,
// directory, read tracker, and typing monitor to one user session. A
// single event-loop goroutine owns all mutable chat state; transport
// handlers, timers, and UI actions are serialized through it, so no
// two events are ever mid-flight at once.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Bamboo-rat/adminchat/internal/directory"
	"github.com/Bamboo-rat/adminchat/internal/engine"
	"github.com/Bamboo-rat/adminchat/internal/model"
	"github.com/Bamboo-rat/adminchat/internal/tracker"
	"github.com/Bamboo-rat/adminchat/internal/transport"
	"github.com/Bamboo-rat/adminchat/internal/typing"
)

// ErrNoActiveConversation is returned by Send when no conversation is
// selected.
var ErrNoActiveConversation = errors.New("session: no active conversation")

// Config carries the session's timing and paging tunables.
type Config struct {
	ReadReceiptDelay time.Duration
	TypingExpiry     time.Duration
	HistoryPageSize  int
}

// Snapshot is the reactive view handed to the UI layer. It is a value
// copy; the UI never touches live state.
type Snapshot struct {
	Conversations   []model.Conversation
	ActivePeer      string
	ActiveTimeline  []model.ChatMessage
	ConnectionState model.ConnectionState
	TypingPeer      string
	// Composer holds content restored after a failed send.
	Composer string
	// LastError is a dismissible, user-facing failure note. Loaded data
	// is never cleared on failure; this is the retry hint.
	LastError string
}

// Controller is the session lifecycle controller.
type Controller struct {
	local   model.UserSnapshot
	cfg     Config
	log     *zap.Logger
	adapter *transport.Adapter

	engine    *engine.Engine
	dir       *directory.Directory
	receipts  *tracker.Receipts
	typingMon *typing.Monitor

	// Loop-confined state.
	activePeer string
	composer   string
	lastErr    string

	actions chan func()
	done    chan struct{}
	ctx     context.Context
	unsubs  []func()
	stop    sync.Once

	snapMu sync.RWMutex
	snap   Snapshot
}

// New builds an unmounted controller. Nothing runs until Mount.
func New(local model.UserSnapshot, adapter *transport.Adapter, cfg Config, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.ReadReceiptDelay <= 0 {
		cfg.ReadReceiptDelay = 500 * time.Millisecond
	}
	if cfg.TypingExpiry <= 0 {
		cfg.TypingExpiry = 3 * time.Second
	}
	if cfg.HistoryPageSize <= 0 {
		cfg.HistoryPageSize = 50
	}

	c := &Controller{
		local:   local,
		cfg:     cfg,
		log:     log,
		adapter: adapter,
		actions: make(chan func(), 256),
		done:    make(chan struct{}),
	}

	c.engine = engine.New(local, log)
	c.dir = directory.New(adapter.Fallback(), log)
	c.receipts = tracker.New(cfg.ReadReceiptDelay, c.ackRead, c.schedule, log)
	c.typingMon = typing.NewMonitor(cfg.TypingExpiry, c.schedule)
	return c
}

// Mount connects the persistent channel, subscribes to inbound events,
// and loads the conversation directory. A failed handshake is not
// fatal: the session continues in fallback-only mode with the
// connection state surfaced as FAILED.
func (c *Controller) Mount(ctx context.Context) error {
	c.ctx = ctx
	go c.run()

	if err := c.adapter.Connect(ctx); err != nil {
		c.log.Warn("persistent channel unavailable; using fallback only", zap.Error(err))
	}

	c.unsubs = append(c.unsubs,
		c.adapter.Subscribe(model.EventNewMessage, c.onNewMessage),
		c.adapter.Subscribe(model.EventTyping, c.onTyping),
		c.adapter.Subscribe(model.EventSendRejected, c.onSendRejected),
	)

	var refreshErr error
	c.do(func() {
		refreshErr = c.dir.Refresh(ctx)
		if refreshErr != nil {
			c.lastErr = "Could not load conversations. Retry."
		}
	})
	return refreshErr
}

// Unmount tears the session down: handlers first, then the transport,
// so no handler ever fires against a closed adapter. Safe to call more
// than once.
func (c *Controller) Unmount() {
	c.stop.Do(func() {
		for _, unsub := range c.unsubs {
			unsub()
		}
		c.unsubs = nil

		c.do(func() {
			c.receipts.Teardown()
			c.typingMon.Teardown()
			c.engine.Drop()
			c.activePeer = ""
		})

		c.adapter.Disconnect()
		close(c.done)
	})
}

// Snapshot returns the current reactive view.
func (c *Controller) Snapshot() Snapshot {
	c.snapMu.RLock()
	defer c.snapMu.RUnlock()
	return c.snap
}

// SelectConversation opens a conversation: loads its history (newest-
// first page reversed to oldest-first), bulk-marks it read, and
// refreshes the directory. A failed load keeps whatever timeline was
// already materialized.
func (c *Controller) SelectConversation(ctx context.Context, peerID string) error {
	var opErr error
	c.do(func() {
		c.activePeer = peerID
		c.lastErr = ""

		page, err := c.adapter.Fallback().GetConversation(ctx, peerID, 0, c.cfg.HistoryPageSize)
		if err != nil {
			opErr = fmt.Errorf("session: load history: %w", err)
			c.lastErr = "Could not load messages. Retry."
			return
		}
		c.engine.LoadHistory(peerID, page)

		if err := c.adapter.Fallback().MarkConversationRead(ctx, peerID); err != nil {
			c.log.Warn("mark conversation read failed", zap.String("peer", peerID), zap.Error(err))
		}
		if err := c.dir.Refresh(ctx); err != nil {
			c.lastErr = "Could not refresh conversations. Retry."
		}
	})
	return opErr
}

// Send delivers content to the active conversation. The provisional
// entry is appended and visible before any network round trip; exactly
// one delivery attempt is made, preferring the persistent channel. On
// failure the entry is rolled back and the content restored to the
// composer for a manual retry.
func (c *Controller) Send(ctx context.Context, content string) error {
	var opErr error
	c.do(func() {
		if c.activePeer == "" {
			opErr = ErrNoActiveConversation
			return
		}

		peer := model.UserSnapshot{ID: c.activePeer}
		if conv, ok := c.dir.Get(c.activePeer); ok {
			peer = conv.Peer
		}

		staged := c.engine.StageSend(peer, content, model.TypeText)
		c.composer = ""
		c.lastErr = ""
		c.publish()

		if c.adapter.State() == model.StateConnected {
			err := c.adapter.SendViaChannel(ctx, model.Frame{
				Kind:       model.OpSendMessage,
				ReceiverID: peer.ID,
				Content:    content,
				Type:       model.TypeText,
				ClientRef:  staged.ClientRef,
			})
			if err == nil {
				// Confirmation arrives as the pushed echo carrying our
				// clientRef; nothing more to do here.
				return
			}
			c.log.Warn("channel send failed; using fallback", zap.Error(err))
		}

		confirmed, err := c.adapter.Fallback().SendMessage(ctx, peer.ID, content, model.TypeText, staged.ClientRef)
		if err != nil {
			restored, _ := c.engine.RollbackSend(peer.ID, staged.MessageID)
			c.composer = restored
			c.lastErr = "Message not sent. Content restored."
			opErr = fmt.Errorf("session: send: %w", err)
			return
		}

		c.engine.ConfirmSend(peer.ID, staged.MessageID, confirmed)
		if err := c.dir.Refresh(ctx); err != nil {
			c.lastErr = "Could not refresh conversations. Retry."
		}
	})
	return opErr
}

// EmitTyping signals the active peer that the local user is typing.
// Channel only, best effort: when disconnected the signal is silently
// dropped.
func (c *Controller) EmitTyping(ctx context.Context) {
	peer := c.Snapshot().ActivePeer
	if peer == "" {
		return
	}
	err := c.adapter.SendViaChannel(ctx, model.Frame{Kind: model.OpTyping, ReceiverID: peer})
	if err != nil && !errors.Is(err, transport.ErrNotConnected) {
		c.log.Debug("typing signal dropped", zap.Error(err))
	}
}

// Search filters the current conversation list. Pure; no state change.
func (c *Controller) Search(query string) []model.Conversation {
	return directory.Filter(c.Snapshot().Conversations, query)
}

// DismissError clears the surfaced error.
func (c *Controller) DismissError() {
	c.post(func() { c.lastErr = "" })
}

func (c *Controller) onNewMessage(ev model.Event) {
	msg := *ev.Message
	c.post(func() {
		res := c.engine.ApplyInbound(msg)

		if res.InboundToLocal {
			c.receipts.Observe(res.Message, res.Peer == c.activePeer)
		}

		// Always-refetch policy: any reconciliation event refreshes the
		// directory, including pushes for conversations that are not
		// currently materialized.
		if err := c.dir.Refresh(c.ctx); err != nil {
			c.log.Warn("directory refresh after push failed", zap.Error(err))
		}
	})
}

// onSendRejected handles the server refusing a channel send (invalid
// or rate-limited). The provisional entry is rolled back and the
// content restored to the composer, same as a fallback send failure.
func (c *Controller) onSendRejected(ev model.Event) {
	rej := *ev.Reject
	c.post(func() {
		peer, content, ok := c.engine.RollbackByRef(rej.ClientRef)
		if !ok {
			return
		}
		c.composer = content
		c.lastErr = "Message not sent. Content restored."
		c.log.Warn("send rejected by server",
			zap.String("peer", peer), zap.String("reason", rej.Reason))
	})
}

func (c *Controller) onTyping(ev model.Event) {
	from := ev.Typing.From
	c.post(func() { c.typingMon.Observe(from) })
}

// ackRead emits a MARK_READ over the persistent channel. Best effort;
// the bulk mark-as-read on conversation open covers any misses.
func (c *Controller) ackRead(messageID string) {
	err := c.adapter.SendViaChannel(c.ctx, model.Frame{Kind: model.OpMarkRead, MessageID: messageID})
	if err != nil {
		c.log.Debug("read receipt dropped", zap.String("message", messageID), zap.Error(err))
	}
}

// schedule arms a timer whose callback re-enters the event loop.
func (c *Controller) schedule(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, func() { c.post(fn) })
	return func() { t.Stop() }
}

// post queues fn on the event loop without waiting.
func (c *Controller) post(fn func()) {
	select {
	case c.actions <- fn:
	case <-c.done:
	}
}

// do queues fn and waits for it to run. Never call from inside the
// loop.
func (c *Controller) do(fn func()) {
	ran := make(chan struct{})
	select {
	case c.actions <- func() { fn(); close(ran) }:
	case <-c.done:
		return
	}
	select {
	case <-ran:
	case <-c.done:
	}
}

func (c *Controller) run() {
	for {
		select {
		case <-c.done:
			return
		case fn := <-c.actions:
			fn()
			c.publish()
		}
	}
}

// publish copies the loop-owned state into the read snapshot.
func (c *Controller) publish() {
	snap := Snapshot{
		Conversations:   c.dir.List(),
		ActivePeer:      c.activePeer,
		ConnectionState: c.adapter.State(),
		Composer:        c.composer,
		LastError:       c.lastErr,
	}
	if c.activePeer != "" {
		snap.ActiveTimeline = c.engine.Timeline(c.activePeer)
		if c.typingMon.IsTyping(c.activePeer) {
			snap.TypingPeer = c.activePeer
		}
	}

	c.snapMu.Lock()
	c.snap = snap
	c.snapMu.Unlock()
}
