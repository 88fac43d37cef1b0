package devserver

import (
	"context"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/Bamboo-rat/adminchat/internal/model"
	"github.com/Bamboo-rat/adminchat/internal/ratelimiter"
)

// opMarkConversationRead is a hub-internal operation posted by the REST
// read endpoint; it never appears on the wire.
const opMarkConversationRead = "MARK_CONVERSATION_READ"

type sanitizer interface {
	Sanitize(s string) string
}

// Registration pairs a joining client with a done signal so the caller
// can wait until the hub has it.
type Registration struct {
	Client *client
	Done   chan struct{}
}

type request struct {
	from  string
	frame model.Frame
	// reply is set for request/response operations posted by the REST
	// handlers. Fire-and-forget websocket frames leave it nil.
	reply chan model.ChatMessage
}

// Hub owns the connected-client set and serializes every state change
// through one select loop.
type Hub struct {
	store      *Store
	log        *zap.Logger
	sanitizer  sanitizer
	msgLimits  *ratelimiter.KeyLimiter
	typeLimits *ratelimiter.KeyLimiter

	clients    map[string]*client
	Register   chan Registration
	Unregister chan *client
	Requests   chan request
}

// NewHub returns a hub ready for Run.
func NewHub(store *Store, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	cleanup := ratelimiter.CleanupOpts{TTL: 10 * time.Minute, Interval: time.Minute}
	return &Hub{
		store:      store,
		log:        log,
		sanitizer:  bluemonday.StrictPolicy(),
		msgLimits:  ratelimiter.NewKeyLimiter(30, time.Minute, cleanup),
		typeLimits: ratelimiter.NewKeyLimiter(60, time.Minute, cleanup),
		clients:    make(map[string]*client),
		Register:   make(chan Registration),
		Unregister: make(chan *client),
		Requests:   make(chan request, 1024),
	}
}

// Run manages registrations and inbound traffic until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case reg := <-h.Register:
			h.clients[reg.Client.userID] = reg.Client
			close(reg.Done)

		case c := <-h.Unregister:
			if h.clients[c.userID] == c {
				delete(h.clients, c.userID)
			}
			close(c.send)

		case req := <-h.Requests:
			h.handle(req)

		case <-ctx.Done():
			h.msgLimits.Cancel()
			h.typeLimits.Cancel()
			return
		}
	}
}

func (h *Hub) handle(req request) {
	switch req.frame.Kind {
	case model.OpSendMessage:
		msg, reject := h.acceptMessage(req.from, req.frame)
		if req.reply != nil {
			if reject == "" {
				req.reply <- msg
			}
			close(req.reply)
			return
		}
		if reject != "" {
			// Channel sends have no response path; push the rejection so
			// the sender can roll back its provisional entry.
			h.push(req.from, model.Frame{
				Kind:      string(model.EventSendRejected),
				ClientRef: req.frame.ClientRef,
				Reason:    reject,
			})
		}

	case model.OpMarkRead:
		msg, ok := h.store.MarkMessageRead(req.from, req.frame.MessageID)
		if ok {
			h.push(msg.Sender.ID, model.Frame{Kind: string(model.EventNewMessage), Message: &msg})
		}

	case opMarkConversationRead:
		updated := h.store.MarkConversationRead(req.from, req.frame.ReceiverID)
		for i := range updated {
			h.push(updated[i].Sender.ID, model.Frame{Kind: string(model.EventNewMessage), Message: &updated[i]})
		}
		if req.reply != nil {
			close(req.reply)
		}

	case model.OpTyping:
		if !h.typeLimits.Allow(req.from) {
			return
		}
		h.push(req.frame.ReceiverID, model.Frame{Kind: string(model.EventTyping), From: req.from})

	default:
		h.log.Warn("dropping unknown client frame", zap.String("kind", req.frame.Kind))
		if req.reply != nil {
			close(req.reply)
		}
	}
}

// acceptMessage sanitizes, validates, persists, and fans out one send.
// A non-empty reject reason means the message was refused. The sender
// of an accepted message always receives an echo carrying its
// clientRef; the receiver gets the push when connected, which also
// advances the message to DELIVERED.
func (h *Hub) acceptMessage(from string, f model.Frame) (msg model.ChatMessage, reject string) {
	content := h.sanitizer.Sanitize(f.Content)
	if f.ReceiverID == "" || content == "" {
		return model.ChatMessage{}, "empty message"
	}
	if !h.msgLimits.Allow(from) {
		h.log.Warn("sender over message rate limit", zap.String("sender", from))
		return model.ChatMessage{}, "rate limited"
	}

	typ := f.Type
	if typ == "" {
		typ = model.TypeText
	}

	_, receiverOnline := h.clients[f.ReceiverID]

	status := model.StatusSent
	if receiverOnline {
		status = model.StatusDelivered
	}

	msg = model.ChatMessage{
		MessageID: ulid.Make().String(),
		ClientRef: f.ClientRef,
		Sender:    h.store.User(from),
		Receiver:  h.store.User(f.ReceiverID),
		Content:   content,
		Type:      typ,
		SendTime:  time.Now().UTC(),
		Status:    status,
	}
	h.store.Append(msg)

	if receiverOnline {
		h.push(f.ReceiverID, model.Frame{Kind: string(model.EventNewMessage), Message: &msg})
	}
	h.push(from, model.Frame{Kind: string(model.EventNewMessage), Message: &msg})

	return msg, ""
}

// push queues a frame for one user if they hold a live socket. Slow
// clients are skipped, never waited on.
func (h *Hub) push(userID string, f model.Frame) {
	c, ok := h.clients[userID]
	if !ok {
		return
	}
	select {
	case c.send <- f:
	default:
		h.log.Warn("skipping push; client channel full", zap.String("user", userID))
	}
}
