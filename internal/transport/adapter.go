// Package transport owns the two channels to the chat server: a
// persistent websocket for pushes and fire-and-forget sends, and a
// request/response HTTP fallback that works in any connection state.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/Bamboo-rat/adminchat/internal/model"
)

// ErrNotConnected is returned by SendViaChannel when the persistent
// channel is unavailable; callers fall back to the HTTP path.
var ErrNotConnected = errors.New("transport: persistent channel not connected")

// Handler consumes one validated inbound event. Handlers for a given
// event run in registration order; a panicking handler never blocks
// delivery to the others.
type Handler func(model.Event)

// Options configures an Adapter.
type Options struct {
	// BaseURL is the http(s) root of the chat server. The websocket
	// endpoint is derived from it ("/ws").
	BaseURL     string
	Token       string
	DialTimeout time.Duration
	Logger      *zap.Logger
}

type subscription struct {
	id   int
	kind model.EventKind
	fn   Handler
}

// Adapter implements the transport contract. One instance serves one
// session; it is safe for concurrent use.
type Adapter struct {
	wsURL       string
	token       string
	dialTimeout time.Duration
	log         *zap.Logger

	fallback *Fallback

	mu       sync.Mutex
	state    model.ConnectionState
	conn     *websocket.Conn
	stopRead context.CancelFunc

	subMu  sync.Mutex
	nextID int
	subs   []subscription
}

// New builds an Adapter for the given server. No network activity
// happens until Connect.
func New(opts Options) *Adapter {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	wsURL := strings.TrimSuffix(opts.BaseURL, "/")
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)

	return &Adapter{
		wsURL:       wsURL + "/ws",
		token:       opts.Token,
		dialTimeout: opts.DialTimeout,
		log:         opts.Logger,
		state:       model.StateDisconnected,
		fallback:    NewFallback(opts.BaseURL, opts.Token, opts.Logger),
	}
}

// Fallback exposes the request/response channel. It is usable in every
// connection state.
func (a *Adapter) Fallback() *Fallback { return a.fallback }

// State returns the persistent channel's current lifecycle state.
func (a *Adapter) State() model.ConnectionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Connect establishes the persistent channel. Calling while CONNECTED
// is a no-op. The handshake is bounded by the dial timeout; on error
// the state settles at FAILED and the adapter keeps serving fallback
// traffic.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.state == model.StateConnected {
		a.mu.Unlock()
		return nil
	}
	a.state = model.StateConnecting
	a.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, a.dialTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+a.token)

	conn, _, err := websocket.Dial(dialCtx, a.wsURL, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		a.mu.Lock()
		a.state = model.StateFailed
		a.mu.Unlock()
		return fmt.Errorf("transport: websocket handshake: %w", err)
	}

	readCtx, stop := context.WithCancel(context.Background())

	a.mu.Lock()
	if a.state != model.StateConnecting {
		// Disconnect raced the handshake; honor the teardown.
		a.mu.Unlock()
		stop()
		conn.Close(websocket.StatusGoingAway, "session closed")
		return nil
	}
	a.conn = conn
	a.stopRead = stop
	a.state = model.StateConnected
	a.mu.Unlock()

	go a.readLoop(readCtx, conn)
	return nil
}

// Disconnect tears the channel down unconditionally. Safe to call from
// any state, any number of times.
func (a *Adapter) Disconnect() {
	a.mu.Lock()
	conn := a.conn
	stop := a.stopRead
	a.conn = nil
	a.stopRead = nil
	a.state = model.StateDisconnected
	a.mu.Unlock()

	if stop != nil {
		stop()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "session closed")
	}
}

// SendViaChannel publishes a frame over the persistent channel,
// fire-and-forget. Returns ErrNotConnected when the channel is down so
// the caller can take the fallback path.
func (a *Adapter) SendViaChannel(ctx context.Context, f model.Frame) error {
	a.mu.Lock()
	conn := a.conn
	connected := a.state == model.StateConnected
	a.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("transport: encode frame: %w", err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("transport: channel write: %w", err)
	}
	return nil
}

// Subscribe registers a handler for one inbound event kind and returns
// its unsubscribe function. Unsubscribing twice, or from within a
// handler, is safe.
func (a *Adapter) Subscribe(kind model.EventKind, fn Handler) func() {
	a.subMu.Lock()
	a.nextID++
	id := a.nextID
	a.subs = append(a.subs, subscription{id: id, kind: kind, fn: fn})
	a.subMu.Unlock()

	return func() {
		a.subMu.Lock()
		defer a.subMu.Unlock()
		for i, s := range a.subs {
			if s.id == id {
				a.subs = append(a.subs[:i:i], a.subs[i+1:]...)
				return
			}
		}
	}
}

// readLoop is the only reader of the websocket. Events are decoded,
// validated, and dispatched strictly one at a time, so subscribers
// never observe interleaved events.
func (a *Adapter) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer func() {
		a.mu.Lock()
		// Only a mid-session failure downgrades to FAILED; an explicit
		// Disconnect already settled the state.
		if a.conn == conn {
			a.conn = nil
			a.stopRead = nil
			a.state = model.StateFailed
		}
		a.mu.Unlock()
		conn.CloseNow()
	}()

	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure &&
				status != websocket.StatusGoingAway &&
				ctx.Err() == nil {
				a.log.Warn("persistent channel closed", zap.Error(err))
			}
			return
		}

		if msgType != websocket.MessageText {
			continue
		}

		ev, err := model.DecodeEvent(data, time.Now().UTC())
		if err != nil {
			a.log.Warn("dropping malformed inbound event", zap.Error(err))
			continue
		}

		a.dispatch(ev)
	}
}

func (a *Adapter) dispatch(ev model.Event) {
	a.subMu.Lock()
	snapshot := make([]subscription, len(a.subs))
	copy(snapshot, a.subs)
	a.subMu.Unlock()

	for _, s := range snapshot {
		if s.kind != ev.Kind {
			continue
		}
		a.invoke(s, ev)
	}
}

// invoke isolates handler panics so one bad subscriber cannot starve
// the rest.
func (a *Adapter) invoke(s subscription, ev model.Event) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("event handler panicked",
				zap.String("kind", string(ev.Kind)),
				zap.Any("panic", r),
			)
		}
	}()
	s.fn(ev)
}
