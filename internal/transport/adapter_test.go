package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bamboo-rat/adminchat/internal/model"
)

func newMessageEvent(id string) model.Event {
	return model.Event{
		Kind: model.EventNewMessage,
		Message: &model.ChatMessage{
			MessageID: id,
			Sender:    model.UserSnapshot{ID: "bob"},
			Receiver:  model.UserSnapshot{ID: "alice"},
			Content:   "hi",
		},
	}
}

func TestDispatchInRegistrationOrder(t *testing.T) {
	a := New(Options{BaseURL: "http://localhost:0"})

	var order []string
	a.Subscribe(model.EventNewMessage, func(model.Event) { order = append(order, "first") })
	a.Subscribe(model.EventNewMessage, func(model.Event) { order = append(order, "second") })
	a.Subscribe(model.EventTyping, func(model.Event) { order = append(order, "typing") })

	a.dispatch(newMessageEvent("m1"))

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestUnsubscribeIsIdempotentAndSafeInHandler(t *testing.T) {
	a := New(Options{BaseURL: "http://localhost:0"})

	var calls int
	var unsub func()
	unsub = a.Subscribe(model.EventNewMessage, func(model.Event) {
		calls++
		unsub() // unsubscribing from inside the handler must be safe
	})

	a.dispatch(newMessageEvent("m1"))
	a.dispatch(newMessageEvent("m2"))
	unsub()
	unsub()

	assert.Equal(t, 1, calls)
}

func TestHandlerPanicDoesNotBlockOtherSubscribers(t *testing.T) {
	a := New(Options{BaseURL: "http://localhost:0"})

	var reached bool
	a.Subscribe(model.EventNewMessage, func(model.Event) { panic("boom") })
	a.Subscribe(model.EventNewMessage, func(model.Event) { reached = true })

	a.dispatch(newMessageEvent("m1"))

	assert.True(t, reached)
}

func TestSendViaChannelWhenDisconnected(t *testing.T) {
	a := New(Options{BaseURL: "http://localhost:0"})

	err := a.SendViaChannel(context.Background(), model.Frame{Kind: model.OpTyping})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestConnectHandshakeFailureSettlesAtFailed(t *testing.T) {
	// A plain HTTP handler that never upgrades.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	a := New(Options{BaseURL: srv.URL, DialTimeout: 2 * time.Second})

	err := a.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, model.StateFailed, a.State())

	// Fallback path keeps working conceptually; channel sends report
	// not-connected so callers take it.
	assert.ErrorIs(t, a.SendViaChannel(context.Background(), model.Frame{Kind: model.OpTyping}), ErrNotConnected)
}

func TestConnectReceiveAndDisconnect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}

		frame := model.Frame{
			Kind: string(model.EventNewMessage),
			Message: &model.ChatMessage{
				MessageID: "srv-1",
				Sender:    model.UserSnapshot{ID: "bob"},
				Receiver:  model.UserSnapshot{ID: "alice"},
				Content:   "hello",
			},
		}
		data, _ := json.Marshal(frame)
		_ = conn.Write(r.Context(), websocket.MessageText, data)

		// Hold the socket open until the client disconnects.
		_, _, _ = conn.Read(r.Context())
	}))
	defer srv.Close()

	a := New(Options{BaseURL: srv.URL, DialTimeout: 2 * time.Second})

	received := make(chan model.Event, 1)
	a.Subscribe(model.EventNewMessage, func(ev model.Event) { received <- ev })

	require.NoError(t, a.Connect(context.Background()))
	assert.Equal(t, model.StateConnected, a.State())

	// Idempotent: connecting while connected is a no-op.
	require.NoError(t, a.Connect(context.Background()))

	select {
	case ev := <-received:
		assert.Equal(t, "srv-1", ev.Message.MessageID)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for pushed event")
	}

	a.Disconnect()
	assert.Equal(t, model.StateDisconnected, a.State())
	a.Disconnect() // safe from any state
}

func TestMalformedInboundEventIsDropped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}

		_ = conn.Write(r.Context(), websocket.MessageText, []byte(`{"kind":"GARBAGE"}`))

		frame := model.Frame{
			Kind: string(model.EventNewMessage),
			Message: &model.ChatMessage{
				MessageID: "srv-2",
				Sender:    model.UserSnapshot{ID: "bob"},
				Receiver:  model.UserSnapshot{ID: "alice"},
			},
		}
		data, _ := json.Marshal(frame)
		_ = conn.Write(r.Context(), websocket.MessageText, data)

		_, _, _ = conn.Read(r.Context())
	}))
	defer srv.Close()

	a := New(Options{BaseURL: srv.URL, DialTimeout: 2 * time.Second})
	defer a.Disconnect()

	received := make(chan model.Event, 2)
	a.Subscribe(model.EventNewMessage, func(ev model.Event) { received <- ev })

	require.NoError(t, a.Connect(context.Background()))

	// The valid frame behind the garbage still arrives; the loop
	// survived the malformed one.
	select {
	case ev := <-received:
		assert.Equal(t, "srv-2", ev.Message.MessageID)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for pushed event")
	}
}
