package bridge

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/intent-sensor/internal/client"
	"github.com/ashureev/intent-sensor/internal/domain"
	"github.com/ashureev/intent-sensor/internal/widget"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	mu    sync.Mutex
	view  widget.View
	subs  []chan widget.View
	calls []string
}

func newFakeController() *fakeController {
	return &fakeController{view: widget.View{
		State:      widget.StateVisibleClosed,
		IntentType: "pricing",
		Confidence: 0.8,
	}}
}

func (f *fakeController) SessionID() string { return "sess_1" }

func (f *fakeController) Subscribe() (<-chan widget.View, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan widget.View, 1)
	ch <- f.view
	f.subs = append(f.subs, ch)
	return ch, func() {}
}

func (f *fakeController) record(call string, mutate func(*widget.View)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	if mutate == nil {
		return
	}
	mutate(&f.view)
	for _, ch := range f.subs {
		select {
		case <-ch:
		default:
		}
		ch <- f.view
	}
}

func (f *fakeController) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeController) OpenChat(context.Context) *domain.Message {
	f.record("open", func(v *widget.View) {
		v.State = widget.StateVisibleOpen
		v.ConversationID = "conv_1"
	})
	return &domain.Message{Sender: domain.SenderBot, Text: "hi"}
}

func (f *fakeController) CloseChat() {
	f.record("close", func(v *widget.View) { v.State = widget.StateVisibleClosed })
}

func (f *fakeController) SendMessage(_ context.Context, text string, _ bool) *client.Reply {
	f.record("send:"+text, nil)
	return &client.Reply{Text: "ok"}
}

func (f *fakeController) Dispatch(_ context.Context, commandID string) *client.Reply {
	f.record("button:"+commandID, nil)
	return &client.Reply{Text: "ok"}
}

func (f *fakeController) Escalate(_ context.Context, reason string) bool {
	f.record("escalate:"+reason, func(v *widget.View) { v.Escalated = true })
	return true
}

func dial(t *testing.T, h *Handler) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close(websocket.StatusNormalClosure, "") })
	return ws
}

func readMessage(t *testing.T, ws *websocket.Conn) outMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := ws.Read(ctx)
	require.NoError(t, err)
	var msg outMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func send(t *testing.T, ws *websocket.Conn, msg inMessage) {
	t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, ws.Write(ctx, websocket.MessageText, data))
}

func TestHandlerPushesCurrentView(t *testing.T) {
	ws := dial(t, NewHandler(newFakeController(), nil, "*", true))

	msg := readMessage(t, ws)
	assert.Equal(t, "view", msg.Type)
	require.NotNil(t, msg.View)
	assert.Equal(t, widget.StateVisibleClosed, msg.View.State)
	assert.Equal(t, domain.IntentType("pricing"), msg.View.IntentType)
}

func TestHandlerOpenPushesUpdatedView(t *testing.T) {
	ctrl := newFakeController()
	ws := dial(t, NewHandler(ctrl, nil, "*", true))
	readMessage(t, ws)

	send(t, ws, inMessage{Type: "open"})

	msg := readMessage(t, ws)
	require.NotNil(t, msg.View)
	assert.Equal(t, widget.StateVisibleOpen, msg.View.State)
	assert.Equal(t, "conv_1", msg.View.ConversationID)
	assert.Equal(t, []string{"open"}, ctrl.Calls())
}

func TestHandlerPingPong(t *testing.T) {
	ws := dial(t, NewHandler(newFakeController(), nil, "*", true))
	readMessage(t, ws)

	send(t, ws, inMessage{Type: "ping"})
	assert.Equal(t, "pong", readMessage(t, ws).Type)
}

func TestHandlerUnknownCommand(t *testing.T) {
	ws := dial(t, NewHandler(newFakeController(), nil, "*", true))
	readMessage(t, ws)

	send(t, ws, inMessage{Type: "launch"})
	msg := readMessage(t, ws)
	assert.Equal(t, "error", msg.Type)
	assert.Equal(t, "unknown_command", msg.Error)
}

func TestHandlerRoutesCommands(t *testing.T) {
	ctrl := newFakeController()
	ws := dial(t, NewHandler(ctrl, nil, "*", true))
	readMessage(t, ws)

	send(t, ws, inMessage{Type: "send", Text: "hello"})
	send(t, ws, inMessage{Type: "button", CommandID: "bulk_orders"})
	send(t, ws, inMessage{Type: "escalate", Reason: "user_requested"})

	require.Eventually(t, func() bool { return len(ctrl.Calls()) == 3 }, 5*time.Second, 10*time.Millisecond)
	assert.ElementsMatch(t,
		[]string{"send:hello", "button:bulk_orders", "escalate:user_requested"},
		ctrl.Calls())
}

func TestHandlerRejectsOrigin(t *testing.T) {
	srv := httptest.NewServer(NewHandler(newFakeController(), nil, "https://shop.example.com", false))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), &websocket.DialOptions{
		HTTPHeader: map[string][]string{"Origin": {"https://evil.example.com"}},
	})
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 403, resp.StatusCode)
}

func TestConnManagerRegisterAndClose(t *testing.T) {
	m := NewConnManager()
	ctrl := newFakeController()
	ws := dial(t, NewHandler(ctrl, m, "*", true))
	readMessage(t, ws)

	require.Eventually(t, func() bool { return m.Count("sess_1") == 1 }, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	readErr := make(chan error, 1)
	go func() {
		_, _, err := ws.Read(ctx)
		readErr <- err
	}()

	m.CloseSession("sess_1")
	assert.Equal(t, 0, m.Count("sess_1"))
	assert.Error(t, <-readErr)
}
