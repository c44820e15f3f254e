package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/ashureev/intent-sensor/internal/client"
	"github.com/ashureev/intent-sensor/internal/domain"
	"github.com/ashureev/intent-sensor/internal/widget"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Controller is the orchestrator surface a renderer drives.
type Controller interface {
	SessionID() string
	Subscribe() (<-chan widget.View, func())
	OpenChat(ctx context.Context) *domain.Message
	CloseChat()
	SendMessage(ctx context.Context, text string, isButton bool) *client.Reply
	Dispatch(ctx context.Context, commandID string) *client.Reply
	Escalate(ctx context.Context, reason string) bool
}

// Handler serves the renderer WebSocket of one orchestrator.
type Handler struct {
	ctrl          Controller
	conns         *ConnManager
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a renderer bridge for ctrl.
func NewHandler(ctrl Controller, conns *ConnManager, allowedOrigin string, isDev bool) *Handler {
	if conns == nil {
		conns = NewConnManager()
	}
	return &Handler{
		ctrl:          ctrl,
		conns:         conns,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// inMessage is a renderer command.
type inMessage struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	CommandID string `json:"commandId,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// outMessage is pushed to the renderer.
type outMessage struct {
	Type  string       `json:"type"`
	View  *widget.View `json:"view,omitempty"`
	Error string       `json:"error,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := h.ctrl.SessionID()
	connID := uuid.NewString()
	slog.Info("Renderer connection request", "session_id", sessionID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "renderer detached"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	h.conns.Register(sessionID, connID, ws)
	defer h.conns.Unregister(sessionID, connID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	views, unsubscribe := h.ctrl.Subscribe()
	defer unsubscribe()

	var wg, commands sync.WaitGroup
	wg.Add(2)

	// Input loop: renderer -> orchestrator.
	go func() {
		defer wg.Done()
		defer cancel()
		h.inputLoop(ctx, ws, sessionID, &commands)
	}()

	// Output loop: orchestrator -> renderer.
	go func() {
		defer wg.Done()
		defer cancel()
		h.outputLoop(ctx, ws, views)
	}()

	wg.Wait()
	commands.Wait()
	slog.Info("Renderer session ended", "session_id", sessionID, "conn_id", connID)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// inputLoop runs each command on its own goroutine so a slow chat round
// trip never blocks the next action.
func (h *Handler) inputLoop(ctx context.Context, ws *websocket.Conn, sessionID string, commands *sync.WaitGroup) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by renderer", "session_id", sessionID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		var msg inMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reply(ws, outMessage{Type: "error", Error: "invalid_message"})
			continue
		}

		switch msg.Type {
		case "ping":
			h.reply(ws, outMessage{Type: "pong"})
		case "close":
			h.ctrl.CloseChat()
		case "open", "send", "button", "escalate":
			commands.Add(1)
			go func() {
				defer commands.Done()
				h.run(ctx, msg)
			}()
		default:
			slog.Debug("Unknown renderer command", "type", msg.Type, "session_id", sessionID)
			h.reply(ws, outMessage{Type: "error", Error: "unknown_command"})
		}
	}
}

func (h *Handler) run(ctx context.Context, msg inMessage) {
	switch msg.Type {
	case "open":
		h.ctrl.OpenChat(ctx)
	case "send":
		h.ctrl.SendMessage(ctx, msg.Text, false)
	case "button":
		h.ctrl.Dispatch(ctx, msg.CommandID)
	case "escalate":
		h.ctrl.Escalate(ctx, msg.Reason)
	}
}

func (h *Handler) outputLoop(ctx context.Context, ws *websocket.Conn, views <-chan widget.View) {
	for {
		select {
		case <-ctx.Done():
			return
		case view, ok := <-views:
			if !ok {
				return
			}
			if err := h.writeJSON(ctx, ws, outMessage{Type: "view", View: &view}); err != nil {
				if ctx.Err() == nil {
					slog.Debug("WebSocket write error", "error", err)
				}
				return
			}
		}
	}
}

func (h *Handler) reply(ws *websocket.Conn, msg outMessage) {
	if err := h.writeJSON(context.Background(), ws, msg); err != nil {
		slog.Debug("Failed to send reply", "type", msg.Type, "error", err)
	}
}

func (h *Handler) writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
