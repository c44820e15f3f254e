package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ashureev/intent-sensor/internal/client"
	"github.com/ashureev/intent-sensor/internal/domain"
	"github.com/ashureev/intent-sensor/internal/identity"
	"github.com/ashureev/intent-sensor/internal/store"
	"github.com/go-chi/chi/v5"
)

const maxMessageLen = 500

var greetings = map[domain.IntentType]string{
	domain.IntentPricing:    "Looking at pricing? I can help you find the right plan.",
	domain.IntentTechnical:  "Have a technical question? I can point you to the right answer.",
	domain.IntentEvaluation: "Comparing options? I can walk you through what fits best.",
}

const defaultGreeting = "Hi! How can I help you today?"

type cannedReply struct {
	text    string
	buttons []string
}

// cannedReplies are keyed by the command id derived from the visitor text.
var cannedReplies = map[string]cannedReply{
	"bulk_orders":      {"We offer volume discounts from 100 units. How many do you need?", []string{"Talk to sales"}},
	"standard_pricing": {"Our plans start at $29/month. Want a breakdown?", []string{"Compare options", "Talk to sales"}},
	"talk_to_sales":    {"I'll connect you with our sales team. What's the best email to reach you?", nil},
	"product_specs":    {"You can find full specifications on each product page. Which product are you looking at?", nil},
	"integration_help": {"We integrate over REST and webhooks. What system are you connecting?", []string{"Documentation"}},
	"documentation":    {"Our docs live at /docs. Anything specific you are looking for?", nil},
	"request_demo":     {"Happy to set up a demo. What time zone are you in?", nil},
	"compare_options":  {"Most teams pick between Starter and Growth. Want a side-by-side?", []string{"Request demo"}},
	"case_studies":     {"Here are a few customers like you: Acme, Globex, Initech.", []string{"Request demo"}},
	"learn_more":       {"Sure! What would you like to know more about?", nil},
	"talk_to_someone":  {"I'll get a team member to follow up. What's your email?", nil},
}

// RegisterChatRoutes registers the chat endpoints.
func (h *Handler) RegisterChatRoutes(r chi.Router) {
	r.Route("/chat", func(r chi.Router) {
		r.Post("/start", h.StartChat)
		r.Post("/message", h.Message)
		r.Get("/conversation/{conversationID}", h.Conversation)
		r.Get("/context/{sessionID}", h.Context)
		r.Post("/escalate", h.Escalate)
	})
}

// StartChat opens the conversation of a session. A session has at most one
// conversation; repeated calls return the existing one.
func (h *Handler) StartChat(w http.ResponseWriter, r *http.Request) {
	var req client.StartChatRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if !identity.IsValidSessionID(req.SessionID) {
		Error(w, http.StatusBadRequest, "invalid sessionId")
		return
	}
	ctx := r.Context()

	existing, err := h.repo.GetConversationBySession(ctx, req.SessionID)
	if err != nil {
		h.logger.Error("Failed to load conversation", "error", err, "session_id", req.SessionID)
		Error(w, http.StatusInternalServerError, "failed to start chat")
		return
	}
	if existing != nil {
		h.logger.Info("Conversation already exists", "session_id", req.SessionID, "conversation_id", existing.ID)
		JSON(w, http.StatusOK, client.StartChatResponse{ConversationID: existing.ID, InitialMessage: existing.InitialMessage})
		return
	}

	greeting, ok := greetings[req.IntentType]
	if !ok {
		greeting = defaultGreeting
	}
	now := h.now()
	conv := &domain.Conversation{
		ID:             h.newID(),
		SessionID:      req.SessionID,
		IntentType:     req.IntentType,
		InitialMessage: greeting,
		Messages:       []domain.Message{{Text: greeting, Sender: domain.SenderBot, Timestamp: now}},
		CreatedAt:      now,
	}
	if err := h.repo.CreateConversation(ctx, conv); err != nil {
		h.logger.Error("Failed to create conversation", "error", err, "session_id", req.SessionID)
		Error(w, http.StatusInternalServerError, "failed to start chat")
		return
	}

	h.logger.Info("Conversation started", "session_id", req.SessionID, "conversation_id", conv.ID, "intent_type", req.IntentType)
	JSON(w, http.StatusOK, client.StartChatResponse{ConversationID: conv.ID, InitialMessage: greeting})
}

// Message stores a visitor message and answers with a canned reply.
func (h *Handler) Message(w http.ResponseWriter, r *http.Request) {
	var req client.MessageRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	text := strings.TrimSpace(req.Message)
	if req.ConversationID == "" || text == "" {
		Error(w, http.StatusBadRequest, "conversationId and message are required")
		return
	}
	if len([]rune(text)) > maxMessageLen {
		Error(w, http.StatusBadRequest, "message too long")
		return
	}
	ctx := r.Context()

	conv, err := h.repo.GetConversation(ctx, req.ConversationID)
	if err != nil {
		h.logger.Error("Failed to load conversation", "error", err, "conversation_id", req.ConversationID)
		Error(w, http.StatusInternalServerError, "failed to send message")
		return
	}
	if conv == nil {
		Error(w, http.StatusNotFound, "conversation not found")
		return
	}

	if err := h.repo.AppendMessage(ctx, conv.ID, domain.Message{
		Text:      text,
		Sender:    domain.SenderVisitor,
		Timestamp: h.parseTimestamp(req.Timestamp),
	}); err != nil {
		h.logger.Error("Failed to store message", "error", err, "conversation_id", conv.ID)
		Error(w, http.StatusInternalServerError, "failed to send message")
		return
	}

	reply := replyTo(text)
	if err := h.repo.AppendMessage(ctx, conv.ID, domain.Message{
		Text:      reply.Reply,
		Sender:    domain.SenderBot,
		Buttons:   reply.Buttons,
		Timestamp: h.now(),
	}); err != nil {
		h.logger.Error("Failed to store reply", "error", err, "conversation_id", conv.ID)
		Error(w, http.StatusInternalServerError, "failed to send message")
		return
	}

	h.logger.Info("Message answered", "conversation_id", conv.ID, "is_button", req.IsButton)
	JSON(w, http.StatusOK, reply)
}

func replyTo(text string) client.MessageResponse {
	canned, ok := cannedReplies[domain.CommandIDFromLabel(text)]
	if !ok {
		return client.MessageResponse{Reply: "Thanks for your message! A team member will get back to you shortly."}
	}
	resp := client.MessageResponse{Reply: canned.text}
	for _, label := range canned.buttons {
		resp.Buttons = append(resp.Buttons, domain.Button{Label: label, CommandID: domain.CommandIDFromLabel(label)})
	}
	return resp
}

// Conversation returns the full history of a conversation.
func (h *Handler) Conversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	conv, err := h.repo.GetConversation(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to load conversation", "error", err, "conversation_id", id)
		Error(w, http.StatusInternalServerError, "failed to load conversation")
		return
	}
	if conv == nil {
		Error(w, http.StatusNotFound, "conversation not found")
		return
	}
	JSON(w, http.StatusOK, conv)
}

// Context returns what is known about a session: its page, intent and
// signal count, plus its conversation when one was started.
func (h *Handler) Context(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !identity.IsValidSessionID(sessionID) {
		Error(w, http.StatusBadRequest, "invalid sessionId")
		return
	}
	ctx := r.Context()

	sess, err := h.repo.GetSession(ctx, sessionID)
	if err != nil {
		h.logger.Error("Failed to load session", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to load context")
		return
	}
	if sess == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}

	conv, err := h.repo.GetConversationBySession(ctx, sessionID)
	if err != nil {
		h.logger.Error("Failed to load conversation", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to load context")
		return
	}

	JSON(w, http.StatusOK, client.ChatContext{
		SessionID:    sess.ID,
		PageType:     sess.PageType,
		Intent:       sess.Status,
		SignalCount:  sess.SignalCount,
		Conversation: conv,
	})
}

// Escalate flags a conversation for human handoff.
func (h *Handler) Escalate(w http.ResponseWriter, r *http.Request) {
	var req client.EscalateRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ConversationID == "" {
		Error(w, http.StatusBadRequest, "conversationId is required")
		return
	}

	err := h.repo.MarkEscalated(r.Context(), req.ConversationID, req.Reason)
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		h.logger.Error("Failed to escalate conversation", "error", err, "conversation_id", req.ConversationID)
		Error(w, http.StatusInternalServerError, "failed to escalate")
		return
	}

	h.logger.Info("Conversation escalated", "conversation_id", req.ConversationID, "reason", req.Reason)
	JSON(w, http.StatusOK, client.Ack{Status: "ok"})
}
