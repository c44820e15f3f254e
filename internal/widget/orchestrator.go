// Package widget drives the chat entry point through its lifecycle:
// hidden while intent is sensed, visible once the threshold is crossed,
// open while the visitor chats.
package widget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ashureev/intent-sensor/internal/client"
	"github.com/ashureev/intent-sensor/internal/config"
	"github.com/ashureev/intent-sensor/internal/domain"
	"github.com/ashureev/intent-sensor/internal/metrics"
	"github.com/ashureev/intent-sensor/internal/poller"
	"github.com/ashureev/intent-sensor/internal/tracker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

const (
	// FallbackGreeting opens a conversation the backend failed to start.
	FallbackGreeting = "How can I help you today?"
	// FallbackReply replaces a bot reply the backend failed to deliver.
	FallbackReply = "Sorry, something went wrong. Please try again."

	maxMessageLen = 500
)

// ErrClosed is returned by Start on a closed orchestrator.
var ErrClosed = errors.New("orchestrator closed")

// Backend is the intent API as seen by one page load.
type Backend interface {
	tracker.SignalSender
	poller.StatusChecker
	InitSession(ctx context.Context, sessionID string, pageType domain.PageType) error
	StartChat(ctx context.Context, sessionID string, intentType domain.IntentType) (client.ChatStart, error)
	SendMessage(ctx context.Context, conversationID, text string, isButton bool) (client.Reply, error)
	Escalate(ctx context.Context, conversationID, reason string) error
}

// Config holds the tracker and poller settings.
type Config struct {
	Tracker tracker.Config
	Poller  poller.Config
}

// NewConfig derives orchestrator settings from application configuration.
func NewConfig(cfg *config.Config) Config {
	return Config{
		Tracker: tracker.Config{
			Interval:   cfg.Tracking.TickInterval,
			CTAClass:   cfg.Tracking.CTAClass,
			ClickRate:  rate.Limit(cfg.Tracking.ClickRate),
			ClickBurst: cfg.Tracking.ClickBurst,
		},
		Poller: poller.Config{
			Interval:    cfg.Tracking.PollInterval,
			MaxFailures: cfg.Tracking.PollMaxFailures,
		},
	}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMetrics records widget transitions and is handed to the tracker and poller.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator composes the behavior tracker, the intent poller and the chat
// channel of a single session.
type Orchestrator struct {
	sessionID string
	pageType  domain.PageType
	backend   Backend
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	tracker *tracker.Tracker
	poller  *poller.Poller
	creates singleflight.Group

	lifecycle sync.Mutex
	started   bool
	closed    bool

	mu             sync.Mutex
	state          State
	intent         domain.IntentType
	confidence     float64
	conversationID string
	messages       []domain.Message
	escalated      bool
	subs           map[int]chan View
	nextSub        int
}

// New creates a hidden orchestrator for one page load.
func New(sessionID string, pageType domain.PageType, page tracker.Page, backend Backend, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sessionID: sessionID,
		pageType:  pageType,
		backend:   backend,
		logger:    slog.Default(),
		now:       time.Now,
		subs:      make(map[int]chan View),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	base := o.logger
	o.logger = base.With("component", "widget", "session_id", sessionID)

	o.tracker = tracker.New(sessionID, pageType, page, backend, cfg.Tracker,
		tracker.WithLogger(base),
		tracker.WithMetrics(o.metrics),
		tracker.WithClock(o.now))
	o.poller = poller.New(sessionID, backend, cfg.Poller,
		poller.WithLogger(base),
		poller.WithMetrics(o.metrics),
		poller.OnThreshold(o.onThreshold),
		poller.OnGiveUp(o.onGiveUp))
	return o
}

// SessionID returns the session the orchestrator serves.
func (o *Orchestrator) SessionID() string { return o.sessionID }

// Start announces the session and starts tracking and polling side by side.
// A failed announcement is logged and does not prevent either from starting.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.lifecycle.Lock()
	defer o.lifecycle.Unlock()

	if o.closed {
		return ErrClosed
	}
	if o.started {
		return nil
	}
	o.started = true

	if err := o.backend.InitSession(ctx, o.sessionID, o.pageType); err != nil {
		o.logger.Warn("failed to init tracking session", "error", err)
	}

	// The threshold may be crossed before the tracker starts; a tracker
	// stopped that way is not an error.
	var g errgroup.Group
	g.Go(func() error {
		if err := o.tracker.Start(ctx); err != nil && !errors.Is(err, tracker.ErrStopped) {
			return fmt.Errorf("start tracker: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := o.poller.Start(ctx); err != nil && !errors.Is(err, poller.ErrStopped) {
			return fmt.Errorf("start poller: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	o.logger.Info("intent sensor started", "page_type", o.pageType)
	return nil
}

// Close stops tracking and polling, waits for their goroutines and closes
// every subscription. Close is idempotent.
func (o *Orchestrator) Close() {
	o.lifecycle.Lock()
	if o.closed {
		o.lifecycle.Unlock()
		return
	}
	o.closed = true
	o.lifecycle.Unlock()

	o.tracker.Stop()
	o.poller.Stop()
	o.tracker.Wait()
	o.poller.Wait()

	o.mu.Lock()
	for _, ch := range o.subs {
		close(ch)
	}
	o.subs = nil
	o.mu.Unlock()
}

func (o *Orchestrator) onThreshold(status domain.IntentStatus) {
	o.tracker.Stop()
	o.poller.Stop()

	o.mu.Lock()
	if o.state != StateHidden {
		o.mu.Unlock()
		return
	}
	o.intent = status.IntentType
	o.confidence = status.Confidence
	o.setStateLocked(StateVisibleClosed)
	o.mu.Unlock()

	o.logger.Info("showing chat entry point",
		"intent_type", status.IntentType,
		"confidence", status.Confidence)
}

func (o *Orchestrator) onGiveUp(err error) {
	o.tracker.Stop()
	o.logger.Warn("intent scorer unreachable, tracking stopped", "error", err)
}

// OpenChat shows the chat window and returns its first bot message, which
// carries the entry buttons. The conversation is created on the first open;
// concurrent opens share one creation. If creation fails the fallback
// greeting is returned and the next open tries again. OpenChat returns nil
// while the entry point is hidden.
func (o *Orchestrator) OpenChat(ctx context.Context) *domain.Message {
	o.mu.Lock()
	if o.state == StateHidden {
		o.mu.Unlock()
		o.logger.Debug("open ignored, chat entry point hidden")
		return nil
	}
	if o.state != StateVisibleOpen {
		o.setStateLocked(StateVisibleOpen)
	}
	if o.conversationID != "" {
		first := o.messages[0]
		o.mu.Unlock()
		first.Buttons = slices.Clone(first.Buttons)
		return &first
	}
	o.mu.Unlock()

	v, _, _ := o.creates.Do("conversation", func() (any, error) {
		return o.startConversation(ctx), nil
	})
	first := v.(domain.Message)
	first.Buttons = slices.Clone(first.Buttons)
	return &first
}

func (o *Orchestrator) startConversation(ctx context.Context) domain.Message {
	o.mu.Lock()
	if o.conversationID != "" {
		first := o.messages[0]
		o.mu.Unlock()
		return first
	}
	intent := o.intent
	o.mu.Unlock()

	text := FallbackGreeting
	var id string
	start, err := o.backend.StartChat(ctx, o.sessionID, intent)
	if err != nil {
		o.logger.Warn("failed to start chat", "intent_type", intent, "error", err)
	} else {
		id = start.ConversationID
		if start.InitialMessage != "" {
			text = start.InitialMessage
		}
		o.logger.Info("conversation started", "conversation_id", id, "intent_type", intent)
	}

	first := domain.Message{
		Text:      text,
		Sender:    domain.SenderBot,
		Buttons:   EntryButtons(intent),
		Timestamp: o.now(),
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.conversationID = id
	o.messages = []domain.Message{first}
	o.notifyLocked()
	return first
}

// CloseChat hides the chat window. The conversation is kept for reopening.
func (o *Orchestrator) CloseChat() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateVisibleOpen {
		return
	}
	o.setStateLocked(StateVisibleClosed)
}

// SendMessage forwards a visitor message and returns the bot reply. It
// returns nil, without any network call, when the text is empty or no
// conversation exists. A failed send yields FallbackReply with no buttons.
// Each call carries its own reply; overlapping calls append to the
// transcript in arrival order.
func (o *Orchestrator) SendMessage(ctx context.Context, text string, isButton bool) *client.Reply {
	text = sanitizeInput(text)
	if text == "" {
		return nil
	}

	o.mu.Lock()
	id := o.conversationID
	if id == "" {
		o.mu.Unlock()
		o.logger.Debug("message dropped, no conversation")
		return nil
	}
	o.appendLocked(domain.Message{Text: text, Sender: domain.SenderVisitor, Timestamp: o.now()})
	o.mu.Unlock()

	reply, err := o.backend.SendMessage(ctx, id, text, isButton)
	if err != nil {
		o.logger.Warn("failed to send message", "conversation_id", id, "error", err)
		reply = client.Reply{Text: FallbackReply}
	}

	o.mu.Lock()
	o.appendLocked(domain.Message{
		Text:      reply.Text,
		Sender:    domain.SenderBot,
		Buttons:   slices.Clone(reply.Buttons),
		Timestamp: o.now(),
	})
	o.mu.Unlock()
	return &reply
}

// Dispatch resolves a quick-reply command to its label and sends it as a
// button message. The most recent bot message offering the command wins.
// Unknown commands return nil.
func (o *Orchestrator) Dispatch(ctx context.Context, commandID string) *client.Reply {
	o.mu.Lock()
	label, ok := o.lookupCommandLocked(commandID)
	o.mu.Unlock()
	if !ok {
		o.logger.Warn("unknown button command", "command_id", commandID)
		return nil
	}
	return o.SendMessage(ctx, label, true)
}

func (o *Orchestrator) lookupCommandLocked(commandID string) (string, bool) {
	for i := len(o.messages) - 1; i >= 0; i-- {
		msg := o.messages[i]
		if msg.Sender != domain.SenderBot {
			continue
		}
		for _, b := range msg.Buttons {
			if b.CommandID == commandID {
				return b.Label, true
			}
		}
	}
	return "", false
}

// Escalate asks the backend to hand the conversation to a human. It reports
// whether the request was accepted.
func (o *Orchestrator) Escalate(ctx context.Context, reason string) bool {
	o.mu.Lock()
	id := o.conversationID
	o.mu.Unlock()
	if id == "" {
		return false
	}

	if err := o.backend.Escalate(ctx, id, reason); err != nil {
		o.logger.Warn("failed to escalate conversation", "conversation_id", id, "error", err)
		return false
	}

	o.mu.Lock()
	o.escalated = true
	o.notifyLocked()
	o.mu.Unlock()
	o.logger.Info("conversation escalated", "conversation_id", id)
	return true
}

// State returns the widget state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// View returns a snapshot for rendering.
func (o *Orchestrator) View() View {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.viewLocked()
}

// Subscribe returns a channel receiving the latest View after every change,
// starting with the current one. Slow readers only see the newest View. The
// channel is closed by cancel or Close.
func (o *Orchestrator) Subscribe() (<-chan View, func()) {
	ch := make(chan View, 1)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.subs == nil {
		close(ch)
		return ch, func() {}
	}
	id := o.nextSub
	o.nextSub++
	o.subs[id] = ch
	ch <- o.viewLocked()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			if c, ok := o.subs[id]; ok {
				close(c)
				delete(o.subs, id)
			}
		})
	}
}

func (o *Orchestrator) viewLocked() View {
	return View{
		State:          o.state,
		IntentType:     o.intent,
		Confidence:     o.confidence,
		ConversationID: o.conversationID,
		Messages:       cloneMessages(o.messages),
		Escalated:      o.escalated,
	}
}

func (o *Orchestrator) setStateLocked(to State) {
	from := o.state
	o.state = to
	o.metrics.Transition(from.String(), to.String())
	o.logger.Debug("widget state changed", "from", from, "to", to)
	o.notifyLocked()
}

func (o *Orchestrator) appendLocked(msg domain.Message) {
	o.messages = append(o.messages, msg)
	o.notifyLocked()
}

// notifyLocked replaces any unread View with the current one.
func (o *Orchestrator) notifyLocked() {
	if len(o.subs) == 0 {
		return
	}
	v := o.viewLocked()
	for _, ch := range o.subs {
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
}

// sanitizeInput trims text and caps it at maxMessageLen runes.
func sanitizeInput(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= maxMessageLen {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxMessageLen])
}
