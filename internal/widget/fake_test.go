package widget

import (
	"context"
	"sync"

	"github.com/ashureev/intent-sensor/internal/client"
	"github.com/ashureev/intent-sensor/internal/domain"
	"github.com/ashureev/intent-sensor/internal/tracker"
)

type fakePage struct{}

func (fakePage) URL() string { return "https://shop.example.com/pricing" }

func (fakePage) ScrollMetrics(context.Context) (tracker.ScrollMetrics, error) {
	return tracker.ScrollMetrics{DocumentHeight: 2000, ViewportHeight: 1000}, nil
}

func (fakePage) OnScroll(func(tracker.ScrollMetrics)) func() { return func() {} }

func (fakePage) OnClick(func(tracker.Element)) func() { return func() {} }

type sentMessage struct {
	conversationID string
	text           string
	isButton       bool
}

type fakeBackend struct {
	mu sync.Mutex

	initErr   error
	initCalls int

	statuses    []domain.IntentStatus
	statusErr   error
	statusCalls int

	signals []domain.Signal

	start      client.ChatStart
	startErr   error
	startGate  chan struct{}
	startCalls []domain.IntentType

	reply   client.Reply
	sendErr error
	sent    []sentMessage

	escalateErr error
	escalations []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		start: client.ChatStart{ConversationID: "conv_1", InitialMessage: "Looking at pricing? I can help."},
		reply: client.Reply{Text: "Happy to help."},
	}
}

func (b *fakeBackend) InitSession(context.Context, string, domain.PageType) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initCalls++
	return b.initErr
}

func (b *fakeBackend) SendSignal(_ context.Context, sig domain.Signal) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.signals = append(b.signals, sig)
	return nil
}

func (b *fakeBackend) CheckIntentStatus(context.Context, string) (domain.IntentStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.statusCalls
	b.statusCalls++
	if b.statusErr != nil {
		return domain.IntentStatus{}, b.statusErr
	}
	if len(b.statuses) == 0 {
		return domain.IntentStatus{}, nil
	}
	if i >= len(b.statuses) {
		i = len(b.statuses) - 1
	}
	return b.statuses[i], nil
}

func (b *fakeBackend) StartChat(_ context.Context, _ string, intent domain.IntentType) (client.ChatStart, error) {
	b.mu.Lock()
	b.startCalls = append(b.startCalls, intent)
	gate := b.startGate
	b.mu.Unlock()

	if gate != nil {
		<-gate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.startErr != nil {
		return client.ChatStart{}, b.startErr
	}
	return b.start, nil
}

func (b *fakeBackend) SendMessage(_ context.Context, conversationID, text string, isButton bool) (client.Reply, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, sentMessage{conversationID: conversationID, text: text, isButton: isButton})
	if b.sendErr != nil {
		return client.Reply{}, b.sendErr
	}
	return b.reply, nil
}

func (b *fakeBackend) Escalate(_ context.Context, conversationID, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.escalations = append(b.escalations, conversationID+":"+reason)
	return b.escalateErr
}

func (b *fakeBackend) statusCallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statusCalls
}

func (b *fakeBackend) startCallList() []domain.IntentType {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.IntentType(nil), b.startCalls...)
}

func (b *fakeBackend) sentMessages() []sentMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]sentMessage(nil), b.sent...)
}

func (b *fakeBackend) set(fn func(b *fakeBackend)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}
