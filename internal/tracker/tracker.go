// Package tracker observes visitor behavior on a page and emits signals.
package tracker

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/ashureev/intent-sensor/internal/domain"
	"github.com/ashureev/intent-sensor/internal/metrics"
	"github.com/ashureev/intent-sensor/internal/schedule"
	"golang.org/x/time/rate"
)

const (
	// DefaultInterval is the periodic tick interval.
	DefaultInterval = 5 * time.Second
	// DefaultCTAClass marks call-to-action elements.
	DefaultCTAClass = "cta"

	scrollStep      = 10
	maxClickTextLen = 50
)

// ErrStopped is returned by Start on a stopped tracker.
var ErrStopped = errors.New("tracker stopped")

// State is the tracker lifecycle state.
type State int

const (
	StateIdle State = iota
	StateTracking
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTracking:
		return "tracking"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// SignalSender delivers signals to the intent backend.
type SignalSender interface {
	SendSignal(ctx context.Context, sig domain.Signal) error
}

// Config controls tracker behavior.
type Config struct {
	Interval   time.Duration
	CTAClass   string
	ClickRate  rate.Limit
	ClickBurst int
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.CTAClass == "" {
		c.CTAClass = DefaultCTAClass
	}
	if c.ClickRate <= 0 {
		c.ClickRate = rate.Inf
	}
	if c.ClickBurst <= 0 {
		c.ClickBurst = 1
	}
	return c
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// WithMetrics records signal outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// Tracker emits time-on-page, scroll-depth and click signals for one page
// load. It moves Idle -> Tracking -> Stopped; a stopped tracker cannot be
// restarted.
type Tracker struct {
	sessionID string
	pageType  domain.PageType
	page      Page
	sender    SignalSender
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	limiter   *rate.Limiter

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex

	mu           sync.Mutex
	state        State
	ctx          context.Context
	cancel       context.CancelFunc
	startedAt    time.Time
	watermark    int
	latest       ScrollMetrics
	haveLatest   bool
	removeScroll func()
	removeClick  func()
	stopWatch    func() bool
	task         *schedule.Task

	inflight sync.WaitGroup
}

// New creates an idle tracker.
func New(sessionID string, pageType domain.PageType, page Page, sender SignalSender, cfg Config, opts ...Option) *Tracker {
	cfg = cfg.withDefaults()
	t := &Tracker{
		sessionID: sessionID,
		pageType:  pageType,
		page:      page,
		sender:    sender,
		cfg:       cfg,
		logger:    slog.Default(),
		now:       time.Now,
		limiter:   rate.NewLimiter(cfg.ClickRate, cfg.ClickBurst),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	t.logger = t.logger.With("component", "tracker", "session_id", sessionID)
	return t
}

// State returns the current lifecycle state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Start begins tracking. Cancelling ctx stops the tracker.
func (t *Tracker) Start(ctx context.Context) error {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	t.mu.Lock()
	switch t.state {
	case StateTracking:
		t.mu.Unlock()
		return nil
	case StateStopped:
		t.mu.Unlock()
		return ErrStopped
	}
	t.ctx, t.cancel = context.WithCancel(context.WithoutCancel(ctx))
	t.startedAt = t.now()
	t.state = StateTracking
	t.mu.Unlock()

	removeScroll := t.page.OnScroll(t.onScroll)
	removeClick := t.page.OnClick(t.onClick)
	task := schedule.Every(t.cfg.Interval, t.tick)
	stopWatch := context.AfterFunc(ctx, t.Stop)

	t.mu.Lock()
	t.removeScroll = removeScroll
	t.removeClick = removeClick
	t.task = task
	t.stopWatch = stopWatch
	t.mu.Unlock()

	t.logger.Info("behavior tracking started", "page_type", t.pageType, "interval", t.cfg.Interval)
	return nil
}

// Stop ends tracking. Listeners are detached and the tick is cancelled
// before Stop returns; no signal is issued afterwards. Stop is idempotent.
func (t *Tracker) Stop() {
	t.lifecycle.Lock()
	defer t.lifecycle.Unlock()

	t.mu.Lock()
	if t.state == StateStopped {
		t.mu.Unlock()
		return
	}
	wasTracking := t.state == StateTracking
	t.state = StateStopped
	cancel := t.cancel
	task := t.task
	removeScroll, removeClick := t.removeScroll, t.removeClick
	stopWatch := t.stopWatch
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if task != nil {
		task.Cancel()
	}
	if removeScroll != nil {
		removeScroll()
	}
	if removeClick != nil {
		removeClick()
	}
	if stopWatch != nil {
		stopWatch()
	}

	if wasTracking {
		t.logger.Info("behavior tracking stopped")
	}
}

// Wait blocks until the tick goroutine and click sends in progress have
// returned. Call it after Stop.
func (t *Tracker) Wait() {
	t.mu.Lock()
	task := t.task
	t.mu.Unlock()
	if task != nil {
		<-task.Done()
	}
	t.inflight.Wait()
}

func (t *Tracker) onScroll(m ScrollMetrics) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateTracking {
		return
	}
	t.latest = m
	t.haveLatest = true
}

// tick emits time_on_page, then scroll when depth advanced by a full step.
func (t *Tracker) tick() {
	t.mu.Lock()
	if t.state != StateTracking {
		t.mu.Unlock()
		return
	}
	ctx := t.ctx
	elapsed := int(t.now().Sub(t.startedAt) / time.Second)
	latest, haveLatest := t.latest, t.haveLatest
	t.mu.Unlock()

	t.send(ctx, domain.SignalTimeOnPage, map[string]any{"seconds": elapsed})

	if !haveLatest {
		m, err := t.page.ScrollMetrics(ctx)
		if err != nil {
			t.logger.Debug("failed to read scroll metrics", "error", err)
			return
		}
		latest = m
	}
	depth := ScrollDepth(latest)

	t.mu.Lock()
	if t.state != StateTracking || depth < t.watermark+scrollStep {
		t.mu.Unlock()
		return
	}
	t.watermark = depth
	t.mu.Unlock()

	t.send(ctx, domain.SignalScroll, map[string]any{"depth": depth})
}

func (t *Tracker) onClick(el Element) {
	if !t.isTrackedClick(&el) {
		return
	}

	t.mu.Lock()
	if t.state != StateTracking {
		t.mu.Unlock()
		return
	}
	if !t.limiter.Allow() {
		t.mu.Unlock()
		t.metrics.Signal(string(domain.SignalClick), "dropped")
		t.logger.Debug("click signal dropped by rate limit", "tag", el.Tag)
		return
	}
	ctx := t.ctx
	t.inflight.Add(1)
	t.mu.Unlock()

	defer t.inflight.Done()

	// An admitted click is delivered even if Stop runs meanwhile; only a
	// cancelled request is abandoned.
	t.deliver(ctx, domain.SignalClick, clickPayload(&el))
}

func (t *Tracker) isTrackedClick(el *Element) bool {
	tag := strings.ToUpper(el.Tag)
	return tag == "BUTTON" ||
		tag == "A" ||
		el.HasClass(t.cfg.CTAClass) ||
		el.Closest("button", "a") != nil
}

func clickPayload(el *Element) map[string]any {
	return map[string]any{
		"tag":   strings.ToUpper(el.Tag),
		"text":  truncateRunes(strings.TrimSpace(el.Text), maxClickTextLen),
		"href":  el.Href,
		"class": strings.Join(el.Classes, " "),
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// send delivers one signal while tracking. Failures are logged and swallowed.
func (t *Tracker) send(ctx context.Context, typ domain.SignalType, data map[string]any) {
	t.mu.Lock()
	active := t.state == StateTracking
	t.mu.Unlock()
	if !active || ctx.Err() != nil {
		return
	}
	t.deliver(ctx, typ, data)
}

func (t *Tracker) deliver(ctx context.Context, typ domain.SignalType, data map[string]any) {
	err := t.sender.SendSignal(ctx, domain.Signal{
		SessionID: t.sessionID,
		Type:      typ,
		Data:      data,
		PageType:  t.pageType,
		Timestamp: t.now(),
	})
	switch {
	case err == nil:
		t.metrics.Signal(string(typ), "sent")
	case ctx.Err() != nil:
		t.logger.Debug("signal abandoned after stop", "signal_type", typ)
	default:
		t.metrics.Signal(string(typ), "failed")
		t.logger.Warn("failed to send signal", "signal_type", typ, "error", err)
	}
}
