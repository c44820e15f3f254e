// Package poller polls the intent backend until a session crosses the
// intent threshold.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/intent-sensor/internal/domain"
	"github.com/ashureev/intent-sensor/internal/metrics"
	"github.com/ashureev/intent-sensor/internal/schedule"
)

// DefaultInterval is the status poll interval.
const DefaultInterval = 10 * time.Second

// ErrStopped is returned by Start on a stopped poller.
var ErrStopped = errors.New("poller stopped")

// State is the poller lifecycle state.
type State int

const (
	StateIdle State = iota
	StatePolling
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// StopReason tells why a poller stopped.
type StopReason string

const (
	ReasonNone      StopReason = ""
	ReasonThreshold StopReason = "threshold"
	ReasonDisabled  StopReason = "disabled"
	ReasonGaveUp    StopReason = "gave_up"
)

// StatusChecker fetches the latest intent status of a session.
type StatusChecker interface {
	CheckIntentStatus(ctx context.Context, sessionID string) (domain.IntentStatus, error)
}

// Config controls polling.
type Config struct {
	Interval time.Duration
	// MaxFailures bounds consecutive failed polls; 0 polls forever.
	MaxFailures int
}

// Option configures a Poller.
type Option func(*Poller)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Poller) { p.logger = logger }
}

// WithMetrics records poll outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Poller) { p.metrics = m }
}

// OnThreshold registers the callback fired once when the threshold is crossed.
func OnThreshold(fn func(domain.IntentStatus)) Option {
	return func(p *Poller) { p.onThreshold = fn }
}

// OnGiveUp registers the callback fired when MaxFailures is reached.
func OnGiveUp(fn func(error)) Option {
	return func(p *Poller) { p.onGiveUp = fn }
}

// Poller polls intent status with at most one request in flight.
type Poller struct {
	sessionID   string
	checker     StatusChecker
	cfg         Config
	logger      *slog.Logger
	metrics     *metrics.Metrics
	onThreshold func(domain.IntentStatus)
	onGiveUp    func(error)

	lifecycle sync.Mutex

	mu        sync.Mutex
	state     State
	reason    StopReason
	status    domain.IntentStatus
	loaded    bool
	inFlight  bool
	failures  int
	ctx       context.Context
	cancel    context.CancelFunc
	task      *schedule.Task
	stopWatch func() bool

	checks sync.WaitGroup
}

// New creates an idle poller for a session.
func New(sessionID string, checker StatusChecker, cfg Config, opts ...Option) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	p := &Poller{
		sessionID: sessionID,
		checker:   checker,
		cfg:       cfg,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With("component", "poller", "session_id", sessionID)
	return p
}

// Start enables polling: one immediate check, then one per interval.
// Cancelling ctx disables the poller.
func (p *Poller) Start(ctx context.Context) error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	p.mu.Lock()
	switch p.state {
	case StatePolling:
		p.mu.Unlock()
		return nil
	case StateStopped:
		p.mu.Unlock()
		return ErrStopped
	}
	p.ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	p.state = StatePolling
	p.mu.Unlock()

	task := schedule.Every(p.cfg.Interval, p.poll, schedule.Immediately())
	stopWatch := context.AfterFunc(ctx, p.Stop)

	p.mu.Lock()
	p.task = task
	if p.state != StatePolling {
		// The immediate check already crossed the threshold or gave up.
		p.mu.Unlock()
		task.Cancel()
		stopWatch()
		return nil
	}
	p.stopWatch = stopWatch
	p.mu.Unlock()

	p.logger.Info("intent polling started", "interval", p.cfg.Interval)
	return nil
}

// Stop disables polling permanently. A request already in flight may
// complete but its result is discarded. Stop is idempotent.
func (p *Poller) Stop() {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	p.mu.Lock()
	if p.state == StateStopped {
		p.mu.Unlock()
		return
	}
	wasPolling := p.state == StatePolling
	detach := p.stopLocked(ReasonDisabled)
	p.mu.Unlock()

	detach()
	if wasPolling {
		p.logger.Info("intent polling stopped")
	}
}

// stopLocked moves to Stopped and returns the cleanup to run without p.mu.
func (p *Poller) stopLocked(reason StopReason) func() {
	p.state = StateStopped
	p.reason = reason
	task, cancel, stopWatch := p.task, p.cancel, p.stopWatch
	return func() {
		if task != nil {
			task.Cancel()
		}
		if stopWatch != nil {
			stopWatch()
		}
		if cancel != nil {
			cancel()
		}
	}
}

// Wait blocks until the poll loop and any in-flight check have returned.
func (p *Poller) Wait() {
	p.mu.Lock()
	task := p.task
	p.mu.Unlock()
	if task != nil {
		<-task.Done()
	}
	p.checks.Wait()
}

// State returns the lifecycle state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Reason returns why the poller stopped.
func (p *Poller) Reason() StopReason {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reason
}

// Status returns the latest status received from the backend.
func (p *Poller) Status() domain.IntentStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Loading reports whether no successful response has been received yet.
func (p *Poller) Loading() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.loaded
}

// poll starts a status check unless one is already in flight.
func (p *Poller) poll() {
	p.mu.Lock()
	if p.state != StatePolling {
		p.mu.Unlock()
		return
	}
	if p.inFlight {
		p.mu.Unlock()
		p.metrics.Poll("skipped")
		p.logger.Debug("status check still in flight, skipping tick")
		return
	}
	p.inFlight = true
	ctx := p.ctx
	p.checks.Add(1)
	p.mu.Unlock()

	go p.check(ctx)
}

func (p *Poller) check(ctx context.Context) {
	defer p.checks.Done()

	status, err := p.checker.CheckIntentStatus(ctx, p.sessionID)

	p.mu.Lock()
	p.inFlight = false
	if p.state != StatePolling {
		p.mu.Unlock()
		p.metrics.Poll("discarded")
		return
	}

	if err != nil {
		p.failures++
		failures := p.failures
		giveUp := p.cfg.MaxFailures > 0 && failures >= p.cfg.MaxFailures
		var detach func()
		if giveUp {
			detach = p.stopLocked(ReasonGaveUp)
		}
		p.mu.Unlock()

		p.metrics.Poll("failed")
		p.logger.Warn("failed to check intent status", "error", err, "consecutive_failures", failures)
		if giveUp {
			detach()
			p.logger.Error("intent polling gave up", "consecutive_failures", failures)
			if p.onGiveUp != nil {
				p.onGiveUp(err)
			}
		}
		return
	}

	p.failures = 0
	p.status = status
	p.loaded = true
	if !status.ThresholdCrossed {
		p.mu.Unlock()
		p.metrics.Poll("pending")
		return
	}

	detach := p.stopLocked(ReasonThreshold)
	p.mu.Unlock()

	detach()
	p.metrics.Poll("crossed")
	p.logger.Info("intent threshold crossed",
		"intent_type", status.IntentType,
		"confidence", status.Confidence)
	if p.onThreshold != nil {
		p.onThreshold(status)
	}
}
