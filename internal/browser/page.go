package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ashureev/intent-sensor/internal/tracker"
	"github.com/go-rod/rod"
	"github.com/ysmood/gson"
)

// Page adapts a rod page to tracker.Page. Listeners are called from rod's
// binding goroutine.
type Page struct {
	page   *rod.Page
	logger *slog.Logger

	mu      sync.Mutex
	url     string
	nextID  int
	scrolls map[int]func(tracker.ScrollMetrics)
	clicks  map[int]func(tracker.Element)
	detach  []func() error
	closed  bool
}

var _ tracker.Page = (*Page)(nil)

// Attach exposes the listener bindings on page and installs the DOM
// listeners on the current and every future document.
func Attach(ctx context.Context, page *rod.Page, logger *slog.Logger) (*Page, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Page{
		page:    page,
		logger:  logger.With("component", "browser_page"),
		scrolls: make(map[int]func(tracker.ScrollMetrics)),
		clicks:  make(map[int]func(tracker.Element)),
	}
	if info, err := page.Info(); err == nil {
		p.url = info.URL
	}

	stopScroll, err := page.Expose(scrollBinding, p.handleScroll)
	if err != nil {
		return nil, fmt.Errorf("expose scroll binding: %w", err)
	}
	p.detach = append(p.detach, stopScroll)

	stopClick, err := page.Expose(clickBinding, p.handleClick)
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("expose click binding: %w", err)
	}
	p.detach = append(p.detach, stopClick)

	removeScript, err := page.EvalOnNewDocument("(" + listenersJS + ")()")
	if err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("register listeners: %w", err)
	}
	p.detach = append(p.detach, removeScript)

	if _, err := page.Context(ctx).Evaluate(&rod.EvalOptions{JS: listenersJS, ByValue: true}); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("install listeners: %w", err)
	}
	return p, nil
}

// URL returns the current page URL, or the last known one when the target
// cannot be queried.
func (p *Page) URL() string {
	info, err := p.page.Info()

	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil && info.URL != "" {
		p.url = info.URL
	}
	return p.url
}

// ScrollMetrics reads the current scroll geometry.
func (p *Page) ScrollMetrics(ctx context.Context) (tracker.ScrollMetrics, error) {
	res, err := p.page.Context(ctx).Evaluate(&rod.EvalOptions{JS: scrollMetricsJS, ByValue: true})
	if err != nil {
		return tracker.ScrollMetrics{}, fmt.Errorf("read scroll metrics: %w", err)
	}
	return decodeScroll(res.Value)
}

// OnScroll registers a scroll listener.
func (p *Page) OnScroll(fn func(tracker.ScrollMetrics)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.scrolls[id] = fn
	return func() {
		p.mu.Lock()
		delete(p.scrolls, id)
		p.mu.Unlock()
	}
}

// OnClick registers a click listener.
func (p *Page) OnClick(fn func(tracker.Element)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.clicks[id] = fn
	return func() {
		p.mu.Lock()
		delete(p.clicks, id)
		p.mu.Unlock()
	}
}

// Close removes the bindings and drops every listener.
func (p *Page) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	detach := p.detach
	p.detach = nil
	clear(p.scrolls)
	clear(p.clicks)
	p.mu.Unlock()

	var errs []error
	for _, fn := range detach {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Page) handleScroll(arg gson.JSON) (interface{}, error) {
	m, err := decodeScroll(arg)
	if err != nil {
		p.logger.Debug("dropping malformed scroll event", "error", err)
		return nil, nil
	}
	p.mu.Lock()
	listeners := make([]func(tracker.ScrollMetrics), 0, len(p.scrolls))
	for _, fn := range p.scrolls {
		listeners = append(listeners, fn)
	}
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(m)
	}
	return nil, nil
}

func (p *Page) handleClick(arg gson.JSON) (interface{}, error) {
	el, err := decodeElement(arg)
	if err != nil {
		p.logger.Debug("dropping malformed click event", "error", err)
		return nil, nil
	}
	p.mu.Lock()
	listeners := make([]func(tracker.Element), 0, len(p.clicks))
	for _, fn := range p.clicks {
		listeners = append(listeners, fn)
	}
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(el)
	}
	return nil, nil
}

func decodeScroll(v gson.JSON) (tracker.ScrollMetrics, error) {
	var m tracker.ScrollMetrics
	if v.Nil() {
		return m, errors.New("empty scroll metrics")
	}
	if err := json.Unmarshal([]byte(v.JSON("", "")), &m); err != nil {
		return m, fmt.Errorf("decode scroll metrics: %w", err)
	}
	return m, nil
}

func decodeElement(v gson.JSON) (tracker.Element, error) {
	var el tracker.Element
	if v.Nil() {
		return el, errors.New("empty element")
	}
	if err := json.Unmarshal([]byte(v.JSON("", "")), &el); err != nil {
		return el, fmt.Errorf("decode element: %w", err)
	}
	return el, nil
}
