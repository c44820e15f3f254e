package tracker

import (
	"context"
	"errors"
	"sync"

	"github.com/ashureev/intent-sensor/internal/domain"
)

type fakePage struct {
	mu       sync.Mutex
	url      string
	metrics  ScrollMetrics
	err      error
	scrollFn func(ScrollMetrics)
	clickFn  func(Element)
	removed  int
}

func newFakePage(m ScrollMetrics) *fakePage {
	return &fakePage{url: "https://shop.example.com/pricing", metrics: m}
}

func (p *fakePage) URL() string { return p.url }

func (p *fakePage) ScrollMetrics(context.Context) (ScrollMetrics, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.metrics, p.err
}

func (p *fakePage) setScrollTop(top float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics.ScrollTop = top
}

func (p *fakePage) OnScroll(fn func(ScrollMetrics)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrollFn = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.scrollFn = nil
		p.removed++
	}
}

func (p *fakePage) OnClick(fn func(Element)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clickFn = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.clickFn = nil
		p.removed++
	}
}

func (p *fakePage) scroll(m ScrollMetrics) {
	p.mu.Lock()
	fn := p.scrollFn
	p.mu.Unlock()
	if fn != nil {
		fn(m)
	}
}

func (p *fakePage) click(el Element) {
	p.mu.Lock()
	fn := p.clickFn
	p.mu.Unlock()
	if fn != nil {
		fn(el)
	}
}

func (p *fakePage) listenerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	if p.scrollFn != nil {
		n++
	}
	if p.clickFn != nil {
		n++
	}
	return n
}

type fakeSender struct {
	mu      sync.Mutex
	signals []domain.Signal
	fail    bool
}

func (s *fakeSender) SendSignal(_ context.Context, sig domain.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = append(s.signals, sig)
	if s.fail {
		return errors.New("network down")
	}
	return nil
}

func (s *fakeSender) all() []domain.Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Signal(nil), s.signals...)
}

func (s *fakeSender) ofType(typ domain.SignalType) []domain.Signal {
	var out []domain.Signal
	for _, sig := range s.all() {
		if sig.Type == typ {
			out = append(out, sig)
		}
	}
	return out
}
