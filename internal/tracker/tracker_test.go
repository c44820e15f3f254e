package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/ashureev/intent-sensor/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/time/rate"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// page with 1000px of scrollable range so scrollTop maps to depth*10.
var tallPage = ScrollMetrics{DocumentHeight: 1800, ViewportHeight: 800}

func newStartedTracker(t *testing.T, page *fakePage, sender *fakeSender, cfg Config) *Tracker {
	t.Helper()
	if cfg.Interval == 0 {
		cfg.Interval = time.Hour
	}
	tr := New("session_123", domain.PagePricing, page, sender, cfg)
	require.NoError(t, tr.Start(context.Background()))
	t.Cleanup(func() {
		tr.Stop()
		tr.Wait()
	})
	return tr
}

func TestScrollDepth(t *testing.T) {
	tests := []struct {
		name string
		m    ScrollMetrics
		want int
	}{
		{name: "top", m: ScrollMetrics{ScrollTop: 0, DocumentHeight: 2000, ViewportHeight: 1000}, want: 0},
		{name: "half", m: ScrollMetrics{ScrollTop: 500, DocumentHeight: 2000, ViewportHeight: 1000}, want: 50},
		{name: "rounds", m: ScrollMetrics{ScrollTop: 455, DocumentHeight: 2000, ViewportHeight: 1000}, want: 46},
		{name: "bottom", m: ScrollMetrics{ScrollTop: 1000, DocumentHeight: 2000, ViewportHeight: 1000}, want: 100},
		{name: "overscroll clamps", m: ScrollMetrics{ScrollTop: 1300, DocumentHeight: 2000, ViewportHeight: 1000}, want: 100},
		{name: "negative clamps", m: ScrollMetrics{ScrollTop: -40, DocumentHeight: 2000, ViewportHeight: 1000}, want: 0},
		{name: "fits viewport", m: ScrollMetrics{ScrollTop: 0, DocumentHeight: 800, ViewportHeight: 800}, want: 0},
		{name: "shorter than viewport", m: ScrollMetrics{ScrollTop: 10, DocumentHeight: 600, ViewportHeight: 800}, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ScrollDepth(tt.m))
		})
	}
}

func TestTickSendsTimeBeforeScroll(t *testing.T) {
	page := newFakePage(tallPage)
	page.setScrollTop(300)
	sender := &fakeSender{}
	tr := newStartedTracker(t, page, sender, Config{})

	tr.tick()

	signals := sender.all()
	require.Len(t, signals, 2)
	assert.Equal(t, domain.SignalTimeOnPage, signals[0].Type)
	assert.Equal(t, domain.SignalScroll, signals[1].Type)
	assert.Equal(t, 30, signals[1].Data["depth"])
	for _, sig := range signals {
		assert.Equal(t, "session_123", sig.SessionID)
		assert.Equal(t, domain.PagePricing, sig.PageType)
	}
}

func TestTimeOnPageCountsWholeSeconds(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	page := newFakePage(tallPage)
	sender := &fakeSender{}

	tr := New("session_123", domain.PageDocs, page, sender, Config{Interval: time.Hour}, WithClock(clock))
	require.NoError(t, tr.Start(context.Background()))
	defer func() {
		tr.Stop()
		tr.Wait()
	}()

	now = now.Add(12*time.Second + 900*time.Millisecond)
	tr.tick()

	times := sender.ofType(domain.SignalTimeOnPage)
	require.Len(t, times, 1)
	assert.Equal(t, 12, times[0].Data["seconds"])
}

func TestScrollWatermark(t *testing.T) {
	page := newFakePage(tallPage)
	sender := &fakeSender{}
	tr := newStartedTracker(t, page, sender, Config{})

	depths := []float64{400, 450, 510, 300, 600, 610, 1000, 1000}
	for _, top := range depths {
		page.scroll(ScrollMetrics{ScrollTop: top, DocumentHeight: 1800, ViewportHeight: 800})
		tr.tick()
	}

	var sent []int
	for _, sig := range sender.ofType(domain.SignalScroll) {
		sent = append(sent, sig.Data["depth"].(int))
	}
	// 40 sends, 45 does not, 51 does, 30 regresses, 60 falls short of 61, 100 sends once.
	assert.Equal(t, []int{40, 51, 61, 100}, sent)
	assert.Len(t, sender.ofType(domain.SignalTimeOnPage), len(depths))
}

func TestScrollBelowFirstStepNotSent(t *testing.T) {
	page := newFakePage(tallPage)
	page.setScrollTop(90)
	sender := &fakeSender{}
	tr := newStartedTracker(t, page, sender, Config{})

	tr.tick()

	assert.Empty(t, sender.ofType(domain.SignalScroll))
}

func TestScrollMetricsReadFromPageWithoutScrollEvents(t *testing.T) {
	page := newFakePage(tallPage)
	page.setScrollTop(250)
	sender := &fakeSender{}
	tr := newStartedTracker(t, page, sender, Config{})

	tr.tick()
	page.setScrollTop(500)
	tr.tick()

	scrolls := sender.ofType(domain.SignalScroll)
	require.Len(t, scrolls, 2)
	assert.Equal(t, 25, scrolls[0].Data["depth"])
	assert.Equal(t, 50, scrolls[1].Data["depth"])
}

func TestDegeneratePageDoesNotPanic(t *testing.T) {
	page := newFakePage(ScrollMetrics{DocumentHeight: 700, ViewportHeight: 700})
	sender := &fakeSender{}
	tr := newStartedTracker(t, page, sender, Config{})

	assert.NotPanics(t, tr.tick)
	assert.Empty(t, sender.ofType(domain.SignalScroll))
}

func TestClickFiltering(t *testing.T) {
	link := &Element{Tag: "A", Href: "https://shop.example.com/pricing"}
	tests := []struct {
		name  string
		el    Element
		track bool
	}{
		{name: "button", el: Element{Tag: "BUTTON", Text: "Buy"}, track: true},
		{name: "lowercase link", el: Element{Tag: "a", Text: "Plans"}, track: true},
		{name: "cta class", el: Element{Tag: "DIV", Classes: []string{"hero", "cta"}}, track: true},
		{name: "span inside link", el: Element{Tag: "SPAN", Text: "Plans", Parent: link}, track: true},
		{name: "icon inside button", el: Element{Tag: "svg", Parent: &Element{Tag: "SPAN", Parent: &Element{Tag: "BUTTON"}}}, track: true},
		{name: "plain div", el: Element{Tag: "DIV", Classes: []string{"card"}}, track: false},
		{name: "paragraph", el: Element{Tag: "P", Parent: &Element{Tag: "SECTION"}}, track: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New("s", domain.PageOther, newFakePage(tallPage), &fakeSender{}, Config{})
			assert.Equal(t, tt.track, tr.isTrackedClick(&tt.el))
		})
	}
}

func TestClickSignalPayload(t *testing.T) {
	page := newFakePage(tallPage)
	sender := &fakeSender{}
	tr := newStartedTracker(t, page, sender, Config{})

	longText := "  Start your free trial today and get 3 months of premium support included  "
	page.click(Element{Tag: "a", Text: longText, Href: "https://shop.example.com/signup", Classes: []string{"btn", "cta"}})
	page.click(Element{Tag: "DIV", Text: "ignored"})

	require.Eventually(t, func() bool { return len(sender.ofType(domain.SignalClick)) == 1 }, time.Second, 5*time.Millisecond)
	tr.Stop()
	tr.Wait()

	clicks := sender.ofType(domain.SignalClick)
	require.Len(t, clicks, 1)
	data := clicks[0].Data
	assert.Equal(t, "A", data["tag"])
	assert.Equal(t, "Start your free trial today and get 3 months of pr", data["text"])
	assert.Len(t, []rune(data["text"].(string)), 50)
	assert.Equal(t, "https://shop.example.com/signup", data["href"])
	assert.Equal(t, "btn cta", data["class"])
}

func TestClickRateLimit(t *testing.T) {
	page := newFakePage(tallPage)
	sender := &fakeSender{}
	tr := newStartedTracker(t, page, sender, Config{ClickRate: rate.Every(time.Hour), ClickBurst: 2})

	for i := 0; i < 5; i++ {
		page.click(Element{Tag: "BUTTON"})
	}
	tr.Stop()
	tr.Wait()

	assert.Len(t, sender.ofType(domain.SignalClick), 2)
}

func TestClickBeforeStopIsDelivered(t *testing.T) {
	page := newFakePage(tallPage)
	sender := &fakeSender{}
	tr := newStartedTracker(t, page, sender, Config{})

	page.click(Element{Tag: "BUTTON", Text: "Buy"})
	tr.Stop()
	tr.Wait()

	clicks := sender.ofType(domain.SignalClick)
	require.Len(t, clicks, 1)
	assert.Equal(t, "Buy", clicks[0].Data["text"])
}

// gatedSender blocks click sends until released.
type gatedSender struct {
	fakeSender
	entered chan struct{}
	release chan struct{}
}

func (s *gatedSender) SendSignal(ctx context.Context, sig domain.Signal) error {
	if sig.Type == domain.SignalClick {
		s.entered <- struct{}{}
		<-s.release
	}
	return s.fakeSender.SendSignal(ctx, sig)
}

func TestClickInProgressSurvivesStop(t *testing.T) {
	page := newFakePage(tallPage)
	sender := &gatedSender{entered: make(chan struct{}), release: make(chan struct{})}
	tr := New("session_123", domain.PagePricing, page, sender, Config{Interval: time.Hour})
	require.NoError(t, tr.Start(context.Background()))

	clicked := make(chan struct{})
	go func() {
		defer close(clicked)
		page.click(Element{Tag: "A", Href: "/contact"})
	}()
	<-sender.entered

	tr.Stop()
	close(sender.release)
	<-clicked
	tr.Wait()

	assert.Len(t, sender.ofType(domain.SignalClick), 1)
}

func TestSendFailureIsSwallowed(t *testing.T) {
	page := newFakePage(tallPage)
	page.setScrollTop(500)
	sender := &fakeSender{fail: true}
	tr := newStartedTracker(t, page, sender, Config{})

	assert.NotPanics(t, tr.tick)
	assert.Equal(t, StateTracking, tr.State())

	page.setScrollTop(900)
	tr.tick()
	assert.Len(t, sender.ofType(domain.SignalScroll), 2, "tracking continues after failures")
}

func TestPeriodicTicks(t *testing.T) {
	page := newFakePage(tallPage)
	sender := &fakeSender{}
	newStartedTracker(t, page, sender, Config{Interval: 10 * time.Millisecond})

	require.Eventually(t, func() bool {
		return len(sender.ofType(domain.SignalTimeOnPage)) >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestStopDetachesAndSilences(t *testing.T) {
	page := newFakePage(tallPage)
	sender := &fakeSender{}
	tr := newStartedTracker(t, page, sender, Config{Interval: 5 * time.Millisecond})

	require.Eventually(t, func() bool { return len(sender.all()) > 0 }, time.Second, time.Millisecond)
	tr.Stop()
	tr.Wait()

	assert.Equal(t, StateStopped, tr.State())
	assert.Zero(t, page.listenerCount())

	count := len(sender.all())
	tr.tick()
	tr.onClick(Element{Tag: "BUTTON"})
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, count, len(sender.all()), "no signals after Stop")
}

func TestStopIsIdempotentAndSafeFromIdle(t *testing.T) {
	tr := New("s", domain.PageOther, newFakePage(tallPage), &fakeSender{}, Config{})

	tr.Stop()
	tr.Stop()
	tr.Wait()

	assert.Equal(t, StateStopped, tr.State())
}

func TestStartAfterStopFails(t *testing.T) {
	page := newFakePage(tallPage)
	tr := New("s", domain.PageOther, page, &fakeSender{}, Config{Interval: time.Hour})

	require.NoError(t, tr.Start(context.Background()))
	require.NoError(t, tr.Start(context.Background()), "second Start is a no-op")
	tr.Stop()
	tr.Wait()

	assert.ErrorIs(t, tr.Start(context.Background()), ErrStopped)
	assert.Zero(t, page.listenerCount())
}

func TestContextCancellationStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := New("s", domain.PageOther, newFakePage(tallPage), &fakeSender{}, Config{Interval: time.Hour})
	require.NoError(t, tr.Start(ctx))

	cancel()

	require.Eventually(t, func() bool { return tr.State() == StateStopped }, time.Second, time.Millisecond)
	tr.Wait()
}
