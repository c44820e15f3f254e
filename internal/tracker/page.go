package tracker

import (
	"context"
	"math"
	"slices"
	"strings"
)

// ScrollMetrics is the scroll geometry of a page in CSS pixels.
type ScrollMetrics struct {
	ScrollTop      float64 `json:"scrollTop"`
	DocumentHeight float64 `json:"documentHeight"`
	ViewportHeight float64 `json:"viewportHeight"`
}

// ScrollDepth returns how far down the page the visitor has scrolled, as a
// percentage in [0,100]. Pages that fit in the viewport report 0.
func ScrollDepth(m ScrollMetrics) int {
	scrollable := m.DocumentHeight - m.ViewportHeight
	if !(scrollable > 0) {
		return 0
	}
	pct := m.ScrollTop / scrollable * 100
	switch {
	case math.IsNaN(pct) || pct < 0:
		return 0
	case pct > 100:
		return 100
	}
	return int(math.Round(pct))
}

// Element describes the target of a click and its ancestors.
type Element struct {
	Tag     string   `json:"tag"`
	Text    string   `json:"text"`
	Href    string   `json:"href"`
	Classes []string `json:"classes"`
	Parent  *Element `json:"parent,omitempty"`
}

// HasClass reports whether the element carries class.
func (e *Element) HasClass(class string) bool {
	return slices.Contains(e.Classes, class)
}

// Closest returns the element itself or its nearest ancestor whose tag is
// one of tags, or nil.
func (e *Element) Closest(tags ...string) *Element {
	for cur := e; cur != nil; cur = cur.Parent {
		for _, tag := range tags {
			if strings.EqualFold(cur.Tag, tag) {
				return cur
			}
		}
	}
	return nil
}

// Page is the browser page being observed.
//
// Listeners are invoked from the page's own goroutine, never synchronously
// from within OnScroll or OnClick. The returned functions detach them.
type Page interface {
	// URL returns the current page URL.
	URL() string
	// ScrollMetrics reads the current scroll geometry.
	ScrollMetrics(ctx context.Context) (ScrollMetrics, error)
	// OnScroll registers a passive scroll listener.
	OnScroll(fn func(ScrollMetrics)) (remove func())
	// OnClick registers a capture-phase click listener.
	OnClick(fn func(Element)) (remove func())
}
