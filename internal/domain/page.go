// Package domain contains core domain types for the intent sensor.
package domain

import (
	"net/url"
	"strings"
)

// PageType classifies the page a visitor is on.
type PageType string

const (
	PagePricing PageType = "pricing"
	PageProduct PageType = "product"
	PageDocs    PageType = "docs"
	PageAbout   PageType = "about"
	PageContact PageType = "contact"
	PageBlog    PageType = "blog"
	PageOther   PageType = "other"
)

// DetectPageType derives the page type from the page URL.
// Rules are checked in order; the first match wins.
func DetectPageType(rawURL string) PageType {
	full := strings.ToLower(rawURL)
	path := full
	if u, err := url.Parse(rawURL); err == nil {
		path = strings.ToLower(u.Path)
	}

	switch {
	case strings.Contains(path, "pricing") || strings.Contains(full, "pricing"):
		return PagePricing
	case strings.Contains(path, "product") || strings.Contains(full, "product"):
		return PageProduct
	case strings.Contains(path, "docs") || strings.Contains(path, "documentation"):
		return PageDocs
	case strings.Contains(path, "about") || strings.Contains(full, "about"):
		return PageAbout
	case strings.Contains(path, "contact") || strings.Contains(full, "contact"):
		return PageContact
	case strings.Contains(path, "blog") || strings.Contains(full, "blog"):
		return PageBlog
	default:
		return PageOther
	}
}
