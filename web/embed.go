// Package web embeds the demo storefront (dist/) the sensor is pointed at
// during development.
package web

import (
	"embed"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"
)

//go:embed all:dist
var distFS embed.FS

// SiteHandler returns an http.Handler that serves the embedded storefront.
// Extensionless paths resolve to the matching .html page, so /pricing
// serves pricing.html. Unknown pages return 404.
func SiteHandler() http.Handler {
	subFS, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("web: failed to create sub filesystem: " + err.Error())
	}

	fileServer := http.FileServer(http.FS(subFS))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.Trim(r.URL.Path, "/")
		if name == "" {
			fileServer.ServeHTTP(w, r)
			return
		}
		if path.Ext(name) == "" {
			name += ".html"
		}

		f, err := subFS.Open(name)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		if closeErr := f.Close(); closeErr != nil {
			slog.Debug("web: failed to close embedded file", "path", name, "error", closeErr)
		}

		if strings.HasSuffix(name, ".html") {
			// FileServer redirects /x.html to /x; serve by content instead.
			http.ServeFileFS(w, r, subFS, name)
			return
		}
		fileServer.ServeHTTP(w, r)
	})
}
