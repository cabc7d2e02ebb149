// Package web serves the built frontend bundle as a single-page application.
package web

import (
	"io/fs"
	"log"
	"net/http"
	"os"
	"strings"
)

// SPAHandler serves static files from fsys and falls back to index.html for
// any path that doesn't match a file (client-side routing).
func SPAHandler(fsys fs.FS) http.Handler {
	fileServer := http.FileServer(http.FS(fsys))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/")
		if path == "" {
			path = "index.html"
		}

		if f, err := fsys.Open(path); err == nil {
			stat, statErr := f.Stat()
			if closeErr := f.Close(); closeErr != nil {
				log.Printf("web: failed to close %s: %v", path, closeErr)
			}
			if statErr == nil && !stat.IsDir() {
				fileServer.ServeHTTP(w, r)
				return
			}
		}

		// Not a file, serve index.html.
		r2 := r.Clone(r.Context())
		r2.URL.Path = "/"
		fileServer.ServeHTTP(w, r2)
	})
}

// Middleware sends browser navigations to the SPA in dir and passes every
// other request through. API clients never ask for text/html first.
func Middleware(dir string) func(http.Handler) http.Handler {
	spa := SPAHandler(os.DirFS(dir))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isNavigation(r) {
				spa.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isNavigation(r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	if r.URL.Path == "/health" {
		return false
	}
	accept := r.Header.Get("Accept")
	html := strings.Index(accept, "text/html")
	if html < 0 {
		return false
	}
	// text/html must come before any JSON preference.
	jsonIdx := strings.Index(accept, "application/json")
	return jsonIdx < 0 || html < jsonIdx
}
