// Package web serves a built browser client from a directory as a
// single-page application.
package web

import (
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
)

// SPAHandler serves files from fsys and falls back to index.html for any
// path that is not a file, so client-side routes resolve.
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
				slog.Debug("web: failed to close file", "path", path, "error", closeErr)
			}
			if statErr == nil && !stat.IsDir() {
				fileServer.ServeHTTP(w, r)
				return
			}
		}

		r.URL.Path = "/"
		fileServer.ServeHTTP(w, r)
	})
}
