package server

import (
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// handleSPA serves the built client from fsys. Paths that don't match a real
// file get index.html so client-side routes survive a reload; unknown /api/
// and /images/ paths stay JSON 404s.
func handleSPA(fsys afero.Fs) http.HandlerFunc {
	httpFS := afero.NewHttpFs(fsys)
	fileServer := http.FileServer(httpFS)

	return func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") || strings.HasPrefix(r.URL.Path, "/images/") {
			writeError(w, http.StatusNotFound, "not found")
			return
		}

		name := path.Clean("/" + r.URL.Path)
		if info, err := fsys.Stat(name); err == nil && !info.IsDir() {
			// Vite emits content-hashed names under /assets.
			if strings.HasPrefix(name, "/assets/") {
				w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
			}
			fileServer.ServeHTTP(w, r)
			return
		}

		index, err := httpFS.Open("/index.html")
		if err != nil {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		defer index.Close()
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeContent(w, r, "index.html", time.Time{}, index)
	}
}
