package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func TestHandleSPA(t *testing.T) {
	fsys := afero.NewMemMapFs()
	afero.WriteFile(fsys, "/index.html", []byte("<html>soup</html>"), 0o644)
	afero.WriteFile(fsys, "/assets/app-1a2b.js", []byte("console.log(1)"), 0o644)

	h := handleSPA(fsys)

	tests := []struct {
		name      string
		path      string
		wantCode  int
		wantBody  string
		wantCache string
	}{
		{"asset", "/assets/app-1a2b.js", http.StatusOK, "console.log(1)", "public, max-age=31536000, immutable"},
		{"client route", "/room/ABC123", http.StatusOK, "<html>soup</html>", "no-cache"},
		{"root", "/", http.StatusOK, "<html>soup</html>", "no-cache"},
		{"unknown api", "/api/nope", http.StatusNotFound, `"not found"`, ""},
		{"unknown image", "/images/missing/x", http.StatusNotFound, `"not found"`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if !strings.Contains(rec.Body.String(), tt.wantBody) {
				t.Errorf("body = %q, want it to contain %q", rec.Body.String(), tt.wantBody)
			}
			if got := rec.Header().Get("Cache-Control"); got != tt.wantCache {
				t.Errorf("Cache-Control = %q, want %q", got, tt.wantCache)
			}
		})
	}
}

func TestHandleSPAWithoutIndex(t *testing.T) {
	h := handleSPA(afero.NewMemMapFs())
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/room/ABC123", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}
