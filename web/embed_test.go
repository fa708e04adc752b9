package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
)

func TestSPAHandler(t *testing.T) {
	h := spaHandler(fstest.MapFS{
		"dist/index.html":    {Data: []byte("<html>app</html>")},
		"dist/assets/app.js": {Data: []byte("console.log(1)")},
	})

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
		wantCache  string
	}{
		{"/", http.StatusOK, "app", ""},
		{"/agents/123", http.StatusOK, "app", "no-cache"},
		{"/assets/app.js", http.StatusOK, "console.log", "public, max-age=31536000, immutable"},
		{"/api/unknown", http.StatusNotFound, "", ""},
		{"/ws/other", http.StatusNotFound, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("body %q does not contain %q", w.Body.String(), tt.wantBody)
			}
			if got := w.Header().Get("Cache-Control"); got != tt.wantCache {
				t.Errorf("Cache-Control = %q, want %q", got, tt.wantCache)
			}
		})
	}
}

func TestEmbeddedIndexPresent(t *testing.T) {
	w := httptest.NewRecorder()
	SPAHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "PocketAgent") {
		t.Fatalf("unexpected response %d %q", w.Code, w.Body.String())
	}
}
