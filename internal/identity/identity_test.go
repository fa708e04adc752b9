package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHolder(t *testing.T) {
	h := NewHolder(Session{})
	if h.Current().Valid() {
		t.Fatal("empty holder should not have a valid session")
	}

	prev := h.Set(Session{UserID: "u1", AccessToken: "tok"})
	if prev.Valid() {
		t.Errorf("previous session = %+v, want empty", prev)
	}
	if h.UserID() != "u1" || h.Token() != "tok" {
		t.Errorf("got user=%q token=%q", h.UserID(), h.Token())
	}

	prev = h.Clear()
	if prev.UserID != "u1" {
		t.Errorf("Clear returned %+v, want u1", prev)
	}
	if h.UserID() != "" {
		t.Errorf("UserID after Clear = %q", h.UserID())
	}
}

func TestMiddlewareAssignsStableClientID(t *testing.T) {
	var seen string
	handler := Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ClientKey(r)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if !clientIDPattern.MatchString(seen) {
		t.Fatalf("client id %q does not match pattern", seen)
	}

	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != ClientCookieName {
		t.Fatalf("expected client cookie, got %v", cookies)
	}
	first := seen

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if seen != first {
		t.Errorf("client id changed: %q -> %q", first, seen)
	}
}

func TestClientKeyFallsBackToIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	if got := ClientKey(req); got != "10.0.0.7" {
		t.Errorf("ClientKey = %q, want 10.0.0.7", got)
	}
}
