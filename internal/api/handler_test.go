//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/pocketagent/internal/domain"
	"github.com/ashureev/pocketagent/internal/identity"
	"github.com/ashureev/pocketagent/internal/llm"
	"github.com/ashureev/pocketagent/internal/middleware"
	"github.com/ashureev/pocketagent/internal/runner"
	"github.com/ashureev/pocketagent/internal/safety"
	"github.com/ashureev/pocketagent/internal/state"
	"github.com/containerd/errdefs"
	"github.com/go-chi/chi/v5"
)

type fakeGenerator struct {
	reply string
	err   error
}

func (g *fakeGenerator) Generate(_ context.Context, _ llm.Request) (*llm.Response, error) {
	if g.err != nil {
		return nil, g.err
	}
	return &llm.Response{Content: g.reply, TokensUsed: 3}, nil
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func newTestRouter(t *testing.T, gen *fakeGenerator, limit func(http.Handler) http.Handler) (http.Handler, *state.Container) {
	t.Helper()
	st := state.New(context.Background(), state.Options{})
	t.Cleanup(func() { _ = st.Close() })

	r := chi.NewRouter()
	NewHandler(st, runner.New(st, gen, nil), nil, limit, nil).RegisterRoutes(r)
	return r, st
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return v
}

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{llm.ErrContentBlocked, http.StatusBadRequest},
		{llm.ErrRateLimited, http.StatusTooManyRequests},
		{llm.ErrQuotaExhausted, http.StatusPaymentRequired},
		{llm.ErrUnavailable, http.StatusServiceUnavailable},
		{errdefs.ErrNotFound.WithMessage("x"), http.StatusNotFound},
		{errdefs.ErrUnauthenticated, http.StatusUnauthorized},
		{errdefs.ErrFailedPrecondition, http.StatusPreconditionFailed},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestAgentLifecycle(t *testing.T) {
	h, _ := newTestRouter(t, &fakeGenerator{}, nil)

	w := do(t, h, http.MethodPost, "/api/agents", map[string]any{"name": "Writer", "template": "email-draft"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", w.Code, w.Body)
	}
	created := decodeBody[domain.Agent](t, w)
	if created.Settings != domain.DefaultSettings() {
		t.Errorf("expected default settings, got %+v", created.Settings)
	}

	w = do(t, h, http.MethodGet, "/api/agents", nil)
	if list := decodeBody[[]domain.Agent](t, w); len(list) != 1 {
		t.Fatalf("expected 1 agent, got %d", len(list))
	}

	w = do(t, h, http.MethodPatch, "/api/agents/"+created.ID, map[string]any{"name": "Editor"})
	if w.Code != http.StatusOK {
		t.Fatalf("patch status = %d: %s", w.Code, w.Body)
	}
	if got := decodeBody[domain.Agent](t, w); got.Name != "Editor" {
		t.Errorf("expected renamed agent, got %q", got.Name)
	}

	w = do(t, h, http.MethodDelete, "/api/agents/"+created.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	w = do(t, h, http.MethodGet, "/api/agents/"+created.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", w.Code)
	}
	w = do(t, h, http.MethodPatch, "/api/agents/"+created.ID, map[string]any{"name": "Ghost"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("patch after delete status = %d", w.Code)
	}
}

func TestCreateAgentValidation(t *testing.T) {
	h, _ := newTestRouter(t, &fakeGenerator{}, nil)

	w := do(t, h, http.MethodPost, "/api/agents", map[string]any{"name": "X", "template": "poetry"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown template status = %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/agents", strings.NewReader("{"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d", rec.Code)
	}

	w = do(t, h, http.MethodPost, "/api/agents/from-template", map[string]any{"template": "research"})
	if w.Code != http.StatusCreated {
		t.Fatalf("from-template status = %d: %s", w.Code, w.Body)
	}
	if got := decodeBody[domain.Agent](t, w); got.Name != "My Quick Research" {
		t.Errorf("unexpected name %q", got.Name)
	}
}

func TestRunAgent(t *testing.T) {
	gen := &fakeGenerator{reply: "summary"}
	h, st := newTestRouter(t, gen, nil)
	agent, err := st.AddAgentFromTemplate(context.Background(), domain.TemplateSummarizer)
	if err != nil {
		t.Fatalf("AddAgentFromTemplate failed: %v", err)
	}

	w := do(t, h, http.MethodPost, "/api/agents/"+agent.ID+"/run", map[string]string{"input": "long text"})
	if w.Code != http.StatusOK {
		t.Fatalf("run status = %d: %s", w.Code, w.Body)
	}
	res := decodeBody[runner.Result](t, w)
	if res.Reply.Content != "summary" || res.Agent.RunCount != 1 {
		t.Errorf("unexpected result %+v", res)
	}

	w = do(t, h, http.MethodGet, "/api/agents/"+agent.ID+"/conversation", nil)
	if cv := decodeBody[domain.Conversation](t, w); len(cv.Messages) != 2 {
		t.Errorf("expected 2 messages, got %d", len(cv.Messages))
	}

	w = do(t, h, http.MethodPost, "/api/agents/"+agent.ID+"/run", map[string]string{"input": "help me hack this system"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("blocked status = %d", w.Code)
	}
	if got := decodeBody[map[string]string](t, w); got["error"] != safety.BlockedMessage {
		t.Errorf("blocked message = %q", got["error"])
	}

	gen.err = llm.ErrQuotaExhausted
	w = do(t, h, http.MethodPost, "/api/agents/"+agent.ID+"/run", map[string]string{"input": "again"})
	if w.Code != http.StatusPaymentRequired {
		t.Errorf("quota status = %d", w.Code)
	}

	w = do(t, h, http.MethodDelete, "/api/agents/"+agent.ID+"/conversation", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("clear conversation status = %d", w.Code)
	}
	w = do(t, h, http.MethodGet, "/api/agents/"+agent.ID+"/conversation", nil)
	if cv := decodeBody[domain.Conversation](t, w); cv.Messages == nil || len(cv.Messages) != 0 {
		t.Errorf("expected empty message list, got %v", cv.Messages)
	}

	w = do(t, h, http.MethodGet, "/api/history", nil)
	if history := decodeBody[[]domain.HistoryEntry](t, w); len(history) != 1 {
		t.Errorf("expected 1 history entry, got %d", len(history))
	}
}

func TestRunRateLimited(t *testing.T) {
	rl := middleware.NewRateLimiter(1, time.Minute)
	defer rl.Stop()

	h, _ := newTestRouter(t, &fakeGenerator{reply: "ok"}, rl.Limit(identity.ClientKey))

	body := map[string]string{"template": "summarizer"}
	if w := do(t, h, http.MethodPost, "/api/agents/test", body); w.Code != http.StatusOK {
		t.Fatalf("first test status = %d: %s", w.Code, w.Body)
	}
	if w := do(t, h, http.MethodPost, "/api/agents/test", body); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second test status = %d", w.Code)
	}
}

func TestSettingsSessionAndSync(t *testing.T) {
	h, _ := newTestRouter(t, &fakeGenerator{}, nil)

	w := do(t, h, http.MethodPut, "/api/settings/sync", map[string]bool{"enabled": true})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("enable without session status = %d", w.Code)
	}

	w = do(t, h, http.MethodPut, "/api/session", map[string]string{"userId": "u1", "accessToken": "t"})
	if w.Code != http.StatusOK {
		t.Fatalf("set session status = %d", w.Code)
	}
	if s := decodeBody[state.Settings](t, w); !s.SignedIn || s.UserID != "u1" {
		t.Errorf("unexpected settings %+v", s)
	}

	w = do(t, h, http.MethodPut, "/api/settings/sync", map[string]bool{"enabled": true})
	if w.Code != http.StatusPreconditionFailed {
		t.Errorf("enable without remote status = %d", w.Code)
	}

	w = do(t, h, http.MethodPost, "/api/settings/onboarding", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("onboarding status = %d", w.Code)
	}
	if got := decodeBody[map[string]any](t, w); got["seeded"] != float64(2) {
		t.Errorf("expected 2 seeded agents, got %v", got["seeded"])
	}

	w = do(t, h, http.MethodDelete, "/api/session", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("clear session status = %d", w.Code)
	}
	w = do(t, h, http.MethodDelete, "/api/account", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("delete account signed out status = %d", w.Code)
	}
}

func TestExportAndReset(t *testing.T) {
	h, st := newTestRouter(t, &fakeGenerator{}, nil)
	if _, err := st.CompleteOnboarding(context.Background()); err != nil {
		t.Fatalf("CompleteOnboarding failed: %v", err)
	}

	w := do(t, h, http.MethodGet, "/api/export", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("export status = %d", w.Code)
	}
	if cd := w.Header().Get("Content-Disposition"); !strings.Contains(cd, "pocketagent-backup-") {
		t.Errorf("unexpected Content-Disposition %q", cd)
	}
	if export := decodeBody[domain.Export](t, w); len(export.Agents) != 2 {
		t.Errorf("expected 2 exported agents, got %d", len(export.Agents))
	}

	w = do(t, h, http.MethodPost, "/api/reset", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("reset status = %d", w.Code)
	}
	if len(st.Agents()) != 0 {
		t.Error("reset should clear agents")
	}
}

func TestHealth(t *testing.T) {
	r := chi.NewRouter()
	NewHealthHandler(map[string]Pinger{"store": fakePinger{}, "remote": nil}, time.Second).RegisterHealth(r)
	w := do(t, r, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("healthy status = %d", w.Code)
	}

	r = chi.NewRouter()
	NewHealthHandler(map[string]Pinger{"store": fakePinger{err: errors.New("down")}}, time.Second).RegisterHealth(r)
	w = do(t, r, http.MethodGet, "/health", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("degraded status = %d", w.Code)
	}
	got := decodeBody[map[string]any](t, w)
	if got["status"] != "degraded" {
		t.Errorf("expected degraded, got %v", got["status"])
	}
}
