package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polzovatel/creative-insights-bot/internal/telegram"
)

type fakeChat struct {
	prompts []string
	err     error
}

func (f *fakeChat) Chat(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return "re: " + prompt, f.err
}

type fakeDispatcher struct {
	mu      sync.Mutex
	updates []telegram.Update
}

func (f *fakeDispatcher) Dispatch(_ context.Context, upd telegram.Update) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, upd)
}

type fakePool struct{ out, cap int }

func (p fakePool) Outstanding() int { return p.out }
func (p fakePool) Capacity() int    { return p.cap }

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := New(Options{}, nil, &fakeChat{}, fakePool{out: 2, cap: 2}, zerolog.Nop())

	rec := do(t, s.Handler(), http.MethodGet, "/healthz", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "busy", resp.Status)
	assert.Equal(t, 2, resp.Sessions)
	assert.Equal(t, 2, resp.MaxSessions)
}

func TestChat(t *testing.T) {
	chat := &fakeChat{}
	s := New(Options{}, nil, chat, nil, zerolog.Nop())

	rec := do(t, s.Handler(), http.MethodGet, "/chat?prompt=hello+there", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"reply":"re: hello there"}`, rec.Body.String())

	rec = do(t, s.Handler(), http.MethodGet, "/chat", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"hello there", defaultPrompt}, chat.prompts)

	chat.err = errors.New("quota")
	rec = do(t, s.Handler(), http.MethodGet, "/chat?prompt=x", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Failed to generate response."}`, rec.Body.String())
}

func TestWebhook(t *testing.T) {
	d := &fakeDispatcher{}
	s := New(Options{WebhookToken: "secret"}, d, &fakeChat{}, nil, zerolog.Nop())
	body := `{"update_id":3,"message":{"message_id":1,"from":{"id":5},"chat":{"id":5},"text":"/hashtags"}}`

	rec := do(t, s.Handler(), http.MethodPost, "/webhook/secret", body)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, d.updates, 1)
	assert.Equal(t, "/hashtags", d.updates[0].Message.Text)

	rec = do(t, s.Handler(), http.MethodPost, "/webhook/wrong", body)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s.Handler(), http.MethodPost, "/webhook/secret", "{")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s.Handler(), http.MethodGet, "/webhook/secret", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Len(t, d.updates, 1)
}

func TestWebhookDisabledWithoutDispatcher(t *testing.T) {
	s := New(Options{WebhookToken: "secret"}, nil, &fakeChat{}, nil, zerolog.Nop())

	rec := do(t, s.Handler(), http.MethodPost, "/webhook/secret", "{}")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunShutsDown(t *testing.T) {
	s := New(Options{Addr: "127.0.0.1:0"}, nil, &fakeChat{}, nil, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	assert.NoError(t, <-done)
}
