package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	ChatID    int64  `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type fakeAPI struct {
	mu         sync.Mutex
	sent       []sent
	rejectMD   bool
	failStatus int
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bottok/getUpdates":
			assert.Equal(t, "5", r.URL.Query().Get("offset"))
			assert.Equal(t, "30", r.URL.Query().Get("timeout"))
			_, _ = w.Write([]byte(`{"ok":true,"result":[{"update_id":5,"message":{"message_id":1,"from":{"id":9,"username":"ann"},"chat":{"id":9},"text":"/hashtags"}}]}`))
		case "/bottok/sendMessage":
			var m sent
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&m))
			f.mu.Lock()
			f.sent = append(f.sent, m)
			f.mu.Unlock()
			switch {
			case f.failStatus != 0:
				w.WriteHeader(f.failStatus)
				_, _ = w.Write([]byte(`{"ok":false,"description":"nope"}`))
			case f.rejectMD && m.ParseMode != "":
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"ok":false,"description":"can't parse entities"}`))
			default:
				_, _ = w.Write([]byte(`{"ok":true}`))
			}
		default:
			http.NotFound(w, r)
		}
	})
}

func newTestClient(t *testing.T, api *fakeAPI) *Client {
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	return NewClient("tok", Options{BaseURL: srv.URL}, zerolog.Nop())
}

func TestGetUpdates(t *testing.T) {
	c := newTestClient(t, &fakeAPI{})

	updates, err := c.GetUpdates(context.Background(), 5)

	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Equal(t, int64(5), updates[0].UpdateID)
	require.NotNil(t, updates[0].Message)
	assert.Equal(t, "ann", updates[0].Message.From.Username)
	assert.Equal(t, "/hashtags", updates[0].Message.Text)
}

func TestSendMessageMarkdownFallback(t *testing.T) {
	api := &fakeAPI{rejectMD: true}
	c := newTestClient(t, api)

	require.NoError(t, c.SendMessage(context.Background(), 9, "*broken", true))

	require.Len(t, api.sent, 2)
	assert.Equal(t, "Markdown", api.sent[0].ParseMode)
	assert.Equal(t, "", api.sent[1].ParseMode)
	assert.Equal(t, "*broken", api.sent[1].Text)
}

func TestSendMessagePlainIsNotRetried(t *testing.T) {
	api := &fakeAPI{failStatus: http.StatusBadRequest}
	c := newTestClient(t, api)

	err := c.SendMessage(context.Background(), 9, "hello", false)

	assert.ErrorContains(t, err, "telegram API error: 400")
	assert.Len(t, api.sent, 1)
}

func TestSendMessageChunksLongText(t *testing.T) {
	api := &fakeAPI{}
	c := newTestClient(t, api)
	line := strings.Repeat("a", 99) + "\n"
	text := strings.Repeat(line, 90)

	require.NoError(t, c.SendMessage(context.Background(), 9, text, false))

	require.Len(t, api.sent, 3)
	for _, m := range api.sent {
		assert.LessOrEqual(t, len(m.Text), maxMessageLength)
	}
	assert.Equal(t, strings.Repeat(line, 40)[:3999], api.sent[0].Text)
}

func TestSplit(t *testing.T) {
	assert.Equal(t, []string{"short"}, Split("short", 10))
	assert.Equal(t, []string{"abcdefghij", "klm"}, Split("abcdefghijklm", 10))
	assert.Equal(t, []string{"abcdefg", "hijklm"}, Split("abcdefg\nhijklm", 10))
	assert.Equal(t, []string{"ééééé", "éé"}, Split("ééééééé", 5))
}
