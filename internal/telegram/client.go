// Package telegram is the Bot API transport: long polling, webhook payloads
// and rate limited replies.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	apiBase = "https://api.telegram.org"
	// Bot API rejects texts above 4096 characters.
	maxMessageLength = 4000
	pollTimeout      = 30
)

type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	From      User   `json:"from"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
}

type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

type Chat struct {
	ID int64 `json:"id"`
}

type apiResponse[T any] struct {
	OK          bool   `json:"ok"`
	Result      T      `json:"result"`
	Description string `json:"description"`
}

type Options struct {
	BaseURL  string
	SendRate float64
}

type Client struct {
	token   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	log     zerolog.Logger
}

func NewClient(token string, opts Options, logger zerolog.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = apiBase
	}
	limit := rate.Inf
	if opts.SendRate > 0 {
		limit = rate.Limit(opts.SendRate)
	}
	return &Client{
		token:   token,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		http:    &http.Client{Timeout: (pollTimeout + 15) * time.Second},
		limiter: rate.NewLimiter(limit, 1),
		log:     logger,
	}
}

func (c *Client) endpoint(method string) string {
	return fmt.Sprintf("%s/bot%s/%s", c.baseURL, c.token, method)
}

// GetUpdates long-polls for updates with id >= offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64) ([]Update, error) {
	q := url.Values{}
	q.Set("offset", strconv.FormatInt(offset, 10))
	q.Set("timeout", strconv.Itoa(pollTimeout))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("getUpdates")+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("getUpdates: %w", err)
	}
	defer resp.Body.Close()

	var out apiResponse[[]Update]
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("getUpdates: decode: %w", err)
	}
	if !out.OK {
		return nil, fmt.Errorf("telegram API error: %d %s", resp.StatusCode, out.Description)
	}
	return out.Result, nil
}

// SendMessage delivers text in chunks that fit one message each. Markdown
// chunks the API refuses to parse are resent as plain text.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, markdown bool) error {
	chunks := Split(text, maxMessageLength)
	if len(chunks) > 1 {
		c.log.Debug().Int64("chat", chatID).Int("chunks", len(chunks)).Msg("splitting long message")
	}
	for _, chunk := range chunks {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := c.sendSingle(ctx, chatID, chunk, markdown); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) sendSingle(ctx context.Context, chatID int64, text string, markdown bool) error {
	payload := map[string]interface{}{
		"chat_id": chatID,
		"text":    text,
	}
	if markdown {
		payload["parse_mode"] = "Markdown"
	}

	status, body, err := c.post(ctx, "sendMessage", payload)
	if err != nil {
		return err
	}
	if status == http.StatusOK {
		return nil
	}

	if status == http.StatusBadRequest && markdown {
		c.log.Warn().Int64("chat", chatID).Msg("markdown rejected, retrying as plain text")
		delete(payload, "parse_mode")
		status, body, err = c.post(ctx, "sendMessage", payload)
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return fmt.Errorf("telegram API error (plain text retry): %d %s", status, body)
		}
		return nil
	}
	return fmt.Errorf("telegram API error: %d %s", status, body)
}

func (c *Client) post(ctx context.Context, method string, payload interface{}) (int, string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(method), bytes.NewReader(data))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("%s: %w", method, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, string(body), nil
}

// Split cuts text into pieces of at most limit runes, preferring line breaks.
func Split(text string, limit int) []string {
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	var out []string
	rest := []rune(text)
	for len(rest) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if rest[i-1] == '\n' {
				cut = i
				break
			}
		}
		out = append(out, strings.TrimRight(string(rest[:cut]), "\n"))
		rest = rest[cut:]
	}
	if len(rest) > 0 {
		out = append(out, string(rest))
	}
	return out
}
