package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/polzovatel/creative-insights-bot/internal/retry"
)

const (
	envProvider = "LLM_PROVIDER" // "openai" or "anthropic"

	defaultMaxTokens = 900
	defaultTimeout   = 60 * time.Second
	maxRetries       = 3
	retryBaseDelay   = 500 * time.Millisecond
	maxRequestSize   = 200000 // ~200KB
)

// Client produces one text completion per request.
type Client interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Name() string
}

type Request struct {
	System      string
	Messages    []Message
	Temperature float32
	MaxTokens   int
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Response struct {
	Text string
}

// User builds a single-turn request.
func User(system, prompt string) Request {
	return Request{
		System:      system,
		Messages:    []Message{{Role: "user", Content: prompt}},
		Temperature: 0.7,
	}
}

// APIError is a non-2xx answer from a provider.
type APIError struct {
	Provider string
	Status   int
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %d: %s", e.Provider, e.Status, e.Message)
}

// Retryable reports whether the provider may succeed on a later attempt.
func (e *APIError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// Options configures a provider client. Empty fields take defaults.
type Options struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
	Retry   retry.Policy
}

// NewClientWithLogger creates a client based on LLM_PROVIDER. OpenAI is the
// default, matching the completion service the bot was built around.
func NewClientWithLogger(logger zerolog.Logger) (Client, error) {
	provider := strings.ToLower(strings.TrimSpace(os.Getenv(envProvider)))
	if provider == "" {
		provider = "openai"
	}

	switch provider {
	case "openai":
		return NewOpenAI(optionsFromEnv(envOpenAIAPIKey, envOpenAIModel, envOpenAIBaseURL), logger)
	case "anthropic":
		return NewAnthropic(optionsFromEnv(envAnthropicAPIKey, envAnthropicModel, envAnthropicBaseURL), logger)
	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (use 'openai' or 'anthropic')", provider)
	}
}

func optionsFromEnv(keyVar, modelVar, urlVar string) Options {
	return Options{
		APIKey:  strings.TrimSpace(os.Getenv(keyVar)),
		Model:   strings.Trim(strings.TrimSpace(os.Getenv(modelVar)), "\"'"),
		BaseURL: strings.TrimSpace(os.Getenv(urlVar)),
	}
}

func (o Options) withDefaults(model, baseURL string, logger zerolog.Logger) Options {
	if o.Model == "" {
		o.Model = model
	}
	if o.BaseURL == "" {
		o.BaseURL = baseURL
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.Retry.MaxAttempts == 0 {
		o.Retry = retry.Policy{
			MaxAttempts: maxRetries + 1,
			Backoff:     retry.Exponential(retryBaseDelay),
			Logger:      logger,
		}
	}
	return o
}

// sanitize truncates oversized prompt parts in place.
func sanitize(req *Request, logger zerolog.Logger) error {
	if len(req.Messages) == 0 {
		return errors.New("no messages")
	}
	for i, m := range req.Messages {
		if len(m.Content) > maxRequestSize {
			logger.Warn().Int("message_idx", i).Int("size", len(m.Content)).Msg("message too large, truncating")
			req.Messages[i].Content = cut(m.Content, maxRequestSize) + "... [truncated]"
		}
	}
	if len(req.System) > maxRequestSize {
		logger.Warn().Int("size", len(req.System)).Msg("system prompt too large, truncating")
		req.System = cut(req.System, maxRequestSize) + "... [truncated]"
	}
	return nil
}

// postJSON sends payload and decodes a 2xx body into out. Non-2xx answers
// become *APIError with errMessage extracting the provider's message.
func postJSON(ctx context.Context, hc *http.Client, provider, url string, headers map[string]string, payload, out any, errMessage func([]byte) string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return retry.Permanent(fmt.Errorf("marshal payload: %w", err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := hc.Do(httpReq)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		msg := errMessage(data)
		if msg == "" {
			msg = truncateString(string(data), 500)
		}
		apiErr := &APIError{Provider: provider, Status: resp.StatusCode, Message: msg}
		if apiErr.Retryable() {
			return apiErr
		}
		return retry.Permanent(apiErr)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return retry.Permanent(fmt.Errorf("parse response: %w (raw: %s)", err, truncateString(string(data), 200)))
	}
	return nil
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return cut(s, maxLen) + "..."
}

// cut returns at most n bytes of s without splitting a rune.
func cut(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func maxTokens(n int) int {
	if n > 0 {
		return n
	}
	return defaultMaxTokens
}
