package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

const (
	envAnthropicAPIKey  = "ANTHROPIC_API_KEY"
	envAnthropicModel   = "ANTHROPIC_MODEL"
	envAnthropicBaseURL = "ANTHROPIC_BASE_URL"

	defaultAnthropicModel = "claude-sonnet-4-5-20250929"
	anthropicBaseURL      = "https://api.anthropic.com/v1"
	anthropicVersion      = "2023-06-01"
)

type anthropicClient struct {
	opts   Options
	http   *http.Client
	logger zerolog.Logger
}

type anthropicPayload struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float32            `json:"temperature"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicResponse struct {
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
}

type anthropicError struct {
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func NewAnthropic(opts Options, logger zerolog.Logger) (Client, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("missing %s", envAnthropicAPIKey)
	}
	opts = opts.withDefaults(defaultAnthropicModel, anthropicBaseURL, logger)
	return &anthropicClient{
		opts:   opts,
		http:   &http.Client{Timeout: opts.Timeout},
		logger: logger,
	}, nil
}

func (c *anthropicClient) Name() string { return c.opts.Model }

func (c *anthropicClient) Generate(ctx context.Context, req Request) (Response, error) {
	if err := sanitize(&req, c.logger); err != nil {
		return Response{}, err
	}

	msgs := make([]anthropicMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, anthropicMessage{
			Role:    m.Role,
			Content: []anthropicContent{{Type: "text", Text: m.Content}},
		})
	}
	payload := anthropicPayload{
		Model:       c.opts.Model,
		System:      req.System,
		Messages:    msgs,
		MaxTokens:   maxTokens(req.MaxTokens),
		Temperature: req.Temperature,
	}
	headers := map[string]string{
		"x-api-key":         c.opts.APIKey,
		"anthropic-version": anthropicVersion,
	}

	var apiResp anthropicResponse
	err := c.opts.Retry.Do(ctx, "anthropic completion", func(ctx context.Context, attempt int) error {
		c.logger.Debug().
			Str("model", c.opts.Model).
			Int("messages", len(msgs)).
			Int("attempt", attempt).
			Msg("Anthropic API request")
		return postJSON(ctx, c.http, "anthropic", c.opts.BaseURL+"/messages", headers, payload, &apiResp, anthropicErrorMessage)
	})
	if err != nil {
		c.logger.Error().Err(err).Msg("Anthropic API error")
		return Response{}, err
	}

	var b strings.Builder
	for _, part := range apiResp.Content {
		if part.Type == "text" {
			b.WriteString(part.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return Response{}, errors.New("empty response content")
	}
	c.logger.Debug().
		Str("stop_reason", apiResp.StopReason).
		Str("response_preview", truncateString(text, 200)).
		Msg("Anthropic API success")
	return Response{Text: text}, nil
}

func anthropicErrorMessage(data []byte) string {
	var e anthropicError
	if err := json.Unmarshal(data, &e); err != nil || e.Error == nil {
		return ""
	}
	return fmt.Sprintf("%s (type: %s)", e.Error.Message, e.Error.Type)
}
