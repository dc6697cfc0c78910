package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
)

const (
	envOpenAIAPIKey  = "OPENAI_API_KEY"
	envOpenAIModel   = "OPENAI_MODEL"
	envOpenAIBaseURL = "OPENAI_BASE_URL"

	defaultOpenAIModel = "gpt-3.5-turbo"
	openAIBaseURL      = "https://api.openai.com/v1"
)

type openAIClient struct {
	opts   Options
	http   *http.Client
	logger zerolog.Logger
}

type openAIPayload struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float32   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIError struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

func NewOpenAI(opts Options, logger zerolog.Logger) (Client, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("missing %s", envOpenAIAPIKey)
	}
	opts = opts.withDefaults(defaultOpenAIModel, openAIBaseURL, logger)
	return &openAIClient{
		opts:   opts,
		http:   &http.Client{Timeout: opts.Timeout},
		logger: logger,
	}, nil
}

func (c *openAIClient) Name() string {
	return c.opts.Model
}

func (c *openAIClient) Generate(ctx context.Context, req Request) (Response, error) {
	if err := sanitize(&req, c.logger); err != nil {
		return Response{}, err
	}

	// OpenAI takes the system prompt as the first message.
	messages := make([]Message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, Message{Role: "system", Content: req.System})
	}
	messages = append(messages, req.Messages...)

	payload := openAIPayload{
		Model:       c.opts.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   maxTokens(req.MaxTokens),
	}
	headers := map[string]string{"Authorization": "Bearer " + c.opts.APIKey}

	var apiResp openAIResponse
	err := c.opts.Retry.Do(ctx, "openai completion", func(ctx context.Context, attempt int) error {
		c.logger.Debug().
			Str("model", c.opts.Model).
			Int("messages", len(messages)).
			Int("attempt", attempt).
			Msg("OpenAI API request")
		return postJSON(ctx, c.http, "openai", c.opts.BaseURL+"/chat/completions", headers, payload, &apiResp, openAIErrorMessage)
	})
	if err != nil {
		c.logger.Error().Err(err).Msg("OpenAI API error")
		return Response{}, err
	}

	if len(apiResp.Choices) == 0 {
		return Response{}, errors.New("no choices in response")
	}
	choice := apiResp.Choices[0]
	if choice.Message.Content == "" {
		return Response{}, errors.New("empty response content")
	}

	c.logger.Debug().
		Str("finish_reason", choice.FinishReason).
		Int("prompt_tokens", apiResp.Usage.PromptTokens).
		Int("completion_tokens", apiResp.Usage.CompletionTokens).
		Str("response_preview", truncateString(choice.Message.Content, 200)).
		Msg("OpenAI API success")
	return Response{Text: choice.Message.Content}, nil
}

func openAIErrorMessage(data []byte) string {
	var e openAIError
	if err := json.Unmarshal(data, &e); err != nil || e.Error == nil {
		return ""
	}
	if e.Error.Type != "" {
		return fmt.Sprintf("%s (type: %s)", e.Error.Message, e.Error.Type)
	}
	return e.Error.Message
}
