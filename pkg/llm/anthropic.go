package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"go.uber.org/zap"

	"github.com/ekaya-inc/sanctions-engine/pkg/logging"
)

// DefaultAnthropicMaxTokens bounds ranking replies; a ranked index list is short.
const DefaultAnthropicMaxTokens = 512

// AnthropicConfig holds configuration for the Anthropic chat client.
type AnthropicConfig struct {
	APIKey    string
	Model     string
	BaseURL   string // Optional; empty uses the SDK default
	MaxTokens int
	Timeout   time.Duration
}

// AnthropicClient is a ChatClient backed by the Anthropic Messages API.
// It is an alternative ranker; embeddings always come from Client.
type AnthropicClient struct {
	client    *anthropic.Client
	model     string
	maxTokens int
	logger    *zap.Logger
}

// NewAnthropicClient creates an Anthropic chat client.
func NewAnthropicClient(cfg *AnthropicConfig, logger *zap.Logger) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("anthropic model is required")
	}

	var opts []anthropic.ClientOption
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, anthropic.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultAnthropicMaxTokens
	}

	return &AnthropicClient{
		client:    anthropic.NewClient(cfg.APIKey, opts...),
		model:     cfg.Model,
		maxTokens: maxTokens,
		logger:    logger.Named("llm-anthropic"),
	}, nil
}

// GenerateResponse implements ChatClient.
func (c *AnthropicClient) GenerateResponse(
	ctx context.Context,
	prompt string,
	systemMessage string,
	temperature float64,
) (*GenerateResponseResult, error) {
	temp := float32(temperature)
	start := time.Now()

	resp, err := c.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:       anthropic.Model(c.model),
		System:      systemMessage,
		MaxTokens:   c.maxTokens,
		Temperature: &temp,
		Messages: []anthropic.Message{
			{Role: anthropic.RoleUser, Content: []anthropic.MessageContent{
				{Type: "text", Text: &prompt},
			}},
		},
	})
	if err != nil {
		c.logger.Error("Anthropic request failed",
			zap.Duration("elapsed", time.Since(start)),
			zap.String("error", logging.SanitizeError(err)))
		llmErr := ClassifyError(wrapAnthropicError(err))
		llmErr.Model = c.model
		return nil, llmErr
	}

	content := textContent(resp)
	if content == "" {
		return nil, NewError(ErrorTypeResponse, "no text content in response", false, nil)
	}

	c.logger.Info("Anthropic request completed",
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
		zap.Duration("elapsed", time.Since(start)))

	return &GenerateResponseResult{
		Content:          content,
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}, nil
}

// GetModel implements ChatClient.
func (c *AnthropicClient) GetModel() string {
	return c.model
}

func textContent(resp anthropic.MessagesResponse) string {
	for _, block := range resp.Content {
		if block.Type == "text" && block.Text != nil {
			return *block.Text
		}
	}
	return ""
}

// anthropicStatusError exposes the SDK's status code to ClassifyError.
type anthropicStatusError struct {
	status int
	err    error
}

func (e *anthropicStatusError) Error() string       { return e.err.Error() }
func (e *anthropicStatusError) Unwrap() error       { return e.err }
func (e *anthropicStatusError) HTTPStatusCode() int { return e.status }

func wrapAnthropicError(err error) error {
	var reqErr *anthropic.RequestError
	if errors.As(err, &reqErr) && reqErr.StatusCode > 0 {
		return &anthropicStatusError{status: reqErr.StatusCode, err: err}
	}
	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.IsRateLimitErr():
			return &anthropicStatusError{status: http.StatusTooManyRequests, err: err}
		case apiErr.IsOverloadedErr(), apiErr.IsApiErr():
			return &anthropicStatusError{status: http.StatusServiceUnavailable, err: err}
		case apiErr.IsAuthenticationErr(), apiErr.IsPermissionErr():
			return &anthropicStatusError{status: http.StatusUnauthorized, err: err}
		}
	}
	return err
}
