package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mbd888/payroute/internal/retry"
)

const (
	openaiBaseURL = "https://api.openai.com/v1"
	openaiModel   = "gpt-5"
)

// OpenAIConfig configures an OpenAIClient.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	// Pricing per million tokens, used to fill Usage.CostUSD.
	InputPricePerM  float64
	OutputPricePerM float64
	Retry           retry.Policy
	HTTPClient      *http.Client
}

// OpenAIClient is an Oracle backed by the chat completions API. Reasoning
// effort and verbosity are sent as request parameters.
type OpenAIClient struct {
	cfg    OpenAIConfig
	client *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model               string        `json:"model"`
	Messages            []chatMessage `json:"messages"`
	ReasoningEffort     string        `json:"reasoning_effort,omitempty"`
	Verbosity           string        `json:"verbosity,omitempty"`
	MaxCompletionTokens int           `json:"max_completion_tokens,omitempty"`
	ResponseFormat      *struct {
		Type string `json:"type"`
	} `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
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

type openaiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// NewOpenAIClient creates a client. Empty BaseURL and Model use the public
// API and gpt-5.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = openaiBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = openaiModel
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &OpenAIClient{cfg: cfg, client: client}
}

func (c *OpenAIClient) Name() string { return "openai:" + c.cfg.Model }

// Complete sends p as a system and a user message. 429 and 5xx responses
// are retried; other API errors are not.
func (c *OpenAIClient) Complete(ctx context.Context, p Prompt) (Completion, error) {
	if c.cfg.APIKey == "" {
		return Completion{}, fmt.Errorf("%w: OPENAI_API_KEY not set", ErrNotConfigured)
	}

	req := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: p.System},
			{Role: "user", Content: p.User},
		},
		ReasoningEffort:     p.Effort.String(),
		Verbosity:           p.Verbosity.String(),
		MaxCompletionTokens: p.MaxTokens,
	}
	if strings.Contains(p.User, "single JSON object") {
		req.ResponseFormat = &struct {
			Type string `json:"type"`
		}{Type: "json_object"}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return Completion{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	var resp chatResponse
	err = retry.Do(ctx, c.cfg.Retry, func(ctx context.Context) error {
		return c.post(ctx, body, &resp)
	})
	if err != nil {
		return Completion{}, err
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return Completion{}, ErrEmptyCompletion
	}

	completionTokens.WithLabelValues(c.Name(), "prompt").Add(float64(resp.Usage.PromptTokens))
	completionTokens.WithLabelValues(c.Name(), "completion").Add(float64(resp.Usage.CompletionTokens))

	out := Completion{Text: resp.Choices[0].Message.Content}
	out.Usage.PromptTokens = resp.Usage.PromptTokens
	out.Usage.CompletionTokens = resp.Usage.CompletionTokens
	out.Usage.TotalTokens = resp.Usage.TotalTokens
	out.Usage.CostUSD = float64(resp.Usage.PromptTokens)/1e6*c.cfg.InputPricePerM +
		float64(resp.Usage.CompletionTokens)/1e6*c.cfg.OutputPricePerM
	return out, nil
}

func (c *OpenAIClient) post(ctx context.Context, body []byte, out *chatResponse) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr openaiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			err = fmt.Errorf("OpenAI API error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		} else {
			err = fmt.Errorf("OpenAI API error (%d): %s", resp.StatusCode, string(respBody))
		}
		// Retry on rate limit (429) or server errors (5xx)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return err
		}
		return retry.Permanent(err)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return retry.Permanent(fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}
