package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/redisnotbluedev/llm-gateway/pkg/credential"
	"github.com/redisnotbluedev/llm-gateway/pkg/gwerrors"
	"github.com/redisnotbluedev/llm-gateway/pkg/provider"
)

// OpenAI adapts the canonical request/response to an OpenAI-compatible
// `/chat/completions` endpoint. Because the gateway's own wire format is
// already OpenAI's, this adapter is close to pass-through — grounded on
// original_source/src/providers/openai.py, whose adapter performs the same
// four steps: validate, translate, call, translate back.
type OpenAI struct {
	Name       string
	BaseURL    string
	HTTPClient *http.Client
}

// NewOpenAI builds an OpenAI-compatible adapter with the given base URL and timeout.
func NewOpenAI(name, baseURL string, timeout time.Duration) *OpenAI {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &OpenAI{
		Name:       name,
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type openaiChatRequest struct {
	Model       string              `json:"model"`
	Messages    []provider.Message  `json:"messages"`
	Temperature *float64            `json:"temperature,omitempty"`
	TopP        *float64            `json:"top_p,omitempty"`
	MaxTokens   *int                `json:"max_tokens,omitempty"`
	Stop        []string            `json:"stop,omitempty"`
}

type openaiChoice struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openaiChatResponse struct {
	Choices []openaiChoice `json:"choices"`
	Usage   openaiUsage    `json:"usage"`
	Error   *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// ChatCompletion implements provider.Adapter.
func (o *OpenAI) ChatCompletion(ctx context.Context, req provider.ChatRequest, modelID string, cred credential.Key) (provider.ChatResponse, error) {
	if len(req.Messages) == 0 {
		return provider.ChatResponse{}, gwerrors.NewValidationError(o.Name, "messages must not be empty")
	}

	body := openaiChatRequest{
		Model:       modelID,
		Messages:    req.Messages,
		Temperature: req.Params.Temperature,
		TopP:        req.Params.TopP,
		MaxTokens:   req.Params.MaxTokens,
		Stop:        req.Params.Stop,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return provider.ChatResponse{}, gwerrors.NewValidationError(o.Name, "failed to encode request: "+err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return provider.ChatResponse{}, gwerrors.NewTransportError(o.Name, "failed to build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if cred != "" {
		httpReq.Header.Set("Authorization", "Bearer "+string(cred))
	}

	start := time.Now()
	resp, err := o.HTTPClient.Do(httpReq)
	if err != nil {
		return provider.ChatResponse{}, gwerrors.NewTransportError(o.Name, "request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.ChatResponse{}, gwerrors.NewTransportError(o.Name, "failed to read response", err)
	}

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity {
		return provider.ChatResponse{}, gwerrors.NewValidationError(o.Name, fmt.Sprintf("upstream rejected request (status %d): %s", resp.StatusCode, string(raw)))
	}
	if resp.StatusCode >= 400 {
		return provider.ChatResponse{}, gwerrors.NewTransportError(o.Name, fmt.Sprintf("upstream status %d: %s", resp.StatusCode, string(raw)), nil)
	}

	var parsed openaiChatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return provider.ChatResponse{}, gwerrors.NewTransportError(o.Name, "failed to decode response", err)
	}
	if len(parsed.Choices) == 0 {
		return provider.ChatResponse{}, gwerrors.NewTransportError(o.Name, "upstream returned no choices", nil)
	}

	ttft := time.Since(start).Seconds()
	return provider.ChatResponse{
		Content:      parsed.Choices[0].Message.Content,
		FinishReason: parsed.Choices[0].FinishReason,
		Usage: provider.Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
		TTFT: ttft,
	}, nil
}

// NewOpenAIFactory adapts NewOpenAI into a provider.AdapterFactory for
// config-driven construction.
func NewOpenAIFactory() provider.AdapterFactory {
	return func(name string, raw map[string]interface{}) (provider.Adapter, error) {
		baseURL, _ := raw["base_url"].(string)
		if baseURL == "" {
			return nil, fmt.Errorf("openai provider %q: base_url is required", name)
		}
		timeout := 60 * time.Second
		if t, ok := raw["timeout"].(int); ok && t > 0 {
			timeout = time.Duration(t) * time.Second
		}
		return NewOpenAI(name, baseURL, timeout), nil
	}
}
