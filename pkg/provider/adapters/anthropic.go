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

// Anthropic adapts the canonical chat request/response to Anthropic's
// Messages API, which splits out system prompts and uses a distinct usage
// field naming. Grounded on the shape of
// pkg/messages/providers/converter.go's Converter interface (ToProviderFormat
// / FromProviderFormat) and on the generic adapter contract of
// original_source/src/providers/base.py.
type Anthropic struct {
	Name       string
	BaseURL    string
	APIVersion string
	HTTPClient *http.Client
}

// NewAnthropic builds an Anthropic Messages API adapter.
func NewAnthropic(name, baseURL string, timeout time.Duration) *Anthropic {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Anthropic{
		Name:       name,
		BaseURL:    baseURL,
		APIVersion: "2023-06-01",
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string              `json:"model"`
	System      string              `json:"system,omitempty"`
	Messages    []anthropicMessage  `json:"messages"`
	MaxTokens   int                 `json:"max_tokens"`
	Temperature *float64            `json:"temperature,omitempty"`
	TopP        *float64            `json:"top_p,omitempty"`
	StopSequences []string          `json:"stop_sequences,omitempty"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      anthropicUsage          `json:"usage"`
	Error      *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// toProviderFormat splits the canonical message list into a system prompt
// plus a user/assistant turn sequence, the shape Anthropic's API requires.
func toProviderFormat(messages []provider.Message) (string, []anthropicMessage) {
	var system string
	var turns []anthropicMessage
	for _, m := range messages {
		if m.Role == "system" {
			if system != "" {
				system += "\n"
			}
			system += m.Content
			continue
		}
		turns = append(turns, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	return system, turns
}

func finishReasonFromStopReason(stopReason string) string {
	switch stopReason {
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return stopReason
	}
}

// ChatCompletion implements provider.Adapter.
func (a *Anthropic) ChatCompletion(ctx context.Context, req provider.ChatRequest, modelID string, cred credential.Key) (provider.ChatResponse, error) {
	if len(req.Messages) == 0 {
		return provider.ChatResponse{}, gwerrors.NewValidationError(a.Name, "messages must not be empty")
	}

	system, turns := toProviderFormat(req.Messages)
	if len(turns) == 0 {
		return provider.ChatResponse{}, gwerrors.NewValidationError(a.Name, "at least one user/assistant message is required")
	}

	maxTokens := 1024
	if req.Params.MaxTokens != nil {
		maxTokens = *req.Params.MaxTokens
	} else if req.Params.MaxCompletionTokens != nil {
		maxTokens = *req.Params.MaxCompletionTokens
	}

	body := anthropicRequest{
		Model:         modelID,
		System:        system,
		Messages:      turns,
		MaxTokens:     maxTokens,
		Temperature:   req.Params.Temperature,
		TopP:          req.Params.TopP,
		StopSequences: req.Params.Stop,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return provider.ChatResponse{}, gwerrors.NewValidationError(a.Name, "failed to encode request: "+err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return provider.ChatResponse{}, gwerrors.NewTransportError(a.Name, "failed to build request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("anthropic-version", a.APIVersion)
	if cred != "" {
		httpReq.Header.Set("x-api-key", string(cred))
	}

	start := time.Now()
	resp, err := a.HTTPClient.Do(httpReq)
	if err != nil {
		return provider.ChatResponse{}, gwerrors.NewTransportError(a.Name, "request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.ChatResponse{}, gwerrors.NewTransportError(a.Name, "failed to read response", err)
	}

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity {
		return provider.ChatResponse{}, gwerrors.NewValidationError(a.Name, fmt.Sprintf("upstream rejected request (status %d): %s", resp.StatusCode, string(raw)))
	}
	if resp.StatusCode >= 400 {
		return provider.ChatResponse{}, gwerrors.NewTransportError(a.Name, fmt.Sprintf("upstream status %d: %s", resp.StatusCode, string(raw)), nil)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return provider.ChatResponse{}, gwerrors.NewTransportError(a.Name, "failed to decode response", err)
	}

	var text string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	ttft := time.Since(start).Seconds()
	return provider.ChatResponse{
		Content:      text,
		FinishReason: finishReasonFromStopReason(parsed.StopReason),
		Usage: provider.Usage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
			TotalTokens:      parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		},
		TTFT: ttft,
	}, nil
}

// NewAnthropicFactory adapts NewAnthropic into a provider.AdapterFactory.
func NewAnthropicFactory() provider.AdapterFactory {
	return func(name string, raw map[string]interface{}) (provider.Adapter, error) {
		baseURL, _ := raw["base_url"].(string)
		timeout := 60 * time.Second
		if t, ok := raw["timeout"].(int); ok && t > 0 {
			timeout = time.Duration(t) * time.Second
		}
		return NewAnthropic(name, baseURL, timeout), nil
	}
}
