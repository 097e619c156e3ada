// Package adapters provides concrete ProviderAdapter implementations: a
// deterministic mock/echo adapter for tests and end-to-end scenarios, and
// HTTP-backed adapters for OpenAI-compatible and Anthropic upstreams.
package adapters

import (
	"context"

	"github.com/redisnotbluedev/llm-gateway/pkg/credential"
	"github.com/redisnotbluedev/llm-gateway/pkg/gwerrors"
	"github.com/redisnotbluedev/llm-gateway/pkg/provider"
)

// MockBehavior controls what a Mock adapter does on each call.
type MockBehavior int

const (
	// MockEcho returns the last user message's content as the completion.
	MockEcho MockBehavior = iota
	// MockAlwaysTransportError always fails with a TransportError (simulates upstream 5xx).
	MockAlwaysTransportError
	// MockAlwaysValidationError always fails with a ValidationError.
	MockAlwaysValidationError
)

// Mock is a configurable in-process adapter used by tests and local
// single-provider happy-path runs.
type Mock struct {
	Name     string
	Behavior MockBehavior
	// StatusMessage, when set, is used verbatim in the simulated failure message.
	StatusMessage string
}

// NewMock builds a Mock adapter with the given name and behavior.
func NewMock(name string, behavior MockBehavior) *Mock {
	return &Mock{Name: name, Behavior: behavior}
}

// ChatCompletion implements provider.Adapter.
func (m *Mock) ChatCompletion(_ context.Context, req provider.ChatRequest, modelID string, _ credential.Key) (provider.ChatResponse, error) {
	switch m.Behavior {
	case MockAlwaysValidationError:
		msg := m.StatusMessage
		if msg == "" {
			msg = "request rejected by mock adapter"
		}
		return provider.ChatResponse{}, gwerrors.NewValidationError(m.Name, msg)
	case MockAlwaysTransportError:
		msg := m.StatusMessage
		if msg == "" {
			msg = "simulated upstream 500"
		}
		return provider.ChatResponse{}, gwerrors.NewTransportError(m.Name, msg, nil)
	default:
		var last string
		for _, msg := range req.Messages {
			if msg.Role == "user" {
				last = msg.Content
			}
		}
		return provider.ChatResponse{
			Content:      last,
			FinishReason: "stop",
			Usage: provider.Usage{
				PromptTokens:     estimateTokens(req.Messages),
				CompletionTokens: estimateTokenCount(last),
				TotalTokens:      estimateTokens(req.Messages) + estimateTokenCount(last),
			},
			TTFT: 0.05,
		}, nil
	}
}

func estimateTokens(msgs []provider.Message) int {
	total := 0
	for _, m := range msgs {
		total += estimateTokenCount(m.Content)
	}
	return total
}

func estimateTokenCount(s string) int {
	if s == "" {
		return 0
	}
	n := len(s) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// NewMockFactory adapts NewMock into a provider.AdapterFactory for registration
// under a config-driven provider type (used by tests that exercise the
// factory-registry / unknown-type-is-a-startup-failure path).
func NewMockFactory() provider.AdapterFactory {
	return func(name string, raw map[string]interface{}) (provider.Adapter, error) {
		behavior := MockEcho
		if b, ok := raw["behavior"].(string); ok {
			switch b {
			case "transport_error":
				behavior = MockAlwaysTransportError
			case "validation_error":
				behavior = MockAlwaysValidationError
			}
		}
		return NewMock(name, behavior), nil
	}
}
