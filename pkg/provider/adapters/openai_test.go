package adapters

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redisnotbluedev/llm-gateway/pkg/gwerrors"
	"github.com/redisnotbluedev/llm-gateway/pkg/provider"
)

func TestOpenAI_ChatCompletion_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Write([]byte(`{"choices":[{"message":{"content":"hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":1,"total_tokens":4}}`))
	}))
	defer srv.Close()

	a := NewOpenAI("openai", srv.URL, 0)
	resp, err := a.ChatCompletion(context.Background(), provider.ChatRequest{
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
	}, "gpt-4", "sk-test")
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, 4, resp.Usage.TotalTokens)
}

func TestOpenAI_ChatCompletion_EmptyMessagesIsValidationError(t *testing.T) {
	a := NewOpenAI("openai", "http://unused", 0)
	_, err := a.ChatCompletion(context.Background(), provider.ChatRequest{}, "gpt-4", "")
	assert.True(t, gwerrors.IsValidation(err))
}

func TestOpenAI_ChatCompletion_Upstream400IsValidationError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"bad"}}`))
	}))
	defer srv.Close()

	a := NewOpenAI("openai", srv.URL, 0)
	_, err := a.ChatCompletion(context.Background(), provider.ChatRequest{
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
	}, "gpt-4", "")
	assert.True(t, gwerrors.IsValidation(err))
}

func TestOpenAI_ChatCompletion_Upstream500IsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`boom`))
	}))
	defer srv.Close()

	a := NewOpenAI("openai", srv.URL, 0)
	_, err := a.ChatCompletion(context.Background(), provider.ChatRequest{
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
	}, "gpt-4", "")
	assert.True(t, gwerrors.IsTransport(err))
}

func TestOpenAI_ChatCompletion_NoChoicesIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[],"usage":{}}`))
	}))
	defer srv.Close()

	a := NewOpenAI("openai", srv.URL, 0)
	_, err := a.ChatCompletion(context.Background(), provider.ChatRequest{
		Messages: []provider.Message{{Role: "user", Content: "hi"}},
	}, "gpt-4", "")
	assert.True(t, gwerrors.IsTransport(err))
}

func TestNewOpenAIFactory_RequiresBaseURL(t *testing.T) {
	factory := NewOpenAIFactory()
	_, err := factory("openai", map[string]interface{}{})
	assert.Error(t, err)

	adapter, err := factory("openai", map[string]interface{}{"base_url": "https://api.openai.com/v1"})
	require.NoError(t, err)
	assert.NotNil(t, adapter)
}
