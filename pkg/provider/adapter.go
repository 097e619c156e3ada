// Package provider implements the ProviderAdapter contract and
// ProviderInstance: the binding of one adapter to one logical model with
// its own health and credential state.
package provider

import (
	"context"

	"github.com/redisnotbluedev/llm-gateway/pkg/credential"
)

// Message is one canonical chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Params carries the optional chat-completion knobs.
type Params struct {
	Temperature           *float64
	TopP                  *float64
	MaxTokens             *int
	MaxCompletionTokens   *int
	Stop                  []string
	Stream                bool
}

// ChatRequest is the canonical request an Adapter translates to native format.
type ChatRequest struct {
	Messages []Message
	Params   Params
}

// Usage mirrors the OpenAI usage substructure; zero values are tolerated
// when a provider omits them.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// ChatResponse is the canonical response an Adapter translates back from
// native format. TTFT is in seconds and zero means no value; the HTTP
// adapters set it to the elapsed time of the whole upstream call.
type ChatResponse struct {
	Content      string
	FinishReason string
	Usage        Usage
	TTFT         float64 // seconds
}

// Adapter is the provider-specific translator between canonical and native
// chat-completion wire formats. Implementations must return
// *gwerrors.ValidationError for request-shape rejections and any other
// error for transport/upstream failures.
type Adapter interface {
	ChatCompletion(ctx context.Context, req ChatRequest, modelID string, cred credential.Key) (ChatResponse, error)
}

// AdapterFactory builds an Adapter from its raw configuration. Keyed by the
// provider `type` string in the YAML schema: configuration-driven class
// dispatch becomes a registry of factories.
type AdapterFactory func(name string, raw map[string]interface{}) (Adapter, error)

// FactoryRegistry is the map of provider type string to AdapterFactory,
// mirroring original_source/src/registry.py's PROVIDER_CLASSES lookup.
type FactoryRegistry struct {
	factories map[string]AdapterFactory
}

// NewFactoryRegistry creates an empty registry.
func NewFactoryRegistry() *FactoryRegistry {
	return &FactoryRegistry{factories: make(map[string]AdapterFactory)}
}

// Register adds a factory under the given provider type string.
func (r *FactoryRegistry) Register(providerType string, factory AdapterFactory) {
	r.factories[providerType] = factory
}

// Build invokes the factory registered for providerType, or returns an
// error if the type is unknown — an unknown provider type is always a
// startup failure.
func (r *FactoryRegistry) Build(providerType, name string, raw map[string]interface{}) (Adapter, error) {
	factory, ok := r.factories[providerType]
	if !ok {
		return nil, &UnknownProviderTypeError{ProviderType: providerType}
	}
	return factory(name, raw)
}

// UnknownProviderTypeError is returned when configuration names a provider
// type with no registered factory.
type UnknownProviderTypeError struct {
	ProviderType string
}

func (e *UnknownProviderTypeError) Error() string {
	return "unknown provider type: " + e.ProviderType
}
