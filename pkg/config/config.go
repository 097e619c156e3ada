// Package config defines the YAML configuration schema and binds it into a
// running registry.Registry, grounded on original_source/src/registry.py's
// two-pass load_from_config (providers first, then models).
package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// StringOrSlice accepts either a bare string or a list of strings in YAML,
// normalizing to a slice. Several config.schema fields (api_keys, model_id)
// are documented as `string | [string]`.
type StringOrSlice []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *StringOrSlice) UnmarshalYAML(node *yaml.Node) error {
	var single string
	if err := node.Decode(&single); err == nil {
		if single == "" {
			*s = nil
			return nil
		}
		*s = StringOrSlice{single}
		return nil
	}
	var list []string
	if err := node.Decode(&list); err != nil {
		return fmt.Errorf("expected string or list of strings: %w", err)
	}
	*s = StringOrSlice(list)
	return nil
}

// RateLimits is the `<limit_key>: int|float` map keyed by rate-limit type
// and period, e.g. "requests_per_minute" or "tokens_per_day".
type RateLimits map[string]float64

// ProviderConfig is one entry of the top-level `providers` section.
type ProviderConfig struct {
	Type             string        `yaml:"type"`
	BaseURL          string        `yaml:"base_url"`
	Timeout          int           `yaml:"timeout"`
	APIKeys          StringOrSlice `yaml:"api_keys"`
	RateLimits       RateLimits    `yaml:"rate_limits"`
	CreditsGainPerMinute float64   `yaml:"credits_gain_per_minute"`
	CreditsGainPerHour   float64   `yaml:"credits_gain_per_hour"`
	CreditsGainPerDay    float64   `yaml:"credits_gain_per_day"`
	CreditsGainPerMonth  float64   `yaml:"credits_gain_per_month"`
	CreditsMaxPerMinute  float64   `yaml:"credits_max_per_minute"`
	CreditsMaxPerHour    float64   `yaml:"credits_max_per_hour"`
	CreditsMaxPerDay     float64   `yaml:"credits_max_per_day"`
	CreditsMaxPerMonth   float64   `yaml:"credits_max_per_month"`
}

// ModelProviderConfig is one entry of a model's `providers` map: the
// instance-level overrides layered on top of its ProviderConfig default.
type ModelProviderConfig struct {
	Priority int           `yaml:"priority"`
	ModelID  StringOrSlice `yaml:"model_id"`
	APIKeys  StringOrSlice `yaml:"api_keys"`

	RateLimits RateLimits `yaml:"rate_limits"`

	Multiplier         float64 `yaml:"multiplier"`
	TokenMultiplier    float64 `yaml:"token_multiplier"`
	InTokenMultiplier  float64 `yaml:"in_token_multiplier"`
	OutTokenMultiplier float64 `yaml:"out_token_multiplier"`
	RequestMultiplier  float64 `yaml:"request_multiplier"`

	CreditsPerToken            float64 `yaml:"credits_per_token"`
	CreditsPerMillionTokens    float64 `yaml:"credits_per_million_tokens"`
	CreditsPerInToken          float64 `yaml:"credits_per_in_token"`
	CreditsPerOutToken         float64 `yaml:"credits_per_out_token"`
	CreditsPerMillionInTokens  float64 `yaml:"credits_per_million_in_tokens"`
	CreditsPerMillionOutTokens float64 `yaml:"credits_per_million_out_tokens"`
	CreditsPerRequest          float64 `yaml:"credits_per_request"`

	MaxRetries int `yaml:"max_retries"`
}

// ModelConfig is one entry of the top-level `models` section.
type ModelConfig struct {
	Created   int64                          `yaml:"created"`
	OwnedBy   string                         `yaml:"owned_by"`
	Providers map[string]ModelProviderConfig `yaml:"providers"`
}

// Document is the root of the YAML configuration.
type Document struct {
	Providers map[string]ProviderConfig `yaml:"providers"`
	Models    map[string]ModelConfig    `yaml:"models"`
}

// Parse decodes a YAML document into a Document.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	return &doc, nil
}
