package config

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/redisnotbluedev/llm-gateway/pkg/credential"
	"github.com/redisnotbluedev/llm-gateway/pkg/model"
	"github.com/redisnotbluedev/llm-gateway/pkg/provider"
	"github.com/redisnotbluedev/llm-gateway/pkg/ratelimit"
	"github.com/redisnotbluedev/llm-gateway/pkg/registry"
)

// defaultKeyCooldownSeconds is the CredentialPool cooldown applied to every
// key, since the configuration schema does not expose one per key.
const defaultKeyCooldownSeconds = 30

// defaultMaxRetries is used when a model-provider binding omits max_retries.
const defaultMaxRetries = 3

// Build binds a parsed Document into a running registry.Registry, using
// factories to construct each provider's Adapter. Grounded on
// original_source/src/registry.py's load_from_config: providers are
// resolved first, models second, and an unknown provider type is a
// startup failure.
func Build(doc *Document, factories *provider.FactoryRegistry, log *logrus.Entry) (*registry.Registry, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	reg := registry.New(factories)

	modelIDs := sortedKeys(doc.Models)
	for _, modelID := range modelIDs {
		mc := doc.Models[modelID]

		providerNames := sortedModelProviderKeys(mc.Providers)
		instances := make([]*provider.Instance, 0, len(providerNames))

		for _, providerName := range providerNames {
			mpc := mc.Providers[providerName]
			pc, ok := doc.Providers[providerName]
			if !ok {
				return nil, fmt.Errorf("config: model %q references unknown provider %q", modelID, providerName)
			}

			inst, err := buildInstance(reg, providerName, pc, modelID, mpc, log)
			if err != nil {
				return nil, fmt.Errorf("config: model %q provider %q: %w", modelID, providerName, err)
			}
			reg.Breakers.Register(modelID+"/"+providerName, inst.Breaker)
			instances = append(instances, inst)
		}

		if len(instances) == 0 {
			return nil, fmt.Errorf("config: model %q has no providers", modelID)
		}

		reg.RegisterModel(model.New(modelID, mc.Created, mc.OwnedBy, instances))
	}

	return reg, nil
}

func buildInstance(reg *registry.Registry, providerName string, pc ProviderConfig, modelID string, mpc ModelProviderConfig, log *logrus.Entry) (*provider.Instance, error) {
	modelIDs := []string(mpc.ModelID)
	if len(modelIDs) == 0 {
		modelIDs = []string{modelID}
	}

	apiKeys := []string(mpc.APIKeys)
	if len(apiKeys) == 0 {
		apiKeys = []string(pc.APIKeys)
	}
	if len(apiKeys) == 0 {
		// No credential configured: a single null-credential slot still
		// carries the rate-limit/credit-balance accounting.
		apiKeys = []string{""}
	}

	cfg := resolveTrackerConfig(pc, mpc)

	keys := make([]credential.Key, 0, len(apiKeys))
	limiters := make(map[credential.Key]*ratelimit.Tracker, len(apiKeys))
	for _, raw := range apiKeys {
		k := credential.Key(raw)
		keys = append(keys, k)
		if raw == "" {
			limiters[k] = registry.PrivateTracker(cfg)
			continue
		}
		limiters[k] = reg.SharedTracker(k, cfg)
	}

	pool := credential.New(keys, limiters, defaultKeyCooldownSeconds,
		log.WithField("provider", providerName))

	maxRetries := mpc.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	adapter, err := buildAdapter(reg, providerName, pc)
	if err != nil {
		return nil, err
	}

	return provider.NewInstance(providerName, adapter, mpc.Priority, modelIDs, pool, maxRetries,
		log.WithField("provider", providerName)), nil
}

func buildAdapter(reg *registry.Registry, providerName string, pc ProviderConfig) (provider.Adapter, error) {
	raw := map[string]interface{}{
		"base_url": pc.BaseURL,
	}
	if pc.Timeout > 0 {
		raw["timeout"] = pc.Timeout
	}
	return reg.Factories().Build(pc.Type, providerName, raw)
}

// resolveTrackerConfig merges provider-level defaults with instance-level
// overrides (instance wins), then divides every numeric limit by its
// usage type's effective multiplier since counted items are inflated by
// that multiplier at record time.
func resolveTrackerConfig(pc ProviderConfig, mpc ModelProviderConfig) ratelimit.Config {
	base := mpc.Multiplier
	if base == 0 {
		base = 1
	}
	tokenMult := firstNonZero(mpc.TokenMultiplier, base)
	inTokenMult := firstNonZero(mpc.InTokenMultiplier, tokenMult)
	outTokenMult := firstNonZero(mpc.OutTokenMultiplier, tokenMult)
	requestMult := firstNonZero(mpc.RequestMultiplier, base)

	merged := make(map[ratelimit.LimitKey]float64)
	mergeRateLimits(merged, pc.RateLimits)
	mergeRateLimits(merged, mpc.RateLimits)

	limits := make(map[ratelimit.LimitKey]float64, len(merged))
	for key, bound := range merged {
		limits[key] = bound / divisorFor(key.Type, requestMult, tokenMult, inTokenMult, outTokenMult)
	}

	return ratelimit.Config{
		Limits:             limits,
		TokenMultiplier:    tokenMult,
		InTokenMultiplier:  inTokenMult,
		OutTokenMultiplier: outTokenMult,
		RequestMultiplier:  requestMult,

		CreditsPerToken:            mpc.CreditsPerToken,
		CreditsPerMillionTokens:    mpc.CreditsPerMillionTokens,
		CreditsPerInToken:          mpc.CreditsPerInToken,
		CreditsPerOutToken:         mpc.CreditsPerOutToken,
		CreditsPerMillionInTokens:  mpc.CreditsPerMillionInTokens,
		CreditsPerMillionOutTokens: mpc.CreditsPerMillionOutTokens,
		CreditsPerRequest:          mpc.CreditsPerRequest,

		CreditGainPerPeriod: creditPeriodMap(pc.CreditsGainPerMinute, pc.CreditsGainPerHour, pc.CreditsGainPerDay, pc.CreditsGainPerMonth),
		CreditMaxPerPeriod:  creditPeriodMap(pc.CreditsMaxPerMinute, pc.CreditsMaxPerHour, pc.CreditsMaxPerDay, pc.CreditsMaxPerMonth),
	}
}

func divisorFor(t ratelimit.UsageType, requestMult, tokenMult, inTokenMult, outTokenMult float64) float64 {
	switch t {
	case ratelimit.UsageRequests:
		return requestMult
	case ratelimit.UsageTokens:
		return tokenMult
	case ratelimit.UsageInTokens:
		return inTokenMult
	case ratelimit.UsageOutTokens:
		return outTokenMult
	default:
		return 1
	}
}

func mergeRateLimits(dst map[ratelimit.LimitKey]float64, src RateLimits) {
	for k, v := range src {
		key, ok := ratelimit.ParseLimitKey(k)
		if !ok {
			continue
		}
		dst[key] = v
	}
}

func creditPeriodMap(minute, hour, day, month float64) map[ratelimit.Period]float64 {
	m := make(map[ratelimit.Period]float64)
	if minute > 0 {
		m[ratelimit.PeriodMinute] = minute
	}
	if hour > 0 {
		m[ratelimit.PeriodHour] = hour
	}
	if day > 0 {
		m[ratelimit.PeriodDay] = day
	}
	if month > 0 {
		m[ratelimit.PeriodMonth] = month
	}
	return m
}

func firstNonZero(a, b float64) float64 {
	if a != 0 {
		return a
	}
	return b
}

func sortedKeys(m map[string]ModelConfig) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedModelProviderKeys(m map[string]ModelProviderConfig) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
