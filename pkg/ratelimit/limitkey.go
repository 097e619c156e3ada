package ratelimit

import "fmt"

// UsageType is the dimension a limit counts against.
type UsageType string

const (
	UsageRequests  UsageType = "requests"
	UsageTokens    UsageType = "tokens"
	UsageInTokens  UsageType = "in_tokens"
	UsageOutTokens UsageType = "out_tokens"
	UsageCredits   UsageType = "credits"
)

// LimitKey identifies one configured bound: a usage type over a period,
// e.g. "requests_per_minute", matching the YAML config's limit-key grammar.
type LimitKey struct {
	Type   UsageType
	Period Period
}

func (k LimitKey) String() string {
	return fmt.Sprintf("%s_per_%s", k.Type, k.Period)
}

// ParseLimitKey parses a string like "requests_per_minute" into its LimitKey.
func ParseLimitKey(s string) (LimitKey, bool) {
	for _, t := range []UsageType{UsageRequests, UsageTokens, UsageInTokens, UsageOutTokens, UsageCredits} {
		for _, p := range []Period{PeriodMinute, PeriodHour, PeriodDay, PeriodMonth} {
			if s == fmt.Sprintf("%s_per_%s", t, p) {
				return LimitKey{Type: t, Period: p}, true
			}
		}
	}
	return LimitKey{}, false
}
