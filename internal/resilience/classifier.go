// Package resilience maps raw provider failures to classified error details
// with recovery guidance, and scores partial results for graceful
// degradation. Classification is pure pattern matching over the error text;
// the package holds no mutable state.
package resilience

import (
	"strings"

	"github.com/basinworks/toolplane/internal/call"
	"github.com/basinworks/toolplane/internal/registry"
)

// Suggested retry delays by failure pattern. Rate limits back off longest,
// plain connection faults shortest.
const (
	RetryAfterRateLimit  int64 = 30_000
	RetryAfterTimeout    int64 = 5_000
	RetryAfterConnection int64 = 2_000
)

// Pattern tables, checked in strict priority order:
// auth_required > user_action > retryable > permanent.
// An error matching nothing defaults to retryable; prefer retry over
// giving up.
var (
	authPatterns = []string{
		"unauthorized", "forbidden", "401", "403",
		"api key", "api-key", "apikey", "token expired", "token-expired",
		"invalid credentials", "authentication",
	}
	userActionPatterns = []string{
		"not found", "not-found", "missing data", "missing-data",
		"no data", "no-data",
	}
	rateLimitPatterns = []string{
		"rate limit", "rate-limit", "too many requests", "429",
	}
	timeoutPatterns = []string{
		"timeout", "timed out", "deadline exceeded", "503", "unavailable",
	}
	connectionPatterns = []string{
		"connection refused", "econnrefused", "connection reset",
		"network", "no such host", "broken pipe",
	}
	permanentPatterns = []string{
		"invalid", "validation", "schema", "malformed", "400", "bad request",
	}
)

// Recovery-step templates per classified type.
var recoverySteps = map[call.ErrorType][]string{
	call.ErrorAuthRequired: {
		"Verify credentials are configured for the provider",
		"Refresh or re-issue the access token",
		"Retry the call once authentication succeeds",
	},
	call.ErrorUserAction: {
		"Check that the referenced data exists and is spelled correctly",
		"Supply the missing input and call again",
	},
	call.ErrorRetryable: {
		"Wait for the suggested delay",
		"Retry the same call",
		"If the failure persists, try an alternative tool",
	},
	call.ErrorPermanent: {
		"Review the tool arguments against the tool schema",
		"Correct the request before calling again",
	},
}

// Classify maps a raw error to a classified ErrorDetail.
// A nil error classifies as retryable with an empty message, since callers
// only classify failures.
func Classify(err error) *call.ErrorDetail {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	lower := strings.ToLower(msg)

	switch {
	case matchesAny(lower, authPatterns):
		return detail(call.ErrorAuthRequired, msg, 0)
	case matchesAny(lower, userActionPatterns):
		return detail(call.ErrorUserAction, msg, 0)
	case matchesAny(lower, rateLimitPatterns):
		return detail(call.ErrorRetryable, msg, RetryAfterRateLimit)
	case matchesAny(lower, timeoutPatterns):
		return detail(call.ErrorRetryable, msg, RetryAfterTimeout)
	case matchesAny(lower, connectionPatterns):
		return detail(call.ErrorRetryable, msg, RetryAfterConnection)
	case matchesAny(lower, permanentPatterns):
		return detail(call.ErrorPermanent, msg, 0)
	default:
		return detail(call.ErrorRetryable, msg, RetryAfterTimeout)
	}
}

func detail(t call.ErrorType, msg string, retryAfter int64) *call.ErrorDetail {
	steps := recoverySteps[t]
	out := make([]string, len(steps))
	copy(out, steps)
	return &call.ErrorDetail{
		Type:             t,
		Message:          msg,
		RecoverySteps:    out,
		RetryAfterMillis: retryAfter,
	}
}

func matchesAny(lower string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Classifier augments classification with alternative-tool suggestions
// drawn from a static provider fallback map.
type Classifier struct {
	// Fallbacks maps a provider name to the provider to suggest when its
	// tools fail (e.g. a geology provider falls back to general research).
	Fallbacks map[string]string
}

// Alternatives returns the fallback provider's tools whose capability sets
// overlap the failed tool's capabilities. Results are tool names.
func (c *Classifier) Alternatives(failed registry.Descriptor, reg *registry.Registry) []string {
	if c == nil || reg == nil {
		return nil
	}
	fallback, ok := c.Fallbacks[failed.Provider]
	if !ok {
		return nil
	}
	descs, err := reg.DescribeTools(fallback)
	if err != nil {
		return nil
	}

	var names []string
	for _, d := range descs {
		if capabilityOverlap(failed.Capabilities, d.Capabilities) {
			names = append(names, d.Name)
		}
	}
	return names
}

func capabilityOverlap(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, capTok := range a {
		set[strings.ToLower(capTok)] = struct{}{}
	}
	for _, capTok := range b {
		if _, ok := set[strings.ToLower(capTok)]; ok {
			return true
		}
	}
	return false
}
