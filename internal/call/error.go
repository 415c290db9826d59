package call

// ErrorType classifies a failure for recovery purposes.
type ErrorType string

// The four failure classes. Every failed Response carries exactly one.
const (
	// ErrorRetryable covers transient faults: timeouts, rate limits,
	// connection failures. Retrying after a delay is expected to help.
	ErrorRetryable ErrorType = "retryable"

	// ErrorPermanent covers faults that will not go away on retry:
	// validation failures, malformed arguments, schema mismatches.
	ErrorPermanent ErrorType = "permanent"

	// ErrorAuthRequired covers missing or rejected credentials.
	ErrorAuthRequired ErrorType = "auth_required"

	// ErrorUserAction covers faults the caller must resolve, such as
	// referencing data that does not exist.
	ErrorUserAction ErrorType = "user_action"
)

// ErrorDetail is the classified form of a failure, carrying actionable
// recovery guidance instead of a bare message or stack trace.
type ErrorDetail struct {
	Type             ErrorType `json:"type"`
	Message          string    `json:"message"`
	RecoverySteps    []string  `json:"recovery_steps,omitempty"`
	AlternativeTools []string  `json:"alternative_tools,omitempty"`

	// RetryAfterMillis suggests a retry delay. Zero for non-retryable types.
	RetryAfterMillis int64 `json:"retry_after_ms,omitempty"`
}
