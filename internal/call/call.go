// Package call defines the request and response value types exchanged
// between the kernel and capability providers. Responses are immutable
// values: a failed call never surfaces as a Go error to the caller, it is
// always a Response with Success=false and a classified ErrorDetail.
package call

import "time"

// DetailLevel selects how much of a tool result is returned to the caller.
type DetailLevel string

// Supported detail levels, from most condensed to unmodified.
const (
	DetailSummary  DetailLevel = "summary"
	DetailStandard DetailLevel = "standard"
	DetailFull     DetailLevel = "full"
)

// Valid reports whether l is a known detail level.
func (l DetailLevel) Valid() bool {
	switch l {
	case DetailSummary, DetailStandard, DetailFull:
		return true
	default:
		return false
	}
}

// Request describes a single tool invocation.
type Request struct {
	// Tool is the name of the tool to invoke.
	Tool string `json:"tool" yaml:"tool"`

	// Args are the tool arguments. Keys are tool-specific.
	Args map[string]any `json:"args,omitempty" yaml:"args,omitempty"`

	// SessionID scopes the call to a session. Empty means session-less.
	SessionID string `json:"session_id,omitempty" yaml:"session_id,omitempty"`

	// Detail selects the output detail level. Empty means standard.
	Detail DetailLevel `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// Metadata records where and when a response was produced.
type Metadata struct {
	Provider       string    `json:"provider"`
	Timestamp      time.Time `json:"timestamp"`
	DurationMillis int64     `json:"duration_ms"`
}

// Response is the outcome of a single tool invocation.
type Response struct {
	Success bool         `json:"success"`
	Data    any          `json:"data,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
	Meta    Metadata     `json:"metadata"`
}

// Failure builds a failed Response carrying the given error detail.
func Failure(detail *ErrorDetail, meta Metadata) Response {
	return Response{Success: false, Error: detail, Meta: meta}
}

// OK builds a successful Response carrying data.
func OK(data any, meta Metadata) Response {
	return Response{Success: true, Data: data, Meta: meta}
}
