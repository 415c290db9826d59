// Package audit writes append-only structured audit entries as JSONL,
// one segment per UTC calendar day, with secret parameters redacted before
// serialization. A logging failure never fails the underlying tool call:
// the logger reports it through slog and moves on.
package audit

import (
	"encoding/json"
	"log/slog"
	"time"
)

// Action categorizes audit entries.
type Action string

// Audit actions covering the full call path.
const (
	ActionRequest  Action = "request"
	ActionResponse Action = "response"
	ActionError    Action = "error"
	ActionDenied   Action = "denied"
)

// Entry is a single audit record. Params are redacted by the logger before
// serialization; callers pass them raw.
type Entry struct {
	Tool           string         `json:"tool"`
	Action         Action         `json:"action"`
	Params         map[string]any `json:"parameters,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
	SessionID      string         `json:"session_id,omitempty"`
	Role           string         `json:"role,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	Success        *bool          `json:"success,omitempty"`
	DurationMillis *int64         `json:"duration_ms,omitempty"`
}

// LoggerConfig configures the audit logger.
type LoggerConfig struct {
	// Enabled turns auditing on. When false every log call is a no-op.
	Enabled bool

	// Sink receives serialized records. Required when Enabled.
	Sink Sink

	// Log receives operational errors (sink failures). Nil means
	// slog.Default.
	Log *slog.Logger

	// OnEntry, if non-nil, is called with every redacted entry (tests).
	OnEntry func(Entry)

	// Now overrides time.Now for testing.
	Now func() time.Time
}

// Logger writes audit entries. Safe for concurrent use; record-level
// atomicity is delegated to the sink.
type Logger struct {
	enabled bool
	sink    Sink
	log     *slog.Logger
	onEntry func(Entry)
	now     func() time.Time
}

// NewLogger creates an audit logger from the given configuration.
func NewLogger(cfg LoggerConfig) *Logger {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Logger{
		enabled: cfg.Enabled,
		sink:    cfg.Sink,
		log:     log.With("component", "audit"),
		onEntry: cfg.OnEntry,
		now:     now,
	}
}

// Disabled returns a logger whose log calls are all no-ops.
func Disabled() *Logger {
	return NewLogger(LoggerConfig{Enabled: false})
}

// LogRequest records a tool call about to be dispatched.
func (l *Logger) LogRequest(e Entry) { l.write(ActionRequest, e) }

// LogResponse records a successful tool response.
func (l *Logger) LogResponse(e Entry) { l.write(ActionResponse, e) }

// LogError records a failed tool call.
func (l *Logger) LogError(e Entry) { l.write(ActionError, e) }

// LogDenial records a permission denial. No handler was invoked.
func (l *Logger) LogDenial(e Entry) { l.write(ActionDenied, e) }

func (l *Logger) write(action Action, e Entry) {
	if !l.enabled {
		return
	}

	e.Action = action
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}
	e.Params = RedactParams(e.Params)

	if l.onEntry != nil {
		l.onEntry(e)
	}
	if l.sink == nil {
		return
	}

	record, err := json.Marshal(e)
	if err != nil {
		l.log.Error("audit entry serialization failed", "tool", e.Tool, "error", err)
		return
	}

	day := e.Timestamp.UTC().Format("2006-01-02")
	if err := l.sink.Append(day, record); err != nil {
		// Log-and-continue: an audit failure must never fail the call.
		l.log.Error("audit append failed", "day", day, "error", err)
	}
}
