// Package session manages per-caller session state: identity, preferences,
// and a result store scoped to the session. Sessions are the unit of
// isolation: results stored under one session are never visible through
// another. Each session carries its own lock so concurrent phase execution
// against one session never serializes unrelated sessions.
package session

import (
	"time"

	"github.com/basinworks/toolplane/internal/call"
)

// Identity describes the caller bound to a session.
type Identity struct {
	UserID       string   `json:"user_id" yaml:"user_id"`
	Role         string   `json:"role" yaml:"role"`
	Permissions  []string `json:"permissions" yaml:"permissions"`
	Organization string   `json:"organization,omitempty" yaml:"organization,omitempty"`
}

// Session is a snapshot of one session's state, safe to hand to callers.
// Mutation goes through the Store, never through the snapshot.
type Session struct {
	ID           string         `json:"id"`
	Identity     Identity       `json:"identity"`
	Preferences  map[string]any `json:"preferences,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActivity time.Time      `json:"last_activity"`
	ResultKeys   []string       `json:"result_keys,omitempty"`
}

// Context is the injected call context derived from a session, given to
// providers so tools can see who is asking.
type Context struct {
	UserID              string         `json:"user_id"`
	Role                string         `json:"role"`
	SessionID           string         `json:"session_id"`
	Timestamp           time.Time      `json:"timestamp"`
	Timezone            string         `json:"timezone"`
	Preferences         map[string]any `json:"preferences,omitempty"`
	AvailableResultKeys []string       `json:"available_result_keys,omitempty"`
}

// entry is the mutable, store-owned form of a session.
type entry struct {
	id           string
	identity     Identity
	preferences  map[string]any
	results      map[string]call.Response
	createdAt    time.Time
	lastActivity time.Time
}
