package kernel

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// IdempotencyKey derives a stable key for a tool call from its name,
// arguments, and session. Identical inputs always produce the same key:
// JSON marshaling sorts map keys at every nesting level, so argument
// order never matters.
func IdempotencyKey(tool string, args map[string]any, sessionID string) (string, error) {
	canonical := struct {
		Tool      string         `json:"tool"`
		Args      map[string]any `json:"args"`
		SessionID string         `json:"session_id"`
	}{Tool: tool, Args: args, SessionID: sessionID}

	raw, err := json.Marshal(canonical)
	if err != nil {
		return "", fmt.Errorf("kernel: canonicalize call: %w", err)
	}

	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
