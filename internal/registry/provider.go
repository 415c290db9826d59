// Package registry indexes capability providers and the tools they expose.
// It is pure lookup: registration happens once at kernel start, after which
// the registry is read-only and safe for concurrent use without coordination
// beyond its internal mutex.
package registry

import "context"

// Kind classifies how a tool behaves when invoked.
type Kind string

// Tool kinds.
const (
	// KindQuery tools are read-only and safe to run concurrently.
	KindQuery Kind = "query"

	// KindCommand tools have side effects and may require confirmation.
	KindCommand Kind = "command"

	// KindDiscovery tools are meta-operations answered by the kernel itself.
	KindDiscovery Kind = "discovery"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindQuery, KindCommand, KindDiscovery:
		return true
	default:
		return false
	}
}

// Descriptor describes a single tool exposed by a provider.
type Descriptor struct {
	// Name is the tool name, unique within its owning provider.
	Name string

	// Provider is the owning provider's name. Filled in by the registry
	// at registration time; providers may leave it empty.
	Provider string

	// Kind classifies the tool as query, command, or discovery.
	Kind Kind

	// Capabilities are free-form tokens describing what the tool can do,
	// used for capability discovery (substring match).
	Capabilities []string

	// DetailLevels lists the output detail levels the tool supports.
	// Empty means all levels.
	DetailLevels []string

	// SideEffecting marks tools that mutate external state.
	SideEffecting bool

	// RequiresConfirmation marks command tools that must pass through the
	// confirmation gate before executing.
	RequiresConfirmation bool
}

// Provider is a named source of tools. Implementations may be mocked
// analyses, file parsers, or real model calls; the kernel does not care
// what sits behind Invoke.
type Provider interface {
	// Name returns the unique provider name.
	Name() string

	// Domain returns the provider's domain label (e.g. "geology").
	Domain() string

	// Description returns a human-readable summary of the provider.
	Description() string

	// Tools returns the descriptors for every tool the provider exposes.
	Tools() []Descriptor

	// Invoke runs the named tool with the given arguments. It may return
	// an error or panic; the executor converts both into failed responses.
	Invoke(ctx context.Context, tool string, args map[string]any) (any, error)
}

// Info is a provider summary returned by discovery lookups.
type Info struct {
	Name        string `json:"name"`
	Domain      string `json:"domain"`
	Description string `json:"description"`
	ToolCount   int    `json:"tool_count"`
}
