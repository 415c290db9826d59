// Package bundle defines declarative multi-phase workflow templates.
// A bundle is an ordered list of phases; each phase is a set of tool
// requests that may run concurrently. Bundles are immutable templates;
// executing one never mutates the template.
package bundle

import (
	"errors"
	"fmt"

	"github.com/basinworks/toolplane/internal/call"
	"github.com/basinworks/toolplane/internal/registry"
	"github.com/basinworks/toolplane/internal/resilience"
)

// SuccessPolicy decides whether a phase outcome allows later phases to run.
type SuccessPolicy string

// Success policies.
const (
	// PolicyAll requires every request in the phase to succeed.
	PolicyAll SuccessPolicy = "all"

	// PolicyMajority requires more than half of the requests to succeed.
	PolicyMajority SuccessPolicy = "majority"
)

// Valid reports whether p is a known policy.
func (p SuccessPolicy) Valid() bool {
	return p == PolicyAll || p == PolicyMajority
}

// Met reports whether the policy is satisfied by succeeded-of-total.
func (p SuccessPolicy) Met(succeeded, total int) bool {
	if total == 0 {
		return true
	}
	switch p {
	case PolicyMajority:
		return succeeded*2 > total
	default:
		return succeeded == total
	}
}

// Phase is a set of requests that may run concurrently, with a concurrency
// and success policy. Requests within a phase must be independent of each
// other; cross-phase data flow is expressed by phase ordering.
type Phase struct {
	Name string `yaml:"name"`

	// Requests are the tool calls in this phase.
	Requests []call.Request `yaml:"requests"`

	// Sequential forces one-at-a-time execution within the phase.
	Sequential bool `yaml:"sequential,omitempty"`

	// MaxParallel bounds in-flight calls for this phase. Zero means the
	// executor default.
	MaxParallel int `yaml:"max_parallel,omitempty"`

	// Policy is the success policy. Empty means all-required.
	Policy SuccessPolicy `yaml:"policy,omitempty"`
}

// Bundle is an ordered sequence of phases forming a workflow.
type Bundle struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description,omitempty"`
	Phases      []Phase `yaml:"phases"`
}

// PhaseResult is the outcome of one executed phase.
type PhaseResult struct {
	Name           string          `json:"name"`
	Responses      []call.Response `json:"responses"`
	Succeeded      int             `json:"succeeded"`
	PolicyMet      bool            `json:"policy_met"`
	DurationMillis int64           `json:"duration_ms"`
}

// Result is the outcome of a bundle execution. Already-completed phase
// results are always present, even when a later phase was skipped.
type Result struct {
	Bundle       string            `json:"bundle"`
	Phases       []PhaseResult     `json:"phases"`
	Completed    bool              `json:"completed"`
	FailedPhase  string            `json:"failed_phase,omitempty"`
	Completeness float64           `json:"completeness"`
	Report       resilience.Report `json:"report"`
}

// Validation errors.
var (
	ErrEmptyBundle     = errors.New("bundle has no phases")
	ErrEmptyPhase      = errors.New("phase has no requests")
	ErrInvalidPolicy   = errors.New("invalid success policy")
	ErrMixedCommand    = errors.New("phase mixing a command tool with other requests")
	ErrUnresolvedTool  = errors.New("bundle references unknown tool")
	ErrDuplicateBundle = errors.New("bundle already defined")
)

// Validate checks the bundle against the registry: every tool must resolve,
// policies must be valid, and any phase containing a command tool must be a
// single-request sequential phase so side effects never run concurrently.
func (b Bundle) Validate(reg *registry.Registry) error {
	if len(b.Phases) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyBundle, b.Name)
	}
	for _, ph := range b.Phases {
		if len(ph.Requests) == 0 {
			return fmt.Errorf("%w: %s/%s", ErrEmptyPhase, b.Name, ph.Name)
		}
		if ph.Policy != "" && !ph.Policy.Valid() {
			return fmt.Errorf("%w: %s/%s policy %q", ErrInvalidPolicy, b.Name, ph.Name, ph.Policy)
		}

		hasCommand := false
		for _, req := range ph.Requests {
			d, err := reg.Describe(req.Tool)
			if err != nil {
				return fmt.Errorf("%w: %s in bundle %s", ErrUnresolvedTool, req.Tool, b.Name)
			}
			if d.Kind == registry.KindCommand {
				hasCommand = true
			}
		}
		if hasCommand && (len(ph.Requests) > 1 || !ph.Sequential) {
			return fmt.Errorf("%w: %s/%s", ErrMixedCommand, b.Name, ph.Name)
		}
	}
	return nil
}

// RequestCount returns the total number of requests across all phases.
func (b Bundle) RequestCount() int {
	var n int
	for _, ph := range b.Phases {
		n += len(ph.Requests)
	}
	return n
}
