package resilience

import (
	"fmt"
	"sort"

	"github.com/basinworks/toolplane/internal/call"
)

// UsableThreshold is the completeness percentage at or above which a
// partial result set is still reported as useful.
const UsableThreshold = 50.0

// Report scores a batch of results for graceful degradation.
type Report struct {
	// Completeness is 100 * succeeded / requested.
	Completeness float64 `json:"completeness"`

	// Usable is true when Completeness >= UsableThreshold.
	Usable bool `json:"usable"`

	// Status is "complete", "partial", or "insufficient".
	Status string `json:"status"`

	// Missing lists the tool names whose calls failed.
	Missing []string `json:"missing,omitempty"`

	// Suggestions are actionable next steps for the caller.
	Suggestions []string `json:"suggestions,omitempty"`
}

// Assess computes a degradation report from a batch of responses.
// requested pairs tool names with responses by index; the two slices must
// be the same length.
func Assess(requested []string, responses []call.Response) Report {
	total := len(responses)
	if total == 0 {
		return Report{Completeness: 0, Usable: false, Status: "insufficient"}
	}

	var succeeded int
	failedProviders := make(map[string]struct{})
	var missing []string
	for i, resp := range responses {
		if resp.Success {
			succeeded++
			continue
		}
		if i < len(requested) {
			missing = append(missing, requested[i])
		}
		if resp.Meta.Provider != "" {
			failedProviders[resp.Meta.Provider] = struct{}{}
		}
	}

	completeness := 100 * float64(succeeded) / float64(total)
	report := Report{
		Completeness: completeness,
		Usable:       completeness >= UsableThreshold,
		Missing:      missing,
	}

	switch {
	case succeeded == total:
		report.Status = "complete"
	case report.Usable:
		report.Status = "partial"
		report.Suggestions = []string{
			fmt.Sprintf("Results are usable at %.0f%% completeness", completeness),
			"Retry the missing analyses individually to fill the gaps",
		}
	default:
		report.Status = "insufficient"
		providers := make([]string, 0, len(failedProviders))
		for p := range failedProviders {
			providers = append(providers, p)
		}
		sort.Strings(providers)
		suggestion := "Retry the failed calls before relying on this result"
		if len(providers) > 0 {
			suggestion = fmt.Sprintf("Retry the failed providers: %v", providers)
		}
		report.Suggestions = []string{
			fmt.Sprintf("Only %.0f%% of requested analyses completed", completeness),
			suggestion,
		}
	}
	return report
}
