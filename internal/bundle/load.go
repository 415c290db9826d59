package bundle

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/basinworks/toolplane/internal/call"
)

// file is the YAML document shape for bundle template files.
type file struct {
	Bundles []Bundle `yaml:"bundles"`
}

// Load reads bundle templates from a YAML file. Names must be unique
// within the file.
func Load(path string) ([]Bundle, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bundle: reading %s: %w", path, err)
	}

	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("bundle: parsing %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(f.Bundles))
	for _, b := range f.Bundles {
		if b.Name == "" {
			return nil, fmt.Errorf("bundle: unnamed bundle in %s", path)
		}
		if _, dup := seen[b.Name]; dup {
			return nil, fmt.Errorf("%w: %s in %s", ErrDuplicateBundle, b.Name, path)
		}
		seen[b.Name] = struct{}{}
	}
	return f.Bundles, nil
}

// Builtin returns the prebuilt workflow templates shipped with the kernel,
// modeled on the tract-evaluation pipeline: geology and ownership first,
// then decline and economics, then risk, then the final report.
func Builtin() []Bundle {
	return []Bundle{
		{
			Name:        "tract_eval",
			Description: "Complete tract evaluation from geology to investment report",
			Phases: []Phase{
				{
					Name:   "site_assessment",
					Policy: PolicyAll,
					Requests: []call.Request{
						{Tool: "analyze_formation", Detail: call.DetailStandard},
						{Tool: "trace_ownership", Detail: call.DetailStandard},
					},
				},
				{
					Name:   "forecasting",
					Policy: PolicyAll,
					Requests: []call.Request{
						{Tool: "fit_decline_curve", Detail: call.DetailStandard},
						{Tool: "run_valuation", Detail: call.DetailStandard},
					},
				},
				{
					Name:   "risk_review",
					Policy: PolicyMajority,
					Requests: []call.Request{
						{Tool: "score_risk", Detail: call.DetailStandard},
					},
				},
				{
					Name:       "reporting",
					Sequential: true,
					Policy:     PolicyAll,
					Requests: []call.Request{
						{Tool: "compose_report", Detail: call.DetailFull},
					},
				},
			},
		},
		{
			Name:        "quick_screen",
			Description: "Fast screen: geology and economics summaries only",
			Phases: []Phase{
				{
					Name:   "screen",
					Policy: PolicyMajority,
					Requests: []call.Request{
						{Tool: "analyze_formation", Detail: call.DetailSummary},
						{Tool: "run_valuation", Detail: call.DetailSummary},
						{Tool: "score_risk", Detail: call.DetailSummary},
					},
				},
			},
		},
	}
}
