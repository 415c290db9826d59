// Package shape trims tool results to a requested detail level. The
// field-selection maps are static per domain; unknown domains fall back to
// standard shaping. Shaping is pure: inputs are never mutated.
package shape

import (
	"fmt"
	"sort"
	"strings"

	"github.com/basinworks/toolplane/internal/call"
)

// summaryFields lists the most decision-relevant fields per domain,
// emitted at summary level. Every domain the kernel knows has an entry.
var summaryFields = map[string][]string{
	"geology":   {"formation", "net_pay_ft", "porosity", "confidence", "zone_count"},
	"decline":   {"eur_mboe", "initial_rate", "decline_rate", "b_factor"},
	"economics": {"npv_usd", "irr", "payback_months", "breakeven_price"},
	"risk":      {"risk_score", "risk_class", "top_risks", "confidence"},
	"ownership": {"tract_id", "net_acres", "working_interest", "owner_count"},
	"reporting": {"report_id", "title", "status"},
	"decision":  {"recommendation", "confidence", "npv_usd", "conditions"},
	"research":  {"topic", "summary", "source_count"},
}

// verboseFields lists per-domain fields dropped at standard level because
// they carry large raw series or exhaustive tables.
var verboseFields = map[string][]string{
	"geology":   {"raw_curves", "sample_points", "log_traces"},
	"decline":   {"rate_series", "monthly_volumes"},
	"economics": {"sensitivity_table", "cashflow_series", "price_deck"},
	"risk":      {"simulation_draws", "factor_matrix"},
	"ownership": {"chain_of_title", "document_scans"},
	"research":  {"raw_sources"},
}

// genericVerboseFields are dropped at standard level in every domain.
var genericVerboseFields = []string{"raw_samples", "raw_series", "debug"}

// Shape trims data for the given provider domain and detail level.
// Non-map data passes through untouched at every level; full always
// returns the input unmodified.
func Shape(data any, domain string, level call.DetailLevel) any {
	if level == "" {
		level = call.DetailStandard
	}
	if level == call.DetailFull {
		return data
	}

	m, ok := data.(map[string]any)
	if !ok {
		return data
	}

	switch level {
	case call.DetailSummary:
		fields, known := summaryFields[domain]
		if !known {
			return standard(m, domain)
		}
		return summarize(m, domain, fields)
	default:
		return standard(m, domain)
	}
}

func summarize(m map[string]any, domain string, fields []string) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for _, f := range fields {
		if v, ok := m[f]; ok {
			out[f] = v
		}
	}
	out["synthesis"] = synthesize(domain, out)
	return out
}

func standard(m map[string]any, domain string) map[string]any {
	drop := make(map[string]struct{})
	for _, f := range verboseFields[domain] {
		drop[f] = struct{}{}
	}
	for _, f := range genericVerboseFields {
		drop[f] = struct{}{}
	}

	out := make(map[string]any, len(m))
	for k, v := range m {
		if _, skip := drop[k]; skip {
			continue
		}
		out[k] = v
	}
	return out
}

// synthesize builds the one-sentence human-readable summary from the
// selected fields, in deterministic key order.
func synthesize(domain string, fields map[string]any) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s %v", strings.ReplaceAll(k, "_", " "), fields[k]))
	}
	if len(parts) == 0 {
		return fmt.Sprintf("No summary fields available for this %s result.", domain)
	}
	return fmt.Sprintf("Key %s findings: %s.", domain, strings.Join(parts, ", "))
}
