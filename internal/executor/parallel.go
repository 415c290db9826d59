package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/basinworks/toolplane/internal/bundle"
	"github.com/basinworks/toolplane/internal/call"
	"github.com/basinworks/toolplane/internal/resilience"
)

// ExecuteParallel runs the requests concurrently with at most maxParallel
// in flight (zero or negative means the executor default). The result
// slice is in input order and always has one response per request.
func (e *Executor) ExecuteParallel(ctx context.Context, reqs []call.Request, maxParallel int) []call.Response {
	if len(reqs) == 0 {
		return nil
	}
	if maxParallel <= 0 {
		maxParallel = e.maxParallel
	}

	results := make([]call.Response, len(reqs))
	sem := make(chan struct{}, maxParallel)
	var wg sync.WaitGroup

	for i, req := range reqs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = e.Execute(ctx, req)
		}()
	}
	wg.Wait()
	return results
}

// ExecuteBundle runs a bundle's phases in order. A phase whose success
// policy is not met stops the bundle: later phases are skipped, completed
// phase results are kept, and skipped requests count against completeness.
// The returned error reports template problems only; execution failures
// land in the result.
func (e *Executor) ExecuteBundle(ctx context.Context, b bundle.Bundle) (bundle.Result, error) {
	if err := b.Validate(e.reg); err != nil {
		return bundle.Result{}, err
	}

	res := bundle.Result{Bundle: b.Name}
	requested := make([]string, 0, b.RequestCount())
	responses := make([]call.Response, 0, b.RequestCount())

	failedAt := -1
	for i, ph := range b.Phases {
		start := e.now()
		var phResponses []call.Response
		if ph.Sequential {
			phResponses = make([]call.Response, 0, len(ph.Requests))
			for _, req := range ph.Requests {
				phResponses = append(phResponses, e.Execute(ctx, req))
			}
		} else {
			phResponses = e.ExecuteParallel(ctx, ph.Requests, ph.MaxParallel)
		}

		succeeded := 0
		for _, r := range phResponses {
			if r.Success {
				succeeded++
			}
		}
		met := ph.Policy.Met(succeeded, len(ph.Requests))

		res.Phases = append(res.Phases, bundle.PhaseResult{
			Name:           ph.Name,
			Responses:      phResponses,
			Succeeded:      succeeded,
			PolicyMet:      met,
			DurationMillis: e.now().Sub(start).Milliseconds(),
		})
		for _, req := range ph.Requests {
			requested = append(requested, req.Tool)
		}
		responses = append(responses, phResponses...)

		if !met {
			res.FailedPhase = ph.Name
			failedAt = i
			e.log.Warn("bundle phase failed its success policy",
				"bundle", b.Name, "phase", ph.Name, "succeeded", succeeded, "requests", len(ph.Requests))
			break
		}
	}

	res.Completed = failedAt < 0
	if failedAt >= 0 {
		// Skipped requests are scored as failures so completeness reflects
		// the whole template, not just the phases that ran.
		for _, ph := range b.Phases[failedAt+1:] {
			for _, req := range ph.Requests {
				requested = append(requested, req.Tool)
				responses = append(responses, call.Response{
					Success: false,
					Error: &call.ErrorDetail{
						Type:    call.ErrorRetryable,
						Message: fmt.Sprintf("skipped: phase %s did not meet its success policy", res.FailedPhase),
					},
				})
			}
		}
	}

	res.Report = resilience.Assess(requested, responses)
	res.Completeness = res.Report.Completeness
	return res, nil
}
