package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/basinworks/toolplane/internal/audit"
	"github.com/basinworks/toolplane/internal/bundle"
	"github.com/basinworks/toolplane/internal/call"
	"github.com/basinworks/toolplane/internal/confirm"
	"github.com/basinworks/toolplane/internal/permission"
	"github.com/basinworks/toolplane/internal/registry"
	"github.com/basinworks/toolplane/internal/resilience"
	"github.com/basinworks/toolplane/internal/session"
	"github.com/basinworks/toolplane/internal/shape"
)

// CallTool runs the full call pipeline for one request: session resolve,
// permission gate, audit, confirmation hold for guarded commands, cache,
// dispatch, and output shaping. It always returns a response; failures are
// classified, never raised.
func (k *Kernel) CallTool(ctx context.Context, req call.Request) call.Response {
	start := k.now()

	identity, err := k.identityFor(req.SessionID)
	if err != nil {
		return k.fail(req, "", start, err)
	}
	if req.SessionID != "" {
		k.sessions.Touch(req.SessionID)
	}

	k.auditor.LogRequest(audit.Entry{
		Tool:      req.Tool,
		Params:    req.Args,
		UserID:    identity.UserID,
		SessionID: req.SessionID,
		Role:      identity.Role,
	})

	desc, err := k.reg.Describe(req.Tool)
	if err != nil {
		resp := k.fail(req, "", start, err)
		k.audited(req, identity, resp)
		return resp
	}
	domain := k.domainOf(desc.Provider)

	decision := permission.Check(desc, domain, identity)
	if k.cfg.Auth.Enabled && !decision.Allowed {
		return k.denied(req, desc, identity, decision, start)
	}

	if desc.Kind == registry.KindCommand && desc.RequiresConfirmation {
		resp := k.hold(req, desc, start)
		k.audited(req, identity, resp)
		return resp
	}

	resp := k.dispatch(ctx, req, desc, domain)
	k.audited(req, identity, resp)
	return resp
}

// dispatch runs cache lookup, execution, shaping, session result storage,
// and metrics for an already-authorized request.
func (k *Kernel) dispatch(ctx context.Context, req call.Request, desc registry.Descriptor, domain string) call.Response {
	var key string
	if k.store != nil && desc.SideEffecting {
		derived, err := IdempotencyKey(req.Tool, req.Args, req.SessionID)
		if err != nil {
			k.log.Warn("idempotency key derivation failed", "tool", req.Tool, "error", err)
		} else {
			key = derived
			if cached, ok, cerr := k.store.Get(ctx, key); cerr != nil {
				k.log.Warn("cache lookup failed", "tool", req.Tool, "error", cerr)
			} else if ok {
				k.metrics.CallsTotal.WithLabelValues(desc.Provider, desc.Name, "cached").Inc()
				cached.Data = shape.Shape(cached.Data, domain, req.Detail)
				return cached
			}
		}
	}

	resp := k.exec.Execute(ctx, req)

	if resp.Success {
		// The cache holds the unshaped response so a replay can honor
		// whatever detail level the repeat request asks for.
		if key != "" {
			if err := k.store.Put(ctx, key, req.Tool, req.SessionID, resp); err != nil {
				k.log.Warn("caching response failed", "tool", req.Tool, "error", err)
			}
		}

		resp.Data = shape.Shape(resp.Data, domain, req.Detail)

		if req.SessionID != "" {
			if err := k.sessions.StoreResult(req.SessionID, req.Tool, resp); err != nil {
				k.log.Warn("storing session result failed", "tool", req.Tool, "error", err)
			}
		}
	}

	status := "ok"
	if !resp.Success {
		status = "error"
	}
	k.metrics.CallsTotal.WithLabelValues(desc.Provider, desc.Name, status).Inc()
	k.metrics.CallDuration.WithLabelValues(desc.Provider, desc.Name).
		Observe(float64(resp.Meta.DurationMillis) / 1000)

	return resp
}

// hold proposes a guarded command instead of executing it. The response
// succeeds and carries the action ID the caller must confirm.
func (k *Kernel) hold(req call.Request, desc registry.Descriptor, start time.Time) call.Response {
	action := k.gate.Propose(desc.Name, desc.Provider,
		fmt.Sprintf("%s via %s (side-effecting, requires confirmation)", desc.Name, desc.Provider), req)
	k.metrics.PendingActions.Set(float64(len(k.gate.Pending())))

	k.log.Info("command held for confirmation",
		"tool", desc.Name, "provider", desc.Provider, "action_id", action.ID)

	return call.OK(map[string]any{
		"status":      "pending_confirmation",
		"action_id":   action.ID,
		"tool":        action.Tool,
		"description": action.Description,
		"expires_at":  action.ExpiresAt,
	}, k.metadata(desc.Provider, start))
}

// ConfirmAction executes a held command exactly once. Unknown, expired,
// canceled, or already-confirmed actions produce a permanent failure
// without touching the provider.
func (k *Kernel) ConfirmAction(ctx context.Context, actionID string) call.Response {
	start := k.now()

	resp, err := k.gate.Confirm(ctx, actionID, func(ctx context.Context, req call.Request) call.Response {
		desc, derr := k.reg.Describe(req.Tool)
		if derr != nil {
			return k.fail(req, "", start, derr)
		}
		identity, ierr := k.identityFor(req.SessionID)
		if ierr != nil {
			return k.fail(req, desc.Provider, start, ierr)
		}
		out := k.dispatch(ctx, req, desc, k.domainOf(desc.Provider))
		k.audited(req, identity, out)
		return out
	})
	k.metrics.PendingActions.Set(float64(len(k.gate.Pending())))

	if err != nil {
		return call.Failure(&call.ErrorDetail{
			Type:    call.ErrorPermanent,
			Message: fmt.Sprintf("unknown or already-resolved action %s: %v", actionID, err),
			RecoverySteps: []string{
				"List pending actions to find a confirmable action ID",
				"Propose the command again if its confirmation window expired",
			},
		}, k.metadata("", start))
	}
	return resp
}

// CancelAction resolves a held command without executing it.
func (k *Kernel) CancelAction(actionID string) error {
	err := k.gate.Cancel(actionID)
	k.metrics.PendingActions.Set(float64(len(k.gate.Pending())))
	if err != nil && !errors.Is(err, confirm.ErrNotFound) {
		k.log.Info("cancel rejected", "action_id", actionID, "error", err)
	}
	return err
}

// ExecuteParallel runs requests through the full call pipeline with at
// most the configured number in flight. Results are in input order;
// denied or failed requests yield failure responses, never gaps.
func (k *Kernel) ExecuteParallel(ctx context.Context, reqs []call.Request) []call.Response {
	if len(reqs) == 0 {
		return nil
	}

	results := make([]call.Response, len(reqs))
	sem := make(chan struct{}, k.exec.MaxParallel())
	var wg sync.WaitGroup

	for i, req := range reqs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = k.CallTool(ctx, req)
		}()
	}
	wg.Wait()
	return results
}

// ExecuteBundle runs a registered bundle by name. Permission is checked
// per distinct tool before any phase runs: bundles execute all-or-nothing
// with respect to authorization.
func (k *Kernel) ExecuteBundle(ctx context.Context, name, sessionID string) (bundle.Result, error) {
	k.mu.RLock()
	b, ok := k.bundles[name]
	k.mu.RUnlock()
	if !ok {
		return bundle.Result{}, fmt.Errorf("kernel: bundle %q not found", name)
	}

	identity, err := k.identityFor(sessionID)
	if err != nil {
		return bundle.Result{}, err
	}
	if k.cfg.Auth.Enabled {
		if err := k.authorizeBundle(b, identity); err != nil {
			return bundle.Result{}, err
		}
	}

	k.auditor.LogRequest(audit.Entry{
		Tool:      "bundle:" + name,
		UserID:    identity.UserID,
		SessionID: sessionID,
		Role:      identity.Role,
	})

	if sessionID != "" {
		b = withSession(b, sessionID)
	}

	result, err := k.exec.ExecuteBundle(ctx, b)
	if err != nil {
		return bundle.Result{}, err
	}
	k.shapeBundle(&result, b)

	success := result.Completed
	k.auditor.LogResponse(audit.Entry{
		Tool:      "bundle:" + name,
		UserID:    identity.UserID,
		SessionID: sessionID,
		Role:      identity.Role,
		Success:   &success,
	})
	return result, nil
}

func (k *Kernel) authorizeBundle(b bundle.Bundle, identity session.Identity) error {
	seen := make(map[string]struct{})
	for _, ph := range b.Phases {
		for _, req := range ph.Requests {
			if _, done := seen[req.Tool]; done {
				continue
			}
			seen[req.Tool] = struct{}{}

			desc, err := k.reg.Describe(req.Tool)
			if err != nil {
				return err
			}
			decision := permission.Check(desc, k.domainOf(desc.Provider), identity)
			if !decision.Allowed {
				k.metrics.DenialsTotal.Inc()
				return fmt.Errorf("kernel: bundle %s denied: %s", b.Name, decision.Reason)
			}
		}
	}
	return nil
}

// shapeBundle applies per-request output shaping to successful responses.
func (k *Kernel) shapeBundle(result *bundle.Result, b bundle.Bundle) {
	for pi := range result.Phases {
		if pi >= len(b.Phases) {
			break
		}
		phase := b.Phases[pi]
		for ri := range result.Phases[pi].Responses {
			resp := &result.Phases[pi].Responses[ri]
			if !resp.Success || ri >= len(phase.Requests) {
				continue
			}
			domain := ""
			if desc, err := k.reg.Describe(phase.Requests[ri].Tool); err == nil {
				domain = k.domainOf(desc.Provider)
			}
			resp.Data = shape.Shape(resp.Data, domain, phase.Requests[ri].Detail)
		}
	}
}

func (k *Kernel) denied(req call.Request, desc registry.Descriptor, identity session.Identity, decision permission.Decision, start time.Time) call.Response {
	k.metrics.DenialsTotal.Inc()
	k.auditor.LogDenial(audit.Entry{
		Tool:      req.Tool,
		Params:    req.Args,
		UserID:    identity.UserID,
		SessionID: req.SessionID,
		Role:      identity.Role,
	})
	k.log.Info("call denied",
		"tool", req.Tool, "role", identity.Role, "required_role", decision.RequiredRole)

	return call.Failure(&call.ErrorDetail{
		Type:    call.ErrorAuthRequired,
		Message: decision.Reason,
		RecoverySteps: []string{
			fmt.Sprintf("Requires role %q or permissions %v", decision.RequiredRole, decision.RequiredPermissions),
			"Re-issue the call from a session with sufficient privileges",
		},
	}, k.metadata(desc.Provider, start))
}

// fail classifies an error into a failure response with timing metadata.
func (k *Kernel) fail(req call.Request, provider string, start time.Time, err error) call.Response {
	k.log.Warn("call rejected", "tool", req.Tool, "error", err)
	return call.Failure(resilience.Classify(err), k.metadata(provider, start))
}

// audited records the outcome of a dispatched call.
func (k *Kernel) audited(req call.Request, identity session.Identity, resp call.Response) {
	entry := audit.Entry{
		Tool:           req.Tool,
		Params:         req.Args,
		UserID:         identity.UserID,
		SessionID:      req.SessionID,
		Role:           identity.Role,
		Success:        &resp.Success,
		DurationMillis: &resp.Meta.DurationMillis,
	}
	if resp.Success {
		k.auditor.LogResponse(entry)
	} else {
		k.auditor.LogError(entry)
	}
}

func (k *Kernel) metadata(provider string, start time.Time) call.Metadata {
	now := k.now()
	return call.Metadata{
		Provider:       provider,
		Timestamp:      now,
		DurationMillis: now.Sub(start).Milliseconds(),
	}
}

// withSession stamps every request in the bundle with the session ID.
func withSession(b bundle.Bundle, sessionID string) bundle.Bundle {
	phases := make([]bundle.Phase, len(b.Phases))
	copy(phases, b.Phases)
	for pi := range phases {
		reqs := make([]call.Request, len(phases[pi].Requests))
		copy(reqs, phases[pi].Requests)
		for ri := range reqs {
			reqs[ri].SessionID = sessionID
		}
		phases[pi].Requests = reqs
	}
	b.Phases = phases
	return b
}
