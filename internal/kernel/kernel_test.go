package kernel

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/basinworks/toolplane/internal/audit"
	"github.com/basinworks/toolplane/internal/bundle"
	"github.com/basinworks/toolplane/internal/call"
	"github.com/basinworks/toolplane/internal/config"
	"github.com/basinworks/toolplane/internal/registry"
	"github.com/basinworks/toolplane/internal/session"
)

type kernelTestProvider struct {
	name    string
	domain  string
	tools   []registry.Descriptor
	handler func(ctx context.Context, tool string, args map[string]any) (any, error)
}

func (p *kernelTestProvider) Name() string                 { return p.name }
func (p *kernelTestProvider) Domain() string               { return p.domain }
func (p *kernelTestProvider) Description() string          { return p.name }
func (p *kernelTestProvider) Tools() []registry.Descriptor { return p.tools }
func (p *kernelTestProvider) Invoke(ctx context.Context, tool string, args map[string]any) (any, error) {
	if p.handler == nil {
		return map[string]any{"tool": tool}, nil
	}
	return p.handler(ctx, tool, args)
}

func geologyProvider(calls *atomic.Int32) *kernelTestProvider {
	return &kernelTestProvider{
		name: "geowiz", domain: "geology",
		tools: []registry.Descriptor{
			{Name: "analyze_formation", Kind: registry.KindQuery, Capabilities: []string{"geology"}},
		},
		handler: func(context.Context, string, map[string]any) (any, error) {
			if calls != nil {
				calls.Add(1)
			}
			return map[string]any{
				"formation":  "Wolfcamp A",
				"net_pay_ft": 180,
				"porosity":   0.08,
				"confidence": 0.82,
				"zone_count": 3,
				"raw_curves": []any{1.0, 2.0},
			}, nil
		},
	}
}

func decisionProvider() *kernelTestProvider {
	return &kernelTestProvider{
		name: "the-core", domain: "decision",
		tools: []registry.Descriptor{
			{Name: "make_decision", Kind: registry.KindCommand, SideEffecting: true},
		},
	}
}

func newTestKernel(t *testing.T, cfg config.Config, providers ...registry.Provider) *Kernel {
	t.Helper()

	reg := registry.New()
	for _, p := range providers {
		reg.MustRegister(p)
	}

	k, err := New(Options{
		Config:    cfg,
		Registry:  reg,
		AuditSink: audit.NewMemorySink(),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return k
}

func baseConfig() config.Config {
	cfg := config.Default()
	cfg.Audit.Enabled = true
	cfg.Sweep.Enabled = false
	return cfg
}

func TestCallTool_QueryShapedBySummaryLevel(t *testing.T) {
	t.Parallel()

	k := newTestKernel(t, baseConfig(), geologyProvider(nil))

	resp := k.CallTool(context.Background(), call.Request{
		Tool:   "analyze_formation",
		Detail: call.DetailSummary,
	})
	if !resp.Success {
		t.Fatalf("error = %+v", resp.Error)
	}
	data, ok := resp.Data.(map[string]any)
	if !ok {
		t.Fatalf("data = %T", resp.Data)
	}
	if _, hasRaw := data["raw_curves"]; hasRaw {
		t.Fatal("summary output must not include verbose fields")
	}
	if s, _ := data["synthesis"].(string); !strings.Contains(s, "geology") {
		t.Fatalf("synthesis = %v", data["synthesis"])
	}
	if resp.Meta.Provider != "geowiz" {
		t.Fatalf("provider = %q", resp.Meta.Provider)
	}
}

func TestCallTool_AnalystDeniedDecisionCommand(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Auth.Enabled = true
	k := newTestKernel(t, cfg, decisionProvider())

	s := k.CreateSession(nil, nil) // analyst by default

	resp := k.CallTool(context.Background(), call.Request{
		Tool:      "make_decision",
		SessionID: s.ID,
	})
	if resp.Success {
		t.Fatal("analyst must not execute decision commands")
	}
	if resp.Error.Type != call.ErrorAuthRequired {
		t.Fatalf("type = %q, want %q", resp.Error.Type, call.ErrorAuthRequired)
	}
	joined := strings.Join(resp.Error.RecoverySteps, " ")
	if !strings.Contains(joined, "executive") || !strings.Contains(joined, "execute:decisions") {
		t.Fatalf("recovery steps = %v, want required role and permission named", resp.Error.RecoverySteps)
	}
}

func TestCallTool_ExecutiveAllowedDecisionCommand(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Auth.Enabled = true
	k := newTestKernel(t, cfg, decisionProvider())

	s := k.CreateSession(&session.Identity{
		UserID: "u-1", Role: "executive",
		Permissions: []string{"read:data", "write:data", "write:reports", "execute:decisions"},
	}, nil)

	resp := k.CallTool(context.Background(), call.Request{Tool: "make_decision", SessionID: s.ID})
	if !resp.Success {
		t.Fatalf("error = %+v", resp.Error)
	}
}

func TestCallTool_UnknownSession(t *testing.T) {
	t.Parallel()

	k := newTestKernel(t, baseConfig(), geologyProvider(nil))

	resp := k.CallTool(context.Background(), call.Request{
		Tool:      "analyze_formation",
		SessionID: "no-such-session",
	})
	if resp.Success {
		t.Fatal("unknown session must fail")
	}
	if resp.Error.Type != call.ErrorUserAction {
		t.Fatalf("type = %q, want %q", resp.Error.Type, call.ErrorUserAction)
	}
}

func TestCallTool_AuditTrailRedactsSecrets(t *testing.T) {
	t.Parallel()

	var entries []audit.Entry
	reg := registry.New()
	reg.MustRegister(geologyProvider(nil))

	cfg := baseConfig()
	cfg.Audit.Enabled = false // the kernel logger is replaced below
	k, err := New(Options{Config: cfg, Registry: reg})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	k.auditor = audit.NewLogger(audit.LoggerConfig{
		Enabled: true,
		Sink:    audit.NewMemorySink(),
		OnEntry: func(e audit.Entry) { entries = append(entries, e) },
	})

	k.CallTool(context.Background(), call.Request{
		Tool: "analyze_formation",
		Args: map[string]any{"region": "permian", "api_key": "sk-live-12345"},
	})

	if len(entries) != 2 {
		t.Fatalf("got %d audit entries, want request+response", len(entries))
	}
	if entries[0].Action != audit.ActionRequest || entries[1].Action != audit.ActionResponse {
		t.Fatalf("actions = %v, %v", entries[0].Action, entries[1].Action)
	}
	if entries[0].Params["api_key"] != audit.Placeholder {
		t.Fatalf("api_key = %v, want redacted", entries[0].Params["api_key"])
	}
	if entries[0].Params["region"] != "permian" {
		t.Fatalf("region = %v, want kept", entries[0].Params["region"])
	}
}

func TestCallTool_CommandHeldThenConfirmedOnce(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	guarded := &kernelTestProvider{
		name: "notarybot", domain: "reporting",
		tools: []registry.Descriptor{
			{Name: "sign_loi", Kind: registry.KindCommand, SideEffecting: true, RequiresConfirmation: true},
		},
		handler: func(context.Context, string, map[string]any) (any, error) {
			calls.Add(1)
			return map[string]any{"signed": true}, nil
		},
	}
	k := newTestKernel(t, baseConfig(), guarded)

	held := k.CallTool(context.Background(), call.Request{Tool: "sign_loi"})
	if !held.Success {
		t.Fatalf("error = %+v", held.Error)
	}
	data := held.Data.(map[string]any)
	if data["status"] != "pending_confirmation" {
		t.Fatalf("status = %v", data["status"])
	}
	actionID, _ := data["action_id"].(string)
	if actionID == "" {
		t.Fatal("missing action_id")
	}
	if calls.Load() != 0 {
		t.Fatal("held command must not execute")
	}
	if len(k.PendingActions()) != 1 {
		t.Fatalf("pending = %d, want 1", len(k.PendingActions()))
	}

	confirmed := k.ConfirmAction(context.Background(), actionID)
	if !confirmed.Success || calls.Load() != 1 {
		t.Fatalf("confirmed = %+v, calls = %d", confirmed, calls.Load())
	}

	again := k.ConfirmAction(context.Background(), actionID)
	if again.Success || again.Error.Type != call.ErrorPermanent {
		t.Fatalf("double confirm = %+v, want permanent failure", again)
	}
	if calls.Load() != 1 {
		t.Fatal("double confirm must not re-execute")
	}
}

func TestCallTool_HoldWritesResponseAuditEntry(t *testing.T) {
	t.Parallel()

	var entries []audit.Entry
	reg := registry.New()
	reg.MustRegister(&kernelTestProvider{
		name: "notarybot", domain: "reporting",
		tools: []registry.Descriptor{
			{Name: "sign_loi", Kind: registry.KindCommand, SideEffecting: true, RequiresConfirmation: true},
		},
	})

	cfg := baseConfig()
	cfg.Audit.Enabled = false // the kernel logger is replaced below
	k, err := New(Options{Config: cfg, Registry: reg})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	k.auditor = audit.NewLogger(audit.LoggerConfig{
		Enabled: true,
		Sink:    audit.NewMemorySink(),
		OnEntry: func(e audit.Entry) { entries = append(entries, e) },
	})

	held := k.CallTool(context.Background(), call.Request{Tool: "sign_loi"})
	if !held.Success {
		t.Fatalf("error = %+v", held.Error)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d audit entries, want request+response", len(entries))
	}
	if entries[1].Action != audit.ActionResponse {
		t.Fatalf("second action = %v, want response", entries[1].Action)
	}
	if entries[1].Success == nil || !*entries[1].Success {
		t.Fatalf("hold response entry success = %v, want true", entries[1].Success)
	}
}

func TestCallTool_CancelThenConfirmFailsPermanently(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	guarded := &kernelTestProvider{
		name: "titletracker", domain: "ownership",
		tools: []registry.Descriptor{
			{Name: "update_title", Kind: registry.KindCommand, SideEffecting: true, RequiresConfirmation: true},
		},
		handler: func(context.Context, string, map[string]any) (any, error) {
			calls.Add(1)
			return "done", nil
		},
	}
	k := newTestKernel(t, baseConfig(), guarded)

	held := k.CallTool(context.Background(), call.Request{Tool: "update_title"})
	actionID := held.Data.(map[string]any)["action_id"].(string)

	if err := k.CancelAction(actionID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	resp := k.ConfirmAction(context.Background(), actionID)
	if resp.Success || resp.Error.Type != call.ErrorPermanent {
		t.Fatalf("confirm after cancel = %+v, want permanent failure", resp)
	}
	if calls.Load() != 0 {
		t.Fatal("canceled action must never execute")
	}
}

func TestCallTool_IdempotentCommandServedFromCache(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	cfg := baseConfig()
	cfg.Cache.Enabled = true
	cfg.Cache.Path = filepath.Join(t.TempDir(), "cache.db")

	k := newTestKernel(t, cfg, &kernelTestProvider{
		name: "the-core", domain: "decision",
		tools: []registry.Descriptor{
			{Name: "make_decision", Kind: registry.KindCommand, SideEffecting: true},
		},
		handler: func(context.Context, string, map[string]any) (any, error) {
			calls.Add(1)
			return map[string]any{"verdict": "go"}, nil
		},
	})
	t.Cleanup(func() { _ = k.Stop(context.Background()) })

	req := call.Request{Tool: "make_decision", Args: map[string]any{"tract": "A-12"}}

	first := k.CallTool(context.Background(), req)
	second := k.CallTool(context.Background(), req)
	if !first.Success || !second.Success {
		t.Fatalf("first = %+v, second = %+v", first, second)
	}
	if calls.Load() != 1 {
		t.Fatalf("handler ran %d times, want 1 (replay from cache)", calls.Load())
	}

	// Different arguments derive a different key and execute again.
	k.CallTool(context.Background(), call.Request{
		Tool: "make_decision", Args: map[string]any{"tract": "B-7"},
	})
	if calls.Load() != 2 {
		t.Fatalf("handler ran %d times, want 2", calls.Load())
	}
}

func TestCallTool_CacheReplayHonorsDetailLevel(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	cfg := baseConfig()
	cfg.Cache.Enabled = true
	cfg.Cache.Path = filepath.Join(t.TempDir(), "cache.db")

	k := newTestKernel(t, cfg, &kernelTestProvider{
		name: "the-core", domain: "decision",
		tools: []registry.Descriptor{
			{Name: "make_decision", Kind: registry.KindCommand, SideEffecting: true},
		},
		handler: func(context.Context, string, map[string]any) (any, error) {
			calls.Add(1)
			return map[string]any{
				"recommendation": "go",
				"npv_usd":        1200000,
				"notes":          "full evaluation narrative",
			}, nil
		},
	})
	t.Cleanup(func() { _ = k.Stop(context.Background()) })

	args := map[string]any{"tract": "A-12"}

	first := k.CallTool(context.Background(), call.Request{
		Tool: "make_decision", Args: args, Detail: call.DetailFull,
	})
	if !first.Success {
		t.Fatalf("error = %+v", first.Error)
	}
	if _, ok := first.Data.(map[string]any)["notes"]; !ok {
		t.Fatal("full detail must keep every field")
	}

	second := k.CallTool(context.Background(), call.Request{
		Tool: "make_decision", Args: args, Detail: call.DetailSummary,
	})
	if !second.Success {
		t.Fatalf("error = %+v", second.Error)
	}
	if calls.Load() != 1 {
		t.Fatalf("handler ran %d times, want 1 (replay from cache)", calls.Load())
	}
	data := second.Data.(map[string]any)
	if _, leaked := data["notes"]; leaked {
		t.Fatal("summary replay must drop non-summary fields")
	}
	if _, ok := data["synthesis"]; !ok {
		t.Fatal("summary replay must carry a synthesis line")
	}
}

func TestIdempotencyKey_Deterministic(t *testing.T) {
	t.Parallel()

	k1, err := IdempotencyKey("sign_loi", map[string]any{"a": 1, "b": "x"}, "s-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	k2, err := IdempotencyKey("sign_loi", map[string]any{"b": "x", "a": 1}, "s-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if k1 != k2 {
		t.Fatalf("argument order changed the key: %q != %q", k1, k2)
	}
	if len(k1) != 64 {
		t.Fatalf("key length = %d, want 64 hex chars", len(k1))
	}

	k3, _ := IdempotencyKey("sign_loi", map[string]any{"a": 1, "b": "x"}, "s-2")
	if k1 == k3 {
		t.Fatal("different sessions must derive different keys")
	}
}

func TestDiscovery_ThroughDispatch(t *testing.T) {
	t.Parallel()

	k := newTestKernel(t, baseConfig(), geologyProvider(nil))

	resp := k.CallTool(context.Background(), call.Request{
		Tool: "list_providers",
		Args: map[string]any{"domain": "geology"},
	})
	if !resp.Success {
		t.Fatalf("error = %+v", resp.Error)
	}
	infos, ok := resp.Data.([]registry.Info)
	if !ok || len(infos) != 1 || infos[0].Name != "geowiz" {
		t.Fatalf("data = %+v", resp.Data)
	}

	found := k.CallTool(context.Background(), call.Request{
		Tool: "find_capability",
		Args: map[string]any{"capability": "GEO"},
	})
	if !found.Success {
		t.Fatalf("error = %+v", found.Error)
	}
	descs := found.Data.([]registry.Descriptor)
	if len(descs) != 1 || descs[0].Name != "analyze_formation" {
		t.Fatalf("descs = %+v", descs)
	}

	missing := k.CallTool(context.Background(), call.Request{Tool: "find_capability"})
	if missing.Success || missing.Error.Type != call.ErrorUserAction {
		t.Fatalf("missing argument = %+v, want user_action failure", missing)
	}
}

func TestSession_ResultsAndWhoAmI(t *testing.T) {
	t.Parallel()

	k := newTestKernel(t, baseConfig(), geologyProvider(nil))
	s := k.CreateSession(&session.Identity{UserID: "u-9", Role: "engineer"}, map[string]any{"units": "imperial"})

	k.CallTool(context.Background(), call.Request{Tool: "analyze_formation", SessionID: s.ID})

	stored, err := k.GetSessionResult(s.ID, "analyze_formation")
	if err != nil || !stored.Success {
		t.Fatalf("stored = %+v, err = %v", stored, err)
	}

	whoami, err := k.WhoAmI(s.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if whoami.UserID != "u-9" || whoami.Role != "engineer" {
		t.Fatalf("whoami = %+v", whoami)
	}
	if len(whoami.AvailableResultKeys) != 1 || whoami.AvailableResultKeys[0] != "analyze_formation" {
		t.Fatalf("result keys = %v", whoami.AvailableResultKeys)
	}

	if err := k.DestroySession(s.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := k.GetSession(s.ID); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAuthCheck_WithoutDispatch(t *testing.T) {
	t.Parallel()

	k := newTestKernel(t, baseConfig(), decisionProvider())
	s := k.CreateSession(nil, nil)

	decision, err := k.AuthCheck(s.ID, "make_decision")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Allowed {
		t.Fatal("analyst must not be allowed make_decision")
	}
	if decision.RequiredRole != "executive" {
		t.Fatalf("required role = %q, want executive", decision.RequiredRole)
	}
}

func TestExecuteParallel_MixedDenialsKeepOrder(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Auth.Enabled = true
	k := newTestKernel(t, cfg, geologyProvider(nil), decisionProvider())
	s := k.CreateSession(nil, nil)

	reqs := []call.Request{
		{Tool: "analyze_formation", SessionID: s.ID},
		{Tool: "make_decision", SessionID: s.ID},
		{Tool: "analyze_formation", SessionID: s.ID},
	}
	results := k.ExecuteParallel(context.Background(), reqs)
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if !results[0].Success || !results[2].Success {
		t.Fatalf("queries failed: %+v / %+v", results[0], results[2])
	}
	if results[1].Success || results[1].Error.Type != call.ErrorAuthRequired {
		t.Fatalf("denied command = %+v", results[1])
	}
}

func TestExecuteBundle_RegisteredTemplate(t *testing.T) {
	t.Parallel()

	k := newTestKernel(t, baseConfig(), geologyProvider(nil))

	b := bundle.Bundle{
		Name: "geology_only",
		Phases: []bundle.Phase{
			{Name: "screen", Requests: []call.Request{
				{Tool: "analyze_formation", Detail: call.DetailSummary},
			}},
		},
	}
	if err := k.RegisterBundle(b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := k.RegisterBundle(b); !errors.Is(err, bundle.ErrDuplicateBundle) {
		t.Fatalf("expected ErrDuplicateBundle, got %v", err)
	}

	res, err := k.ExecuteBundle(context.Background(), "geology_only", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Completed || res.Completeness != 100 {
		t.Fatalf("result = %+v", res)
	}

	// Responses inside bundles are shaped per request detail level.
	data := res.Phases[0].Responses[0].Data.(map[string]any)
	if _, ok := data["synthesis"]; !ok {
		t.Fatalf("bundle response not summary-shaped: %v", data)
	}

	if _, err := k.ExecuteBundle(context.Background(), "no_such_bundle", ""); err == nil {
		t.Fatal("expected unknown-bundle error")
	}
}

func TestListBundles_SortedWithBuiltins(t *testing.T) {
	t.Parallel()

	k := newTestKernel(t, baseConfig(), geologyProvider(nil))
	bundles := k.ListBundles()
	if len(bundles) != 2 {
		t.Fatalf("got %d bundles, want the 2 builtins", len(bundles))
	}
	if bundles[0].Name != "quick_screen" || bundles[1].Name != "tract_eval" {
		t.Fatalf("order = %s, %s", bundles[0].Name, bundles[1].Name)
	}
}

func TestNew_ReservedProviderName(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	reg.MustRegister(&kernelTestProvider{
		name: "kernel", domain: "x",
		tools: []registry.Descriptor{{Name: "t", Kind: registry.KindQuery}},
	})
	if _, err := New(Options{Config: baseConfig(), Registry: reg, AuditSink: audit.NewMemorySink()}); err == nil {
		t.Fatal("expected duplicate provider error for reserved name")
	}
}

func TestKernel_StartStopSweeper(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Sweep.Enabled = true
	k := newTestKernel(t, cfg, geologyProvider(nil))

	if err := k.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := k.Stop(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
