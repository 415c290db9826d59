package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/basinworks/toolplane/internal/call"
	"github.com/basinworks/toolplane/internal/registry"
)

func TestClassify_Patterns(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantType   call.ErrorType
		wantMinRetry int64
	}{
		{"unauthorized", errors.New("request unauthorized"), call.ErrorAuthRequired, 0},
		{"http 403", errors.New("server returned 403"), call.ErrorAuthRequired, 0},
		{"expired token", errors.New("token expired, please refresh"), call.ErrorAuthRequired, 0},
		{"not found", errors.New("well log not found"), call.ErrorUserAction, 0},
		{"missing data", errors.New("missing data for zone"), call.ErrorUserAction, 0},
		{"rate limit", errors.New("rate limit exceeded"), call.ErrorRetryable, RetryAfterRateLimit},
		{"http 429", errors.New("got 429 from upstream"), call.ErrorRetryable, RetryAfterRateLimit},
		{"timeout", errors.New("operation timed out"), call.ErrorRetryable, RetryAfterTimeout},
		{"http 503", errors.New("503 service unavailable"), call.ErrorRetryable, RetryAfterTimeout},
		{"conn refused", errors.New("dial tcp: ECONNREFUSED"), call.ErrorRetryable, RetryAfterConnection},
		{"validation", errors.New("validation failed: bad curve"), call.ErrorPermanent, 0},
		{"malformed", errors.New("malformed argument set"), call.ErrorPermanent, 0},
		{"unknown defaults retryable", errors.New("something odd happened"), call.ErrorRetryable, RetryAfterTimeout},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := Classify(tc.err)
			if got.Type != tc.wantType {
				t.Fatalf("type = %s, want %s", got.Type, tc.wantType)
			}
			if got.RetryAfterMillis != tc.wantMinRetry {
				t.Fatalf("retry after = %d, want %d", got.RetryAfterMillis, tc.wantMinRetry)
			}
			if len(got.RecoverySteps) == 0 {
				t.Fatal("expected non-empty recovery steps")
			}
			if got.Message != tc.err.Error() {
				t.Fatalf("message = %q, want %q", got.Message, tc.err.Error())
			}
		})
	}
}

func TestClassify_AuthBeatsRetryable(t *testing.T) {
	t.Parallel()

	// Matches both an auth pattern (401) and a retryable one (timeout).
	got := Classify(errors.New("401 after timeout"))
	if got.Type != call.ErrorAuthRequired {
		t.Fatalf("type = %s, want auth_required", got.Type)
	}
}

func TestClassify_RateLimitBacksOffLongerThanConnection(t *testing.T) {
	t.Parallel()

	rate := Classify(errors.New("429"))
	conn := Classify(errors.New("connection refused"))
	timeout := Classify(errors.New("timeout"))
	if rate.RetryAfterMillis <= timeout.RetryAfterMillis {
		t.Fatalf("rate-limit delay %d should exceed timeout delay %d", rate.RetryAfterMillis, timeout.RetryAfterMillis)
	}
	if conn.RetryAfterMillis >= timeout.RetryAfterMillis {
		t.Fatalf("connection delay %d should be shortest, timeout is %d", conn.RetryAfterMillis, timeout.RetryAfterMillis)
	}
}

type altProvider struct {
	name   string
	domain string
	tools  []registry.Descriptor
}

func (p altProvider) Name() string                 { return p.name }
func (p altProvider) Domain() string               { return p.domain }
func (p altProvider) Description() string          { return p.name }
func (p altProvider) Tools() []registry.Descriptor { return p.tools }
func (p altProvider) Invoke(context.Context, string, map[string]any) (any, error) {
	return nil, fmt.Errorf("unused")
}

func TestAlternatives_CapabilityOverlap(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	reg.MustRegister(altProvider{
		name:   "geowiz",
		domain: "geology",
		tools: []registry.Descriptor{
			{Name: "analyze_formation", Kind: registry.KindQuery, Capabilities: []string{"formation-analysis"}},
		},
	})
	reg.MustRegister(altProvider{
		name:   "research-hub",
		domain: "research",
		tools: []registry.Descriptor{
			{Name: "general_research", Kind: registry.KindQuery, Capabilities: []string{"formation-analysis", "literature"}},
			{Name: "fetch_papers", Kind: registry.KindQuery, Capabilities: []string{"literature"}},
		},
	})

	c := &Classifier{Fallbacks: map[string]string{"geowiz": "research-hub"}}
	failed, err := reg.Describe("analyze_formation")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := c.Alternatives(failed, reg)
	if len(got) != 1 || got[0] != "general_research" {
		t.Fatalf("alternatives = %v, want [general_research]", got)
	}

	// Provider with no fallback configured yields nothing.
	failed.Provider = "econobot"
	if got := c.Alternatives(failed, reg); got != nil {
		t.Fatalf("alternatives = %v, want nil", got)
	}
}

func TestAssess_Thresholds(t *testing.T) {
	t.Parallel()

	ok := call.Response{Success: true}
	fail := call.Response{Success: false, Meta: call.Metadata{Provider: "geowiz"}}

	partial := Assess(
		[]string{"a", "b", "c", "d"},
		[]call.Response{ok, ok, ok, fail},
	)
	if partial.Completeness != 75 {
		t.Fatalf("completeness = %v, want 75", partial.Completeness)
	}
	if !partial.Usable || partial.Status != "partial" {
		t.Fatalf("got usable=%v status=%q, want usable partial", partial.Usable, partial.Status)
	}
	if len(partial.Missing) != 1 || partial.Missing[0] != "d" {
		t.Fatalf("missing = %v, want [d]", partial.Missing)
	}

	insufficient := Assess(
		[]string{"a", "b", "c"},
		[]call.Response{ok, fail, fail},
	)
	if insufficient.Usable || insufficient.Status != "insufficient" {
		t.Fatalf("got usable=%v status=%q, want insufficient", insufficient.Usable, insufficient.Status)
	}
	if len(insufficient.Suggestions) == 0 {
		t.Fatal("expected retry suggestions for insufficient result")
	}

	complete := Assess([]string{"a"}, []call.Response{ok})
	if complete.Status != "complete" || complete.Completeness != 100 {
		t.Fatalf("got status=%q completeness=%v, want complete 100", complete.Status, complete.Completeness)
	}

	empty := Assess(nil, nil)
	if empty.Usable || empty.Status != "insufficient" {
		t.Fatalf("empty batch should be insufficient, got %+v", empty)
	}
}
