package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/basinworks/toolplane/internal/call"
)

func TestCreate_DefaultIdentity(t *testing.T) {
	t.Parallel()

	s := NewStore()
	sess := s.Create(nil, nil)

	if sess.ID == "" {
		t.Fatal("expected non-empty session ID")
	}
	if sess.Identity.Role != "analyst" {
		t.Fatalf("role = %q, want analyst", sess.Identity.Role)
	}
	if sess.Identity.UserID != "anonymous" {
		t.Fatalf("user = %q, want anonymous", sess.Identity.UserID)
	}
}

func TestCreate_ExplicitIdentityAndPrefs(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ident := Identity{UserID: "u-1", Role: "engineer", Permissions: []string{"read:data", "write:reports"}}
	sess := s.Create(&ident, map[string]any{"units": "imperial"})

	got, err := s.Get(sess.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Identity.UserID != "u-1" || got.Identity.Role != "engineer" {
		t.Fatalf("identity = %+v, want u-1/engineer", got.Identity)
	}
	if got.Preferences["units"] != "imperial" {
		t.Fatalf("preferences = %v, want units=imperial", got.Preferences)
	}
}

func TestGet_NotFound(t *testing.T) {
	t.Parallel()

	s := NewStore()
	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResultStore_Isolation(t *testing.T) {
	t.Parallel()

	s := NewStore()
	a := s.Create(nil, nil)
	b := s.Create(nil, nil)

	resp := call.Response{Success: true, Data: "zones"}
	if err := s.StoreResult(a.ID, "geology", resp); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.GetResult(a.ID, "geology")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Data != "zones" {
		t.Fatalf("data = %v, want zones", got.Data)
	}

	// Session B must not see session A's result.
	if _, err := s.GetResult(b.ID, "geology"); !errors.Is(err, ErrResultNotFound) {
		t.Fatalf("expected ErrResultNotFound for other session, got %v", err)
	}
}

func TestStoreResult_ConcurrentWritesOneSession(t *testing.T) {
	t.Parallel()

	s := NewStore()
	sess := s.Create(nil, nil)

	const writers = 16
	var wg sync.WaitGroup
	for i := range writers {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("result-%d", n)
			if err := s.StoreResult(sess.ID, key, call.Response{Success: true, Data: n}); err != nil {
				t.Errorf("StoreResult(%s): %v", key, err)
			}
		}(i)
	}
	wg.Wait()

	got, err := s.Get(sess.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.ResultKeys) != writers {
		t.Fatalf("got %d result keys, want %d", len(got.ResultKeys), writers)
	}
}

func TestInjectedContext(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ident := Identity{UserID: "u-2", Role: "executive", Permissions: []string{"read:data"}}
	sess := s.Create(&ident, map[string]any{"basin": "permian"})

	if err := s.StoreResult(sess.ID, "valuation", call.Response{Success: true}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cc, err := s.InjectedContext(sess.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cc.UserID != "u-2" || cc.Role != "executive" || cc.SessionID != sess.ID {
		t.Fatalf("context = %+v, want u-2/executive/%s", cc, sess.ID)
	}
	if cc.Timezone == "" {
		t.Fatal("expected non-empty timezone")
	}
	if cc.Preferences["basin"] != "permian" {
		t.Fatalf("preferences = %v, want basin=permian", cc.Preferences)
	}
	if len(cc.AvailableResultKeys) != 1 || cc.AvailableResultKeys[0] != "valuation" {
		t.Fatalf("result keys = %v, want [valuation]", cc.AvailableResultKeys)
	}
}

func TestDestroy(t *testing.T) {
	t.Parallel()

	s := NewStore()
	sess := s.Create(nil, nil)

	if err := s.Destroy(sess.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := s.Get(sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after destroy, got %v", err)
	}
	if err := s.Destroy(sess.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on double destroy, got %v", err)
	}
}

func TestPrune_RemovesIdleSessions(t *testing.T) {
	t.Parallel()

	current := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore()
	s.SetNow(func() time.Time { return current })

	stale := s.Create(nil, nil)
	current = current.Add(2 * time.Hour)
	fresh := s.Create(nil, nil)

	pruned := s.Prune(time.Hour)
	if pruned != 1 {
		t.Fatalf("pruned = %d, want 1", pruned)
	}
	if _, err := s.Get(stale.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("stale session should be gone, got %v", err)
	}
	if _, err := s.Get(fresh.ID); err != nil {
		t.Fatalf("fresh session should survive, got %v", err)
	}

	if got := s.Prune(0); got != 0 {
		t.Fatalf("prune with zero maxIdle = %d, want 0", got)
	}
}
