// Package confirm holds proposed side-effecting tool calls until a caller
// explicitly confirms or cancels them. An action executes at most once:
// the state machine is proposed → confirmed | canceled | expired, and every
// transition out of proposed is final.
package confirm

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/basinworks/toolplane/internal/call"
)

// DefaultTTL is how long a proposed action stays confirmable.
const DefaultTTL = 5 * time.Minute

// State is the lifecycle state of a pending action.
type State int

// State values for the pending-action state machine.
const (
	StateProposed State = iota
	StateConfirmed
	StateCanceled
	StateExpired
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateProposed:
		return "proposed"
	case StateConfirmed:
		return "confirmed"
	case StateCanceled:
		return "canceled"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Gate errors.
var (
	ErrNotFound        = errors.New("pending action not found")
	ErrAlreadyResolved = errors.New("action already resolved")
	ErrExpired         = errors.New("action expired")
)

// Action is a snapshot of a held side-effecting call.
type Action struct {
	ID          string       `json:"id"`
	Tool        string       `json:"tool"`
	Provider    string       `json:"provider"`
	Description string       `json:"description"`
	Request     call.Request `json:"request"`
	State       State        `json:"-"`
	StateName   string       `json:"state"`
	ProposedAt  time.Time    `json:"proposed_at"`
	ExpiresAt   time.Time    `json:"expires_at"`
}

type action struct {
	Action
}

// GateConfig tunes a Gate. Zero values get defaults.
type GateConfig struct {
	// TTL is how long a proposal stays confirmable.
	TTL time.Duration

	// Log is the operational logger. Nil means slog.Default.
	Log *slog.Logger

	// Now overrides time.Now for testing.
	Now func() time.Time
}

// Gate stores pending actions keyed by generated ID.
type Gate struct {
	mu      sync.Mutex
	actions map[string]*action
	ttl     time.Duration
	log     *slog.Logger
	now     func() time.Time
}

// NewGate creates an empty gate.
func NewGate(cfg GateConfig) *Gate {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Gate{
		actions: make(map[string]*action),
		ttl:     ttl,
		log:     log.With("component", "confirm"),
		now:     now,
	}
}

// Propose holds a side-effecting call and returns its snapshot. The caller
// relays the ID and description to the user for an explicit decision.
func (g *Gate) Propose(tool, provider, description string, req call.Request) Action {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	a := &action{Action: Action{
		ID:          uuid.NewString(),
		Tool:        tool,
		Provider:    provider,
		Description: description,
		Request:     req,
		State:       StateProposed,
		StateName:   StateProposed.String(),
		ProposedAt:  now,
		ExpiresAt:   now.Add(g.ttl),
	}}
	g.actions[a.ID] = a

	g.log.Info("action proposed", "action_id", a.ID, "tool", tool, "provider", provider)
	return a.Action
}

// Confirm resolves the action and runs exec exactly once. A second Confirm,
// a Confirm after Cancel, or a Confirm past the deadline fails without
// executing anything.
func (g *Gate) Confirm(ctx context.Context, id string, exec func(context.Context, call.Request) call.Response) (call.Response, error) {
	g.mu.Lock()
	a, ok := g.actions[id]
	if !ok {
		g.mu.Unlock()
		return call.Response{}, ErrNotFound
	}
	if a.State == StateProposed && g.now().After(a.ExpiresAt) {
		a.setState(StateExpired)
	}
	if a.State != StateProposed {
		state := a.State
		g.mu.Unlock()
		if state == StateExpired {
			return call.Response{}, ErrExpired
		}
		return call.Response{}, ErrAlreadyResolved
	}
	a.setState(StateConfirmed)
	req := a.Request
	g.mu.Unlock()

	g.log.Info("action confirmed", "action_id", id, "tool", a.Tool)
	return exec(ctx, req), nil
}

// Cancel resolves a proposed action without executing it.
func (g *Gate) Cancel(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	a, ok := g.actions[id]
	if !ok {
		return ErrNotFound
	}
	if a.State == StateProposed && g.now().After(a.ExpiresAt) {
		a.setState(StateExpired)
	}
	switch a.State {
	case StateProposed:
		a.setState(StateCanceled)
		g.log.Info("action canceled", "action_id", id, "tool", a.Tool)
		return nil
	case StateExpired:
		return ErrExpired
	default:
		return ErrAlreadyResolved
	}
}

// Get returns a snapshot of the action.
func (g *Gate) Get(id string) (Action, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	a, ok := g.actions[id]
	if !ok {
		return Action{}, ErrNotFound
	}
	return a.Action, nil
}

// Pending returns snapshots of all still-proposed actions.
func (g *Gate) Pending() []Action {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	var out []Action
	for _, a := range g.actions {
		if a.State == StateProposed && !now.After(a.ExpiresAt) {
			out = append(out, a.Action)
		}
	}
	return out
}

// SweepExpired marks overdue proposals as expired and drops resolved
// actions past their retention window. It returns the number of proposals
// expired by this sweep. Expired and resolved actions are retained for one
// TTL so late Confirm calls get a precise error instead of not-found.
func (g *Gate) SweepExpired() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	expired := 0
	for id, a := range g.actions {
		if a.State == StateProposed && now.After(a.ExpiresAt) {
			a.setState(StateExpired)
			expired++
			g.log.Info("action expired", "action_id", id, "tool", a.Tool)
		}
		if a.State != StateProposed && now.After(a.ExpiresAt.Add(g.ttl)) {
			delete(g.actions, id)
		}
	}
	return expired
}

// Len returns the number of tracked actions, resolved ones included.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.actions)
}

func (a *action) setState(s State) {
	a.State = s
	a.StateName = s.String()
}
