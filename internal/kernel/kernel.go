// Package kernel composes the registry, session store, permission gate,
// audit trail, confirmation gate, response cache, and executor behind one
// facade. Agents talk to the kernel; the kernel decides who may call what,
// records everything, and shapes what comes back.
package kernel

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/basinworks/toolplane/internal/audit"
	"github.com/basinworks/toolplane/internal/bundle"
	"github.com/basinworks/toolplane/internal/cache"
	"github.com/basinworks/toolplane/internal/call"
	"github.com/basinworks/toolplane/internal/config"
	"github.com/basinworks/toolplane/internal/confirm"
	"github.com/basinworks/toolplane/internal/executor"
	"github.com/basinworks/toolplane/internal/permission"
	"github.com/basinworks/toolplane/internal/registry"
	"github.com/basinworks/toolplane/internal/resilience"
	"github.com/basinworks/toolplane/internal/session"
	"github.com/basinworks/toolplane/internal/sweep"
)

// Options configures a Kernel. Zero-value fields get sane defaults; the
// Config usually comes from config.Default() or config.Load.
type Options struct {
	// Config is the kernel configuration.
	Config config.Config

	// Registry holds the capability providers. Nil creates an empty one.
	Registry *registry.Registry

	// Fallbacks maps a provider name to the provider whose overlapping
	// tools are suggested when its calls fail.
	Fallbacks map[string]string

	// AuditSink overrides the file sink built from Config.Audit.Dir.
	AuditSink audit.Sink

	// Metrics is the Prometheus registerer. Nil keeps metrics private.
	Metrics prometheus.Registerer

	// Log is the operational logger. Nil means slog.Default.
	Log *slog.Logger

	// Now overrides time.Now for testing.
	Now func() time.Time
}

// Kernel is the tool-orchestration facade.
type Kernel struct {
	cfg       config.Config
	log       *slog.Logger
	reg       *registry.Registry
	sessions  *session.Store
	exec      *executor.Executor
	gate      *confirm.Gate
	auditor   *audit.Logger
	store     *cache.Store
	metrics   *Metrics
	scheduler *sweep.Scheduler
	now       func() time.Time

	mu      sync.RWMutex
	bundles map[string]bundle.Bundle
}

// New wires a kernel from the given options. The built-in discovery
// provider is registered immediately, so "kernel" is a reserved provider
// name.
func New(opts Options) (*Kernel, error) {
	cfg := opts.Config

	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "kernel")

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	reg := opts.Registry
	if reg == nil {
		reg = registry.New()
	}
	if err := reg.Register(&discoveryProvider{reg: reg}); err != nil {
		return nil, fmt.Errorf("kernel: register discovery provider: %w", err)
	}

	sessions := session.NewStore()
	if opts.Now != nil {
		sessions.SetNow(opts.Now)
	}
	if role := cfg.Session.DefaultRole; role != "" {
		sessions.SetDefaultIdentity(session.Identity{
			UserID:      "anonymous",
			Role:        role,
			Permissions: permission.RolePermissions(role),
		})
	}

	toolTimeouts := make(map[string]time.Duration, len(cfg.Exec.ToolTimeouts))
	for tool, d := range cfg.Exec.ToolTimeouts {
		toolTimeouts[tool] = d.Std()
	}

	exec := executor.New(reg, executor.Config{
		DefaultTimeout: cfg.Exec.DefaultTimeout.Std(),
		ToolTimeouts:   toolTimeouts,
		MaxParallel:    cfg.Exec.MaxParallel,
		RetryAttempts:  cfg.Exec.RetryAttempts,
		RateLimit:      cfg.Exec.RateLimit,
		RateBurst:      cfg.Exec.RateBurst,
		Classifier:     &resilience.Classifier{Fallbacks: opts.Fallbacks},
		Log:            log,
		Now:            opts.Now,
	})

	auditor := audit.Disabled()
	if cfg.Audit.Enabled {
		sink := opts.AuditSink
		if sink == nil {
			fileSink, err := audit.NewFileSink(cfg.Audit.Dir)
			if err != nil {
				return nil, err
			}
			sink = fileSink
		}
		auditor = audit.NewLogger(audit.LoggerConfig{
			Enabled: true,
			Sink:    sink,
			Log:     log,
			Now:     opts.Now,
		})
	}

	var store *cache.Store
	if cfg.Cache.Enabled {
		opened, err := cache.Open(cfg.Cache.Path)
		if err != nil {
			return nil, err
		}
		if opts.Now != nil {
			opened.SetNow(opts.Now)
		}
		store = opened
	}

	k := &Kernel{
		cfg:      cfg,
		log:      log,
		reg:      reg,
		sessions: sessions,
		exec:     exec,
		gate: confirm.NewGate(confirm.GateConfig{
			TTL: cfg.Confirm.TTL.Std(),
			Log: log,
			Now: opts.Now,
		}),
		auditor: auditor,
		store:   store,
		metrics: NewMetrics(opts.Metrics),
		now:     now,
		bundles: make(map[string]bundle.Bundle),
	}

	for _, b := range bundle.Builtin() {
		k.bundles[b.Name] = b
	}
	if cfg.BundlesFile != "" {
		loaded, err := bundle.Load(cfg.BundlesFile)
		if err != nil {
			return nil, err
		}
		for _, b := range loaded {
			if _, dup := k.bundles[b.Name]; dup {
				return nil, fmt.Errorf("%w: %s", bundle.ErrDuplicateBundle, b.Name)
			}
			k.bundles[b.Name] = b
		}
	}

	return k, nil
}

// Start launches background maintenance when enabled in the config.
func (k *Kernel) Start() error {
	if !k.cfg.Sweep.Enabled {
		return nil
	}

	k.scheduler = sweep.NewScheduler(k.log)
	jobs := []sweep.Job{
		&sweep.ActionExpiryJob{
			Gate:         k.gate,
			Logger:       k.log,
			ScheduleExpr: k.cfg.Sweep.ActionSchedule,
		},
		&sweep.SessionPruneJob{
			Store:        k.sessions,
			MaxIdle:      k.cfg.Session.MaxIdle.Std(),
			Logger:       k.log,
			ScheduleExpr: k.cfg.Sweep.SessionSchedule,
		},
	}
	if k.store != nil {
		jobs = append(jobs, &sweep.CachePruneJob{
			Cache:        k.store,
			MaxAge:       k.cfg.Cache.MaxAge.Std(),
			Logger:       k.log,
			ScheduleExpr: k.cfg.Sweep.CacheSchedule,
		})
	}
	for _, j := range jobs {
		if err := k.scheduler.RegisterJob(j); err != nil {
			return err
		}
	}
	return k.scheduler.Start()
}

// Stop shuts down background maintenance and the response cache.
func (k *Kernel) Stop(ctx context.Context) error {
	if k.scheduler != nil {
		if err := k.scheduler.Stop(ctx); err != nil {
			return err
		}
	}
	if k.store != nil {
		return k.store.Close()
	}
	return nil
}

// RegisterProvider adds a capability provider.
func (k *Kernel) RegisterProvider(p registry.Provider) error {
	return k.reg.Register(p)
}

// ListProviders returns registered providers matching the filter.
func (k *Kernel) ListProviders(f registry.Filter) []registry.Info {
	return k.reg.ListProviders(f)
}

// DescribeTools returns tool descriptors for one provider, or for all
// providers when the name is empty.
func (k *Kernel) DescribeTools(provider string) ([]registry.Descriptor, error) {
	return k.reg.DescribeTools(provider)
}

// FindCapability returns tools whose capability tokens contain the needle.
func (k *Kernel) FindCapability(needle string) []registry.Descriptor {
	return k.reg.FindByCapability(needle)
}

// ResolveOwner returns the provider that owns a tool.
func (k *Kernel) ResolveOwner(tool string) (string, error) {
	return k.reg.ResolveOwner(tool)
}

// CreateSession creates a session. A nil identity gets the configured
// default role.
func (k *Kernel) CreateSession(identity *session.Identity, preferences map[string]any) session.Session {
	s := k.sessions.Create(identity, preferences)
	k.metrics.ActiveSessions.Set(float64(k.sessions.Len()))
	return s
}

// GetSession returns a session snapshot.
func (k *Kernel) GetSession(id string) (session.Session, error) {
	return k.sessions.Get(id)
}

// WhoAmI returns the injectable context for a session: who is calling,
// their preferences, and which stored results they can reference.
func (k *Kernel) WhoAmI(sessionID string) (session.Context, error) {
	return k.sessions.InjectedContext(sessionID)
}

// GetSessionResult returns a response previously stored under the key.
func (k *Kernel) GetSessionResult(sessionID, key string) (call.Response, error) {
	return k.sessions.GetResult(sessionID, key)
}

// DestroySession removes a session.
func (k *Kernel) DestroySession(id string) error {
	err := k.sessions.Destroy(id)
	k.metrics.ActiveSessions.Set(float64(k.sessions.Len()))
	return err
}

// AuthCheck reports whether the session's identity may call the tool,
// without dispatching anything. It is computed even when enforcement is
// disabled.
func (k *Kernel) AuthCheck(sessionID, tool string) (permission.Decision, error) {
	desc, err := k.reg.Describe(tool)
	if err != nil {
		return permission.Decision{}, err
	}
	identity, err := k.identityFor(sessionID)
	if err != nil {
		return permission.Decision{}, err
	}
	return permission.Check(desc, k.domainOf(desc.Provider), identity), nil
}

// ListBundles returns the registered workflow bundles sorted by name.
func (k *Kernel) ListBundles() []bundle.Bundle {
	k.mu.RLock()
	defer k.mu.RUnlock()

	out := make([]bundle.Bundle, 0, len(k.bundles))
	for _, b := range k.bundles {
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b bundle.Bundle) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}

// RegisterBundle validates and adds a workflow bundle.
func (k *Kernel) RegisterBundle(b bundle.Bundle) error {
	if err := b.Validate(k.reg); err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	if _, dup := k.bundles[b.Name]; dup {
		return fmt.Errorf("%w: %s", bundle.ErrDuplicateBundle, b.Name)
	}
	k.bundles[b.Name] = b
	return nil
}

// PendingActions lists proposals still awaiting confirmation.
func (k *Kernel) PendingActions() []confirm.Action {
	return k.gate.Pending()
}

func (k *Kernel) identityFor(sessionID string) (session.Identity, error) {
	if sessionID == "" {
		return k.sessions.DefaultIdentity(), nil
	}
	s, err := k.sessions.Get(sessionID)
	if err != nil {
		return session.Identity{}, err
	}
	return s.Identity, nil
}

func (k *Kernel) domainOf(provider string) string {
	p, err := k.reg.Get(provider)
	if err != nil {
		return ""
	}
	return p.Domain()
}
