package registry

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// Registry holds registered providers and pre-built discovery indexes.
// Registration is a one-time startup operation; duplicate names are a
// configuration error, not a runtime condition.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
	tools     map[string]Descriptor // tool name -> descriptor (Provider filled in)
	owner     map[string]string     // tool name -> provider name
	byProv    map[string][]string   // provider name -> tool names
	byDomain  map[string][]string   // domain -> provider names
	byKind    map[Kind][]string     // kind -> tool names
	byCapTok  map[string][]string   // lowercased capability token -> tool names
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		providers: make(map[string]Provider),
		tools:     make(map[string]Descriptor),
		owner:     make(map[string]string),
		byProv:    make(map[string][]string),
		byDomain:  make(map[string][]string),
		byKind:    make(map[Kind][]string),
		byCapTok:  make(map[string][]string),
	}
}

// Register adds a provider and indexes its tools.
// It returns ErrDuplicateProvider, ErrDuplicateTool, ErrEmptyName, or
// ErrInvalidKind on configuration errors.
func (r *Registry) Register(p Provider) error {
	name := strings.TrimSpace(p.Name())
	if name == "" {
		return fmt.Errorf("%w: provider", ErrEmptyName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateProvider, name)
	}

	descs := p.Tools()
	seen := make(map[string]struct{}, len(descs))
	for _, d := range descs {
		toolName := strings.TrimSpace(d.Name)
		if toolName == "" {
			return fmt.Errorf("%w: tool in provider %s", ErrEmptyName, name)
		}
		if !d.Kind.Valid() {
			return fmt.Errorf("%w: %s/%s kind %q", ErrInvalidKind, name, toolName, d.Kind)
		}
		if _, dup := seen[toolName]; dup {
			return fmt.Errorf("%w: %s within provider %s", ErrDuplicateTool, toolName, name)
		}
		if existing, taken := r.owner[toolName]; taken {
			return fmt.Errorf("%w: %s (owned by %s)", ErrDuplicateTool, toolName, existing)
		}
		seen[toolName] = struct{}{}
	}

	r.providers[name] = p
	r.byDomain[p.Domain()] = append(r.byDomain[p.Domain()], name)

	for _, d := range descs {
		d.Name = strings.TrimSpace(d.Name)
		d.Provider = name
		r.tools[d.Name] = d
		r.owner[d.Name] = name
		r.byProv[name] = append(r.byProv[name], d.Name)
		r.byKind[d.Kind] = append(r.byKind[d.Kind], d.Name)
		for _, capTok := range d.Capabilities {
			tok := strings.ToLower(strings.TrimSpace(capTok))
			if tok == "" {
				continue
			}
			r.byCapTok[tok] = append(r.byCapTok[tok], d.Name)
		}
	}
	return nil
}

// MustRegister is Register that panics on error. Intended for startup
// wiring where a duplicate registration is fatal misconfiguration.
func (r *Registry) MustRegister(p Provider) {
	if err := r.Register(p); err != nil {
		panic(fmt.Sprintf("registry: %v", err))
	}
}

// Filter narrows ListProviders results. Zero-value fields match everything.
type Filter struct {
	// Domain matches the provider's domain label exactly.
	Domain string

	// Kind keeps providers exposing at least one tool of this kind.
	Kind Kind

	// Capability keeps providers exposing at least one tool whose
	// capability set contains this substring (case-insensitive).
	Capability string
}

// ListProviders returns provider summaries matching the filter, sorted by
// name. Every filter field resolves through an index built at registration,
// so the cost is proportional to the matches, not the registry size.
func (r *Registry) ListProviders(f Filter) []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates := r.domainSet(f.Domain)
	if f.Kind != "" {
		candidates = intersect(candidates, r.ownerSet(r.byKind[f.Kind]))
	}
	if f.Capability != "" {
		candidates = intersect(candidates, r.ownerSet(r.capabilityMatches(f.Capability)))
	}

	infos := make([]Info, 0, len(candidates))
	for name := range candidates {
		p := r.providers[name]
		infos = append(infos, Info{
			Name:        name,
			Domain:      p.Domain(),
			Description: p.Description(),
			ToolCount:   len(r.byProv[name]),
		})
	}
	slices.SortFunc(infos, func(a, b Info) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return infos
}

// DescribeTools returns descriptors for the named provider, or for all
// providers when name is empty. Results are sorted by tool name.
func (r *Registry) DescribeTools(provider string) ([]Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if provider != "" {
		if _, ok := r.providers[provider]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, provider)
		}
		names := r.byProv[provider]
		descs := make([]Descriptor, 0, len(names))
		for _, tn := range names {
			descs = append(descs, r.tools[tn])
		}
		slices.SortFunc(descs, func(a, b Descriptor) int {
			return cmp.Compare(a.Name, b.Name)
		})
		return descs, nil
	}

	descs := make([]Descriptor, 0, len(r.tools))
	for _, d := range r.tools {
		descs = append(descs, d)
	}
	slices.SortFunc(descs, func(a, b Descriptor) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return descs, nil
}

// FindByCapability returns descriptors for every tool whose capability set
// contains the given substring, case-insensitively. Results are sorted by
// tool name and deduplicated.
func (r *Registry) FindByCapability(substr string) []Descriptor {
	needle := strings.ToLower(strings.TrimSpace(substr))
	if needle == "" {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var descs []Descriptor
	for _, tn := range r.capabilityMatches(needle) {
		if _, dup := seen[tn]; dup {
			continue
		}
		seen[tn] = struct{}{}
		descs = append(descs, r.tools[tn])
	}
	slices.SortFunc(descs, func(a, b Descriptor) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return descs
}

// ResolveOwner returns the name of the provider owning the given tool.
func (r *Registry) ResolveOwner(tool string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	owner, ok := r.owner[tool]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, tool)
	}
	return owner, nil
}

// Describe returns the descriptor for the given tool.
func (r *Registry) Describe(tool string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.tools[tool]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrToolNotFound, tool)
	}
	return d, nil
}

// Get returns the provider with the given name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	return p, nil
}

// domainSet returns the providers registered under the domain, or all
// providers when domain is empty. Callers must hold the read lock.
func (r *Registry) domainSet(domain string) map[string]struct{} {
	if domain != "" {
		set := make(map[string]struct{}, len(r.byDomain[domain]))
		for _, name := range r.byDomain[domain] {
			set[name] = struct{}{}
		}
		return set
	}
	set := make(map[string]struct{}, len(r.providers))
	for name := range r.providers {
		set[name] = struct{}{}
	}
	return set
}

// ownerSet maps tool names to the set of providers owning them.
func (r *Registry) ownerSet(toolNames []string) map[string]struct{} {
	set := make(map[string]struct{}, len(toolNames))
	for _, tn := range toolNames {
		set[r.owner[tn]] = struct{}{}
	}
	return set
}

// capabilityMatches returns the tool names whose capability tokens contain
// the needle, via the token index.
func (r *Registry) capabilityMatches(needle string) []string {
	needle = strings.ToLower(strings.TrimSpace(needle))
	var names []string
	for tok, toolNames := range r.byCapTok {
		if strings.Contains(tok, needle) {
			names = append(names, toolNames...)
		}
	}
	return names
}

func intersect(a, b map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(a))
	for k := range a {
		if _, ok := b[k]; ok {
			out[k] = struct{}{}
		}
	}
	return out
}
