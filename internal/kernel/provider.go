package kernel

import (
	"context"
	"errors"
	"fmt"

	"github.com/basinworks/toolplane/internal/registry"
)

// discoveryProvider answers registry introspection through the normal
// dispatch path, so discovery tools carry the same auditing, shaping, and
// failure handling as every other tool.
type discoveryProvider struct {
	reg *registry.Registry
}

func (p *discoveryProvider) Name() string   { return "kernel" }
func (p *discoveryProvider) Domain() string { return "discovery" }
func (p *discoveryProvider) Description() string {
	return "Registry introspection: providers, tools, and capability search"
}

func (p *discoveryProvider) Tools() []registry.Descriptor {
	return []registry.Descriptor{
		{
			Name:         "list_providers",
			Kind:         registry.KindDiscovery,
			Capabilities: []string{"discovery", "providers"},
		},
		{
			Name:         "describe_tools",
			Kind:         registry.KindDiscovery,
			Capabilities: []string{"discovery", "tools"},
		},
		{
			Name:         "find_capability",
			Kind:         registry.KindDiscovery,
			Capabilities: []string{"discovery", "capability_search"},
		},
	}
}

func (p *discoveryProvider) Invoke(_ context.Context, tool string, args map[string]any) (any, error) {
	switch tool {
	case "list_providers":
		f := registry.Filter{
			Domain:     stringArg(args, "domain"),
			Kind:       registry.Kind(stringArg(args, "kind")),
			Capability: stringArg(args, "capability"),
		}
		return p.reg.ListProviders(f), nil

	case "describe_tools":
		return p.reg.DescribeTools(stringArg(args, "provider"))

	case "find_capability":
		needle := stringArg(args, "capability")
		if needle == "" {
			return nil, errors.New("missing data: capability argument is required")
		}
		return p.reg.FindByCapability(needle), nil

	default:
		return nil, fmt.Errorf("unknown discovery tool %q", tool)
	}
}

func stringArg(args map[string]any, key string) string {
	if args == nil {
		return ""
	}
	s, _ := args[key].(string)
	return s
}
