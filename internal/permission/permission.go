// Package permission implements the pure RBAC decision function applied
// before any tool dispatch. It has no state and no side effects, so it can
// be used as a pre-flight check without a live kernel.
package permission

import (
	"fmt"

	"github.com/basinworks/toolplane/internal/registry"
	"github.com/basinworks/toolplane/internal/session"
)

// Permission strings used across the kernel.
const (
	PermReadData         = "read:data"
	PermWriteData        = "write:data"
	PermWriteReports     = "write:reports"
	PermExecuteDecisions = "execute:decisions"
	PermAdminSystem      = "admin:system"
)

// Role names, ordered from least to most privileged. Each role's permission
// set is a strict superset of the one before it.
const (
	RoleAnalyst   = "analyst"
	RoleEngineer  = "engineer"
	RoleExecutive = "executive"
	RoleAdmin     = "admin"
)

// roleOrder lists roles in ascending privilege.
var roleOrder = []string{RoleAnalyst, RoleEngineer, RoleExecutive, RoleAdmin}

// roleAdditions lists each role's permissions beyond the previous role.
var roleAdditions = map[string][]string{
	RoleAnalyst:   {PermReadData},
	RoleEngineer:  {PermWriteData, PermWriteReports},
	RoleExecutive: {PermExecuteDecisions},
	RoleAdmin:     {PermAdminSystem},
}

// domainPermissions maps provider domains whose command tools need a
// permission beyond the base read permission.
var domainPermissions = map[string]string{
	"reporting": PermWriteReports,
	"ownership": PermWriteData,
	"decision":  PermExecuteDecisions,
	"admin":     PermAdminSystem,
}

// RolePermissions returns the full permission set for a role: the union of
// all lower roles' permissions plus its own. Unknown roles have none.
func RolePermissions(role string) []string {
	var perms []string
	for _, r := range roleOrder {
		perms = append(perms, roleAdditions[r]...)
		if r == role {
			return perms
		}
	}
	return nil
}

// Decision is the outcome of a permission check.
type Decision struct {
	Allowed             bool     `json:"allowed"`
	Reason              string   `json:"reason,omitempty"`
	RequiredRole        string   `json:"required_role,omitempty"`
	RequiredPermissions []string `json:"required_permissions,omitempty"`
}

// Required returns the permission set a tool demands, derived from its kind
// and its provider's domain. Every tool needs the base read permission;
// side-effecting command tools additionally need their domain's permission.
func Required(d registry.Descriptor, domain string) []string {
	required := []string{PermReadData}
	if d.Kind == registry.KindCommand {
		if extra, ok := domainPermissions[domain]; ok {
			required = append(required, extra)
		} else if d.SideEffecting {
			required = append(required, PermWriteData)
		}
	}
	return required
}

// Check decides whether the identity may invoke the described tool.
// Pure: the decision depends only on the descriptor, the provider domain,
// and the identity's permission set.
func Check(d registry.Descriptor, domain string, id session.Identity) Decision {
	required := Required(d, domain)

	have := make(map[string]struct{}, len(id.Permissions))
	for _, p := range id.Permissions {
		have[p] = struct{}{}
	}

	var missing []string
	for _, p := range required {
		if _, ok := have[p]; !ok {
			missing = append(missing, p)
		}
	}

	if len(missing) == 0 {
		return Decision{Allowed: true}
	}
	return Decision{
		Allowed:             false,
		Reason:              fmt.Sprintf("role %q lacks permissions %v for tool %s", id.Role, missing, d.Name),
		RequiredRole:        lowestRoleCovering(required),
		RequiredPermissions: required,
	}
}

// lowestRoleCovering returns the least privileged role whose permission set
// includes every required permission, or the highest role if none do.
func lowestRoleCovering(required []string) string {
	for _, role := range roleOrder {
		have := make(map[string]struct{})
		for _, p := range RolePermissions(role) {
			have[p] = struct{}{}
		}
		covered := true
		for _, p := range required {
			if _, ok := have[p]; !ok {
				covered = false
				break
			}
		}
		if covered {
			return role
		}
	}
	return RoleAdmin
}
