package domain

import (
	"sort"
	"time"
)

// Clinician roles.
const (
	RoleAdmin     = "admin"
	RoleClinician = "clinician"
	RoleStaff     = "staff"
)

// rolePermissions maps each role to its baseline permission set.
var rolePermissions = map[string][]string{
	RoleAdmin: {
		"patients:read", "patients:write",
		"records:read", "records:write",
		"reports:read", "reports:export",
		"clinicians:manage", "audit:read",
	},
	RoleClinician: {
		"patients:read", "patients:write",
		"records:read", "records:write",
		"reports:read", "reports:export",
	},
	RoleStaff: {
		"patients:read", "records:read",
	},
}

// Grant is an explicit per-clinician permission with an optional expiry.
type Grant struct {
	ClinicianID int64
	Permission  string
	ExpiresAt   *time.Time
}

// Expired reports whether the grant is past its expiry at now.
func (g Grant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && g.ExpiresAt.Before(now)
}

// PermissionsFor resolves the role's permission set unioned with every
// non-expired explicit grant, deduplicated and sorted for stable responses.
func PermissionsFor(role string, grants []Grant, now time.Time) []string {
	seen := make(map[string]struct{})
	for _, p := range rolePermissions[role] {
		seen[p] = struct{}{}
	}
	for _, g := range grants {
		if g.Permission == "" || g.Expired(now) {
			continue
		}
		seen[g.Permission] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
