package auth

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Permission strings checked by the UI and by fine-grained route guards.
const (
	PermDashboardView  = "dashboard.view"
	PermMembersView    = "members.view"
	PermMembersEdit    = "members.edit"
	PermMembersDelete  = "members.delete"
	PermMembersImport  = "members.import"
	PermPaymentsView   = "payments.view"
	PermPaymentsEdit   = "payments.edit"
	PermCheckinView    = "checkin.view"
	PermCheckinManage  = "checkin.manage"
	PermPlansManage    = "plans.manage"
	PermReportsView    = "reports.view"
	PermStaffManage    = "staff.manage"
	PermSettingsManage = "settings.manage"
	PermTokensManage   = "tokens.manage"
)

// staffPermissions is the explicit grant for RoleStaff.
var staffPermissions = []string{
	PermDashboardView,
	PermMembersView, PermMembersEdit,
	PermPaymentsView, PermPaymentsEdit,
	PermCheckinView, PermCheckinManage,
}

// PermissionSet is either the wildcard (every permission, including ones
// not defined yet) or an explicit list.
type PermissionSet struct {
	wildcard bool
	explicit []string
}

// Wildcard reports whether the set grants everything.
func (p PermissionSet) Wildcard() bool { return p.wildcard }

// Explicit returns a copy of the explicit grants. Empty for the wildcard.
func (p PermissionSet) Explicit() []string {
	return slices.Clone(p.explicit)
}

// Contains reports whether perm is granted. Matching is verbatim; there is
// no prefix or glob matching beyond the wildcard.
func (p PermissionSet) Contains(perm string) bool {
	return p.wildcard || slices.Contains(p.explicit, perm)
}

// MarshalJSON renders the wildcard as ["*"], as the frontend expects.
func (p PermissionSet) MarshalJSON() ([]byte, error) {
	if p.wildcard {
		return []byte(`["*"]`), nil
	}
	if p.explicit == nil {
		return []byte(`[]`), nil
	}
	return json.Marshal(p.explicit)
}

// PermissionsFor returns the static permission set of role.
func PermissionsFor(role Role) (PermissionSet, error) {
	switch role {
	case RoleManager:
		return PermissionSet{wildcard: true}, nil
	case RoleStaff:
		return PermissionSet{explicit: staffPermissions}, nil
	default:
		return PermissionSet{}, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
}

// IsAllowed reports whether role holds perm. Unknown roles hold nothing.
func IsAllowed(role Role, perm string) bool {
	set, err := PermissionsFor(role)
	if err != nil {
		return false
	}
	return set.Contains(perm)
}

// RequireRole reports whether role is one of allowed. This is the coarse,
// route-level check; IsAllowed is the fine-grained one.
func RequireRole(role Role, allowed ...Role) bool {
	return slices.Contains(allowed, role)
}
