package auth

import "strings"

// Role is an authorization tag carried by accounts and tokens.
type Role = string

const (
	// RoleSuperAdmin has full administrative scope.
	RoleSuperAdmin Role = "SYSADMIN"
	// RoleBusinessAdmin administers every account except super-admins and other business-admins.
	RoleBusinessAdmin Role = "SYSBO"
	RoleSheetManager  Role = "SMBO"
	RoleSheetViewer   Role = "SGVBO"
	RoleDetailViewer  Role = "SDVBO"
	RolePartner       Role = "PRBO"
	RoleOperator      Role = "PO"
	RoleLandOwner     Role = "ADLU"
	// RoleRegular is the civic base role, also the default primary role.
	RoleRegular Role = "RU"

	RoleDefault = RoleRegular
)

var institutionalRoles = map[Role]struct{}{
	RoleSuperAdmin:    {},
	RoleBusinessAdmin: {},
	RoleSheetManager:  {},
	RoleSheetViewer:   {},
	RoleDetailViewer:  {},
	RolePartner:       {},
	RoleOperator:      {},
	RoleLandOwner:     {},
}

// viewer roles granted alongside the registered role
var registrationGrants = map[Role][]Role{
	RoleSuperAdmin:    {RoleSheetViewer, RoleDetailViewer},
	RoleBusinessAdmin: {RoleSheetViewer, RoleDetailViewer},
	RoleSheetManager:  {RoleSheetViewer, RoleDetailViewer},
	RolePartner:       {RoleSheetViewer, RoleDetailViewer},
	RoleOperator:      {RoleSheetViewer, RoleDetailViewer},
	RoleLandOwner:     {RoleSheetViewer, RoleDetailViewer},
	RoleRegular:       {RoleSheetViewer, RoleDetailViewer},
}

// RoleSet is an ordered, duplicate free list of roles. The first element is
// the primary role.
type RoleSet []Role

// ResolveRoles returns the effective roles of a record that may carry either
// the multi valued representation or the legacy single role. A non empty list
// wins; otherwise the legacy role is used; otherwise the set is empty.
func ResolveRoles(roles []string, legacy string) RoleSet {
	if set := NewRoleSet(roles...); len(set) > 0 {
		return set
	}
	return NewRoleSet(legacy)
}

// NewRoleSet normalizes tags, dropping blanks and duplicates while keeping order.
func NewRoleSet(roles ...string) RoleSet {
	set := make(RoleSet, 0, len(roles))
	seen := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		set = append(set, r)
	}
	return set
}

// Primary returns the first role, or RoleDefault when the set is empty.
func (s RoleSet) Primary() Role {
	if len(s) == 0 {
		return RoleDefault
	}
	return s[0]
}

// Has checks membership of a single role.
func (s RoleSet) Has(role Role) bool {
	for _, r := range s {
		if r == role {
			return true
		}
	}
	return false
}

// HasAny checks whether at least one of roles is in the set.
func (s RoleSet) HasAny(roles ...Role) bool {
	for _, role := range roles {
		if s.Has(role) {
			return true
		}
	}
	return false
}

// IsElevated reports whether the set holds an administrative role.
func (s RoleSet) IsElevated() bool {
	return s.HasAny(RoleSuperAdmin, RoleBusinessAdmin)
}

func (s RoleSet) IsSuperAdmin() bool {
	return s.Has(RoleSuperAdmin)
}

// IsBusinessAdminOnly is true for business-admins that are not also super-admins.
func (s RoleSet) IsBusinessAdminOnly() bool {
	return s.Has(RoleBusinessAdmin) && !s.Has(RoleSuperAdmin)
}

func (s RoleSet) Strings() []string {
	out := make([]string, len(s))
	copy(out, s)
	return out
}

// IsValidRole checks the tag is one the platform knows about.
func IsValidRole(role Role) bool {
	return role == RoleRegular || IsInstitutionalRole(role)
}

// IsInstitutionalRole checks the tag can be granted through institutional registration.
func IsInstitutionalRole(role Role) bool {
	_, ok := institutionalRoles[role]
	return ok
}

// ExpandRegistrationRoles returns the role list stored for a newly registered
// account that picked role.
func ExpandRegistrationRoles(role Role) RoleSet {
	roles := []string{role}
	roles = append(roles, registrationGrants[role]...)
	return NewRoleSet(roles...)
}

// RoleAction names an administrative action guarded by the role hierarchy.
type RoleAction string

const (
	ActionActivate    RoleAction = "activate"
	ActionSuspend     RoleAction = "suspend"
	ActionReactivate  RoleAction = "reactivate"
	ActionRemove      RoleAction = "remove"
	ActionForceLogout RoleAction = "force_logout"
)

// CanManage applies the administrative hierarchy: only elevated callers may act,
// business-admins never act on super-admins or on other business-admins, and
// super-admins cannot remove other super-admins.
func CanManage(caller, target RoleSet, action RoleAction) bool {
	if !caller.IsElevated() {
		return false
	}

	if caller.IsSuperAdmin() {
		if action == ActionRemove && target.IsSuperAdmin() {
			return false
		}
		return true
	}

	return !target.HasAny(RoleSuperAdmin, RoleBusinessAdmin)
}

// RoleCheck reports whether the claims carry at least one of the required roles.
// An empty requirement only checks that claims are present.
func RoleCheck(claims *JWTClaims, required ...Role) bool {
	if claims == nil {
		return false
	}
	if len(required) == 0 {
		return true
	}
	return claims.RoleSet().HasAny(required...)
}
