package auth

import "strings"

// Role is the access level carried in a token's role claim.
type Role string

const (
	// RoleViewer reads and exports tax reports for its tenant's companies.
	RoleViewer Role = "viewer"
	// RoleOperator may also queue cache prefetches.
	RoleOperator Role = "operator"
	// RoleAdmin may also clear the report cache.
	RoleAdmin Role = "admin"
)

var roleRanks = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// NormalizeRole accepts a role claim in any case, with surrounding space.
func NormalizeRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	if _, ok := roleRanks[role]; !ok {
		return "", false
	}
	return role, true
}

// RoleAtLeast reports whether role grants everything required grants.
// Unknown roles satisfy nothing.
func RoleAtLeast(role Role, required Role) bool {
	have, ok := roleRanks[role]
	return ok && have >= roleRanks[required]
}
