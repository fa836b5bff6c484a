package enums

import "fmt"

// OperatorRole scopes what an operator token may do on the admin surface.
type OperatorRole string

const (
	OperatorRoleAdmin   OperatorRole = "admin"
	OperatorRoleSupport OperatorRole = "support"
)

var validOperatorRoles = []OperatorRole{OperatorRoleAdmin, OperatorRoleSupport}

// IsValid reports whether the value matches a known operator role.
func (r OperatorRole) IsValid() bool {
	for _, candidate := range validOperatorRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseOperatorRole converts raw input into an OperatorRole.
func ParseOperatorRole(value string) (OperatorRole, error) {
	for _, candidate := range validOperatorRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid operator role %q", value)
}
