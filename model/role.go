// Package model selects generation endpoints by role. Each role has a
// preferred list and a fallback list of named endpoints; endpoints that keep
// failing are skipped until a recovery timeout passes.
package model

// Role is the part of a cycle a model is asked to play.
type Role string

const (
	// RoleGenerate answers the cycle question symbolically.
	RoleGenerate Role = "generate"

	// RoleReview reviews the answer against the fetched sources.
	RoleReview Role = "review"
)

// IsValid checks if a role string is a known role.
func (r Role) IsValid() bool {
	switch r {
	case RoleGenerate, RoleReview:
		return true
	}
	return false
}

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// ParseRole converts a string to a Role, returning empty for invalid values.
func ParseRole(s string) Role {
	role := Role(s)
	if role.IsValid() {
		return role
	}
	return ""
}
