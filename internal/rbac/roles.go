package rbac

import "strings"

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleAdmin = "ADMIN"
	RoleUser  = "USER"
)

// Normalize upper-cases a role label so token claims and store values compare equal.
func Normalize(role string) string { return strings.ToUpper(strings.TrimSpace(role)) }
