// internal/model/principal.go
package model

import "time"

type Role string

const (
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
)

// Principal is the verified identity derived from a request credential.
// It is never persisted.
type Principal struct {
	TenantID string
	UserID   string
	Role     Role
	Expiry   time.Time
}

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleMember
}
