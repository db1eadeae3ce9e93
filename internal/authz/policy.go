// internal/authz/policy.go

// Package authz decides whether a verified principal may perform an operation
// on a resource. Decisions are deterministic and side-effect-free; the denial
// reason feeds logs and metrics but is never echoed to the caller.
package authz

import "taskhub/internal/model"

type Operation string

const (
	OpCreate Operation = "create"
	OpRead   Operation = "read"
	OpList   Operation = "list"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

type Reason string

const (
	ReasonCrossTenantAccess Reason = "CrossTenantAccess"
	ReasonInsufficientRole  Reason = "InsufficientRole"
)

// Resource carries the ownership facts a decision needs. For create and list
// only TenantID is meaningful.
type Resource struct {
	TenantID   string
	AssignedTo string
	CreatedBy  string
}

type Decision struct {
	Allowed bool
	Reason  Reason
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason Reason) Decision {
	return Decision{Reason: reason}
}

// Authorize applies the tenant-boundary rule first; no role can override it.
// Within the tenant, ADMIN may do anything, MEMBER may create and read, and
// may update only tasks it created or is assigned to. Delete is ADMIN-only.
func Authorize(p *model.Principal, op Operation, res Resource) Decision {
	if p.TenantID != res.TenantID {
		return deny(ReasonCrossTenantAccess)
	}

	switch p.Role {
	case model.RoleAdmin:
		return allow()
	case model.RoleMember:
		switch op {
		case OpCreate, OpRead, OpList:
			return allow()
		case OpUpdate:
			if res.AssignedTo == p.UserID || res.CreatedBy == p.UserID {
				return allow()
			}
			return deny(ReasonInsufficientRole)
		default:
			return deny(ReasonInsufficientRole)
		}
	default:
		return deny(ReasonInsufficientRole)
	}
}
