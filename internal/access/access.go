// Package access decides whether an account may perform an operation based on its role.
package access

import (
	"slices"

	"github.com/khanghh/rms/model"
)

type Decision int

const (
	Permit Decision = iota
	Deny
	Unauthenticated
)

func (d Decision) String() string {
	switch d {
	case Permit:
		return "permit"
	case Deny:
		return "deny"
	default:
		return "unauthenticated"
	}
}

// Policy is a set of roles allowed to perform an operation.
type Policy struct {
	Name   string
	Roles  []model.Role
	Reason string // reported and audited on denial
}

var (
	AdminOnly = Policy{
		Name:   "admin-only",
		Roles:  []model.Role{model.RoleAdmin},
		Reason: "权限不足，需要管理员权限",
	}
	AdminOrSecretary = Policy{
		Name:   "admin-or-secretary",
		Roles:  []model.Role{model.RoleAdmin, model.RoleSecretary},
		Reason: "权限不足，需要管理员或科研秘书权限",
	}
)

func (p Policy) Allows(role model.Role) bool {
	return slices.Contains(p.Roles, role)
}

// CheckAccess returns Unauthenticated for a nil account, Permit when the account role
// is allowed by policy and Deny otherwise.
func CheckAccess(user *model.User, policy Policy) Decision {
	if user == nil {
		return Unauthenticated
	}
	if policy.Allows(user.Role) {
		return Permit
	}
	return Deny
}
