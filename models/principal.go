package models

import "slices"

// Role is a marketplace role carried in the access token.
type Role string

const (
	RoleBuyer     Role = "buyer"
	RoleSeller    Role = "seller"
	RoleLogistics Role = "logistics"
	RoleAdmin     Role = "admin"
)

// Principal is the already-authenticated caller.
type Principal struct {
	UserID string   `json:"userId"`
	Roles  []string `json:"roles"`
}

func (p Principal) Has(role Role) bool {
	return slices.Contains(p.Roles, string(role))
}

func (p Principal) IsAdmin() bool {
	return p.Has(RoleAdmin)
}

// Anonymous reports whether no user is attached.
func (p Principal) Anonymous() bool {
	return p.UserID == ""
}
