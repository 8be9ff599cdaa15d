package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

type Role int

const (
	RoleStudent Role = iota + 1
	RoleEducator
	RoleSuperadmin
)

func (r Role) String() string {
	switch r {
	case RoleStudent:
		return "student"
	case RoleEducator:
		return "educator"
	case RoleSuperadmin:
		return "superadmin"
	}
	return "unknown"
}

func ParseRole(raw string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "student":
		return RoleStudent, nil
	case "educator":
		return RoleEducator, nil
	case "superadmin":
		return RoleSuperadmin, nil
	}
	return 0, fmt.Errorf("unknown role %q", raw)
}

// Principal is the already-verified caller supplied by the authentication layer.
type Principal struct {
	UserID uuid.UUID
	Email  string
	Role   Role
}

func (p Principal) CanPurchase() bool {
	return p.Role == RoleStudent
}

func (p Principal) IsAdmin() bool {
	return p.Role == RoleSuperadmin
}

// CanManage reports whether p may act on an order owned by ownerID.
func (p Principal) CanManage(ownerID uuid.UUID) bool {
	return p.IsAdmin() || p.UserID == ownerID
}
