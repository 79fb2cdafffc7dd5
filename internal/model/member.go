package model

import "github.com/google/uuid"

// Role classifies a family member.
type Role string

const (
	// RoleParent is the organizing role; share owners map onto it.
	RoleParent Role = "parent"

	// RoleChild is every other member.
	RoleChild Role = "child"
)

// ParseRole maps a raw string onto the closed role set.
func ParseRole(raw string) (Role, bool) {
	switch r := Role(raw); r {
	case RoleParent, RoleChild:
		return r, true
	default:
		return "", false
	}
}

// FamilyMember is one person on the shared list. RemoteIdentity carries the
// opaque account identity when the member was derived from a share
// participant; in that case ID is always the deterministic derivation of
// RemoteIdentity.
type FamilyMember struct {
	ID             uuid.UUID
	Name           string
	Role           Role
	RemoteIdentity string
}

// NewFamilyMember creates a member with a freshly generated identifier.
func NewFamilyMember(name string, role Role) FamilyMember {
	return FamilyMember{
		ID:   uuid.New(),
		Name: name,
		Role: role,
	}
}

// DefaultMembers is the local placeholder family used until a share is
// established and the member list is rebuilt from participants.
func DefaultMembers() []FamilyMember {
	return []FamilyMember{
		NewFamilyMember("Parent 1", RoleParent),
		NewFamilyMember("Anna", RoleChild),
		NewFamilyMember("Max", RoleChild),
	}
}

// DefaultAssignee picks the member default tasks are assigned to: the first
// child, falling back to the first member.
func DefaultAssignee(members []FamilyMember) *uuid.UUID {
	for _, m := range members {
		if m.Role == RoleChild {
			id := m.ID
			return &id
		}
	}
	if len(members) > 0 {
		id := members[0].ID
		return &id
	}
	return nil
}
