//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package permissions defines the four-level permission lattice used for
// every authorization decision.
//
// Exactly four permissions exist, ordered by priority:
//
//	READ(1) < EDIT(2) < MANAGE(3) < NO_PERMISSIONS(100)
//
// Capability flags are monotone in the name: MANAGE implies everything EDIT
// implies, EDIT implies everything READ implies, and NO_PERMISSIONS implies
// nothing. A lower priority value means a more permissive grant; the
// priority is used only for ordering, never as a capability proxy.
package permissions

import (
	"github.com/manetu/trackauth/pkg/common"
)

// Permission is an immutable permission value. The four package-level
// constants are the only values that may exist.
type Permission struct {
	Name      string
	Priority  int
	CanRead   bool
	CanUpdate bool
	CanDelete bool
	CanManage bool
}

// The four process-wide permission constants.
var (
	Read = Permission{
		Name:     "READ",
		Priority: 1,
		CanRead:  true,
	}

	Edit = Permission{
		Name:      "EDIT",
		Priority:  2,
		CanRead:   true,
		CanUpdate: true,
	}

	Manage = Permission{
		Name:      "MANAGE",
		Priority:  3,
		CanRead:   true,
		CanUpdate: true,
		CanDelete: true,
		CanManage: true,
	}

	NoPermissions = Permission{
		Name:     "NO_PERMISSIONS",
		Priority: 100,
	}
)

var all = map[string]Permission{
	Read.Name:          Read,
	Edit.Name:          Edit,
	Manage.Name:        Manage,
	NoPermissions.Name: NoPermissions,
}

// Get looks up one of the four permission constants by name.
func Get(name string) (Permission, error) {
	p, ok := all[name]
	if !ok {
		return Permission{}, common.NewErrorf(common.CodeInvalidPermission,
			"invalid permission '%s'; valid permissions are READ, EDIT, MANAGE, NO_PERMISSIONS", name)
	}
	return p, nil
}

// Compare reports whether the permission named name1 ranks at or above the
// permission named name2, i.e. priority(name1) <= priority(name2). It is a
// total order over the four constants and is used wherever two candidate
// permissions must be ranked, such as selecting the most permissive across
// multiple group memberships.
func Compare(name1, name2 string) (bool, error) {
	p1, err := Get(name1)
	if err != nil {
		return false, err
	}
	p2, err := Get(name2)
	if err != nil {
		return false, err
	}
	return p1.Priority <= p2.Priority, nil
}

// Tier identifies which precedence level produced a resolved permission.
type Tier string

// Resolution tiers, in precedence order.
const (
	TierUser     Tier = "user"
	TierGroup    Tier = "group"
	TierFallback Tier = "fallback"
)

// Result is a computed, ephemeral resolution outcome: the effective
// permission plus the tier that produced it. Results are recomputed per
// request and never persisted.
type Result struct {
	Permission Permission
	Tier       Tier
}

// Capability names one of the four permission flags, as required by a
// protected operation.
type Capability int

// The four capabilities a protected operation may require.
const (
	CapabilityRead Capability = iota
	CapabilityUpdate
	CapabilityDelete
	CapabilityManage
)

// String returns the flag name of the capability.
func (c Capability) String() string {
	switch c {
	case CapabilityRead:
		return "can_read"
	case CapabilityUpdate:
		return "can_update"
	case CapabilityDelete:
		return "can_delete"
	case CapabilityManage:
		return "can_manage"
	}
	return "unknown"
}

// Allows reports whether the permission carries the given capability flag.
func (p Permission) Allows(c Capability) bool {
	switch c {
	case CapabilityRead:
		return p.CanRead
	case CapabilityUpdate:
		return p.CanUpdate
	case CapabilityDelete:
		return p.CanDelete
	case CapabilityManage:
		return p.CanManage
	}
	return false
}
