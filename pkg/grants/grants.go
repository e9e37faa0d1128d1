// Package grants implements the role → permission bitmask table used to
// gate room requests. Roles form a fixed ladder; every role's effective
// mask is a superset of the masks below it, and Administrator/Owner always
// hold every permission.
package grants

// Role is a rung on the fixed privilege ladder.
type Role int

const (
	RoleUnregistered Role = iota
	RoleRegistered
	RoleTrusted
	RoleModerator
	RoleAdministrator
	RoleOwner

	numRoles = int(RoleOwner) + 1
)

var roleNames = [numRoles]string{
	"unregistered",
	"registered",
	"trusted",
	"moderator",
	"administrator",
	"owner",
}

// String returns the serialized name of the role.
func (r Role) String() string {
	if r < 0 || int(r) >= numRoles {
		return "unknown"
	}
	return roleNames[r]
}

// RoleFromName maps a serialized role name back to a Role.
func RoleFromName(name string) (Role, bool) {
	for i, n := range roleNames {
		if n == name {
			return Role(i), true
		}
	}
	return 0, false
}

// Mask is a permission bitmask; bit k set means permission k granted.
type Mask uint32

// Permission bits.
const (
	PermPlayback Mask = 1 << iota
	PermSkip
	PermSeek
	PermQueueAdd
	PermQueueRemove
	PermQueueOrder
	PermQueueVote
	PermChat
	PermSetTitle
	PermSetVisibility
	PermSetQueueMode
	PermPromoteAdmin
	PermPromoteModerator
	PermPromoteTrusted

	// EveryPermission is the all-bits mask held by Administrator and Owner.
	EveryPermission Mask = 1<<iota - 1
)

var permNames = map[Mask]string{
	PermPlayback:         "playback.play-pause",
	PermSkip:             "playback.skip",
	PermSeek:             "playback.seek",
	PermQueueAdd:         "manage-queue.add",
	PermQueueRemove:      "manage-queue.remove",
	PermQueueOrder:       "manage-queue.order",
	PermQueueVote:        "manage-queue.vote",
	PermChat:             "chat",
	PermSetTitle:         "configure-room.set-title",
	PermSetVisibility:    "configure-room.set-visibility",
	PermSetQueueMode:     "configure-room.set-queue-mode",
	PermPromoteAdmin:     "manage-users.promote-admin",
	PermPromoteModerator: "manage-users.promote-moderator",
	PermPromoteTrusted:   "manage-users.promote-trusted-user",
}

// PermissionName returns the canonical dotted name of a single permission
// bit, used in permission-denied rejections.
func PermissionName(p Mask) string {
	if name, ok := permNames[p]; ok {
		return name
	}
	return "unknown"
}

// defaultMasks seeds a fresh table. Each entry is the role's explicit
// grant; inheritance is derived on top.
var defaultMasks = [numRoles]Mask{
	RoleUnregistered:  PermPlayback | PermSkip | PermSeek | PermQueueAdd | PermQueueVote | PermChat,
	RoleRegistered:    0,
	RoleTrusted:       0,
	RoleModerator:     PermQueueRemove | PermQueueOrder | PermSetTitle | PermPromoteTrusted,
	RoleAdministrator: EveryPermission,
	RoleOwner:         EveryPermission,
}

// Grants is the per-room permission table. The zero value is unusable; use
// NewDefault or FromMap.
type Grants struct {
	explicit [numRoles]Mask // as configured
	masks    [numRoles]Mask // effective, after inheritance
}

// NewDefault returns a table seeded from the default role hierarchy.
func NewDefault() *Grants {
	g := &Grants{explicit: defaultMasks}
	g.recompute()
	return g
}

// recompute re-derives every role's effective mask as the union of its
// explicit grants and all lower roles' effective grants, then forces
// Administrator and Owner to the full mask.
func (g *Grants) recompute() {
	g.masks[RoleUnregistered] = g.explicit[RoleUnregistered]
	for r := RoleRegistered; r <= RoleModerator; r++ {
		g.masks[r] = g.explicit[r] | g.masks[r-1]
	}
	g.masks[RoleAdministrator] = EveryPermission
	g.masks[RoleOwner] = EveryPermission
}

// Granted reports whether role holds the given permission bit.
func (g *Grants) Granted(role Role, perm Mask) bool {
	if role < 0 || int(role) >= numRoles {
		return false
	}
	return g.masks[role]&perm == perm
}

// SetRoleGrants replaces a role's explicit mask and re-derives inheritance.
func (g *Grants) SetRoleGrants(role Role, mask Mask) {
	if role < 0 || int(role) >= numRoles {
		return
	}
	g.explicit[role] = mask
	g.recompute()
}

// EffectiveMask returns the role's mask after inheritance.
func (g *Grants) EffectiveMask(role Role) Mask {
	if role < 0 || int(role) >= numRoles {
		return 0
	}
	return g.masks[role]
}

// ToMap serializes the explicit table to the compact role-name → mask form
// used in snapshots and the configuration store.
func (g *Grants) ToMap() map[string]int {
	out := make(map[string]int, numRoles)
	for r := 0; r < numRoles; r++ {
		out[roleNames[r]] = int(g.explicit[r])
	}
	return out
}

// FromMap reconstructs a table from serialized form. Roles missing from the
// map keep their default mask rather than failing.
func FromMap(m map[string]int) *Grants {
	g := &Grants{explicit: defaultMasks}
	for name, mask := range m {
		if r, ok := RoleFromName(name); ok {
			g.explicit[r] = Mask(mask)
		}
	}
	g.recompute()
	return g
}
