// Package auth maps API roles onto the permissions each operation requires.
package auth

import (
	"fmt"
	"sort"
)

const (
	PermCarrierRead    = "carrier.read"
	PermCarrierWrite   = "carrier.write"
	PermMissionRead    = "mission.read"
	PermMissionWrite   = "mission.write"
	PermMissionAny     = "mission.any_carrier"
	PermCommunityWrite = "community.write"
	PermCommunityAdmin = "community.admin"
	PermEventsRead     = "events.read"
	PermMaintenance    = "maintenance.run"
)

const (
	RoleAdmin  = "admin"
	RoleMod    = "mod"
	RoleOwner  = "owner"
	RoleMember = "member"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

var rolePermissions = map[string][]string{
	RoleAdmin: {
		PermCarrierRead, PermCarrierWrite, PermMissionRead, PermMissionWrite, PermMissionAny,
		PermCommunityWrite, PermCommunityAdmin, PermEventsRead, PermMaintenance,
	},
	RoleMod:    {PermCarrierRead, PermMissionRead, PermMissionWrite, PermMissionAny, PermCommunityWrite, PermCommunityAdmin, PermEventsRead},
	RoleOwner:  {PermCarrierRead, PermMissionRead, PermMissionWrite, PermCommunityWrite},
	RoleMember: {PermCarrierRead, PermMissionRead, PermCommunityWrite},
}

// Permissions expands roles into a sorted, de-duplicated permission list.
// Unknown roles grant nothing.
func Permissions(roles []string) []string {
	set := map[string]struct{}{}
	for _, r := range roles {
		for _, p := range rolePermissions[r] {
			set[p] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Require returns ForbiddenError unless roles grant perm.
func Require(roles []string, perm string) error {
	for _, r := range roles {
		for _, p := range rolePermissions[r] {
			if p == perm {
				return nil
			}
		}
	}
	return ForbiddenError{Permission: perm}
}

// KnownRole reports whether name is one of the built-in roles.
func KnownRole(name string) bool {
	_, ok := rolePermissions[name]
	return ok
}
