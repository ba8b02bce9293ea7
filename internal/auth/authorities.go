package auth

import (
	"sort"
	"strings"
)

// RolePrefix marks role authorities, distinguishing them from permissions.
const RolePrefix = "ROLE_"

// RoleAuthority returns the authority string for a role name.
func RoleAuthority(role string) string {
	return RolePrefix + role
}

// ResolveAuthorities flattens roles into the authority set embedded in a
// token: one ROLE_<name> per role plus every permission each role owns.
// The result is sorted and free of duplicates.
func ResolveAuthorities(roles []Role) []string {
	set := make(map[string]struct{})
	for _, role := range roles {
		name := strings.TrimSpace(role.Name)
		if name == "" {
			continue
		}
		set[RoleAuthority(name)] = struct{}{}
		for _, p := range role.Permissions {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			set[p] = struct{}{}
		}
	}
	return sortedKeys(set)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func dedupeStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			continue
		}
		set[v] = struct{}{}
		result = append(result, v)
	}
	return result
}
