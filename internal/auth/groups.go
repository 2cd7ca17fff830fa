package auth

import "strings"

// Well-known realm groups.
const (
	GroupClient   = "client"
	GroupMerchant = "merchant"
	GroupOwner    = "owner"
)

// NormalizeGroup returns the canonical form of a group name. Keycloak emits
// group paths ("/owner") in tokens while configuration and the admin API use
// bare names ("owner"); both sides of every comparison go through here.
func NormalizeGroup(group string) string {
	return strings.TrimPrefix(strings.TrimSpace(group), "/")
}

// NormalizeGroups normalizes and deduplicates groups, preserving order and
// dropping empty entries. The result is never nil.
func NormalizeGroups(groups []string) []string {
	out := make([]string, 0, len(groups))
	seen := make(map[string]struct{}, len(groups))
	for _, g := range groups {
		n := NormalizeGroup(g)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// ContainsGroup reports whether groups contains want, comparing normalized forms.
func ContainsGroup(groups []string, want string) bool {
	want = NormalizeGroup(want)
	if want == "" {
		return false
	}
	for _, g := range groups {
		if NormalizeGroup(g) == want {
			return true
		}
	}
	return false
}
