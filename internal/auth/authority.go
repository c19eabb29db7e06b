package auth

import "sort"

// RolePrefix is prepended to every identity-provider role to form an Authority.
const RolePrefix = "ROLE_"

// Authority is the canonical internal permission unit (e.g. "ROLE_user").
type Authority string

// AuthorityFromRole converts a role name into its authority string.
func AuthorityFromRole(role string) Authority {
	return Authority(RolePrefix + role)
}

// AuthoritySet is an unordered, duplicate-free collection of authorities.
// A nil set is valid and empty.
type AuthoritySet map[Authority]struct{}

// NewAuthoritySet builds a set from the given authorities.
func NewAuthoritySet(authorities ...Authority) AuthoritySet {
	set := make(AuthoritySet, len(authorities))
	for _, a := range authorities {
		set[a] = struct{}{}
	}
	return set
}

// AuthoritySetFromStrings rebuilds a set from its persisted string form.
func AuthoritySetFromStrings(values []string) AuthoritySet {
	set := make(AuthoritySet, len(values))
	for _, v := range values {
		set[Authority(v)] = struct{}{}
	}
	return set
}

// Add inserts an authority into the set.
func (s AuthoritySet) Add(a Authority) {
	s[a] = struct{}{}
}

// Has reports whether the set contains the authority.
func (s AuthoritySet) Has(a Authority) bool {
	_, ok := s[a]
	return ok
}

// Len returns the number of authorities in the set.
func (s AuthoritySet) Len() int {
	return len(s)
}

// Sorted returns the authorities in lexical order.
func (s AuthoritySet) Sorted() []Authority {
	out := make([]Authority, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the sorted authorities as plain strings, suitable for storage.
func (s AuthoritySet) Strings() []string {
	sorted := s.Sorted()
	out := make([]string, len(sorted))
	for i, a := range sorted {
		out[i] = string(a)
	}
	return out
}
