package auth

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Decision is the outcome of evaluating the policy table for a request.
type Decision int

const (
	// Allow lets the request through.
	Allow Decision = iota
	// Deny rejects the request (403).
	Deny
	// RedirectToLogin starts the interactive login flow.
	RedirectToLogin
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	case RedirectToLogin:
		return "redirect_to_login"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// RequirementKind enumerates what a rule demands of the caller.
type RequirementKind int

const (
	// Permit allows every caller.
	Permit RequirementKind = iota
	// RequireAuthority allows callers holding a specific authority.
	RequireAuthority
	// RequireAuthenticated allows any authenticated caller.
	RequireAuthenticated
)

// Requirement is the right-hand side of an authorization rule.
type Requirement struct {
	Kind      RequirementKind
	Authority Authority
}

// PermitAll returns a requirement every caller satisfies.
func PermitAll() Requirement { return Requirement{Kind: Permit} }

// HasAuthority returns a requirement satisfied by holders of a.
func HasAuthority(a Authority) Requirement {
	return Requirement{Kind: RequireAuthority, Authority: a}
}

// Authenticated returns a requirement satisfied by any logged-in caller.
func Authenticated() Requirement { return Requirement{Kind: RequireAuthenticated} }

func (r Requirement) String() string {
	switch r.Kind {
	case Permit:
		return "permitAll"
	case RequireAuthority:
		return fmt.Sprintf("hasAuthority(%s)", r.Authority)
	case RequireAuthenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("requirement(%d)", int(r.Kind))
	}
}

// Rule pairs a path pattern with a requirement.
type Rule struct {
	Pattern     string
	Requirement Requirement
}

// PolicyTable is an ordered, immutable list of rules. The first rule whose
// pattern matches the request path decides; unmatched paths require an
// authenticated caller.
type PolicyTable struct {
	rules []Rule
}

// NewPolicyTable validates and freezes the given rules.
func NewPolicyTable(rules ...Rule) (*PolicyTable, error) {
	frozen := make([]Rule, 0, len(rules))
	for i, rule := range rules {
		if err := validatePattern(rule.Pattern); err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		switch rule.Requirement.Kind {
		case Permit, RequireAuthenticated:
		case RequireAuthority:
			if rule.Requirement.Authority == "" {
				return nil, fmt.Errorf("rule %d (%s): authority requirement without authority", i, rule.Pattern)
			}
		default:
			return nil, fmt.Errorf("rule %d (%s): unknown requirement kind %d", i, rule.Pattern, rule.Requirement.Kind)
		}
		frozen = append(frozen, rule)
	}
	return &PolicyTable{rules: frozen}, nil
}

// MustPolicyTable is NewPolicyTable for static tables known to be valid.
func MustPolicyTable(rules ...Rule) *PolicyTable {
	t, err := NewPolicyTable(rules...)
	if err != nil {
		panic(err)
	}
	return t
}

// Default path groups of the edge service.
var (
	DefaultOperationalPaths = []string{"/actuator/**"}
	DefaultPublicPaths      = []string{"/", "/aggregate/**", "/api/docs/**", "/favicon.ico", "/_next/**"}
	DefaultProtectedPaths   = []ProtectedPath{{Pattern: "/dashboard/**", Authority: "ROLE_user"}}
)

// DefaultPolicy returns the reference policy of the edge service.
func DefaultPolicy() *PolicyTable {
	return MustPolicyTable(BuildRules(DefaultOperationalPaths, DefaultPublicPaths, DefaultProtectedPaths)...)
}

// ProtectedPath is a pattern restricted to holders of an authority.
type ProtectedPath struct {
	Pattern   string
	Authority Authority
}

// BuildRules lays out the standard table shape: operational paths, public
// paths, authority-protected paths, then a catch-all requiring authentication.
func BuildRules(operational, public []string, protected []ProtectedPath) []Rule {
	rules := make([]Rule, 0, len(operational)+len(public)+len(protected)+1)
	for _, p := range operational {
		rules = append(rules, Rule{Pattern: p, Requirement: PermitAll()})
	}
	for _, p := range public {
		rules = append(rules, Rule{Pattern: p, Requirement: PermitAll()})
	}
	for _, p := range protected {
		rules = append(rules, Rule{Pattern: p.Pattern, Requirement: HasAuthority(p.Authority)})
	}
	return append(rules, Rule{Pattern: "/**", Requirement: Authenticated()})
}

// Rules returns a copy of the table's rules in evaluation order.
func (t *PolicyTable) Rules() []Rule {
	return append([]Rule(nil), t.rules...)
}

// Match returns the first rule matching the request path.
func (t *PolicyTable) Match(requestPath string) (Rule, bool) {
	p := cleanRequestPath(requestPath)
	for _, rule := range t.rules {
		if MatchPath(rule.Pattern, p) {
			return rule, true
		}
	}
	return Rule{}, false
}

// Authorize evaluates the table for a request.
func (t *PolicyTable) Authorize(requestPath string, authorities AuthoritySet, authenticated bool) Decision {
	rule, ok := t.Match(requestPath)
	if !ok {
		rule = Rule{Pattern: "", Requirement: Authenticated()}
	}

	switch rule.Requirement.Kind {
	case Permit:
		return Allow
	case RequireAuthority:
		if authorities.Has(rule.Requirement.Authority) {
			return Allow
		}
		return Deny
	default:
		if authenticated {
			return Allow
		}
		return RedirectToLogin
	}
}

// MatchPath reports whether a request path matches a pattern. "*" matches one
// path segment, "**" any number of segments, and a trailing "/**" also matches
// the bare prefix ("/actuator/**" matches "/actuator").
func MatchPath(pattern, requestPath string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "/**"); ok && !hasMeta(prefix) {
		if prefix == "" {
			return strings.HasPrefix(requestPath, "/")
		}
		return requestPath == prefix || strings.HasPrefix(requestPath, prefix+"/")
	}
	if !hasMeta(pattern) {
		return pattern == requestPath
	}
	matched, err := doublestar.Match(pattern, requestPath)
	return err == nil && matched
}

func validatePattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("empty path pattern")
	}
	if !strings.HasPrefix(pattern, "/") {
		return fmt.Errorf("path pattern %q must start with /", pattern)
	}
	if !doublestar.ValidatePattern(pattern) {
		return fmt.Errorf("malformed path pattern %q", pattern)
	}
	return nil
}

func hasMeta(s string) bool {
	return strings.ContainsAny(s, "*?[{\\")
}

// cleanRequestPath resolves dot segments so "/api/docs/../user" is judged as
// "/api/user".
func cleanRequestPath(p string) string {
	if p == "" {
		return "/"
	}
	return path.Clean("/" + p)
}
