// Package authz evaluates capability requirements against verified claims.
package authz

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/marketcore/gatekeeper/internal/auth"
)

// ErrNoResource is returned by an OwnerResolver when the resource does not exist.
var ErrNoResource = errors.New("resource does not exist")

// OwnerResolver returns the subject of the principal that owns the resource
// addressed by the current request. It must be read-only and safe to call
// more than once.
type OwnerResolver func(ctx context.Context) (string, error)

type requirementKind int

const (
	kindGroup requirementKind = iota + 1
	kindAnyGroup
	kindOwnerOr
	kindExpression
)

// Requirement is a capability a caller must hold. Requirements are built
// once at route registration and are safe to share between requests.
type Requirement struct {
	kind       requirementKind
	groups     []string
	privileged string
	resolver   OwnerResolver
	expr       string
	anonymous  bool
}

// Group requires membership in exactly this group.
func Group(group string) Requirement {
	return Requirement{kind: kindGroup, groups: []string{auth.NormalizeGroup(group)}}
}

// AnyGroup requires membership in at least one of groups.
func AnyGroup(groups ...string) Requirement {
	return Requirement{kind: kindAnyGroup, groups: auth.NormalizeGroups(groups)}
}

// OwnerOr allows members of the privileged group outright and otherwise
// allows only the owner reported by resolver.
func OwnerOr(privileged string, resolver OwnerResolver) Requirement {
	return Requirement{kind: kindOwnerOr, privileged: auth.NormalizeGroup(privileged), resolver: resolver}
}

// Expression requires a go-bexpr expression over the caller's attributes
// (subject, email, name, username, issuer, groups, roles) to hold.
func Expression(expr string) Requirement {
	return Requirement{kind: kindExpression, expr: strings.TrimSpace(expr)}
}

// AllowAnonymous returns a copy of r that lets callers without claims through.
// Authenticated callers are still evaluated.
func (r Requirement) AllowAnonymous() Requirement {
	r.anonymous = true
	return r
}

// Anonymous reports whether callers without claims are allowed.
func (r Requirement) Anonymous() bool {
	return r.anonymous
}

// Validate reports requirements that can never be satisfied, such as an empty
// group list or an unparsable expression.
func (r Requirement) Validate() error {
	switch r.kind {
	case kindGroup, kindAnyGroup:
		if len(r.groups) == 0 || r.groups[0] == "" {
			return fmt.Errorf("authz: group requirement without groups")
		}
	case kindOwnerOr:
		if r.resolver == nil {
			return fmt.Errorf("authz: owner requirement without resolver")
		}
	case kindExpression:
		if _, err := auth.CompileExpression(r.expr); err != nil {
			return fmt.Errorf("authz: %w", err)
		}
	default:
		return fmt.Errorf("authz: empty requirement")
	}
	return nil
}

func (r Requirement) String() string {
	switch r.kind {
	case kindGroup:
		return "group(" + strings.Join(r.groups, "") + ")"
	case kindAnyGroup:
		return "any(" + strings.Join(r.groups, ",") + ")"
	case kindOwnerOr:
		return "owner-or(" + r.privileged + ")"
	case kindExpression:
		return "expr(" + r.expr + ")"
	default:
		return "none"
	}
}

// Presets for the realm's well-known groups.
var (
	RequireOwner           = Group(auth.GroupOwner)
	RequireMerchant        = Group(auth.GroupMerchant)
	RequireClient          = Group(auth.GroupClient)
	RequireMerchantOrOwner = AnyGroup(auth.GroupMerchant, auth.GroupOwner)
)
