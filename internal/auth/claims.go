package auth

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// Claims is the per-request identity derived from a verified token.
type Claims struct {
	Subject           string   `json:"sub"`
	Email             string   `json:"email,omitempty"`
	Name              string   `json:"name,omitempty"`
	PreferredUsername string   `json:"preferredUsername,omitempty"`
	Groups            []string `json:"groups"`
	Roles             []string `json:"roles"`
	Issuer            string   `json:"iss"`
}

// HasGroup reports whether the caller belongs to group, in either "/group"
// or "group" form.
func (c *Claims) HasGroup(group string) bool {
	if c == nil {
		return false
	}
	return ContainsGroup(c.Groups, group)
}

// HasAnyGroup reports whether the caller belongs to at least one of groups.
func (c *Claims) HasAnyGroup(groups ...string) bool {
	for _, g := range groups {
		if c.HasGroup(g) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so that context consumers cannot mutate shared slices.
func (c *Claims) Clone() *Claims {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Groups = append([]string{}, c.Groups...)
	cp.Roles = append([]string{}, c.Roles...)
	return &cp
}

// Attributes exposes the claims as a flat map for expression evaluation.
func (c *Claims) Attributes() map[string]any {
	return map[string]any{
		"subject":  c.Subject,
		"email":    c.Email,
		"name":     c.Name,
		"username": c.PreferredUsername,
		"issuer":   c.Issuer,
		"groups":   NormalizeGroups(c.Groups),
		"roles":    append([]string{}, c.Roles...),
	}
}

// keycloakClaims mirrors the parts of a Keycloak access token we consume
type keycloakClaims struct {
	Subject           string `mapstructure:"sub"`
	Email             string `mapstructure:"email"`
	Name              string `mapstructure:"name"`
	PreferredUsername string `mapstructure:"preferred_username"`
	Issuer            string `mapstructure:"iss"`
	RealmAccess       struct {
		Roles []string `mapstructure:"roles"`
	} `mapstructure:"realm_access"`
}

// ClaimsFromMap decodes a verified token's claim map. Groups and roles
// default to empty slices when absent.
func ClaimsFromMap(raw map[string]any, groupsField string) (*Claims, error) {
	var kc keycloakClaims
	if err := mapstructure.Decode(raw, &kc); err != nil {
		return nil, fmt.Errorf("decode claims: %w", err)
	}
	if kc.Subject == "" {
		return nil, fmt.Errorf("claim field sub is empty")
	}

	groups, err := ExtractGroups(raw, groupsField, "name")
	if err != nil {
		return nil, err
	}

	roles := kc.RealmAccess.Roles
	if roles == nil {
		roles = []string{}
	}

	return &Claims{
		Subject:           kc.Subject,
		Email:             kc.Email,
		Name:              kc.Name,
		PreferredUsername: kc.PreferredUsername,
		Groups:            groups,
		Roles:             roles,
		Issuer:            kc.Issuer,
	}, nil
}

// ExtractGroups handles both flat and nested group claims from JWT tokens
// Supports:
//   - Flat arrays: ["client", "/merchant"]
//   - Nested objects: [{"name": "merchant", "path": "/merchant"}] with claimPath="name"
//
// A missing claim yields an empty list; callers may have no groups.
func ExtractGroups(claims map[string]any, claimField string, claimPath string) ([]string, error) {
	rawValue, ok := claims[claimField]
	if !ok || rawValue == nil {
		return []string{}, nil
	}

	// Try flat string array first
	switch groups := rawValue.(type) {
	case []string:
		return append([]string{}, groups...), nil
	case []any:
		result := make([]string, 0, len(groups))
		for _, g := range groups {
			if str, ok := g.(string); ok {
				result = append(result, str)
			}
		}
		if len(result) > 0 || len(groups) == 0 {
			return result, nil
		}
	}

	// Try nested extraction if path provided: [{"name": "merchant"}]
	if claimPath != "" {
		return extractNestedGroups(rawValue, claimPath)
	}

	return nil, fmt.Errorf("groups claim invalid format (expected []string or []object with path)")
}

// extractNestedGroups uses mapstructure to extract from nested objects
func extractNestedGroups(rawValue any, path string) ([]string, error) {
	var objects []map[string]any
	if err := mapstructure.Decode(rawValue, &objects); err != nil {
		return nil, fmt.Errorf("failed to decode nested groups: %w", err)
	}

	result := make([]string, 0, len(objects))
	for _, obj := range objects {
		if val, ok := obj[path].(string); ok {
			result = append(result, val)
		}
	}
	return result, nil
}
