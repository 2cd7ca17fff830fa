package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeGroup(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"owner", "owner"},
		{"/owner", "owner"},
		{" /merchant ", "merchant"},
		{"/parent/child", "parent/child"},
		{"", ""},
		{"/", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeGroup(tt.in), tt.in)
	}
}

// A claim of "owner" satisfies "/owner" and the other way round.
func TestContainsGroup_Bidirectional(t *testing.T) {
	assert.True(t, ContainsGroup([]string{"owner"}, "/owner"))
	assert.True(t, ContainsGroup([]string{"/owner"}, "owner"))
	assert.True(t, ContainsGroup([]string{"/owner"}, "/owner"))
	assert.False(t, ContainsGroup([]string{"/owners"}, "owner"))
	assert.False(t, ContainsGroup([]string{""}, ""))
	assert.False(t, ContainsGroup(nil, "owner"))
}

func TestNormalizeGroups(t *testing.T) {
	assert.Equal(t, []string{"client", "merchant"}, NormalizeGroups([]string{"/client", "client", " ", "merchant"}))
	assert.NotNil(t, NormalizeGroups(nil))
}

func TestExtractGroups(t *testing.T) {
	tests := []struct {
		name    string
		claims  map[string]any
		path    string
		want    []string
		wantErr bool
	}{
		{name: "missing claim", claims: map[string]any{}, want: []string{}},
		{name: "null claim", claims: map[string]any{"groups": nil}, want: []string{}},
		{name: "flat", claims: map[string]any{"groups": []any{"/client", "merchant"}}, want: []string{"/client", "merchant"}},
		{name: "typed flat", claims: map[string]any{"groups": []string{"owner"}}, want: []string{"owner"}},
		{name: "empty array", claims: map[string]any{"groups": []any{}}, want: []string{}},
		{
			name:   "nested",
			claims: map[string]any{"groups": []any{map[string]any{"name": "merchant", "path": "/merchant"}}},
			path:   "name",
			want:   []string{"merchant"},
		},
		{name: "scalar", claims: map[string]any{"groups": "owner"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractGroups(tt.claims, "groups", tt.path)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClaimsFromMap(t *testing.T) {
	claims, err := ClaimsFromMap(map[string]any{
		"sub":                "abc",
		"email":              "a@x.com",
		"name":               "A X",
		"preferred_username": "a@x.com",
		"iss":                "http://kc/realms/marketplace",
		"groups":             []any{"/merchant"},
		"realm_access":       map[string]any{"roles": []any{"default-roles-marketplace"}},
		"exp":                float64(1700000000),
	}, "groups")
	require.NoError(t, err)
	assert.Equal(t, "abc", claims.Subject)
	assert.Equal(t, []string{"/merchant"}, claims.Groups)
	assert.Equal(t, []string{"default-roles-marketplace"}, claims.Roles)
	assert.Equal(t, "http://kc/realms/marketplace", claims.Issuer)

	_, err = ClaimsFromMap(map[string]any{"email": "a@x.com"}, "groups")
	assert.Error(t, err, "subject is mandatory")
}

func TestClaimsContextCopies(t *testing.T) {
	original := &Claims{Subject: "s", Groups: []string{"client"}}
	ctx := WithClaims(context.Background(), original)

	got, ok := ClaimsFromContext(ctx)
	require.True(t, ok)
	got.Groups[0] = "owner"

	again, _ := ClaimsFromContext(ctx)
	assert.Equal(t, []string{"client"}, again.Groups)

	_, ok = ClaimsFromContext(context.Background())
	assert.False(t, ok)
	assert.Equal(t, context.Background(), WithClaims(context.Background(), nil))
}

func TestEvaluateExpression(t *testing.T) {
	claims := &Claims{Subject: "s", Email: "shop@vanilla.mg", Groups: []string{"/merchant"}}

	assert.True(t, EvaluateExpression(`"merchant" in groups`, claims))
	assert.True(t, EvaluateExpression(`email == "shop@vanilla.mg" and "merchant" in groups`, claims))
	assert.False(t, EvaluateExpression(`"owner" in groups`, claims))
	assert.False(t, EvaluateExpression(`this is not an expression ((`, claims))
	assert.False(t, EvaluateExpression(`"merchant" in groups`, nil))

	_, err := CompileExpression("   ")
	assert.Error(t, err)

	first, err := CompileExpression(`"client" in groups`)
	require.NoError(t, err)
	second, err := CompileExpression(`"client" in groups`)
	require.NoError(t, err)
	assert.Same(t, first, second)
}
