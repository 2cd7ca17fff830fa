package realm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnsureList(t *testing.T) {
	tests := []struct {
		name       string
		privileged string
		extra      []string
		want       []string
	}{
		{"defaults", "", nil, []string{"client", "merchant", "owner"}},
		{"custom privileged group", "/admins", nil, []string{"client", "merchant", "admins"}},
		{"extra groups are normalized and deduplicated", "owner", []string{"/support", "/merchant", " "}, []string{"client", "merchant", "owner", "support"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ensureList(tt.privileged, tt.extra))
		})
	}
}
