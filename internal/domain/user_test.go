package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meridianbank/ledger-core/internal/domain"
)

func TestDisplayName(t *testing.T) {
	tests := []struct {
		name  string
		first string
		last  string
		want  string
	}{
		{"ascii", "Alice", "Nguyen", "Alice N."},
		{"no last name", "Alice", "", "Alice"},
		{"multibyte initial", "Bjørn", "Østergaard", "Bjørn Ø."},
		{"single rune last name", "Li", "安", "Li 安."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &domain.User{FirstName: tt.first, LastName: tt.last}
			assert.Equal(t, tt.want, u.DisplayName())
		})
	}
}
