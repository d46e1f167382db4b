package migration

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFoldASCII(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Città di València", "Citta di Valencia"},
		{"Müller-Lüdenscheidt", "Muller-Ludenscheidt"},
		{"Camí de Can Calçada", "Cami de Can Calcada"},
		{"日本語 street", " street"},
		{"plain ascii", "plain ascii"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, foldASCII(tt.in), "input %q", tt.in)
	}
}

func TestCollapseSpaces(t *testing.T) {
	assert.Equal(t, "a b c", collapseSpaces("  a \t b \n c  "))
	assert.Equal(t, "", collapseSpaces("   "))
}

func TestSanitizeField(t *testing.T) {
	assert.Equal(t, "Calle Mayor 1", sanitizeField("  Calle   Mayor  1 ", 0))

	long := strings.Repeat("Avinguda Diagonal ", 20)
	got := sanitizeField(long, maxAddressLen)
	assert.LessOrEqual(t, len(got), maxAddressLen)
	assert.False(t, strings.HasSuffix(got, " "))
}

func TestCountryCode(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"España", "ES"},
		{"es", "ES"},
		{"France", "FR"},
		{"", ""},
		{"X", "X"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, countryCode(tt.in), "input %q", tt.in)
	}
}
