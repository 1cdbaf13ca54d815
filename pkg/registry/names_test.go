package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"lodash", "lodash"},
		{"@scope/name", "@scope/name"},
		{"%40scope%2Fname", "@scope/name"},
		{"/lodash/", "lodash"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeName(tt.input))
		})
	}
}

func TestEncodeForUpstream(t *testing.T) {
	assert.Equal(t, "lodash", EncodeForUpstream("lodash"))
	assert.Equal(t, "@scope%2Fname", EncodeForUpstream("@scope/name"))
}

func TestScope(t *testing.T) {
	tests := []struct {
		name     string
		expected string
	}{
		{"lodash", ""},
		{"@acme/util", "acme"},
		{"@acme", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Scope(tt.name))
		})
	}
}

func TestIsValidName(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"lodash", true},
		{"@scope/name", true},
		{"", false},
		{".hidden", false},
		{"_private", false},
		{"@scope", false},
		{"Has-Upper-Case", false},
		{"valid-name_1.0~x", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, IsValidName(tt.name))
		})
	}
}

func TestScopedNameEquivalence(t *testing.T) {
	literal := "@scope/name"
	encoded := "%40scope%2Fname"
	assert.Equal(t, NormalizeName(literal), NormalizeName(encoded))
}
