package sku

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "prefix is stripped", input: "ZPB-LTM814", expected: "LTM814"},
		{name: "no hyphen is identity", input: "NOPREFIX", expected: "NOPREFIX"},
		{name: "only the first hyphen splits", input: "AB-CD-EF", expected: "CD-EF"},
		{name: "leading hyphen", input: "-LTM814", expected: "LTM814"},
		{name: "trailing hyphen", input: "ZPB-", expected: ""},
		{name: "single hyphen", input: "-", expected: ""},
		{name: "empty string", input: "", expected: ""},
		{name: "whitespace kept", input: " ZPB- X1 ", expected: " X1 "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, Normalize(tt.input))
		})
	}
}

func TestNormalize_SubstringAfterFirstHyphen(t *testing.T) {
	t.Parallel()

	inputs := []string{"A-B", "PRE-FIX-123", "x-", "--", "a-b-c-d", "ZPB-LTM814"}
	for _, in := range inputs {
		idx := strings.Index(in, "-")
		assert.Equal(t, in[idx+1:], Normalize(in), "input %q", in)
	}
}

func TestNormalize_IdempotentWithoutHyphen(t *testing.T) {
	t.Parallel()

	inputs := []string{"ZPB-LTM814", "NOPREFIX", "ABC-123", "-", ""}
	for _, in := range inputs {
		once := Normalize(in)
		if strings.Contains(once, "-") {
			continue
		}
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestQueryable(t *testing.T) {
	t.Parallel()

	assert.True(t, Queryable("LTM814"))
	assert.False(t, Queryable(""))
	assert.False(t, Queryable("   "))
	assert.False(t, Queryable(Normalize("-")))
}
