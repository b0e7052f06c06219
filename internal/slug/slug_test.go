package slug

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Science Fiction":      "science_fiction",
		"  Children's Books ":  "children_s_books",
		"history":              "history",
		"--Poetry--":           "poetry",
		"Self_Help":            "self_help",
		"":                     "",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slugify(in), "input %q", in)
	}
	assert.LessOrEqual(t, len(Slugify(strings.Repeat("ab ", 40))), MaxLen)
}

func TestIsSlug(t *testing.T) {
	assert.True(t, IsSlug("science_fiction"))
	assert.False(t, IsSlug("x"))
	assert.False(t, IsSlug("Science"))
	assert.False(t, IsSlug(strings.Repeat("a", MaxLen+1)))
}
