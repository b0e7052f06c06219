package slug

import (
	"regexp"
	"strings"
)

// MaxLen bounds slugs used as genre codes and metadata keys.
const MaxLen = 40

var reSlug = regexp.MustCompile(`^[a-z0-9_]{2,40}$`)

// IsSlug returns true if s matches ^[a-z0-9_]{2,40}$
func IsSlug(s string) bool {
	return reSlug.MatchString(s)
}

// Slugify turns free text such as "Science Fiction" into "science_fiction":
// lowercase, runs of other characters collapse to one '_', at most MaxLen bytes,
// no leading or trailing '_'.
func Slugify(s string) string {
	var b strings.Builder
	pendingSep := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')) {
			pendingSep = true
			continue
		}
		sep := pendingSep && b.Len() > 0
		need := 1
		if sep {
			need = 2
		}
		if b.Len()+need > MaxLen {
			break
		}
		if sep {
			b.WriteByte('_')
		}
		pendingSep = false
		b.WriteRune(r)
	}
	return b.String()
}
