package sanitize

import "strings"

// The gateway rejects requests whose fields contain characters from its
// reserved set (separators used by its own wire format).
const disallowed = "&§()*<>,;:[]?=%"

// Clean strips gateway-reserved characters from s and trims surrounding
// whitespace.
func Clean(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(disallowed, r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

// CleanTruncate applies Clean then Truncate.
func CleanTruncate(s string, n int) string {
	return Truncate(Clean(s), n)
}
