package relay

import (
	"regexp"
	"strings"
)

// repeatedSlash matches a run of slashes that follows a non-colon character,
// so the "//" after a scheme is left alone.
var repeatedSlash = regexp.MustCompile(`([^:]/)/+`)

// NormalizeURL strips trailing slashes and collapses repeated path separators.
// "http://host//a//b/" becomes "http://host/a/b".
func NormalizeURL(raw string) string {
	u := strings.TrimRight(strings.TrimSpace(raw), "/")
	return repeatedSlash.ReplaceAllString(u, "$1")
}
