package backend

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxNameLength bounds stored display names, in runes.
const MaxNameLength = 64

var namePolicy = bluemonday.StrictPolicy()

// SanitizeName removes all markup from a display name. An empty result
// falls back to the local part of email.
func SanitizeName(name, email string) string {
	decoded := html.UnescapeString(name)
	sanitized := html.UnescapeString(namePolicy.Sanitize(decoded))
	sanitized = strings.Join(strings.Fields(sanitized), " ")

	if utf8.RuneCountInString(sanitized) > MaxNameLength {
		sanitized = string([]rune(sanitized)[:MaxNameLength])
	}
	if sanitized == "" {
		local, _, _ := strings.Cut(email, "@")
		sanitized = local
	}
	return sanitized
}
