package normalize

import "strings"

// Email returns a normalized form of an email address suitable for
// storage and comparisons. Normalization currently trims surrounding
// whitespace and lower-cases the address.
func Email(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

// Content trims surrounding whitespace from a message body. A body that
// normalizes to "" is treated as empty.
func Content(c string) string {
	return strings.TrimSpace(c)
}
