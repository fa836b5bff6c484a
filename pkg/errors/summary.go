package errors

import "unicode/utf8"

// Summary renders err for a TEXT column: at most max bytes, never ending in
// a partial UTF-8 sequence.
func Summary(err error, max int) string {
	if err == nil {
		return ""
	}
	return TruncateUTF8(err.Error(), max)
}

// TruncateUTF8 cuts s to at most max bytes on a rune boundary.
func TruncateUTF8(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
