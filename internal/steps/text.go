package steps

import "unicode/utf8"

// Clip returns the first n runes of s.
func Clip(s string, n int) string {
	i := 0
	for pos := range s {
		if i >= n {
			return s[:pos]
		}
		i++
	}
	return s
}

// Tail returns the last n runes of s, prefixed with "..." when s was cut.
func Tail(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	cut := len(s)
	for range n {
		_, size := utf8.DecodeLastRuneInString(s[:cut])
		cut -= size
	}
	return "..." + s[cut:]
}
