// Package casing converts Go field paths such as "Storage.SyncWrites" into
// the names used by environment variables, flags, files and YAML keys.
package casing

import (
	"strings"
	"unicode"
)

// Words splits a dotted Go identifier path into lower-case words. Acronyms
// stay together: "Storage.URL" is [storage url], "HTTPPort" is [http port].
func Words(path string) []string {
	var words []string
	for _, segment := range strings.Split(path, ".") {
		words = append(words, segmentWords(segment)...)
	}
	return words
}

func segmentWords(s string) []string {
	r := []rune(s)

	var words []string
	start := 0
	for i := 1; i < len(r); i++ {
		upper := unicode.IsUpper(r[i])
		prevUpper := unicode.IsUpper(r[i-1])
		nextLower := i+1 < len(r) && !unicode.IsUpper(r[i+1])

		// A new word starts at an upper-case rune after a lower-case one,
		// or at the last upper-case rune of an acronym followed by lower case.
		if upper && (!prevUpper || nextLower) {
			words = append(words, strings.ToLower(string(r[start:i])))
			start = i
		}
	}
	if start < len(r) {
		words = append(words, strings.ToLower(string(r[start:])))
	}
	return words
}

// ToSnake returns path as snake_case: "Storage.SyncWrites" is
// "storage_sync_writes".
func ToSnake(path string) string {
	return strings.Join(Words(path), "_")
}

// ToScreamingSnake returns path as SCREAMING_SNAKE_CASE for environment
// variables.
func ToScreamingSnake(path string) string {
	return strings.ToUpper(ToSnake(path))
}

// ToKebab returns path as kebab-case for flags.
func ToKebab(path string) string {
	return strings.Join(Words(path), "-")
}
