package pipeline

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	reTag        = regexp.MustCompile(`<[^>]*>`)
	reWhitespace = regexp.MustCompile(`\s+`)
)

// StripTags removes markup tags from s.
func StripTags(s string) string {
	return reTag.ReplaceAllString(s, "")
}

// WordCount counts words in tag-stripped text. Each CJK character is one
// word; everything else is split on whitespace.
func WordCount(s string) int {
	s = StripTags(s)

	count := 0
	inWord := false
	for _, r := range s {
		switch {
		case isCJK(r):
			count++
			inWord = false
		case unicode.IsSpace(r):
			inWord = false
		default:
			if !inWord {
				count++
				inWord = true
			}
		}
	}
	return count
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

// Snippet returns the first n runes of the tag-stripped, whitespace-collapsed text.
func Snippet(s string, n int) string {
	s = strings.TrimSpace(reWhitespace.ReplaceAllString(StripTags(s), " "))
	return truncateRunes(s, n)
}

// truncateRunes truncates s to at most n runes without splitting UTF-8 sequences.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
