package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWordCount(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected int
	}{
		{name: "empty", input: "", expected: 0},
		{name: "whitespace only", input: " \n\t ", expected: 0},
		{name: "english words", input: "The market is growing fast", expected: 5},
		{name: "collapses whitespace", input: "  one\n\ntwo\tthree  ", expected: 3},
		{name: "strips tags", input: "<h2>Market</h2>\n<p>size and <b>growth</b></p>", expected: 4},
		{name: "tags only", input: "<p></p><br/>", expected: 0},
		{name: "cjk counts per character", input: "市场分析", expected: 4},
		{name: "mixed cjk and latin", input: "SaaS 市场 growth", expected: 4},
		{name: "cjk adjacent to latin", input: "AI驱动", expected: 3},
		{name: "japanese kana", input: "カタカナ ひらがな", expected: 8},
		{name: "punctuation stays with word", input: "Risk: high, mitigated.", expected: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, WordCount(tt.input))
		})
	}
}

func TestStripTags(t *testing.T) {
	assert.Equal(t, "Title body", StripTags("<h1>Title</h1> <div class=\"x\">body</div>"))
	assert.Equal(t, "no tags", StripTags("no tags"))
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "hello world", Snippet("  <p>hello\n\n world</p> ", 80))
	assert.Equal(t, "abc", Snippet("abcdef", 3))
	assert.Equal(t, "市场环", Snippet("市场环境分析", 3))
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "", truncateRunes("abc", 0))
	assert.Equal(t, "abc", truncateRunes("abc", 10))
	assert.Equal(t, "ab", truncateRunes("abc", 2))

	long := strings.Repeat("é", 1200)
	got := truncateRunes(long, 1000)
	assert.Equal(t, 1000, len([]rune(got)))
}
