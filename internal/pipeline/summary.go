package pipeline

import (
	"fmt"
	"strings"

	"github.com/kiranshivaraju/planwise/pkg/models"
)

const summarySnippetRunes = 80

// Summarize builds the executive summary: one line per section with the start of its content.
func Summarize(sections []models.ReportSection) string {
	var sb strings.Builder
	sb.WriteString("This report analyses the idea across market, users, business model, risk, finance and execution:")
	for _, s := range sections {
		fmt.Fprintf(&sb, "\n- %s: %s...", s.Title, Snippet(s.Content, summarySnippetRunes))
	}
	return sb.String()
}
