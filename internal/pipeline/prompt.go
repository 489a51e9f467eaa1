package pipeline

import (
	"fmt"
	"strings"

	"github.com/kiranshivaraju/planwise/pkg/models"
)

const (
	deepTemperature    = 0.6
	defaultTemperature = 0.8
)

// priorSection is the output of an earlier step fed into later prompts.
type priorSection struct {
	title   string
	content string
}

// SystemPrompt names the section being written, the analysis depth and any focus areas.
func SystemPrompt(bc models.BusinessContext, step models.StepDefinition) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "You are a senior business strategy consultant. Based on the business idea provided, write a professional analysis for the section %q. Analysis depth: %s.", step.Title, bc.Depth())
	if len(bc.FocusAreas) > 0 {
		fmt.Fprintf(&sb, " Focus areas: %s.", strings.Join(bc.FocusAreas, ", "))
	}
	sb.WriteString(" The answer must be structured, contain actionable recommendations and use a formal tone.")
	return sb.String()
}

// Temperature is lower for deep analysis.
func Temperature(bc models.BusinessContext) float64 {
	if bc.Depth() == models.AnalysisDepthDeep {
		return deepTemperature
	}
	return defaultTemperature
}

// StepPrompt combines the business context, every earlier section of this run
// and the instruction for the current step.
func StepPrompt(bc models.BusinessContext, step models.StepDefinition, prior []priorSection) string {
	history := "None"
	if len(prior) > 0 {
		var sb strings.Builder
		for _, p := range prior {
			fmt.Fprintf(&sb, "\n[%s]\n%s\n", p.title, p.content)
		}
		history = sb.String()
	}

	return fmt.Sprintf("Project name: %s\nIndustry: %s\nTarget market: %s\nBusiness idea: %s\n\nPrevious analysis: %s\nProvide a detailed analysis for %q: %s",
		orDefault(bc.BusinessName, "Untitled project"),
		orDefault(bc.Industry, "Not specified"),
		orDefault(bc.TargetMarket, "Not specified"),
		bc.BusinessIdea,
		history,
		step.Title,
		step.Prompt,
	)
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
