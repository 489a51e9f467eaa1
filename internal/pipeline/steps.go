package pipeline

import "github.com/kiranshivaraju/planwise/pkg/models"

// Steps is the fixed, ordered list of report sections.
var Steps = []models.StepDefinition{
	{
		Number: 1,
		Name:   "market_analysis",
		Title:  "Market Environment Analysis",
		Prompt: "Analyse the project in terms of market size, growth trends, user demand and the policy environment.",
	},
	{
		Number: 2,
		Name:   "competitor_research",
		Title:  "Competitor Research",
		Prompt: "Identify the main competitors and compare their products or services, market share, pricing strategy, strengths and weaknesses.",
	},
	{
		Number: 3,
		Name:   "user_persona",
		Title:  "Target User Persona",
		Prompt: "Build the core user personas: demographics, behaviour, pain points, needs and typical usage scenarios.",
	},
	{
		Number: 4,
		Name:   "business_model",
		Title:  "Business Model Design",
		Prompt: "Describe the value proposition, revenue streams, cost structure, key partners and expansion strategy.",
	},
	{
		Number: 5,
		Name:   "risk_assessment",
		Title:  "Risk Assessment",
		Prompt: "Identify market, operational, financial and compliance risks and propose mitigations for each.",
	},
	{
		Number: 6,
		Name:   "financial_forecast",
		Title:  "Financial Forecast",
		Prompt: "Give a three-year projection of revenue, costs and cash flow, with a break-even analysis.",
	},
	{
		Number: 7,
		Name:   "marketing_strategy",
		Title:  "Marketing Strategy",
		Prompt: "Define brand positioning, channel strategy, promotional campaigns and the key metrics to track.",
	},
	{
		Number: 8,
		Name:   "implementation_plan",
		Title:  "Implementation Plan",
		Prompt: "Plan phased milestones, resource allocation, team structure and a timeline.",
	},
}

// TotalSteps is the number of steps in every run.
var TotalSteps = len(Steps)

// StepByName looks up a step definition by its name.
func StepByName(name string) (models.StepDefinition, bool) {
	for _, s := range Steps {
		if s.Name == name {
			return s, true
		}
	}
	return models.StepDefinition{}, false
}
