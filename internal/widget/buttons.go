package widget

import (
	"slices"

	"github.com/ashureev/intent-sensor/internal/domain"
)

var entryButtons = map[domain.IntentType][]domain.Button{
	domain.IntentPricing: {
		{Label: "Bulk orders", CommandID: "bulk_orders"},
		{Label: "Standard pricing", CommandID: "standard_pricing"},
		{Label: "Talk to sales", CommandID: "talk_to_sales"},
	},
	domain.IntentTechnical: {
		{Label: "Product specs", CommandID: "product_specs"},
		{Label: "Integration help", CommandID: "integration_help"},
		{Label: "Documentation", CommandID: "documentation"},
	},
	domain.IntentEvaluation: {
		{Label: "Request demo", CommandID: "request_demo"},
		{Label: "Compare options", CommandID: "compare_options"},
		{Label: "See case studies", CommandID: "case_studies"},
	},
}

var defaultEntryButtons = []domain.Button{
	{Label: "Learn more", CommandID: "learn_more"},
	{Label: "Talk to someone", CommandID: "talk_to_someone"},
}

// EntryButtons returns the quick replies attached to the first bot message
// of a conversation opened for intent.
func EntryButtons(intent domain.IntentType) []domain.Button {
	if buttons, ok := entryButtons[intent]; ok {
		return slices.Clone(buttons)
	}
	return slices.Clone(defaultEntryButtons)
}
