package audit

// modelCost is the price per one million tokens, in US dollars.
type modelCost struct {
	input  float64
	output float64
}

// modelCosts is the provider price table. Models not listed fall back
// to defaultModelCost rather than being priced at zero, so unknown
// models still show up in cost reports.
var modelCosts = map[string]modelCost{
	"text-embedding-3-small": {input: 0.02, output: 0},
	"text-embedding-3-large": {input: 0.13, output: 0},
	"gpt-3.5-turbo":          {input: 0.50, output: 1.50},
	"gpt-4":                  {input: 30.0, output: 60.0},
	"gpt-4-turbo":            {input: 10.0, output: 30.0},
}

var defaultModelCost = modelCost{input: 0.50, output: 1.50}

// EstimateCostCents converts provider token usage into an estimated
// cost in US cents.
func EstimateCostCents(model string, promptTokens, completionTokens int) float64 {
	cost, ok := modelCosts[model]
	if !ok {
		cost = defaultModelCost
	}

	inputCents := float64(promptTokens) / 1_000_000 * cost.input * 100
	outputCents := float64(completionTokens) / 1_000_000 * cost.output * 100
	return inputCents + outputCents
}
