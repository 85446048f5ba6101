package catalog

import "github.com/streamforge/agentcore/pkg/canonical"

// ComputeCost derives a USD cost breakdown from token counts and a model's
// per-million-token pricing. Cached tokens are billed at the same input
// rate as a standard-input token; the catalog does not yet carry separate
// cache-read/cache-write pricing tiers, so callers that need provider-exact
// cache discounts should fold a discount multiplier into the counts before
// calling this.
func ComputeCost(model *Model, input, output, cacheRead, cacheWrite int64) canonical.Cost {
	if model == nil {
		return canonical.Cost{}
	}

	const perToken = 1.0 / 1_000_000.0

	cost := canonical.Cost{
		Input:      float64(input) * model.InputPrice * perToken,
		Output:     float64(output) * model.OutputPrice * perToken,
		CacheRead:  float64(cacheRead) * model.InputPrice * perToken,
		CacheWrite: float64(cacheWrite) * model.InputPrice * perToken,
	}
	cost.Total = cost.Input + cost.Output + cost.CacheRead + cost.CacheWrite
	return cost
}

// ApplyUsage recomputes usage.Cost in place from a model's pricing. Callers
// run this on every usage delta from a provider stream (see the agent
// loop's usage-accumulation step) rather than accumulating cost
// independently of token counts.
func ApplyUsage(model *Model, usage *canonical.Usage) {
	usage.Cost = ComputeCost(model, usage.Input, usage.Output, usage.CacheRead, usage.CacheWrite)
}
