package pipeline

import (
	"time"

	"github.com/shopspring/decimal"
)

// MockProvider supplies deterministic stage results. It is consulted only
// when the caller enables mock mode; it is never a silent fallback.
type MockProvider interface {
	MockResult(stage Stage, query string) StageResult
}

// MockImageRef is the image StaticMock returns for the Visualize stage.
const MockImageRef = "https://images.unsplash.com/photo-1603481588273-2f908a9a7a1b?q=80&w=2070"

// StaticMock returns fixed, schema-valid results: a five-part $1200 build,
// a critique with two concerns, and an improvement that swaps the $250 CPU
// for a $200 one.
type StaticMock struct{}

var _ MockProvider = StaticMock{}

func usd(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

// MockBuildConfig is the configuration StaticMock's Build result carries.
func MockBuildConfig() BuildConfiguration {
	return Recompute(BuildConfiguration{
		TargetBudget: usd(1200),
		Parts: []Part{
			{Category: CategoryCPU, Name: "AMD Ryzen 5 7600X", Price: usd(250), Rationale: "Six fast Zen 4 cores for high frame rates"},
			{Category: CategoryGPU, Name: "NVIDIA GeForce RTX 4070", Price: usd(550), Rationale: "Strong 1440p performance with DLSS 3"},
			{Category: CategoryMotherboard, Name: "MSI B650 Gaming Plus WiFi", Price: usd(150), Rationale: "AM5 board with WiFi and PCIe 4.0"},
			{Category: CategoryRAM, Name: "Corsair Vengeance 32GB DDR5-6000", Price: usd(120), Rationale: "The AM5 sweet spot for memory speed"},
			{Category: CategoryPSU, Name: "Corsair RM750e", Price: usd(130), Rationale: "Fully modular 80+ Gold with headroom"},
		},
	})
}

// MockResult implements MockProvider.
func (StaticMock) MockResult(stage Stage, query string) StageResult {
	now := time.Now()
	res := StageResult{
		Stage:       stage,
		Status:      StatusComplete,
		Mocked:      true,
		StartedAt:   now,
		CompletedAt: now,
	}

	switch stage {
	case StageBuild:
		cfg := MockBuildConfig()
		if target, ok := ExtractBudget(query); ok {
			cfg.TargetBudget = target
		}
		res.Build = &BuildResult{
			Config: cfg,
			ToolDecisions: []ToolDecision{
				{Tool: "catalog_search", Query: query, Why: "Ground part choices in the parts catalog"},
			},
			BudgetAnalysis: "Parts total $1200, within a $1200 gaming budget.",
		}
	case StageCritique:
		res.Critique = &CritiqueResult{
			OverallAssessment: "Solid 1440p build, but the CPU is overpriced for the performance it adds.",
			Severity:          "moderate",
			Concerns: []Concern{
				{
					Category: string(CategoryCPU),
					Issue:    "The 7600X costs $50 more than the 7600 for about 5% more gaming performance",
					Evidence: "Gaming benchmarks at 1440p are GPU bound",
					Severity: "medium",
				},
				{
					Category: "Compatibility",
					Issue:    "No storage drive is listed",
					Impact:   "The system cannot boot without one",
					Severity: "high",
				},
			},
		}
	case StageImprove:
		revised := usd(200)
		changes := []Change{{
			Category:     CategoryCPU,
			OriginalPart: "AMD Ryzen 5 7600X",
			RevisedPart:  "AMD Ryzen 5 7600",
			RevisedPrice: &revised,
			Reason:       "Near-identical gaming performance for $50 less",
			Tradeoff:     "Slightly lower boost clocks",
			Confidence:   "high",
		}}
		cfg, _ := Apply(MockBuildConfig(), changes)
		res.Improve = &ImproveResult{
			Changes:       changes,
			RevisedConfig: cfg,
			Summary:       "Saved $50 on the CPU without a meaningful performance loss.",
		}
	case StageVisualize:
		res.Visualization = &VisualizationResult{
			ImageRef: MockImageRef,
			Prompt:   "mock render",
			Source:   "mock",
		}
	}
	return res
}
