// Package pipeline drives the Build → Critique → Improve → Visualize reasoning
// pipeline for PC build requests.
//
// Each model-backed stage renders a prompt from its Contract, calls the
// generator, and hands the raw text to the extractor, which either produces a
// fully validated StageResult or a *MalformedOutputError. The Orchestrator
// decides per stage, through a Policy table, whether a failure is retried,
// repaired, substituted with mock data, or degraded into an annotated partial
// report. Totals are never taken from model output; the reconciler recomputes
// them from part prices.
package pipeline

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Stage identifies one discrete reasoning step.
type Stage string

const (
	StageBuild     Stage = "build"
	StageCritique  Stage = "critique"
	StageImprove   Stage = "improve"
	StageVisualize Stage = "visualize"
)

// AllStages returns all stages in execution order.
func AllStages() []Stage {
	return []Stage{StageBuild, StageCritique, StageImprove, StageVisualize}
}

// Status is the lifecycle state of a stage within one run.
type Status string

const (
	StatusPending  Status = "pending"
	StatusRunning  Status = "running"
	StatusComplete Status = "complete"
	StatusFailed   Status = "failed"
)

// Category is a PC part category.
type Category string

const (
	CategoryCPU         Category = "CPU"
	CategoryGPU         Category = "GPU"
	CategoryMotherboard Category = "Motherboard"
	CategoryRAM         Category = "RAM"
	CategoryStorage     Category = "Storage"
	CategoryPSU         Category = "PSU"
	CategoryCase        Category = "Case"
	CategoryCooler      Category = "Cooler"
)

// Categories returns every known part category.
func Categories() []Category {
	return []Category{
		CategoryCPU, CategoryGPU, CategoryMotherboard, CategoryRAM,
		CategoryStorage, CategoryPSU, CategoryCase, CategoryCooler,
	}
}

var categoryAliases = map[string]Category{
	"cpu":              CategoryCPU,
	"processor":        CategoryCPU,
	"gpu":              CategoryGPU,
	"video card":       CategoryGPU,
	"graphics card":    CategoryGPU,
	"graphics":         CategoryGPU,
	"motherboard":      CategoryMotherboard,
	"mobo":             CategoryMotherboard,
	"ram":              CategoryRAM,
	"memory":           CategoryRAM,
	"storage":          CategoryStorage,
	"ssd":              CategoryStorage,
	"hdd":              CategoryStorage,
	"nvme":             CategoryStorage,
	"psu":              CategoryPSU,
	"power supply":     CategoryPSU,
	"case":             CategoryCase,
	"chassis":          CategoryCase,
	"cooler":           CategoryCooler,
	"cpu cooler":       CategoryCooler,
	"cooling":          CategoryCooler,
	"internal drive":   CategoryStorage,
	"internal storage": CategoryStorage,
}

// ParseCategory maps model or catalog spellings onto a Category.
func ParseCategory(s string) (Category, error) {
	key := strings.Join(strings.Fields(strings.ToLower(strings.NewReplacer("-", " ", "_", " ").Replace(s))), " ")
	if c, ok := categoryAliases[key]; ok {
		return c, nil
	}
	return "", fmt.Errorf("unknown part category %q", s)
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

// Part is a single component. Parts are values; copy Specs before mutating.
type Part struct {
	Category  Category          `json:"category"`
	Name      string            `json:"name"`
	Price     decimal.Decimal   `json:"price"`
	Rationale string            `json:"rationale,omitempty"`
	Specs     map[string]string `json:"specs,omitempty"`
}

func (p Part) clone() Part {
	p.Specs = maps.Clone(p.Specs)
	return p
}

// BuildConfiguration is an ordered list of parts with a reconciled total.
// TotalBudget always equals the sum of part prices once passed through
// Recompute or Apply.
type BuildConfiguration struct {
	Parts        []Part          `json:"parts"`
	TotalBudget  decimal.Decimal `json:"total_budget"`
	TargetBudget decimal.Decimal `json:"target_budget"`
}

// Clone returns a deep copy.
func (c BuildConfiguration) Clone() BuildConfiguration {
	out := c
	out.Parts = make([]Part, len(c.Parts))
	for i, p := range c.Parts {
		out.Parts[i] = p.clone()
	}
	return out
}

// HasCategory reports whether any part belongs to cat.
func (c BuildConfiguration) HasCategory(cat Category) bool {
	for _, p := range c.Parts {
		if p.Category == cat {
			return true
		}
	}
	return false
}

// PartNames returns the part names in order.
func (c BuildConfiguration) PartNames() []string {
	names := make([]string, len(c.Parts))
	for i, p := range c.Parts {
		names[i] = p.Name
	}
	return names
}

// ToolDecision records an external capability a stage used and why.
type ToolDecision struct {
	Tool  string `json:"tool"`
	Query string `json:"query,omitempty"`
	Why   string `json:"why"`
}

// Concern is one objection raised by the Critique stage.
type Concern struct {
	Category string `json:"category"`
	Issue    string `json:"issue"`
	Evidence string `json:"evidence,omitempty"`
	Impact   string `json:"impact,omitempty"`
	Severity string `json:"severity,omitempty"`
}

// Change is one part swap proposed by the Improve stage.
type Change struct {
	Category     Category          `json:"category"`
	OriginalPart string            `json:"original_part"`
	RevisedPart  string            `json:"revised_part"`
	Reason       string            `json:"reason"`
	Tradeoff     string            `json:"tradeoff,omitempty"`
	Confidence   string            `json:"confidence,omitempty"`
	RevisedPrice *decimal.Decimal  `json:"revised_price,omitempty"`
	Specs        map[string]string `json:"specs,omitempty"`
}

// BuildResult is the Build stage payload.
type BuildResult struct {
	Config         BuildConfiguration `json:"config"`
	ToolDecisions  []ToolDecision     `json:"tool_decisions,omitempty"`
	BudgetAnalysis string             `json:"budget_analysis,omitempty"`
}

// CritiqueResult is the Critique stage payload.
type CritiqueResult struct {
	OverallAssessment string    `json:"overall_assessment"`
	Severity          string    `json:"severity,omitempty"`
	Concerns          []Concern `json:"concerns"`
}

// ImproveResult is the Improve stage payload. RevisedConfig is the
// reconciled configuration, not the one the model reported.
type ImproveResult struct {
	Changes       []Change           `json:"changes"`
	RevisedConfig BuildConfiguration `json:"revised_config"`
	Summary       string             `json:"improvements_summary,omitempty"`
}

// VisualizationResult is the Visualize stage payload.
type VisualizationResult struct {
	ImageRef string `json:"image_ref"`
	Prompt   string `json:"prompt"`
	Source   string `json:"source"`
}

// StageResult is the outcome of one stage. Exactly one payload pointer is set
// when Status is StatusComplete, matching Stage.
type StageResult struct {
	Stage         Stage                `json:"stage"`
	Status        Status               `json:"status"`
	Build         *BuildResult         `json:"build,omitempty"`
	Critique      *CritiqueResult      `json:"critique,omitempty"`
	Improve       *ImproveResult       `json:"improve,omitempty"`
	Visualization *VisualizationResult `json:"visualization,omitempty"`
	Error         string               `json:"error,omitempty"`
	Warnings      []string             `json:"warnings,omitempty"`
	Mocked        bool                 `json:"mocked,omitempty"`
	Attempts      int                  `json:"attempts,omitempty"`
	StartedAt     time.Time            `json:"started_at"`
	CompletedAt   time.Time            `json:"completed_at,omitempty"`
}

// Config returns the configuration a config-producing stage emitted.
func (r StageResult) Config() (BuildConfiguration, bool) {
	switch {
	case r.Status != StatusComplete:
		return BuildConfiguration{}, false
	case r.Build != nil:
		return r.Build.Config, true
	case r.Improve != nil:
		return r.Improve.RevisedConfig, true
	}
	return BuildConfiguration{}, false
}

// PipelineReport is the per-request result. It is never shared or persisted.
type PipelineReport struct {
	RunID                    string             `json:"run_id"`
	Query                    string             `json:"query"`
	FinalConfig              BuildConfiguration `json:"final_config"`
	Stages                   []StageResult      `json:"stages"`
	BudgetDelta              decimal.Decimal    `json:"budget_delta"`
	CritiqueUnavailable      bool               `json:"critique_unavailable"`
	ImproveUnavailable       bool               `json:"improve_unavailable"`
	VisualizationUnavailable bool               `json:"visualization_unavailable"`
	Mocked                   bool               `json:"mocked,omitempty"`
	Warnings                 []string           `json:"warnings,omitempty"`
	// Visualization is set when the Visualize stage succeeded.
	Visualization *VisualizationResult `json:"visualization,omitempty"`
}

// Request is one pipeline invocation.
type Request struct {
	Query   string
	Verbose bool

	// OnProgress, when set, receives every stage transition of this run.
	OnProgress ProgressFunc
}
