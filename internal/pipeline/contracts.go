package pipeline

import (
	"bytes"
	"fmt"
	"text/template"
)

// Contract defines one stage: its prompt template, sampling temperature and
// the fields its output must carry to count as usable.
type Contract struct {
	Stage           Stage
	Template        *template.Template
	Temperature     float32
	MaxOutputTokens int
	SchemaHint      string
	// Mandatory paths must be present in the decoded object (dot separated,
	// rooted at the stage wrapper key). Optional paths are enrichments.
	Mandatory []string
	Optional  []string
	// Wrapper is the top-level key the model is asked to nest its payload in.
	Wrapper string
}

// Contracts maps every stage to its contract.
type Contracts map[Stage]Contract

// BuildPromptData fills the Build template.
type BuildPromptData struct {
	Query          string
	RetrievedParts string
	TargetBudget   string
}

// CritiquePromptData fills the Critique template.
type CritiquePromptData struct {
	Query     string
	BuildJSON string
}

// ImprovePromptData fills the Improve template.
type ImprovePromptData struct {
	Query             string
	BuildJSON         string
	CritiqueJSON      string
	CritiqueAvailable bool
}

// VisualizePromptData fills the Visualize template.
type VisualizePromptData struct {
	Components string
	Theme      string
}

const buildTemplate = `You are an expert PC architect. Design a complete PC build for the request below.

Rules:
- If a budget is given, the sum of part prices must not exceed it. Swap parts down rather than going over.
- Without a budget, maximize value for the stated use case instead of picking the most expensive parts.
- Prefer parts from the reference list when they fit, and use their listed prices.
- Use exactly these categories: CPU, GPU, Motherboard, RAM, Storage, PSU, Case, Cooler.
- Prices are plain numbers in US dollars.

User request: {{.Query}}
Target budget: {{if .TargetBudget}}${{.TargetBudget}}{{else}}not specified{{end}}

Reference parts:
{{if .RetrievedParts}}{{.RetrievedParts}}{{else}}(no catalog matches; use your own knowledge of current parts){{end}}

Respond with only a JSON object of this shape:
{
  "reasoning": {
    "budget_analysis": "how the parts fit the budget",
    "tool_decisions": [{"tool": "catalog_search", "query": "...", "why": "..."}]
  },
  "build": {
    "total_budget": 1200,
    "parts": [
      {"category": "CPU", "name": "AMD Ryzen 5 7600", "price": 199, "rationale": "why this part"}
    ]
  }
}`

const critiqueTemplate = `You are a critical PC build reviewer. Find real problems with this build.
Look for bottlenecks, compatibility risks, poor value and pricing mistakes. Quote evidence where you can.

Original request: {{.Query}}

Build to review:
{{.BuildJSON}}

Respond with only a JSON object of this shape:
{
  "critique": {
    "overall_assessment": "one paragraph verdict",
    "severity": "strong|moderate|minor",
    "concerns": [
      {"category": "GPU", "issue": "clear problem", "evidence": "supporting data", "impact": "what goes wrong", "severity": "high|medium|low"}
    ]
  }
}`

const improveTemplate = `You are a PC build architect. Revise this build.
Only change parts that have real problems. Every change must replace a part that exists in the build, in the same category.

Original request: {{.Query}}

Build:
{{.BuildJSON}}

{{if .CritiqueAvailable}}Critique:
{{.CritiqueJSON}}{{else}}No critique is available. Review the build yourself and fix only clear problems.{{end}}

Respond with only a JSON object of this shape:
{
  "revisions": {
    "changes_made": [
      {"category": "CPU", "original_part": "...", "revised_part": "...", "revised_price": 199, "reason": "why", "tradeoff": "cost/performance impact", "confidence": "high|medium"}
    ],
    "revised_build": {
      "total_budget": 1150,
      "parts": [{"category": "CPU", "name": "...", "price": 199}]
    },
    "improvements_summary": "what got better"
  }
}`

const visualizeTemplate = `A photorealistic, cinematic shot of a custom gaming PC built from: {{.Components}}.
{{if .Theme}}The build follows a {{.Theme}} color theme with matching RGB lighting.{{else}}Tasteful RGB lighting.{{end}}
Glass side panel, studio lighting, shallow depth of field, 8k detail.`

// DefaultContracts returns the built-in contract table.
func DefaultContracts() Contracts {
	return Contracts{
		StageBuild: {
			Stage:           StageBuild,
			Template:        template.Must(template.New("build").Parse(buildTemplate)),
			Temperature:     0.7,
			MaxOutputTokens: 4096,
			SchemaHint:      `{"build":{"total_budget":number,"parts":[{"category","name","price"}]}}`,
			Wrapper:         "build",
			Mandatory:       []string{"build.parts", "build.total_budget"},
			Optional:        []string{"reasoning.tool_decisions", "reasoning.budget_analysis"},
		},
		StageCritique: {
			Stage:           StageCritique,
			Template:        template.Must(template.New("critique").Parse(critiqueTemplate)),
			Temperature:     0.9,
			MaxOutputTokens: 2048,
			SchemaHint:      `{"critique":{"overall_assessment":string,"concerns":[{"category","issue"}]}}`,
			Wrapper:         "critique",
			Mandatory:       []string{"critique.overall_assessment", "critique.concerns"},
			Optional:        []string{"critique.severity", "critique.concerns.evidence", "critique.concerns.severity"},
		},
		StageImprove: {
			Stage:           StageImprove,
			Template:        template.Must(template.New("improve").Parse(improveTemplate)),
			Temperature:     0.7,
			MaxOutputTokens: 4096,
			SchemaHint:      `{"revisions":{"changes_made":[{"original_part","revised_part","reason"}],"revised_build":{"parts":[...]}}}`,
			Wrapper:         "revisions",
			Mandatory:       []string{"revisions.changes_made", "revisions.revised_build.parts"},
			Optional:        []string{"revisions.changes_made.tradeoff", "revisions.improvements_summary"},
		},
		StageVisualize: {
			Stage:       StageVisualize,
			Template:    template.Must(template.New("visualize").Parse(visualizeTemplate)),
			Temperature: 0.4,
		},
	}
}

// WithTemplates returns a copy of c with the given stage templates replaced.
// Keys are stage names; every template is parsed before anything is replaced.
func (c Contracts) WithTemplates(overrides map[string]string) (Contracts, error) {
	out := make(Contracts, len(c))
	for k, v := range c {
		out[k] = v
	}
	for name, text := range overrides {
		stage := Stage(name)
		contract, ok := out[stage]
		if !ok {
			return nil, fmt.Errorf("template override for unknown stage %q", name)
		}
		tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", name, err)
		}
		contract.Template = tmpl
		out[stage] = contract
	}
	return out, nil
}

// Validate checks every stage has a contract with a template.
func (c Contracts) Validate() error {
	for _, stage := range AllStages() {
		contract, ok := c[stage]
		if !ok {
			return fmt.Errorf("missing contract for stage %s", stage)
		}
		if contract.Template == nil {
			return fmt.Errorf("contract for stage %s has no template", stage)
		}
		if contract.Temperature < 0 || contract.Temperature > 2 {
			return fmt.Errorf("contract for stage %s: temperature %v out of range", stage, contract.Temperature)
		}
	}
	return nil
}

// Render executes the stage template with data.
func (c Contract) Render(data any) (string, error) {
	var buf bytes.Buffer
	if err := c.Template.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", c.Stage, err)
	}
	return buf.String(), nil
}

// repairPrompt re-asks for the same output after a validation failure.
func repairPrompt(original string, cause *MalformedOutputError) string {
	return fmt.Sprintf(`%s

Your previous answer could not be used: %s.
Respond with only the JSON object, starting with { and ending with }. No prose, no code fences.`, original, cause.Reason)
}
