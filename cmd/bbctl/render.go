package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/shopspring/decimal"

	httpserver "github.com/fyrsmithlabs/buildbuddy/internal/http"
	"github.com/fyrsmithlabs/buildbuddy/internal/pipeline"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("51"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("45"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

func money(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

func signedMoney(d decimal.Decimal) string {
	if d.IsNegative() {
		return "-$" + d.Abs().StringFixed(2)
	}
	return "+$" + d.StringFixed(2)
}

func partsTable(cfg pipeline.BuildConfiguration) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("CATEGORY", "PART", "PRICE")
	for _, p := range cfg.Parts {
		t.Row(string(p.Category), p.Name, money(p.Price))
	}
	t.Row("", "Total", money(cfg.TotalBudget))
	return t.String()
}

// renderBuild formats a build response for the terminal.
func renderBuild(resp httpserver.BuildResponse, verbose bool) string {
	var b strings.Builder

	title := "Final build"
	if resp.Mocked {
		title += " (mock)"
	}
	b.WriteString(titleStyle.Render(title) + "\n")
	b.WriteString(partsTable(resp.FinalConfig) + "\n")

	if !resp.FinalConfig.TargetBudget.IsZero() {
		b.WriteString(labelStyle.Render("Target budget: ") + money(resp.FinalConfig.TargetBudget) + "\n")
	}
	b.WriteString(labelStyle.Render("Improvement delta: ") + signedMoney(resp.BudgetDelta) + "\n")

	if resp.Visualization != nil {
		b.WriteString(labelStyle.Render("Image: ") + resp.Visualization.ImageRef +
			dimStyle.Render(" ("+resp.Visualization.Source+")") + "\n")
	}

	for _, flag := range []struct {
		set  bool
		text string
	}{
		{resp.CritiqueUnavailable, "critique unavailable"},
		{resp.ImproveUnavailable, "improvement unavailable; showing the original build"},
		{resp.VisualizationUnavailable, "visualization unavailable"},
	} {
		if flag.set {
			b.WriteString(warnStyle.Render("! "+flag.text) + "\n")
		}
	}
	for _, w := range resp.Warnings {
		b.WriteString(warnStyle.Render("! "+w) + "\n")
	}

	if verbose {
		for _, st := range resp.Stages {
			b.WriteString("\n" + renderStage(st))
		}
	}
	return b.String()
}

func renderStage(st pipeline.StageResult) string {
	var b strings.Builder
	status := okStyle.Render(string(st.Status))
	if st.Status == pipeline.StatusFailed {
		status = errStyle.Render(string(st.Status))
	}
	b.WriteString(titleStyle.Render(strings.ToUpper(string(st.Stage))) + " " + status)
	if st.Mocked {
		b.WriteString(dimStyle.Render(" mocked"))
	}
	b.WriteString("\n")
	if st.Error != "" {
		b.WriteString(errStyle.Render("  "+st.Error) + "\n")
	}

	switch {
	case st.Build != nil:
		for _, td := range st.Build.ToolDecisions {
			b.WriteString(dimStyle.Render(fmt.Sprintf("  used %s: %s", td.Tool, td.Why)) + "\n")
		}
		if st.Build.BudgetAnalysis != "" {
			b.WriteString("  " + st.Build.BudgetAnalysis + "\n")
		}
	case st.Critique != nil:
		b.WriteString("  " + st.Critique.OverallAssessment + "\n")
		for _, c := range st.Critique.Concerns {
			line := fmt.Sprintf("  - [%s] %s", c.Category, c.Issue)
			if c.Severity != "" {
				line += dimStyle.Render(" (" + c.Severity + ")")
			}
			b.WriteString(line + "\n")
		}
	case st.Improve != nil:
		for _, c := range st.Improve.Changes {
			b.WriteString(fmt.Sprintf("  %s: %s -> %s\n", c.Category, c.OriginalPart, c.RevisedPart))
			if c.Reason != "" {
				b.WriteString(dimStyle.Render("    "+c.Reason) + "\n")
			}
		}
		if st.Improve.Summary != "" {
			b.WriteString("  " + st.Improve.Summary + "\n")
		}
	case st.Visualization != nil:
		b.WriteString("  " + st.Visualization.ImageRef + "\n")
	}
	return b.String()
}

// renderProgress formats one stage transition.
func renderProgress(p pipeline.Progress) string {
	line := fmt.Sprintf("[%3d%%] %-9s %s", p.Percentage, p.Stage, p.Status)
	if p.Message != "" {
		line += " " + p.Message
	}
	return dimStyle.Render(line)
}

// renderCatalog formats catalog search results.
func renderCatalog(resp httpserver.CatalogSearchResponse) string {
	if len(resp.Items) == 0 {
		return fmt.Sprintf("No parts match %q\n", resp.Query)
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("CATEGORY", "PART", "PRICE")
	for _, it := range resp.Items {
		t.Row(it.Category, it.Name, money(it.Price))
	}
	return t.String() + "\n"
}
