package main

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/buildbuddy/internal/catalog"
	httpserver "github.com/fyrsmithlabs/buildbuddy/internal/http"
	"github.com/fyrsmithlabs/buildbuddy/internal/pipeline"
)

func TestSignedMoney(t *testing.T) {
	assert.Equal(t, "-$50.00", signedMoney(decimal.NewFromInt(-50)))
	assert.Equal(t, "+$0.00", signedMoney(decimal.Zero))
	assert.Equal(t, "+$12.50", signedMoney(decimal.RequireFromString("12.5")))
}

func TestRenderBuild_Flags(t *testing.T) {
	resp := httpserver.BuildResponse{
		FinalConfig: pipeline.Recompute(pipeline.BuildConfiguration{
			Parts: []pipeline.Part{{Category: pipeline.CategoryGPU, Name: "Radeon RX 7800 XT", Price: decimal.NewFromInt(499)}},
		}),
		CritiqueUnavailable: true,
		ImproveUnavailable:  true,
		Warnings:            []string{"dropped change for unknown category Monitor"},
	}
	out := renderBuild(resp, false)
	assert.Contains(t, out, "Radeon RX 7800 XT")
	assert.Contains(t, out, "$499.00")
	assert.Contains(t, out, "critique unavailable")
	assert.Contains(t, out, "improvement unavailable")
	assert.Contains(t, out, "dropped change for unknown category Monitor")
	assert.NotContains(t, out, "Target budget")
}

func TestRenderStage_Failed(t *testing.T) {
	out := renderStage(pipeline.StageResult{Stage: pipeline.StageCritique, Status: pipeline.StatusFailed, Error: "model timed out"})
	assert.Contains(t, out, "CRITIQUE")
	assert.Contains(t, out, "failed")
	assert.Contains(t, out, "model timed out")
}

func TestRenderCatalog(t *testing.T) {
	assert.Equal(t, "No parts match \"monitor\"\n", renderCatalog(httpserver.CatalogSearchResponse{Query: "monitor"}))

	out := renderCatalog(httpserver.CatalogSearchResponse{
		Query: "4070",
		Items: []catalog.CandidateItem{{Category: "GPU", Name: "NVIDIA GeForce RTX 4070", Price: decimal.NewFromInt(549)}},
	})
	assert.Contains(t, out, "NVIDIA GeForce RTX 4070")
	assert.Contains(t, out, "$549.00")
}

func TestRenderProgress(t *testing.T) {
	out := renderProgress(pipeline.Progress{Stage: pipeline.StageImprove, Status: pipeline.StatusRunning, Percentage: 50})
	assert.Contains(t, out, "50%")
	assert.Contains(t, out, "improve")
	assert.Contains(t, out, "running")
}
