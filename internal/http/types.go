package http

import (
	"github.com/shopspring/decimal"

	"github.com/fyrsmithlabs/buildbuddy/internal/catalog"
	"github.com/fyrsmithlabs/buildbuddy/internal/pipeline"
)

// BuildRequest is the request body for POST /api/v1/build-pc.
type BuildRequest struct {
	Query   string `json:"query"`
	Verbose bool   `json:"verbose"`
}

// BuildResponse is the response body for POST /api/v1/build-pc.
type BuildResponse struct {
	RunID                    string                        `json:"run_id"`
	FinalConfig              pipeline.BuildConfiguration   `json:"final_config"`
	Stages                   []pipeline.StageResult        `json:"stages,omitempty"`
	BudgetDelta              decimal.Decimal               `json:"budget_delta"`
	CritiqueUnavailable      bool                          `json:"critique_unavailable"`
	ImproveUnavailable       bool                          `json:"improve_unavailable"`
	VisualizationUnavailable bool                          `json:"visualization_unavailable"`
	Visualization            *pipeline.VisualizationResult `json:"visualization,omitempty"`
	Mocked                   bool                          `json:"mocked,omitempty"`
	Warnings                 []string                      `json:"warnings,omitempty"`
}

// TTSRequest is the request body for POST /api/v1/tts.
type TTSRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// CatalogSearchResponse is the response body for GET /api/v1/catalog/search.
type CatalogSearchResponse struct {
	Query string                  `json:"query"`
	Items []catalog.CandidateItem `json:"items"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version,omitempty"`
	Components map[string]string `json:"components"`
}

// RootResponse is the response body for GET /.
type RootResponse struct {
	Status    string            `json:"status"`
	Endpoints map[string]string `json:"endpoints"`
}

// ErrorEvent is the payload of the stream's final "error" event.
type ErrorEvent struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
}
