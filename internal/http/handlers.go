package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/buildbuddy/internal/catalog"
	"github.com/fyrsmithlabs/buildbuddy/internal/pipeline"
	"github.com/fyrsmithlabs/buildbuddy/internal/speech"
)

// StatusClientClosedRequest is returned when the client goes away mid-run.
const StatusClientClosedRequest = 499

const (
	defaultSearchK = 5
	maxSearchK     = 50
)

func (s *Server) handleRoot(c echo.Context) error {
	return c.JSON(http.StatusOK, RootResponse{
		Status: "BuildBuddy API running",
		Endpoints: map[string]string{
			"POST /api/v1/build-pc":        "Build, critique, improve and visualize a PC build",
			"POST /api/v1/build-pc/stream": "Same pipeline with server-sent progress events",
			"POST /api/v1/tts":             "Text-to-speech (audio/mpeg)",
			"GET /api/v1/catalog/search":   "Search the parts catalog",
			"GET /health":                  "Health check",
			"GET /metrics":                 "Prometheus metrics",
		},
	})
}

func (s *Server) handleHealth(c echo.Context) error {
	components := map[string]string{"pipeline": "ok", "catalog": "disabled", "speech": "disabled"}
	if s.deps.Catalog != nil {
		components["catalog"] = "ok"
	}
	if s.deps.Speech != nil {
		components["speech"] = "ok"
	}
	if s.deps.Health != nil {
		for k, v := range s.deps.Health() {
			components[k] = v
		}
	}
	return c.JSON(http.StatusOK, HealthResponse{
		Status:     "ok",
		Version:    s.opts.Version,
		Components: components,
	})
}

func (s *Server) bindBuild(c echo.Context) (BuildRequest, error) {
	var req BuildRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid build request", zap.Error(err))
		return req, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return req, echo.NewHTTPError(http.StatusBadRequest, pipeline.ErrEmptyQuery.Error())
	}
	return req, nil
}

func (s *Server) runContext(parent context.Context) (context.Context, context.CancelFunc) {
	if s.opts.RequestTimeout > 0 {
		return context.WithTimeout(parent, s.opts.RequestTimeout)
	}
	return context.WithCancel(parent)
}

// handleBuild runs the pipeline and returns the final report.
func (s *Server) handleBuild(c echo.Context) error {
	req, err := s.bindBuild(c)
	if err != nil {
		return err
	}
	ctx, cancel := s.runContext(c.Request().Context())
	defer cancel()

	report, err := s.deps.Pipeline.RunPipeline(ctx, pipeline.Request{Query: req.Query, Verbose: req.Verbose})
	if err != nil {
		status, msg := classify(err)
		s.logger.Warn(ctx, "build request failed", zap.Int("status", status), zap.Error(err))
		return echo.NewHTTPError(status, msg)
	}
	return c.JSON(http.StatusOK, NewBuildResponse(report))
}

// handleBuildStream runs the pipeline and streams progress as server-sent
// events: "progress" for each stage transition, then "report" or "error".
func (s *Server) handleBuildStream(c echo.Context) error {
	req, err := s.bindBuild(c)
	if err != nil {
		return err
	}
	ctx, cancel := s.runContext(c.Request().Context())
	defer cancel()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	// Progress callbacks run on this goroutine, so writes never interleave.
	report, err := s.deps.Pipeline.RunPipeline(ctx, pipeline.Request{
		Query:   req.Query,
		Verbose: req.Verbose,
		OnProgress: func(p pipeline.Progress) {
			if werr := writeEvent(w, "progress", p); werr != nil {
				s.logger.Debug(ctx, "stream write failed", zap.Error(werr))
			}
		},
	})
	if err != nil {
		status, msg := classify(err)
		ev := ErrorEvent{Status: status, Message: msg}
		var sf *pipeline.StageFailedError
		if errors.As(err, &sf) {
			ev.Stage = string(sf.Stage)
		}
		s.logger.Warn(ctx, "streamed build failed", zap.Int("status", status), zap.Error(err))
		return writeEvent(w, "error", ev)
	}
	return writeEvent(w, "report", NewBuildResponse(report))
}

func writeEvent(w *echo.Response, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	w.Flush()
	return nil
}

func (s *Server) handleTTS(c echo.Context) error {
	if s.deps.Speech == nil {
		return echo.NewHTTPError(http.StatusBadRequest, speech.ErrNotConfigured.Error())
	}
	var req TTSRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	audio, err := s.deps.Speech.Synthesize(c.Request().Context(), req.Text, req.Voice)
	if err != nil {
		if errors.Is(err, speech.ErrEmptyText) || errors.Is(err, speech.ErrTextTooLong) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		s.logger.Warn(c.Request().Context(), "speech synthesis failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "speech synthesis failed")
	}

	c.Response().Header().Set(echo.HeaderContentDisposition, "inline; filename=audio.mp3")
	return c.Blob(http.StatusOK, speech.ContentType, audio)
}

func (s *Server) handleCatalogSearch(c echo.Context) error {
	if s.deps.Catalog == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "catalog is not configured")
	}
	query := strings.TrimSpace(c.QueryParam("q"))
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q parameter is required")
	}
	k := defaultSearchK
	if raw := c.QueryParam("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxSearchK {
			return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("k must be 1-%d", maxSearchK))
		}
		k = n
	}

	items, err := s.deps.Catalog.Search(c.Request().Context(), query, k)
	if err != nil {
		s.logger.Warn(c.Request().Context(), "catalog search failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "catalog search failed")
	}
	if items == nil {
		items = []catalog.CandidateItem{}
	}
	return c.JSON(http.StatusOK, CatalogSearchResponse{Query: query, Items: items})
}

// classify maps a pipeline error to an HTTP status and client message.
func classify(err error) (int, string) {
	var sf *pipeline.StageFailedError
	switch {
	case errors.Is(err, pipeline.ErrEmptyQuery):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &sf):
		return http.StatusBadGateway, fmt.Sprintf("%s stage failed: could not produce a build report", sf.Stage)
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "pipeline timed out"
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest, "request canceled"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// NewBuildResponse converts a pipeline report into the API response body.
func NewBuildResponse(r *pipeline.PipelineReport) BuildResponse {
	return BuildResponse{
		RunID:                    r.RunID,
		FinalConfig:              r.FinalConfig,
		Stages:                   r.Stages,
		BudgetDelta:              r.BudgetDelta,
		CritiqueUnavailable:      r.CritiqueUnavailable,
		ImproveUnavailable:       r.ImproveUnavailable,
		VisualizationUnavailable: r.VisualizationUnavailable,
		Visualization:            r.Visualization,
		Mocked:                   r.Mocked,
		Warnings:                 r.Warnings,
	}
}
