package http

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/buildbuddy/internal/catalog"
	"github.com/fyrsmithlabs/buildbuddy/internal/config"
	"github.com/fyrsmithlabs/buildbuddy/internal/llm"
	"github.com/fyrsmithlabs/buildbuddy/internal/logging"
	"github.com/fyrsmithlabs/buildbuddy/internal/pipeline"
	"github.com/fyrsmithlabs/buildbuddy/internal/speech"
)

type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) RunPipeline(ctx context.Context, req pipeline.Request) (*pipeline.PipelineReport, error) {
	args := m.Called(ctx, req)
	report, _ := args.Get(0).(*pipeline.PipelineReport)
	return report, args.Error(1)
}

type MockSynthesizer struct {
	mock.Mock
}

func (m *MockSynthesizer) Synthesize(ctx context.Context, text, voiceID string) ([]byte, error) {
	args := m.Called(ctx, text, voiceID)
	audio, _ := args.Get(0).([]byte)
	return audio, args.Error(1)
}

type stubSearcher struct {
	items []catalog.CandidateItem
	err   error
	gotK  int
}

func (s *stubSearcher) Search(_ context.Context, _ string, topK int) ([]catalog.CandidateItem, error) {
	s.gotK = topK
	return s.items, s.err
}

func sampleReport() *pipeline.PipelineReport {
	cfg := pipeline.Recompute(pipeline.BuildConfiguration{
		TargetBudget: decimal.NewFromInt(1200),
		Parts: []pipeline.Part{
			{Category: pipeline.CategoryCPU, Name: "AMD Ryzen 5 7600", Price: decimal.NewFromInt(200)},
			{Category: pipeline.CategoryGPU, Name: "NVIDIA GeForce RTX 4070", Price: decimal.NewFromInt(550)},
		},
	})
	return &pipeline.PipelineReport{
		RunID:               "run-1",
		FinalConfig:         cfg,
		BudgetDelta:         decimal.NewFromInt(-50),
		CritiqueUnavailable: true,
		Visualization:       &pipeline.VisualizationResult{ImageRef: "https://img/x.png", Source: "stock"},
	}
}

func queryMatcher(query string, verbose bool) interface{} {
	return mock.MatchedBy(func(req pipeline.Request) bool {
		return req.Query == query && req.Verbose == verbose
	})
}

func postJSON(t *testing.T, s *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func setupTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	if deps.Pipeline == nil {
		deps.Pipeline = &MockRunner{}
	}
	s, err := NewServer(deps, logging.Nop(), Options{
		Server:  config.ServerConfig{Host: "localhost", Port: 0, AllowOrigins: []string{"http://localhost:3000"}},
		Version: "test",
	})
	require.NoError(t, err)
	return s
}

func TestNewServer(t *testing.T) {
	_, err := NewServer(Deps{}, logging.Nop(), Options{})
	assert.ErrorContains(t, err, "pipeline runner cannot be nil")

	_, err = NewServer(Deps{Pipeline: &MockRunner{}}, nil, Options{})
	assert.ErrorContains(t, err, "logger is required")

	s, err := NewServer(Deps{Pipeline: &MockRunner{}}, logging.Nop(), Options{})
	require.NoError(t, err)
	assert.Equal(t, "localhost", s.opts.Server.Host)
}

func TestHandleBuild(t *testing.T) {
	runner := &MockRunner{}
	runner.On("RunPipeline", mock.Anything, queryMatcher("Build me a $1200 gaming PC", true)).
		Return(sampleReport(), nil).Once()
	s := setupTestServer(t, Deps{Pipeline: runner})

	rec := postJSON(t, s, "/api/v1/build-pc", BuildRequest{Query: "  Build me a $1200 gaming PC ", Verbose: true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp BuildResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "run-1", resp.RunID)
	assert.Equal(t, "750", resp.FinalConfig.TotalBudget.String())
	assert.Equal(t, "-50", resp.BudgetDelta.String())
	assert.True(t, resp.CritiqueUnavailable)
	require.NotNil(t, resp.Visualization)
	assert.Equal(t, "https://img/x.png", resp.Visualization.ImageRef)
	runner.AssertExpectations(t)
}

func TestHandleBuild_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{"build failed", &pipeline.StageFailedError{Stage: pipeline.StageBuild, Err: errors.New("malformed")}, http.StatusBadGateway, "build stage failed"},
		{"timed out", context.DeadlineExceeded, http.StatusServiceUnavailable, "timed out"},
		{"canceled", context.Canceled, StatusClientClosedRequest, "canceled"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &MockRunner{}
			runner.On("RunPipeline", mock.Anything, mock.Anything).Return(nil, tt.err).Once()
			s := setupTestServer(t, Deps{Pipeline: runner})

			rec := postJSON(t, s, "/api/v1/build-pc", BuildRequest{Query: "gaming pc"})
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantMsg)
		})
	}
}

func TestHandleBuild_BadRequest(t *testing.T) {
	runner := &MockRunner{}
	s := setupTestServer(t, Deps{Pipeline: runner})

	rec := postJSON(t, s, "/api/v1/build-pc", BuildRequest{Query: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "query cannot be empty")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/build-pc", strings.NewReader("{not json"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	runner.AssertNotCalled(t, "RunPipeline", mock.Anything, mock.Anything)
}

func TestHandleBuild_RequestTimeout(t *testing.T) {
	runner := &MockRunner{}
	runner.On("RunPipeline", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded).Once()
	s, err := NewServer(Deps{Pipeline: runner}, logging.Nop(), Options{RequestTimeout: 20 * time.Millisecond})
	require.NoError(t, err)

	rec := postJSON(t, s, "/api/v1/build-pc", BuildRequest{Query: "gaming pc"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleBuild_RequestTimeoutAfterBuildKeepsBuild(t *testing.T) {
	const build = `{"build": {"total_budget": 800, "parts": [
		{"category": "CPU", "name": "AMD Ryzen 5 7600", "price": 200},
		{"category": "GPU", "name": "AMD Radeon RX 7700 XT", "price": 600}
	]}}`
	gen := llm.GeneratorFunc(func(ctx context.Context, req llm.Request) (string, error) {
		if strings.Contains(req.Prompt, "Design a complete PC build") {
			return build, nil
		}
		<-ctx.Done()
		return "", ctx.Err()
	})
	orch, err := pipeline.New(pipeline.Options{Generator: gen, CallTimeout: 5 * time.Second})
	require.NoError(t, err)
	s, err := NewServer(Deps{Pipeline: orch}, logging.Nop(), Options{RequestTimeout: 100 * time.Millisecond})
	require.NoError(t, err)

	rec := postJSON(t, s, "/api/v1/build-pc", BuildRequest{Query: "gaming pc under $800"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp BuildResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.CritiqueUnavailable)
	assert.True(t, resp.ImproveUnavailable)
	assert.True(t, resp.FinalConfig.TotalBudget.Equal(decimal.NewFromInt(800)))
	assert.True(t, resp.BudgetDelta.IsZero())
}

// readEvents parses a server-sent event stream into (event, data) pairs.
func readEvents(t *testing.T, body string) [][2]string {
	t.Helper()
	var events [][2]string
	var event string
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			events = append(events, [2]string{event, strings.TrimPrefix(line, "data: ")})
		}
	}
	return events
}

func TestHandleBuildStream(t *testing.T) {
	runner := &MockRunner{}
	runner.On("RunPipeline", mock.Anything, queryMatcher("gaming pc", false)).
		Run(func(args mock.Arguments) {
			req := args.Get(1).(pipeline.Request)
			require.NotNil(t, req.OnProgress)
			req.OnProgress(pipeline.Progress{RunID: "run-1", Stage: pipeline.StageBuild, Status: pipeline.StatusRunning})
			req.OnProgress(pipeline.Progress{RunID: "run-1", Stage: pipeline.StageBuild, Status: pipeline.StatusComplete, Percentage: 25})
		}).
		Return(sampleReport(), nil).Once()
	s := setupTestServer(t, Deps{Pipeline: runner})

	rec := postJSON(t, s, "/api/v1/build-pc/stream", BuildRequest{Query: "gaming pc"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))

	events := readEvents(t, rec.Body.String())
	require.Len(t, events, 3)
	assert.Equal(t, "progress", events[0][0])
	assert.Equal(t, "progress", events[1][0])
	assert.Equal(t, "report", events[2][0])

	var p pipeline.Progress
	require.NoError(t, json.Unmarshal([]byte(events[1][1]), &p))
	assert.Equal(t, 25, p.Percentage)

	var resp BuildResponse
	require.NoError(t, json.Unmarshal([]byte(events[2][1]), &resp))
	assert.Equal(t, "run-1", resp.RunID)
}

func TestHandleBuildStream_Error(t *testing.T) {
	runner := &MockRunner{}
	runner.On("RunPipeline", mock.Anything, mock.Anything).
		Return(nil, &pipeline.StageFailedError{Stage: pipeline.StageBuild, Err: errors.New("bad output")}).Once()
	s := setupTestServer(t, Deps{Pipeline: runner})

	rec := postJSON(t, s, "/api/v1/build-pc/stream", BuildRequest{Query: "gaming pc"})
	require.Equal(t, http.StatusOK, rec.Code)

	events := readEvents(t, rec.Body.String())
	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0][0])
	var ev ErrorEvent
	require.NoError(t, json.Unmarshal([]byte(events[0][1]), &ev))
	assert.Equal(t, http.StatusBadGateway, ev.Status)
	assert.Equal(t, "build", ev.Stage)
}

func TestHandleBuild_MockModeEndToEnd(t *testing.T) {
	orch, err := pipeline.New(pipeline.Options{MockMode: true})
	require.NoError(t, err)
	s := setupTestServer(t, Deps{Pipeline: orch})

	rec := postJSON(t, s, "/api/v1/build-pc", BuildRequest{Query: "Build me a $1200 gaming PC"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp BuildResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.FinalConfig.TotalBudget.Equal(decimal.NewFromInt(1150)))
	assert.True(t, resp.BudgetDelta.Equal(decimal.NewFromInt(-50)))
	assert.True(t, resp.Mocked)
	assert.Len(t, resp.Stages, 1)
	assert.NotNil(t, resp.Visualization)
}

func TestHandleTTS(t *testing.T) {
	synth := &MockSynthesizer{}
	synth.On("Synthesize", mock.Anything, "Your build is ready", "").Return([]byte("ID3"), nil).Once()
	s := setupTestServer(t, Deps{Speech: synth})

	rec := postJSON(t, s, "/api/v1/tts", TTSRequest{Text: "Your build is ready"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, speech.ContentType, rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, "inline; filename=audio.mp3", rec.Header().Get(echo.HeaderContentDisposition))
	assert.Equal(t, "ID3", rec.Body.String())
}

func TestHandleTTS_Errors(t *testing.T) {
	s := setupTestServer(t, Deps{})
	rec := postJSON(t, s, "/api/v1/tts", TTSRequest{Text: "hello"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "not configured")

	synth := &MockSynthesizer{}
	synth.On("Synthesize", mock.Anything, "", "").Return(nil, speech.ErrEmptyText).Once()
	synth.On("Synthesize", mock.Anything, "hello", "").Return(nil, &speech.APIError{StatusCode: 401, Message: "bad key"}).Once()
	s = setupTestServer(t, Deps{Speech: synth})

	rec = postJSON(t, s, "/api/v1/tts", TTSRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, s, "/api/v1/tts", TTSRequest{Text: "hello"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.NotContains(t, rec.Body.String(), "bad key")
}

func TestHandleCatalogSearch(t *testing.T) {
	searcher := &stubSearcher{items: []catalog.CandidateItem{
		{ID: "1", Category: "GPU", Name: "NVIDIA GeForce RTX 4070", Price: decimal.NewFromInt(549)},
	}}
	s := setupTestServer(t, Deps{Catalog: searcher})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/catalog/search?q=rtx+4070&k=3", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, searcher.gotK)

	var resp CatalogSearchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "rtx 4070", resp.Query)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "NVIDIA GeForce RTX 4070", resp.Items[0].Name)
}

func TestHandleCatalogSearch_Errors(t *testing.T) {
	tests := []struct {
		name   string
		deps   Deps
		url    string
		status int
	}{
		{"not configured", Deps{}, "/api/v1/catalog/search?q=x", http.StatusServiceUnavailable},
		{"missing q", Deps{Catalog: &stubSearcher{}}, "/api/v1/catalog/search", http.StatusBadRequest},
		{"bad k", Deps{Catalog: &stubSearcher{}}, "/api/v1/catalog/search?q=x&k=0", http.StatusBadRequest},
		{"k too large", Deps{Catalog: &stubSearcher{}}, "/api/v1/catalog/search?q=x&k=51", http.StatusBadRequest},
		{"search error", Deps{Catalog: &stubSearcher{err: errors.New("down")}}, "/api/v1/catalog/search?q=x", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := setupTestServer(t, tt.deps)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.url, nil))
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestHandleHealthAndRoot(t *testing.T) {
	s := setupTestServer(t, Deps{
		Catalog: &stubSearcher{},
		Health:  func() map[string]string { return map[string]string{"telemetry": "disabled"} },
	})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "test", health.Version)
	assert.Equal(t, map[string]string{"pipeline": "ok", "catalog": "ok", "speech": "disabled", "telemetry": "disabled"}, health.Components)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var root RootResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &root))
	assert.Contains(t, root.Endpoints, "POST /api/v1/build-pc")
}

func TestMiddleware(t *testing.T) {
	t.Run("adds request ID to response", func(t *testing.T) {
		s := setupTestServer(t, Deps{})
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))
	})

	t.Run("propagates request ID into handler context", func(t *testing.T) {
		runner := &MockRunner{}
		var gotID string
		runner.On("RunPipeline", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) {
				gotID = logging.RequestIDFromContext(args.Get(0).(context.Context))
			}).
			Return(sampleReport(), nil).Once()
		s := setupTestServer(t, Deps{Pipeline: runner})

		b, _ := json.Marshal(BuildRequest{Query: "pc"})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/build-pc", bytes.NewReader(b))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.Header.Set(echo.HeaderXRequestID, "req-abc-123")
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, "req-abc-123", gotID)
	})

	t.Run("allows the configured origin", func(t *testing.T) {
		s := setupTestServer(t, Deps{})
		req := httptest.NewRequest(http.MethodOptions, "/api/v1/build-pc", nil)
		req.Header.Set(echo.HeaderOrigin, "http://localhost:3000")
		req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodPost)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		assert.Equal(t, "http://localhost:3000", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	})

	t.Run("recovers from panic", func(t *testing.T) {
		s := setupTestServer(t, Deps{})
		s.echo.GET("/panic", func(c echo.Context) error {
			panic("test panic")
		})
		rec := httptest.NewRecorder()
		assert.NotPanics(t, func() {
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/panic", nil))
		})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestServerLifecycle(t *testing.T) {
	s := setupTestServer(t, Deps{})

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.Start()
	}()
	time.Sleep(100 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	select {
	case err := <-errChan:
		assert.NoError(t, err)
	case <-time.After(6 * time.Second):
		t.Fatal("server did not shut down in time")
	}
}
