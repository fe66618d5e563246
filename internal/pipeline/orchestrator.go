package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/buildbuddy/internal/catalog"
	"github.com/fyrsmithlabs/buildbuddy/internal/llm"
	"github.com/fyrsmithlabs/buildbuddy/internal/logging"
	"github.com/fyrsmithlabs/buildbuddy/internal/secrets"
)

const (
	defaultCallTimeout = 45 * time.Second
	defaultTopK        = 8
	tracerName         = "github.com/fyrsmithlabs/buildbuddy/internal/pipeline"
)

// Searcher retrieves catalog parts to ground the Build stage. An empty result
// is valid.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]catalog.CandidateItem, error)
}

// VisualizeRequest is the input to a Visualizer.
type VisualizeRequest struct {
	Prompt string
	Config BuildConfiguration
	Query  string
	Theme  string
}

// Visualizer renders the final configuration. Failures never affect the
// numeric result.
type Visualizer interface {
	Visualize(ctx context.Context, req VisualizeRequest) (VisualizationResult, error)
}

// EventPublisher receives stage progress for external consumers. Publishing
// is best effort.
type EventPublisher interface {
	Publish(ctx context.Context, p Progress) error
}

// QueryScrubber removes credentials from a query before it is used in
// prompts, logs or events. *secrets.Scrubber satisfies it.
type QueryScrubber interface {
	Scrub(text string) secrets.Result
}

// Options configures an Orchestrator.
type Options struct {
	// Generator is the model backend. It may be nil only in mock mode, in
	// which case every model stage is served by Mock.
	Generator  llm.Generator
	Catalog    Searcher
	Visualizer Visualizer
	Contracts  Contracts
	Policies   Policies
	Mock       MockProvider
	// MockMode allows mock substitution. It is never inferred from failures.
	MockMode        bool
	CallTimeout     time.Duration
	TopK            int
	MaxOutputTokens int
	Logger          *logging.Logger
	Metrics         *Metrics
	Events          EventPublisher
	Tracer          trace.Tracer
	// Scrubber is optional; nil sends queries to the model verbatim.
	Scrubber QueryScrubber
}

// Orchestrator runs the pipeline. It holds no per-run state and is safe for
// concurrent RunPipeline calls.
type Orchestrator struct {
	gen         llm.Generator
	catalog     Searcher
	visualizer  Visualizer
	contracts   Contracts
	policies    Policies
	mock        MockProvider
	mockMode    bool
	callTimeout time.Duration
	topK        int
	maxTokens   int
	log         *logging.Logger
	metrics     *Metrics
	events      EventPublisher
	tracer      trace.Tracer
	scrubber    QueryScrubber
}

// New creates an Orchestrator, filling defaults for unset options.
func New(opts Options) (*Orchestrator, error) {
	if opts.Generator == nil && !opts.MockMode {
		return nil, errors.New("a model generator is required unless mock mode is enabled")
	}
	o := &Orchestrator{
		gen:         opts.Generator,
		catalog:     opts.Catalog,
		visualizer:  opts.Visualizer,
		contracts:   opts.Contracts,
		policies:    opts.Policies,
		mock:        opts.Mock,
		mockMode:    opts.MockMode,
		callTimeout: opts.CallTimeout,
		topK:        opts.TopK,
		maxTokens:   opts.MaxOutputTokens,
		log:         opts.Logger,
		metrics:     opts.Metrics,
		events:      opts.Events,
		tracer:      opts.Tracer,
		scrubber:    opts.Scrubber,
	}
	if o.contracts == nil {
		o.contracts = DefaultContracts()
	}
	if err := o.contracts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid contracts: %w", err)
	}
	if o.policies == nil {
		o.policies = DefaultPolicies()
	}
	if err := o.policies.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policies: %w", err)
	}
	if o.mock == nil {
		o.mock = StaticMock{}
	}
	if o.callTimeout <= 0 {
		o.callTimeout = defaultCallTimeout
	}
	if o.topK <= 0 {
		o.topK = defaultTopK
	}
	if o.log == nil {
		o.log = logging.Nop()
	}
	if o.metrics == nil {
		o.metrics = NewMetrics()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}
	return o, nil
}

// run is the state of one pipeline execution.
type run struct {
	id      string
	query   string
	tracker *Tracker
	results []StageResult
}

// RunPipeline executes Build → Critique → Improve → Visualize for one request.
//
// A Build failure returns a *StageFailedError and no report. Failures of later
// stages degrade unless their policy is Fatal: the report is complete and
// priceable, with the matching *Unavailable flag set. Cancellation is checked
// between stages. Once Build has succeeded an expired deadline no longer
// discards the run; the stages it cuts short are reported unavailable.
func (o *Orchestrator) RunPipeline(ctx context.Context, req Request) (*PipelineReport, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	r := &run{id: uuid.NewString(), query: query}
	ctx = logging.WithRunID(ctx, r.id)
	ctx, span := o.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("run.id", r.id),
		attribute.Bool("pipeline.verbose", req.Verbose),
		attribute.Bool("pipeline.mock_mode", o.mockMode),
	))
	defer span.End()

	r.query = o.scrub(ctx, r.query)
	r.tracker = NewTracker(r.id, req.OnProgress, o.publisher(ctx))

	start := time.Now()
	o.log.Info(ctx, "pipeline started", zap.Bool("verbose", req.Verbose), zap.Bool("mock_mode", o.mockMode))

	report, err := o.execute(ctx, r, req.Verbose)
	outcome := runOutcome(report, err)
	o.metrics.RunsTotal.WithLabelValues(outcome).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.log.Warn(ctx, "pipeline ended without a report", zap.String("outcome", outcome), zap.Error(err))
		return nil, err
	}

	span.SetAttributes(attribute.String("pipeline.outcome", outcome))
	o.log.Info(ctx, "pipeline completed",
		zap.String("outcome", outcome),
		zap.String("final_total", report.FinalConfig.TotalBudget.StringFixed(2)),
		zap.String("budget_delta", report.BudgetDelta.StringFixed(2)),
		zap.Duration("duration", time.Since(start)),
	)
	return report, nil
}

func (o *Orchestrator) scrub(ctx context.Context, query string) string {
	if o.scrubber == nil {
		return query
	}
	res := o.scrubber.Scrub(query)
	if !res.Redacted() {
		return query
	}
	rules := res.RuleIDs()
	for _, rule := range rules {
		o.metrics.RedactionsTotal.WithLabelValues(rule).Inc()
	}
	o.log.Warn(ctx, "redacted credentials from query",
		zap.Strings("rules", rules),
		zap.Int("findings", len(res.Findings)),
	)
	return res.Text
}

func runOutcome(report *PipelineReport, err error) string {
	switch {
	case err != nil && errors.As(err, new(*StageFailedError)):
		return "failed"
	case err != nil:
		return "canceled"
	case report.CritiqueUnavailable || report.ImproveUnavailable || report.VisualizationUnavailable:
		return "degraded"
	}
	return "complete"
}

func (o *Orchestrator) execute(ctx context.Context, r *run, verbose bool) (*PipelineReport, error) {
	if err := canceled(ctx, StageBuild); err != nil {
		return nil, err
	}
	build, err := o.stage(ctx, r, StageBuild, func(ctx context.Context) (StageResult, error) {
		return o.runBuild(ctx, r)
	})
	if err != nil {
		if ctxErr := canceled(ctx, StageBuild); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &StageFailedError{Stage: StageBuild, Err: err}
	}
	buildCfg := build.Build.Config

	report := &PipelineReport{
		RunID:       r.id,
		Query:       r.query,
		FinalConfig: buildCfg.Clone(),
		Mocked:      build.Mocked,
	}

	// From here on a priceable configuration exists. Only a caller that went
	// away stops the run; a spent deadline fails the remaining stages.
	if err := disconnected(ctx, StageCritique); err != nil {
		return nil, err
	}
	critique, err := o.stage(ctx, r, StageCritique, func(ctx context.Context) (StageResult, error) {
		data := CritiquePromptData{Query: r.query, BuildJSON: configJSON(buildCfg)}
		return o.generate(ctx, StageCritique, r.query, data, &buildCfg)
	})
	if err != nil {
		if ferr := o.fatal(StageCritique, err); ferr != nil {
			return nil, ferr
		}
		report.CritiqueUnavailable = true
	}

	if err := disconnected(ctx, StageImprove); err != nil {
		return nil, err
	}
	improve, err := o.stage(ctx, r, StageImprove, func(ctx context.Context) (StageResult, error) {
		return o.runImprove(ctx, r, buildCfg, critique)
	})
	if err != nil {
		if ferr := o.fatal(StageImprove, err); ferr != nil {
			return nil, ferr
		}
		report.ImproveUnavailable = true
	} else {
		report.FinalConfig = improve.Improve.RevisedConfig.Clone()
	}

	if err := disconnected(ctx, StageVisualize); err != nil {
		return nil, err
	}
	finalCfg := report.FinalConfig
	vis, err := o.stage(ctx, r, StageVisualize, func(ctx context.Context) (StageResult, error) {
		return o.runVisualize(ctx, r, finalCfg)
	})
	if err != nil {
		if ferr := o.fatal(StageVisualize, err); ferr != nil {
			return nil, ferr
		}
		report.VisualizationUnavailable = true
	} else {
		report.Visualization = vis.Visualization
	}

	report.BudgetDelta = Delta(report.FinalConfig, buildCfg)
	for _, res := range r.results {
		report.Mocked = report.Mocked || res.Mocked
		for _, w := range res.Warnings {
			report.Warnings = append(report.Warnings, fmt.Sprintf("%s: %s", res.Stage, w))
		}
	}
	report.Stages = selectStages(r.results, verbose)
	return report, nil
}

// fatal applies the stage policy to a failure after Build. It returns the
// error that ends the run, or nil after recording the degradation.
func (o *Orchestrator) fatal(stage Stage, err error) error {
	if o.policies[stage].Fatal {
		return &StageFailedError{Stage: stage, Err: err}
	}
	o.degraded(stage)
	return nil
}

// stage wraps one stage execution with tracking, tracing, logging and
// metrics, and records its result on the run.
func (o *Orchestrator) stage(ctx context.Context, r *run, stage Stage, fn func(context.Context) (StageResult, error)) (StageResult, error) {
	ctx = logging.WithStage(ctx, string(stage))
	ctx, span := o.tracer.Start(ctx, "pipeline.stage."+string(stage))
	defer span.End()

	if err := r.tracker.Start(stage); err != nil {
		return StageResult{}, err
	}
	o.log.Debug(ctx, "stage started")

	start := time.Now()
	var (
		res StageResult
		err error
	)
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%s skipped: %w", stage, ctxErr)
	} else {
		res, err = fn(ctx)
	}
	elapsed := time.Since(start)

	res.Stage = stage
	res.StartedAt = start
	res.CompletedAt = start.Add(elapsed)
	o.metrics.StageDuration.WithLabelValues(string(stage)).Observe(elapsed.Seconds())
	span.SetAttributes(attribute.Int("stage.attempts", res.Attempts), attribute.Bool("stage.mocked", res.Mocked))

	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		res.Build, res.Critique, res.Improve, res.Visualization = nil, nil, nil, nil
		if terr := r.tracker.Fail(stage, err); terr != nil {
			o.log.Debug(ctx, "stage transition rejected", zap.Error(terr))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.metrics.StageTotal.WithLabelValues(string(stage), string(StatusFailed)).Inc()
		fields := []zap.Field{zap.Error(err), zap.Int("attempts", res.Attempts), zap.Duration("duration", elapsed)}
		var me *MalformedOutputError
		if errors.As(err, &me) {
			fields = append(fields, logging.Truncated("raw", me.Raw, 512))
		}
		o.log.Warn(ctx, "stage failed", fields...)
		r.results = append(r.results, res)
		return res, err
	}

	res.Status = StatusComplete
	if terr := r.tracker.Complete(stage, ""); terr != nil {
		o.log.Debug(ctx, "stage transition rejected", zap.Error(terr))
	}
	o.metrics.StageTotal.WithLabelValues(string(stage), string(StatusComplete)).Inc()
	o.log.Info(ctx, "stage completed",
		zap.Int("attempts", res.Attempts),
		zap.Bool("mocked", res.Mocked),
		zap.Int("warnings", len(res.Warnings)),
		zap.Duration("duration", elapsed),
	)
	r.results = append(r.results, res)
	return res, nil
}

func (o *Orchestrator) runBuild(ctx context.Context, r *run) (StageResult, error) {
	retrieved := o.retrieve(ctx, r.query)
	data := BuildPromptData{Query: r.query, RetrievedParts: formatCandidates(retrieved)}
	target, hasTarget := ExtractBudget(r.query)
	if hasTarget {
		data.TargetBudget = target.StringFixed(0)
	}

	res, err := o.generate(ctx, StageBuild, r.query, data, nil)
	if err != nil {
		return res, err
	}

	build := *res.Build
	if hasTarget {
		build.Config.TargetBudget = target
	}
	build.ToolDecisions = append([]ToolDecision{{
		Tool:  "catalog_search",
		Query: r.query,
		Why:   fmt.Sprintf("Ground part choices in the parts catalog (%d candidates)", len(retrieved)),
	}}, build.ToolDecisions...)
	res.Build = &build
	return res, nil
}

func (o *Orchestrator) runImprove(ctx context.Context, r *run, buildCfg BuildConfiguration, critique StageResult) (StageResult, error) {
	data := ImprovePromptData{Query: r.query, BuildJSON: configJSON(buildCfg)}
	if critique.Status == StatusComplete && critique.Critique != nil {
		b, err := json.MarshalIndent(critique.Critique, "", "  ")
		if err == nil {
			data.CritiqueJSON = string(b)
			data.CritiqueAvailable = true
		}
	}

	res, err := o.generate(ctx, StageImprove, r.query, data, &buildCfg)
	if err != nil {
		return res, err
	}

	valid, dropped := partitionChanges(buildCfg, res.Improve.Changes)
	revised, _ := Apply(buildCfg, valid)
	for _, d := range dropped {
		res.Warnings = append(res.Warnings, "dropped change: "+d.Error())
		o.metrics.DroppedChanges.Inc()
		o.log.Warn(ctx, "dropped change with invalid reference", zap.String("category", d.Category), zap.String("ref", d.Ref))
	}
	res.Improve = &ImproveResult{
		Changes:       valid,
		RevisedConfig: revised,
		Summary:       res.Improve.Summary,
	}
	return res, nil
}

func (o *Orchestrator) runVisualize(ctx context.Context, r *run, cfg BuildConfiguration) (StageResult, error) {
	theme := themeFor(r.query)
	prompt, err := o.contracts[StageVisualize].Render(VisualizePromptData{
		Components: strings.Join(cfg.PartNames(), ", "),
		Theme:      theme,
	})
	if err != nil {
		return StageResult{}, err
	}

	if o.visualizer == nil {
		if o.mockMode {
			res := o.mock.MockResult(StageVisualize, r.query)
			vis := *res.Visualization
			vis.Prompt = prompt
			res.Visualization = &vis
			return res, nil
		}
		return StageResult{}, errors.New("no visualizer configured")
	}

	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()
	vis, err := o.visualizer.Visualize(callCtx, VisualizeRequest{
		Prompt: prompt,
		Config: cfg.Clone(),
		Query:  r.query,
		Theme:  theme,
	})
	if err != nil {
		return StageResult{Attempts: 1}, err
	}
	if vis.Prompt == "" {
		vis.Prompt = prompt
	}
	return StageResult{Visualization: &vis, Attempts: 1}, nil
}

// generate renders the stage prompt, calls the model and extracts the result,
// following the stage policy for transport retries, repair prompts and mock
// substitution.
func (o *Orchestrator) generate(ctx context.Context, stage Stage, query string, data any, ref *BuildConfiguration) (StageResult, error) {
	if o.gen == nil {
		return o.mock.MockResult(stage, query), nil
	}

	contract := o.contracts[stage]
	pol := o.policies[stage]
	prompt, err := contract.Render(data)
	if err != nil {
		return StageResult{}, err
	}

	req := llm.Request{
		Prompt:          prompt,
		Temperature:     contract.Temperature,
		MaxOutputTokens: o.outputTokens(contract),
		JSON:            true,
		SchemaHint:      contract.SchemaHint,
	}

	var attempts, retries, repairs int
	for {
		attempts++
		raw, err := o.call(ctx, req)
		if err != nil {
			if IsRetryable(err) && retries < pol.TransportRetries && ctx.Err() == nil {
				retries++
				o.metrics.ModelRetriesTotal.WithLabelValues(string(stage), "transport").Inc()
				o.log.Warn(ctx, "model call failed, retrying", zap.Error(err), zap.Int("attempt", attempts))
				continue
			}
			return StageResult{Attempts: attempts}, err
		}

		res, err := contract.Extract(raw, ref)
		if err == nil {
			res.Attempts = attempts
			return res, nil
		}

		var me *MalformedOutputError
		if !errors.As(err, &me) {
			return StageResult{Attempts: attempts}, err
		}
		if repairs < pol.RepairAttempts && ctx.Err() == nil {
			repairs++
			o.metrics.ModelRetriesTotal.WithLabelValues(string(stage), "repair").Inc()
			o.log.Warn(ctx, "malformed model output, requesting repair",
				zap.String("reason", me.Reason),
				logging.Truncated("raw", me.Raw, 512),
			)
			req.Prompt = repairPrompt(prompt, me)
			continue
		}
		if pol.MockOnMalformed && o.mockMode {
			o.log.Warn(ctx, "malformed model output, substituting mock data", zap.String("reason", me.Reason))
			res := o.mock.MockResult(stage, query)
			res.Attempts = attempts
			res.Warnings = append(res.Warnings, "model output unusable; mock data substituted")
			return res, nil
		}
		return StageResult{Attempts: attempts}, err
	}
}

// call issues one model call bounded by the per-call timeout. A timeout is
// reported as a transport error.
func (o *Orchestrator) call(ctx context.Context, req llm.Request) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	raw, err := o.gen.Generate(callCtx, req)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return "", &TransportError{Provider: "pipeline", Err: fmt.Errorf("model call timed out after %s: %w", o.callTimeout, err)}
	}
	return raw, err
}

func (o *Orchestrator) outputTokens(c Contract) int {
	if o.maxTokens > 0 && (c.MaxOutputTokens == 0 || o.maxTokens < c.MaxOutputTokens) {
		return o.maxTokens
	}
	return c.MaxOutputTokens
}

// retrieve searches the catalog. Failures are logged and treated as no results.
func (o *Orchestrator) retrieve(ctx context.Context, query string) []catalog.CandidateItem {
	if o.catalog == nil {
		return nil
	}
	items, err := o.catalog.Search(ctx, query, o.topK)
	if err != nil {
		o.log.Warn(ctx, "catalog search failed, continuing without grounding", zap.Error(err))
		return nil
	}
	o.log.Debug(ctx, "catalog search", zap.Int("results", len(items)))
	return items
}

func (o *Orchestrator) degraded(stage Stage) {
	o.metrics.DegradationsTotal.WithLabelValues(string(stage)).Inc()
}

func (o *Orchestrator) publisher(ctx context.Context) ProgressFunc {
	if o.events == nil {
		return nil
	}
	return func(p Progress) {
		if err := o.events.Publish(ctx, p); err != nil {
			o.log.Debug(ctx, "progress publish failed", zap.Error(err))
		}
	}
}

// disconnected reports a canceled ctx. Unlike canceled it ignores a spent
// deadline, which stages after Build absorb as failures.
func disconnected(ctx context.Context, next Stage) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("pipeline canceled before %s: %w", next, ctx.Err())
	}
	return nil
}

func canceled(ctx context.Context, next Stage) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("pipeline canceled before %s: %w", next, ctx.Err())
	default:
		return nil
	}
}

// selectStages returns every attempted stage when verbose, else only the
// last successful configuration-producing stage.
func selectStages(results []StageResult, verbose bool) []StageResult {
	if verbose {
		return results
	}
	for i := len(results) - 1; i >= 0; i-- {
		if _, ok := results[i].Config(); ok {
			return []StageResult{results[i]}
		}
	}
	return nil
}

// configJSON serializes cfg for prompts with prices as plain numbers.
func configJSON(cfg BuildConfiguration) string {
	type promptPart struct {
		Category string  `json:"category"`
		Name     string  `json:"name"`
		Price    float64 `json:"price"`
	}
	view := struct {
		TotalBudget float64      `json:"total_budget"`
		Parts       []promptPart `json:"parts"`
	}{TotalBudget: cfg.TotalBudget.InexactFloat64()}
	for _, p := range cfg.Parts {
		view.Parts = append(view.Parts, promptPart{Category: string(p.Category), Name: p.Name, Price: p.Price.InexactFloat64()})
	}
	b, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

// formatCandidates renders catalog results as one line per part.
func formatCandidates(items []catalog.CandidateItem) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	for _, it := range items {
		fmt.Fprintf(&b, "- [%s] %s: $%s", it.Category, it.Name, it.Price.StringFixed(2))
		if len(it.Specs) > 0 {
			keys := make([]string, 0, len(it.Specs))
			for k := range it.Specs {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			specs := make([]string, 0, len(keys))
			for _, k := range keys {
				specs = append(specs, k+": "+it.Specs[k])
			}
			fmt.Fprintf(&b, " (%s)", strings.Join(specs, ", "))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

var themes = []string{"pink", "white", "black", "red", "blue", "purple", "green"}

// themeFor picks a color theme named in the request, if any.
func themeFor(query string) string {
	lower := strings.ToLower(query)
	for _, t := range themes {
		if strings.Contains(lower, t) {
			return t
		}
	}
	return ""
}
