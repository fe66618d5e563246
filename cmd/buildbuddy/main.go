// Buildbuddy serves the PC-build pipeline over HTTP.
//
// Each request runs Build, Critique, Improve and Visualize against a
// generative model grounded on the parts catalog, and returns the final
// configuration with per-stage results.
//
// Configuration is loaded from ~/.config/buildbuddy/config.yaml (or -config)
// and BUILDBUDDY_* environment variables. A .env file in the working
// directory is read first when present. See internal/config for details.
//
// Usage:
//
//	# Start server with defaults
//	buildbuddy
//
//	# Run without model credentials
//	BUILDBUDDY_PIPELINE_MOCK_MODE=true BUILDBUDDY_MODEL_PROVIDER=none buildbuddy
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/buildbuddy/internal/catalog"
	"github.com/fyrsmithlabs/buildbuddy/internal/config"
	"github.com/fyrsmithlabs/buildbuddy/internal/events"
	httpserver "github.com/fyrsmithlabs/buildbuddy/internal/http"
	"github.com/fyrsmithlabs/buildbuddy/internal/llm"
	"github.com/fyrsmithlabs/buildbuddy/internal/logging"
	"github.com/fyrsmithlabs/buildbuddy/internal/pipeline"
	"github.com/fyrsmithlabs/buildbuddy/internal/secrets"
	"github.com/fyrsmithlabs/buildbuddy/internal/speech"
	"github.com/fyrsmithlabs/buildbuddy/internal/telemetry"
	"github.com/fyrsmithlabs/buildbuddy/internal/visualize"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  buildbuddy           Start the API server\n")
			fmt.Fprintf(os.Stderr, "  buildbuddy version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("buildbuddy by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run wires every collaborator, serves HTTP and blocks until ctx is done:
//  1. Loads configuration and initializes logging and tracing
//  2. Opens the parts catalog and the model backend
//  3. Builds the visualizer chain, speech client and event publisher
//  4. Starts the HTTP server and shuts it down gracefully
func run(ctx context.Context, configPath string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to read .env: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logCfg, err := logging.ConfigFor(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info(ctx, "starting buildbuddy",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("model_provider", cfg.Model.Provider),
		zap.String("model_key", cfg.Model.APIKey.Hint()),
		zap.Bool("mock_mode", cfg.Pipeline.MockMode),
	)

	tel, err := telemetry.New(ctx, telemetry.FromConfig(cfg.Observability, version), logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := tel.Shutdown(context.Background()); err != nil {
			logger.Warn(context.Background(), "telemetry shutdown failed", zap.Error(err))
		}
	}()

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	contracts, err := pipeline.DefaultContracts().WithTemplates(cfg.Pipeline.Templates)
	if err != nil {
		return fmt.Errorf("invalid prompt templates: %w", err)
	}

	opts := pipeline.Options{
		Generator:       deps.generator,
		Catalog:         deps.catalog,
		Visualizer:      deps.visualizer,
		Contracts:       contracts,
		MockMode:        cfg.Pipeline.MockMode,
		CallTimeout:     cfg.Pipeline.CallTimeout.Duration(),
		TopK:            cfg.Pipeline.TopK,
		MaxOutputTokens: cfg.Model.MaxOutputTokens,
		Logger:          logger,
		Tracer:          tel.Tracer("github.com/fyrsmithlabs/buildbuddy/pipeline"),
	}
	if deps.events != nil {
		opts.Events = deps.events
	}
	if cfg.Pipeline.ScrubQueries {
		opts.Scrubber = secrets.MustNew()
	}
	orch, err := pipeline.New(opts)
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	srv, err := httpserver.NewServer(httpserver.Deps{
		Pipeline: orch,
		Catalog:  deps.catalog,
		Speech:   deps.speech,
		Health: func() map[string]string {
			return map[string]string{
				"telemetry": healthLabel(tel),
				"events":    enabledLabel(deps.events != nil),
			}
		},
	}, logger, httpserver.Options{
		Server:         cfg.Server,
		RequestTimeout: cfg.Pipeline.RequestTimeout.Duration(),
		Version:        version,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return <-errCh
}

// dependencies holds the collaborators the pipeline and API share.
type dependencies struct {
	generator  llm.Generator
	catalog    catalog.Searcher
	visualizer pipeline.Visualizer
	speech     speech.Synthesizer
	events     *events.Publisher
	logger     *logging.Logger
}

// Close releases connections held by the dependencies.
func (d *dependencies) Close() {
	if d.events != nil {
		if err := d.events.Close(); err != nil {
			d.logger.Warn(context.Background(), "events close failed", zap.Error(err))
		}
	}
}

func initDependencies(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*dependencies, error) {
	deps := &dependencies{logger: logger}

	embedder, err := newEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	store, err := catalog.Open(ctx, cfg.Catalog, embedder, logger)
	if err != nil {
		return nil, err
	}
	searcher := catalog.NewReranked(store, cfg.Catalog.RerankPool)
	deps.catalog = catalog.NewCached(searcher, cfg.Catalog.CacheSize, cfg.Catalog.CacheTTL.Duration())

	gen, err := llm.NewFromConfig(ctx, cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("failed to create model backend: %w", err)
	}
	deps.generator = gen

	vis, err := newVisualizer(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	deps.visualizer = vis

	synth, err := speech.New(cfg.Speech)
	switch {
	case errors.Is(err, speech.ErrNotConfigured):
		logger.Info(ctx, "text-to-speech disabled: no API key")
	case err != nil:
		return nil, err
	default:
		deps.speech = synth
	}

	pub, err := events.Connect(cfg.Events, logger)
	if err != nil {
		return nil, err
	}
	deps.events = pub

	return deps, nil
}

func newEmbedder(cfg *config.Config) (catalog.Embedder, error) {
	if cfg.Catalog.Embedder != "openai" {
		return catalog.NewHashEmbedder(), nil
	}
	emb, err := llm.NewOpenAIEmbedder(llm.OpenAIConfig{
		APIKey:  cfg.Model.APIKey.Value(),
		Model:   cfg.Catalog.EmbeddingModel,
		BaseURL: cfg.Model.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog embedder: %w", err)
	}
	return emb, nil
}

// newVisualizer chains Imagen rendering in front of the stock-photo
// fallback. Imagen is used only with the gemini provider.
func newVisualizer(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*visualize.Chain, error) {
	renderers := []visualize.Renderer{}
	if cfg.Model.Provider == "gemini" && cfg.Model.ImageModel != "" {
		store, err := newArtifactStore(cfg.Artifacts)
		if err != nil {
			return nil, err
		}
		client, err := llm.NewGenAIClient(ctx, llm.GenAIConfigFrom(cfg.Model))
		if err != nil {
			return nil, err
		}
		imagen, err := visualize.NewImagenRenderer(client, cfg.Model.ImageModel, store)
		if err != nil {
			return nil, err
		}
		renderers = append(renderers, imagen)
	}
	renderers = append(renderers, visualize.StockRenderer{})
	return visualize.NewChain(logger, renderers...), nil
}

func newArtifactStore(cfg config.ArtifactsConfig) (visualize.ArtifactStore, error) {
	if cfg.Endpoint == "" {
		return visualize.NewMemoryStore(), nil
	}
	return visualize.NewMinioStore(visualize.MinioConfig{
		Endpoint:  cfg.Endpoint,
		AccessKey: cfg.AccessKey.Value(),
		SecretKey: cfg.SecretKey.Value(),
		Bucket:    cfg.Bucket,
		UseSSL:    cfg.UseSSL,
		URLExpiry: cfg.URLExpiry.Duration(),
	})
}

func healthLabel(t *telemetry.Telemetry) string {
	h := t.Health()
	switch {
	case t.IsEnabled():
		return "ok"
	case h.Degraded:
		return "degraded"
	default:
		return "disabled"
	}
}

func enabledLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "disabled"
}
