// Package app assembles the compliance service from configuration. Both the
// daemon and the CLI build on it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/esg-compliance/internal/common"
	"github.com/joseph-ayodele/esg-compliance/internal/email"
	"github.com/joseph-ayodele/esg-compliance/internal/export"
	"github.com/joseph-ayodele/esg-compliance/internal/extract"
	"github.com/joseph-ayodele/esg-compliance/internal/grading"
	"github.com/joseph-ayodele/esg-compliance/internal/issues"
	"github.com/joseph-ayodele/esg-compliance/internal/llm/openai"
	"github.com/joseph-ayodele/esg-compliance/internal/metrics"
	"github.com/joseph-ayodele/esg-compliance/internal/ocr"
	"github.com/joseph-ayodele/esg-compliance/internal/pdfdoc"
	"github.com/joseph-ayodele/esg-compliance/internal/pipeline"
	"github.com/joseph-ayodele/esg-compliance/internal/reconcile"
	"github.com/joseph-ayodele/esg-compliance/internal/repository"
	"github.com/joseph-ayodele/esg-compliance/internal/review"
	"github.com/joseph-ayodele/esg-compliance/internal/server"
	"github.com/joseph-ayodele/esg-compliance/internal/splitter"
	"github.com/joseph-ayodele/esg-compliance/internal/storage"
)

// App holds the long-lived components. Runner is nil for the data-only
// variant returned by OpenData.
type App struct {
	Config    *common.Config
	DB        *repository.DB
	Store     *storage.FSStore
	Metrics   *metrics.Metrics
	Runs      repository.RunRepository
	Suppliers repository.SupplierRepository
	Audits    repository.AuditRepository
	Grading   repository.GradingRepository
	Loader    *grading.Loader
	Status    *server.StatusService
	Export    *export.Service
	Review    *review.Service
	Runner    *pipeline.Runner

	closers []func()
	log     *slog.Logger
}

// OpenData connects storage and the database and builds the services that
// need no model backend.
func OpenData(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Metrics: metrics.New(), log: logger}

	store, err := storage.NewFSStore(cfg.Storage.Root, logger)
	if err != nil {
		return nil, err
	}
	a.Store = store

	db, err := repository.Open(ctx, repository.ConfigFrom(cfg.Database), logger)
	if err != nil {
		return nil, err
	}
	a.DB = db
	a.closers = append(a.closers, func() { db.Close(logger) })

	if err := db.HealthCheck(ctx, 5*time.Second, logger); err != nil {
		a.Close()
		return nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := repository.Migrate(ctx, db, logger); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.Runs = repository.NewRunRepository(db, logger)
	a.Suppliers = repository.NewSupplierRepository(db, logger)
	a.Audits = repository.NewAuditRepository(db, logger)
	a.Grading = repository.NewGradingRepository(db, logger)
	a.Loader = grading.NewLoader(a.Grading, cfg.Grading.KeyColumns, logger)
	a.Status = server.NewStatusService(a.Runs, a.Suppliers, store, logger)
	a.Export = export.NewService(a.Audits, logger)
	if cfg.Review.Enabled {
		a.Review = review.NewService(a.Runs, a.Suppliers, a.Audits, store, a.notifier(), cfg.Server.PublicBaseURL, logger)
	}
	return a, nil
}

// Open builds everything OpenData does plus the workflow runner.
func Open(ctx context.Context, cfg *common.Config, logger *slog.Logger) (*App, error) {
	a, err := OpenData(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := a.buildRunner(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) notifier() review.Notifier {
	if url := a.Config.Review.WebhookURL; url != "" {
		return review.NewWebhookNotifier(url, 15*time.Second, a.log)
	}
	return review.NewLogNotifier(a.log)
}

func (a *App) buildRunner(ctx context.Context) error {
	cfg := a.Config
	logger := a.log

	client := openai.NewClient(openai.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		EmbeddingModel: cfg.LLM.EmbeddingModel,
		Timeout:        cfg.LLM.Timeout,
	}, logger).WithObserver(a.Metrics.ObserveLLM)

	analyzer, err := a.analyzer()
	if err != nil {
		return err
	}
	tool := pdfdoc.New(logger)
	var texts splitter.PageTexter = tool
	if cfg.OCR.TextSource == "pdftotext" {
		texts = splitter.AnalyzerTexts{Analyzer: analyzer}
	}

	supplierCfg, err := splitter.LoadSupplierConfig(cfg.Workflow.SupplierConfig)
	if err != nil {
		return err
	}
	split, err := splitter.New(tool, texts, a.Store, splitter.Options{
		SupplierConfig: supplierCfg,
		LastSection:    splitter.LastSection(cfg.Workflow.LastSection),
	}, logger)
	if err != nil {
		return err
	}

	tables, err := extract.LoadTables(cfg.Workflow.TablesConfig)
	if err != nil {
		return err
	}

	matcher := reconcile.NewExactMatcher(a.Grading, cfg.Reconcile.Threshold, logger)
	reconciler := reconcile.NewReconciler(client, a.embeddingCache(ctx), cfg.Reconcile.QueryTemplate, logger)

	pcfg := pipeline.ConfigFrom(cfg.Workflow)
	pcfg.Observer = a.Metrics
	pcfg.Recorder = a.Metrics

	deps := pipeline.Deps{
		Store:    a.Store,
		Splitter: split,
		Loader:   extract.NewOCRAdapter(a.Store, analyzer, logger),
		Supplier: extract.NewExtractor(client, tables, extract.Options{
			TableModel: cfg.LLM.Model,
			PageModel:  cfg.LLM.ExtractModel,
		}, logger),
		Issues:     issues.NewExtractor(client, matcher, a.Audits, issues.Options{Model: cfg.LLM.ExtractModel}, logger),
		Reconciler: reconciler,
		Email:      email.NewGenerator(client, cfg.LLM.Model, logger),
		Runs:       a.Runs,
		Suppliers:  a.Suppliers,
		Audits:     a.Audits,
		Grading:    a.Grading,
	}
	if a.Review != nil {
		deps.Approvals = a.Review
	}
	a.Runner, err = pipeline.NewRunner(deps, pcfg, logger)
	return err
}

func (a *App) analyzer() (ocr.Analyzer, error) {
	c := a.Config.OCR
	switch c.Mode {
	case "remote":
		remote, err := ocr.NewRemoteAnalyzer(c.Endpoint, c.APIKey, c.Timeout, a.log)
		if err != nil {
			return nil, err
		}
		return remote, nil
	case "local", "":
		return ocr.NewLocalAnalyzer(ocr.Config{
			TessdataDir:      c.TessdataDir,
			ArtifactCacheDir: c.ArtifactCacheDir,
		}, a.log), nil
	default:
		return nil, fmt.Errorf("%w: unknown OCR mode %q", common.ErrInvalidInput, c.Mode)
	}
}

// embeddingCache prefers Redis and falls back to process memory when it is
// not configured or unreachable.
func (a *App) embeddingCache(ctx context.Context) reconcile.EmbeddingCache {
	r := a.Config.Redis
	model := a.Config.LLM.EmbeddingModel
	if r.Addr == "" {
		return reconcile.NewMemoryCache(model, r.TTL)
	}
	cache, err := reconcile.NewRedisCache(ctx, reconcile.RedisOptions{
		Addr:     r.Addr,
		Password: r.Password,
		DB:       r.DB,
		TTL:      r.TTL,
		Model:    model,
	}, a.log)
	if err != nil {
		a.log.Warn("app.redis.unavailable", "addr", r.Addr, "error", err)
		return reconcile.NewMemoryCache(model, r.TTL)
	}
	a.closers = append(a.closers, func() { _ = cache.Close() })
	return cache
}

// Close releases everything Open acquired, in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
