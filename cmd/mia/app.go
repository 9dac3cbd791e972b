package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cicciopanzer27/mia/config"
	"github.com/cicciopanzer27/mia/events"
	"github.com/cicciopanzer27/mia/llm"
	"github.com/cicciopanzer27/mia/model"
	"github.com/cicciopanzer27/mia/roadmap"
	"github.com/cicciopanzer27/mia/source"
	"github.com/cicciopanzer27/mia/storage"
	"github.com/cicciopanzer27/mia/workflow"
)

// App wires the refinement loop from configuration.
type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *roadmap.Store
	models     *model.Registry
	generator  *model.Router
	controller *workflow.Controller
	publisher  events.Publisher
	snapshots  *storage.Store
	registry   *prometheus.Registry
}

// NewApp builds every component the loop needs. A NATS URL in the config
// connects the cycle publisher immediately.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	clientOpts := []llm.ClientOption{
		llm.WithLogger(logger),
		llm.WithHTTPClient(&http.Client{Timeout: cfg.LLM.Timeout}),
	}
	if cfg.LLM.Temperature != 0 {
		clientOpts = append(clientOpts, llm.WithTemperature(cfg.LLM.Temperature))
	}
	if cfg.LLM.MaxTokens > 0 {
		clientOpts = append(clientOpts, llm.WithMaxTokens(cfg.LLM.MaxTokens))
	}
	models, err := cfg.Registry()
	if err != nil {
		return nil, fmt.Errorf("build model registry: %w", err)
	}
	factory := func(name string, ep llm.Endpoint) (model.Generator, error) {
		client, err := llm.NewClient(ep, clientOpts...)
		if err != nil {
			return nil, err
		}
		return client, nil
	}
	generator, err := model.NewRouter(models, model.RoleGenerate, factory, logger)
	if err != nil {
		return nil, fmt.Errorf("create llm client: %w", err)
	}
	reviewer, err := model.NewRouter(models, model.RoleReview, factory, logger)
	if err != nil {
		return nil, fmt.Errorf("create llm client: %w", err)
	}

	resolver, err := source.NewResolver(cfg.ResolverConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("create resolver: %w", err)
	}
	fetcher, err := source.NewFetcher(cfg.FetcherConfig(), source.WithFetchLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("create fetcher: %w", err)
	}

	store := roadmap.NewStore(cfg.Roadmap.Path, roadmap.WithLogger(logger))

	var publisher events.Publisher = events.Nop{}
	if cfg.NATS.URL != "" {
		p, err := events.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.Subject, logger)
		if err != nil {
			return nil, fmt.Errorf("connect to NATS at %s: %w", cfg.NATS.URL, err)
		}
		publisher = p
	}

	var saver workflow.Saver = store
	var snapshots *storage.Store
	if cfg.NATS.URL != "" && cfg.NATS.Bucket != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		snapshots, err = storage.Open(ctx, cfg.NATS.URL, cfg.NATS.Bucket, logger)
		cancel()
		if err != nil {
			_ = publisher.Close()
			return nil, fmt.Errorf("open snapshot bucket %s: %w", cfg.NATS.Bucket, err)
		}
		saver = storage.NewMirror(store, snapshots, logger)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	controller := workflow.NewController(cfg.WorkflowConfig(), generator, resolver, fetcher, saver,
		workflow.WithLogger(logger),
		workflow.WithReviewer(reviewer),
		workflow.WithPublisher(publisher),
		workflow.WithMetrics(workflow.NewMetrics(registry)),
	)

	return &App{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		models:     models,
		generator:  generator,
		controller: controller,
		publisher:  publisher,
		snapshots:  snapshots,
		registry:   registry,
	}, nil
}

// Run loads the roadmap and runs the loop. A roadmap that cannot be read
// is moved aside and replaced by an empty one.
func (a *App) Run(ctx context.Context) (*roadmap.Roadmap, error) {
	r, err := a.store.Load()
	if err != nil {
		a.logger.Warn("Starting from an empty roadmap", "error", err)
		if _, qerr := a.store.Quarantine(); qerr != nil {
			return nil, fmt.Errorf("keep unreadable roadmap: %w", qerr)
		}
	}

	a.logger.Info("Starting refinement",
		"roadmap", a.store.Path(),
		"endpoint", a.models.Resolve(model.RoleGenerate),
		"model", a.generator.Model(),
		"reviewer", a.models.Resolve(model.RoleReview),
		"max_cycles", a.cfg.Cycle.MaxCycles,
		"symbols", r.Symbols.Len(),
		"questions", len(r.OpenQuestions))

	return a.controller.Run(ctx, r)
}

// MetricsHandler serves the app's Prometheus registry.
func (a *App) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry})
}

// Close releases the NATS connections.
func (a *App) Close() error {
	var errs []error
	if a.snapshots != nil {
		errs = append(errs, a.snapshots.Close())
	}
	errs = append(errs, a.publisher.Close())
	return errors.Join(errs...)
}
