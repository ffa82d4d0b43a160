// Package app wires configuration, clients and services for every binary.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"support-inbox-ai/internal/analysis"
	"support-inbox-ai/internal/bus"
	"support-inbox-ai/internal/cache"
	"support-inbox-ai/internal/config"
	"support-inbox-ai/internal/integrations/gemini"
	"support-inbox-ai/internal/integrations/kafka"
	"support-inbox-ai/internal/integrations/openai"
	"support-inbox-ai/internal/integrations/paramstore"
	"support-inbox-ai/internal/repository"
	"support-inbox-ai/internal/usecase"
)

// App holds the assembled services. In-process invalidation never pre-warms,
// so recording a message does not wait on the model.
type App struct {
	Config     *config.Config
	Logger     *slog.Logger
	Store      repository.ReadWriter
	Cache      cache.Store
	Registry   *analysis.Registry
	Analysis   *usecase.AnalysisService
	Messages   *usecase.MessageService
	Dispatcher *bus.Dispatcher

	closers []func() error
}

// Deps are the external dependencies assemble needs.
type Deps struct {
	Store repository.ReadWriter
	Cache cache.Store
	LLM   analysis.Completer
	// Remote receives MessageCreated events besides the in-process
	// dispatcher. Optional.
	Remote bus.Publisher
}

// Build connects to AWS, Postgres and Kafka as cfg requires and assembles the
// services.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("app: load AWS config: %w", err)
	}
	dynamo := awsdynamodb.NewFromConfig(awsCfg)

	var (
		deps    Deps
		closers []func() error
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}

	switch cfg.Store.Driver {
	case config.DriverPostgres:
		pool, err := repository.ConnectPostgres(ctx, cfg.Store.PostgresURL)
		if err != nil {
			return nil, err
		}
		closers = append(closers, func() error { pool.Close(); return nil })
		pg, err := repository.NewPostgres(pool)
		if err != nil {
			closeAll()
			return nil, err
		}
		deps.Store = pg
	default:
		client, err := repository.New(dynamo, cfg.Store.StateTable)
		if err != nil {
			return nil, err
		}
		deps.Store = client
	}

	switch cfg.Cache.Driver {
	case config.DriverDynamoDB:
		c, err := cache.NewDynamoDB(dynamo, cfg.Cache.Table)
		if err != nil {
			closeAll()
			return nil, err
		}
		deps.Cache = c
	default:
		deps.Cache = cache.NewMemory()
	}

	params, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		closeAll()
		return nil, err
	}
	deps.LLM, err = NewCompleter(cfg, params)
	if err != nil {
		closeAll()
		return nil, err
	}

	if cfg.Kafka.Enabled() {
		pub, err := kafka.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			closeAll()
			return nil, err
		}
		closers = append(closers, pub.Close)
		deps.Remote = pub
	}

	a, err := Assemble(cfg, logger, deps)
	if err != nil {
		closeAll()
		return nil, err
	}
	a.closers = closers
	return a, nil
}

// NewCompleter returns the configured LLM client.
func NewCompleter(cfg *config.Config, params paramstore.Getter) (analysis.Completer, error) {
	switch cfg.LLM.Provider {
	case config.ProviderGemini:
		opts := []gemini.Option{gemini.WithModel(cfg.LLM.Model)}
		if cfg.LLM.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(cfg.LLM.BaseURL))
		}
		return gemini.NewClient(params, cfg.ParamPrefix, opts...)
	case config.ProviderOpenAI:
		opts := []openai.Option{openai.WithModel(cfg.LLM.Model)}
		if cfg.LLM.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.LLM.BaseURL))
		}
		return openai.NewClient(params, cfg.ParamPrefix, opts...)
	}
	return nil, fmt.Errorf("app: unknown llm provider %q", cfg.LLM.Provider)
}

// Assemble wires services over already constructed dependencies.
func Assemble(cfg *config.Config, logger *slog.Logger, deps Deps) (*App, error) {
	if deps.Store == nil || deps.Cache == nil || deps.LLM == nil {
		return nil, errors.New("app: store, cache and llm are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	handlers, err := analysis.DefaultHandlers(deps.LLM, analysis.WithTimeout(cfg.LLM.Timeout))
	if err != nil {
		return nil, err
	}
	registry := analysis.NewRegistry(handlers...)

	svc, err := usecase.NewAnalysisService(registry, deps.Cache, deps.Store, deps.Store,
		usecase.WithCacheTTL(cfg.Cache.TTL),
		usecase.WithMessageWindow(cfg.Analysis.MessageWindow),
		usecase.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:     cfg,
		Logger:     logger,
		Store:      deps.Store,
		Cache:      deps.Cache,
		Registry:   registry,
		Analysis:   svc,
		Dispatcher: bus.NewDispatcher(),
	}

	local, err := a.NewInvalidator(false)
	if err != nil {
		return nil, err
	}
	a.Dispatcher.Subscribe(local.HandleMessageCreated)

	var publisher bus.Publisher = a.Dispatcher
	if deps.Remote != nil {
		publisher = bus.Fanout{a.Dispatcher, deps.Remote}
	}
	a.Messages, err = usecase.NewMessageService(deps.Store, publisher, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// NewInvalidator builds an invalidator over the app cache. With prewarm set,
// customer messages re-run the inbox analysis.
func (a *App) NewInvalidator(prewarm bool) (*usecase.Invalidator, error) {
	opts := []usecase.InvalidatorOption{usecase.WithInvalidatorLogger(a.Logger)}
	if prewarm {
		opts = append(opts, usecase.WithPrewarm(a.Analysis))
	}
	return usecase.NewInvalidator(a.Cache, opts...)
}

// NewConsumer returns a Kafka consumer for the configured topic.
func (a *App) NewConsumer() (*kafka.Consumer, error) {
	if !a.Config.Kafka.Enabled() {
		return nil, errors.New("app: kafka brokers are not configured")
	}
	c, err := kafka.NewConsumer(a.Config.Kafka.Brokers, a.Config.Kafka.Topic, a.Config.Kafka.GroupID, a.Logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, c.Close)
	return c, nil
}

// Close releases pools, writers and readers in reverse order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
