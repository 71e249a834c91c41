package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/agent"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/catalog"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/config"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/detector"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/hooks"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/llm"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/logging"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/observability"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/store"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/store/redisstore"
	"github.com/Arize-ai/chat-to-purchase-router-agent/internal/version"
)

// app holds the wired components shared by the serve, chat and catalog
// commands.
type app struct {
	cfg     config.Config
	log     *logging.Logger
	hooks   *hooks.Manager
	offline bool

	db           *store.DB // embedded SQLite, when any component uses it
	products     *catalog.SQLStore
	translator   *catalog.Translator
	sessions     agent.SessionStore
	orchestrator *agent.Orchestrator
	tracing      *observability.Provider

	closers []func() error
}

// loadConfig reads and validates the config file.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, err
	}
	if issues := config.Validate(&cfg); len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return cfg, fmt.Errorf("config validation failed with %d issue(s)", len(issues))
	}
	return cfg, nil
}

// openCatalog opens only the product catalog, for commands that do not
// talk to the model.
func openCatalog(ctx context.Context, cfg config.Config, log *logging.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log, hooks: hooks.NewManager(log)}
	if err := a.openProducts(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// buildApp wires the full agent: catalog, sessions, model, tracing and the
// orchestrator.
func buildApp(ctx context.Context, cfg config.Config, log *logging.Logger) (*app, error) {
	a, err := openCatalog(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if err := a.wireAgent(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) embedded() (*store.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	path := paths.Database()
	if a.cfg.Catalog.Driver == "sqlite" && a.cfg.Catalog.DSN != "" {
		path = a.cfg.Catalog.DSN
	} else if err := paths.EnsureDirs(); err != nil {
		return nil, err
	}
	db, err := store.Open(path, a.log)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	a.db = db
	a.closers = append(a.closers, db.Close)
	return db, nil
}

func (a *app) openProducts(ctx context.Context) error {
	switch a.cfg.Catalog.Driver {
	case "postgres":
		if a.cfg.Catalog.DSN == "" {
			return errors.New("catalog.dsn is required for the postgres driver")
		}
		pg, err := catalog.OpenPostgres(ctx, a.cfg.Catalog.DSN, a.cfg.Catalog.MaxOpenConns)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, pg.Close)
		a.products = catalog.NewSQLStore(pg, catalog.DialectPostgres, a.log)
		if err := a.products.EnsureSchema(ctx); err != nil {
			return err
		}
		a.log.Info().Msg("using postgres catalog")
	default:
		db, err := a.embedded()
		if err != nil {
			return err
		}
		db.SetMaxOpenConns(a.cfg.Catalog.MaxOpenConns)
		a.products = catalog.NewSQLStore(db.SQL(), catalog.DialectSQLite, a.log)
		a.log.Debug().Msg("using sqlite catalog")
	}
	return nil
}

func (a *app) openSessions(ctx context.Context) error {
	s := a.cfg.Session
	switch s.Store {
	case "sqlite":
		db, err := a.embedded()
		if err != nil {
			return err
		}
		a.sessions = store.NewSQLiteSessionStore(db, s.MaxTurns, s.MaxSessions)
	case "redis":
		client, err := redisstore.Dial(ctx, s.RedisAddr, s.RedisPassword, s.RedisDB)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, client.Close)
		a.sessions = redisstore.New(client, s.MaxTurns, time.Duration(s.IdleMinutes)*time.Minute, a.log)
	default:
		a.sessions = agent.NewMemorySessionStore(s.MaxTurns, s.MaxSessions)
	}
	a.log.Info().Str("store", s.Store).Msg("session store ready")
	return nil
}

func (a *app) wireAgent(ctx context.Context) error {
	cfg := a.cfg
	if err := a.openSessions(ctx); err != nil {
		return err
	}

	tp, err := observability.Setup(ctx, cfg.Tracing, version.Version, a.log)
	if err != nil {
		return err
	}
	a.tracing = tp
	a.closers = append(a.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tp.Shutdown(shutdownCtx)
	})

	registry := llm.NewRegistryFromConfig(cfg.Model, a.log)
	primary := cfg.Model.Model
	if primary == "" {
		primary = cfg.Model.Provider
	}
	if len(registry.List()) == 0 {
		a.log.Warn().Msg("no LLM provider configured, running the offline assistant")
		registry.Register(agent.ProviderOffline, agent.NewOfflineClient())
		registry.SetFallback(agent.ProviderOffline)
		primary = agent.ProviderOffline
		a.offline = true
	}

	model := agent.NewModelCaller(registry, primary, cfg.Model.Fallbacks, cfg.Agent.MaxRetries,
		time.Duration(cfg.Agent.RetryBaseDelayMs)*time.Millisecond, a.log)

	var extractor catalog.Extractor
	classifier := detector.Classifier(nil)
	if !a.offline {
		helperModel := cfg.Model.ExtractionModel
		if helperModel == "" {
			helperModel = primary
		}
		helper, err := registry.Resolve(helperModel)
		if err != nil {
			return err
		}
		if cfg.Agent.Extractor == "model" {
			extractor = catalog.NewModelExtractor(helper, helperModel, a.log)
		}
		if cfg.Agent.Detector == "model" {
			classifier = detector.NewModelClassifier(helper, helperModel)
		}
	}

	categories := cfg.Catalog.Categories
	if len(categories) == 0 {
		categories = config.DefaultCategories
	}
	a.translator = catalog.NewTranslator(a.products, extractor, catalog.TranslatorOptions{
		Categories: categories,
		Limits:     catalog.Limits{Default: cfg.Catalog.DefaultLimit, Max: cfg.Catalog.MaxLimit},
	}, a.log)

	a.orchestrator, err = agent.New(agent.Deps{
		Model:      model,
		Translator: a.translator,
		Detector:   detector.New(classifier, a.log),
		Sessions:   a.sessions,
		Hooks:      a.hooks,
		Tracer:     tp.Tracer(),
		Log:        a.log,
	}, agent.Options{
		MaxIterations: cfg.Agent.MaxIterations,
		TurnTimeout:   a.turnTimeout(),
		MaxTokens:     cfg.Model.MaxTokens,
		Temperature:   cfg.Model.Temperature,
		ExtraPrompt:   cfg.Agent.ExtraPrompt,
	})
	return err
}

func (a *app) turnTimeout() time.Duration {
	return time.Duration(a.cfg.Agent.TurnTimeoutSeconds) * time.Second
}

// Close releases everything the app opened, newest first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
