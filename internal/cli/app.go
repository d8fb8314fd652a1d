package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/minder/internal/config"
	"github.com/harun/minder/internal/logger"
	"github.com/harun/minder/internal/tracing"
	"github.com/harun/minder/pkg/agent"
	"github.com/harun/minder/pkg/client"
	"github.com/harun/minder/pkg/coretools"
	"github.com/harun/minder/pkg/events"
	"github.com/harun/minder/pkg/knowledge"
	"github.com/harun/minder/pkg/plansource"
	"github.com/harun/minder/pkg/playbook"
	"github.com/harun/minder/pkg/session"
	"github.com/harun/minder/pkg/toolexec"
)

// app bundles the wired runtime shared by the serve and query commands.
type app struct {
	cfg    *config.Config
	log    *logger.Logger
	zlog   zerolog.Logger
	store  *knowledge.Store
	ret    *knowledge.Service
	sess   *session.Store
	pbooks *playbook.Store
	loop   *agent.Loop
	hub    *events.Hub

	cleaner *session.Cleaner
	watcher *knowledge.SeedWatcher
}

// buildApp loads configuration and wires every collaborator the agent
// loop needs. Callers own the returned app and must Close it.
func buildApp() (*app, error) {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}

	log, err := logger.New(logger.Config{
		Level:   level,
		File:    cfg.Logging.File,
		Console: true,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	zlog := log.GetZerolog()

	a := &app{cfg: cfg, log: log, zlog: zlog}

	embedder, err := buildEmbeddingProvider(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.store, err = knowledge.NewStore(knowledge.StoreConfig{
		DBPath:            cfg.Knowledge.DBPath,
		Logger:            zlog,
		EmbeddingProvider: embedder,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open knowledge store: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.store.Seed(ctx, cfg.Knowledge.Bases); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to seed knowledge bases: %w", err)
	}

	a.ret = knowledge.NewService(a.store, zlog)
	a.ret.SetDefaultBase(cfg.Knowledge.DefaultBase)
	a.pbooks = playbook.NewStore(a.store, zlog)

	if cfg.Knowledge.SeedDir != "" {
		if err := a.startSeedIngestion(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.sess, err = session.NewStore(session.StoreConfig{
		DBPath: cfg.Sessions.DBPath,
		Logger: zlog,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	if cfg.Sessions.CleanupSchedule != "" {
		retention := time.Duration(cfg.Sessions.RetentionDays) * 24 * time.Hour
		a.cleaner, err = session.NewCleaner(a.sess, cfg.Sessions.CleanupSchedule, retention, zlog)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("invalid cleanup schedule: %w", err)
		}
		a.cleaner.Start()
	}

	planSource, err := buildPlanSource(cfg, zlog)
	if err != nil {
		a.Close()
		return nil, err
	}

	var executor agent.ToolExecutor
	if cfg.Agent.SandboxURL != "" || cfg.Agent.WorkspaceDir != "" {
		var sandbox *toolexec.SandboxClient
		if cfg.Agent.SandboxURL != "" {
			timeout := time.Duration(cfg.Agent.RequestTimeoutSeconds) * time.Second
			sandbox = toolexec.NewSandboxClient(cfg.Agent.SandboxURL, timeout, zlog)
		}
		exec := toolexec.New(sandbox, zlog)
		if cfg.Agent.WorkspaceDir != "" {
			if err := coretools.RegisterCoreTools(exec, coretools.Options{WorkspaceRoot: cfg.Agent.WorkspaceDir}); err != nil {
				a.Close()
				return nil, fmt.Errorf("failed to register core tools: %w", err)
			}
		}
		executor = exec
	}

	var history agent.HistoryProvider
	if cfg.Agent.MemoryURL != "" {
		history = client.NewMemory(client.Config{BaseURL: cfg.Agent.MemoryURL, Logger: zlog})
	} else {
		history = session.NewHistoryAdapter(a.sess)
	}

	a.loop, err = agent.NewLoop(agent.Config{
		PlanSource:   planSource,
		ToolExecutor: executor,
		History:      history,
		MaxTurns:     cfg.Agent.MaxTurns,
		Logger:       zlog,
		Tracer:       tracing.NewOTel("minder.agent"),
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.hub = events.NewHub(zlog)
	return a, nil
}

// startSeedIngestion ingests the seed directory once and watches it for
// markdown changes.
func (a *app) startSeedIngestion(ctx context.Context) error {
	ingestor := knowledge.NewIngestor(a.store, a.cfg.Knowledge.DefaultBase, a.zlog)

	if _, err := ingestor.IngestDir(ctx, a.cfg.Knowledge.SeedDir); err != nil {
		return fmt.Errorf("failed to ingest seed directory: %w", err)
	}

	watcher, err := knowledge.NewSeedWatcher(a.zlog, func() {
		rescanCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := ingestor.IngestDir(rescanCtx, a.cfg.Knowledge.SeedDir); err != nil {
			a.zlog.Warn().Err(err).Msg("Seed directory re-ingestion failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to create seed watcher: %w", err)
	}
	if err := watcher.Watch(a.cfg.Knowledge.SeedDir); err != nil {
		watcher.Stop()
		return fmt.Errorf("failed to watch seed directory: %w", err)
	}
	a.watcher = watcher
	return nil
}

func buildEmbeddingProvider(cfg *config.Config) (knowledge.EmbeddingProvider, error) {
	switch cfg.Knowledge.EmbeddingProvider {
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("embedding_provider is openai but OPENAI_API_KEY is not set")
		}
		return knowledge.NewOpenAIProvider(apiKey, cfg.Knowledge.EmbeddingModel), nil
	default:
		return knowledge.NewHashProvider(0), nil
	}
}

func buildPlanSource(cfg *config.Config, zlog zerolog.Logger) (agent.PlanSource, error) {
	switch cfg.Agent.PlanSource {
	case "anthropic":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("plan_source is anthropic but ANTHROPIC_API_KEY is not set")
		}
		return plansource.NewAnthropic(apiKey, cfg.Agent.AnthropicModel), nil
	default:
		timeout := time.Duration(cfg.Agent.RequestTimeoutSeconds) * time.Second
		return plansource.NewGateway(cfg.Agent.GatewayURL, timeout, zlog), nil
	}
}

// Close tears down whatever got built, in reverse order.
func (a *app) Close() {
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.cleaner != nil {
		a.cleaner.Stop()
	}
	if a.hub != nil {
		a.hub.Close()
	}
	if a.sess != nil {
		a.sess.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	if a.log != nil {
		a.log.Close()
	}
}
