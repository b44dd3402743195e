package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aiox-platform/recall/internal/api"
	"github.com/aiox-platform/recall/internal/audit"
	"github.com/aiox-platform/recall/internal/chatws"
	"github.com/aiox-platform/recall/internal/config"
	"github.com/aiox-platform/recall/internal/conversation"
	"github.com/aiox-platform/recall/internal/database"
	"github.com/aiox-platform/recall/internal/generator"
	"github.com/aiox-platform/recall/internal/memory"
	mw "github.com/aiox-platform/recall/internal/middleware"
	inats "github.com/aiox-platform/recall/internal/nats"
	"github.com/aiox-platform/recall/internal/orchestrator"
	"github.com/aiox-platform/recall/internal/ratelimit"
	iredis "github.com/aiox-platform/recall/internal/redis"
	"github.com/aiox-platform/recall/internal/rpc"
	"github.com/aiox-platform/recall/internal/server"
	ixmpp "github.com/aiox-platform/recall/internal/xmpp"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, WebSocket chat, gRPC health and XMPP transports",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if migrate, _ := cmd.Flags().GetBool("migrate"); migrate && cfg.Memory.Store == config.StorePostgres {
			if err := database.RunMigrations(cfg.DB.DSN(), cfg.DB.MigrationsPath); err != nil {
				return err
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg)
	},
}

func init() {
	serveCmd.Flags().Bool("migrate", false, "apply PostgreSQL migrations before serving")
	rootCmd.AddCommand(serveCmd)
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := slog.Default()
	checks := make(map[string]func(context.Context) error)

	// Embeddings
	embedder, err := newEmbedder(cfg.Embedding)
	if err != nil {
		return fmt.Errorf("creating embedder: %w", err)
	}
	defer embedder.Close()

	// Memory store
	var pool *pgxpool.Pool
	if cfg.Memory.Store == config.StorePostgres {
		pool, err = database.NewPostgresPool(ctx, cfg.DB)
		if err != nil {
			return err
		}
		defer pool.Close()
		checks["database"] = func(ctx context.Context) error {
			return database.HealthCheck(ctx, pool)
		}
	}

	store, err := openMemoryStore(cfg, pool)
	if err != nil {
		return err
	}
	defer store.Close()

	memories := memory.NewManager(store, embedder, memory.Config{
		MaxMemoryAge: cfg.Memory.MaxAge,
		MaxResults:   cfg.Memory.MaxResults,
		DefaultLimit: cfg.Memory.DefaultLimit,
	}, memory.WithLogger(logger))
	checks["store"] = func(ctx context.Context) error {
		_, err := memories.Count(ctx)
		return err
	}

	// Redis
	var rdb *goredis.Client
	if cfg.Redis.Enabled {
		rdb, err = iredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()
		checks["redis"] = iredis.HealthCheck(rdb)
	}

	// Conversation
	profile, err := loadProfile(cfg.Context)
	if err != nil {
		return err
	}

	gen, err := newGenerator(cfg.Generator, profile)
	if err != nil {
		return err
	}

	var contexts conversation.ContextStore = conversation.NewInMemoryContextStore()
	if cfg.Context.Store == config.StoreRedis {
		contexts = conversation.NewRedisContextStore(rdb, cfg.Context.TTL)
	}

	conv := conversation.NewManager(memories, gen, contexts, profile, conversation.Config{
		MaxEntries:      cfg.Context.MaxEntries,
		KeepEntries:     cfg.Context.KeepEntries,
		GenerateTimeout: cfg.Generator.Timeout,
	}, logger)

	// Rate limiting
	var userLimiter orchestrator.Limiter
	routerCfg := api.RouterConfig{CORSAllowedOrigins: cfg.Server.CORSAllowedOrigins}
	if rdb != nil {
		if cfg.RateLimit.UserMessages > 0 {
			userLimiter = ratelimit.New(rdb, "recall:ratelimit:user", cfg.RateLimit.UserMessages, cfg.RateLimit.UserWindow)
		}
		if cfg.RateLimit.HTTPRequests > 0 {
			routerCfg.RateLimiter = mw.RateLimit(ratelimit.New(rdb, "recall:ratelimit:http", cfg.RateLimit.HTTPRequests, cfg.RateLimit.HTTPWindow))
		}
	}

	var handlers api.HandlerSet
	g, gctx := errgroup.WithContext(ctx)

	// Message bus and XMPP transport
	if cfg.NATS.Enabled {
		natsClient, err := inats.NewClient(ctx, cfg.NATS, logger)
		if err != nil {
			return err
		}
		defer natsClient.Close()
		checks["nats"] = func(context.Context) error {
			if !natsClient.Healthy() {
				return errors.New("nats disconnected")
			}
			return nil
		}

		js := natsClient.JetStream()
		publisher := inats.NewPublisher(js)
		consumerMgr := inats.NewConsumerManager(js)

		orch := orchestrator.NewOrchestrator(
			publisher,
			consumerMgr,
			orchestrator.NewValidator(cfg.XMPP.AllowedDomains, nil),
			conv,
			userLimiter,
			orchestrator.Config{
				AckWait:          cfg.NATS.AckWait,
				RateLimitedReply: orchestrator.DefaultRateLimitedReply,
			},
			logger,
		)
		g.Go(func() error { return orch.Start(gctx) })

		var turnLogs audit.Repository = audit.NewMemoryRepository(0)
		if pool != nil {
			turnLogs = audit.NewPostgresRepository(pool)
		}
		auditConsumer := audit.NewConsumer(turnLogs, consumerMgr)
		g.Go(func() error { return auditConsumer.Start(gctx) })
		handlers.ListTurns = audit.NewHandler(turnLogs).List

		if cfg.XMPP.Enabled {
			comp, err := ixmpp.NewComponent(cfg.XMPP, ixmpp.NewHandler(publisher, profile.Apology))
			if err != nil {
				return fmt.Errorf("creating XMPP component: %w", err)
			}
			relay := ixmpp.NewOutboundRelay(comp.Sender(), consumerMgr)

			g.Go(func() error { return comp.Start(gctx) })
			g.Go(func() error { return relay.Start(gctx) })
		}
	}

	// gRPC health
	if cfg.GRPC.Enabled {
		probes := make(map[string]rpc.Check, len(checks))
		for name, check := range checks {
			probes[name] = check
		}
		grpcSrv := rpc.NewServer(cfg.GRPC, probes, logger)
		g.Go(func() error { return grpcSrv.Start(gctx) })
	}

	// HTTP
	routerCfg.ReadinessChecks = make(map[string]api.ReadinessCheck, len(checks))
	for name, check := range checks {
		routerCfg.ReadinessChecks[name] = check
	}

	memHandler := memory.NewHandler(memories)
	convHandler := conversation.NewHandler(conv)
	handlers.ListMemories = memHandler.List
	handlers.CreateMemory = memHandler.Create
	handlers.SearchMemories = memHandler.Search
	handlers.SendMessage = convHandler.Send
	handlers.GetContext = convHandler.GetContext
	handlers.ResetContext = convHandler.ResetContext
	handlers.Chat = chatws.NewHandler(conv, userLimiter, chatws.Config{
		ReadLimit:      cfg.WebSocket.ReadLimit,
		PingInterval:   cfg.WebSocket.PingInterval,
		AllowedOrigins: cfg.Server.CORSAllowedOrigins,
	}, logger)

	router := api.NewRouter(routerCfg, handlers)

	srv := server.New(cfg.Server, router)
	g.Go(func() error { return srv.Start(gctx) })

	slog.Info("recall started",
		"memory_store", cfg.Memory.Store,
		"context_store", cfg.Context.Store,
		"embedding_provider", cfg.Embedding.Provider,
		"nats", cfg.NATS.Enabled,
		"xmpp", cfg.XMPP.Enabled,
		"grpc", cfg.GRPC.Enabled,
	)

	return g.Wait()
}

// openMemoryStore opens the configured store. pool is required for postgres.
func openMemoryStore(cfg *config.Config, pool *pgxpool.Pool) (memory.Store, error) {
	switch cfg.Memory.Store {
	case config.StorePostgres:
		return memory.NewPostgresStore(pool, cfg.Embedding.Dimensions), nil
	case config.StoreSQLite:
		store, err := memory.NewSQLiteStore(cfg.Memory.SQLitePath, cfg.Embedding.Dimensions)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite memory store: %w", err)
		}
		return store, nil
	default:
		return memory.NewInMemoryStore(cfg.Embedding.Dimensions), nil
	}
}

func loadProfile(cfg config.ContextConfig) (conversation.Profile, error) {
	if cfg.ProfileFile == "" {
		return conversation.DefaultProfile(cfg.AssistantName, cfg.OwnerName), nil
	}
	profile, err := conversation.LoadProfile(cfg.ProfileFile)
	if err != nil {
		return conversation.Profile{}, err
	}
	slog.Info("loaded profile", "file", cfg.ProfileFile, "assistant", profile.AssistantName, "rules", len(profile.Rules))
	return profile, nil
}

func newGenerator(cfg config.GeneratorConfig, profile conversation.Profile) (conversation.Generator, error) {
	if cfg.APIKey == "" {
		return generator.Echo{Name: profile.AssistantName}, nil
	}
	gen, err := generator.NewAnthropic(generator.Config{
		APIKey:       cfg.APIKey,
		Model:        cfg.Model,
		MaxTokens:    cfg.MaxTokens,
		SystemPrompt: profile.SystemPrompt,
		BaseURL:      cfg.BaseURL,
		MaxRetries:   cfg.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("creating generator: %w", err)
	}
	return gen, nil
}
