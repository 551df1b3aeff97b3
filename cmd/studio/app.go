package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"github.com/Borui-Eduation/student-records-sub000/internal/adapter/ai"
	"github.com/Borui-Eduation/student-records-sub000/internal/adapter/cache"
	"github.com/Borui-Eduation/student-records-sub000/internal/adapter/persistence"
	"github.com/Borui-Eduation/student-records-sub000/internal/compiler"
	"github.com/Borui-Eduation/student-records-sub000/internal/config"
	"github.com/Borui-Eduation/student-records-sub000/internal/domain"
	"github.com/Borui-Eduation/student-records-sub000/internal/dynamic"
	"github.com/Borui-Eduation/student-records-sub000/internal/executor"
	"github.com/Borui-Eduation/student-records-sub000/internal/indexhint"
	"github.com/Borui-Eduation/student-records-sub000/internal/logger"
	"github.com/Borui-Eduation/student-records-sub000/internal/ports"
	"github.com/Borui-Eduation/student-records-sub000/internal/ratelimit"
	"github.com/Borui-Eduation/student-records-sub000/internal/router"
	"github.com/Borui-Eduation/student-records-sub000/internal/usecase"
)

// app is the assembled command pipeline shared by every subcommand
type app struct {
	cfg      *config.Config
	logger   logger.Logger
	db       *sql.DB
	redis    *redis.Client
	limiter  *ratelimit.Limiter
	commands *usecase.CommandUseCase
}

func newLogger(cfg *config.Config, quiet bool) logger.Logger {
	logConfig := logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		ServiceName: "studio",
		Caller:      cfg.Logging.Caller,
	}
	// stdout carries tool output for the one-shot and stdio commands
	if quiet {
		logConfig.Output = os.Stderr
	}
	return logger.New(logConfig)
}

func loadRegistry(path string) (*domain.Registry, error) {
	if path == "" {
		return domain.DefaultRegistry(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read entity registry: %w", err)
	}
	return domain.LoadRegistry(data)
}

func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxConnections)
	db.SetConnMaxIdleTime(cfg.Database.MaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func (a *app) needsRedis() bool {
	return a.cfg.Cache.Backend == "redis" || a.cfg.Auth.ThrottleEnabled
}

// buildApp wires storage, the model, the limiter and the router. Call
// close when done and run the limiter before issuing commands.
func buildApp(ctx context.Context, opts *rootOptions, cfg *config.Config, log logger.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: log}

	registry, err := loadRegistry(opts.registry)
	if err != nil {
		return nil, err
	}

	var store ports.DocumentStore
	switch cfg.Database.Store {
	case "postgres":
		db, err := openDatabase(ctx, cfg)
		if err != nil {
			return nil, err
		}
		a.db = db
		store = persistence.NewPostgresDocumentStore(db)
		log.Info(ctx, "Database connection established", map[string]interface{}{
			"host":   cfg.Database.Host,
			"dbname": cfg.Database.DBName,
		})
	default:
		store = persistence.NewMemoryDocumentStore()
		log.Warn(ctx, "Using the in-memory document store; data is lost on exit", nil)
	}

	if a.needsRedis() {
		client, err := cache.NewRedisClient(ctx, cache.RedisOptions{
			Addr:     cfg.GetRedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
			Timeout:  cfg.Redis.Timeout,
		})
		if err != nil {
			a.close()
			return nil, err
		}
		a.redis = client
	}

	var workflowCache ports.WorkflowCache
	switch cfg.Cache.Backend {
	case "memory":
		workflowCache = cache.NewMemoryCache(cfg.Cache.TTL, cfg.Cache.MaxSize)
	case "redis":
		workflowCache = cache.NewRedisCache(a.redis, cfg.Cache.TTL)
	}

	model, err := ai.NewModel(ctx, cfg.ToAIConfig())
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to create generative model: %w", err)
	}

	a.limiter, err = ratelimit.New(ratelimit.Config{
		MaxRequests:   cfg.RateLimit.MaxRequests,
		Window:        cfg.RateLimit.Window,
		TickInterval:  cfg.RateLimit.TickInterval,
		MaxQueueDepth: cfg.RateLimit.MaxQueueDepth,
		MaxRetries:    cfg.RateLimit.MaxRetries,
		BaseBackoff:   cfg.RateLimit.BaseBackoff,
		MaxBackoff:    cfg.RateLimit.MaxBackoff,
		Timeout:       cfg.RateLimit.Timeout,
	}, log)
	if err != nil {
		a.close()
		return nil, err
	}
	limited := ratelimit.NewLimitedModel(model, a.limiter)

	exec := executor.New(store, registry, executor.Config{
		AmbiguityPolicy: executor.AmbiguityPolicy(cfg.Executor.AmbiguityPolicy),
		ScanLimit:       cfg.Executor.ScanLimit,
	}, log)
	comp := compiler.New(limited, registry, workflowCache, log)

	deps := router.Deps{
		Compiler:  comp,
		Executor:  exec,
		Generator: dynamic.NewGenerator(limited, registry, log),
		Runner:    dynamic.NewRunner(exec, indexhint.New(registry.OwnerField), log),
		Registry:  registry,
		Logger:    log,
	}
	if a.db != nil {
		deps.Recorder = persistence.NewPostgresDecisionRepository(a.db)
	}
	r := router.New(router.Config{
		Enabled:            cfg.Router.Enabled,
		MaxAggregations:    cfg.Router.MaxAggregations,
		MaxConditions:      cfg.Router.MaxConditions,
		DynamicScoreDirect: cfg.Router.DynamicScoreDirect,
		DecisionLogSize:    cfg.Router.DecisionLogSize,
	}, deps)

	a.commands = usecase.NewCommandUseCase(r, comp, exec, registry, a.limiter, log)

	log.Info(ctx, "Command pipeline ready", map[string]interface{}{
		"store":       cfg.Database.Store,
		"ai_provider": model.Provider(),
		"cache":       cfg.Cache.Backend,
		"router":      cfg.Router.Enabled,
	})
	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
