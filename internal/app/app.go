package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hubmapconsortium/entity-api/internal/cache"
	"github.com/hubmapconsortium/entity-api/internal/clients/globus"
	"github.com/hubmapconsortium/entity-api/internal/clients/uuidapi"
	"github.com/hubmapconsortium/entity-api/internal/entity"
	"github.com/hubmapconsortium/entity-api/internal/graph"
	"github.com/hubmapconsortium/entity-api/internal/handlers"
	"github.com/hubmapconsortium/entity-api/internal/middleware"
	"github.com/hubmapconsortium/entity-api/internal/platform/logger"
	"github.com/hubmapconsortium/entity-api/internal/platform/neo4jdb"
	"github.com/hubmapconsortium/entity-api/internal/schema"
	"github.com/hubmapconsortium/entity-api/internal/schema/trigger"
	"github.com/hubmapconsortium/entity-api/internal/server"
)

type App struct {
	Log    *logger.Logger
	Cfg    Config
	Router *gin.Engine
	Neo4j  *neo4jdb.Client
	Worker *entity.Worker
}

func New() (*App, error) {
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	log.Info("Loading environment variables...")
	cfg := LoadConfig(log)

	neo4jClient, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init neo4j: %w", err)
	}
	store, err := graph.NewNeo4jStore(neo4jClient, log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init graph store: %w", err)
	}

	registry, err := schema.NewRegistry(cfg.SchemaSource, cfg.SchemaTTL, log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init schema registry: %w", err)
	}

	uuidClient, err := uuidapi.NewClient(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init uuid client: %w", err)
	}
	authClient, err := globus.NewClient(log)
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init auth client: %w", err)
	}

	var entityCache cache.EntityCache
	if os.Getenv("REDIS_ADDR") != "" {
		entityCache, err = cache.NewRedisCache(log)
		if err != nil {
			log.Sync()
			return nil, fmt.Errorf("init cache: %w", err)
		}
	} else {
		log.Warn("REDIS_ADDR not set, entity cache disabled")
		entityCache = cache.Noop{}
	}

	bootCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	engine, err := trigger.NewEngine(bootCtx, &trigger.Deps{
		Registry: registry,
		Store:    store,
		UUID:     uuidClient,
		Auth:     authClient,
		Cache:    entityCache,
		Log:      log,
	})
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init trigger engine: %w", err)
	}

	worker, err := entity.NewWorker(entity.Config{
		Registry:      registry,
		Engine:        engine,
		Store:         store,
		UUID:          uuidClient,
		Auth:          authClient,
		Cache:         entityCache,
		Log:           log,
		ReadGroupUUID: cfg.ReadGroupUUID,
	})
	if err != nil {
		log.Sync()
		return nil, fmt.Errorf("init entity worker: %w", err)
	}

	var metrics *middleware.Metrics
	if cfg.MetricsEnabled {
		metrics = middleware.NewMetrics(prometheus.DefaultRegisterer)
	}

	router := server.NewRouter(server.RouterConfig{
		EntityHandler: handlers.NewEntityHandler(worker, log),
		SchemaHandler: handlers.NewSchemaHandler(registry, log),
		RequestLog:    middleware.RequestLog(log),
		Metrics:       metrics,
	})

	return &App{
		Log:    log,
		Cfg:    cfg,
		Router: router,
		Neo4j:  neo4jClient,
		Worker: worker,
	}, nil
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    ":" + a.Cfg.Port,
		Handler: a.Router,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Log.Info("Server listening", "port", a.Cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.Log.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return a.Neo4j.Close(shutdownCtx)
}
