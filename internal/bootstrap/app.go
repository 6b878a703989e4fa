package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"portal-gateway/internal/attrition"
	"portal-gateway/internal/authflow"
	"portal-gateway/internal/inflight"
	"portal-gateway/internal/portalapi"
	"portal-gateway/internal/queue"
	"portal-gateway/internal/services/health"
	"portal-gateway/internal/shared/config"
	"portal-gateway/internal/shared/resilience"
	"portal-gateway/internal/shared/server"
	"portal-gateway/internal/shared/server/middleware"
	"portal-gateway/internal/shared/storage/db"
	"portal-gateway/internal/shared/storage/kv"
	"portal-gateway/internal/shared/storage/object"
	localstore "portal-gateway/internal/shared/storage/object/local"
	s3store "portal-gateway/internal/shared/storage/object/s3"
	"portal-gateway/internal/shared/telemetry"
	"portal-gateway/internal/submissions"
	"portal-gateway/internal/workspaces"
)

const janitorInterval = time.Minute

// App holds shared dependencies and the assembled router.
type App struct {
	Config      config.Config
	Router      *gin.Engine
	DB          *sql.DB
	Redis       *redis.Client
	Store       object.ObjectStore
	Queue       queue.Client
	Portal      *portalapi.Client
	Registry    *workspaces.Registry
	Health      *health.Service
	Submissions *submissions.Service
	Workspaces  *workspaces.Service
	AuthFlows   *authflow.Service
	Attrition   *attrition.Service
	RateLimiter *middleware.RateLimiter
}

// Build prepares every dependency and wires the router.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	telemetry.SetLevel(cfg.LogLevel)
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	redisClient, err := buildRedis(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	queueClient, err := buildQueue(ctx, cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		DB:     sqlDB,
		Redis:  redisClient,
		Store:  store,
		Queue:  queueClient,
		Portal: portalapi.New(cfg.PortalAPIURL, cfg.PortalAPITimeout, resilience.NewExecutor(resilience.DefaultConfig())),
		Health: health.NewService(),

		RateLimiter: middleware.NewRateLimiter(nil),
	}
	buildServices(app)

	app.Router = server.NewRouter(server.RouterDeps{
		Config:      cfg,
		Health:      app.Health,
		Workspaces:  workspaces.NewHandler(app.Workspaces),
		Submissions: submissions.NewHandler(app.Submissions),
		Auth:        authflow.NewHandler(app.AuthFlows),
		Attrition:   attrition.NewHandler(app.Attrition),
		RateLimiter: app.RateLimiter,
	})
	return app, nil
}

// StartJanitor disposes idle workspaces and prunes idle rate-limit buckets
// until ctx is done.
func (a *App) StartJanitor(ctx context.Context) {
	go a.Registry.Run(ctx, janitorInterval)
	go func() {
		ticker := time.NewTicker(janitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := a.RateLimiter.Prune(); n > 0 {
					telemetry.Debug("ratelimit.pruned", map[string]any{"buckets": n})
				}
			}
		}
	}()
}

// Close releases every workspace and closes shared connections.
func (a *App) Close(ctx context.Context) {
	if a.Registry != nil {
		a.Registry.DisposeAll(ctx)
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}

func buildServices(app *App) {
	var (
		journalRepo submissions.Repo
		guard       inflight.Guard
		flows       authflow.Store
	)
	if app.DB != nil {
		journalRepo = &submissions.PGRepo{DB: app.DB}
		app.Health.Register("database", func(ctx context.Context) error { return db.Ping(ctx, app.DB, 0) })
	} else {
		journalRepo = submissions.NewMemoryRepo()
	}
	if app.Redis != nil {
		guard = inflight.NewRedisGuard(app.Redis, 0)
		flows = authflow.NewRedisStore(app.Redis, authflow.FlowTTL)
		app.Health.Register("redis", func(ctx context.Context) error { return app.Redis.Ping(ctx).Err() })
	} else {
		guard = inflight.NewMemoryGuard()
		flows = authflow.NewMemoryStore(authflow.FlowTTL)
	}

	app.Submissions = submissions.NewService(journalRepo)
	app.Registry = workspaces.NewRegistry(app.Store, app.Config.WorkspaceIdleTTL)
	if app.Redis != nil {
		// Instances behind API Gateway or a load balancer share pending state.
		app.Registry.Share(workspaces.NewRedisState(app.Redis, app.Config.WorkspaceIdleTTL), guard)
	}
	app.Workspaces = workspaces.NewService(
		app.Registry,
		app.Portal,
		app.Portal,
		guard,
		app.Submissions,
		app.Queue,
		app.Store,
		app.Config.PreviewURLTTL,
	)
	app.AuthFlows = authflow.NewService(app.Portal, flows)
	app.Attrition = attrition.NewService(app.Portal)
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory submission journal")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	profile := db.CurrentProfile()
	opts := db.OptionsFor(profile).WithEnv()
	connect := db.Connect
	if profile == db.ProfileLambda {
		connect = db.Shared
	}
	sqlDB, err := connect(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: database connect failed; using in-memory submission journal: %v", err)
			return nil, nil
		}
		return nil, err
	}
	if isDevLike(cfg.Env) {
		if err := db.RunMigrations(ctx, sqlDB); err != nil {
			log.Printf("bootstrap: migrations failed: %v", err)
		}
	}
	return sqlDB, nil
}

func buildRedis(ctx context.Context, cfg config.Config) (*redis.Client, error) {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Printf("bootstrap: REDIS_URL empty; submit guards and auth flows stay in process")
		return nil, nil
	}
	client, err := kv.Open(ctx, cfg.RedisURL)
	if err != nil {
		if isDevLike(cfg.Env) {
			log.Printf("bootstrap: redis unavailable; falling back to memory: %v", err)
			return nil, nil
		}
		return nil, err
	}
	return client, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		if strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, fmt.Errorf("OBJECT_STORE=s3 requires S3_BUCKET")
		}
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildQueue(ctx context.Context, cfg config.Config) (queue.Client, error) {
	if strings.TrimSpace(cfg.SQSQueueURL) == "" {
		return queue.LogClient{}, nil
	}
	return queue.NewSQSClient(ctx, cfg.SQSQueueURL, cfg.AWSRegion)
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
