package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	common_api "go-hermes/internal/common/api"
	"go-hermes/internal/config"
	"go-hermes/internal/connectors"
	"go-hermes/internal/database"
	"go-hermes/internal/features/audit"
	"go-hermes/internal/features/booking"
	cron_feature "go-hermes/internal/features/cron"
	"go-hermes/internal/features/entity"
	"go-hermes/internal/features/fieldmap"
	"go-hermes/internal/features/inbound"
	"go-hermes/internal/features/reconcile"
	"go-hermes/internal/features/sync"
	"go-hermes/internal/features/system"
	"go-hermes/internal/features/webhook"
	"go-hermes/internal/logger"
	"go-hermes/internal/middleware"
	"go-hermes/pkg/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// NewFiberServer creates a new Fiber app instance
func NewFiberServer(cfg *config.Config) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	app.Use(middleware.CORSMiddleware(cfg))

	return app
}

// AsRoute tags the constructor so Fx adds it to the "routes" group.
func AsRoute(f any) any {
	return fx.Annotate(
		f,
		fx.ResultTags(`group:"routes"`),
	)
}

// RegisterAllRoutes takes the group "routes" (slice of interfaces)
// and calls Setup() on each one.
func RegisterAllRoutes(app *fiber.App, routes []common_api.Route, logger *zap.Logger) {
	for _, route := range routes {
		logger.Debug("Setting up route", zap.String("route", fmt.Sprintf("%T", route)))
		route.Setup(app)
	}
	logger.Info("All routes registered", zap.Int("count", len(routes)))
}

// RegisterAllRoutesWithAnnotation wraps RegisterAllRoutes with fx annotations
var RegisterAllRoutesWithAnnotation = fx.Annotate(
	RegisterAllRoutes,
	fx.ParamTags(``, `group:"routes"`, ``),
)

// StartServer creates a lifecycle hook to start Fiber in a goroutine
// and shut it down when the app exits.
func StartServer(lc fx.Lifecycle, app *fiber.App, cfg *config.Config, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				port := fmt.Sprintf(":%s", cfg.Port)
				logger.Info("Listening", zap.String("addr", port))
				if err := app.Listen(port); err != nil {
					logger.Fatal("Server failed to start", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return app.ShutdownWithContext(ctx)
		},
	})
}

type storeResult struct {
	fx.Out

	Store entity.Store
	DB    *sql.DB
}

// NewStore picks the entity store by STORE_DRIVER. The Postgres schema is
// ensured before the store is handed out.
func NewStore(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (storeResult, error) {
	switch cfg.StoreDriver {
	case "memory":
		logger.Warn("Using the in-memory entity store, data is lost on restart")
		return storeResult{Store: entity.NewMemoryStore()}, nil
	case "postgres":
		db, err := database.NewPostgres(lc, cfg, logger)
		if err != nil {
			return storeResult{}, err
		}
		store := entity.NewPostgresStore(db, cfg.Sync.LockTimeout)
		if err := store.EnsureSchema(context.Background()); err != nil {
			return storeResult{}, fmt.Errorf("failed to ensure entity schema: %w", err)
		}
		return storeResult{Store: store, DB: db}, nil
	}
	return storeResult{}, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
}

func NewLookupCache(cfg *config.Config, client *redis.Client, logger *zap.Logger) entity.LookupCache {
	if client == nil {
		return entity.NoopLookupCache{}
	}
	return entity.NewRedisLookupCache(client, cfg.CacheTTL, logger)
}

func NewMatcher(cfg *config.Config, recorder entity.DecisionRecorder, logger *zap.Logger) entity.Matcher {
	return entity.NewNaturalKeyMatcher(cfg.Sync.MatchStrict, recorder, logger)
}

func NewConnectors(crm *connectors.CRMConnector, systemA *connectors.SystemAConnector) sync.Connectors {
	return sync.Connectors{
		crm.System():     crm,
		systemA.System(): systemA,
	}
}

// NewScheduler returns nil when no Google credentials are configured; meetings
// are then stored without an invite.
func NewScheduler(cfg *config.Config, logger *zap.Logger) (reconcile.Scheduler, error) {
	if cfg.Calendar.CredentialsFile == "" {
		logger.Warn("GOOGLE_CREDENTIALS_FILE not set, calendar invites disabled")
		return nil, nil
	}
	cal, err := connectors.NewGoogleCalendar(cfg, logger)
	if err != nil {
		return nil, err
	}
	return cal, nil
}

func NewRegistry(table *fieldmap.Table, systemA *inbound.SystemANormalizer, logger *zap.Logger) *inbound.Registry {
	return inbound.NewRegistry(
		systemA,
		inbound.NewCRMNormalizer(table, logger),
		inbound.NewCallbookerNormalizer(),
	)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type healthParams struct {
	fx.In

	Mongo *database.MongodbDB
	DB    *sql.DB       `optional:"true"`
	Redis *redis.Client `optional:"true"`
}

func NewHealthChecks(p healthParams) map[string]system.Pinger {
	checks := map[string]system.Pinger{
		"mongo": pingFunc(func(ctx context.Context) error {
			return p.Mongo.DB.Client().Ping(ctx, nil)
		}),
	}
	if p.DB != nil {
		checks["postgres"] = pingFunc(p.DB.PingContext)
	}
	if p.Redis != nil {
		checks["redis"] = pingFunc(func(ctx context.Context) error {
			return p.Redis.Ping(ctx).Err()
		})
	}
	return checks
}

func main() {
	app := fx.New(
		fx.Provide(
			// Load Config
			config.LoadConfig,

			// Initialize Database
			database.NewDatabase,
			database.NewRedis,

			// Initialize Logger
			logger.NewLogger,

			// Initialize Fiber Server
			NewFiberServer,

			// Entity store and identity resolution
			NewStore,
			NewLookupCache,
			NewMatcher,
			fieldmap.Load,

			// External systems
			connectors.NewCRMConnector,
			connectors.NewSystemAConnector,
			NewConnectors,
			NewScheduler,

			// Inbound normalization
			inbound.NewSystemANormalizer,
			NewRegistry,

			// Initialize Repository
			audit.NewAuditRepository,
			sync.NewSyncLogRepository,
			webhook.NewWebhookLogRepository,
			cron_feature.NewCronRepository,

			// Initialize Service
			audit.NewAuditService,
			sync.NewSyncService,
			reconcile.NewEngine,
			webhook.NewWebhookService,
			booking.NewBookingService,
			cron_feature.NewCronService,
			NewHealthChecks,

			// Interface Adapters
			func(s audit.AuditService) entity.DecisionRecorder { return s },
			func(s audit.AuditService) reconcile.Auditor { return s },
			func(s audit.AuditService) cron_feature.Auditor { return s },
			func(s sync.SyncService) reconcile.Dispatcher { return s },
			func(s sync.SyncService) cron_feature.RetrySweeper { return s },
			func(e *reconcile.Engine) webhook.EventApplier { return e },
			func(c *connectors.SystemAConnector) webhook.ClientFetcher { return c },
			func(n *inbound.SystemANormalizer) webhook.ClientNormalizer { return n },
			func(c *connectors.SystemAConnector) booking.ClientFetcher { return c },
			func(s webhook.WebhookService) booking.CompanyCreator { return s },

			// Initialize Controller
			audit.NewAuditController,
			sync.NewSyncController,
			webhook.NewWebhookController,
			booking.NewBookingController,
			cron_feature.NewCronController,
			system.NewSystemController,

			// Initialize API Routes
			AsRoute(webhook.NewWebhookApi),
			AsRoute(booking.NewBookingApi),
			AsRoute(sync.NewSyncApi),
			AsRoute(audit.NewAuditApi),
			AsRoute(cron_feature.NewCronApi),
			AsRoute(system.NewSystemApi),
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
		fx.Invoke(
			func(cfg *config.Config) { utils.SetSecret(cfg.JWTSecret) },
			RegisterAllRoutesWithAnnotation,
			func(lc fx.Lifecycle, syncService sync.SyncService) {
				lc.Append(fx.Hook{
					OnStart: syncService.Start,
					OnStop:  syncService.Stop,
				})
			},
			func(lc fx.Lifecycle, cronService cron_feature.CronService) {
				lc.Append(fx.Hook{
					OnStart: func(ctx context.Context) error {
						return cronService.InitializeScheduler(ctx)
					},
					OnStop: func(ctx context.Context) error {
						return cronService.StopScheduler()
					},
				})
			},
			StartServer,
		),
	)
	if err := app.Err(); err != nil {
		log.Fatalf("Failed to build application: %v", err)
	}
	app.Run()
}
