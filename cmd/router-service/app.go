package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"mailroute/internal/broker"
	"mailroute/internal/config"
	"mailroute/internal/config_handler"
	"mailroute/internal/constants"
	"mailroute/internal/deduplication"
	"mailroute/internal/intake"
	"mailroute/internal/logger"
	"mailroute/internal/management"
	"mailroute/pkg/bootstrap"
	"mailroute/pkg/health"
	"mailroute/pkg/metrics"
	"mailroute/pkg/middleware"
	"mailroute/pkg/ratelimit"
	"mailroute/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	origin         string
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	rdb            *redis.Client
	dedup          *deduplication.Guard
	engine         *engine
	reloader       *config_handler.Reloader
	configConsumer broker.Consumer
	scheduler      *intake.Scheduler
	rateLimit      *ratelimit.Store
	router         *gin.Engine
	server         *http.Server
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		origin:      uuid.NewString(),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	tp, err := tracing.Init(a.Config.Tracing, constants.ServiceName)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.Register()

	if err := a.InitBroker(constants.ServiceName); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	if err := a.initDatabase(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := a.initEngine(ctx); err != nil {
		return err
	}

	if err := a.initReloader(); err != nil {
		return fmt.Errorf("failed to initialize reloader: %w", err)
	}

	if err := a.initScheduler(); err != nil {
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	a.initRouter()
	a.initServer()
	return nil
}

func (a *App) initDatabase(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return err
	}
	if rdb == nil {
		return nil
	}
	a.rdb = rdb

	repo := deduplication.NewBreakerRepository(
		deduplication.NewRedisRepository(rdb),
		a.Config.Delivery.Router.CircuitBreaker,
	)
	guard, err := deduplication.NewGuard(repo, a.Config.Intake.Dedup, a.Logger)
	if err != nil {
		return err
	}
	a.dedup = guard
	return nil
}

func (a *App) initEngine(ctx context.Context) error {
	var checks []health.Checker
	if a.db != nil {
		checks = append(checks, health.NewPostgreSQLChecker(a.db))
	}
	if a.rdb != nil {
		checks = append(checks, health.NewRedisChecker(a.rdb))
	}

	e, err := newEngine(ctx, a.Config, a.Logger, engineOptions{connect: true, extraChecks: checks})
	if err != nil {
		return err
	}
	for _, loadErr := range e.loadErrors {
		a.Logger.Warnw("Routing definition skipped", "error", loadErr)
	}
	a.engine = e
	return nil
}

func (a *App) initReloader() error {
	interval := time.Duration(a.Config.Routing.Reload.IntervalSeconds) * time.Second
	a.reloader = config_handler.NewReloader(a.Config.Routing.RoutingTable, a.engine.rules, a.engine.router, interval, a.Logger)
	if err := a.reloader.MarkLoaded(a.engine.table); err != nil {
		return err
	}

	kafkaCfg := a.Config.Intake.Kafka
	if a.Consumer != nil && kafkaCfg.ConfigUpdateTopic != "" {
		// Every instance must see every config event, so each one joins its own group.
		kafkaCfg.GroupID = fmt.Sprintf("%s-config-%s", kafkaCfg.GroupID, a.origin)
		kafkaCfg.DLQTopic = ""
		consumer := broker.NewKafkaConsumer(kafkaCfg, a.Logger)
		consumer.SetServiceName(constants.ServiceName)
		a.configConsumer = consumer
	}
	return nil
}

func (a *App) initScheduler() error {
	schedule := a.Config.Intake.Schedule
	if !schedule.Enabled {
		return nil
	}
	if a.db == nil {
		return errors.New("scheduled intake requires intake.postgres")
	}

	source, err := intake.NewPostgresSource(a.db, a.Config.Intake.Postgres.Schema, a.Logger)
	if err != nil {
		return err
	}
	scheduler, err := intake.NewScheduler(source, a.engine.dispatcher, intake.ScheduleOptions{
		Spec:      schedule.Spec,
		BatchSize: schedule.BatchSize,
		DryRun:    schedule.DryRun,
	}, a.Logger)
	if err != nil {
		return err
	}
	a.scheduler = scheduler
	return nil
}

func (a *App) initRouter() {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware(constants.ServiceName))
	}

	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggerMiddleware(a.Logger))

	router.GET("/health", func(c *gin.Context) {
		h := a.engine.dispatcher.HealthCheck(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	mgmt := a.Config.Management
	if mgmt.Enabled {
		var groupMiddleware []gin.HandlerFunc
		if mgmt.RateLimit.Enabled {
			rl := mgmt.RateLimit
			a.rateLimit = ratelimit.NewStore(ratelimit.FromSeconds(rl.RPS, rl.Burst, rl.CleanupInterval, rl.MaxAge))
			groupMiddleware = append(groupMiddleware, a.rateLimit.Middleware())
			a.Logger.Infow("Rate limiting enabled", "rps", rl.RPS, "burst", rl.Burst)
		}
		if mgmt.Auth.Enabled {
			groupMiddleware = append(groupMiddleware, middleware.JWTAuthMiddleware(middleware.AuthConfig{
				Secret: mgmt.Auth.JWTSecret,
				Issuer: mgmt.Auth.Issuer,
			}))
		}

		opts := []management.ServiceOption{management.WithQueueProber(a.engine.router)}
		if a.Producer != nil && a.Config.Intake.Kafka.ConfigUpdateTopic != "" {
			notifier := config_handler.NewNotifier(a.Producer, a.Config.Intake.Kafka.ConfigUpdateTopic, a.origin)
			opts = append(opts, management.WithNotifier(notifier))
		}
		svc := management.NewService(a.engine.dispatcher, a.Logger, opts...)
		management.NewHandler(svc, a.Logger).RegisterRoutes(router, groupMiddleware...)
	}

	a.router = router
}

func (a *App) initServer() {
	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.router,
		ReadTimeout:  a.Config.Server.ReadTimeout(),
		WriteTimeout: a.Config.Server.WriteTimeout(),
	}
}

// Run serves until ctx is canceled or a component fails, then shuts down.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(gctx, "Server listening", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return ignoreCanceled(a.reloader.Start(gctx))
	})

	if a.rateLimit != nil {
		g.Go(func() error {
			a.rateLimit.Run(gctx)
			return nil
		})
	}

	kafkaCfg := a.Config.Intake.Kafka
	if a.Consumer != nil {
		var opts []intake.KafkaHandlerOption
		if a.dedup != nil {
			opts = append(opts, intake.WithDuplicateFilter(a.dedup))
		}
		handler := intake.KafkaRecordHandler(a.engine.dispatcher, kafkaCfg.DryRun, a.Logger, opts...)
		g.Go(func() error {
			return ignoreCanceled(a.Consumer.Consume(gctx, kafkaCfg.InputTopic, handler))
		})
	}
	if a.configConsumer != nil {
		handler := config_handler.NewHandler(a.reloader, a.origin, a.Logger)
		g.Go(func() error {
			return ignoreCanceled(a.configConsumer.Consume(gctx, kafkaCfg.ConfigUpdateTopic, handler.HandleConfigUpdateEvent))
		})
	}

	if a.scheduler != nil {
		a.scheduler.Start()
	}

	g.Go(func() error {
		<-gctx.Done()
		return a.Shutdown(ctx)
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	a.Logger.InfowCtx(ctx, "Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()

	return a.Base.Shutdown(shutdownCtx, func(ctx context.Context) []error {
		var errs []error

		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
			}
		}

		if a.scheduler != nil {
			if err := a.scheduler.Stop(ctx); err != nil {
				errs = append(errs, fmt.Errorf("scheduler stop error: %w", err))
			}
		}

		if a.configConsumer != nil {
			if err := a.configConsumer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("config consumer close error: %w", err))
			}
		}

		if a.engine != nil {
			if err := a.engine.Close(); err != nil {
				errs = append(errs, fmt.Errorf("delivery close error: %w", err))
			}
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(a.rdb, a.db)...)
		return errs
	})
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
