package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/hospitality-core/internal/domain/approval"
	"github.com/xenking/hospitality-core/internal/domain/audit"
	"github.com/xenking/hospitality-core/internal/domain/order"
	"github.com/xenking/hospitality-core/internal/events"
	"github.com/xenking/hospitality-core/internal/handler"
	"github.com/xenking/hospitality-core/internal/notify"
	"github.com/xenking/hospitality-core/internal/repository"
	"github.com/xenking/hospitality-core/internal/telemetry"
	"github.com/xenking/hospitality-core/pkg/health"
	"github.com/xenking/hospitality-core/pkg/httpmiddleware"
)

// dispatcher is an event sink that may hold a broker connection.
type dispatcher interface {
	order.Dispatcher
	approval.Dispatcher
}

// messenger delivers email and in-app notifications.
type messenger interface {
	order.Mailer
	approval.Notifier
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	pricing, err := cfg.Pricing.Engine()
	if err != nil {
		return errors.Wrap(err, "pricing")
	}

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, cfg.Database.MaxConns)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	db := repository.NewDB(pool, cfg.Database.QueryTimeout)

	metrics, err := telemetry.NewMetrics(m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "metrics")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.Named("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	}))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Event dispatcher: RabbitMQ when configured, log-only otherwise.
	var dispatch dispatcher = events.Log{}
	if cfg.AMQP.URL != "" {
		broker, err := events.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			return errors.Wrap(err, "dial amqp")
		}
		defer func() {
			if err := broker.Close(); err != nil {
				lg.Warn("Close amqp", zap.Error(err))
			}
		}()
		healthSvc.AddReadinessCheck("amqp", 2*time.Second, health.Named("amqp", broker.Check))
		dispatch = broker
	} else {
		lg.Info("AMQP URL not set, events are logged only")
	}

	// Notifications: Kafka when configured, log-only otherwise.
	var messages messenger = notify.Log{}
	if len(cfg.Kafka.Brokers) > 0 {
		producer := notify.NewKafka(notify.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			WriteTimeout: cfg.Kafka.WriteTimeout,
		})
		defer func() {
			if err := producer.Close(); err != nil {
				lg.Warn("Close kafka producer", zap.Error(err))
			}
		}()
		healthSvc.AddReadinessCheck("kafka", 5*time.Second, health.Named("kafka", producer.Check))
		messages = producer
	} else {
		lg.Info("Kafka brokers not set, notifications are logged only")
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	orderRepo := repository.NewOrderRepository(db)
	approvalRepo := repository.NewApprovalRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	menuRepo := repository.NewMenuItemRepository(db)
	userRepo := repository.NewUserRepository(db)

	// Domain services.
	auditSvc := audit.NewService(auditRepo, metrics)
	orderSvc := order.NewService(order.Params{
		Catalog:    menuRepo,
		Orders:     orderRepo,
		Tx:         db,
		Audit:      auditSvc,
		Pricing:    pricing,
		Numbers:    order.NewNumberGenerator(0),
		Dispatcher: dispatch,
		Mailer:     messages,
		Metrics:    metrics,
	})
	approvalSvc := approval.NewService(approval.Params{
		Requests:   approvalRepo,
		Tx:         db,
		Ledger:     orderSvc,
		Audit:      auditSvc,
		Directory:  userRepo,
		Notifier:   messages,
		Dispatcher: dispatch,
		Metrics:    metrics,
		TTL:        cfg.Approval.TTL,
	})

	// HTTP handlers.
	limiter := httpmiddleware.NewLimiter(httpmiddleware.RateLimitConfig{
		Max:     cfg.RateLimit.Max,
		Window:  cfg.RateLimit.Window,
		KeyFunc: handler.PrincipalKey,
	})
	go limiter.Run(ctx)

	h := handler.New(orderSvc, approvalSvc, auditSvc, handler.NewAuthenticator([]byte(cfg.JWTSecret)))

	router := chi.NewRouter()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	router.Route("/api", func(api chi.Router) {
		api.Use(httpmiddleware.LogRequests())
		h.Routes(api, limiter.Middleware())
	})

	traced := otelhttp.NewHandler(router, "hospitality-api",
		otelhttp.WithTracerProvider(m.TracerProvider()),
		otelhttp.WithMeterProvider(m.MeterProvider()),
	)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(traced,
			httpmiddleware.Recovery(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.RequestID(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", httpmiddleware.HeaderRequestID},
				ExposeHeaders:    []string{httpmiddleware.HeaderRequestID, "Retry-After"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
