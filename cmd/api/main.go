package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/hanko-field/commerce/internal/di"
	"github.com/hanko-field/commerce/internal/handlers"
	"github.com/hanko-field/commerce/internal/platform/auth"
	"github.com/hanko-field/commerce/internal/platform/config"
	"github.com/hanko-field/commerce/internal/platform/events"
	pfirestore "github.com/hanko-field/commerce/internal/platform/firestore"
	"github.com/hanko-field/commerce/internal/platform/idempotency"
	"github.com/hanko-field/commerce/internal/platform/observability"
	"github.com/hanko-field/commerce/internal/platform/secrets"
	"github.com/hanko-field/commerce/internal/platform/sqldb"
	"github.com/hanko-field/commerce/internal/repositories"
	firestoreRepo "github.com/hanko-field/commerce/internal/repositories/firestore"
	"github.com/hanko-field/commerce/internal/repositories/memory"
	mysqlRepo "github.com/hanko-field/commerce/internal/repositories/mysql"
	"github.com/hanko-field/commerce/internal/services"
)

const meterName = "github.com/hanko-field/commerce"

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	baseLogger, err := observability.NewLogger(envValues["API_LOG_LEVEL"])
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	resolver, err := newSecretResolver(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret resolver", zap.Error(err))
	}
	defer func() {
		if err := resolver.Close(); err != nil {
			logger.Warn("secret resolver close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(resolver))
	if err != nil {
		var validation *config.ValidationError
		if errors.As(err, &validation) {
			logger.Fatal("invalid configuration", zap.Strings("fields", validation.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	var firestoreProvider *pfirestore.Provider
	if cfg.Store.Backend == config.StoreBackendFirestore || cfg.Idempotency.Backend == config.IdempotencyBackendFirestore {
		firestoreProvider = pfirestore.NewProvider(cfg.Firestore)
	}

	var redisClient *redis.Client
	if cfg.Idempotency.Backend == config.IdempotencyBackendRedis {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	publisher, eventCheck, closePublisher, err := newEventPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise order event publisher", zap.Error(err))
	}

	var extraChecks []repositories.DependencyCheck
	if eventCheck != nil {
		extraChecks = append(extraChecks, *eventCheck)
	}
	if redisClient != nil {
		extraChecks = append(extraChecks, repositories.DependencyCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		})
	}

	registry, err := openRegistry(ctx, cfg, firestoreProvider, extraChecks)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.String("backend", cfg.Store.Backend), zap.Error(err))
	}

	container, err := di.NewContainer(registry, di.Options{
		Events: publisher,
		Logger: logger.Named("services"),
		Meter:  otel.GetMeterProvider().Meter(meterName),
		Clock:  time.Now,
		Build:  buildInfoFromEnv(envValues, cfg, startedAt),
	})
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}
	container.OnClose(closePublisher)
	if firestoreProvider != nil && cfg.Store.Backend != config.StoreBackendFirestore {
		container.OnClose(firestoreProvider.Close)
	}
	if redisClient != nil {
		container.OnClose(func(context.Context) error { return redisClient.Close() })
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	idempotencyStore, err := newIdempotencyStore(ctx, cfg, firestoreProvider, redisClient)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			runIdempotencyCleanup(cleanupCtx, idempotencyStore, cfg.Idempotency, logger.Named("idempotency"))
		}()
	}

	var authenticator *auth.Authenticator
	if cfg.Firebase.ProjectID != "" {
		verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
		if err != nil {
			logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
		}
		authenticator = auth.NewAuthenticator(verifier)
	} else {
		logger.Warn("firebase project not configured; customer routes will reject every request")
		authenticator = auth.NewAuthenticator(nil)
	}

	svc := container.Services
	cartHandlers := handlers.NewCartHandlers(authenticator, svc.Carts)
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders)
	voucherHandlers := handlers.NewVoucherHandlers(authenticator, svc.Vouchers)
	addressHandlers := handlers.NewAddressHandlers(authenticator, svc.Addresses)
	internalHandlers := handlers.NewInternalHandlers(
		handlers.WithInternalInventory(svc.Inventory),
		handlers.WithInternalVouchers(svc.Vouchers),
		handlers.WithIdempotencyCleaner(idempotencyStore),
	)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfoFromEnv(envValues, cfg, startedAt)),
		handlers.WithHealthSystemService(svc.System),
	)

	projectID := traceProjectID(cfg)
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithCartRoutes(cartHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithVoucherRoutes(voucherHandlers.Routes),
		handlers.WithAddressRoutes(addressHandlers.Routes),
		handlers.WithInternalRoutes(internalHandlers.Routes),
		handlers.WithMutationMiddlewares(idempotencyMiddleware),
		handlers.WithInternalMiddlewares(buildOIDCMiddleware(logger.Named("auth"), cfg)),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr), zap.String("backend", cfg.Store.Backend))
	go func() {
		serverLogger.Info("commerce api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func openRegistry(ctx context.Context, cfg config.Config, provider *pfirestore.Provider, extraChecks []repositories.DependencyCheck) (repositories.Registry, error) {
	switch cfg.Store.Backend {
	case config.StoreBackendFirestore:
		return firestoreRepo.NewRegistry(provider, extraChecks...)
	case config.StoreBackendMySQL:
		db, err := sqldb.Open(ctx, cfg.MySQL)
		if err != nil {
			return nil, err
		}
		if err := mysqlRepo.EnsureSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		return mysqlRepo.NewRegistry(db, extraChecks...)
	default:
		return memory.NewRegistry(extraChecks...)
	}
}

// newEventPublisher returns a nil publisher when events are disabled.
func newEventPublisher(ctx context.Context, cfg config.Config) (services.OrderEventPublisher, *repositories.DependencyCheck, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	switch cfg.Events.Backend {
	case config.EventsBackendPubSub:
		client, err := pubsub.NewClient(ctx, cfg.Events.PubSub.ProjectID)
		if err != nil {
			return nil, nil, noop, fmt.Errorf("pubsub client: %w", err)
		}
		topic := client.Topic(cfg.Events.PubSub.OrderTopic)
		topic.EnableMessageOrdering = true
		publisher, err := events.NewPubSubPublisher(topic)
		if err != nil {
			_ = client.Close()
			return nil, nil, noop, err
		}
		check := &repositories.DependencyCheck{
			Name: "pubsub",
			Check: func(ctx context.Context) error {
				exists, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !exists {
					return fmt.Errorf("topic %s not found", topic.ID())
				}
				return nil
			},
		}
		closeFn := func(context.Context) error {
			return errors.Join(publisher.Close(), client.Close())
		}
		return publisher, check, closeFn, nil

	case config.EventsBackendKafka:
		writer, err := events.NewKafkaWriter(events.KafkaConfig{
			Brokers: cfg.Events.Kafka.Brokers,
			Topic:   cfg.Events.Kafka.OrderTopic,
		})
		if err != nil {
			return nil, nil, noop, err
		}
		publisher, err := events.NewKafkaPublisher(writer)
		if err != nil {
			return nil, nil, noop, err
		}
		brokers := cfg.Events.Kafka.Brokers
		check := &repositories.DependencyCheck{
			Name: "kafka",
			Check: func(ctx context.Context) error {
				conn, err := kafka.DialContext(ctx, "tcp", hostPort(strings.TrimSpace(brokers[0])))
				if err != nil {
					return err
				}
				return conn.Close()
			},
		}
		return publisher, check, func(context.Context) error { return publisher.Close() }, nil

	default:
		return nil, nil, noop, nil
	}
}

func newIdempotencyStore(ctx context.Context, cfg config.Config, provider *pfirestore.Provider, redisClient *redis.Client) (idempotency.Store, error) {
	switch cfg.Idempotency.Backend {
	case config.IdempotencyBackendFirestore:
		client, err := provider.Client(ctx)
		if err != nil {
			return nil, err
		}
		store, err := idempotency.NewFirestoreStore(client)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.IdempotencyBackendRedis:
		store, err := idempotency.NewRedisStore(redisClient)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return idempotency.NewMemoryStore(), nil
	}
}

func runIdempotencyCleanup(ctx context.Context, cleaner handlers.IdempotencyCleaner, cfg config.IdempotencyConfig, logger *zap.Logger) {
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			removed, err := cleaner.Purge(runCtx, time.Now().UTC(), cfg.CleanupBatchSize)
			cancel()
			if err != nil {
				logger.Error("idempotency cleanup error", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("idempotency cleanup removed records", zap.Int("count", removed))
			}
		case <-ctx.Done():
			return
		}
	}
}

func buildOIDCMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	recorder, err := auth.NewOTelVerificationRecorder(otel.GetMeterProvider().Meter(meterName))
	if err != nil {
		logger.Warn("auth: oidc metrics unavailable", zap.Error(err))
	}
	cache := auth.NewJWKSCache(cfg.Security.OIDC.JWKSURL, auth.WithJWKSLogger(logger))
	validator := auth.NewOIDCValidator(cache,
		auth.WithOIDCLogger(logger),
		auth.WithOIDCRecorder(recorder),
	)

	if strings.TrimSpace(cfg.Security.OIDC.Audience) == "" {
		logger.Warn("auth: OIDC audience not configured; internal routes will reject requests")
	}
	return validator.RequireOIDC(cfg.Security.OIDC.Audience, cfg.Security.OIDC.Issuers)
}

func newSecretResolver(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Resolver, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	project := lookup("API_SECRET_PROJECT_ID")
	if project == "" {
		project = lookup("API_FIREBASE_PROJECT_ID")
	}
	opts := []secrets.Option{
		secrets.WithProject(project),
		secrets.WithLogger(logger.Named("secrets")),
	}
	if path := lookup("API_SECRET_FALLBACK_FILE"); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	if raw := lookup("API_SECRET_CACHE_TTL"); raw != "" {
		ttl, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("parse API_SECRET_CACHE_TTL: %w", err)
		}
		opts = append(opts, secrets.WithCacheTTL(ttl))
	}

	var clientOpts []option.ClientOption
	if credentials := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentials != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(credentials))
	}
	return secrets.NewResolver(ctx, opts, clientOpts...)
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Security.Environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

// hostPort appends the default Kafka port to brokers configured without one.
func hostPort(broker string) string {
	if _, _, err := net.SplitHostPort(broker); err == nil {
		return broker
	}
	return net.JoinHostPort(broker, "9092")
}
