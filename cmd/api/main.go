package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/hanko-field/clinic-commerce/internal/di"
	"github.com/hanko-field/clinic-commerce/internal/handlers"
	"github.com/hanko-field/clinic-commerce/internal/payments"
	"github.com/hanko-field/clinic-commerce/internal/platform/auth"
	"github.com/hanko-field/clinic-commerce/internal/platform/config"
	pfirestore "github.com/hanko-field/clinic-commerce/internal/platform/firestore"
	"github.com/hanko-field/clinic-commerce/internal/platform/idempotency"
	"github.com/hanko-field/clinic-commerce/internal/platform/messaging"
	"github.com/hanko-field/clinic-commerce/internal/platform/observability"
	"github.com/hanko-field/clinic-commerce/internal/platform/secrets"
	"github.com/hanko-field/clinic-commerce/internal/repositories"
	firestoreRepo "github.com/hanko-field/clinic-commerce/internal/repositories/firestore"
	"github.com/hanko-field/clinic-commerce/internal/repositories/memory"
	"github.com/hanko-field/clinic-commerce/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	envValues, err := config.EnvironmentValues()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	baseLogger := observability.NewLogger(
		observability.WithLevel(envValues["API_LOG_LEVEL"]),
		observability.WithService("clinic-commerce-api", buildVersion(envValues)),
	)
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

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(resolver.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	var closers []func(context.Context) error

	var redisClient *redis.Client
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, func(context.Context) error { return redisClient.Close() })
	}

	checks := dependencyChecks(redisClient, resolver)

	var (
		registry          repositories.Registry
		healthRepo        repositories.HealthRepository
		firestoreProvider *pfirestore.Provider
	)
	switch cfg.Store.Backend {
	case "memory":
		logger.Warn("store: using in-memory ledgers; data is lost on restart")
		registry = memory.NewStore()
		if len(checks) > 0 {
			memoryChecks := append([]repositories.DependencyCheck{{
				Name:  "memory",
				Check: func(context.Context) error { return nil },
			}}, checks...)
			healthRepo, err = repositories.NewDependencyHealthRepository(memoryChecks)
			if err != nil {
				logger.Fatal("failed to initialise health repository", zap.Error(err))
			}
		}
	default:
		firestoreProvider = pfirestore.NewProvider(cfg.Firestore)
		fsRegistry, err := firestoreRepo.NewRegistry(firestoreProvider, checks...)
		if err != nil {
			logger.Fatal("failed to initialise firestore registry", zap.Error(err))
		}
		registry = fsRegistry
	}

	idempotencyStore, err := newIdempotencyStore(ctx, redisClient, firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise idempotency store", zap.Error(err))
	}
	idempotencyGuard := idempotency.NewGuard(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
	)

	notifier, notifierClose, err := newNotifier(ctx, cfg, logger.Named("messaging"))
	if err != nil {
		logger.Fatal("failed to initialise notifier", zap.Error(err))
	}
	if notifierClose != nil {
		closers = append(closers, notifierClose)
	}

	checkout, err := newCheckoutGateway(cfg, logger.Named("payments"))
	if err != nil {
		logger.Fatal("failed to initialise checkout gateway", zap.Error(err))
	}
	redirect, err := newRedirectGateway(cfg)
	if err != nil {
		logger.Fatal("failed to initialise redirect gateway", zap.Error(err))
	}

	deps := di.Deps{
		Notifier: notifier,
		Meter:    otel.Meter("github.com/hanko-field/clinic-commerce/internal/services"),
		Logger:   logger.Named("services"),
		Build:    buildInfo,
		Health:   healthRepo,
		Clock:    time.Now,
	}
	if checkout != nil {
		deps.Checkout = checkout
	}
	if redirect != nil {
		deps.Redirect = redirect
	}
	container, err := di.NewContainer(ctx, cfg, registry, deps)
	if err != nil {
		logger.Fatal("failed to initialise service container", zap.Error(err))
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier, auth.WithLogger(logger.Named("auth")))

	workerCtx, workerCancel := context.WithCancel(context.Background())
	var workers sync.WaitGroup
	if cfg.Idempotency.CleanupInterval > 0 {
		workers.Add(1)
		go func() {
			defer workers.Done()
			runIdempotencyCleanup(workerCtx, logger.Named("idempotency"), idempotencyStore, cfg.Idempotency)
		}()
	}
	if cfg.Promotions.SweepInterval > 0 {
		workers.Add(1)
		go func() {
			defer workers.Done()
			runPromotionSweep(workerCtx, logger.Named("promotions"), container.Services.Promotions, cfg.Promotions.SweepInterval)
		}()
	}

	svc := container.Services
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders,
		handlers.WithPlaceOrderGuard(idempotencyGuard.Require("orders.create")))
	bookingHandlers := handlers.NewBookingHandlers(authenticator, svc.Bookings,
		handlers.WithCreateBookingGuard(idempotencyGuard.Require("bookings.create")))
	authLimit := handlers.RateLimitPerMinute(cfg.RateLimits.AuthenticatedPerMinute, time.Now)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
		handlers.RateLimitPerMinute(cfg.RateLimits.DefaultPerMinute, time.Now),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(withRouteMiddleware(authLimit, orderHandlers.Routes)),
		handlers.WithPaymentRoutes(handlers.NewPaymentHandlers(svc.Orders).Routes),
		handlers.WithDoctorRoutes(handlers.NewDoctorHandlers(svc.Slots).Routes),
		handlers.WithBookingRoutes(withRouteMiddleware(authLimit, bookingHandlers.Routes)),
		handlers.WithAdminRoutes(handlers.NewAdminCatalogHandlers(authenticator, svc.Catalog, svc.Orders).Routes),
		handlers.WithWebhookRoutes(handlers.NewWebhookHandlers(svc.Orders).Routes),
		handlers.WithWebhookMiddlewares(handlers.RateLimitPerMinute(cfg.RateLimits.WebhookPerMinute, time.Now)),
		handlers.WithInternalRoutes(handlers.NewInternalHandlers(svc.Promotions).Routes),
	}
	if serviceAuth := buildServiceTokenMiddleware(logger.Named("auth"), cfg); serviceAuth != nil {
		opts = append(opts, handlers.WithInternalMiddlewares(serviceAuth))
	}

	router := handlers.NewRouter(opts...)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("clinic-commerce api listening", zap.String("store", cfg.Store.Backend), zap.String("messaging", cfg.Messaging.Backend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	workerCancel()
	workers.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("repository close error", zap.Error(err))
	}
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](shutdownCtx); err != nil {
			logger.Warn("dependency close error", zap.Error(err))
		}
	}
}

func withRouteMiddleware(mw func(http.Handler) http.Handler, register handlers.RouteRegistrar) handlers.RouteRegistrar {
	return func(r chi.Router) {
		r.Use(mw)
		register(r)
	}
}

func buildVersion(env map[string]string) string {
	if version := strings.TrimSpace(env["API_BUILD_VERSION"]); version != "" {
		return version
	}
	return "dev"
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := buildVersion(env)
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

// dependencyChecks returns the readiness probes for infrastructure outside the ledger store.
func dependencyChecks(redisClient *redis.Client, resolver *secrets.Resolver) []repositories.DependencyCheck {
	checks := make([]repositories.DependencyCheck, 0, 2)
	if redisClient != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "redis",
			Timeout: 500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		})
	}
	if resolver != nil {
		const secretHealthReference = "secret://system/healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := resolver.Resolve(ctx, secretHealthReference)
				if err == nil || errors.Is(err, secrets.ErrNotFound) {
					return nil
				}
				return err
			},
		})
	}
	return checks
}

func newIdempotencyStore(ctx context.Context, redisClient *redis.Client, provider *pfirestore.Provider) (idempotency.Store, error) {
	switch {
	case redisClient != nil:
		return idempotency.NewRedisStore(redisClient, idempotency.WithKeyPrefix("clinic-commerce:idem:")), nil
	case provider != nil:
		client, err := provider.Client(ctx)
		if err != nil {
			return nil, err
		}
		return idempotency.NewFirestoreStore(client), nil
	default:
		return idempotency.NewMemoryStore(), nil
	}
}

func newNotifier(ctx context.Context, cfg config.Config, logger *zap.Logger) (services.Notifier, func(context.Context) error, error) {
	switch cfg.Messaging.Backend {
	case "pubsub":
		projectID := traceProjectID(cfg)
		if projectID == "" {
			return nil, nil, errors.New("messaging: pubsub requires a project id")
		}
		client, err := pubsub.NewClient(ctx, projectID)
		if err != nil {
			return nil, nil, fmt.Errorf("messaging: pubsub client: %w", err)
		}
		topic := client.Topic(cfg.Messaging.Topic)
		notifier, err := messaging.NewPubSubNotifier(topic)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return notifier, func(context.Context) error {
			topic.Stop()
			return client.Close()
		}, nil
	case "kafka":
		notifier, err := messaging.NewKafkaNotifier(cfg.Messaging.Brokers, cfg.Messaging.Topic, cfg.Messaging.Buffer, messaging.WithKafkaLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return notifier, notifier.Close, nil
	case "", "log":
		return messaging.NewLogNotifier(logger), nil, nil
	default:
		return nil, nil, fmt.Errorf("messaging: unknown backend %q", cfg.Messaging.Backend)
	}
}

func newCheckoutGateway(cfg config.Config, logger *zap.Logger) (*payments.Manager, error) {
	if strings.TrimSpace(cfg.PSP.StripeAPIKey) == "" {
		logger.Warn("payments: stripe api key not configured; hosted checkout is disabled")
		return nil, nil
	}
	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey:        cfg.PSP.StripeAPIKey,
		AccountID:     cfg.PSP.StripeAccountID,
		WebhookSecret: cfg.PSP.StripeWebhookSecret,
		Logger: func(_ context.Context, event string, fields map[string]any) {
			zFields := make([]zap.Field, 0, len(fields)+1)
			zFields = append(zFields, zap.String("event", event))
			for k, v := range fields {
				zFields = append(zFields, zap.Any(k, v))
			}
			logger.Debug("stripe log", zFields...)
		},
		Clock: time.Now,
	})
	if err != nil {
		return nil, err
	}
	return payments.NewManager(map[string]payments.Provider{
		"stripe": stripeProvider,
	}, payments.WithDefaultProvider("stripe"))
}

func newRedirectGateway(cfg config.Config) (*payments.RedirectGateway, error) {
	if strings.TrimSpace(cfg.PSP.RedirectBaseURL) == "" {
		return nil, nil
	}
	return payments.NewRedirectGateway(payments.RedirectGatewayConfig{
		BaseURL:    cfg.PSP.RedirectBaseURL,
		SigningKey: []byte(cfg.PSP.RedirectSigningKey),
		TokenTTL:   cfg.PSP.RedirectTokenTTL,
		Clock:      time.Now,
	})
}

func runIdempotencyCleanup(ctx context.Context, logger *zap.Logger, store idempotency.Store, cfg config.IdempotencyConfig) {
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			removed, err := store.PurgeExpired(runCtx, time.Now().UTC(), cfg.CleanupBatchSize)
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

func runPromotionSweep(ctx context.Context, logger *zap.Logger, ledger services.PromotionLedger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			result, err := ledger.Sweep(runCtx, time.Now().UTC())
			cancel()
			if err != nil {
				logger.Error("promotion sweep error", zap.Error(err))
				continue
			}
			if len(result.Deactivated) > 0 {
				logger.Info("promotion sweep deactivated promotions",
					zap.Int("checked", result.Checked),
					zap.Strings("promotionIds", result.Deactivated),
				)
			}
		case <-ctx.Done():
			return
		}
	}
}

// buildServiceTokenMiddleware guards the internal routes (promotion sweep) with Google-signed
// service tokens. Verification outcomes are exported through the global otel meter.
func buildServiceTokenMiddleware(logger *zap.Logger, cfg config.Config) func(http.Handler) http.Handler {
	oidc := cfg.Security.OIDC
	if strings.TrimSpace(oidc.JWKSURL) == "" {
		return nil
	}
	if strings.TrimSpace(oidc.Audience) == "" {
		logger.Warn("auth: service token audience not configured; internal routes will reject requests")
	}
	if len(oidc.Issuers) == 0 {
		logger.Warn("auth: service token issuers not configured; internal routes will reject requests")
	}

	keys := auth.NewKeySet(oidc.JWKSURL, auth.WithKeySetLogger(logger))
	verifier := auth.NewServiceTokenVerifier(keys, oidc.Audience, oidc.Issuers,
		auth.WithServiceTokenLogger(logger),
		auth.WithServiceTokenMeter(otel.Meter("github.com/hanko-field/clinic-commerce/internal/platform/auth")),
	)
	return verifier.Require()
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretResolver(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Resolver, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		if value, ok := env[key]; ok {
			return strings.TrimSpace(value)
		}
		return ""
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	projectMap := parseKeyValueList(lookup("API_SECRET_PROJECT_IDS"))
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	versionPins := secretVersionPinsFromEnv(env)
	credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE")

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if len(projectMap) > 0 {
		opts = append(opts, secrets.WithProjectMap(projectMap))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if len(versionPins) > 0 {
		opts = append(opts, secrets.WithVersionPins(versionPins))
	}
	if credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewResolver(ctx, opts...)
}

// requiredSecretNames lists the secrets that must resolve for the payment adapters that are
// switched on by the environment.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	if env == nil {
		return required
	}
	if strings.TrimSpace(env["API_PSP_STRIPE_API_KEY"]) != "" {
		required = append(required, "PSP.StripeAPIKey", "PSP.StripeWebhookSecret")
	}
	if strings.TrimSpace(env["API_PSP_REDIRECT_BASE_URL"]) != "" {
		required = append(required, "PSP.RedirectSigningKey")
	}
	if strings.TrimSpace(env["API_REDIS_PASSWORD"]) != "" {
		required = append(required, "Redis.Password")
	}
	return uniqueStrings(required)
}

func secretVersionPinsFromEnv(env map[string]string) map[string]string {
	raw := ""
	if env != nil {
		raw = env["API_SECRET_VERSION_PINS"]
	}
	pins := make(map[string]string)
	for ref, version := range parseKeyValueList(raw) {
		var prefix string
		if idx := strings.Index(ref, ":"); idx > 0 {
			schemeSplit := strings.Index(ref, "://")
			if schemeSplit == -1 || idx < schemeSplit {
				prefix = strings.ToLower(strings.TrimSpace(ref[:idx])) + ":"
				ref = strings.TrimSpace(ref[idx+1:])
			}
		}
		if strings.HasPrefix(ref, "sm://") {
			ref = "secret://" + strings.TrimPrefix(ref, "sm://")
		} else if !strings.HasPrefix(ref, "secret://") {
			ref = "secret://" + ref
		}
		pins[prefix+ref] = version
	}
	return pins
}

func parseKeyValueList(raw string) map[string]string {
	result := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return result
	}
	entries := strings.Split(raw, ",")
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		result[key] = value
	}
	return result
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}
