package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/noah-isme/cekresi/internal/app"
	"github.com/noah-isme/cekresi/internal/bulk"
	"github.com/noah-isme/cekresi/internal/config"
	"github.com/noah-isme/cekresi/internal/health"
	"github.com/noah-isme/cekresi/internal/input"
	"github.com/noah-isme/cekresi/internal/lock"
	"github.com/noah-isme/cekresi/internal/obs"
	"github.com/noah-isme/cekresi/internal/ratelimit"
	"github.com/noah-isme/cekresi/internal/resilience"
	"github.com/noah-isme/cekresi/internal/security"
	"github.com/noah-isme/cekresi/internal/shipping"
	"github.com/noah-isme/cekresi/internal/tracking"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := &app.Dependencies{
		Context:           ctx,
		Validator:         tracking.NewValidator(),
		MetricsRegisterer: prometheus.DefaultRegisterer,
		Logger:            &logger,
	}

	if cfg.Obs.EnablePrometheus {
		obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, deps.MetricsRegisterer)
	}

	tracingEnabled := cfg.Obs.EnableTracing
	if tracingEnabled {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   cfg.Obs.ServiceName,
			Endpoint:      cfg.Obs.OTLPEndpoint,
			Exporter:      cfg.Obs.TracingExporter,
			SamplingRatio: cfg.Obs.TracingSamplingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Error().Err(err).Msg("initialise tracing")
			tracingEnabled = false
		} else {
			deps.TracerProvider = otel.GetTracerProvider()
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					logger.Error().Err(err).Msg("shutdown tracer")
				}
			}()
		}
	}

	if cfg.RedisURL != "" {
		redisClient, err := connectRedis(ctx, cfg, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect redis")
		}
		deps.Redis = redisClient
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}()
	} else {
		logger.Warn().Msg("REDIS_URL not set; result cache and shared quotas disabled")
	}

	store, err := app.NewLimiterStore(deps.Redis, "cekresi:limiter")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise limiter store")
	}
	deps.LimiterStore = store
	deps.Limiter, err = app.NewLimiter(store, cfg.Rate.TrackLimit)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise lookup limiter")
	}

	provider := buildProvider(cfg, deps.Redis, logger)

	registry := tracking.NewRegistry(tracking.RegistryConfig{
		Provider: provider,
		Options: []bulk.Option{
			bulk.WithBatchSize(cfg.Bulk.BatchSize),
			bulk.WithDelay(cfg.Bulk.Delay),
			bulk.WithLookupTimeout(cfg.Bulk.LookupTimeout),
			bulk.WithMaxItems(cfg.Bulk.MaxItems),
		},
		TTL:       cfg.Bulk.JobTTL,
		MaxActive: cfg.Bulk.MaxActiveJobs,
		Logger:    &logger,
	})
	trackingHandler := tracking.NewHandler(tracking.HandlerConfig{
		Registry:      registry,
		Provider:      provider,
		Validator:     deps.Validator,
		Rules:         input.Rules{MinLength: cfg.Bulk.MinLength, MaxItems: cfg.Bulk.MaxItems},
		LookupTimeout: cfg.Bulk.LookupTimeout,
		Logger:        &logger,
	})

	var submitLimit func(http.Handler) http.Handler
	if deps.Redis != nil {
		submitLimit = ratelimit.Handler{
			Limiter: ratelimit.Limiter{Client: deps.Redis, Prefix: "cekresi:rl:"},
			Config: ratelimit.Config{
				Key:     ratelimit.ByClientIP("bulk_submit"),
				Window:  cfg.Rate.BulkSubmitWindow,
				Max:     cfg.Rate.BulkSubmitMax,
				Message: "too many bulk submissions, try again later",
			},
			OnError: func(err error) {
				logger.Error().Err(err).Msg("bulk submit limiter failed")
			},
		}.Middleware
	}

	var httpMetrics *obs.HTTPMetrics
	if cfg.Obs.EnablePrometheus {
		httpMetrics = obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, obs.ParseBucketsCSV(cfg.Obs.MetricsBucketsCSV), deps.MetricsRegisterer)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if tracingEnabled {
		r.Use(obs.TracingMiddleware)
	}
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics, Skip: obs.SkipProbes}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins(cfg),
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"Location", "X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		MaxAge:         300,
	}))
	r.Use(security.Headers{Enable: true, NoStore: true, EnableHSTS: cfg.AppEnv == "production"}.Middleware)
	r.Use(security.BodyLimit{Max: cfg.BodyLimitBytes}.Middleware)

	if cfg.Obs.EnablePrometheus {
		r.Handle("/metrics", promhttp.Handler())
	}
	if envBool("OBS_ENABLE_PPROF", false) {
		user := envOrDefault("SECURE_PPROF_BASIC_AUTH_USER", "")
		pass := envOrDefault("SECURE_PPROF_BASIC_AUTH_PASS", "")
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), user, pass))
	}

	healthHandler := health.Handler{RedisTimeout: 300 * time.Millisecond}
	if deps.Redis != nil {
		healthHandler.Checker = health.RedisChecker{Client: deps.Redis}
	}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		trackingHandler.Routes(v, submitLimit, deps.LookupLimit())
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("provider", cfg.TrackingProvider).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case <-ctx.Done():
	}

	health.SetReady(false)
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
	if err := registry.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("bulk jobs did not finish before shutdown deadline")
	}
}

func connectRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if cfg.Obs.EnablePrometheus {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// buildProvider assembles upstream, then the shared quota, then the cache. The
// quota and cache layers need Redis.
func buildProvider(cfg *config.Config, rdb *redis.Client, logger zerolog.Logger) shipping.Provider {
	var provider shipping.Provider
	switch cfg.TrackingProvider {
	case config.ProviderRajaOngkir:
		breaker := resilience.NewBreaker(cfg.Circuit.MinRequests, cfg.Circuit.FailureRatio, cfg.Circuit.OpenFor).
			WithTarget("rajaongkir").
			WithLogger(logger)
		provider = shipping.RajaOngkir{
			APIKey:  cfg.RajaOngkirAPIKey,
			BaseURL: cfg.RajaOngkirBaseURL,
			HTTP: resilience.HTTPClient{
				Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
				Breaker:     breaker,
				BaseBackoff: cfg.Retry.Base,
				MaxAttempts: cfg.Retry.MaxAttempts,
				Jitter:      cfg.Retry.Jitter,
				Timeout:     cfg.Outbound.Timeout,
				Target:      "rajaongkir",
				Logger:      &logger,
			},
		}
	default:
		provider = shipping.Mock{}
	}

	if rdb == nil {
		return provider
	}
	provider = shipping.Limited{
		Next:   provider,
		Quota:  ratelimit.Limiter{Client: rdb, Prefix: "cekresi:quota:"},
		Key:    "upstream:" + cfg.TrackingProvider,
		Window: cfg.Rate.UpstreamWindow,
		Max:    cfg.Rate.UpstreamMax,
	}
	return shipping.Cached{
		Next:        provider,
		R:           rdb,
		Prefix:      "cekresi:track",
		TTL:         cfg.Cache.TTL,
		NotFoundTTL: cfg.Cache.NotFoundTTL,
		Lock:        lock.Locker{R: rdb, RetryBackoff: 25 * time.Millisecond},
		LockTTL:     cfg.Bulk.LookupTimeout,
		Logger:      &logger,
	}
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(strings.TrimSpace(val)) {
		case "1", "t", "true", "yes", "on":
			return true
		case "0", "f", "false", "no", "off":
			return false
		}
	}
	return fallback
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
