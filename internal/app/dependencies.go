package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	validator "github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/cekresi/internal/common"
)

// Dependencies enumerates the services shared by the HTTP server.
type Dependencies struct {
	Context           context.Context
	Redis             *redis.Client
	Validator         *validator.Validate
	Limiter           *limiter.Limiter
	LimiterStore      limiter.Store
	MetricsRegisterer prometheus.Registerer
	TracerProvider    trace.TracerProvider
	Logger            *zerolog.Logger
}

// NewLimiterStore returns a Redis backed limiter store, or an in-process one
// when rdb is nil.
func NewLimiterStore(rdb *redis.Client, prefix string) (limiter.Store, error) {
	if prefix == "" {
		prefix = "cekresi:limiter"
	}
	if rdb == nil {
		return memory.NewStoreWithOptions(limiter.StoreOptions{Prefix: prefix}), nil
	}
	return limiterredis.NewStoreWithOptions(rdb, limiter.StoreOptions{Prefix: prefix})
}

// NewLimiter builds a limiter from a "<limit>-<period>" rate such as "60-M".
func NewLimiter(store limiter.Store, formatted string) (*limiter.Limiter, error) {
	rate, err := limiter.NewRateFromFormatted(strings.TrimSpace(formatted))
	if err != nil {
		return nil, fmt.Errorf("parse rate %q: %w", formatted, err)
	}
	return limiter.New(store, rate), nil
}

// LookupLimit returns middleware applying d.Limiter per client IP. It returns
// nil when no limiter is configured.
func (d Dependencies) LookupLimit() func(http.Handler) http.Handler {
	if d.Limiter == nil {
		return nil
	}
	logger := zerolog.Nop()
	if d.Logger != nil {
		logger = *d.Logger
	}
	mw := stdlib.NewMiddleware(d.Limiter,
		stdlib.WithKeyGetter(func(r *http.Request) string {
			return "track:" + common.ClientIP(r)
		}),
		stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, _ *http.Request) {
			common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
		}),
		stdlib.WithErrorHandler(func(w http.ResponseWriter, _ *http.Request, err error) {
			logger.Error().Err(err).Msg("lookup limiter failed")
			common.JSONError(w, http.StatusServiceUnavailable, "RATE_LIMIT_UNAVAILABLE", "rate limiter unavailable", nil)
		}),
	)
	return mw.Handler
}
