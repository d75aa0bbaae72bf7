package bulk

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/cekresi/internal/courier"
)

// Default run configuration.
const (
	// DefaultBatchSize is the number of lookups dispatched concurrently.
	DefaultBatchSize = 3
	// MaxBatchSize caps WithBatchSize.
	MaxBatchSize = 100
	// DefaultDelay is the pause between two batches.
	DefaultDelay = time.Second
	// DefaultMaxItems bounds a single submission.
	DefaultMaxItems = 100
)

type settings struct {
	batchSize     int
	delay         time.Duration
	lookupTimeout time.Duration
	maxItems      int
	logger        zerolog.Logger
	inferrer      *courier.Inferrer
}

func defaultSettings() settings {
	return settings{
		batchSize: DefaultBatchSize,
		delay:     DefaultDelay,
		maxItems:  DefaultMaxItems,
		logger:    zerolog.Nop(),
	}
}

// Option customises a Processor.
type Option func(*settings)

// WithBatchSize sets how many lookups run concurrently per batch. Values below
// one fall back to DefaultBatchSize; values above MaxBatchSize are capped.
func WithBatchSize(n int) Option {
	return func(s *settings) {
		switch {
		case n < 1:
			s.batchSize = DefaultBatchSize
		case n > MaxBatchSize:
			s.batchSize = MaxBatchSize
		default:
			s.batchSize = n
		}
	}
}

// WithDelay sets the pause between batches. Zero disables it.
func WithDelay(d time.Duration) Option {
	return func(s *settings) {
		if d < 0 {
			d = 0
		}
		s.delay = d
	}
}

// WithLookupTimeout bounds every lookup. A lookup that exceeds it settles as a
// transport failure. Zero means no timeout.
func WithLookupTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d < 0 {
			d = 0
		}
		s.lookupTimeout = d
	}
}

// WithMaxItems bounds the number of tracking numbers accepted by Submit.
func WithMaxItems(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxItems = n
		}
	}
}

// WithLogger sets the logger used for run and lookup events.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *settings) {
		s.logger = logger.With().Str("component", "bulk").Logger()
	}
}

// WithInferrer replaces the default carrier inference rules.
func WithInferrer(in *courier.Inferrer) Option {
	return func(s *settings) {
		s.inferrer = in
	}
}

// WithCourier forces every lookup to use the given carrier instead of
// inferring one per tracking number.
func WithCourier(code courier.Code) Option {
	return WithInferrer(courier.NewInferrer(nil, code))
}
